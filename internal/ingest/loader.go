package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finanzas/internal/core"
	"finanzas/internal/log"
	"finanzas/internal/workbook"
)

// Loader states. FAILED is terminal and reachable from any state.
const (
	StateIdle           State = "IDLE"
	StateConnected      State = "CONNECTED"
	StateSchemaVerified State = "SCHEMA_VERIFIED"
	StateClearing       State = "CLEARING"
	StateLoading        State = "LOADING"
	StateLoaded         State = "LOADED"
	StateReporting      State = "REPORTING"
	StateDone           State = "DONE"
	StateFailed         State = "FAILED"
)

type (
	State string

	// Store is the persistence port the loader drives. Implementations
	// must make SaveGridEntry atomic: a transaction inserted without its
	// payment (or the student's last-payment update) is a defect.
	Store interface {
		Ping(ctx context.Context) error
		MissingTables(ctx context.Context) ([]string, error)
		EnsureSchema(ctx context.Context) error

		// ClearImportTargets deletes previously imported rows, children
		// before parents, and resets identity counters.
		ClearImportTargets(ctx context.Context) error
		CountImportTargets(ctx context.Context) (int64, error)

		InsertTransaction(ctx context.Context, tx core.Transaction) (int64, error)
		UpsertStudent(ctx context.Context, s core.Student) (int64, error)
		SaveGridEntry(ctx context.Context, studentID int64, tx core.Transaction, p core.MonthlyPayment) error
	}

	// LoaderConfig is per-run behavior; the business rules travel
	// separately.
	LoaderConfig struct {
		// BatchSize bounds how many rows are processed between progress
		// log lines. Rows are persisted one atomic unit at a time.
		BatchSize int

		// Budget is the wall-clock ceiling for the whole run. When it
		// elapses the run aborts and reports whatever completed.
		Budget time.Duration

		// Reload clears the import target tables before loading.
		Reload bool

		// EnsureSchema permits creating missing tables instead of
		// failing on them. The step is idempotent.
		EnsureSchema bool
	}

	// Loader drives the pipeline end to end: workbook in, report out.
	// It never terminates the process; the caller owns that decision.
	Loader struct {
		store  Store
		source workbook.Source
		rules  *Rules
		tf     *Transformer
		gate   *Gate
		logger *log.Logger
		cfg    LoaderConfig

		state State
	}
)

// ErrConnectionLost marks persistence errors that invalidate the whole
// run rather than a single row.
var ErrConnectionLost = errors.New("store connection lost")

// errPostCondition marks a verification step whose outcome contradicts
// what the preceding mutation guaranteed.
var errPostCondition = errors.New("post-condition verification failed")

func NewLoader(store Store, source workbook.Source, rules *Rules, logger *log.Logger, cfg LoaderConfig) *Loader {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 25
	}
	return &Loader{
		store:  store,
		source: source,
		rules:  rules,
		tf:     NewTransformer(rules),
		gate:   NewGate(KnownRefsFromRules(rules)),
		logger: logger.WithComponent(log.ComponentLoader),
		cfg:    cfg,
	}
}

func (l *Loader) State() State { return l.state }

func (l *Loader) setState(s State) {
	l.state = s
	l.logger.Info("loader state", log.FieldState, string(s))
}

func (l *Loader) fail(report *Report, err error) (*Report, error) {
	l.setState(StateFailed)
	return report, err
}

// Run executes the state machine. The returned report always reflects what
// completed, even when err is non-nil (partial counts on abort).
func (l *Loader) Run(ctx context.Context) (*Report, error) {
	if l.cfg.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Budget)
		defer cancel()
	}

	report := NewReport(l.rules.UnitNames())
	l.setState(StateIdle)

	// IDLE -> CONNECTED: one-shot operator tool, no retry on failure.
	if err := l.store.Ping(ctx); err != nil {
		return l.fail(report, fmt.Errorf("store unreachable: %w", err))
	}
	l.setState(StateConnected)

	// CONNECTED -> SCHEMA_VERIFIED. Also verify every required sheet is
	// present: missing configuration aborts before any mutation.
	if err := l.verifySchema(ctx); err != nil {
		return l.fail(report, err)
	}
	if err := l.verifySheets(ctx); err != nil {
		return l.fail(report, err)
	}
	l.setState(StateSchemaVerified)

	if l.cfg.Reload {
		l.setState(StateClearing)
		if err := l.clear(ctx); err != nil {
			return l.fail(report, err)
		}
	}

	l.setState(StateLoading)
	for _, schema := range l.rules.Sheets {
		if err := l.loadSheet(ctx, schema, report); err != nil {
			return l.fail(report, err)
		}
	}
	l.setState(StateLoaded)

	l.setState(StateReporting)
	l.logger.Info("run complete",
		log.FieldAccepted, report.Accepted,
		log.FieldRejected, report.Rejected)
	l.setState(StateDone)
	return report, nil
}

func (l *Loader) verifySchema(ctx context.Context) error {
	missing, err := l.store.MissingTables(ctx)
	if err != nil {
		return fmt.Errorf("verify schema: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}
	if !l.cfg.EnsureSchema {
		return fmt.Errorf("missing tables %v (run with schema creation enabled to create them)", missing)
	}
	l.logger.Info("creating missing tables", "tables", missing)
	if err := l.store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	missing, err = l.store.MissingTables(ctx)
	if err != nil {
		return fmt.Errorf("re-verify schema: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: tables %v still missing after schema creation", errPostCondition, missing)
	}
	return nil
}

func (l *Loader) verifySheets(ctx context.Context) error {
	names, err := l.source.Sheets(ctx)
	if err != nil {
		return fmt.Errorf("list workbook sheets: %w", err)
	}
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[NormalizeText(n)] = true
	}
	for _, schema := range l.rules.Sheets {
		if !present[NormalizeText(schema.Name)] && !schema.Optional {
			return fmt.Errorf("required sheet %q not found in workbook", schema.Name)
		}
	}
	return nil
}

func (l *Loader) clear(ctx context.Context) error {
	if err := l.store.ClearImportTargets(ctx); err != nil {
		return fmt.Errorf("clear import targets: %w", err)
	}
	// The clearing step must verify its own outcome; a miscount here is a
	// correctness bug, not a rejected row.
	n, err := l.store.CountImportTargets(ctx)
	if err != nil {
		return fmt.Errorf("count after clear: %w", err)
	}
	if n != 0 {
		return fmt.Errorf("%w: %d rows remain after clearing", errPostCondition, n)
	}
	return nil
}

func (l *Loader) loadSheet(ctx context.Context, schema SheetSchema, report *Report) error {
	rows, err := l.source.Rows(ctx, schema.Name)
	if err != nil {
		if schema.Optional {
			l.logger.Warn("optional sheet unavailable", log.FieldSheet, schema.Name, log.FieldError, err)
			return nil
		}
		return fmt.Errorf("read sheet %q: %w", schema.Name, err)
	}
	if len(rows) < 2 {
		l.logger.Warn("sheet has no data rows", log.FieldSheet, schema.Name)
		return nil
	}

	header := rows[0]
	data := rows[1:]
	l.logger.Info("loading sheet",
		log.FieldSheet, schema.Name,
		"rows", len(data),
		"shape", string(schema.Shape))

	for start := 0; start < len(data); start += l.cfg.BatchSize {
		end := start + l.cfg.BatchSize
		if end > len(data) {
			end = len(data)
		}
		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("run budget exhausted in sheet %q at row %d: %w", schema.Name, i+1, err)
			}
			if err := l.loadRow(ctx, schema, header, data[i], i+1, report); err != nil {
				return err
			}
		}
		l.logger.Info("batch done", log.FieldSheet, schema.Name, "processed", end, "total", len(data))
	}
	return nil
}

func (l *Loader) loadRow(ctx context.Context, schema SheetSchema, header, row []string, rowNum int, report *Report) error {
	switch schema.Shape {
	case ShapeMonthlyGrid:
		return l.loadGridRow(ctx, schema, header, row, rowNum, report)
	default:
		return l.loadFlatRow(ctx, schema, header, row, rowNum, report)
	}
}

func (l *Loader) loadFlatRow(ctx context.Context, schema SheetSchema, header, row []string, rowNum int, report *Report) error {
	res, skip := l.tf.FlatRow(schema, header, row)
	if skip {
		report.AddSkipped(schema.Name)
		return nil
	}
	for _, w := range res.Warnings {
		report.AddWarning(fmt.Sprintf("%s row %d: %s", schema.Name, rowNum, w))
	}

	if reasons := l.gate.Check(res.Transaction); len(reasons) > 0 {
		report.AddRejected(Rejection{
			Sheet:   schema.Name,
			Row:     rowNum,
			Concept: res.Transaction.Concept,
			Reasons: reasons,
		})
		return nil
	}

	if _, err := l.store.InsertTransaction(ctx, res.Transaction); err != nil {
		return l.absorbRowError(ctx, schema.Name, rowNum, res.Transaction.Concept, err, report)
	}
	report.AddAccepted(schema.Name, res.Transaction)
	return nil
}

func (l *Loader) loadGridRow(ctx context.Context, schema SheetSchema, header, row []string, rowNum int, report *Report) error {
	res, skip := l.tf.GridRow(schema, header, row)
	if skip {
		report.AddSkipped(schema.Name)
		return nil
	}
	for _, w := range res.Warnings {
		report.AddWarning(fmt.Sprintf("%s row %d: %s", schema.Name, rowNum, w))
	}
	if len(res.Entries) == 0 {
		report.AddSkipped(schema.Name)
		return nil
	}

	// Gate every synthetic entry before touching the store so a bad row
	// is rejected whole, never half-imported.
	for _, entry := range res.Entries {
		if reasons := l.gate.Check(entry.Transaction); len(reasons) > 0 {
			report.AddRejected(Rejection{
				Sheet:   schema.Name,
				Row:     rowNum,
				Concept: entry.Transaction.Concept,
				Reasons: reasons,
			})
			return nil
		}
	}

	studentID, err := l.store.UpsertStudent(ctx, res.Student)
	if err != nil {
		return l.absorbRowError(ctx, schema.Name, rowNum, res.Student.Name, err, report)
	}

	for _, entry := range res.Entries {
		entry.Payment.StudentID = studentID
		if err := entry.Payment.Validate(); err != nil {
			report.AddRejected(Rejection{
				Sheet:   schema.Name,
				Row:     rowNum,
				Concept: entry.Transaction.Concept,
				Reasons: []string{err.Error()},
			})
			continue
		}
		if err := l.store.SaveGridEntry(ctx, studentID, entry.Transaction, entry.Payment); err != nil {
			return l.absorbRowError(ctx, schema.Name, rowNum, entry.Transaction.Concept, err, report)
		}
		report.AddAccepted(schema.Name, entry.Transaction)
	}
	return nil
}

// absorbRowError counts a persistence failure as a rejection and lets the
// batch continue, unless the store itself is gone, which aborts the run.
func (l *Loader) absorbRowError(ctx context.Context, sheet string, rowNum int, concept string, err error, report *Report) error {
	if errors.Is(err, ErrConnectionLost) || ctx.Err() != nil {
		return fmt.Errorf("aborting sheet %q at row %d: %w", sheet, rowNum, err)
	}
	if pingErr := l.store.Ping(ctx); pingErr != nil {
		return fmt.Errorf("aborting sheet %q at row %d: %w: %v", sheet, rowNum, ErrConnectionLost, pingErr)
	}
	report.AddRejected(Rejection{
		Sheet:   sheet,
		Row:     rowNum,
		Concept: concept,
		Reasons: []string{err.Error()},
	})
	return nil
}
