package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"finanzas/internal/core"
	"finanzas/internal/log"
	"finanzas/internal/workbook/memory"
)

type savedEntry struct {
	StudentID int64
	Tx        core.Transaction
	Payment   core.MonthlyPayment
}

// fakeStore records every mutation so tests can assert on exactly what the
// loader persisted, and injects failures per step.
type fakeStore struct {
	mu sync.Mutex

	pingErr       error
	missingTables []string
	ensureKeeps   bool // EnsureSchema leaves tables missing
	clearLeftover int64
	insertErrs    []error // popped per InsertTransaction call
	saveErr       error

	ensured  bool
	cleared  bool
	txs      []core.Transaction
	students map[string]int64
	entries  []savedEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{students: make(map[string]int64)}
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStore) MissingTables(context.Context) ([]string, error) {
	return append([]string(nil), s.missingTables...), nil
}

func (s *fakeStore) EnsureSchema(context.Context) error {
	s.ensured = true
	if !s.ensureKeeps {
		s.missingTables = nil
	}
	return nil
}

func (s *fakeStore) ClearImportTargets(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = true
	s.txs = nil
	s.entries = nil
	s.students = make(map[string]int64)
	return nil
}

func (s *fakeStore) CountImportTargets(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clearLeftover > 0 {
		return s.clearLeftover, nil
	}
	return int64(len(s.txs) + len(s.entries)), nil
}

func (s *fakeStore) InsertTransaction(_ context.Context, tx core.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.insertErrs) > 0 {
		err := s.insertErrs[0]
		s.insertErrs = s.insertErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	s.txs = append(s.txs, tx)
	return int64(len(s.txs)), nil
}

func (s *fakeStore) UpsertStudent(_ context.Context, st core.Student) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.students[st.Name]
	if !ok {
		id = int64(len(s.students) + 1)
		s.students[st.Name] = id
	}
	return id, nil
}

func (s *fakeStore) SaveGridEntry(_ context.Context, studentID int64, tx core.Transaction, p core.MonthlyPayment) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, savedEntry{StudentID: studentID, Tx: tx, Payment: p})
	return nil
}

func testLogger() *log.Logger {
	return log.NewWithHandler("test", slog.NewTextHandler(io.Discard, nil))
}

// testBook builds a workbook holding both fixture sheets: a flat income
// sheet with one good row and one row without a date, and a monthly grid
// with one student paid for February.
func testBook() *memory.Book {
	book := memory.New()
	book.SetSheet("Ingresos Symbiot", [][]string{
		{"Fecha", "Proyecto", "Precio (MXN)", "Tipo de pago"},
		{"45000", "Website", "1000", "Transferencia"},
		{"", "Hosting", "250", "Transferencia"},
	})
	book.SetSheet("Ingresos RockstarSkull", [][]string{
		gridHeader(),
		{"Ana García", "Hugo Vázquez", "Guitarra", "Individual", "",
			"Si", "1", "Efectivo", "Activo", "0", "1500", ""},
	})
	return book
}

func newTestLoader(store Store, book *memory.Book, cfg LoaderConfig) *Loader {
	return NewLoader(store, book, testRules(), testLogger(), cfg)
}

func TestLoaderRunEndToEnd(t *testing.T) {
	store := newFakeStore()
	l := newTestLoader(store, testBook(), LoaderConfig{BatchSize: 25})

	report, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if l.State() != StateDone {
		t.Errorf("final state = %s, want %s", l.State(), StateDone)
	}

	// One flat row and one grid entry accepted, one flat row rejected.
	if report.Accepted != 2 || report.Rejected != 1 || report.Skipped != 0 {
		t.Fatalf("report: accepted=%d rejected=%d skipped=%d", report.Accepted, report.Rejected, report.Skipped)
	}
	if len(report.Rejections) != 1 {
		t.Fatalf("rejections: %v", report.Rejections)
	}
	rej := report.Rejections[0]
	if rej.Sheet != "Ingresos Symbiot" || rej.Row != 2 {
		t.Errorf("rejection placed at %s row %d", rej.Sheet, rej.Row)
	}
	if len(rej.Reasons) != 1 || rej.Reasons[0] != ReasonDateMissing {
		t.Errorf("rejection reasons = %v, want [%q]", rej.Reasons, ReasonDateMissing)
	}

	if len(store.txs) != 1 {
		t.Fatalf("flat inserts = %d, want 1", len(store.txs))
	}
	tx := store.txs[0]
	if got := tx.Date.ISO(); got != "2023-03-15" {
		t.Errorf("flat date = %s", got)
	}
	if !tx.Total().Equal(core.MustAmount("1000")) {
		t.Errorf("flat total = %s", tx.Total())
	}

	if len(store.entries) != 1 {
		t.Fatalf("grid entries = %d, want 1", len(store.entries))
	}
	e := store.entries[0]
	if e.StudentID != store.students["Ana García"] {
		t.Errorf("entry bound to student %d, students %v", e.StudentID, store.students)
	}
	if e.Payment.StudentID != e.StudentID {
		t.Errorf("payment student id %d != %d", e.Payment.StudentID, e.StudentID)
	}
	if e.Payment.Year != 2024 || e.Payment.Month != 2 {
		t.Errorf("payment period %d-%d", e.Payment.Year, e.Payment.Month)
	}
}

func TestLoaderRerunWithReloadIsIdempotent(t *testing.T) {
	store := newFakeStore()
	book := testBook()

	for i := 0; i < 2; i++ {
		l := newTestLoader(store, book, LoaderConfig{Reload: true})
		report, err := l.Run(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if report.Accepted != 2 {
			t.Fatalf("run %d accepted = %d", i, report.Accepted)
		}
	}
	if !store.cleared {
		t.Error("reload run never cleared the store")
	}
	if len(store.txs) != 1 || len(store.entries) != 1 {
		t.Errorf("second run duplicated rows: txs=%d entries=%d", len(store.txs), len(store.entries))
	}
}

func TestLoaderMissingRequiredSheetAbortsBeforeMutation(t *testing.T) {
	store := newFakeStore()
	book := memory.New()
	book.SetSheet("Ingresos Symbiot", [][]string{
		{"Fecha", "Proyecto", "Precio (MXN)", "Tipo de pago"},
		{"45000", "Website", "1000", ""},
	})
	// "Ingresos RockstarSkull" deliberately absent.

	l := newTestLoader(store, book, LoaderConfig{Reload: true})
	_, err := l.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "Ingresos RockstarSkull") {
		t.Fatalf("err = %v, want missing sheet failure", err)
	}
	if l.State() != StateFailed {
		t.Errorf("state = %s", l.State())
	}
	if store.cleared || len(store.txs) != 0 {
		t.Error("store mutated despite missing required sheet")
	}
}

func TestLoaderStoreUnreachable(t *testing.T) {
	store := newFakeStore()
	store.pingErr = errors.New("dial tcp: refused")

	l := newTestLoader(store, testBook(), LoaderConfig{})
	_, err := l.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "store unreachable") {
		t.Fatalf("err = %v", err)
	}
	if l.State() != StateFailed {
		t.Errorf("state = %s", l.State())
	}
}

func TestLoaderCreatesMissingSchema(t *testing.T) {
	store := newFakeStore()
	store.missingTables = []string{"transactions"}

	l := newTestLoader(store, testBook(), LoaderConfig{EnsureSchema: true})
	if _, err := l.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !store.ensured {
		t.Error("schema creation never invoked")
	}
}

func TestLoaderMissingSchemaWithoutEnsureFails(t *testing.T) {
	store := newFakeStore()
	store.missingTables = []string{"transactions"}

	l := newTestLoader(store, testBook(), LoaderConfig{})
	_, err := l.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "missing tables") {
		t.Fatalf("err = %v", err)
	}
	if store.ensured {
		t.Error("schema creation ran without permission")
	}
}

func TestLoaderSchemaPostConditionFailure(t *testing.T) {
	store := newFakeStore()
	store.missingTables = []string{"transactions"}
	store.ensureKeeps = true

	l := newTestLoader(store, testBook(), LoaderConfig{EnsureSchema: true})
	_, err := l.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "still missing after schema creation") {
		t.Fatalf("err = %v", err)
	}
	if l.State() != StateFailed {
		t.Errorf("state = %s", l.State())
	}
}

func TestLoaderClearPostConditionFailure(t *testing.T) {
	store := newFakeStore()
	store.clearLeftover = 7

	l := newTestLoader(store, testBook(), LoaderConfig{Reload: true})
	_, err := l.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "rows remain after clearing") {
		t.Fatalf("err = %v", err)
	}
	if l.State() != StateFailed {
		t.Errorf("state = %s", l.State())
	}
}

func TestLoaderConnectionLossAbortsWithPartialReport(t *testing.T) {
	store := newFakeStore()
	book := memory.New()
	book.SetSheet("Ingresos Symbiot", [][]string{
		{"Fecha", "Proyecto", "Precio (MXN)", "Tipo de pago"},
		{"45000", "Website", "1000", ""},
		{"45001", "Hosting", "250", ""},
	})
	book.SetSheet("Ingresos RockstarSkull", [][]string{gridHeader()})
	store.insertErrs = []error{nil, ErrConnectionLost}

	l := newTestLoader(store, book, LoaderConfig{})
	report, err := l.Run(context.Background())
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("err = %v", err)
	}
	if l.State() != StateFailed {
		t.Errorf("state = %s", l.State())
	}
	// What committed before the loss stays reported.
	if report == nil || report.Accepted != 1 {
		t.Errorf("partial report accepted = %d, want 1", report.Accepted)
	}
}

func TestLoaderRowErrorCountedAndRunContinues(t *testing.T) {
	store := newFakeStore()
	store.insertErrs = []error{errors.New("UNIQUE constraint failed")}

	l := newTestLoader(store, testBook(), LoaderConfig{})
	report, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// The good flat row fails to persist and becomes a rejection; the grid
	// entry still lands.
	if report.Accepted != 1 || report.Rejected != 2 {
		t.Errorf("accepted=%d rejected=%d", report.Accepted, report.Rejected)
	}
	found := false
	for _, rej := range report.Rejections {
		for _, r := range rej.Reasons {
			if strings.Contains(r, "UNIQUE constraint") {
				found = true
			}
		}
	}
	if !found {
		t.Errorf("persistence failure not reported: %v", report.Rejections)
	}
}

func TestLoaderBudgetExhaustion(t *testing.T) {
	store := newFakeStore()

	l := newTestLoader(store, testBook(), LoaderConfig{Budget: time.Nanosecond})
	_, err := l.Run(context.Background())
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if l.State() != StateFailed {
		t.Errorf("state = %s", l.State())
	}
}

func TestLoaderGridRowWithNoPaidMonthsIsSkipped(t *testing.T) {
	store := newFakeStore()
	book := memory.New()
	book.SetSheet("Ingresos Symbiot", [][]string{
		{"Fecha", "Proyecto", "Precio (MXN)", "Tipo de pago"},
	})
	book.SetSheet("Ingresos RockstarSkull", [][]string{
		gridHeader(),
		{"Luis Pérez", "Julio Olvera", "Batería", "Grupal", "",
			"No", "1", "Efectivo", "Activo", "", "0", ""},
	})

	l := newTestLoader(store, book, LoaderConfig{})
	report, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Skipped != 1 || report.Accepted != 0 {
		t.Errorf("skipped=%d accepted=%d", report.Skipped, report.Accepted)
	}
	if len(store.entries) != 0 {
		t.Errorf("entries persisted for an unpaid row: %v", store.entries)
	}
}
