// Package storage is the SQLite persistence layer: schema migrations plus a
// repository exposing the import, API and reporting queries.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"finanzas/internal/core"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrForbidden = errors.New("record belongs to another user")
)

// requiredTables is what schema verification checks for. importTargets are
// the tables a reload clears, children before parents.
var (
	requiredTables = []string{
		"business_units", "users", "teachers",
		"students", "monthly_payments", "transactions",
	}
	importTargets = []string{"monthly_payments", "transactions", "students"}
)

// TransactionFilter narrows ListTransactions. Zero values mean "no filter".
// Counterparty matches as a substring.
type TransactionFilter struct {
	UnitID       int64
	Kind         core.Kind
	Counterparty string
	From         core.Date
	To           core.Date
	Limit        int
	Offset       int
}

type SQLiteRepository struct {
	db     *sql.DB
	dbPath string
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteRepository{db: db, dbPath: dbPath}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// MissingTables reports which required tables the database lacks.
func (r *SQLiteRepository) MissingTables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	var missing []string
	for _, t := range requiredTables {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	return missing, nil
}

func (r *SQLiteRepository) EnsureSchema(context.Context) error {
	return RunMigrations(r.dbPath)
}

// ClearImportTargets wipes previously imported rows and resets identity
// counters so a reload produces the same identifiers as a fresh database.
func (r *SQLiteRepository) ClearImportTargets(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback()

	for _, table := range importTargets {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	// sqlite_sequence only exists once an AUTOINCREMENT table has rows.
	var hasSeq int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'sqlite_sequence'`).Scan(&hasSeq)
	if err != nil {
		return fmt.Errorf("check sqlite_sequence: %w", err)
	}
	if hasSeq > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sqlite_sequence WHERE name IN ('students', 'monthly_payments', 'transactions')`); err != nil {
			return fmt.Errorf("reset sequences: %w", err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepository) CountImportTargets(ctx context.Context) (int64, error) {
	var total int64
	for _, table := range importTargets {
		var n int64
		if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return 0, fmt.Errorf("count %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (date, concept, counterparty, unit_id, payment_method, quantity, unit_price, kind, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Date.ISO(), t.Concept, t.Counterparty, t.UnitID, t.PaymentMethod,
		t.Quantity.String(), t.UnitPrice.String(), string(t.Kind), t.CreatedBy)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert transaction id: %w", err)
	}
	return id, nil
}

// UpsertStudent inserts the enrollment or refreshes it in place when the
// student name already exists. last_payment_at is owned by the payment path
// and never touched here.
func (r *SQLiteRepository) UpsertStudent(ctx context.Context, s core.Student) (int64, error) {
	if strings.TrimSpace(s.Name) == "" {
		return 0, errors.New("student name required")
	}
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO students (name, age, teacher_id, subject, class_mode, schedule, enrolled_at, promotion, monthly_price, payment_method, home_pickup, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			age            = excluded.age,
			teacher_id     = excluded.teacher_id,
			subject        = excluded.subject,
			class_mode     = excluded.class_mode,
			schedule       = excluded.schedule,
			enrolled_at    = excluded.enrolled_at,
			promotion      = excluded.promotion,
			monthly_price  = excluded.monthly_price,
			payment_method = excluded.payment_method,
			home_pickup    = excluded.home_pickup,
			status         = excluded.status
		RETURNING id`,
		s.Name, s.Age, s.TeacherID, s.Subject, string(s.Mode), s.Schedule,
		nullDate(s.EnrolledAt), s.Promotion, s.MonthlyPrice.String(),
		s.PaymentMethod, boolInt(s.HomePickup), string(s.Status)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert student %q: %w", s.Name, err)
	}
	return id, nil
}

// SaveGridEntry persists one synthetic income transaction together with its
// monthly payment and the student's last-payment marker, atomically.
func (r *SQLiteRepository) SaveGridEntry(ctx context.Context, studentID int64, t core.Transaction, p core.MonthlyPayment) error {
	_, _, err := r.recordPayment(ctx, studentID, t, p)
	return err
}

// RecordPayment is the interactive path: same atomic unit as the import,
// returning both identifiers for the caller's event.
func (r *SQLiteRepository) RecordPayment(ctx context.Context, studentID int64, t core.Transaction, p core.MonthlyPayment) (txID, paymentID int64, err error) {
	return r.recordPayment(ctx, studentID, t, p)
}

func (r *SQLiteRepository) recordPayment(ctx context.Context, studentID int64, t core.Transaction, p core.MonthlyPayment) (int64, int64, error) {
	if err := t.Validate(); err != nil {
		return 0, 0, err
	}
	p.StudentID = studentID
	if err := p.Validate(); err != nil {
		return 0, 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin record payment: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (date, concept, counterparty, unit_id, payment_method, quantity, unit_price, kind, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Date.ISO(), t.Concept, t.Counterparty, t.UnitID, t.PaymentMethod,
		t.Quantity.String(), t.UnitPrice.String(), string(t.Kind), t.CreatedBy)
	if err != nil {
		return 0, 0, fmt.Errorf("insert payment transaction: %w", err)
	}
	txID, err := res.LastInsertId()
	if err != nil {
		return 0, 0, fmt.Errorf("payment transaction id: %w", err)
	}

	var paymentID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO monthly_payments (student_id, year, month, amount, paid_at, payment_method)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(student_id, year, month) DO UPDATE SET
			amount         = excluded.amount,
			paid_at        = excluded.paid_at,
			payment_method = excluded.payment_method
		RETURNING id`,
		studentID, p.Year, p.Month, p.Amount.String(), p.PaidAt.ISO(), p.PaymentMethod).Scan(&paymentID)
	if err != nil {
		return 0, 0, fmt.Errorf("upsert monthly payment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE students SET last_payment_at = ?
		WHERE id = ? AND (last_payment_at IS NULL OR last_payment_at < ?)`,
		p.PaidAt.ISO(), studentID, p.PaidAt.ISO()); err != nil {
		return 0, 0, fmt.Errorf("update last payment marker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit record payment: %w", err)
	}
	return txID, paymentID, nil
}

const transactionColumns = `id, date, concept, counterparty, unit_id, payment_method, quantity, unit_price, kind, created_by`

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return t, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1 = 1`
	var args []any
	if f.UnitID > 0 {
		query += ` AND unit_id = ?`
		args = append(args, f.UnitID)
	}
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	if f.Counterparty != "" {
		query += ` AND counterparty LIKE ?`
		args = append(args, "%"+f.Counterparty+"%")
	}
	if !f.From.IsZero() {
		query += ` AND date >= ?`
		args = append(args, f.From.ISO())
	}
	if !f.To.IsZero() {
		query += ` AND date <= ?`
		args = append(args, f.To.ISO())
	}
	query += ` ORDER BY date DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTransaction rewrites a row the caller created. Rows created by other
// users are untouchable regardless of payload.
func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, t core.Transaction, userID int64) error {
	if err := t.Validate(); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET date = ?, concept = ?, counterparty = ?, unit_id = ?, payment_method = ?, quantity = ?, unit_price = ?, kind = ?
		WHERE id = ? AND created_by = ?`,
		t.Date.ISO(), t.Concept, t.Counterparty, t.UnitID, t.PaymentMethod,
		t.Quantity.String(), t.UnitPrice.String(), string(t.Kind), t.ID, userID)
	if err != nil {
		return fmt.Errorf("update transaction %d: %w", t.ID, err)
	}
	return r.mustOwn(ctx, res, t.ID)
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id, userID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = ? AND created_by = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete transaction %d: %w", id, err)
	}
	return r.mustOwn(ctx, res, id)
}

// mustOwn distinguishes "no such row" from "someone else's row" after a
// creator-scoped write matched nothing.
func (r *SQLiteRepository) mustOwn(ctx context.Context, res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var owner int64
	err = r.db.QueryRowContext(ctx,
		`SELECT created_by FROM transactions WHERE id = ?`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check transaction %d owner: %w", id, err)
	}
	return ErrForbidden
}

// Summary aggregates counts and totals by business unit and kind. Amounts
// are decimal text in the store, so the arithmetic happens here rather than
// in SQL float space.
func (r *SQLiteRepository) Summary(ctx context.Context) ([]core.UnitSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.unit_id, b.name, t.kind, t.quantity, t.unit_price
		FROM transactions t
		JOIN business_units b ON b.id = t.unit_id`)
	if err != nil {
		return nil, fmt.Errorf("summary query: %w", err)
	}
	defer rows.Close()

	type acc struct {
		name   string
		byKind map[core.Kind]*core.KindTotal
	}
	units := make(map[int64]*acc)
	for rows.Next() {
		var (
			unitID               int64
			name, kind, qty, prc string
		)
		if err := rows.Scan(&unitID, &name, &kind, &qty, &prc); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		quantity, err := decimal.NewFromString(qty)
		if err != nil {
			return nil, fmt.Errorf("stored quantity %q: %w", qty, err)
		}
		price, err := decimal.NewFromString(prc)
		if err != nil {
			return nil, fmt.Errorf("stored unit price %q: %w", prc, err)
		}

		a, ok := units[unitID]
		if !ok {
			a = &acc{name: name, byKind: make(map[core.Kind]*core.KindTotal)}
			units[unitID] = a
		}
		k := core.Kind(kind)
		kt, ok := a.byKind[k]
		if !ok {
			kt = &core.KindTotal{Kind: k, Total: decimal.Zero}
			a.byKind[k] = kt
		}
		kt.Count++
		kt.Total = kt.Total.Add(quantity.Mul(price))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("summary query: %w", err)
	}

	ids := make([]int64, 0, len(units))
	for id := range units {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]core.UnitSummary, 0, len(ids))
	for _, id := range ids {
		a := units[id]
		s := core.UnitSummary{UnitID: id, UnitName: a.name}
		for _, k := range []core.Kind{core.Income, core.Expense} {
			if kt, ok := a.byKind[k]; ok {
				s.ByKind = append(s.ByKind, *kt)
			}
		}
		out = append(out, s)
	}
	return out, nil
}

const studentColumns = `id, name, age, teacher_id, subject, class_mode, schedule, enrolled_at, promotion, monthly_price, payment_method, home_pickup, status, last_payment_at`

func (r *SQLiteRepository) GetStudent(ctx context.Context, id int64) (core.Student, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE id = ?`, id)
	s, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Student{}, ErrNotFound
	}
	if err != nil {
		return core.Student{}, fmt.Errorf("get student %d: %w", id, err)
	}
	return s, nil
}

// ListStudents returns enrollments ordered by name, optionally filtered by
// status.
func (r *SQLiteRepository) ListStudents(ctx context.Context, status core.StudentStatus) ([]core.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var out []core.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ListPayments(ctx context.Context, studentID int64) ([]core.MonthlyPayment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, year, month, amount, paid_at, payment_method
		FROM monthly_payments
		WHERE student_id = ?
		ORDER BY year, month`, studentID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []core.MonthlyPayment
	for rows.Next() {
		var (
			p           core.MonthlyPayment
			amt, paidAt string
		)
		if err := rows.Scan(&p.ID, &p.StudentID, &p.Year, &p.Month, &amt, &paidAt, &p.PaymentMethod); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		if p.Amount, err = decimal.NewFromString(amt); err != nil {
			return nil, fmt.Errorf("stored amount %q: %w", amt, err)
		}
		if p.PaidAt, err = core.ParseDate(paidAt); err != nil {
			return nil, fmt.Errorf("stored paid_at %q: %w", paidAt, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t               core.Transaction
		date, qty, prc  string
		kind            string
	)
	err := row.Scan(&t.ID, &date, &t.Concept, &t.Counterparty, &t.UnitID,
		&t.PaymentMethod, &qty, &prc, &kind, &t.CreatedBy)
	if err != nil {
		return core.Transaction{}, err
	}
	if t.Date, err = core.ParseDate(date); err != nil {
		return core.Transaction{}, fmt.Errorf("stored date %q: %w", date, err)
	}
	if t.Quantity, err = decimal.NewFromString(qty); err != nil {
		return core.Transaction{}, fmt.Errorf("stored quantity %q: %w", qty, err)
	}
	if t.UnitPrice, err = decimal.NewFromString(prc); err != nil {
		return core.Transaction{}, fmt.Errorf("stored unit price %q: %w", prc, err)
	}
	t.Kind = core.Kind(kind)
	return t, nil
}

func scanStudent(row rowScanner) (core.Student, error) {
	var (
		s                        core.Student
		mode, status, price      string
		enrolledAt, lastPayment  sql.NullString
		pickup                   int
	)
	err := row.Scan(&s.ID, &s.Name, &s.Age, &s.TeacherID, &s.Subject, &mode,
		&s.Schedule, &enrolledAt, &s.Promotion, &price, &s.PaymentMethod,
		&pickup, &status, &lastPayment)
	if err != nil {
		return core.Student{}, err
	}
	s.Mode = core.ClassMode(mode)
	s.Status = core.StudentStatus(status)
	s.HomePickup = pickup != 0
	if s.MonthlyPrice, err = decimal.NewFromString(price); err != nil {
		return core.Student{}, fmt.Errorf("stored monthly price %q: %w", price, err)
	}
	if enrolledAt.Valid {
		if s.EnrolledAt, err = core.ParseDate(enrolledAt.String); err != nil {
			return core.Student{}, fmt.Errorf("stored enrolled_at %q: %w", enrolledAt.String, err)
		}
	}
	if lastPayment.Valid {
		if s.LastPaymentAt, err = core.ParseDate(lastPayment.String); err != nil {
			return core.Student{}, fmt.Errorf("stored last_payment_at %q: %w", lastPayment.String, err)
		}
	}
	return s, nil
}

func nullDate(d core.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.ISO()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
