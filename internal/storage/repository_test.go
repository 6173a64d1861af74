package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"finanzas/internal/core"
)

func testRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func sampleTx() core.Transaction {
	return core.Transaction{
		Date:          core.NewDate(2024, 3, 15),
		Concept:       "Website redesign",
		Counterparty:  "Marco Delgado",
		UnitID:        2,
		PaymentMethod: "Transferencia",
		Quantity:      core.MustAmount("1"),
		UnitPrice:     core.MustAmount("12500"),
		Kind:          core.Income,
		CreatedBy:     1,
	}
}

func sampleStudent() core.Student {
	return core.Student{
		Name:          "Ana García",
		TeacherID:     1,
		Subject:       "Guitarra",
		Mode:          core.Individual,
		EnrolledAt:    core.NewDate(2023, 8, 1),
		MonthlyPrice:  core.MustAmount("1800"),
		PaymentMethod: "Efectivo",
		HomePickup:    true,
		Status:        core.StatusActive,
	}
}

func TestMigrationsCreateRequiredTables(t *testing.T) {
	repo := testRepo(t)

	missing, err := repo.MissingTables(context.Background())
	if err != nil {
		t.Fatalf("missing tables: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("tables still missing after migration: %v", missing)
	}
}

func TestMissingTablesOnEmptyDatabase(t *testing.T) {
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()

	missing, err := repo.MissingTables(context.Background())
	if err != nil {
		t.Fatalf("missing tables: %v", err)
	}
	if len(missing) != 6 {
		t.Fatalf("missing = %v, want all six tables", missing)
	}
}

func TestInsertAndGetTransaction(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	id, err := repo.InsertTransaction(ctx, sampleTx())
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := repo.GetTransaction(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Concept != "Website redesign" || got.Date.ISO() != "2024-03-15" {
		t.Errorf("round trip mangled row: %+v", got)
	}
	if !got.Total().Equal(core.MustAmount("12500")) {
		t.Errorf("total = %s", got.Total())
	}

	if _, err := repo.GetTransaction(ctx, id+999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing row: err = %v, want ErrNotFound", err)
	}
}

func TestInsertTransactionRejectsInvalid(t *testing.T) {
	repo := testRepo(t)

	bad := sampleTx()
	bad.Quantity = core.MustAmount("0")
	if _, err := repo.InsertTransaction(context.Background(), bad); err == nil {
		t.Fatal("zero quantity accepted")
	}
}

func TestListTransactionsFilters(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	income := sampleTx()
	expense := sampleTx()
	expense.Kind = core.Expense
	expense.UnitID = 1
	expense.CreatedBy = 2
	expense.Counterparty = "Antonio Razo"
	expense.Date = core.NewDate(2024, 5, 1)
	for _, tx := range []core.Transaction{income, expense} {
		if _, err := repo.InsertTransaction(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter TransactionFilter
		want   int
	}{
		{"all", TransactionFilter{}, 2},
		{"by unit", TransactionFilter{UnitID: 1}, 1},
		{"by kind", TransactionFilter{Kind: core.Income}, 1},
		{"by counterparty substring", TransactionFilter{Counterparty: "Razo"}, 1},
		{"counterparty no match", TransactionFilter{Counterparty: "Delgadillo"}, 0},
		{"by range", TransactionFilter{From: core.NewDate(2024, 4, 1)}, 1},
		{"paged", TransactionFilter{Limit: 1}, 1},
		{"no match", TransactionFilter{UnitID: 1, Kind: core.Income}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := repo.ListTransactions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(rows) != tt.want {
				t.Errorf("got %d rows, want %d", len(rows), tt.want)
			}
		})
	}
}

func TestUpdateAndDeleteAreCreatorScoped(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	id, err := repo.InsertTransaction(ctx, sampleTx())
	if err != nil {
		t.Fatal(err)
	}

	tx := sampleTx()
	tx.ID = id
	tx.Concept = "Website maintenance"

	if err := repo.UpdateTransaction(ctx, tx, 2); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign update: err = %v, want ErrForbidden", err)
	}
	if err := repo.UpdateTransaction(ctx, tx, 1); err != nil {
		t.Errorf("own update: %v", err)
	}
	got, _ := repo.GetTransaction(ctx, id)
	if got.Concept != "Website maintenance" {
		t.Errorf("concept = %q", got.Concept)
	}

	if err := repo.DeleteTransaction(ctx, id, 2); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign delete: err = %v, want ErrForbidden", err)
	}
	if err := repo.DeleteTransaction(ctx, id, 1); err != nil {
		t.Errorf("own delete: %v", err)
	}
	if err := repo.DeleteTransaction(ctx, id, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: err = %v, want ErrNotFound", err)
	}
}

func TestUpsertStudentKeepsIdentity(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	id1, err := repo.UpsertStudent(ctx, sampleStudent())
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	changed := sampleStudent()
	changed.Subject = "Canto"
	changed.Status = core.StatusWithdrawn
	id2, err := repo.UpsertStudent(ctx, changed)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("same name produced two ids: %d, %d", id1, id2)
	}

	got, err := repo.GetStudent(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Subject != "Canto" || got.Status != core.StatusWithdrawn {
		t.Errorf("upsert did not refresh fields: %+v", got)
	}
}

func TestRecordPaymentIsAtomicAndIdempotent(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	studentID, err := repo.UpsertStudent(ctx, sampleStudent())
	if err != nil {
		t.Fatal(err)
	}

	tx := sampleTx()
	tx.UnitID = 1
	tx.CreatedBy = 3
	tx.Concept = "Ana García pago Febrero 2024"
	tx.Counterparty = "Hugo Vázquez"
	tx.UnitPrice = core.MustAmount("1800")
	payment := core.MonthlyPayment{
		Year: 2024, Month: 2,
		Amount: core.MustAmount("1800"),
		PaidAt: core.NewDate(2024, 2, 29),
	}

	if _, _, err := repo.RecordPayment(ctx, studentID, tx, payment); err != nil {
		t.Fatalf("record: %v", err)
	}

	// Same period again: payment row is overwritten, not duplicated.
	payment.Amount = core.MustAmount("1500")
	if _, _, err := repo.RecordPayment(ctx, studentID, tx, payment); err != nil {
		t.Fatalf("re-record: %v", err)
	}

	payments, err := repo.ListPayments(ctx, studentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(payments) != 1 {
		t.Fatalf("payments = %d, want 1", len(payments))
	}
	if !payments[0].Amount.Equal(core.MustAmount("1500")) {
		t.Errorf("amount = %s, want overwrite to 1500", payments[0].Amount)
	}

	student, err := repo.GetStudent(ctx, studentID)
	if err != nil {
		t.Fatal(err)
	}
	if student.LastPaymentAt.ISO() != "2024-02-29" {
		t.Errorf("last payment = %s", student.LastPaymentAt.ISO())
	}
}

func TestLastPaymentMarkerNeverMovesBackwards(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	studentID, err := repo.UpsertStudent(ctx, sampleStudent())
	if err != nil {
		t.Fatal(err)
	}

	tx := sampleTx()
	tx.UnitID = 1
	tx.CreatedBy = 3
	later := core.MonthlyPayment{Year: 2024, Month: 5, Amount: core.MustAmount("1800"), PaidAt: core.NewDate(2024, 5, 31)}
	earlier := core.MonthlyPayment{Year: 2024, Month: 1, Amount: core.MustAmount("1800"), PaidAt: core.NewDate(2024, 1, 31)}

	for _, p := range []core.MonthlyPayment{later, earlier} {
		if _, _, err := repo.RecordPayment(ctx, studentID, tx, p); err != nil {
			t.Fatal(err)
		}
	}

	student, err := repo.GetStudent(ctx, studentID)
	if err != nil {
		t.Fatal(err)
	}
	if student.LastPaymentAt.ISO() != "2024-05-31" {
		t.Errorf("marker regressed to %s", student.LastPaymentAt.ISO())
	}
}

func TestClearImportTargets(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	if _, err := repo.InsertTransaction(ctx, sampleTx()); err != nil {
		t.Fatal(err)
	}
	studentID, err := repo.UpsertStudent(ctx, sampleStudent())
	if err != nil {
		t.Fatal(err)
	}
	tx := sampleTx()
	tx.UnitID = 1
	tx.CreatedBy = 3
	p := core.MonthlyPayment{Year: 2024, Month: 2, Amount: core.MustAmount("1800"), PaidAt: core.NewDate(2024, 2, 29)}
	if err := repo.SaveGridEntry(ctx, studentID, tx, p); err != nil {
		t.Fatal(err)
	}

	if err := repo.ClearImportTargets(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	n, err := repo.CountImportTargets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("rows remain after clear: %d", n)
	}

	// Identity restarts from 1, matching a fresh database.
	id, err := repo.InsertTransaction(ctx, sampleTx())
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 {
		t.Errorf("first id after clear = %d, want 1", id)
	}
}

func TestSummaryGroupsByUnitAndKind(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	rows := []core.Transaction{
		sampleTx(),
		func() core.Transaction {
			tx := sampleTx()
			tx.UnitID = 1
			tx.CreatedBy = 2
			tx.Kind = core.Expense
			tx.Quantity = core.MustAmount("2")
			tx.UnitPrice = core.MustAmount("250")
			return tx
		}(),
		func() core.Transaction {
			tx := sampleTx()
			tx.UnitID = 1
			tx.CreatedBy = 3
			tx.UnitPrice = core.MustAmount("1500")
			return tx
		}(),
	}
	for _, tx := range rows {
		if _, err := repo.InsertTransaction(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	summary, err := repo.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(summary) != 2 {
		t.Fatalf("units = %d, want 2", len(summary))
	}

	rockstar := summary[0]
	if rockstar.UnitName != "Rockstar Skull" || len(rockstar.ByKind) != 2 {
		t.Fatalf("first unit: %+v", rockstar)
	}
	if !rockstar.Balance().Equal(core.MustAmount("1000")) {
		t.Errorf("balance = %s, want 1500 income - 500 expense", rockstar.Balance())
	}

	symbiot := summary[1]
	if symbiot.UnitID != 2 || len(symbiot.ByKind) != 1 {
		t.Fatalf("second unit: %+v", symbiot)
	}
	if !symbiot.ByKind[0].Total.Equal(core.MustAmount("12500")) {
		t.Errorf("symbiot income = %s", symbiot.ByKind[0].Total)
	}
}
