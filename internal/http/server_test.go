package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"finanzas/internal/core"
	"finanzas/internal/ingest"
	"finanzas/internal/log"
	"finanzas/internal/services"
	"finanzas/internal/storage"
)

func apiRules() *ingest.Rules {
	return &ingest.Rules{
		Units: []ingest.UnitRule{
			{ID: 1, Name: "Rockstar Skull"},
			{ID: 2, Name: "Symbiot"},
		},
		Roles: map[ingest.Role]ingest.RoleRule{
			ingest.RoleTeacher: {
				FallbackID: 1,
				Canonical:  map[int64]string{1: "Hugo Vázquez"},
				Aliases:    map[string]int64{"Hugo Vázquez": 1},
			},
		},
		Months: []ingest.MonthColumn{{Label: "Enero", Year: 2024, Month: 1}},
		Sheets: []ingest.SheetSchema{
			{
				Name:      "Ingresos RockstarSkull",
				Shape:     ingest.ShapeMonthlyGrid,
				UnitID:    1,
				CreatorID: 3,
				Columns:   map[string]string{ingest.ColStudentName: "Alumno"},
			},
		},
	}
}

func testServer(t *testing.T) (*Server, *storage.SQLiteRepository) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := log.NewWithHandler("test", slog.NewTextHandler(io.Discard, nil))
	tx := services.NewTransactionService(repo)
	pay := services.NewPaymentService(repo, nil, apiRules(), services.NewThresholdChecker(35))
	srv := NewServer(":0", tx, pay, logger)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv, repo
}

func doRequest(t *testing.T, srv *Server, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "127.0.0.1:9999"
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

const txBody = `{
	"date": "2024-03-15",
	"concept": "Website redesign",
	"counterparty": "Marco Delgado",
	"unit_id": 2,
	"payment_method": "Transferencia",
	"unit_price": "12500",
	"kind": "INCOME"
}`

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	rec := doRequest(t, srv, "GET", "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateTransaction(t *testing.T) {
	srv, _ := testServer(t)

	rec := doRequest(t, srv, "POST", "/api/transactions", "1", txBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}

	var got transactionJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID == 0 || got.CreatedBy != 1 {
		t.Errorf("response: %+v", got)
	}
	// Quantity defaults to 1 when omitted.
	if got.Quantity != "1" || got.Total != "12500.00" {
		t.Errorf("quantity = %s total = %s", got.Quantity, got.Total)
	}
}

func TestCreateTransactionRequiresUser(t *testing.T) {
	srv, _ := testServer(t)

	rec := doRequest(t, srv, "POST", "/api/transactions", "", txBody)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	srv, _ := testServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"bad date", `{"date": "15/03/2024", "concept": "x", "counterparty": "y", "unit_id": 2, "unit_price": "1", "kind": "INCOME"}`},
		{"zero quantity", `{"date": "2024-03-15", "concept": "x", "counterparty": "y", "unit_id": 2, "quantity": "0", "unit_price": "1", "kind": "INCOME"}`},
		{"bad kind", `{"date": "2024-03-15", "concept": "x", "counterparty": "y", "unit_id": 2, "unit_price": "1", "kind": "TRANSFER"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, srv, "POST", "/api/transactions", "1", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d body = %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestUpdateDeleteOwnership(t *testing.T) {
	srv, _ := testServer(t)

	rec := doRequest(t, srv, "POST", "/api/transactions", "1", txBody)
	var created transactionJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	path := "/api/transactions/" + itoa(created.ID)

	if rec := doRequest(t, srv, "PUT", path, "2", txBody); rec.Code != http.StatusForbidden {
		t.Errorf("foreign update status = %d", rec.Code)
	}
	if rec := doRequest(t, srv, "DELETE", path, "2", ""); rec.Code != http.StatusForbidden {
		t.Errorf("foreign delete status = %d", rec.Code)
	}
	if rec := doRequest(t, srv, "DELETE", path, "1", ""); rec.Code != http.StatusNoContent {
		t.Errorf("own delete status = %d", rec.Code)
	}
	if rec := doRequest(t, srv, "GET", path, "1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("deleted get status = %d", rec.Code)
	}
}

func TestListTransactionsFilterValidation(t *testing.T) {
	srv, _ := testServer(t)

	for _, path := range []string{
		"/api/transactions?kind=TRANSFER",
		"/api/transactions?unit_id=abc",
		"/api/transactions?from=March-1",
		"/api/transactions?limit=0",
	} {
		if rec := doRequest(t, srv, "GET", path, "1", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestListTransactionsCounterpartyFilter(t *testing.T) {
	srv, _ := testServer(t)

	second := strings.Replace(txBody, "Marco Delgado", "Antonio Razo", 1)
	for _, body := range []string{txBody, second} {
		if rec := doRequest(t, srv, "POST", "/api/transactions", "1", body); rec.Code != http.StatusCreated {
			t.Fatalf("create: %d", rec.Code)
		}
	}

	rec := doRequest(t, srv, "GET", "/api/transactions?counterparty=Razo", "1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []transactionJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Counterparty != "Antonio Razo" {
		t.Errorf("filtered list = %+v", got)
	}
}

func TestSummaryReflectsMutations(t *testing.T) {
	srv, _ := testServer(t)

	if rec := doRequest(t, srv, "POST", "/api/transactions", "1", txBody); rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}

	rec := doRequest(t, srv, "GET", "/api/summary", "1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("summary: %d", rec.Code)
	}
	var first []unitSummaryJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || first[0].Balance != "12500.00" {
		t.Fatalf("summary = %+v", first)
	}

	// A second write must invalidate the cached summary.
	if rec := doRequest(t, srv, "POST", "/api/transactions", "1", txBody); rec.Code != http.StatusCreated {
		t.Fatalf("second create: %d", rec.Code)
	}
	rec = doRequest(t, srv, "GET", "/api/summary", "1", "")
	var second []unitSummaryJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatal(err)
	}
	if second[0].Balance != "25000.00" {
		t.Errorf("stale summary after mutation: %+v", second)
	}
}

func TestRecordPaymentEndpoint(t *testing.T) {
	srv, repo := testServer(t)
	ctx := context.Background()

	studentID, err := repo.UpsertStudent(ctx, core.Student{
		Name:          "Ana García",
		TeacherID:     1,
		MonthlyPrice:  core.MustAmount("1800"),
		PaymentMethod: "Efectivo",
		Status:        core.StatusActive,
	})
	if err != nil {
		t.Fatal(err)
	}

	path := "/api/students/" + itoa(studentID) + "/payments"
	rec := doRequest(t, srv, "POST", path, "3", `{"year": 2024, "month": 2, "amount": "1800"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, srv, "GET", path, "3", "")
	var payments []paymentJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &payments); err != nil {
		t.Fatal(err)
	}
	if len(payments) != 1 || payments[0].Year != 2024 || payments[0].Month != 2 {
		t.Errorf("payments = %+v", payments)
	}

	rec = doRequest(t, srv, "GET", "/api/students/dueness", "3", "")
	var dueness []duenessJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &dueness); err != nil {
		t.Fatal(err)
	}
	if len(dueness) != 1 || dueness[0].Status != string(services.DuenessCurrent) {
		t.Errorf("dueness = %+v", dueness)
	}
}

func TestRecordPaymentUnknownStudent(t *testing.T) {
	srv, _ := testServer(t)

	rec := doRequest(t, srv, "POST", "/api/students/999/payments", "3", `{"year": 2024, "month": 2}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListStudentsStatusFilter(t *testing.T) {
	srv, _ := testServer(t)

	if rec := doRequest(t, srv, "GET", "/api/students?status=GRADUATED", "1", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if rec := doRequest(t, srv, "GET", "/api/students?status=ACTIVE", "1", ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
