package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"finanzas/internal/amqp"
	"finanzas/internal/core"
	"finanzas/internal/ingest"
	"finanzas/internal/storage"
)

var monthNames = [...]string{
	"Enero", "Febrero", "Marzo", "Abril", "Mayo", "Junio",
	"Julio", "Agosto", "Septiembre", "Octubre", "Noviembre", "Diciembre",
}

// RecordPaymentInput is one manual monthly payment. A zero Amount falls back
// to the student's configured monthly price.
type RecordPaymentInput struct {
	StudentID     int64
	Year          int
	Month         int
	Amount        decimal.Decimal
	PaymentMethod string
	CreatedBy     int64
}

// PaymentService records monthly payments the same way the import does: one
// atomic unit of income transaction, payment upsert and last-payment marker,
// followed by a broker event for the ledger worker. The broker is optional;
// a payment never fails because the event could not be published.
type PaymentService struct {
	storage    *storage.SQLiteRepository
	amqpClient *amqp.Client
	rules      *ingest.Rules
	resolver   *ingest.Resolver
	checker    DuenessChecker
}

func NewPaymentService(repo *storage.SQLiteRepository, amqpClient *amqp.Client, rules *ingest.Rules, checker DuenessChecker) *PaymentService {
	return &PaymentService{
		storage:    repo,
		amqpClient: amqpClient,
		rules:      rules,
		resolver:   ingest.NewResolver(rules),
		checker:    checker,
	}
}

func (s *PaymentService) RecordPayment(ctx context.Context, in RecordPaymentInput) (core.MonthlyPayment, error) {
	if in.Month < 1 || in.Month > 12 {
		return core.MonthlyPayment{}, fmt.Errorf("month %d out of range", in.Month)
	}

	student, err := s.storage.GetStudent(ctx, in.StudentID)
	if err != nil {
		return core.MonthlyPayment{}, fmt.Errorf("record payment: %w", err)
	}

	amount := in.Amount
	if amount.IsZero() {
		amount = student.MonthlyPrice
	}
	method := in.PaymentMethod
	if method == "" {
		method = student.PaymentMethod
	}

	teacher := s.resolver.CanonicalName(ingest.RoleTeacher, student.TeacherID)
	if teacher == "" {
		return core.MonthlyPayment{}, fmt.Errorf("student %q has no known teacher", student.Name)
	}

	unitID, err := s.academyUnit()
	if err != nil {
		return core.MonthlyPayment{}, err
	}

	now := time.Now().UTC()
	payment := core.MonthlyPayment{
		StudentID:     in.StudentID,
		Year:          in.Year,
		Month:         in.Month,
		Amount:        amount,
		PaidAt:        core.NewDate(now.Year(), int(now.Month()), now.Day()),
		PaymentMethod: method,
	}

	tx := core.Transaction{
		Date:          payment.PeriodEnd(),
		Concept:       fmt.Sprintf("%s pago %s %d", student.Name, monthNames[in.Month-1], in.Year),
		Counterparty:  teacher,
		UnitID:        unitID,
		PaymentMethod: method,
		Quantity:      decimal.NewFromInt(1),
		UnitPrice:     amount,
		Kind:          core.Income,
		CreatedBy:     in.CreatedBy,
	}

	txID, paymentID, err := s.storage.RecordPayment(ctx, in.StudentID, tx, payment)
	if err != nil {
		return core.MonthlyPayment{}, fmt.Errorf("record payment: %w", err)
	}
	payment.ID = paymentID

	s.publishPaymentRecorded(ctx, txID, in.StudentID, in.Year, in.Month)
	return payment, nil
}

func (s *PaymentService) publishPaymentRecorded(ctx context.Context, txID, studentID int64, year, month int) {
	if s.amqpClient == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping payment event")
		return
	}
	msg := amqp.NewPaymentRecordedMessage(txID, studentID, year, month)
	if err := s.amqpClient.PublishPaymentRecorded(ctx, msg); err != nil {
		// The payment is committed; the ledger catches up on the next event.
		slog.ErrorContext(ctx, "Failed to publish payment event",
			"transaction_id", txID, "student_id", studentID, "error", err)
	}
}

// academyUnit is the business unit monthly-grid income belongs to.
func (s *PaymentService) academyUnit() (int64, error) {
	for _, sheet := range s.rules.Sheets {
		if sheet.Shape == ingest.ShapeMonthlyGrid {
			return sheet.UnitID, nil
		}
	}
	return 0, fmt.Errorf("no monthly-grid sheet configured")
}

func (s *PaymentService) ListPayments(ctx context.Context, studentID int64) ([]core.MonthlyPayment, error) {
	return s.storage.ListPayments(ctx, studentID)
}

func (s *PaymentService) ListStudents(ctx context.Context, status core.StudentStatus) ([]core.Student, error) {
	return s.storage.ListStudents(ctx, status)
}

// Dueness classifies every enrollment as of now.
func (s *PaymentService) Dueness(ctx context.Context, now time.Time) ([]StudentDueness, error) {
	students, err := s.storage.ListStudents(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("dueness scan: %w", err)
	}
	return ClassifyAll(s.checker, students, now), nil
}
