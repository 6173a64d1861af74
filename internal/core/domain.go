package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  Kind = "INCOME"
	Expense Kind = "EXPENSE"
)

const (
	StatusActive    StudentStatus = "ACTIVE"
	StatusWithdrawn StudentStatus = "WITHDRAWN"
)

const (
	Individual ClassMode = "individual"
	Group      ClassMode = "group"
)

type (
	// Kind is the polarity of a transaction.
	Kind string

	// StudentStatus marks whether an enrollment is still active.
	StudentStatus string

	// ClassMode distinguishes one-on-one lessons from group lessons.
	ClassMode string

	Date struct {
		time.Time
	}

	// Transaction is the canonical money movement for one business unit.
	Transaction struct {
		ID            int64
		Date          Date
		Concept       string
		Counterparty  string // partner or teacher the movement is attributed to
		UnitID        int64
		PaymentMethod string
		Quantity      decimal.Decimal
		UnitPrice     decimal.Decimal
		Kind          Kind
		CreatedBy     int64
	}

	BusinessUnit struct {
		ID   int64
		Name string
	}

	User struct {
		ID     int64
		Name   string
		UnitID int64
	}

	Teacher struct {
		ID     int64
		Name   string
		UnitID int64
	}

	// Student is an academy enrollment with a recurring monthly fee.
	Student struct {
		ID            int64
		Name          string
		Age           int // 0 means unknown
		TeacherID     int64
		Subject       string
		Mode          ClassMode
		Schedule      string
		EnrolledAt    Date
		Promotion     string // empty when no discount applies
		MonthlyPrice  decimal.Decimal
		PaymentMethod string
		HomePickup    bool
		Status        StudentStatus
		LastPaymentAt Date
	}

	// MonthlyPayment records one payment for a (student, year, month) period.
	// The period is unique: a repeat overwrites amount and date in place.
	MonthlyPayment struct {
		ID            int64
		StudentID     int64
		Year          int
		Month         int
		Amount        decimal.Decimal
		PaidAt        Date
		PaymentMethod string
	}
)

var (
	ErrInvalidDate       = errors.New("invalid date")
	ErrEmptyConcept      = errors.New("empty concept")
	ErrEmptyCounterparty = errors.New("empty counterparty")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrNegativePrice     = errors.New("unit price must not be negative")
	ErrInvalidKind       = errors.New("kind must be INCOME or EXPENSE")
)

// MaxConceptLen bounds free-text concepts on every write path.
const MaxConceptLen = 500

func (k Kind) Valid() bool {
	return k == Income || k == Expense
}

// NewDate creates a Date pinned to UTC midnight.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// ISO renders the date as YYYY-MM-DD, the only wire format used.
func (d Date) ISO() string {
	return d.Format("2006-01-02")
}

// ParseDate parses the ISO form used across the API and the store.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t.UTC()}, nil
}

// Total is the derived amount of the transaction, never stored independently.
func (t Transaction) Total() decimal.Decimal {
	return t.Quantity.Mul(t.UnitPrice)
}

func (t Transaction) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Concept) == "" {
		return ErrEmptyConcept
	}
	if len(t.Concept) > MaxConceptLen {
		return errors.New("concept too long")
	}
	if strings.TrimSpace(t.Counterparty) == "" {
		return ErrEmptyCounterparty
	}
	if !t.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if t.UnitPrice.IsNegative() {
		return ErrNegativePrice
	}
	if !t.Kind.Valid() {
		return ErrInvalidKind
	}
	return nil
}

func (p MonthlyPayment) Validate() error {
	if p.StudentID <= 0 {
		return errors.New("missing student reference")
	}
	if p.Year < 2000 || p.Year > 2100 {
		return errors.New("year out of range")
	}
	if p.Month < 1 || p.Month > 12 {
		return errors.New("month out of range")
	}
	if !p.Amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	return p.PaidAt.Validate()
}

// PeriodEnd returns the last day of the payment's calendar month, the date
// synthetic income transactions are booked on.
func (p MonthlyPayment) PeriodEnd() Date {
	first := time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
	return Date{Time: first.AddDate(0, 1, -1)}
}
