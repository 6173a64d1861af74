package ingest

import (
	"fmt"

	"github.com/shopspring/decimal"

	"finanzas/internal/core"
)

type (
	// Transformer turns one raw spreadsheet row into canonical records,
	// using the normalizers, the entity resolver and the price book.
	Transformer struct {
		rules    *Rules
		resolver *Resolver
		prices   *PriceBook
	}

	// FlatResult is one candidate transaction from a flat sheet row, plus
	// soft warnings (e.g. an unresolved counterparty that fell back).
	FlatResult struct {
		Transaction core.Transaction
		Warnings    []string
	}

	// GridResult is everything one monthly-grid row produces: the
	// enrollment itself and one entry per month column holding a payment.
	GridResult struct {
		Student  core.Student
		Entries  []GridEntry
		Warnings []string
	}

	// GridEntry pairs the synthetic income transaction with the payment
	// upsert for one month. The pair is persisted atomically.
	GridEntry struct {
		Transaction core.Transaction
		Payment     core.MonthlyPayment
	}

	// rowReader resolves header names to cells for one sheet.
	rowReader struct {
		index map[string]int
	}
)

func NewTransformer(rules *Rules) *Transformer {
	return &Transformer{
		rules:    rules,
		resolver: NewResolver(rules),
		prices:   NewPriceBook(rules),
	}
}

// Resolver exposes the transformer's entity resolver for callers that need
// name canonicalization outside row transforms.
func (t *Transformer) Resolver() *Resolver { return t.resolver }

// PriceBook exposes the configured pricing rules.
func (t *Transformer) PriceBook() *PriceBook { return t.prices }

func newRowReader(header []string) *rowReader {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[NormalizeText(h)] = i
	}
	return &rowReader{index: idx}
}

// cell returns the raw cell under the named header, or "" when the column
// or the cell is absent.
func (r *rowReader) cell(row []string, header string) string {
	i, ok := r.index[NormalizeText(header)]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func (r *rowReader) has(header string) bool {
	_, ok := r.index[NormalizeText(header)]
	return ok
}

// FlatRow produces the candidate transaction for one flat-sheet row. A row
// whose mapped cells are all blank is skipped (nil, true): it is simply not
// emitted, as opposed to rejected. The candidate is not validated here; the
// gate reports every violation at once.
func (t *Transformer) FlatRow(schema SheetSchema, header, row []string) (*FlatResult, bool) {
	rd := newRowReader(header)

	blank := true
	for _, col := range schema.Columns {
		if NormalizeText(rd.cell(row, col)) != "" {
			blank = false
			break
		}
	}
	if blank {
		return nil, true
	}

	res := &FlatResult{}

	date, _ := NormalizeDate(rd.cell(row, schema.Columns[ColDate]))

	concept := NormalizeText(rd.cell(row, schema.Columns[ColConcept]))
	if concept == "" {
		concept = schema.DefaultConcept
	}

	counterparty := NormalizeText(rd.cell(row, schema.Columns[ColCounterparty]))
	if counterparty == "" {
		counterparty = schema.DefaultCounterparty
	} else {
		r := t.resolver.Resolve(RolePartner, counterparty)
		if r.Resolved {
			counterparty = r.Name
		} else {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("counterparty %q not in alias table, kept as written", counterparty))
		}
	}

	method := NormalizeText(rd.cell(row, schema.Columns[ColPaymentMethod]))
	if method == "" {
		method = schema.DefaultPaymentMethod
	}

	quantity := schema.FixedQuantity.Decimal
	if col := schema.Columns[ColQuantity]; col != "" && rd.has(col) {
		// A mapped quantity column is authoritative: a blank or malformed
		// cell yields zero and the gate rejects the row. Defaulting to 1
		// here would fabricate a quantity.
		quantity, _ = NormalizeAmount(rd.cell(row, col))
	}

	price, ok := NormalizeAmount(rd.cell(row, schema.Columns[ColUnitPrice]))
	if !ok {
		price = decimal.Zero
	}

	res.Transaction = core.Transaction{
		Date:          date,
		Concept:       concept,
		Counterparty:  counterparty,
		UnitID:        schema.UnitID,
		PaymentMethod: method,
		Quantity:      quantity,
		UnitPrice:     price,
		Kind:          schema.Kind,
		CreatedBy:     schema.CreatorID,
	}
	return res, false
}

// GridRow expands one monthly-grid row. A row with no resolvable student
// name is skipped. Every month column holding a positive amount yields one
// synthetic income transaction dated to the month's period end plus one
// payment upsert; zero or blank cells yield nothing for that month.
func (t *Transformer) GridRow(schema SheetSchema, header, row []string) (*GridResult, bool) {
	rd := newRowReader(header)

	name := NormalizeText(rd.cell(row, schema.Columns[ColStudentName]))
	if name == "" {
		return nil, true
	}

	res := &GridResult{}

	teacher := t.resolver.Resolve(RoleTeacher, rd.cell(row, schema.Columns[ColTeacher]))
	if !teacher.Resolved {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("student %q: teacher %q not in alias table, assigned to %s",
				name, NormalizeText(rd.cell(row, schema.Columns[ColTeacher])), teacher.Name))
	}

	method := NormalizeText(rd.cell(row, schema.Columns[ColPaymentMethod]))
	if method == "" {
		method = schema.DefaultPaymentMethod
	}

	mode := ParseClassMode(rd.cell(row, schema.Columns[ColClassMode]))
	pickup := NormalizeFlag(rd.cell(row, schema.Columns[ColPickup]))
	promotion := NormalizeText(rd.cell(row, schema.Columns[ColPromotion]))
	price := t.prices.MonthlyPrice(mode, pickup, promotion)

	quantity := decimal.NewFromInt(1)
	if col := schema.Columns[ColQuantity]; col != "" && rd.has(col) {
		if q, ok := NormalizeAmount(rd.cell(row, col)); ok {
			quantity = q
		}
	}

	enrolled, _ := NormalizeDate(rd.cell(row, schema.Columns[ColEnrolledAt]))

	res.Student = core.Student{
		Name:          name,
		TeacherID:     teacher.ID,
		Subject:       NormalizeText(rd.cell(row, schema.Columns[ColSubject])),
		Mode:          mode,
		Schedule:      NormalizeText(rd.cell(row, schema.Columns[ColSchedule])),
		EnrolledAt:    enrolled,
		Promotion:     promotion,
		MonthlyPrice:  price,
		PaymentMethod: method,
		HomePickup:    pickup,
		Status:        ParseStudentStatus(rd.cell(row, schema.Columns[ColStatus])),
	}

	for _, mc := range t.rules.Months {
		if !rd.has(mc.Label) {
			continue
		}
		paid, ok := NormalizeAmount(rd.cell(row, mc.Label))
		if !ok || !paid.IsPositive() {
			continue
		}
		periodEnd := mc.PeriodEnd()
		res.Entries = append(res.Entries, GridEntry{
			Transaction: core.Transaction{
				Date:          periodEnd,
				Concept:       fmt.Sprintf("%s pago %s %d", name, mc.MonthName(), mc.Year),
				Counterparty:  teacher.Name,
				UnitID:        schema.UnitID,
				PaymentMethod: method,
				Quantity:      quantity,
				UnitPrice:     price,
				Kind:          core.Income,
				CreatedBy:     schema.CreatorID,
			},
			Payment: core.MonthlyPayment{
				Year:          mc.Year,
				Month:         mc.Month,
				Amount:        paid,
				PaidAt:        periodEnd,
				PaymentMethod: method,
			},
		})
	}

	return res, false
}
