// Package ingest implements the spreadsheet-to-record pipeline: raw workbook
// rows are normalized, resolved against alias tables, transformed into
// canonical transactions and payments, validated, and persisted in batches.
//
// Everything business-specific (alias tables, pricing, month labels, sheet
// layouts) is data loaded from a rules document, never code.
package ingest

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"finanzas/internal/core"
)

// Roles the entity resolver knows alias tables for.
const (
	RolePartner Role = "partner"
	RoleTeacher Role = "teacher"
)

// Sheet shapes the row transformer supports.
const (
	ShapeFlat        SheetShape = "flat"
	ShapeMonthlyGrid SheetShape = "monthly_grid"
)

// Column keys used in SheetSchema.Columns. Flat sheets map transaction
// fields; grid sheets map enrollment fields, and month columns are matched
// against the month-label table instead.
const (
	ColDate          = "date"
	ColConcept       = "concept"
	ColCounterparty  = "counterparty"
	ColPaymentMethod = "payment_method"
	ColQuantity      = "quantity"
	ColUnitPrice     = "unit_price"

	ColStudentName = "student_name"
	ColTeacher     = "teacher"
	ColSubject     = "subject"
	ColClassMode   = "class_mode"
	ColSchedule    = "schedule"
	ColEnrolledAt  = "enrolled_at"
	ColPromotion   = "promotion"
	ColPickup      = "pickup"
	ColStatus      = "status"
)

type (
	Role       string
	SheetShape string

	// Amount is a decimal that unmarshals from a YAML scalar.
	Amount struct {
		decimal.Decimal
	}

	// Rules is the externalized business configuration consumed read-only
	// by the resolver, the price book and the transformer.
	Rules struct {
		Units      []UnitRule        `yaml:"units"`
		Roles      map[Role]RoleRule `yaml:"roles"`
		Pricing    PricingRule       `yaml:"pricing"`
		Promotions []PromotionRule   `yaml:"promotions"`
		Months     []MonthColumn     `yaml:"months"`
		Sheets     []SheetSchema     `yaml:"sheets"`
	}

	UnitRule struct {
		ID   int64  `yaml:"id"`
		Name string `yaml:"name"`
	}

	// RoleRule is one role's alias table: every known spelling variant maps
	// to a canonical identifier, and unknown names fall back to a default.
	RoleRule struct {
		Aliases    map[string]int64 `yaml:"aliases"`
		Canonical  map[int64]string `yaml:"canonical"`
		FallbackID int64            `yaml:"fallback_id"`
	}

	// PricingRule is the 2x2 monthly rate table: class mode x home pickup.
	PricingRule struct {
		IndividualPickup   Amount `yaml:"individual_pickup"`
		GroupPickup        Amount `yaml:"group_pickup"`
		IndividualNoPickup Amount `yaml:"individual_no_pickup"`
		GroupNoPickup      Amount `yaml:"group_no_pickup"`
	}

	// PromotionRule overrides the rate table when the enrollment's promotion
	// text contains Match. Promotions are checked before the 2x2 table.
	PromotionRule struct {
		Match string `yaml:"match"`
		Price Amount `yaml:"price"`
	}

	// MonthColumn binds one grid header label to a calendar period. Labels
	// carry numeric suffixes to disambiguate repeated month names across
	// years ("Julio", "Julio2", "Julio3").
	MonthColumn struct {
		Label string `yaml:"label"`
		Year  int    `yaml:"year"`
		Month int    `yaml:"month"`
	}

	// SheetSchema describes one recognized workbook sheet.
	SheetSchema struct {
		Name      string            `yaml:"name"`
		Shape     SheetShape        `yaml:"shape"`
		Kind      core.Kind         `yaml:"kind"` // flat sheets only
		UnitID    int64             `yaml:"unit_id"`
		CreatorID int64             `yaml:"creator_id"`
		Optional  bool              `yaml:"optional"`
		Columns   map[string]string `yaml:"columns"`

		// Defaults applied when the mapped cell is blank.
		DefaultConcept       string `yaml:"default_concept"`
		DefaultCounterparty  string `yaml:"default_counterparty"`
		DefaultPaymentMethod string `yaml:"default_payment_method"`

		// FixedQuantity is used when the sheet has no quantity column at
		// all. A mapped but unparseable quantity cell is still rejected.
		FixedQuantity Amount `yaml:"fixed_quantity"`
	}
)

func (a *Amount) UnmarshalYAML(value *yaml.Node) error {
	d, err := decimal.NewFromString(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", value.Value, err)
	}
	a.Decimal = d
	return nil
}

func (a Amount) MarshalYAML() (interface{}, error) {
	return a.String(), nil
}

// LoadRules reads and validates the rules document at path.
func LoadRules(path string) (*Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var rules Rules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return &rules, nil
}

// Validate reports every structural problem in the rules at once.
func (r *Rules) Validate() error {
	var problems []string

	if len(r.Units) == 0 {
		problems = append(problems, "at least one business unit is required")
	}
	unitIDs := make(map[int64]bool, len(r.Units))
	for _, u := range r.Units {
		if u.ID <= 0 || u.Name == "" {
			problems = append(problems, fmt.Sprintf("unit %q needs a positive id and a name", u.Name))
		}
		unitIDs[u.ID] = true
	}

	for role, rr := range r.Roles {
		if rr.FallbackID == 0 {
			problems = append(problems, fmt.Sprintf("role %s has no fallback id", role))
		}
		if _, ok := rr.Canonical[rr.FallbackID]; !ok {
			problems = append(problems, fmt.Sprintf("role %s fallback id %d has no canonical name", role, rr.FallbackID))
		}
		for alias, id := range rr.Aliases {
			if _, ok := rr.Canonical[id]; !ok {
				problems = append(problems, fmt.Sprintf("role %s alias %q maps to id %d with no canonical name", role, alias, id))
			}
		}
	}

	seenLabels := make(map[string]bool, len(r.Months))
	for _, m := range r.Months {
		if m.Label == "" || m.Month < 1 || m.Month > 12 || m.Year < 2000 {
			problems = append(problems, fmt.Sprintf("month column %+v is malformed", m))
			continue
		}
		if seenLabels[m.Label] {
			problems = append(problems, fmt.Sprintf("duplicate month label %q", m.Label))
		}
		seenLabels[m.Label] = true
	}

	if len(r.Sheets) == 0 {
		problems = append(problems, "at least one sheet schema is required")
	}
	for _, s := range r.Sheets {
		if s.Name == "" {
			problems = append(problems, "sheet schema without a name")
			continue
		}
		if !unitIDs[s.UnitID] {
			problems = append(problems, fmt.Sprintf("sheet %q references unknown unit %d", s.Name, s.UnitID))
		}
		switch s.Shape {
		case ShapeFlat:
			if !s.Kind.Valid() {
				problems = append(problems, fmt.Sprintf("flat sheet %q needs kind INCOME or EXPENSE", s.Name))
			}
			if s.Columns[ColDate] == "" {
				problems = append(problems, fmt.Sprintf("flat sheet %q needs a %s column", s.Name, ColDate))
			}
		case ShapeMonthlyGrid:
			if s.Columns[ColStudentName] == "" {
				problems = append(problems, fmt.Sprintf("grid sheet %q needs a %s column", s.Name, ColStudentName))
			}
			if len(r.Months) == 0 {
				problems = append(problems, fmt.Sprintf("grid sheet %q configured but the month-label table is empty", s.Name))
			}
		default:
			problems = append(problems, fmt.Sprintf("sheet %q has unknown shape %q", s.Name, s.Shape))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// UnitNames returns the id-to-name table for report rendering.
func (r *Rules) UnitNames() map[int64]string {
	out := make(map[int64]string, len(r.Units))
	for _, u := range r.Units {
		out[u.ID] = u.Name
	}
	return out
}

// MonthName strips the disambiguating suffix from a month-column label,
// giving the display name used in synthetic payment concepts.
func (m MonthColumn) MonthName() string {
	return strings.TrimRight(m.Label, "0123456789")
}

// PeriodEnd is the last day of the column's calendar month; synthetic
// transactions for the column are booked on this date.
func (m MonthColumn) PeriodEnd() core.Date {
	return core.MonthlyPayment{Year: m.Year, Month: m.Month}.PeriodEnd()
}
