package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finanzas/internal/core"
)

// serialEpochOffset is the number of days between the spreadsheet serial
// epoch (1899-12-30) and the Unix epoch (1970-01-01).
const serialEpochOffset = 25569

// Serials outside this window are treated as plain numbers, not dates.
// 367 is 1901-01-01, past the sheet format's leap-year quirk; 73050 is
// the year 2099.
const (
	minDateSerial = 367
	maxDateSerial = 73050
)

// Normalizers are pure and total: invalid input yields the zero value and
// ok=false, never an error or a panic.

// NormalizeText trims the cell and collapses internal whitespace runs to
// single spaces. Absent input normalizes to the empty string.
func NormalizeText(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// NormalizeDate converts a raw cell into a pure calendar date. It accepts a
// spreadsheet date serial, an ISO date, or a handful of common free-text
// layouts. The result is independent of the runtime's local timezone.
func NormalizeDate(raw string) (core.Date, bool) {
	s := NormalizeText(raw)
	if s == "" {
		return core.Date{}, false
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial < minDateSerial || serial > maxDateSerial {
			return core.Date{}, false
		}
		unix := int64((serial - serialEpochOffset) * 86400)
		t := time.Unix(unix, 0).UTC()
		return core.NewDate(t.Year(), int(t.Month()), t.Day()), true
	}

	layouts := []string{
		"2006-01-02",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"02/01/2006",
		"2/1/2006",
		"02-01-2006",
		"01-02-06", // sheet exports with two-digit years
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return core.NewDate(t.Year(), int(t.Month()), t.Day()), true
		}
	}
	return core.Date{}, false
}

// NormalizeAmount parses a decimal cell value. The sign is preserved:
// negative amounts are rejected later by the validation gate, not silently
// flipped here.
func NormalizeAmount(raw string) (decimal.Decimal, bool) {
	s := NormalizeText(raw)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := core.ParseAmount(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// NormalizeFlag reads a yes/no cell the way the grid sheets encode it
// ("Si", "Sí", "SI domiciliado", blank).
func NormalizeFlag(raw string) bool {
	s := strings.ToLower(NormalizeText(raw))
	for _, yes := range []string{"si", "sí", "yes", "true", "1"} {
		if s == yes || strings.HasPrefix(s, yes+" ") {
			return true
		}
	}
	return false
}

// ParseClassMode maps free-text class descriptions to a mode. Anything not
// recognizably individual counts as group, matching how the academy sheets
// fill the column.
func ParseClassMode(raw string) core.ClassMode {
	s := strings.ToLower(NormalizeText(raw))
	if strings.HasPrefix(s, "individual") || s == "i" {
		return core.Individual
	}
	return core.Group
}

// ParseStudentStatus maps the status column to an enrollment status.
func ParseStudentStatus(raw string) core.StudentStatus {
	s := strings.ToLower(NormalizeText(raw))
	if strings.Contains(s, "baja") || strings.Contains(s, "withdrawn") || strings.Contains(s, "inactiv") {
		return core.StatusWithdrawn
	}
	return core.StatusActive
}
