// Package core provides the domain model shared by the ingestion pipeline,
// the storage layer and the HTTP API.
//
// This file contains parsing helpers for monetary amounts coming from user
// input and spreadsheet cells.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a human-entered amount into a decimal.
//
// It accepts both dot (1234.50) and comma (1234,50) decimal separators, an
// optional leading currency symbol and thousands separators. The sign is
// preserved; rejecting negatives is the validation gate's call, not the
// parser's.
//
// A comma with no dot is ambiguous: the sheets are MXN, where the comma
// groups thousands, so commas sitting on exact three-digit group boundaries
// ("1,500") strip as grouping and anything else ("1500,50") reads as a
// decimal separator.
//
// Examples:
//
//	ParseAmount("1500")      -> 1500, nil
//	ParseAmount("$1,500.00") -> 1500, nil
//	ParseAmount("1,500")     -> 1500, nil
//	ParseAmount("1500,50")   -> 1500.5, nil
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidQuantity
	}
	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		// 1,234.56 style: commas are thousands separators.
		s = strings.ReplaceAll(s, ",", "")
	case thousandsGrouped(s):
		s = strings.ReplaceAll(s, ",", "")
	default:
		// 1234,56 style: the comma is a decimal separator.
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// thousandsGrouped reports whether every comma in s sits on a three-digit
// group boundary, as in "1,500" or "12,345,678".
func thousandsGrouped(s string) bool {
	parts := strings.Split(strings.TrimLeft(s, "+-"), ",")
	if len(parts) < 2 || len(parts[0]) == 0 || len(parts[0]) > 3 {
		return false
	}
	for _, p := range parts[1:] {
		if len(p) != 3 {
			return false
		}
	}
	return true
}

// MustAmount is a test and fixture helper for literal decimal values.
// It panics on malformed input and must not be used on external data.
func MustAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("core: bad amount literal " + s)
	}
	return d
}
