package ingest

import (
	"fmt"
	"strings"

	"finanzas/internal/core"
)

// Rejection names, shared with the run report and the end-to-end tests.
const (
	ReasonDateMissing         = "date missing"
	ReasonConceptMissing      = "concept missing"
	ReasonCounterpartyMissing = "counterparty missing"
	ReasonQuantityNotPositive = "quantity must be positive"
	ReasonPriceNegative       = "unit price must not be negative"
	ReasonInvalidKind         = "invalid kind"
)

// KnownRefs are the reference identifiers a candidate may point at.
type KnownRefs struct {
	Units map[int64]bool
	Users map[int64]bool
}

// KnownRefsFromRules derives the reference sets the gate checks against:
// configured business units, and every canonical partner identifier as a
// valid creator.
func KnownRefsFromRules(rules *Rules) KnownRefs {
	refs := KnownRefs{
		Units: make(map[int64]bool, len(rules.Units)),
		Users: make(map[int64]bool),
	}
	for _, u := range rules.Units {
		refs.Units[u.ID] = true
	}
	for id := range rules.Roles[RolePartner].Canonical {
		refs.Users[id] = true
	}
	return refs
}

// Gate enforces the persistence invariants on candidate transactions. Every
// check runs independently; all failures are reported together so a run
// report can show every problem with a row at once.
type Gate struct {
	known KnownRefs
}

func NewGate(known KnownRefs) *Gate {
	return &Gate{known: known}
}

// Check returns the full list of invariant violations, or nil when the
// candidate may be persisted. A failing row is never partially inserted.
func (g *Gate) Check(tx core.Transaction) []string {
	var reasons []string

	if tx.Date.IsZero() {
		reasons = append(reasons, ReasonDateMissing)
	}
	if strings.TrimSpace(tx.Concept) == "" {
		reasons = append(reasons, ReasonConceptMissing)
	}
	if strings.TrimSpace(tx.Counterparty) == "" {
		reasons = append(reasons, ReasonCounterpartyMissing)
	}
	// Rejected outright: coercing a bad quantity to 1 would fabricate data.
	if !tx.Quantity.IsPositive() {
		reasons = append(reasons, ReasonQuantityNotPositive)
	}
	if tx.UnitPrice.IsNegative() {
		reasons = append(reasons, ReasonPriceNegative)
	}
	if !g.known.Units[tx.UnitID] {
		reasons = append(reasons, fmt.Sprintf("unknown business unit %d", tx.UnitID))
	}
	if !g.known.Users[tx.CreatedBy] {
		reasons = append(reasons, fmt.Sprintf("unknown creator %d", tx.CreatedBy))
	}
	if !tx.Kind.Valid() {
		reasons = append(reasons, ReasonInvalidKind)
	}

	return reasons
}
