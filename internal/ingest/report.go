package ingest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"finanzas/internal/core"
)

type (
	// Rejection is one row that failed the validation gate or persistence,
	// with every reason attached.
	Rejection struct {
		Sheet   string
		Row     int // 1-based data row within the sheet
		Concept string
		Reasons []string
	}

	// SheetCount tracks per-sheet outcomes.
	SheetCount struct {
		Accepted int
		Rejected int
		Skipped  int
	}

	// GroupKey groups accepted totals by business unit and kind.
	GroupKey struct {
		UnitID int64
		Kind   core.Kind
	}

	GroupTotal struct {
		Count int64
		Total decimal.Decimal
	}

	// Report aggregates one run's outcome. Given the same workbook it is
	// deterministic: counts, totals and rendering order never vary.
	Report struct {
		Accepted   int
		Rejected   int
		Skipped    int
		Warnings   []string
		Sheets     map[string]*SheetCount
		Groups     map[GroupKey]*GroupTotal
		Rejections []Rejection

		unitNames map[int64]string
	}
)

func NewReport(unitNames map[int64]string) *Report {
	return &Report{
		Sheets:    make(map[string]*SheetCount),
		Groups:    make(map[GroupKey]*GroupTotal),
		unitNames: unitNames,
	}
}

func (r *Report) sheet(name string) *SheetCount {
	sc, ok := r.Sheets[name]
	if !ok {
		sc = &SheetCount{}
		r.Sheets[name] = sc
	}
	return sc
}

func (r *Report) AddAccepted(sheet string, tx core.Transaction) {
	r.Accepted++
	r.sheet(sheet).Accepted++

	key := GroupKey{UnitID: tx.UnitID, Kind: tx.Kind}
	gt, ok := r.Groups[key]
	if !ok {
		gt = &GroupTotal{Total: decimal.Zero}
		r.Groups[key] = gt
	}
	gt.Count++
	gt.Total = gt.Total.Add(tx.Total())
}

func (r *Report) AddRejected(rej Rejection) {
	r.Rejected++
	r.sheet(rej.Sheet).Rejected++
	r.Rejections = append(r.Rejections, rej)
}

func (r *Report) AddSkipped(sheet string) {
	r.Skipped++
	r.sheet(sheet).Skipped++
}

func (r *Report) AddWarning(w string) {
	r.Warnings = append(r.Warnings, w)
}

// String renders the human-readable summary: totals, per-sheet counts, and
// accepted amounts grouped by business unit and kind, in stable order.
func (r *Report) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "accepted=%d rejected=%d skipped=%d warnings=%d\n",
		r.Accepted, r.Rejected, r.Skipped, len(r.Warnings))

	sheetNames := make([]string, 0, len(r.Sheets))
	for name := range r.Sheets {
		sheetNames = append(sheetNames, name)
	}
	sort.Strings(sheetNames)
	for _, name := range sheetNames {
		sc := r.Sheets[name]
		fmt.Fprintf(&b, "sheet %-24s accepted=%d rejected=%d skipped=%d\n",
			name, sc.Accepted, sc.Rejected, sc.Skipped)
	}

	keys := make([]GroupKey, 0, len(r.Groups))
	for key := range r.Groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].UnitID != keys[j].UnitID {
			return keys[i].UnitID < keys[j].UnitID
		}
		return keys[i].Kind < keys[j].Kind
	})
	for _, key := range keys {
		gt := r.Groups[key]
		name := r.unitNames[key.UnitID]
		if name == "" {
			name = fmt.Sprintf("unit %d", key.UnitID)
		}
		fmt.Fprintf(&b, "%-16s %-7s count=%d total=%s\n",
			name, key.Kind, gt.Count, gt.Total.StringFixed(2))
	}

	for _, rej := range r.Rejections {
		fmt.Fprintf(&b, "rejected %s row %d (%s): %s\n",
			rej.Sheet, rej.Row, rej.Concept, strings.Join(rej.Reasons, ", "))
	}

	return b.String()
}
