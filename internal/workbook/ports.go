// Package workbook abstracts where spreadsheet data comes from. The
// ingestion pipeline reads rows through the Source port; the excel, google
// and memory subpackages provide the adapters.
package workbook

import "context"

type (
	// Source is a read-only workbook: named sheets of raw string cells.
	// The first row of every sheet is its header. Cell values are raw
	// (date serials stay numeric), normalization is the pipeline's job.
	Source interface {
		// Sheets lists the workbook's sheet names in workbook order.
		Sheets(ctx context.Context) ([]string, error)

		// Rows returns every row of the named sheet, header first.
		Rows(ctx context.Context, sheet string) ([][]string, error)

		Close() error
	}

	// Appender writes rows to a ledger sheet. Used by the worker to mirror
	// recorded payments out to a shared spreadsheet.
	Appender interface {
		AppendRow(ctx context.Context, sheet string, cells []string) error
	}
)
