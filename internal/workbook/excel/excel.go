// Package excel reads .xlsx workbooks from disk through excelize.
package excel

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

type Book struct {
	file *excelize.File
	path string
}

// Open opens the workbook at path. Cells are read raw so date cells come
// back as serial numbers for the pipeline's date normalizer.
func Open(path string) (*Book, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	return &Book{file: f, path: path}, nil
}

func (b *Book) Sheets(_ context.Context) ([]string, error) {
	return b.file.GetSheetList(), nil
}

func (b *Book) Rows(_ context.Context, sheet string) ([][]string, error) {
	rows, err := b.file.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q of %s: %w", sheet, b.path, err)
	}
	return rows, nil
}

func (b *Book) Close() error {
	return b.file.Close()
}
