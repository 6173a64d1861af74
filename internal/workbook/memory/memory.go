// Package memory is an in-memory workbook used by tests and local runs
// without a real spreadsheet.
package memory

import (
	"context"
	"fmt"
	"sync"
)

type Book struct {
	mu       sync.Mutex
	order    []string
	sheets   map[string][][]string
	appended map[string][][]string
}

func New() *Book {
	return &Book{
		sheets:   make(map[string][][]string),
		appended: make(map[string][][]string),
	}
}

// SetSheet installs or replaces a sheet, header row first.
func (b *Book) SetSheet(name string, rows [][]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.sheets[name]; !exists {
		b.order = append(b.order, name)
	}
	b.sheets[name] = rows
}

func (b *Book) Sheets(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.order...), nil
}

func (b *Book) Rows(_ context.Context, sheet string) ([][]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows, ok := b.sheets[sheet]
	if !ok {
		return nil, fmt.Errorf("sheet %q not found", sheet)
	}
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = append([]string(nil), row...)
	}
	return out, nil
}

func (b *Book) AppendRow(_ context.Context, sheet string, cells []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appended[sheet] = append(b.appended[sheet], append([]string(nil), cells...))
	return nil
}

// Appended returns rows written through AppendRow, for test assertions.
func (b *Book) Appended(sheet string) [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]string(nil), b.appended[sheet]...)
}

func (b *Book) Close() error { return nil }
