// Package extractor turns a register PDF into an ordered sequence of raw rows.
// It knows nothing about what the rows mean; the table engine is pluggable.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
)

var (
	// ErrNoTables is reported when the engine finds no table in the document.
	ErrNoTables = errors.New("no tables found")
	// ErrTooFewColumns is reported when the widest row is narrower than the layout minimum.
	ErrTooFewColumns = errors.New("too few columns")
)

// Table is one table as returned by an engine. Page is 1-based, 0 when unknown.
type Table struct {
	Page int
	Rows [][]string
}

// TableEngine finds ruled tables in a PDF.
type TableEngine interface {
	ExtractTables(ctx context.Context, pdfPath string) ([]Table, error)
}

// MinColumns is the narrowest table accepted per document type.
var MinColumns = map[model.DocumentType]int{
	model.DocInvoiceRegister:       7,
	model.DocApportionmentRegister: 6,
	model.DocMeterRegister:         11,
}

// Extraction is the outcome of extracting one document. When Issue is set
// the document was structurally unusable and Rows is empty.
type Extraction struct {
	Source  string
	Rows    []model.RawRow
	Tables  int
	Columns int
	Issue   error
}

// Empty reports whether no row was produced.
func (e *Extraction) Empty() bool {
	return len(e.Rows) == 0
}

// Extractor wraps a TableEngine with structural checks.
type Extractor struct {
	engine     TableEngine
	logger     *slog.Logger
	minColumns map[model.DocumentType]int
}

// New creates an extractor using the default column minimums.
func New(engine TableEngine, logger *slog.Logger) *Extractor {
	mins := make(map[model.DocumentType]int, len(MinColumns))
	for k, v := range MinColumns {
		mins[k] = v
	}
	return &Extractor{engine: engine, logger: logger, minColumns: mins}
}

// WithMinColumns overrides the minimum for one document type.
func (e *Extractor) WithMinColumns(doc model.DocumentType, n int) *Extractor {
	e.minColumns[doc] = n
	return e
}

// Extract reads every table of the document in page order and concatenates
// their rows. Structural problems are reported through Extraction.Issue and
// logged; only engine or I/O failures are returned as errors.
func (e *Extractor) Extract(ctx context.Context, path, source string, doc model.DocumentType) (*Extraction, error) {
	tables, err := e.engine.ExtractTables(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to extract tables from %s: %w", source, err)
	}

	result := &Extraction{Source: source, Tables: len(tables)}

	if len(tables) == 0 {
		result.Issue = ErrNoTables
		e.logger.Warn("document has no tables", "file", source, "type", doc)
		return result, nil
	}

	// Engines report tables page by page; keep that order stable when a page
	// number is missing.
	sort.SliceStable(tables, func(i, j int) bool {
		return tables[i].Page < tables[j].Page
	})

	for _, t := range tables {
		for _, cells := range t.Rows {
			if len(cells) > result.Columns {
				result.Columns = len(cells)
			}
		}
	}

	if minCols := e.minColumns[doc]; result.Columns < minCols {
		result.Issue = fmt.Errorf("%w: %d < %d", ErrTooFewColumns, result.Columns, minCols)
		e.logger.Warn("document has too few columns",
			"file", source,
			"type", doc,
			"columns", result.Columns,
			"min_columns", minCols,
		)
		return result, nil
	}

	pos := 0
	for _, t := range tables {
		for _, cells := range t.Rows {
			pos++
			result.Rows = append(result.Rows, model.RawRow{
				Cells:    append([]string(nil), cells...),
				Source:   source,
				Position: pos,
			})
		}
	}

	e.logger.Debug("document extracted",
		"file", source,
		"tables", result.Tables,
		"rows", len(result.Rows),
		"columns", result.Columns,
	)

	return result, nil
}
