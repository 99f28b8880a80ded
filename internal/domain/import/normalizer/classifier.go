package normalizer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/segmenter"
	"github.com/FACorreiaa/charges-audit/pkg/money"
)

// Stage names where a row can be rejected.
const (
	StageValidate    = "validate"
	StageAttribution = "attribution"
	StageConvert     = "convert"
)

// Rejection is a row excluded from the output, kept for the audit trail.
type Rejection struct {
	Source   string
	Position int
	Stage    string
	Column   string
	Reason   string
	Raw      []string
}

func (r Rejection) Error() string {
	return fmt.Sprintf("%s row %d, %s: %s", r.Source, r.Position, r.Column, r.Reason)
}

// Record is a classified row: raw values by field, the section it belongs to
// and its converted amount.
type Record struct {
	Values   map[string]string
	Context  string
	Amount   decimal.Decimal
	Source   string
	Position int
	Raw      []string
	// origin is the row position in the extracted stream.
	origin int
}

// Get returns the value of a field.
func (r Record) Get(field string) string {
	return r.Values[field]
}

// Classification is the outcome of classifying one document.
type Classification struct {
	Type       model.DocumentType
	Source     string
	Records    []Record
	Headers    []segmenter.Header
	Rejections []Rejection
	Discarded  []model.RawRow
	Truncation *segmenter.Truncation
	TotalRows  int
	EmptyRows  int
	Duplicates int
}

// Classifier runs the classification steps for a profile.
type Classifier struct {
	logger *slog.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(logger *slog.Logger) *Classifier {
	return &Classifier{logger: logger}
}

// Classify filters, validates, deduplicates, attributes and converts rows.
// Zero valid rows is an empty result, not an error.
func (c *Classifier) Classify(rows []model.RawRow, p Profile) *Classification {
	res := &Classification{Type: p.Type, TotalRows: len(rows)}
	if len(rows) > 0 {
		res.Source = rows[0].Source
	}

	seg := segmenter.New(p.Segment, c.logger)

	// 1. rows empty in every column
	kept := make([]model.RawRow, 0, len(rows))
	for _, r := range rows {
		if r.NonEmpty() == 0 || allMissing(r) {
			res.EmptyRows++
			continue
		}
		kept = append(kept, r)
	}

	// Block layouts resolve sections before validation: header rows are
	// consumed here and never reach the amount check.
	var details []segmenter.Detail
	if p.Segment.Mode == segmenter.ModeBlock {
		sr := seg.Segment(kept)
		res.Headers = sr.Headers
		res.Discarded = sr.Discarded
		res.Truncation = sr.Truncated
		details = sr.Details
	} else {
		details = make([]segmenter.Detail, len(kept))
		for i, r := range kept {
			details[i] = segmenter.Detail{Row: r}
		}
	}

	// 2. value validation
	valid := details[:0:0]
	for _, d := range details {
		if rej, ok := c.validate(d.Row, p); !ok {
			res.Rejections = append(res.Rejections, rej)
			continue
		}
		valid = append(valid, d)
	}

	// 3. first deduplication pass
	withContext := p.Segment.Mode == segmenter.ModeBlock
	valid, dups := dedup(valid, p, withContext)
	res.Duplicates += dups

	// 4. forward-fill of the section column for inline layouts
	if p.Segment.Mode == segmenter.ModeInline {
		raw := make([]model.RawRow, len(valid))
		for i, d := range valid {
			raw[i] = d.Row
		}
		sr := seg.Segment(raw)
		res.Headers = sr.Headers
		res.Discarded = sr.Discarded
		res.Truncation = sr.Truncated
		valid = sr.Details
	}

	// 5. conversion, 6. source and position, 7. attribution
	records := make([]Record, 0, len(valid))
	for _, d := range valid {
		rec := Record{
			Values:  make(map[string]string, len(p.Columns)),
			Context: d.Context,
			Source:  d.Row.Source,
			Raw:     d.Row.Cells,
			origin:  d.Row.Position,
		}
		for _, col := range p.Columns {
			rec.Values[col.Field] = cleanCell(d.Row.Cell(col.Index))
		}

		if p.AmountField != "" {
			amount, err := money.ParseStrict(rec.Get(p.AmountField))
			if err != nil {
				res.Rejections = append(res.Rejections, c.reject(d.Row, StageConvert, p.AmountField, err.Error()))
				continue
			}
			rec.Amount = amount
		}
		records = append(records, rec)
	}

	for i := range records {
		records[i].Position = i + 1
	}

	attributed := records[:0:0]
	for _, rec := range records {
		if rec.Context == "" {
			res.Rejections = append(res.Rejections, Rejection{
				Source:   rec.Source,
				Position: rec.origin,
				Stage:    StageAttribution,
				Column:   "section",
				Reason:   "row precedes any section header",
				Raw:      rec.Raw,
			})
			c.logger.Warn("row rejected",
				"file", rec.Source,
				"position", rec.origin,
				"stage", StageAttribution,
				"raw", rec.Raw,
			)
			continue
		}
		attributed = append(attributed, rec)
	}

	// 8. second deduplication pass, with the section in the key
	final, dups := dedupRecords(attributed, p)
	res.Duplicates += dups
	for i := range final {
		final[i].Position = i + 1
	}
	res.Records = final

	c.logger.Info("document classified",
		"file", res.Source,
		"type", p.Type,
		"rows", res.TotalRows,
		"records", len(res.Records),
		"rejected", len(res.Rejections),
		"duplicates", res.Duplicates,
		"discarded", len(res.Discarded),
		"truncated", res.Truncation != nil,
	)

	return res
}

func (c *Classifier) validate(row model.RawRow, p Profile) (Rejection, bool) {
	if p.AmountField != "" {
		v := row.Cell(p.index(p.AmountField))
		if !money.IsStrictAmount(v) {
			return c.reject(row, StageValidate, p.AmountField, fmt.Sprintf("invalid amount %q", v)), false
		}
	}
	for _, f := range p.IntegerFields {
		v := row.Cell(p.index(f))
		if !money.IsInteger(v) {
			return c.reject(row, StageValidate, f, fmt.Sprintf("not an integer %q", v)), false
		}
	}
	return Rejection{}, true
}

func (c *Classifier) reject(row model.RawRow, stage, column, reason string) Rejection {
	c.logger.Warn("row rejected",
		"file", row.Source,
		"position", row.Position,
		"stage", stage,
		"column", column,
		"reason", reason,
		"raw", row.Cells,
	)
	return Rejection{
		Source:   row.Source,
		Position: row.Position,
		Stage:    stage,
		Column:   column,
		Reason:   reason,
		Raw:      row.Cells,
	}
}

func allMissing(r model.RawRow) bool {
	for _, c := range r.Cells {
		if !segmenter.IsMissing(c) {
			return false
		}
	}
	return true
}

func dedup(details []segmenter.Detail, p Profile, withContext bool) ([]segmenter.Detail, int) {
	seen := make(map[string]bool, len(details))
	out := details[:0:0]
	for _, d := range details {
		parts := make([]string, 0, len(p.KeyFields)+1)
		for _, f := range p.KeyFields {
			parts = append(parts, keyValue(f, d.Row.Cell(p.index(f)), p))
		}
		if withContext {
			parts = append(parts, d.Context)
		}
		k := strings.Join(parts, "\x1f")
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, d)
	}
	return out, len(details) - len(out)
}

func dedupRecords(records []Record, p Profile) ([]Record, int) {
	seen := make(map[string]bool, len(records))
	out := records[:0:0]
	for _, r := range records {
		parts := make([]string, 0, len(p.KeyFields)+1)
		for _, f := range p.KeyFields {
			parts = append(parts, keyValue(f, r.Get(f), p))
		}
		parts = append(parts, r.Context)
		k := strings.Join(parts, "\x1f")
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out, len(records) - len(out)
}

// keyValue normalizes amounts so "50.5" and "50.50" collide.
func keyValue(field, v string, p Profile) string {
	v = cleanCell(v)
	if field == p.AmountField {
		if d, err := money.ParseStrict(v); err == nil {
			return money.FormatCents(d)
		}
	}
	return v
}

// cleanCell collapses line breaks and runs of spaces left by the scan.
func cleanCell(v string) string {
	return strings.Join(strings.Fields(v), " ")
}
