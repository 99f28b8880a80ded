// Package segmenter splits a register row stream into section headers and the
// detail rows that belong to them.
//
// Two layouts exist. In block layout a header is a row of its own whose first
// cell reads "CODE - Label"; every following row belongs to it until the next
// header. In inline layout every row carries its section in the first cell,
// blank when the scan printed it once for a run of rows; blanks are filled
// from the last value seen.
package segmenter

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
)

// Mode selects how headers are laid out in the stream.
type Mode string

const (
	ModeBlock  Mode = "block"
	ModeInline Mode = "inline"
)

// DefaultHeaderPattern matches "CODE - Label" section headers.
var DefaultHeaderPattern = regexp.MustCompile(`^([A-Z][A-Z0-9]+) - (.+)$`)

// missing lists placeholders the table engine emits for blank cells.
var missing = map[string]bool{
	"":     true,
	"nan":  true,
	"NaN":  true,
	"None": true,
	"null": true,
	"<NA>": true,
}

// IsMissing reports whether a cell is a blank placeholder.
func IsMissing(v string) bool {
	return missing[strings.TrimSpace(v)]
}

// Config describes one layout.
type Config struct {
	Mode Mode
	// HeaderPattern is matched against the context column. Group 1 is the code,
	// group 2 (optional) the label.
	HeaderPattern *regexp.Regexp
	// ContextColumn holds headers (block) or section values (inline).
	ContextColumn int
	// WideRowThreshold discards rows with at least that many non-empty cells.
	// Zero disables the check.
	WideRowThreshold int
	// TruncateOnRepeat stops the document at a header code already seen.
	// When false a repeated header only switches the current section back.
	TruncateOnRepeat bool
}

// Header is a section header found in the stream.
type Header struct {
	Code     string
	Label    string
	Position int
}

// Detail is a non-header row with the section it was attributed to.
// Context is empty when the row came before any header.
type Detail struct {
	Row     model.RawRow
	Context string
}

// Attributed reports whether the row has a section.
func (d Detail) Attributed() bool {
	return d.Context != ""
}

// Truncation records where a repeated header stopped the document.
type Truncation struct {
	Code     string
	Position int
	Dropped  int
}

// Result is the partition of a row stream.
type Result struct {
	Headers   []Header
	Details   []Detail
	Discarded []model.RawRow
	Truncated *Truncation
}

// Segmenter partitions rows according to a Config.
type Segmenter struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a segmenter. A nil HeaderPattern uses DefaultHeaderPattern.
func New(cfg Config, logger *slog.Logger) *Segmenter {
	if cfg.HeaderPattern == nil {
		cfg.HeaderPattern = DefaultHeaderPattern
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeBlock
	}
	return &Segmenter{cfg: cfg, logger: logger}
}

// Config returns the layout in use.
func (s *Segmenter) Config() Config {
	return s.cfg
}

// ParseHeader matches a value against the header pattern.
func (s *Segmenter) ParseHeader(value string) (Header, bool) {
	m := s.cfg.HeaderPattern.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return Header{}, false
	}
	h := Header{Code: strings.TrimSpace(m[1])}
	if len(m) > 2 {
		h.Label = strings.TrimSpace(m[2])
	} else {
		h.Label = h.Code
	}
	return h, true
}

// Segment walks rows once, carrying the last seen header.
func (s *Segmenter) Segment(rows []model.RawRow) Result {
	var (
		res     Result
		current string
		seen    = make(map[string]bool)
	)

	for i, row := range rows {
		if s.isWide(row) {
			res.Discarded = append(res.Discarded, row)
			s.logger.Debug("wide row discarded",
				"file", row.Source,
				"position", row.Position,
				"non_empty", row.NonEmpty(),
			)
			continue
		}

		value := row.Cell(s.cfg.ContextColumn)

		var (
			header   Header
			isHeader bool
		)
		switch s.cfg.Mode {
		case ModeInline:
			if IsMissing(value) {
				res.Details = append(res.Details, Detail{Row: row, Context: current})
				continue
			}
			header, isHeader = s.ParseHeader(value)
			if !isHeader {
				// Free-text section names are kept as they are.
				header = Header{Code: value, Label: value}
			}
			header.Position = row.Position
			if header.Code == current {
				res.Details = append(res.Details, Detail{Row: row, Context: current})
				continue
			}
		default:
			header, isHeader = s.ParseHeader(value)
			if !isHeader {
				res.Details = append(res.Details, Detail{Row: row, Context: current})
				continue
			}
			header.Position = row.Position
		}

		if seen[header.Code] {
			if s.cfg.TruncateOnRepeat {
				res.Truncated = &Truncation{
					Code:     header.Code,
					Position: row.Position,
					Dropped:  len(rows) - i,
				}
				s.logger.Warn("repeated section header, document truncated",
					"file", row.Source,
					"position", row.Position,
					"code", header.Code,
					"dropped_rows", len(rows)-i,
					"raw", row.Cells,
				)
				return res
			}
			current = header.Code
			if s.cfg.Mode == ModeInline {
				res.Details = append(res.Details, Detail{Row: row, Context: current})
			}
			continue
		}

		seen[header.Code] = true
		current = header.Code
		res.Headers = append(res.Headers, header)

		if s.cfg.Mode == ModeInline {
			res.Details = append(res.Details, Detail{Row: row, Context: current})
		}
	}

	return res
}

func (s *Segmenter) isWide(row model.RawRow) bool {
	if s.cfg.WideRowThreshold <= 0 {
		return false
	}
	n := 0
	for _, c := range row.Cells {
		if !IsMissing(c) {
			n++
		}
	}
	return n >= s.cfg.WideRowThreshold
}
