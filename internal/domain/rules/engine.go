package rules

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/charges-audit/pkg/money"
)

// ExtractionDateLayouts are tried in order on fields named like a date.
var ExtractionDateLayouts = []string{
	"02/01/2006",
	"02-01-2006",
	"2006-01-02",
	"02.01.2006",
	"02 01 2006",
}

// RuleError reports a rule whose pattern does not compile.
type RuleError struct {
	RuleID uuid.UUID
	Field  string
	Err    error
}

func (e RuleError) Error() string {
	return fmt.Sprintf("rule %s (%s): %v", e.RuleID, e.Field, e.Err)
}

func (e RuleError) Unwrap() error { return e.Err }

// Extraction holds converted values by target table then field. A value is a
// time.Time, a decimal.Decimal or a string; conversions that fail yield nil.
type Extraction struct {
	Values map[InvoiceKind]map[string]any
	Errors []RuleError
}

// Flatten returns values keyed "table.field", skipping nil conversions.
func (e *Extraction) Flatten() map[string]any {
	out := make(map[string]any)
	for table, fields := range e.Values {
		for field, v := range fields {
			if v != nil {
				out[string(table)+"."+field] = v
			}
		}
	}
	return out
}

// Engine applies extraction rules. Compiled patterns are cached by source.
type Engine struct {
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

// NewEngine creates an extraction engine.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logger, cache: make(map[string]*regexp.Regexp)}
}

func (e *Engine) compile(pattern string) (*regexp.Regexp, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if re, ok := e.cache[pattern]; ok {
		return re, nil
	}
	re, err := compileRule(pattern)
	if err != nil {
		return nil, err
	}
	e.cache[pattern] = re
	return re, nil
}

// compileRule makes patterns case-insensitive and line-anchored.
func compileRule(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?im)" + pattern)
}

// Apply runs every active rule against text. A broken pattern is reported
// in Errors and does not stop the other rules.
func (e *Engine) Apply(text string, rules []Rule) *Extraction {
	out := &Extraction{Values: make(map[InvoiceKind]map[string]any)}

	for _, r := range rules {
		if !r.Active {
			continue
		}
		re, err := e.compile(r.Regex)
		if err != nil {
			e.logger.Error("invalid extraction rule", "rule_id", r.ID, "field", r.TargetField, "error", err)
			out.Errors = append(out.Errors, RuleError{RuleID: r.ID, Field: r.TargetField, Err: err})
			continue
		}

		raw, ok := firstMatch(re, text)
		if !ok {
			e.logger.Debug("extraction rule did not match", "rule_id", r.ID, "field", r.TargetField)
			continue
		}

		if out.Values[r.TargetTable] == nil {
			out.Values[r.TargetTable] = make(map[string]any)
		}
		value := ConvertValue(raw, r.TargetField)
		out.Values[r.TargetTable][r.TargetField] = value
		e.logger.Debug("field extracted", "table", r.TargetTable, "field", r.TargetField, "raw", raw)
	}

	return out
}

// TestRule runs a single pattern the way Apply would, for the rule editor.
func TestRule(pattern, text string) (string, bool, error) {
	re, err := compileRule(pattern)
	if err != nil {
		return "", false, fmt.Errorf("invalid pattern: %w", err)
	}
	v, ok := firstMatch(re, text)
	return v, ok, nil
}

// firstMatch returns capture group 1 when the pattern has groups, else the
// whole match.
func firstMatch(re *regexp.Regexp, text string) (string, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	if len(m) > 1 {
		return m[1], true
	}
	return m[0], true
}

// ConvertValue types a raw value from its field name: "date" fields become
// time.Time, "index" and "montant"/"amount" fields decimal.Decimal.
func ConvertValue(raw, field string) any {
	raw = strings.TrimSpace(raw)
	name := strings.ToLower(field)

	switch {
	case strings.Contains(name, "date"):
		for _, layout := range ExtractionDateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t
			}
		}
		return nil
	case strings.Contains(name, "index"), strings.Contains(name, "montant"), strings.Contains(name, "amount"):
		d, err := money.ParseLoose(raw)
		if err != nil {
			return nil
		}
		return d
	}
	return raw
}
