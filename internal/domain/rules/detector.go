package rules

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
)

// DetectionMethod says how a supplier was recognised.
type DetectionMethod string

const (
	DetectedByRegex DetectionMethod = "regex"
	DetectedByName  DetectionMethod = "name"
)

// maxNameDistance bounds the extra characters a fuzzy name hit may carry.
const maxNameDistance = 2

// Detection is a supplier recognised on an invoice line.
type Detection struct {
	Supplier Supplier
	Method   DetectionMethod
}

type compiledSupplier struct {
	Supplier
	re *regexp.Regexp
}

// Detector recognises suppliers on invoice lines. Regex detection is tried on
// every supplier first; the supplier name matched fuzzily is the fallback.
type Detector struct {
	suppliers []compiledSupplier
	logger    *slog.Logger
}

// NewDetector compiles supplier patterns. A supplier with a broken pattern
// is still detectable by name.
func NewDetector(suppliers []Supplier, logger *slog.Logger) *Detector {
	d := &Detector{logger: logger}
	for _, s := range suppliers {
		cs := compiledSupplier{Supplier: s}
		if s.DetectionRegex != nil && *s.DetectionRegex != "" {
			re, err := regexp.Compile("(?i)" + *s.DetectionRegex)
			if err != nil {
				logger.Warn("invalid supplier detection pattern", "supplier", s.Name, "error", err)
			} else {
				cs.re = re
			}
		}
		d.suppliers = append(d.suppliers, cs)
	}
	return d
}

// Detect returns the supplier of a line, if any.
func (d *Detector) Detect(line model.InvoiceLine) (Detection, bool) {
	for _, s := range d.suppliers {
		if s.re == nil {
			continue
		}
		if v := FieldValue(line, s.DetectionField); v != "" && s.re.MatchString(v) {
			return Detection{Supplier: s.Supplier, Method: DetectedByRegex}, true
		}
	}

	best, bestRank := -1, maxNameDistance+1
	for i, s := range d.suppliers {
		v := FieldValue(line, s.DetectionField)
		if v == "" {
			continue
		}
		if rank := nameRank(s.Name, v); rank >= 0 && rank < bestRank {
			best, bestRank = i, rank
		}
	}
	if best < 0 {
		return Detection{}, false
	}
	return Detection{Supplier: d.suppliers[best].Supplier, Method: DetectedByName}, true
}

// DetectAll maps invoice numbers to suppliers. The first line of an invoice
// that yields a detection decides.
func (d *Detector) DetectAll(lines []model.InvoiceLine) map[string]Detection {
	out := make(map[string]Detection)
	for _, l := range lines {
		if _, done := out[l.InvoiceNumber]; done {
			continue
		}
		if det, ok := d.Detect(l); ok {
			out[l.InvoiceNumber] = det
		}
	}
	d.logger.Info("suppliers detected", "lines", len(lines), "invoices", len(out))
	return out
}

// nameRank compares the supplier name with every window of as many words in
// value. It returns the smallest fuzzy distance, or -1 without a close hit.
func nameRank(name, value string) int {
	nameWords := strings.Fields(name)
	words := strings.Fields(value)
	n := len(nameWords)
	if n == 0 || len(words) < n {
		return -1
	}

	target := strings.Join(nameWords, " ")
	best := -1
	for i := 0; i+n <= len(words); i++ {
		window := strings.Join(words[i:i+n], " ")
		rank := fuzzy.RankMatchNormalizedFold(target, window)
		if rank < 0 || rank > maxNameDistance {
			continue
		}
		if best < 0 || rank < best {
			best = rank
		}
	}
	return best
}

// FieldValue reads an invoice line field by name. Both the column names of
// the register and the record field names are accepted.
func FieldValue(line model.InvoiceLine, field string) string {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "", "description", "libelle_ecriture":
		return line.Description
	case "invoice_number", "numero_facture":
		return line.InvoiceNumber
	case "journal_code", "code_journal":
		return line.JournalCode
	case "account_number", "numero_compte_comptable":
		return line.AccountNumber
	case "partner_reference", "references_partenaire_facture":
		return line.PartnerReference
	case "category", "nature":
		return line.CategoryCode
	}
	return ""
}
