// Package reconciler links bundle documents to invoice register lines.
//
// A bundle identifier is matched against invoice numbers first, then searched
// for inside the line descriptions. All identifiers are searched in a single
// Aho-Corasick pass per description.
package reconciler

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/cloudflare/ahocorasick"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
)

// Unresolved reasons.
const (
	ReasonNoMatch      = "no invoice number or description matches the identifier"
	ReasonInvoiceTaken = "matching invoice already associated with another bundle"
	ReasonNoIdentifier = "bundle has no identifier"
)

// InvoiceRef is the part of an invoice line the reconciler looks at.
type InvoiceRef struct {
	InvoiceNumber string
	Description   string
}

// RefsFromLines keeps register order.
func RefsFromLines(lines []model.InvoiceLine) []InvoiceRef {
	refs := make([]InvoiceRef, len(lines))
	for i, l := range lines {
		refs[i] = InvoiceRef{InvoiceNumber: l.InvoiceNumber, Description: l.Description}
	}
	return refs
}

// Result maps invoice numbers to their bundle.
type Result struct {
	Associations map[string]model.Association
	Unresolved   []model.UnresolvedBundle
}

// Options tune matching.
type Options struct {
	// WordBoundary requires the identifier to stand alone in the description,
	// so "F12" does not match inside "F123".
	WordBoundary bool
}

// Reconciler matches bundles to invoices.
type Reconciler struct {
	opts   Options
	logger *slog.Logger
}

// New creates a reconciler.
func New(opts Options, logger *slog.Logger) *Reconciler {
	return &Reconciler{opts: opts, logger: logger}
}

// Reconcile associates each bundle with at most one invoice number. The first
// association of an invoice wins; later bundles pointing at it are unresolved.
func (r *Reconciler) Reconcile(invoices []InvoiceRef, bundles []model.InvoiceBundle) Result {
	res := Result{Associations: make(map[string]model.Association)}

	known := make(map[string]bool, len(invoices))
	for _, inv := range invoices {
		known[strings.TrimSpace(inv.InvoiceNumber)] = true
	}

	var pending []model.InvoiceBundle
	for _, b := range bundles {
		id := strings.TrimSpace(b.Identifier)
		switch {
		case id == "":
			r.unresolved(&res, b, ReasonNoIdentifier)
		case known[id]:
			r.associate(&res, id, b, model.MatchExact)
		default:
			pending = append(pending, b)
		}
	}

	if len(pending) == 0 {
		return res
	}

	candidates := r.firstContaining(invoices, pending)
	for i, b := range pending {
		inv, ok := candidates[i]
		if !ok {
			r.unresolved(&res, b, ReasonNoMatch)
			continue
		}
		r.associate(&res, inv, b, model.MatchSubstring)
	}

	return res
}

// firstContaining returns, per pending bundle index, the first invoice number
// whose description contains the bundle identifier.
func (r *Reconciler) firstContaining(invoices []InvoiceRef, pending []model.InvoiceBundle) map[int]string {
	patterns := make([]string, 0, len(pending))
	patternIndex := make(map[string]int, len(pending))
	owners := make([][]int, 0, len(pending))
	for i, b := range pending {
		p := strings.ToUpper(strings.TrimSpace(b.Identifier))
		if idx, ok := patternIndex[p]; ok {
			owners[idx] = append(owners[idx], i)
			continue
		}
		patternIndex[p] = len(patterns)
		patterns = append(patterns, p)
		owners = append(owners, []int{i})
	}

	var boundaries []*regexp.Regexp
	if r.opts.WordBoundary {
		boundaries = make([]*regexp.Regexp, len(patterns))
		for i, p := range patterns {
			boundaries[i] = regexp.MustCompile(`(^|[^A-Z0-9])` + regexp.QuoteMeta(p) + `($|[^A-Z0-9])`)
		}
	}

	matcher := ahocorasick.NewStringMatcher(patterns)
	found := make(map[int]string, len(pending))

	for _, inv := range invoices {
		if len(found) == len(pending) {
			break
		}
		desc := strings.ToUpper(inv.Description)
		for _, idx := range matcher.Match([]byte(desc)) {
			if boundaries != nil && !boundaries[idx].MatchString(desc) {
				continue
			}
			for _, owner := range owners[idx] {
				if _, done := found[owner]; !done {
					found[owner] = strings.TrimSpace(inv.InvoiceNumber)
				}
			}
		}
	}

	return found
}

func (r *Reconciler) associate(res *Result, invoice string, b model.InvoiceBundle, method model.MatchMethod) {
	if prev, taken := res.Associations[invoice]; taken {
		r.logger.Warn("bundle conflicts with an earlier association",
			"invoice", invoice,
			"identifier", b.Identifier,
			"occurrence", b.Occurrence,
			"pages", b.Pages,
			"kept_identifier", prev.Bundle.Identifier,
		)
		res.Unresolved = append(res.Unresolved, model.UnresolvedBundle{Bundle: b, Reason: ReasonInvoiceTaken})
		return
	}
	res.Associations[invoice] = model.Association{InvoiceNumber: invoice, Bundle: b, Method: method}
}

func (r *Reconciler) unresolved(res *Result, b model.InvoiceBundle, reason string) {
	r.logger.Warn("bundle not associated",
		"identifier", b.Identifier,
		"kind", b.Kind,
		"pages", b.Pages,
		"reason", reason,
	)
	res.Unresolved = append(res.Unresolved, model.UnresolvedBundle{Bundle: b, Reason: reason})
}
