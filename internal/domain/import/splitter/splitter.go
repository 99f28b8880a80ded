// Package splitter cuts the document bundle into one PDF per invoice
// identifier. Each page is scanned for a voucher marker; a marker with a new
// identifier starts a bundle, pages without a marker extend the open one.
package splitter

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/google/uuid"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
)

var (
	workOrderMarker       = regexp.MustCompile(`\d+\s*\)\s*BONTRV01\s+([A-Z0-9]+)/.*BONTRV01`)
	supplierInvoiceMarker = regexp.MustCompile(`\d+\s*\)\s*FACFOU01\s+([A-Z0-9]+)/.*FACFOU01`)
)

// Marker is a voucher marker found on a page.
type Marker struct {
	Kind       model.BundleKind
	Identifier string
}

// DetectMarker looks for a marker in page text. Work-order markers win when
// both kinds are present.
func DetectMarker(text string) (Marker, bool) {
	if m := workOrderMarker.FindStringSubmatch(text); m != nil {
		return Marker{Kind: model.BundleWorkOrder, Identifier: m[1]}, true
	}
	if m := supplierInvoiceMarker.FindStringSubmatch(text); m != nil {
		return Marker{Kind: model.BundleSupplierInvoice, Identifier: m[1]}, true
	}
	return Marker{}, false
}

// Page is the extracted text of one page. Index is 0-based.
type Page struct {
	Index int
	Text  string
	Err   error
}

// PageSource reads the text of every page.
type PageSource interface {
	Pages(content []byte) ([]Page, error)
}

// PageMaterializer writes a standalone PDF holding the given 0-based pages.
type PageMaterializer interface {
	Materialize(content []byte, pages []int) ([]byte, error)
}

// Result is the outcome of splitting a bundle document.
type Result struct {
	Bundles         []model.InvoiceBundle
	OrphanPages     []int
	UnreadablePages []int
	PageCount       int
}

// Splitter groups pages into bundles.
type Splitter struct {
	source       PageSource
	materializer PageMaterializer
	logger       *slog.Logger
}

// New creates a splitter.
func New(source PageSource, materializer PageMaterializer, logger *slog.Logger) *Splitter {
	return &Splitter{source: source, materializer: materializer, logger: logger}
}

type state int

const (
	noCurrentBundle state = iota
	accumulating
)

// Split walks the pages once. A page that cannot be read counts as a page
// without marker.
func (s *Splitter) Split(ctx context.Context, content []byte, sourceName string) (*Result, error) {
	pages, err := s.source.Pages(content)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle document %s: %w", sourceName, err)
	}

	res := &Result{PageCount: len(pages)}

	var (
		st          = noCurrentBundle
		current     model.InvoiceBundle
		occurrences = make(map[string]int)
	)

	closeCurrent := func() error {
		if st != accumulating {
			return nil
		}
		b, err := s.materialize(content, current)
		if err != nil {
			return err
		}
		res.Bundles = append(res.Bundles, b)
		st = noCurrentBundle
		return nil
	}

	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if page.Err != nil {
			res.UnreadablePages = append(res.UnreadablePages, page.Index)
			s.logger.Warn("bundle page unreadable",
				"file", sourceName,
				"page", page.Index+1,
				"error", page.Err,
			)
		}

		marker, found := DetectMarker(page.Text)
		switch {
		case found && (st == noCurrentBundle || marker.Identifier != current.Identifier):
			if err := closeCurrent(); err != nil {
				return nil, err
			}
			key := string(marker.Kind) + "/" + marker.Identifier
			occurrences[key]++
			if occurrences[key] > 1 {
				s.logger.Warn("bundle identifier reappears after another identifier",
					"file", sourceName,
					"page", page.Index+1,
					"identifier", marker.Identifier,
					"kind", marker.Kind,
					"occurrence", occurrences[key],
				)
			}
			current = model.InvoiceBundle{
				ID:         uuid.New(),
				Identifier: marker.Identifier,
				Kind:       marker.Kind,
				Pages:      []int{page.Index},
				Text:       page.Text,
				Occurrence: occurrences[key],
			}
			st = accumulating

		case st == accumulating:
			current.Pages = append(current.Pages, page.Index)
			current.Text += "\n" + page.Text

		default:
			res.OrphanPages = append(res.OrphanPages, page.Index)
			s.logger.Warn("bundle page before any marker dropped",
				"file", sourceName,
				"page", page.Index+1,
			)
		}
	}

	if err := closeCurrent(); err != nil {
		return nil, err
	}

	s.logger.Info("bundle document split",
		"file", sourceName,
		"pages", res.PageCount,
		"bundles", len(res.Bundles),
		"orphan_pages", len(res.OrphanPages),
		"unreadable_pages", len(res.UnreadablePages),
	)

	return res, nil
}

func (s *Splitter) materialize(content []byte, b model.InvoiceBundle) (model.InvoiceBundle, error) {
	out, err := s.materializer.Materialize(content, b.Pages)
	if err != nil {
		return b, fmt.Errorf("failed to materialize bundle %s (pages %v): %w", b.Identifier, b.Pages, err)
	}
	b.Content = out
	return b, nil
}
