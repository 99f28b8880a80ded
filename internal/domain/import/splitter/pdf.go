package splitter

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrEmptyDocument is returned for a zero-length PDF.
var ErrEmptyDocument = errors.New("empty PDF content")

// TextSource reads page text with ledongthuc/pdf.
type TextSource struct{}

// NewTextSource creates a page text reader.
func NewTextSource() *TextSource { return &TextSource{} }

// Pages returns one entry per page. Pages whose content stream cannot be
// decoded carry an error and empty text.
func (TextSource) Pages(content []byte) ([]Page, error) {
	if len(content) == 0 {
		return nil, ErrEmptyDocument
	}
	r, err := openReader(content)
	if err != nil {
		return nil, err
	}

	n := r.NumPage()
	pages := make([]Page, 0, n)
	for i := 1; i <= n; i++ {
		text, err := pageText(r, i)
		pages = append(pages, Page{Index: i - 1, Text: text, Err: err})
	}
	return pages, nil
}

func openReader(content []byte) (r *pdf.Reader, err error) {
	// the reader panics on some malformed cross-reference tables
	defer func() {
		if rec := recover(); rec != nil {
			r, err = nil, fmt.Errorf("open pdf: %v", rec)
		}
	}()
	r, err = pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return r, nil
}

func pageText(r *pdf.Reader, n int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("page %d: %v", n, rec)
		}
	}()
	page := r.Page(n)
	if page.V.IsNull() {
		return "", fmt.Errorf("page %d: missing page object", n)
	}
	text, err = page.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("page %d: %w", n, err)
	}
	return strings.TrimSpace(text), nil
}

// TrimMaterializer cuts page ranges out of a PDF with pdfcpu.
type TrimMaterializer struct {
	conf *model.Configuration
}

// NewTrimMaterializer creates a materializer with pdfcpu defaults.
func NewTrimMaterializer() *TrimMaterializer {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &TrimMaterializer{conf: conf}
}

// Materialize keeps only the given 0-based pages.
func (m *TrimMaterializer) Materialize(content []byte, pages []int) ([]byte, error) {
	if len(pages) == 0 {
		return nil, errors.New("no pages selected")
	}
	var out bytes.Buffer
	if err := api.Trim(bytes.NewReader(content), &out, PageSelection(pages), m.conf); err != nil {
		return nil, fmt.Errorf("trim pages: %w", err)
	}
	return out.Bytes(), nil
}

// PageSelection converts 0-based page indices into pdfcpu's 1-based
// selection syntax, folding runs into ranges ("3-5").
func PageSelection(pages []int) []string {
	var sel []string
	for i := 0; i < len(pages); {
		j := i
		for j+1 < len(pages) && pages[j+1] == pages[j]+1 {
			j++
		}
		if i == j {
			sel = append(sel, fmt.Sprintf("%d", pages[i]+1))
		} else {
			sel = append(sel, fmt.Sprintf("%d-%d", pages[i]+1, pages[j]+1))
		}
		i = j + 1
	}
	return sel
}
