// Package search keeps a full-text index of bundle text and invoice line
// descriptions so reviewers can find the document behind a charge.
package search

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
)

// Document types.
const (
	TypeBundle  = "bundle"
	TypeInvoice = "invoice"
)

// Document is one indexed bundle or invoice line.
type Document struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	ControlID     string `json:"control_id"`
	Identifier    string `json:"identifier"`     // bundle identifier
	Kind          string `json:"kind"`           // bundle marker kind
	InvoiceNumber string `json:"invoice_number"` // invoice lines, and bundles once associated
	Category      string `json:"category"`
	Text          string `json:"text"`
	StoredPath    string `json:"stored_path"`
}

// Result is a search hit with relevance score
type Result struct {
	Document Document
	Score    float64
}

// Index provides full-text search using Bleve.
type Index struct {
	index bleve.Index
	mu    sync.RWMutex
	path  string // empty for in-memory
}

// NewIndex opens the index at path, creating it when missing. An empty path
// creates an in-memory index.
func NewIndex(path string) (*Index, error) {
	var (
		index bleve.Index
		err   error
	)

	indexMapping := buildIndexMapping()

	if path == "" {
		index, err = bleve.NewMemOnly(indexMapping)
	} else if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		if mkdirErr := os.MkdirAll(filepath.Dir(path), 0o755); mkdirErr != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", mkdirErr)
		}
		index, err = bleve.New(path, indexMapping)
	} else {
		index, err = bleve.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &Index{index: index, path: path}, nil
}

// buildIndexMapping keeps identifiers as single keyword tokens and runs the
// standard analyzer on text, which keeps mixed letter/digit tokens whole.
func buildIndexMapping() mapping.IndexMapping {
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name

	keywordFieldMapping := bleve.NewTextFieldMapping()
	keywordFieldMapping.Analyzer = keyword.Name

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("type", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("control_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("identifier", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("kind", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("invoice_number", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("category", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	docMapping.AddFieldMappingsAt("stored_path", keywordFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}

// IndexImport indexes the bundles and invoice lines of one import run.
// Bundles carry the invoice number they were associated with.
func (si *Index) IndexImport(controlID uuid.UUID, lines []model.InvoiceLine, bundles []model.InvoiceBundle, associations map[string]model.Association) error {
	si.mu.Lock()
	defer si.mu.Unlock()

	invoiceByBundle := make(map[uuid.UUID]string, len(associations))
	for invoice, a := range associations {
		invoiceByBundle[a.Bundle.ID] = invoice
	}

	batch := si.index.NewBatch()
	control := controlID.String()

	for _, b := range bundles {
		doc := Document{
			ID:            "bundle_" + b.ID.String(),
			Type:          TypeBundle,
			ControlID:     control,
			Identifier:    b.Identifier,
			Kind:          string(b.Kind),
			InvoiceNumber: invoiceByBundle[b.ID],
			Text:          b.Text,
			StoredPath:    b.StoredPath,
		}
		if err := batch.Index(doc.ID, doc); err != nil {
			return fmt.Errorf("failed to index bundle %s: %w", b.Identifier, err)
		}
	}

	for i, l := range lines {
		id := l.ID.String()
		if l.ID == uuid.Nil {
			id = fmt.Sprintf("%s_%s_%d", control, l.SourceDocument, i)
		}
		doc := Document{
			ID:            "invoice_" + id,
			Type:          TypeInvoice,
			ControlID:     control,
			InvoiceNumber: l.InvoiceNumber,
			Category:      l.CategoryCode,
			Text:          strings.TrimSpace(l.Description + " " + l.PartnerReference),
		}
		if err := batch.Index(doc.ID, doc); err != nil {
			return fmt.Errorf("failed to index invoice %s: %w", l.InvoiceNumber, err)
		}
	}

	if err := si.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch index: %w", err)
	}
	return nil
}

// Search matches text with typo tolerance, and identifiers or invoice
// numbers exactly. A non-nil controlID restricts hits to that period.
func (si *Index) Search(text string, controlID *uuid.UUID, limit int) ([]Result, error) {
	si.mu.RLock()
	defer si.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	matchQuery := bleve.NewMatchQuery(text)
	matchQuery.SetField("text")
	matchQuery.SetFuzziness(1)

	identifierQuery := bleve.NewTermQuery(strings.ToUpper(strings.TrimSpace(text)))
	identifierQuery.SetField("identifier")

	invoiceQuery := bleve.NewTermQuery(strings.TrimSpace(text))
	invoiceQuery.SetField("invoice_number")

	var q query.Query = bleve.NewDisjunctionQuery(matchQuery, identifierQuery, invoiceQuery)
	if controlID != nil {
		controlQuery := bleve.NewTermQuery(controlID.String())
		controlQuery.SetField("control_id")
		q = bleve.NewConjunctionQuery(q, controlQuery)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"*"}

	res, err := si.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc := Document{ID: hit.ID}
		doc.Type, _ = hit.Fields["type"].(string)
		doc.ControlID, _ = hit.Fields["control_id"].(string)
		doc.Identifier, _ = hit.Fields["identifier"].(string)
		doc.Kind, _ = hit.Fields["kind"].(string)
		doc.InvoiceNumber, _ = hit.Fields["invoice_number"].(string)
		doc.Category, _ = hit.Fields["category"].(string)
		doc.Text, _ = hit.Fields["text"].(string)
		doc.StoredPath, _ = hit.Fields["stored_path"].(string)
		results = append(results, Result{Document: doc, Score: hit.Score})
	}
	return results, nil
}

// DocumentCount returns the number of documents in the index
func (si *Index) DocumentCount() (uint64, error) {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return si.index.DocCount()
}

// Close closes the index
func (si *Index) Close() error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if si.index != nil {
		return si.index.Close()
	}
	return nil
}
