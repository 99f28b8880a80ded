// Package model holds the records produced by a charges import.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DocumentType identifies a report inside an import archive.
type DocumentType string

const (
	DocInvoiceRegister       DocumentType = "REG010"
	DocApportionmentRegister DocumentType = "REG114"
	DocBundle                DocumentType = "GED001"
	DocMeterRegister         DocumentType = "EAU008C"
)

// AllDocumentTypes lists document types in processing order.
var AllDocumentTypes = []DocumentType{
	DocInvoiceRegister,
	DocApportionmentRegister,
	DocMeterRegister,
	DocBundle,
}

// ArchiveName is the file name a source report is archived under.
func (d DocumentType) ArchiveName() string {
	switch d {
	case DocInvoiceRegister:
		return "reg010.pdf"
	case DocApportionmentRegister:
		return "reg114.pdf"
	case DocMeterRegister:
		return "eau008c.pdf"
	case DocBundle:
		return "ged001.pdf"
	}
	return string(d) + ".pdf"
}

// RawRow is one table row as extracted, before any interpretation.
// Position is 1-based within the document, page boundaries erased.
type RawRow struct {
	Cells    []string
	Source   string
	Position int
}

// Cell returns the trimmed cell at i, or "" when the row is shorter.
func (r RawRow) Cell(i int) string {
	if i < 0 || i >= len(r.Cells) {
		return ""
	}
	return trimCell(r.Cells[i])
}

// NonEmpty counts cells that carry text.
func (r RawRow) NonEmpty() int {
	n := 0
	for _, c := range r.Cells {
		if trimCell(c) != "" {
			n++
		}
	}
	return n
}

// ControlContext identifies the control period an import belongs to. It is
// supplied by the caller, never inferred from the archive.
type ControlContext struct {
	ControlID       uuid.UUID
	GroupID         uuid.UUID
	GroupIdentifier string
	Year            int
}

// Category is a charge category (poste) declared by a register.
type Category struct {
	Code           string
	Label          string
	SourceDocument string
}

// ApportionmentBase is a named allocation key.
type ApportionmentBase struct {
	Code  string
	Label string
}

// ReviewStatus tracks the audit of an invoice line.
type ReviewStatus string

const (
	StatusPending   ReviewStatus = "pending"
	StatusValidated ReviewStatus = "validated"
	StatusContested ReviewStatus = "contested"
)

// InvoiceLine is one accounting line of the invoice register.
type InvoiceLine struct {
	ID               uuid.UUID
	CategoryCode     string
	InvoiceNumber    string
	JournalCode      string
	AccountNumber    string
	Amount           decimal.Decimal
	Description      string
	PartnerReference string
	SourceDocument   string
	Position         int
	Status           ReviewStatus
	ContestComment   string
	SupplierID       *uuid.UUID
	BundleID         *uuid.UUID
}

// ApportionmentShare is one allocation line of the apportionment register.
type ApportionmentShare struct {
	BaseCode        string
	UnitNumber      string
	AccountNumber   string
	OccupationStart *time.Time
	OccupationEnd   *time.Time
	Share           decimal.Decimal
	Residual        *decimal.Decimal
	SourceDocument  string
	Position        int
}

// ReadingPost groups meter readings under a named post.
type ReadingPost struct {
	Name string
}

// MeterReading is one individual reading of the meter register.
type MeterReading struct {
	PostName       string
	UnitNumber     string
	UnitKind       string
	AccountNumber  string
	MeteringPoint  string
	MeterSerial    string
	ReadingDate    *time.Time
	ValueDate      *time.Time
	ReadingType    string
	Observations   string
	Index          decimal.Decimal
	IndexChange    *decimal.Decimal
	SourceDocument string
	Position       int
}

// BundleKind is the marker family that opened a bundle.
type BundleKind string

const (
	// BundleWorkOrder is a work-order voucher (TYPE_A).
	BundleWorkOrder BundleKind = "BONTRV01"
	// BundleSupplierInvoice is a supplier invoice (TYPE_B).
	BundleSupplierInvoice BundleKind = "FACFOU01"
)

// InvoiceBundle is a contiguous page range of the bundle document that
// belongs to one identifier.
type InvoiceBundle struct {
	ID         uuid.UUID
	Identifier string
	Kind       BundleKind
	// Pages are 0-based page indices in the source document, ascending and contiguous.
	Pages      []int
	Content    []byte
	Text       string
	Occurrence int
	StoredPath string
	// Fields holds values pulled from Text by the supplier's extraction
	// rules, keyed "table.field".
	Fields     map[string]any
}

// FileName is the name the bundle is stored under.
func (b InvoiceBundle) FileName() string {
	if b.Occurrence > 1 {
		return b.Identifier + "_" + string(b.Kind) + "_" + itoa(b.Occurrence) + ".pdf"
	}
	return b.Identifier + "_" + string(b.Kind) + ".pdf"
}

// MatchMethod says how a bundle found its invoice line.
type MatchMethod string

const (
	MatchExact     MatchMethod = "exact"
	MatchSubstring MatchMethod = "substring"
)

// Association links an invoice number to a bundle.
type Association struct {
	InvoiceNumber string
	Bundle        InvoiceBundle
	Method        MatchMethod
}

// UnresolvedBundle is a bundle with no invoice line.
type UnresolvedBundle struct {
	Bundle InvoiceBundle
	Reason string
}
