// Package rules detects the supplier behind an invoice line and pulls
// typed fields out of bundle text with per-supplier regular expressions.
package rules

import (
	"time"

	"github.com/google/uuid"
)

// InvoiceKind is the family of invoice a supplier issues. Extraction rules
// target the field set of one kind.
type InvoiceKind string

const (
	KindElectricity InvoiceKind = "electricite"
	KindGas         InvoiceKind = "gaz"
	KindWater       InvoiceKind = "eau"
	KindInvoice     InvoiceKind = "facture"
)

// Valid reports whether k is a known kind.
func (k InvoiceKind) Valid() bool {
	switch k {
	case KindElectricity, KindGas, KindWater, KindInvoice:
		return true
	}
	return false
}

// DefaultDetectionField is the invoice line field suppliers are detected on.
const DefaultDetectionField = "description"

// Supplier issues invoices found in the registers.
type Supplier struct {
	ID             uuid.UUID   `json:"id"`
	Name           string      `json:"name"`
	InvoiceKind    InvoiceKind `json:"invoice_kind"`
	DetectionField string      `json:"detection_field"`
	DetectionRegex *string     `json:"detection_regex,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Rule extracts one field from bundle text.
type Rule struct {
	ID          uuid.UUID   `json:"id"`
	SupplierID  uuid.UUID   `json:"supplier_id"`
	TargetTable InvoiceKind `json:"target_table"`
	TargetField string      `json:"target_field"`
	Regex       string      `json:"regex"`
	Description string      `json:"description"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
