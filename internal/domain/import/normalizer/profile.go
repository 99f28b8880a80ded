// Package normalizer classifies raw register rows, validates and converts their
// values, and binds them to typed records. Each document layout is described by
// a Profile; the classification steps are the same for every layout.
package normalizer

import (
	"regexp"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/segmenter"
)

// Field names used in column tables.
const (
	FieldCategory         = "category"
	FieldInvoiceNumber    = "invoice_number"
	FieldJournalCode      = "journal_code"
	FieldAccountNumber    = "account_number"
	FieldAmount           = "amount"
	FieldDescription      = "description"
	FieldPartnerReference = "partner_reference"

	FieldUnitNumber      = "unit_number"
	FieldOccupationStart = "occupation_start"
	FieldOccupationEnd   = "occupation_end"
	FieldShare           = "share"
	FieldResidual        = "residual"

	FieldUnitKind      = "unit_kind"
	FieldMeteringPoint = "metering_point"
	FieldMeterSerial   = "meter_serial"
	FieldReadingDate   = "reading_date"
	FieldValueDate     = "value_date"
	FieldReadingType   = "reading_type"
	FieldObservations  = "observations"
	FieldIndex         = "index"
	FieldIndexChange   = "index_change"
)

// Column maps a field to a raw cell index.
type Column struct {
	Field string
	Index int
}

// Profile is the layout of one document type.
type Profile struct {
	Type    model.DocumentType
	Columns []Column
	// AmountField is validated against the strict amount pattern and converted.
	AmountField string
	// IntegerFields must be runs of digits.
	IntegerFields []string
	// KeyFields identify a row for deduplication. The section code is added
	// for the second pass, and for the first pass too in block layout where
	// the section is known before validation.
	KeyFields []string
	Segment   segmenter.Config
}

// Column index of a field, -1 if absent.
func (p Profile) index(field string) int {
	for _, c := range p.Columns {
		if c.Field == field {
			return c.Index
		}
	}
	return -1
}

// InvoiceRegisterProfile describes the invoice register: one row per
// accounting line, the category printed in the first column.
func InvoiceRegisterProfile() Profile {
	return Profile{
		Type: model.DocInvoiceRegister,
		Columns: []Column{
			{FieldCategory, 0},
			{FieldInvoiceNumber, 1},
			{FieldJournalCode, 2},
			{FieldAccountNumber, 3},
			{FieldAmount, 4},
			{FieldDescription, 5},
			{FieldPartnerReference, 6},
		},
		AmountField: FieldAmount,
		KeyFields:   []string{FieldInvoiceNumber, FieldAmount},
		Segment: segmenter.Config{
			Mode:             segmenter.ModeInline,
			HeaderPattern:    segmenter.DefaultHeaderPattern,
			ContextColumn:    0,
			TruncateOnRepeat: true,
		},
	}
}

// ApportionmentRegisterProfile describes the apportionment register: a
// "CODE - Label" base header followed by one row per unit.
func ApportionmentRegisterProfile() Profile {
	return Profile{
		Type: model.DocApportionmentRegister,
		Columns: []Column{
			{FieldUnitNumber, 0},
			{FieldAccountNumber, 1},
			{FieldOccupationStart, 2},
			{FieldOccupationEnd, 3},
			{FieldShare, 4},
			{FieldResidual, 5},
		},
		AmountField: FieldShare,
		KeyFields:   []string{FieldUnitNumber, FieldAccountNumber, FieldShare},
		Segment: segmenter.Config{
			Mode:             segmenter.ModeBlock,
			HeaderPattern:    segmenter.DefaultHeaderPattern,
			ContextColumn:    0,
			WideRowThreshold: 7,
			TruncateOnRepeat: true,
		},
	}
}

// MeterPostPattern matches reading post headers such as "EAU FROIDE INDIVIDUELLE".
var MeterPostPattern = regexp.MustCompile(`^([A-Z][A-Z\s]+)$`)

// MeterRegisterProfile describes the meter-reading register.
func MeterRegisterProfile() Profile {
	return Profile{
		Type: model.DocMeterRegister,
		Columns: []Column{
			{FieldUnitNumber, 0},
			{FieldUnitKind, 1},
			{FieldAccountNumber, 2},
			{FieldMeteringPoint, 3},
			{FieldMeterSerial, 4},
			{FieldReadingDate, 5},
			{FieldValueDate, 6},
			{FieldReadingType, 7},
			{FieldObservations, 8},
			{FieldIndex, 9},
			{FieldIndexChange, 10},
		},
		IntegerFields: []string{FieldUnitNumber, FieldAccountNumber, FieldIndex},
		KeyFields:     []string{FieldUnitNumber, FieldMeterSerial, FieldIndex},
		Segment: segmenter.Config{
			Mode:             segmenter.ModeBlock,
			HeaderPattern:    MeterPostPattern,
			ContextColumn:    0,
			WideRowThreshold: 12,
		},
	}
}

// DefaultProfiles returns the layouts for every register type.
func DefaultProfiles() map[model.DocumentType]Profile {
	return map[model.DocumentType]Profile{
		model.DocInvoiceRegister:       InvoiceRegisterProfile(),
		model.DocApportionmentRegister: ApportionmentRegisterProfile(),
		model.DocMeterRegister:         MeterRegisterProfile(),
	}
}
