package normalizer

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
	"github.com/FACorreiaa/charges-audit/pkg/money"
)

// DateLayouts are the date forms found in the registers.
var DateLayouts = []string{"02/01/2006", "02-01-2006", "2006-01-02"}

// ParseDate tries every layout. Blank or unparsable values give nil.
func ParseDate(v string) *time.Time {
	v = cleanCell(v)
	if v == "" {
		return nil
	}
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}

func optionalDecimal(v string) *decimal.Decimal {
	v = cleanCell(v)
	if v == "" {
		return nil
	}
	d, err := money.ParseLoose(v)
	if err != nil {
		return nil
	}
	return &d
}

// setter assigns one converted field of T.
type setter[T any] func(*T, Record, string) error

// bind builds a T from a record by running the setter of every mapped field.
func bind[T any](rec Record, cols []Column, setters map[string]setter[T]) (T, error) {
	var out T
	for _, col := range cols {
		set, ok := setters[col.Field]
		if !ok {
			continue
		}
		if err := set(&out, rec, rec.Get(col.Field)); err != nil {
			return out, fmt.Errorf("field %s: %w", col.Field, err)
		}
	}
	return out, nil
}

var invoiceLineSetters = map[string]setter[model.InvoiceLine]{
	FieldInvoiceNumber:    func(l *model.InvoiceLine, _ Record, v string) error { l.InvoiceNumber = v; return nil },
	FieldJournalCode:      func(l *model.InvoiceLine, _ Record, v string) error { l.JournalCode = v; return nil },
	FieldAccountNumber:    func(l *model.InvoiceLine, _ Record, v string) error { l.AccountNumber = v; return nil },
	FieldAmount:           func(l *model.InvoiceLine, r Record, _ string) error { l.Amount = r.Amount; return nil },
	FieldDescription:      func(l *model.InvoiceLine, _ Record, v string) error { l.Description = v; return nil },
	FieldPartnerReference: func(l *model.InvoiceLine, _ Record, v string) error { l.PartnerReference = v; return nil },
}

var shareSetters = map[string]setter[model.ApportionmentShare]{
	FieldUnitNumber:    func(s *model.ApportionmentShare, _ Record, v string) error { s.UnitNumber = v; return nil },
	FieldAccountNumber: func(s *model.ApportionmentShare, _ Record, v string) error { s.AccountNumber = v; return nil },
	FieldOccupationStart: func(s *model.ApportionmentShare, _ Record, v string) error {
		s.OccupationStart = ParseDate(v)
		return nil
	},
	FieldOccupationEnd: func(s *model.ApportionmentShare, _ Record, v string) error {
		s.OccupationEnd = ParseDate(v)
		return nil
	},
	FieldShare:    func(s *model.ApportionmentShare, r Record, _ string) error { s.Share = r.Amount; return nil },
	FieldResidual: func(s *model.ApportionmentShare, _ Record, v string) error { s.Residual = optionalDecimal(v); return nil },
}

var readingSetters = map[string]setter[model.MeterReading]{
	FieldUnitNumber:    func(m *model.MeterReading, _ Record, v string) error { m.UnitNumber = v; return nil },
	FieldUnitKind:      func(m *model.MeterReading, _ Record, v string) error { m.UnitKind = v; return nil },
	FieldAccountNumber: func(m *model.MeterReading, _ Record, v string) error { m.AccountNumber = v; return nil },
	FieldMeteringPoint: func(m *model.MeterReading, _ Record, v string) error { m.MeteringPoint = v; return nil },
	FieldMeterSerial:   func(m *model.MeterReading, _ Record, v string) error { m.MeterSerial = v; return nil },
	FieldReadingDate:   func(m *model.MeterReading, _ Record, v string) error { m.ReadingDate = ParseDate(v); return nil },
	FieldValueDate:     func(m *model.MeterReading, _ Record, v string) error { m.ValueDate = ParseDate(v); return nil },
	FieldReadingType:   func(m *model.MeterReading, _ Record, v string) error { m.ReadingType = v; return nil },
	FieldObservations:  func(m *model.MeterReading, _ Record, v string) error { m.Observations = v; return nil },
	FieldIndex: func(m *model.MeterReading, _ Record, v string) error {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("invalid index %q", v)
		}
		m.Index = d
		return nil
	},
	FieldIndexChange: func(m *model.MeterReading, _ Record, v string) error { m.IndexChange = optionalDecimal(v); return nil },
}

// InvoiceRegister is the typed content of an invoice register.
type InvoiceRegister struct {
	Categories []model.Category
	Lines      []model.InvoiceLine
	Rejections []Rejection
}

// BindInvoiceRegister converts a classification into categories and lines.
func BindInvoiceRegister(c *Classification, p Profile) InvoiceRegister {
	var out InvoiceRegister
	for _, h := range c.Headers {
		out.Categories = append(out.Categories, model.Category{Code: h.Code, Label: h.Label, SourceDocument: c.Source})
	}
	for _, rec := range c.Records {
		line, err := bind(rec, p.Columns, invoiceLineSetters)
		if err != nil {
			out.Rejections = append(out.Rejections, conversionRejection(rec, err))
			continue
		}
		line.CategoryCode = rec.Context
		line.SourceDocument = rec.Source
		line.Position = rec.Position
		line.Status = model.StatusPending
		out.Lines = append(out.Lines, line)
	}
	return out
}

// ApportionmentRegister is the typed content of an apportionment register.
type ApportionmentRegister struct {
	Bases      []model.ApportionmentBase
	Shares     []model.ApportionmentShare
	Rejections []Rejection
}

// BindApportionmentRegister converts a classification into bases and shares.
func BindApportionmentRegister(c *Classification, p Profile) ApportionmentRegister {
	var out ApportionmentRegister
	for _, h := range c.Headers {
		out.Bases = append(out.Bases, model.ApportionmentBase{Code: h.Code, Label: h.Label})
	}
	for _, rec := range c.Records {
		share, err := bind(rec, p.Columns, shareSetters)
		if err != nil {
			out.Rejections = append(out.Rejections, conversionRejection(rec, err))
			continue
		}
		share.BaseCode = rec.Context
		share.SourceDocument = rec.Source
		share.Position = rec.Position
		out.Shares = append(out.Shares, share)
	}
	return out
}

// MeterRegister is the typed content of a meter-reading register.
type MeterRegister struct {
	Posts      []model.ReadingPost
	Readings   []model.MeterReading
	Rejections []Rejection
}

// BindMeterRegister converts a classification into posts and readings.
func BindMeterRegister(c *Classification, p Profile) MeterRegister {
	var out MeterRegister
	for _, h := range c.Headers {
		out.Posts = append(out.Posts, model.ReadingPost{Name: h.Code})
	}
	for _, rec := range c.Records {
		reading, err := bind(rec, p.Columns, readingSetters)
		if err != nil {
			out.Rejections = append(out.Rejections, conversionRejection(rec, err))
			continue
		}
		reading.PostName = rec.Context
		reading.SourceDocument = rec.Source
		reading.Position = rec.Position
		out.Readings = append(out.Readings, reading)
	}
	return out
}

func conversionRejection(rec Record, err error) Rejection {
	return Rejection{
		Source:   rec.Source,
		Position: rec.origin,
		Stage:    StageConvert,
		Reason:   err.Error(),
		Raw:      rec.Raw,
	}
}
