// Package export produces review artifacts for a control period: an XLSX
// workbook of imported data and a CSV of the rejection log.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/normalizer"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/repository"
)

// Sheet names of the workbook.
const (
	SheetCategories = "Postes"
	SheetInvoices   = "Factures"
	SheetShares     = "Repartition"
	SheetRejections = "Rejets"
)

// Source is the read side of the import repository.
type Source interface {
	GetControlPeriod(ctx context.Context, controlID uuid.UUID) (*repository.ControlPeriod, error)
	ListCategories(ctx context.Context, controlID uuid.UUID) ([]model.Category, error)
	ListInvoiceLines(ctx context.Context, controlID uuid.UUID) ([]model.InvoiceLine, error)
	ListApportionmentShares(ctx context.Context, controlID uuid.UUID) ([]model.ApportionmentShare, error)
	ListRejections(ctx context.Context, controlID uuid.UUID) ([]normalizer.Rejection, error)
}

// RejectionRow is one line of the rejection CSV.
type RejectionRow struct {
	Document string `csv:"document"`
	Position int    `csv:"position"`
	Stage    string `csv:"stage"`
	Column   string `csv:"column"`
	Reason   string `csv:"reason"`
	Raw      string `csv:"raw"`
}

// Service builds exports from persisted import data.
type Service struct {
	source Source
	logger *slog.Logger
}

// NewService creates an export service
func NewService(source Source, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, logger: logger}
}

// RejectionsCSV writes the control period's rejection log as semicolon
// separated CSV with a header row.
func (s *Service) RejectionsCSV(ctx context.Context, controlID uuid.UUID, w io.Writer) error {
	rejections, err := s.source.ListRejections(ctx, controlID)
	if err != nil {
		return fmt.Errorf("failed to load rejections: %w", err)
	}

	rows := make([]*RejectionRow, 0, len(rejections))
	for _, r := range rejections {
		rows = append(rows, toRejectionRow(r))
	}

	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := gocsv.MarshalCSV(rows, gocsv.NewSafeCSVWriter(cw)); err != nil {
		return fmt.Errorf("failed to write rejections CSV: %w", err)
	}

	s.logger.Info("rejections exported",
		"control_id", controlID,
		"rows", len(rows),
	)
	return nil
}

func toRejectionRow(r normalizer.Rejection) *RejectionRow {
	return &RejectionRow{
		Document: r.Source,
		Position: r.Position,
		Stage:    r.Stage,
		Column:   r.Column,
		Reason:   r.Reason,
		Raw:      strings.Join(r.Raw, " | "),
	}
}

// WorkbookXLSX returns an XLSX workbook with one sheet per register and one
// for rejections.
func (s *Service) WorkbookXLSX(ctx context.Context, controlID uuid.UUID) ([]byte, error) {
	start := time.Now()

	period, err := s.source.GetControlPeriod(ctx, controlID)
	if err != nil {
		return nil, fmt.Errorf("failed to load control period: %w", err)
	}
	categories, err := s.source.ListCategories(ctx, controlID)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	lines, err := s.source.ListInvoiceLines(ctx, controlID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice lines: %w", err)
	}
	shares, err := s.source.ListApportionmentShares(ctx, controlID)
	if err != nil {
		return nil, fmt.Errorf("failed to load apportionment shares: %w", err)
	}
	rejections, err := s.source.ListRejections(ctx, controlID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rejections: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheets := []struct {
		name    string
		headers []string
		rows    [][]any
		widths  map[string]float64
	}{
		{SheetCategories, []string{"Code", "Libellé", "Document"}, categoryRows(categories), map[string]float64{"B": 40}},
		{SheetInvoices, []string{"Poste", "N° facture", "Journal", "Compte", "Montant", "Libellé", "Réf. partenaire", "Statut", "Commentaire"}, invoiceRows(lines), map[string]float64{"F": 48, "I": 40}},
		{SheetShares, []string{"Clé", "Lot", "Compte", "Début occupation", "Fin occupation", "Quote-part", "Reliquat"}, shareRows(shares), map[string]float64{"D": 16, "E": 16}},
		{SheetRejections, []string{"Document", "Position", "Étape", "Colonne", "Motif", "Ligne brute"}, rejectionRows(rejections), map[string]float64{"E": 40, "F": 60}},
	}

	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.name); err != nil {
				return nil, fmt.Errorf("failed to rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sh.name); err != nil {
			return nil, fmt.Errorf("failed to create sheet %s: %w", sh.name, err)
		}

		for col, h := range sh.headers {
			cell, _ := excelize.CoordinatesToCellName(col+1, 1)
			_ = f.SetCellValue(sh.name, cell, h)
		}
		for r, values := range sh.rows {
			for col, v := range values {
				cell, _ := excelize.CoordinatesToCellName(col+1, r+2)
				_ = f.SetCellValue(sh.name, cell, v)
			}
		}
		for col, w := range sh.widths {
			_ = f.SetColWidth(sh.name, col, col, w)
		}
	}

	_ = f.SetDocProps(&excelize.DocProperties{
		Title:   fmt.Sprintf("Contrôle des charges %s %d", period.GroupIdentifier, period.Year),
		Creator: "chargeimport",
	})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("workbook exported",
		"control_id", controlID,
		"invoice_lines", len(lines),
		"shares", len(shares),
		"rejections", len(rejections),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func categoryRows(categories []model.Category) [][]any {
	rows := make([][]any, 0, len(categories))
	for _, c := range categories {
		rows = append(rows, []any{c.Code, c.Label, c.SourceDocument})
	}
	return rows
}

func invoiceRows(lines []model.InvoiceLine) [][]any {
	rows := make([][]any, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, []any{
			l.CategoryCode, l.InvoiceNumber, l.JournalCode, l.AccountNumber,
			l.Amount.InexactFloat64(), l.Description, l.PartnerReference,
			string(l.Status), l.ContestComment,
		})
	}
	return rows
}

func shareRows(shares []model.ApportionmentShare) [][]any {
	rows := make([][]any, 0, len(shares))
	for _, sh := range shares {
		var residual any
		if sh.Residual != nil {
			residual = sh.Residual.InexactFloat64()
		}
		rows = append(rows, []any{
			sh.BaseCode, sh.UnitNumber, sh.AccountNumber,
			formatDate(sh.OccupationStart), formatDate(sh.OccupationEnd),
			sh.Share.InexactFloat64(), residual,
		})
	}
	return rows
}

func rejectionRows(rejections []normalizer.Rejection) [][]any {
	rows := make([][]any, 0, len(rejections))
	for _, r := range rejections {
		row := toRejectionRow(r)
		rows = append(rows, []any{row.Document, row.Position, row.Stage, row.Column, row.Reason, row.Raw})
	}
	return rows
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("02/01/2006")
}
