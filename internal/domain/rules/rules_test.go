package rules

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr(s string) *string { return &s }

const bundleText = `FACTURE N° F-2024-118
Date de facture : 15/03/2024
Index début : 12 345
Index fin : 12 980,5
Montant TTC 1 234,56 EUR`

func TestEngine_Apply(t *testing.T) {
	rules := []Rule{
		{ID: uuid.New(), TargetTable: KindInvoice, TargetField: "date_facture", Regex: `date de facture\s*:\s*(\S+)`, Active: true},
		{ID: uuid.New(), TargetTable: KindElectricity, TargetField: "index_fin", Regex: `^index fin\s*:\s*([\d ,]+)$`, Active: true},
		{ID: uuid.New(), TargetTable: KindInvoice, TargetField: "montant_ttc", Regex: `montant ttc ([\d ,]+) EUR`, Active: true},
		{ID: uuid.New(), TargetTable: KindInvoice, TargetField: "reference", Regex: `F-\d{4}-\d+`, Active: true},
		{ID: uuid.New(), TargetTable: KindInvoice, TargetField: "inactive", Regex: `FACTURE`, Active: false},
		{ID: uuid.New(), TargetTable: KindInvoice, TargetField: "absent", Regex: `TVA (\d+)`, Active: true},
	}

	ex := NewEngine(testLogger()).Apply(bundleText, rules)
	require.Empty(t, ex.Errors)

	inv := ex.Values[KindInvoice]
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), inv["date_facture"])
	assert.True(t, decimal.RequireFromString("1234.56").Equal(inv["montant_ttc"].(decimal.Decimal)))
	assert.Equal(t, "F-2024-118", inv["reference"])
	assert.NotContains(t, inv, "inactive")
	assert.NotContains(t, inv, "absent")

	idx := ex.Values[KindElectricity]["index_fin"].(decimal.Decimal)
	assert.True(t, decimal.RequireFromString("12980.5").Equal(idx))

	flat := ex.Flatten()
	assert.Contains(t, flat, "facture.reference")
	assert.Contains(t, flat, "electricite.index_fin")
}

func TestEngine_InvalidPatternIsReported(t *testing.T) {
	rules := []Rule{
		{ID: uuid.New(), TargetTable: KindInvoice, TargetField: "broken", Regex: `(unclosed`, Active: true},
		{ID: uuid.New(), TargetTable: KindInvoice, TargetField: "reference", Regex: `N° (\S+)`, Active: true},
	}

	ex := NewEngine(testLogger()).Apply(bundleText, rules)
	require.Len(t, ex.Errors, 1)
	assert.Equal(t, "broken", ex.Errors[0].Field)
	assert.Equal(t, "F-2024-118", ex.Values[KindInvoice]["reference"])
}

func TestConvertValue(t *testing.T) {
	tests := []struct {
		raw   string
		field string
		want  any
	}{
		{"01-02-2024", "date_releve", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-02-01", "DATE", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"01.02.2024", "date", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"not a date", "date", nil},
		{"abc", "montant", nil},
		{" texte ", "libelle", "texte"},
	}

	for _, tt := range tests {
		t.Run(tt.field+"/"+tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ConvertValue(tt.raw, tt.field))
		})
	}

	d, ok := ConvertValue("1 200,50", "index_debut").(decimal.Decimal)
	require.True(t, ok)
	assert.Equal(t, "1200.5", d.String())
}

func TestTestRule(t *testing.T) {
	v, ok, err := TestRule(`date de facture : (\S+)`, bundleText)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "15/03/2024", v)

	_, ok, err = TestRule(`nothing here`, bundleText)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = TestRule(`[`, bundleText)
	assert.Error(t, err)
}

func TestDetector(t *testing.T) {
	suppliers := []Supplier{
		{Name: "Veolia", InvoiceKind: KindWater, DetectionField: "description"},
		{Name: "EDF", InvoiceKind: KindElectricity, DetectionField: "description", DetectionRegex: ptr(`\bEDF\s+(ENTREPRISES|COLLECTIVITES)\b`)},
		{Name: "Gaz Reseau", InvoiceKind: KindGas, DetectionField: "partner_reference"},
		{Name: "Broken", InvoiceKind: KindInvoice, DetectionRegex: ptr(`(`)},
	}
	d := NewDetector(suppliers, testLogger())

	tests := []struct {
		name   string
		line   model.InvoiceLine
		want   string
		method DetectionMethod
		found  bool
	}{
		{"regex", model.InvoiceLine{Description: "Conso edf entreprises T1"}, "EDF", DetectedByRegex, true},
		{"name fallback", model.InvoiceLine{Description: "Facture VEOLIA eau froide"}, "Veolia", DetectedByName, true},
		{"name with punctuation", model.InvoiceLine{Description: "VEOLIA, mars"}, "Veolia", DetectedByName, true},
		{"accent folded on other field", model.InvoiceLine{PartnerReference: "GAZ RÉSEAU 2024"}, "Gaz Reseau", DetectedByName, true},
		{"too far", model.InvoiceLine{Description: "Vendredi occasionnel lavage"}, "", "", false},
		{"nothing", model.InvoiceLine{Description: "Nettoyage"}, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, ok := d.Detect(tt.line)
			require.Equal(t, tt.found, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.want, det.Supplier.Name)
			assert.Equal(t, tt.method, det.Method)
		})
	}
}

func TestDetectAll_FirstLineDecides(t *testing.T) {
	d := NewDetector([]Supplier{{Name: "Veolia", InvoiceKind: KindWater}}, testLogger())
	out := d.DetectAll([]model.InvoiceLine{
		{InvoiceNumber: "F1", Description: "Nettoyage"},
		{InvoiceNumber: "F1", Description: "Veolia"},
		{InvoiceNumber: "F2", Description: "Ascenseur"},
	})
	assert.Len(t, out, 1)
	assert.Equal(t, "Veolia", out["F1"].Supplier.Name)
}

func TestFieldValue(t *testing.T) {
	line := model.InvoiceLine{
		InvoiceNumber: "F1", JournalCode: "J1", AccountNumber: "601",
		Description: "desc", PartnerReference: "ref", CategoryCode: "A01",
	}
	assert.Equal(t, "desc", FieldValue(line, "libelle_ecriture"))
	assert.Equal(t, "desc", FieldValue(line, ""))
	assert.Equal(t, "F1", FieldValue(line, "numero_facture"))
	assert.Equal(t, "601", FieldValue(line, "account_number"))
	assert.Equal(t, "ref", FieldValue(line, "references_partenaire_facture"))
	assert.Equal(t, "A01", FieldValue(line, "nature"))
	assert.Equal(t, "", FieldValue(line, "unknown"))
}

type fakeStore struct {
	suppliers []Supplier
	rules     []Rule
	err       error
}

func (f fakeStore) ListSuppliers(context.Context) ([]Supplier, error) { return f.suppliers, f.err }
func (f fakeStore) ListRules(_ context.Context, _ uuid.UUID, _ bool) ([]Rule, error) {
	return f.rules, f.err
}

func TestService(t *testing.T) {
	ctx := context.Background()
	store := fakeStore{
		suppliers: []Supplier{{ID: uuid.New(), Name: "Veolia", InvoiceKind: KindWater}},
		rules:     []Rule{{TargetTable: KindInvoice, TargetField: "reference", Regex: `N° (\S+)`, Active: true}},
	}
	svc := NewService(store, testLogger())

	det, err := svc.DetectSuppliers(ctx, []model.InvoiceLine{{InvoiceNumber: "F1", Description: "Veolia"}})
	require.NoError(t, err)
	assert.Contains(t, det, "F1")

	ex, err := svc.ExtractFields(ctx, store.suppliers[0].ID, bundleText)
	require.NoError(t, err)
	assert.Equal(t, "F-2024-118", ex.Values[KindInvoice]["reference"])

	_, err = NewService(fakeStore{err: errors.New("down")}, testLogger()).DetectSuppliers(ctx, nil)
	assert.Error(t, err)
}

func TestRepository_CreateSupplier(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	s := &Supplier{Name: "Veolia", InvoiceKind: KindWater}

	mock.ExpectQuery(`INSERT INTO suppliers`).
		WithArgs(pgxmock.AnyArg(), "Veolia", KindWater, DefaultDetectionField, s.DetectionRegex).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))

	require.NoError(t, NewRepository(mock).CreateSupplier(context.Background(), s))
	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.Equal(t, now, s.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())

	err = NewRepository(mock).CreateSupplier(context.Background(), &Supplier{Name: "x", InvoiceKind: "fuel"})
	assert.Error(t, err)
}

func TestRepository_CreateRuleRejectsInvalidPattern(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	err = NewRepository(mock).CreateRule(context.Background(), &Rule{Regex: `(`})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ListRules(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	supplierID, ruleID := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT id, supplier_id, target_table`).
		WithArgs(supplierID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "supplier_id", "target_table", "target_field", "regex", "description", "active", "created_at", "updated_at",
		}).AddRow(ruleID, supplierID, KindInvoice, "reference", `N° (\S+)`, "invoice ref", true, now, now))

	rules, err := NewRepository(mock).ListRules(context.Background(), supplierID, true)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, ruleID, rules[0].ID)
	assert.Equal(t, KindInvoice, rules[0].TargetTable)
	assert.True(t, rules[0].Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeleteRuleNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec(`DELETE FROM extraction_rules`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.ErrorIs(t, NewRepository(mock).DeleteRule(context.Background(), id), ErrNotFound)
}
