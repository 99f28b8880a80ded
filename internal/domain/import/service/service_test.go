package service

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/extractor"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/normalizer"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/repository"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/splitter"
	"github.com/FACorreiaa/charges-audit/internal/domain/rules"
	"github.com/FACorreiaa/charges-audit/pkg/metrics"
	"github.com/FACorreiaa/charges-audit/pkg/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ============================================================================
// Fakes
// ============================================================================

type fakeExtractor struct {
	rows   map[model.DocumentType][][]string
	issues map[model.DocumentType]error
	calls  []model.DocumentType
}

func (f *fakeExtractor) Extract(_ context.Context, _, source string, doc model.DocumentType) (*extractor.Extraction, error) {
	f.calls = append(f.calls, doc)
	ex := &extractor.Extraction{Source: source}
	if issue := f.issues[doc]; issue != nil {
		ex.Issue = issue
		return ex, nil
	}
	for i, cells := range f.rows[doc] {
		ex.Rows = append(ex.Rows, model.RawRow{Cells: cells, Source: source, Position: i + 1})
	}
	return ex, nil
}

type fakeSplitter struct {
	result *splitter.Result
}

func (f *fakeSplitter) Split(context.Context, []byte, string) (*splitter.Result, error) {
	return f.result, nil
}

type fakeRepo struct {
	periods    map[uuid.UUID]*repository.ControlPeriod
	categories map[string][]model.InvoiceLine
	bases      map[string][]model.ApportionmentShare
	posts      map[string][]model.MeterReading
	bundles    []model.InvoiceBundle
	assoc      map[string]model.Association
	sources    map[model.DocumentType]repository.SourceDocument
	rejections []normalizer.Rejection
	suppliers  map[uuid.UUID]uuid.UUID
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		periods:    make(map[uuid.UUID]*repository.ControlPeriod),
		categories: make(map[string][]model.InvoiceLine),
		bases:      make(map[string][]model.ApportionmentShare),
		posts:      make(map[string][]model.MeterReading),
		sources:    make(map[model.DocumentType]repository.SourceDocument),
		suppliers:  make(map[uuid.UUID]uuid.UUID),
	}
}

func (r *fakeRepo) EnsureControlPeriod(_ context.Context, groupID uuid.UUID, ident string, year int) (*repository.ControlPeriod, error) {
	for _, p := range r.periods {
		if p.GroupID == groupID && p.Year == year {
			return p, nil
		}
	}
	p := &repository.ControlPeriod{ID: uuid.New(), GroupID: groupID, GroupIdentifier: ident, Year: year, CreatedAt: time.Now()}
	r.periods[p.ID] = p
	return p, nil
}

func (r *fakeRepo) GetControlPeriod(_ context.Context, id uuid.UUID) (*repository.ControlPeriod, error) {
	p, ok := r.periods[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (r *fakeRepo) SaveCategory(_ context.Context, _ uuid.UUID, c model.Category, lines []model.InvoiceLine) error {
	for i := range lines {
		lines[i].ID = uuid.New()
	}
	r.categories[c.Code] = lines
	return nil
}

func (r *fakeRepo) SaveApportionmentBase(_ context.Context, _ uuid.UUID, b model.ApportionmentBase, shares []model.ApportionmentShare) error {
	r.bases[b.Code] = shares
	return nil
}

func (r *fakeRepo) SaveReadingPost(_ context.Context, _ uuid.UUID, p model.ReadingPost, readings []model.MeterReading) error {
	r.posts[p.Name] = readings
	return nil
}

func (r *fakeRepo) SaveBundles(_ context.Context, _ uuid.UUID, bundles []model.InvoiceBundle, assoc map[string]model.Association) error {
	r.bundles, r.assoc = bundles, assoc
	return nil
}

func (r *fakeRepo) SaveSourceDocument(_ context.Context, _ uuid.UUID, doc repository.SourceDocument) error {
	r.sources[doc.Type] = doc
	return nil
}

func (r *fakeRepo) SaveRejections(_ context.Context, _ uuid.UUID, rejections []normalizer.Rejection) error {
	r.rejections = rejections
	return nil
}

func (r *fakeRepo) UpdateInvoiceStatus(context.Context, uuid.UUID, model.ReviewStatus, string) error {
	return nil
}

func (r *fakeRepo) AssignSupplier(_ context.Context, lineID, supplierID uuid.UUID) error {
	r.suppliers[lineID] = supplierID
	return nil
}

func (r *fakeRepo) ListCategories(context.Context, uuid.UUID) ([]model.Category, error) {
	return nil, nil
}

func (r *fakeRepo) ListInvoiceLines(context.Context, uuid.UUID) ([]model.InvoiceLine, error) {
	return nil, nil
}

func (r *fakeRepo) ListApportionmentShares(context.Context, uuid.UUID) ([]model.ApportionmentShare, error) {
	return nil, nil
}

func (r *fakeRepo) ListRejections(context.Context, uuid.UUID) ([]normalizer.Rejection, error) {
	return nil, nil
}

type fakeRules struct {
	supplierID uuid.UUID
}

func (f fakeRules) DetectSuppliers(_ context.Context, lines []model.InvoiceLine) (map[string]rules.Detection, error) {
	out := make(map[string]rules.Detection)
	for _, l := range lines {
		if l.PartnerReference == "KONE" {
			out[l.InvoiceNumber] = rules.Detection{Supplier: rules.Supplier{ID: f.supplierID, Name: "Kone"}, Method: rules.DetectedByName}
		}
	}
	return out, nil
}

func (f fakeRules) ExtractFields(_ context.Context, supplierID uuid.UUID, text string) (*rules.Extraction, error) {
	if supplierID != f.supplierID {
		return nil, errors.New("unexpected supplier")
	}
	return &rules.Extraction{Values: map[rules.InvoiceKind]map[string]any{
		rules.KindInvoice: {"reference": text},
	}}, nil
}

type fakeIndex struct {
	lines   int
	bundles int
}

func (f *fakeIndex) IndexImport(_ uuid.UUID, lines []model.InvoiceLine, bundles []model.InvoiceBundle, _ map[string]model.Association) error {
	f.lines, f.bundles = len(lines), len(bundles)
	return nil
}

// ============================================================================
// Fixtures
// ============================================================================

func writeArchive(t *testing.T, names ...string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "import.zip")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, n := range names {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write([]byte("%PDF-1.4 " + n))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func invoiceRows() [][]string {
	return [][]string{
		{"A01 - Ascenseurs", "F100", "HA", "601", "120.00", "Entretien ascenseur", "KONE"},
		{"A01 - Ascenseurs", "F101", "HA", "601", "abc", "Montant illisible", "X"},
		{"B02 - Eau", "F200", "HA", "602", "80.5", "Releve eau BT55", "VEOLIA"},
	}
}

func apportionmentRows() [][]string {
	return [][]string{
		{"CH - Chauffage collectif", "", "", "", "", ""},
		{"0101", "4001", "01/01/2024", "30/06/2024", "52.00", ""},
	}
}

func splitResult() *splitter.Result {
	return &splitter.Result{
		Bundles: []model.InvoiceBundle{
			{ID: uuid.New(), Identifier: "F100", Kind: model.BundleSupplierInvoice, Pages: []int{0}, Content: []byte("%PDF f100"), Text: "FACFOU01 F100", Occurrence: 1},
			{ID: uuid.New(), Identifier: "ZZ77", Kind: model.BundleWorkOrder, Pages: []int{1}, Content: []byte("%PDF zz77"), Text: "BONTRV01 ZZ77", Occurrence: 1},
		},
		OrphanPages: []int{2},
		PageCount:   3,
	}
}

type harness struct {
	svc   *ImportService
	repo  *fakeRepo
	ext   *fakeExtractor
	store *storage.LocalStorage
	index *fakeIndex
	m     *metrics.Import
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		repo:  newFakeRepo(),
		store: store,
		index: &fakeIndex{},
		m:     metrics.NewImport(),
		ext: &fakeExtractor{
			rows: map[model.DocumentType][][]string{
				model.DocInvoiceRegister:       invoiceRows(),
				model.DocApportionmentRegister: apportionmentRows(),
			},
			issues: map[model.DocumentType]error{},
		},
	}
	h.svc = NewImportService(h.repo, store, h.ext, &fakeSplitter{result: splitResult()}, testLogger()).
		WithWorkDir(t.TempDir()).
		WithIndex(h.index).
		WithMetrics(h.m)
	return h
}

func controlContext() model.ControlContext {
	return model.ControlContext{GroupID: uuid.New(), GroupIdentifier: "GRP01", Year: 2024}
}

// ============================================================================
// Tests
// ============================================================================

func TestRun_CleanImport(t *testing.T) {
	h := newHarness(t)
	supplierID := uuid.New()
	h.svc.WithSupplierRules(fakeRules{supplierID: supplierID})

	archive := writeArchive(t, "GRP01_REG010.pdf", "GRP01_REG114.pdf", "GRP01_GED001.pdf", "notes.txt")

	res, err := h.svc.Run(context.Background(), archive, controlContext())
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, res.ControlID)
	assert.Equal(t, []string{"notes.txt"}, res.Ignored)

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, model.DocMeterRegister, res.Skipped[0].Type)
	assert.ErrorIs(t, res.Skipped[0].Reason, ErrMissingDocument)

	reg := res.Documents[model.DocInvoiceRegister]
	require.NotNil(t, reg)
	assert.Equal(t, 2, reg.Accepted)
	assert.Equal(t, 1, reg.Rejected)
	assert.Equal(t, "2024/GRP01/reg010.pdf", reg.StoredPath)
	assert.Equal(t, 1, res.Documents[model.DocApportionmentRegister].Accepted)
	assert.Equal(t, 2, res.Documents[model.DocBundle].Accepted)
	assert.Equal(t, 1, res.Documents[model.DocBundle].Discarded)

	// registers persisted per header
	require.Len(t, h.repo.categories, 2)
	assert.Len(t, h.repo.categories["A01"], 1)
	assert.Len(t, h.repo.categories["B02"], 1)
	assert.Len(t, h.repo.bases["CH"], 1)
	assert.Len(t, h.repo.sources, 3)

	require.Len(t, h.repo.rejections, 1)
	assert.Equal(t, normalizer.StageValidate, h.repo.rejections[0].Stage)
	assert.Equal(t, "GRP01_REG010.pdf", h.repo.rejections[0].Source)

	// suppliers and extracted fields
	assert.Equal(t, 1, res.SuppliersAssigned)
	for _, s := range h.repo.suppliers {
		assert.Equal(t, supplierID, s)
	}

	// bundles stored and reconciled
	require.Len(t, h.repo.bundles, 2)
	assert.Equal(t, "2024/GRP01/factures/F100_FACFOU01.pdf", h.repo.bundles[0].StoredPath)
	stored, err := os.ReadFile(filepath.Join(h.store.Root(), "2024", "GRP01", "factures", "F100_FACFOU01.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF f100", string(stored))

	require.Contains(t, h.repo.assoc, "F100")
	assert.Equal(t, model.MatchExact, h.repo.assoc["F100"].Method)
	assert.Equal(t, "FACFOU01 F100", h.repo.bundles[0].Fields["facture.reference"])
	assert.Nil(t, h.repo.bundles[1].Fields)

	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, "ZZ77", res.Unresolved[0].Bundle.Identifier)
	assert.Equal(t, []int{2}, res.OrphanPages)

	assert.Equal(t, 2, h.index.lines)
	assert.Equal(t, 2, h.index.bundles)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.m.RowsAccepted.WithLabelValues("REG010")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.RowsRejected.WithLabelValues("REG010", normalizer.StageValidate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.Bundles.WithLabelValues(string(model.BundleSupplierInvoice))))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.UnresolvedBundles))
}

func TestRun_WorkspaceRemoved(t *testing.T) {
	h := newHarness(t)
	workDir := t.TempDir()
	h.svc.WithWorkDir(workDir)

	_, err := h.svc.Run(context.Background(), writeArchive(t, "REG010.pdf", "GED001.pdf"), controlContext())
	require.NoError(t, err)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_StructuralFailures(t *testing.T) {
	tests := []struct {
		name    string
		files   []string
		issues  map[model.DocumentType]error
		rows    map[model.DocumentType][][]string
		doc     model.DocumentType
		check   string
		wantErr error
	}{
		{
			name:    "mandatory bundle document missing",
			files:   []string{"REG010.pdf"},
			doc:     model.DocBundle,
			check:   CheckPresence,
			wantErr: ErrMissingDocument,
		},
		{
			name:    "two invoice registers",
			files:   []string{"a_REG010.pdf", "b_REG010.pdf", "GED001.pdf"},
			doc:     model.DocInvoiceRegister,
			check:   CheckUniqueness,
			wantErr: ErrDuplicateDocument,
		},
		{
			name:    "invoice register too narrow",
			files:   []string{"REG010.pdf", "GED001.pdf"},
			issues:  map[model.DocumentType]error{model.DocInvoiceRegister: ErrTooFewColumns},
			doc:     model.DocInvoiceRegister,
			check:   CheckColumns,
			wantErr: ErrTooFewColumns,
		},
		{
			name:    "invoice register without tables",
			files:   []string{"REG010.pdf", "GED001.pdf"},
			issues:  map[model.DocumentType]error{model.DocInvoiceRegister: ErrNoTables},
			doc:     model.DocInvoiceRegister,
			check:   CheckTables,
			wantErr: ErrNoTables,
		},
		{
			name:    "invoice register without valid rows",
			files:   []string{"REG010.pdf", "GED001.pdf"},
			rows:    map[model.DocumentType][][]string{model.DocInvoiceRegister: {{"A01 - Ascenseurs", "F1", "HA", "601", "n/a", "", ""}}},
			doc:     model.DocInvoiceRegister,
			check:   CheckRows,
			wantErr: ErrNoValidRows,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.issues != nil {
				h.ext.issues = tt.issues
			}
			if tt.rows != nil {
				h.ext.rows = tt.rows
			}

			_, err := h.svc.Run(context.Background(), writeArchive(t, tt.files...), controlContext())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var de *DocumentError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.doc, de.Type)
			assert.Equal(t, tt.check, de.Check)

			// nothing written when a mandatory document fails
			assert.Empty(t, h.repo.periods)
			assert.Empty(t, h.repo.categories)
			assert.Equal(t, 1.0, testutil.ToFloat64(h.m.DocumentFailures.WithLabelValues(string(tt.doc), tt.check)))
		})
	}
}

func TestRun_OptionalDocumentSkipped(t *testing.T) {
	h := newHarness(t)
	h.ext.issues[model.DocApportionmentRegister] = ErrNoTables

	res, err := h.svc.Run(context.Background(), writeArchive(t, "REG010.pdf", "REG114.pdf", "GED001.pdf"), controlContext())
	require.NoError(t, err)

	var skipped []model.DocumentType
	for _, s := range res.Skipped {
		skipped = append(skipped, s.Type)
		if s.Type == model.DocApportionmentRegister {
			assert.ErrorIs(t, s.Reason, ErrNoTables)
		}
	}
	assert.ElementsMatch(t, []model.DocumentType{model.DocApportionmentRegister, model.DocMeterRegister}, skipped)
	assert.NotContains(t, res.Documents, model.DocApportionmentRegister)
	assert.Empty(t, h.repo.bases)
	assert.Len(t, h.repo.categories, 2)
}

func TestRun_ControlIDMustExist(t *testing.T) {
	h := newHarness(t)
	cc := controlContext()
	cc.ControlID = uuid.New()

	_, err := h.svc.Run(context.Background(), writeArchive(t, "REG010.pdf", "GED001.pdf"), cc)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRun_ReimportReusesControlPeriod(t *testing.T) {
	h := newHarness(t)
	cc := controlContext()
	archive := writeArchive(t, "REG010.pdf", "GED001.pdf")

	first, err := h.svc.Run(context.Background(), archive, cc)
	require.NoError(t, err)
	second, err := h.svc.Run(context.Background(), archive, cc)
	require.NoError(t, err)

	assert.Equal(t, first.ControlID, second.ControlID)
	assert.Len(t, h.repo.periods, 1)
}

func TestDocumentError(t *testing.T) {
	err := &DocumentError{Type: model.DocInvoiceRegister, Check: CheckColumns, Err: ErrTooFewColumns}
	assert.Equal(t, "document REG010 failed columns check: too few columns", err.Error())
	assert.True(t, errors.Is(err, ErrTooFewColumns))
}
