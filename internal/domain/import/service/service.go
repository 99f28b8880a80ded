// Package service provides the import orchestration logic.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/extractor"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/normalizer"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/reconciler"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/repository"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/segmenter"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/sniffer"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/splitter"
	"github.com/FACorreiaa/charges-audit/internal/domain/rules"
	"github.com/FACorreiaa/charges-audit/pkg/metrics"
	"github.com/FACorreiaa/charges-audit/pkg/storage"
)

const pdfContentType = "application/pdf"

// DefaultMandatory are the document types an archive must contain.
var DefaultMandatory = []model.DocumentType{model.DocInvoiceRegister, model.DocBundle}

// RowExtractor reads the raw rows of a register PDF.
type RowExtractor interface {
	Extract(ctx context.Context, path, source string, doc model.DocumentType) (*extractor.Extraction, error)
}

// BundleSplitter cuts the bundle document into per-invoice PDFs.
type BundleSplitter interface {
	Split(ctx context.Context, content []byte, sourceName string) (*splitter.Result, error)
}

// SupplierRules detects suppliers on invoice lines and applies their
// extraction rules to bundle text.
type SupplierRules interface {
	DetectSuppliers(ctx context.Context, lines []model.InvoiceLine) (map[string]rules.Detection, error)
	ExtractFields(ctx context.Context, supplierID uuid.UUID, text string) (*rules.Extraction, error)
}

// Indexer makes imported lines and bundles searchable.
type Indexer interface {
	IndexImport(controlID uuid.UUID, lines []model.InvoiceLine, bundles []model.InvoiceBundle, associations map[string]model.Association) error
}

// DocumentReport summarizes what one document contributed.
type DocumentReport struct {
	Type       model.DocumentType
	FileName   string
	StoredPath string
	Accepted   int
	Rejected   int
	Discarded  int
	Duplicates int
	Truncation *segmenter.Truncation
}

// SkippedDocument is an optional document left out of the run.
type SkippedDocument struct {
	Type   model.DocumentType
	Reason error
}

// ImportResult contains the result of an import operation
type ImportResult struct {
	ControlID         uuid.UUID
	Documents         map[model.DocumentType]*DocumentReport
	Rejections        []normalizer.Rejection
	Bundles           []model.InvoiceBundle
	Associations      map[string]model.Association
	Unresolved        []model.UnresolvedBundle
	OrphanPages       []int
	Skipped           []SkippedDocument
	SuppliersAssigned int
	Ignored           []string
	Duration          time.Duration
}

// Truncations lists the documents cut short at a repeated header.
func (r *ImportResult) Truncations() map[model.DocumentType]segmenter.Truncation {
	out := make(map[model.DocumentType]segmenter.Truncation)
	for t, d := range r.Documents {
		if d.Truncation != nil {
			out[t] = *d.Truncation
		}
	}
	return out
}

// ImportService orchestrates an archive import: inventory, extraction,
// classification, bundle splitting, reconciliation and persistence.
type ImportService struct {
	repo       repository.ImportRepository
	store      storage.BlobStore
	extractor  RowExtractor
	classifier *normalizer.Classifier
	profiles   map[model.DocumentType]normalizer.Profile
	splitter   BundleSplitter
	reconciler *reconciler.Reconciler
	rules      SupplierRules // Optional: nil skips supplier detection
	index      Indexer       // Optional: nil skips indexing
	metrics    *metrics.Import
	mandatory  []model.DocumentType
	workDir    string
	logger     *slog.Logger
}

// NewImportService creates a new import service with default profiles and
// mandatory documents.
func NewImportService(repo repository.ImportRepository, store storage.BlobStore, ext RowExtractor, spl BundleSplitter, logger *slog.Logger) *ImportService {
	return &ImportService{
		repo:       repo,
		store:      store,
		extractor:  ext,
		classifier: normalizer.NewClassifier(logger),
		profiles:   normalizer.DefaultProfiles(),
		splitter:   spl,
		reconciler: reconciler.New(reconciler.Options{}, logger),
		mandatory:  DefaultMandatory,
		logger:     logger,
	}
}

// WithProfiles replaces the register layouts
func (s *ImportService) WithProfiles(profiles map[model.DocumentType]normalizer.Profile) *ImportService {
	s.profiles = profiles
	return s
}

// WithMandatory sets the document types an archive must contain
func (s *ImportService) WithMandatory(types []model.DocumentType) *ImportService {
	s.mandatory = types
	return s
}

// WithWorkDir sets where archive workspaces are created
func (s *ImportService) WithWorkDir(dir string) *ImportService {
	s.workDir = dir
	return s
}

// WithReconcilerOptions configures bundle matching
func (s *ImportService) WithReconcilerOptions(opts reconciler.Options) *ImportService {
	s.reconciler = reconciler.New(opts, s.logger)
	return s
}

// WithSupplierRules adds supplier detection and field extraction
func (s *ImportService) WithSupplierRules(r SupplierRules) *ImportService {
	s.rules = r
	return s
}

// WithIndex adds search indexing of imported data
func (s *ImportService) WithIndex(idx Indexer) *ImportService {
	s.index = idx
	return s
}

// WithMetrics adds import counters
func (s *ImportService) WithMetrics(m *metrics.Import) *ImportService {
	s.metrics = m
	return s
}

// parsed holds everything read from the archive before anything is written.
type parsed struct {
	invoices      *normalizer.InvoiceRegister
	apportionment *normalizer.ApportionmentRegister
	meters        *normalizer.MeterRegister
	split         *splitter.Result
}

// Run imports one archive for a control period. Every document is read and
// checked before the first write, so a failing mandatory document leaves the
// store untouched.
func (s *ImportService) Run(ctx context.Context, archivePath string, cc model.ControlContext) (*ImportResult, error) {
	start := time.Now()

	ws, err := sniffer.Open(archivePath, s.workDir, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer ws.Close()

	inv, err := sniffer.Classify(ws.Files(), s.mandatory)
	if err != nil {
		var te *sniffer.TypeError
		if errors.As(err, &te) {
			s.countFailure(te.Type, checkFor(te.Err))
			return nil, &DocumentError{Type: te.Type, Check: checkFor(te.Err), Err: err}
		}
		return nil, fmt.Errorf("failed to inventory archive: %w", err)
	}

	result := &ImportResult{
		Documents: make(map[model.DocumentType]*DocumentReport),
		Ignored:   inv.Ignored,
	}
	for _, t := range inv.Missing {
		s.logger.Warn("optional document missing", "type", t, "archive", archivePath)
		result.Skipped = append(result.Skipped, SkippedDocument{Type: t, Reason: ErrMissingDocument})
	}

	p, err := s.parse(ctx, ws, inv, result)
	if err != nil {
		return nil, err
	}

	if err := s.persist(ctx, ws, inv, cc, p, result); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	if s.metrics != nil {
		s.metrics.ObserveRun(start)
	}

	s.logger.Info("import completed",
		"control_id", result.ControlID,
		"group", cc.GroupIdentifier,
		"year", cc.Year,
		"rejections", len(result.Rejections),
		"bundles", len(result.Bundles),
		"associations", len(result.Associations),
		"unresolved", len(result.Unresolved),
		"skipped", len(result.Skipped),
		"duration", result.Duration,
	)
	return result, nil
}

// ============================================================================
// Reading
// ============================================================================

func (s *ImportService) parse(ctx context.Context, ws *sniffer.Workspace, inv *sniffer.Inventory, result *ImportResult) (*parsed, error) {
	p := &parsed{}

	for _, t := range model.AllDocumentTypes {
		if !inv.Has(t) {
			continue
		}
		name := inv.Documents[t]
		report := &DocumentReport{Type: t, FileName: path.Base(name)}

		if t == model.DocBundle {
			split, err := s.splitBundles(ctx, ws.Path(name), report)
			if err != nil {
				return nil, err
			}
			if split == nil {
				if err := s.fail(t, ErrNoValidRows, result); err != nil {
					return nil, err
				}
				continue
			}
			p.split = split
			result.Documents[t] = report
			continue
		}

		cls, err := s.classify(ctx, ws.Path(name), report, t)
		if err != nil {
			var de *DocumentError
			if errors.As(err, &de) {
				if err := s.fail(t, de.Err, result); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}

		profile := s.profiles[t]
		var bindRejections []normalizer.Rejection
		switch t {
		case model.DocInvoiceRegister:
			reg := normalizer.BindInvoiceRegister(cls, profile)
			report.Accepted, bindRejections = len(reg.Lines), reg.Rejections
			p.invoices = &reg
		case model.DocApportionmentRegister:
			reg := normalizer.BindApportionmentRegister(cls, profile)
			report.Accepted, bindRejections = len(reg.Shares), reg.Rejections
			p.apportionment = &reg
		case model.DocMeterRegister:
			reg := normalizer.BindMeterRegister(cls, profile)
			report.Accepted, bindRejections = len(reg.Readings), reg.Rejections
			p.meters = &reg
		}

		rejections := append(slices.Clone(cls.Rejections), bindRejections...)
		report.Rejected = len(rejections)
		result.Rejections = append(result.Rejections, rejections...)

		if report.Accepted == 0 {
			switch t {
			case model.DocInvoiceRegister:
				p.invoices = nil
			case model.DocApportionmentRegister:
				p.apportionment = nil
			case model.DocMeterRegister:
				p.meters = nil
			}
			if err := s.fail(t, ErrNoValidRows, result); err != nil {
				return nil, err
			}
			continue
		}

		result.Documents[t] = report
	}

	return p, nil
}

// classify extracts and classifies one register. Structural problems come
// back as *DocumentError.
func (s *ImportService) classify(ctx context.Context, file string, report *DocumentReport, t model.DocumentType) (*normalizer.Classification, error) {
	profile, ok := s.profiles[t]
	if !ok {
		return nil, fmt.Errorf("no layout profile for %s", t)
	}

	ex, err := s.extractor.Extract(ctx, file, report.FileName, t)
	if err != nil {
		return nil, err
	}
	if ex.Issue != nil {
		return nil, &DocumentError{Type: t, Check: checkFor(ex.Issue), Err: ex.Issue}
	}

	cls := s.classifier.Classify(ex.Rows, profile)
	report.Discarded = len(cls.Discarded)
	report.Duplicates = cls.Duplicates
	report.Truncation = cls.Truncation
	return cls, nil
}

// splitBundles returns nil when the document holds no bundle at all.
func (s *ImportService) splitBundles(ctx context.Context, file string, report *DocumentReport) (*splitter.Result, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle document: %w", err)
	}

	split, err := s.splitter.Split(ctx, content, report.FileName)
	if err != nil {
		return nil, err
	}
	if len(split.Bundles) == 0 {
		return nil, nil
	}

	report.Accepted = len(split.Bundles)
	report.Discarded = len(split.OrphanPages)
	return split, nil
}

// fail aborts on a mandatory document and records a skip otherwise.
func (s *ImportService) fail(t model.DocumentType, cause error, result *ImportResult) error {
	check := checkFor(cause)
	s.countFailure(t, check)

	if slices.Contains(s.mandatory, t) {
		return &DocumentError{Type: t, Check: check, Err: cause}
	}

	s.logger.Warn("optional document skipped",
		"type", t,
		"check", check,
		"error", cause,
	)
	result.Skipped = append(result.Skipped, SkippedDocument{Type: t, Reason: cause})
	return nil
}

func (s *ImportService) countFailure(t model.DocumentType, check string) {
	if s.metrics != nil {
		s.metrics.DocumentFailures.WithLabelValues(string(t), check).Inc()
	}
}

// ============================================================================
// Writing
// ============================================================================

func (s *ImportService) persist(ctx context.Context, ws *sniffer.Workspace, inv *sniffer.Inventory, cc model.ControlContext, p *parsed, result *ImportResult) error {
	controlID, err := s.controlPeriod(ctx, cc)
	if err != nil {
		return err
	}
	result.ControlID = controlID

	dir := fmt.Sprintf("%d/%s", cc.Year, cc.GroupIdentifier)

	var lines []model.InvoiceLine
	if p.invoices != nil {
		lines, err = s.saveInvoiceRegister(ctx, controlID, p.invoices)
		if err != nil {
			return err
		}
	}
	if p.apportionment != nil {
		if err := s.saveApportionmentRegister(ctx, controlID, p.apportionment); err != nil {
			return err
		}
	}
	if p.meters != nil {
		if err := s.saveMeterRegister(ctx, controlID, p.meters); err != nil {
			return err
		}
	}

	for t, report := range result.Documents {
		if err := s.archiveSource(ctx, ws, inv.Documents[t], dir, controlID, report); err != nil {
			return err
		}
	}

	if err := s.saveSuppliers(ctx, lines, result); err != nil {
		return err
	}

	if p.split != nil {
		if err := s.saveBundles(ctx, controlID, dir, lines, p.split, result); err != nil {
			return err
		}
	}

	if err := s.repo.SaveRejections(ctx, controlID, result.Rejections); err != nil {
		return fmt.Errorf("failed to save rejection log: %w", err)
	}

	if s.index != nil {
		if err := s.index.IndexImport(controlID, lines, result.Bundles, result.Associations); err != nil {
			s.logger.Error("failed to index import", "control_id", controlID, "error", err)
		}
	}

	s.record(result)
	return nil
}

// controlPeriod uses the caller's control ID when set, creating the period
// for the group and year otherwise.
func (s *ImportService) controlPeriod(ctx context.Context, cc model.ControlContext) (uuid.UUID, error) {
	if cc.ControlID != uuid.Nil {
		period, err := s.repo.GetControlPeriod(ctx, cc.ControlID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to load control period %s: %w", cc.ControlID, err)
		}
		return period.ID, nil
	}

	period, err := s.repo.EnsureControlPeriod(ctx, cc.GroupID, cc.GroupIdentifier, cc.Year)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to ensure control period: %w", err)
	}
	return period.ID, nil
}

// saveInvoiceRegister writes one transaction per category and returns the
// lines with their assigned IDs.
func (s *ImportService) saveInvoiceRegister(ctx context.Context, controlID uuid.UUID, reg *normalizer.InvoiceRegister) ([]model.InvoiceLine, error) {
	lines := slices.Clone(reg.Lines)
	byCategory := make(map[string][]int)
	for i, l := range lines {
		byCategory[l.CategoryCode] = append(byCategory[l.CategoryCode], i)
	}

	categories := slices.Clone(reg.Categories)
	for code := range byCategory {
		if !slices.ContainsFunc(categories, func(c model.Category) bool { return c.Code == code }) {
			s.logger.Warn("lines reference an undeclared category", "category", code)
			categories = append(categories, model.Category{Code: code, SourceDocument: lines[byCategory[code][0]].SourceDocument})
		}
	}

	for _, c := range categories {
		idx := byCategory[c.Code]
		batch := make([]model.InvoiceLine, len(idx))
		for i, j := range idx {
			batch[i] = lines[j]
		}
		if err := s.repo.SaveCategory(ctx, controlID, c, batch); err != nil {
			return nil, fmt.Errorf("failed to save category %s: %w", c.Code, err)
		}
		for i, j := range idx {
			lines[j] = batch[i]
		}
	}
	return lines, nil
}

func (s *ImportService) saveApportionmentRegister(ctx context.Context, controlID uuid.UUID, reg *normalizer.ApportionmentRegister) error {
	byBase := make(map[string][]model.ApportionmentShare)
	for _, sh := range reg.Shares {
		byBase[sh.BaseCode] = append(byBase[sh.BaseCode], sh)
	}
	for _, b := range reg.Bases {
		if err := s.repo.SaveApportionmentBase(ctx, controlID, b, byBase[b.Code]); err != nil {
			return fmt.Errorf("failed to save apportionment base %s: %w", b.Code, err)
		}
	}
	return nil
}

func (s *ImportService) saveMeterRegister(ctx context.Context, controlID uuid.UUID, reg *normalizer.MeterRegister) error {
	byPost := make(map[string][]model.MeterReading)
	for _, r := range reg.Readings {
		byPost[r.PostName] = append(byPost[r.PostName], r)
	}
	for _, post := range reg.Posts {
		if err := s.repo.SaveReadingPost(ctx, controlID, post, byPost[post.Name]); err != nil {
			return fmt.Errorf("failed to save reading post %s: %w", post.Name, err)
		}
	}
	return nil
}

// archiveSource copies a source PDF to <year>/<group>/<doc>.pdf.
func (s *ImportService) archiveSource(ctx context.Context, ws *sniffer.Workspace, rel, dir string, controlID uuid.UUID, report *DocumentReport) error {
	f, err := os.Open(ws.Path(rel))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", report.FileName, err)
	}
	defer f.Close()

	info, err := s.store.Save(ctx, dir, report.Type.ArchiveName(), pdfContentType, f)
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", report.FileName, err)
	}
	report.StoredPath = info.Path

	doc := repository.SourceDocument{Type: report.Type, FileName: report.FileName, StoredPath: info.Path}
	if err := s.repo.SaveSourceDocument(ctx, controlID, doc); err != nil {
		return err
	}
	return nil
}

// saveSuppliers links each invoice line to its detected supplier.
func (s *ImportService) saveSuppliers(ctx context.Context, lines []model.InvoiceLine, result *ImportResult) error {
	if s.rules == nil || len(lines) == 0 {
		return nil
	}

	detections, err := s.rules.DetectSuppliers(ctx, lines)
	if err != nil {
		return fmt.Errorf("failed to detect suppliers: %w", err)
	}

	for i := range lines {
		det, ok := detections[lines[i].InvoiceNumber]
		if !ok || lines[i].ID == uuid.Nil {
			continue
		}
		if err := s.repo.AssignSupplier(ctx, lines[i].ID, det.Supplier.ID); err != nil {
			return fmt.Errorf("failed to assign supplier to invoice %s: %w", lines[i].InvoiceNumber, err)
		}
		supplierID := det.Supplier.ID
		lines[i].SupplierID = &supplierID
		result.SuppliersAssigned++
	}
	return nil
}

// saveBundles stores each bundle PDF, reconciles bundles with invoice lines,
// extracts supplier fields and records the bundle set.
func (s *ImportService) saveBundles(ctx context.Context, controlID uuid.UUID, dir string, lines []model.InvoiceLine, split *splitter.Result, result *ImportResult) error {
	bundles := slices.Clone(split.Bundles)
	for i := range bundles {
		info, err := s.store.Save(ctx, path.Join(dir, "factures"), bundles[i].FileName(), pdfContentType, bytes.NewReader(bundles[i].Content))
		if err != nil {
			return fmt.Errorf("failed to store bundle %s: %w", bundles[i].Identifier, err)
		}
		bundles[i].StoredPath = info.Path
	}

	rec := s.reconciler.Reconcile(reconciler.RefsFromLines(lines), bundles)

	if err := s.extractFields(ctx, lines, bundles, rec.Associations); err != nil {
		return err
	}

	if err := s.repo.SaveBundles(ctx, controlID, bundles, rec.Associations); err != nil {
		return fmt.Errorf("failed to save bundles: %w", err)
	}

	result.Bundles = bundles
	result.Associations = rec.Associations
	result.Unresolved = rec.Unresolved
	result.OrphanPages = split.OrphanPages
	return nil
}

// extractFields applies the associated invoice's supplier rules to each
// matched bundle.
func (s *ImportService) extractFields(ctx context.Context, lines []model.InvoiceLine, bundles []model.InvoiceBundle, associations map[string]model.Association) error {
	if s.rules == nil {
		return nil
	}

	supplierByInvoice := make(map[string]uuid.UUID)
	for _, l := range lines {
		if l.SupplierID != nil {
			if _, seen := supplierByInvoice[l.InvoiceNumber]; !seen {
				supplierByInvoice[l.InvoiceNumber] = *l.SupplierID
			}
		}
	}

	for invoice, a := range associations {
		supplierID, ok := supplierByInvoice[invoice]
		if !ok {
			continue
		}

		ex, err := s.rules.ExtractFields(ctx, supplierID, a.Bundle.Text)
		if err != nil {
			return fmt.Errorf("failed to extract fields for invoice %s: %w", invoice, err)
		}
		for _, re := range ex.Errors {
			s.logger.Warn("extraction rule failed",
				"invoice", invoice,
				"rule_id", re.RuleID,
				"field", re.Field,
				"error", re.Err,
			)
		}

		fields := ex.Flatten()
		if len(fields) == 0 {
			continue
		}
		a.Bundle.Fields = fields
		associations[invoice] = a
		for i := range bundles {
			if bundles[i].ID == a.Bundle.ID {
				bundles[i].Fields = fields
			}
		}
	}
	return nil
}

func (s *ImportService) record(result *ImportResult) {
	if s.metrics == nil {
		return
	}
	for t, d := range result.Documents {
		doc := string(t)
		s.metrics.RowsAccepted.WithLabelValues(doc).Add(float64(d.Accepted))
		s.metrics.RowsDiscarded.WithLabelValues(doc).Add(float64(d.Discarded))
		if d.Truncation != nil {
			s.metrics.Truncations.WithLabelValues(doc).Inc()
		}
	}
	for _, r := range result.Rejections {
		s.metrics.RowsRejected.WithLabelValues(documentOf(r, result), r.Stage).Inc()
	}
	for _, b := range result.Bundles {
		s.metrics.Bundles.WithLabelValues(string(b.Kind)).Inc()
	}
	s.metrics.UnresolvedBundles.Add(float64(len(result.Unresolved)))
}

// documentOf labels a rejection with its document type, falling back to the
// file name.
func documentOf(r normalizer.Rejection, result *ImportResult) string {
	for t, d := range result.Documents {
		if d.FileName == r.Source {
			return string(t)
		}
	}
	if t, ok := sniffer.DetectType(r.Source); ok {
		return string(t)
	}
	return r.Source
}
