package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/normalizer"
)

// ErrNotFound is returned when an update matches no row.
var ErrNotFound = errors.New("record not found")

// PostgresImportRepository implements ImportRepository using PostgreSQL
type PostgresImportRepository struct {
	pool DB
}

// NewPostgresImportRepository creates a new PostgreSQL-backed import repository
func NewPostgresImportRepository(pool DB) *PostgresImportRepository {
	return &PostgresImportRepository{pool: pool}
}

// ============================================================================
// Control periods
// ============================================================================

// EnsureControlPeriod returns the control period for group and year, creating it if needed
func (r *PostgresImportRepository) EnsureControlPeriod(ctx context.Context, groupID uuid.UUID, groupIdentifier string, year int) (*ControlPeriod, error) {
	query := `
		INSERT INTO control_periods (id, group_id, group_identifier, year)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id, year) DO UPDATE SET
			group_identifier = EXCLUDED.group_identifier
		RETURNING id, group_id, group_identifier, year, created_at
	`

	var cp ControlPeriod
	err := r.pool.QueryRow(ctx, query, uuid.New(), groupID, groupIdentifier, year).Scan(
		&cp.ID, &cp.GroupID, &cp.GroupIdentifier, &cp.Year, &cp.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure control period: %w", err)
	}

	return &cp, nil
}

// GetControlPeriod retrieves a control period by ID
func (r *PostgresImportRepository) GetControlPeriod(ctx context.Context, controlID uuid.UUID) (*ControlPeriod, error) {
	query := `
		SELECT id, group_id, group_identifier, year, created_at
		FROM control_periods WHERE id = $1
	`

	var cp ControlPeriod
	err := r.pool.QueryRow(ctx, query, controlID).Scan(
		&cp.ID, &cp.GroupID, &cp.GroupIdentifier, &cp.Year, &cp.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get control period: %w", err)
	}

	return &cp, nil
}

// ============================================================================
// Registers
// ============================================================================

// SaveCategory upserts a category and replaces its invoice lines. Lines
// without an ID get one assigned in place.
func (r *PostgresImportRepository) SaveCategory(ctx context.Context, controlID uuid.UUID, category model.Category, lines []model.InvoiceLine) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var categoryID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO categories (id, control_id, code, label, source_document)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (control_id, code) DO UPDATE SET
			label = EXCLUDED.label,
			source_document = EXCLUDED.source_document
		RETURNING id
	`, uuid.New(), controlID, category.Code, category.Label, category.SourceDocument).Scan(&categoryID)
	if err != nil {
		return fmt.Errorf("failed to upsert category %s: %w", category.Code, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM invoice_lines WHERE category_id = $1`, categoryID); err != nil {
		return fmt.Errorf("failed to clear invoice lines for %s: %w", category.Code, err)
	}

	for i := range lines {
		line := &lines[i]
		if line.ID == uuid.Nil {
			line.ID = uuid.New()
		}
		if line.Status == "" {
			line.Status = model.StatusPending
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO invoice_lines (
				id, control_id, category_id, invoice_number, journal_code, account_number,
				amount, description, partner_reference, source_document, position, status
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			line.ID, controlID, categoryID, line.InvoiceNumber, line.JournalCode, line.AccountNumber,
			line.Amount, line.Description, line.PartnerReference, line.SourceDocument, line.Position, line.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to insert invoice line %s: %w", line.InvoiceNumber, err)
		}
	}

	return tx.Commit(ctx)
}

// SaveApportionmentBase upserts a base and replaces its shares
func (r *PostgresImportRepository) SaveApportionmentBase(ctx context.Context, controlID uuid.UUID, base model.ApportionmentBase, shares []model.ApportionmentShare) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var baseID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO apportionment_bases (id, control_id, code, label)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (control_id, code) DO UPDATE SET label = EXCLUDED.label
		RETURNING id
	`, uuid.New(), controlID, base.Code, base.Label).Scan(&baseID)
	if err != nil {
		return fmt.Errorf("failed to upsert apportionment base %s: %w", base.Code, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM apportionment_shares WHERE base_id = $1`, baseID); err != nil {
		return fmt.Errorf("failed to clear shares for %s: %w", base.Code, err)
	}

	for _, s := range shares {
		_, err := tx.Exec(ctx, `
			INSERT INTO apportionment_shares (
				id, base_id, unit_number, account_number, occupation_start, occupation_end,
				share, residual, source_document, position
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			uuid.New(), baseID, s.UnitNumber, s.AccountNumber, s.OccupationStart, s.OccupationEnd,
			s.Share, s.Residual, s.SourceDocument, s.Position,
		)
		if err != nil {
			return fmt.Errorf("failed to insert share for unit %s: %w", s.UnitNumber, err)
		}
	}

	return tx.Commit(ctx)
}

// SaveReadingPost upserts a reading post and replaces its readings
func (r *PostgresImportRepository) SaveReadingPost(ctx context.Context, controlID uuid.UUID, post model.ReadingPost, readings []model.MeterReading) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var postID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO reading_posts (id, control_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (control_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, uuid.New(), controlID, post.Name).Scan(&postID)
	if err != nil {
		return fmt.Errorf("failed to upsert reading post %s: %w", post.Name, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM meter_readings WHERE post_id = $1`, postID); err != nil {
		return fmt.Errorf("failed to clear readings for %s: %w", post.Name, err)
	}

	for _, m := range readings {
		_, err := tx.Exec(ctx, `
			INSERT INTO meter_readings (
				id, post_id, unit_number, unit_kind, account_number, metering_point, meter_serial,
				reading_date, value_date, reading_type, observations, index_value, index_change,
				source_document, position
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`,
			uuid.New(), postID, m.UnitNumber, m.UnitKind, m.AccountNumber, m.MeteringPoint, m.MeterSerial,
			m.ReadingDate, m.ValueDate, m.ReadingType, m.Observations, m.Index, m.IndexChange,
			m.SourceDocument, m.Position,
		)
		if err != nil {
			return fmt.Errorf("failed to insert reading for meter %s: %w", m.MeterSerial, err)
		}
	}

	return tx.Commit(ctx)
}

// SaveBundles replaces the control period's bundles and links associated
// invoice lines to them
func (r *PostgresImportRepository) SaveBundles(ctx context.Context, controlID uuid.UUID, bundles []model.InvoiceBundle, associations map[string]model.Association) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM invoice_bundles WHERE control_id = $1`, controlID); err != nil {
		return fmt.Errorf("failed to clear bundles: %w", err)
	}

	for _, b := range bundles {
		fields := b.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO invoice_bundles (
				id, control_id, identifier, kind, occurrence, pages, stored_path, extracted_text, extracted_fields
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, b.ID, controlID, b.Identifier, b.Kind, b.Occurrence, b.Pages, b.StoredPath, b.Text, fields)
		if err != nil {
			return fmt.Errorf("failed to insert bundle %s: %w", b.Identifier, err)
		}
	}

	for invoice, a := range associations {
		_, err := tx.Exec(ctx, `
			UPDATE invoice_lines SET bundle_id = $1
			WHERE control_id = $2 AND invoice_number = $3
		`, a.Bundle.ID, controlID, invoice)
		if err != nil {
			return fmt.Errorf("failed to link bundle %s to invoice %s: %w", a.Bundle.Identifier, invoice, err)
		}
	}

	return tx.Commit(ctx)
}

// SaveSourceDocument records where a register PDF was archived
func (r *PostgresImportRepository) SaveSourceDocument(ctx context.Context, controlID uuid.UUID, doc SourceDocument) error {
	query := `
		INSERT INTO source_documents (id, control_id, doc_type, file_name, stored_path)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (control_id, doc_type) DO UPDATE SET
			file_name = EXCLUDED.file_name,
			stored_path = EXCLUDED.stored_path,
			imported_at = now()
	`
	_, err := r.pool.Exec(ctx, query, uuid.New(), controlID, doc.Type, doc.FileName, doc.StoredPath)
	if err != nil {
		return fmt.Errorf("failed to save source document %s: %w", doc.Type, err)
	}
	return nil
}

// SaveRejections replaces the rejection log of a control period
func (r *PostgresImportRepository) SaveRejections(ctx context.Context, controlID uuid.UUID, rejections []normalizer.Rejection) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM import_rejections WHERE control_id = $1`, controlID); err != nil {
		return fmt.Errorf("failed to clear rejections: %w", err)
	}

	for _, rej := range rejections {
		_, err := tx.Exec(ctx, `
			INSERT INTO import_rejections (
				id, control_id, source_document, position, stage, column_name, reason, raw
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, uuid.New(), controlID, rej.Source, rej.Position, rej.Stage, rej.Column, rej.Reason, rej.Raw)
		if err != nil {
			return fmt.Errorf("failed to insert rejection at %s:%d: %w", rej.Source, rej.Position, err)
		}
	}

	return tx.Commit(ctx)
}

// ============================================================================
// Review
// ============================================================================

// UpdateInvoiceStatus records the review decision on an invoice line
func (r *PostgresImportRepository) UpdateInvoiceStatus(ctx context.Context, lineID uuid.UUID, status model.ReviewStatus, comment string) error {
	switch status {
	case model.StatusPending, model.StatusValidated, model.StatusContested:
	default:
		return fmt.Errorf("invalid review status %q", status)
	}

	query := `
		UPDATE invoice_lines SET
			status = $2,
			contest_comment = $3,
			processed_at = CASE WHEN $2 = 'pending' THEN NULL ELSE now() END
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, lineID, status, comment)
	if err != nil {
		return fmt.Errorf("failed to update invoice status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignSupplier sets the detected supplier of an invoice line
func (r *PostgresImportRepository) AssignSupplier(ctx context.Context, lineID, supplierID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE invoice_lines SET supplier_id = $2 WHERE id = $1`, lineID, supplierID)
	if err != nil {
		return fmt.Errorf("failed to assign supplier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================================
// Listings
// ============================================================================

// ListCategories lists the categories of a control period by code
func (r *PostgresImportRepository) ListCategories(ctx context.Context, controlID uuid.UUID) ([]model.Category, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT code, label, source_document
		FROM categories WHERE control_id = $1
		ORDER BY code
	`, controlID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var out []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.Code, &c.Label, &c.SourceDocument); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListInvoiceLines lists invoice lines in register order
func (r *PostgresImportRepository) ListInvoiceLines(ctx context.Context, controlID uuid.UUID) ([]model.InvoiceLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT l.id, c.code, l.invoice_number, l.journal_code, l.account_number, l.amount,
		       l.description, l.partner_reference, l.source_document, l.position,
		       l.status, COALESCE(l.contest_comment, ''), l.supplier_id, l.bundle_id
		FROM invoice_lines l
		JOIN categories c ON c.id = l.category_id
		WHERE l.control_id = $1
		ORDER BY l.position
	`, controlID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoice lines: %w", err)
	}
	defer rows.Close()

	var out []model.InvoiceLine
	for rows.Next() {
		var l model.InvoiceLine
		err := rows.Scan(
			&l.ID, &l.CategoryCode, &l.InvoiceNumber, &l.JournalCode, &l.AccountNumber, &l.Amount,
			&l.Description, &l.PartnerReference, &l.SourceDocument, &l.Position,
			&l.Status, &l.ContestComment, &l.SupplierID, &l.BundleID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListApportionmentShares lists shares grouped by base
func (r *PostgresImportRepository) ListApportionmentShares(ctx context.Context, controlID uuid.UUID) ([]model.ApportionmentShare, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.code, s.unit_number, s.account_number, s.occupation_start, s.occupation_end,
		       s.share, s.residual, s.source_document, s.position
		FROM apportionment_shares s
		JOIN apportionment_bases b ON b.id = s.base_id
		WHERE b.control_id = $1
		ORDER BY b.code, s.position
	`, controlID)
	if err != nil {
		return nil, fmt.Errorf("failed to list apportionment shares: %w", err)
	}
	defer rows.Close()

	var out []model.ApportionmentShare
	for rows.Next() {
		var s model.ApportionmentShare
		err := rows.Scan(
			&s.BaseCode, &s.UnitNumber, &s.AccountNumber, &s.OccupationStart, &s.OccupationEnd,
			&s.Share, &s.Residual, &s.SourceDocument, &s.Position,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListRejections returns the rejection log in document order
func (r *PostgresImportRepository) ListRejections(ctx context.Context, controlID uuid.UUID) ([]normalizer.Rejection, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT source_document, position, stage, column_name, reason, raw
		FROM import_rejections WHERE control_id = $1
		ORDER BY source_document, position
	`, controlID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rejections: %w", err)
	}
	defer rows.Close()

	var out []normalizer.Rejection
	for rows.Next() {
		var rej normalizer.Rejection
		if err := rows.Scan(&rej.Source, &rej.Position, &rej.Stage, &rej.Column, &rej.Reason, &rej.Raw); err != nil {
			return nil, fmt.Errorf("failed to scan rejection: %w", err)
		}
		out = append(out, rej)
	}
	return out, rows.Err()
}
