package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a supplier or rule does not exist.
var ErrNotFound = errors.New("not found")

// DB is the subset of pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository stores suppliers and extraction rules.
type Repository struct {
	db DB
}

// NewRepository creates a new rules repository
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// CreateSupplier inserts a supplier and fills its ID and creation time
func (r *Repository) CreateSupplier(ctx context.Context, s *Supplier) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.DetectionField == "" {
		s.DetectionField = DefaultDetectionField
	}
	if !s.InvoiceKind.Valid() {
		return fmt.Errorf("invalid invoice kind %q", s.InvoiceKind)
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO suppliers (id, name, invoice_kind, detection_field, detection_regex)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, s.ID, s.Name, s.InvoiceKind, s.DetectionField, s.DetectionRegex).Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create supplier: %w", err)
	}
	return nil
}

// ListSuppliers returns suppliers by name
func (r *Repository) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, invoice_kind, detection_field, detection_regex, created_at
		FROM suppliers ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list suppliers: %w", err)
	}
	defer rows.Close()

	var out []Supplier
	for rows.Next() {
		var s Supplier
		if err := rows.Scan(&s.ID, &s.Name, &s.InvoiceKind, &s.DetectionField, &s.DetectionRegex, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan supplier: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSupplier removes a supplier and, by cascade, its rules
func (r *Repository) DeleteSupplier(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM suppliers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete supplier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateRule validates the pattern and inserts the rule
func (r *Repository) CreateRule(ctx context.Context, rule *Rule) error {
	if _, err := compileRule(rule.Regex); err != nil {
		return fmt.Errorf("invalid rule pattern: %w", err)
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO extraction_rules (
			id, supplier_id, target_table, target_field, regex, description, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, rule.ID, rule.SupplierID, rule.TargetTable, rule.TargetField, rule.Regex, rule.Description, rule.Active,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// UpdateRule rewrites a rule's pattern, target and active flag
func (r *Repository) UpdateRule(ctx context.Context, rule *Rule) error {
	if _, err := compileRule(rule.Regex); err != nil {
		return fmt.Errorf("invalid rule pattern: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE extraction_rules SET
			target_table = $2, target_field = $3, regex = $4,
			description = $5, active = $6, updated_at = now()
		WHERE id = $1
	`, rule.ID, rule.TargetTable, rule.TargetField, rule.Regex, rule.Description, rule.Active)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRules returns a supplier's rules ordered by target
func (r *Repository) ListRules(ctx context.Context, supplierID uuid.UUID, activeOnly bool) ([]Rule, error) {
	query := `
		SELECT id, supplier_id, target_table, target_field, regex, description, active, created_at, updated_at
		FROM extraction_rules WHERE supplier_id = $1
	`
	if activeOnly {
		query += ` AND active`
	}
	query += ` ORDER BY target_table, target_field`

	rows, err := r.db.Query(ctx, query, supplierID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var rule Rule
		err := rows.Scan(
			&rule.ID, &rule.SupplierID, &rule.TargetTable, &rule.TargetField, &rule.Regex,
			&rule.Description, &rule.Active, &rule.CreatedAt, &rule.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// DeleteRule removes a rule
func (r *Repository) DeleteRule(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM extraction_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
