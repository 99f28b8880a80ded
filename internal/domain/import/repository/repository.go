// Package repository persists imported charges for a control period.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/normalizer"
)

// DB is the subset of pgxpool.Pool the repositories use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ControlPeriod is one group and year under audit.
type ControlPeriod struct {
	ID              uuid.UUID `db:"id"`
	GroupID         uuid.UUID `db:"group_id"`
	GroupIdentifier string    `db:"group_identifier"`
	Year            int       `db:"year"`
	CreatedAt       time.Time `db:"created_at"`
}

// SourceDocument records an archived register PDF.
type SourceDocument struct {
	Type       model.DocumentType
	FileName   string
	StoredPath string
}

// ImportRepository is the persistence side of an import run. Each Save call
// writes one header with all of its detail rows in a single transaction.
type ImportRepository interface {
	EnsureControlPeriod(ctx context.Context, groupID uuid.UUID, groupIdentifier string, year int) (*ControlPeriod, error)
	GetControlPeriod(ctx context.Context, controlID uuid.UUID) (*ControlPeriod, error)

	SaveCategory(ctx context.Context, controlID uuid.UUID, category model.Category, lines []model.InvoiceLine) error
	SaveApportionmentBase(ctx context.Context, controlID uuid.UUID, base model.ApportionmentBase, shares []model.ApportionmentShare) error
	SaveReadingPost(ctx context.Context, controlID uuid.UUID, post model.ReadingPost, readings []model.MeterReading) error
	SaveBundles(ctx context.Context, controlID uuid.UUID, bundles []model.InvoiceBundle, associations map[string]model.Association) error
	SaveSourceDocument(ctx context.Context, controlID uuid.UUID, doc SourceDocument) error
	SaveRejections(ctx context.Context, controlID uuid.UUID, rejections []normalizer.Rejection) error

	UpdateInvoiceStatus(ctx context.Context, lineID uuid.UUID, status model.ReviewStatus, comment string) error
	AssignSupplier(ctx context.Context, lineID, supplierID uuid.UUID) error

	ListCategories(ctx context.Context, controlID uuid.UUID) ([]model.Category, error)
	ListInvoiceLines(ctx context.Context, controlID uuid.UUID) ([]model.InvoiceLine, error)
	ListApportionmentShares(ctx context.Context, controlID uuid.UUID) ([]model.ApportionmentShare, error)
	ListRejections(ctx context.Context, controlID uuid.UUID) ([]normalizer.Rejection, error)
}
