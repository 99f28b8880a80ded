package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
)

// Store is the read side of the rules repository.
type Store interface {
	ListSuppliers(ctx context.Context) ([]Supplier, error)
	ListRules(ctx context.Context, supplierID uuid.UUID, activeOnly bool) ([]Rule, error)
}

// Service detects suppliers and extracts rule fields during an import.
type Service struct {
	store  Store
	engine *Engine
	logger *slog.Logger
}

// NewService creates a rules service
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, engine: NewEngine(logger), logger: logger}
}

// DetectSuppliers loads the supplier list and detects one per invoice number
func (s *Service) DetectSuppliers(ctx context.Context, lines []model.InvoiceLine) (map[string]Detection, error) {
	suppliers, err := s.store.ListSuppliers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load suppliers: %w", err)
	}
	if len(suppliers) == 0 {
		return map[string]Detection{}, nil
	}
	return NewDetector(suppliers, s.logger).DetectAll(lines), nil
}

// ExtractFields applies the supplier's active rules to bundle text
func (s *Service) ExtractFields(ctx context.Context, supplierID uuid.UUID, text string) (*Extraction, error) {
	rules, err := s.store.ListRules(ctx, supplierID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load extraction rules: %w", err)
	}
	return s.engine.Apply(text, rules), nil
}
