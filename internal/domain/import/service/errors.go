package service

import (
	"errors"
	"fmt"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/extractor"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/sniffer"
)

// Structural failures of a document. A failure on a mandatory document
// aborts the run; on an optional one the document is skipped.
var (
	ErrMissingDocument   = sniffer.ErrMissingDocument
	ErrDuplicateDocument = sniffer.ErrDuplicateDocument
	ErrNoTables          = extractor.ErrNoTables
	ErrTooFewColumns     = extractor.ErrTooFewColumns
	ErrNoValidRows       = errors.New("no valid rows")
)

// Check names used in DocumentError and metrics.
const (
	CheckPresence   = "presence"
	CheckUniqueness = "uniqueness"
	CheckTables     = "tables"
	CheckColumns    = "columns"
	CheckRows       = "rows"
)

// DocumentError reports which document failed which structural check.
type DocumentError struct {
	Type  model.DocumentType
	Check string
	Err   error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document %s failed %s check: %v", e.Type, e.Check, e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// checkFor maps a structural sentinel to its check name.
func checkFor(err error) string {
	switch {
	case errors.Is(err, ErrMissingDocument):
		return CheckPresence
	case errors.Is(err, ErrDuplicateDocument):
		return CheckUniqueness
	case errors.Is(err, ErrNoTables):
		return CheckTables
	case errors.Is(err, ErrTooFewColumns):
		return CheckColumns
	default:
		return CheckRows
	}
}
