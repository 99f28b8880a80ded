// Package sniffer identifies the documents inside an import archive.
// The document type is taken from a fixed code embedded in the file name.
package sniffer

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
)

var (
	ErrEmptyArchive      = errors.New("archive contains no files")
	ErrMissingDocument   = errors.New("mandatory document missing from archive")
	ErrDuplicateDocument = errors.New("more than one file for document type")
)

// DetectType returns the document type whose code appears in the file name.
// Only PDF files are considered; the match is case-insensitive.
func DetectType(name string) (model.DocumentType, bool) {
	base := strings.ToUpper(path.Base(strings.ReplaceAll(name, "\\", "/")))
	if !strings.HasSuffix(base, ".PDF") {
		return "", false
	}
	for _, t := range model.AllDocumentTypes {
		if strings.Contains(base, string(t)) {
			return t, true
		}
	}
	return "", false
}

// Inventory is the classification of an archive's file names.
type Inventory struct {
	Documents map[model.DocumentType]string
	Missing   []model.DocumentType
	Ignored   []string
}

// Has reports whether a file was found for the type.
func (inv *Inventory) Has(t model.DocumentType) bool {
	_, ok := inv.Documents[t]
	return ok
}

// TypeError names the document type that failed an archive check.
type TypeError struct {
	Type  model.DocumentType
	Files []string
	Err   error
}

func (e *TypeError) Error() string {
	if len(e.Files) > 0 {
		return fmt.Sprintf("%s: %v (%s)", e.Type, e.Err, strings.Join(e.Files, ", "))
	}
	return fmt.Sprintf("%s: %v", e.Type, e.Err)
}

func (e *TypeError) Unwrap() error { return e.Err }

// Classify maps file names to document types. Two files of the same type or a
// missing mandatory type fail; missing optional types are listed in Missing.
func Classify(names []string, mandatory []model.DocumentType) (*Inventory, error) {
	if len(names) == 0 {
		return nil, ErrEmptyArchive
	}

	inv := &Inventory{Documents: make(map[model.DocumentType]string)}
	byType := make(map[model.DocumentType][]string)

	for _, name := range names {
		t, ok := DetectType(name)
		if !ok {
			inv.Ignored = append(inv.Ignored, name)
			continue
		}
		byType[t] = append(byType[t], name)
	}

	for _, t := range model.AllDocumentTypes {
		files := byType[t]
		if len(files) > 1 {
			sort.Strings(files)
			return nil, &TypeError{Type: t, Files: files, Err: ErrDuplicateDocument}
		}
		if len(files) == 1 {
			inv.Documents[t] = files[0]
		}
	}

	for _, t := range mandatory {
		if !inv.Has(t) {
			return nil, &TypeError{Type: t, Err: ErrMissingDocument}
		}
	}

	for _, t := range model.AllDocumentTypes {
		if !inv.Has(t) {
			inv.Missing = append(inv.Missing, t)
		}
	}

	return inv, nil
}
