package sniffer

import (
	"archive/zip"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		name  string
		want  model.DocumentType
		found bool
	}{
		{"2024_REG010_group12.pdf", model.DocInvoiceRegister, true},
		{"export/reg114-2024.PDF", model.DocApportionmentRegister, true},
		{"GED001.pdf", model.DocBundle, true},
		{"eau008c_releves.pdf", model.DocMeterRegister, true},
		{"REG010.xlsx", "", false},
		{"notes.pdf", "", false},
		{`dir\REG010.pdf`, model.DocInvoiceRegister, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectType(tt.name)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify(t *testing.T) {
	mandatory := []model.DocumentType{model.DocInvoiceRegister, model.DocBundle}

	t.Run("all present", func(t *testing.T) {
		inv, err := Classify([]string{"REG010.pdf", "REG114.pdf", "GED001.pdf", "EAU008C.pdf", "readme.txt"}, mandatory)
		require.NoError(t, err)
		assert.Len(t, inv.Documents, 4)
		assert.Empty(t, inv.Missing)
		assert.Equal(t, []string{"readme.txt"}, inv.Ignored)
	})

	t.Run("optional missing", func(t *testing.T) {
		inv, err := Classify([]string{"REG010.pdf", "GED001.pdf"}, mandatory)
		require.NoError(t, err)
		assert.Equal(t, []model.DocumentType{model.DocApportionmentRegister, model.DocMeterRegister}, inv.Missing)
		assert.True(t, inv.Has(model.DocBundle))
		assert.False(t, inv.Has(model.DocMeterRegister))
	})

	t.Run("mandatory missing", func(t *testing.T) {
		_, err := Classify([]string{"REG010.pdf", "REG114.pdf"}, mandatory)
		require.ErrorIs(t, err, ErrMissingDocument)
		var te *TypeError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, model.DocBundle, te.Type)
	})

	t.Run("duplicate", func(t *testing.T) {
		_, err := Classify([]string{"b_REG010.pdf", "a_REG010.pdf", "GED001.pdf"}, mandatory)
		require.ErrorIs(t, err, ErrDuplicateDocument)
		var te *TypeError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, model.DocInvoiceRegister, te.Type)
		assert.Equal(t, []string{"a_REG010.pdf", "b_REG010.pdf"}, te.Files)
		assert.Contains(t, err.Error(), "REG010")
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Classify(nil, mandatory)
		assert.ErrorIs(t, err, ErrEmptyArchive)
	})
}

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "import.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.Copy(w, strings.NewReader(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestWorkspace(t *testing.T) {
	archive := writeZip(t, map[string]string{
		"REG010.pdf":     "%PDF-register",
		"sub/GED001.pdf": "%PDF-bundle",
	})
	base := t.TempDir()

	ws, err := Open(archive, base, testLogger())
	require.NoError(t, err)

	dir := ws.Dir()
	assert.True(t, strings.HasPrefix(filepath.Base(dir), WorkspacePrefix))
	assert.ElementsMatch(t, []string{"REG010.pdf", filepath.Join("sub", "GED001.pdf")}, ws.Files())

	data, err := os.ReadFile(ws.Path(filepath.Join("sub", "GED001.pdf")))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-bundle", string(data))

	require.NoError(t, ws.Close())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, ws.Close())
}

func TestWorkspace_RejectsEscapingEntries(t *testing.T) {
	archive := writeZip(t, map[string]string{"../evil.pdf": "x"})
	base := t.TempDir()

	_, err := Open(archive, base, testLogger())
	require.Error(t, err)

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace must be cleaned up")
}

func TestWorkspace_NotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))

	_, err := Open(path, t.TempDir(), testLogger())
	assert.Error(t, err)
}
