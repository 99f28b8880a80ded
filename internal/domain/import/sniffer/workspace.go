package sniffer

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// WorkspacePrefix names the temporary extraction directories.
const WorkspacePrefix = "charge_extract_"

// Workspace is a temporary directory holding the extracted archive.
// Close removes it; callers defer Close right after Open succeeds.
type Workspace struct {
	dir    string
	files  []string
	logger *slog.Logger
}

// Open extracts archivePath into a fresh directory under baseDir (the system
// temp dir when empty). The directory is removed again if extraction fails.
func Open(archivePath, baseDir string, logger *slog.Logger) (*Workspace, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer zr.Close()

	dir, err := os.MkdirTemp(baseDir, WorkspacePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	ws := &Workspace{dir: dir, logger: logger}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rel, err := ws.extract(f)
		if err != nil {
			ws.Close()
			return nil, fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
		ws.files = append(ws.files, rel)
	}

	logger.Info("archive extracted", "archive", archivePath, "dir", dir, "files", len(ws.files))
	return ws, nil
}

func (w *Workspace) extract(f *zip.File) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(f.Name))
	target := filepath.Join(w.dir, rel)
	if rel == "." || filepath.IsAbs(rel) || !strings.HasPrefix(target, w.dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("entry escapes workspace")
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}

	src, err := f.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", err
	}
	return rel, dst.Close()
}

// Dir is the extraction directory.
func (w *Workspace) Dir() string { return w.dir }

// Files lists extracted files relative to Dir, in archive order.
func (w *Workspace) Files() []string { return w.files }

// Path resolves a file listed by Files.
func (w *Workspace) Path(rel string) string { return filepath.Join(w.dir, rel) }

// Close removes the workspace directory.
func (w *Workspace) Close() error {
	if w.dir == "" {
		return nil
	}
	if err := os.RemoveAll(w.dir); err != nil {
		w.logger.Warn("failed to remove workspace", "dir", w.dir, "error", err)
		return err
	}
	w.logger.Debug("workspace removed", "dir", w.dir)
	w.dir = ""
	return nil
}
