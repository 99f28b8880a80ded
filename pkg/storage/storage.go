// Package storage provides file storage abstraction with local and S3 implementations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when no file exists at a path
var ErrNotFound = errors.New("file not found")

// FileInfo contains metadata about a stored file
type FileInfo struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Path        string    `json:"path"` // Slash-separated path relative to the store root
	CreatedAt   time.Time `json:"created_at"`
}

// BlobStore defines the interface for file storage operations.
// Paths are relative and slash-separated; saving to an existing path replaces it.
type BlobStore interface {
	// Save stores r under dir/filename and returns its metadata
	Save(ctx context.Context, dir, filename, contentType string, r io.Reader) (*FileInfo, error)

	// Open returns a reader for a stored file
	Open(ctx context.Context, p string) (io.ReadCloser, error)

	// Delete removes a file; deleting a missing file is not an error
	Delete(ctx context.Context, p string) error

	// List returns files under a directory prefix
	List(ctx context.Context, prefix string) ([]*FileInfo, error)
}

// StorageType identifies the storage backend
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
)

// Config holds storage configuration
type Config struct {
	Type StorageType `yaml:"type"`

	// Local storage config
	LocalPath string `yaml:"local_path"`

	// S3 storage config
	S3Bucket          string `yaml:"s3_bucket"`
	S3Region          string `yaml:"s3_region"`
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`
	S3Endpoint        string `yaml:"s3_endpoint"` // For S3-compatible services (MinIO, etc.)
	S3Prefix          string `yaml:"s3_prefix"`
}

// New creates a new BlobStore implementation based on configuration
func New(cfg *Config) (BlobStore, error) {
	switch cfg.Type {
	case StorageTypeS3:
		return NewS3Storage(cfg)
	case StorageTypeLocal, "":
		return NewLocalStorage(cfg.LocalPath)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// JoinPath builds a clean relative path from a directory and file name
func JoinPath(dir, filename string) (string, error) {
	var parts []string
	for _, seg := range strings.Split(strings.ReplaceAll(dir, "\\", "/"), "/") {
		if seg == "" || seg == "." {
			continue
		}
		if seg == ".." {
			return "", fmt.Errorf("invalid storage directory %q", dir)
		}
		parts = append(parts, sanitizeFilename(seg))
	}
	name := sanitizeFilename(filename)
	if name == "" {
		return "", errors.New("empty file name")
	}
	parts = append(parts, name)
	return path.Join(parts...), nil
}

// sanitizeFilename removes unsafe characters from filenames
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		"..", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return strings.TrimSpace(replacer.Replace(name))
}
