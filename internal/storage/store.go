package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

// ContentHash returns the hex SHA-256 of data. It doubles as the record ID.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DiskStore persists uploaded files and their derived artifacts under a
// single uploads directory. Distinct files write to distinct paths, so
// concurrent saves do not interfere.
type DiskStore struct {
	dir    string
	logger *zap.Logger
}

// NewDiskStore creates the uploads directory if needed.
func NewDiskStore(dir string, logger *zap.Logger) (*DiskStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("uploads directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	return &DiskStore{dir: dir, logger: logger}, nil
}

// Save persists original bytes to the long-term area (implements domain.ContentStore)
func (s *DiskStore) Save(ctx context.Context, data []byte, filename string) (string, string, error) {
	select {
	case <-ctx.Done():
		return "", "", ctx.Err()
	default:
	}

	name := sanitizeFilename(filename)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write %s: %w", name, err)
	}

	hash := ContentHash(data)
	s.logger.Debug("file stored",
		zap.String("path", path),
		zap.String("hash", hash),
		zap.Int("size", len(data)),
	)
	return path, hash, nil
}

// SaveDerived persists a derived artifact next to the original (implements domain.ContentStore)
func (s *DiskStore) SaveDerived(ctx context.Context, data []byte, filename, suffix string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	name := sanitizeFilename(filename)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	path := filepath.Join(s.dir, stem+suffix)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write derived file %s: %w", stem+suffix, err)
	}
	return path, nil
}

// Read returns the bytes stored at path (implements domain.ContentStore)
func (s *DiskStore) Read(ctx context.Context, path string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// StoredFile is one original file in the long-term area, with derived
// artifacts attached.
type StoredFile struct {
	Filename           string `json:"filename"`
	Path               string `json:"path"`
	TranslatedFilename string `json:"translated_filename,omitempty"`
}

// List returns the original files in the long-term area with their
// translated siblings attached. Hidden files and derived artifacts are
// not listed on their own.
func (s *DiskStore) List(ctx context.Context) ([]StoredFile, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}

	files := make(map[string]*StoredFile)
	var translated []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasPrefix(name, "."):
			continue
		case strings.HasSuffix(name, TranslatedSuffix):
			translated = append(translated, name)
		default:
			stem := strings.TrimSuffix(name, filepath.Ext(name))
			files[stem] = &StoredFile{
				Filename: name,
				Path:     filepath.Join(s.dir, name),
			}
		}
	}
	for _, name := range translated {
		stem := strings.TrimSuffix(name, TranslatedSuffix)
		if f, ok := files[stem]; ok {
			f.TranslatedFilename = name
		}
	}

	out := make([]StoredFile, 0, len(files))
	for _, f := range files {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// TranslatedSuffix names the derived translated-text sibling of an upload.
const TranslatedSuffix = "_translated.txt"

// sanitizeFilename strips any path components from an untrusted upload name.
func sanitizeFilename(filename string) string {
	name := filepath.Base(filepath.Clean(filename))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "upload"
	}
	return name
}

// Verify that DiskStore implements domain.ContentStore interface
var _ domain.ContentStore = (*DiskStore)(nil)
