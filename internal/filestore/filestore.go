// Package filestore is the blob collaborator used for transcript and audio
// persistence. The pipeline only depends on the Store interface; the shipped
// implementation keeps blobs on local disk under the data directory.
package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists opaque blobs and retrieves them by the id it returned.
type Store interface {
	Put(ctx context.Context, kind, id string, data []byte) (string, error)
	Get(ctx context.Context, fileID string) ([]byte, error)
}

// Local stores blobs as files under root, one directory per kind.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating filestore root: %w", err)
	}
	return &Local{root: root}, nil
}

// Put writes data under kind/id and returns "kind/id" as the file id.
func (l *Local) Put(_ context.Context, kind, id string, data []byte) (string, error) {
	kind = sanitize(kind)
	id = sanitize(id)
	if kind == "" || id == "" {
		return "", fmt.Errorf("kind and id are required")
	}

	dir := filepath.Join(l.root, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s directory: %w", kind, err)
	}

	if err := os.WriteFile(filepath.Join(dir, id), data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s/%s: %w", kind, id, err)
	}

	return kind + "/" + id, nil
}

// Get reads a blob previously stored under the returned file id.
func (l *Local) Get(_ context.Context, fileID string) ([]byte, error) {
	kind, id, ok := strings.Cut(fileID, "/")
	if !ok {
		return nil, fmt.Errorf("invalid file id %q", fileID)
	}

	data, err := os.ReadFile(filepath.Join(l.root, sanitize(kind), sanitize(id)))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", fileID, err)
	}
	return data, nil
}

// sanitize keeps ids filesystem-safe.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, string(filepath.Separator), "_")
	return strings.ReplaceAll(s, "..", "_")
}
