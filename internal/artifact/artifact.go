// Package artifact stores captured page blobs (DOM, CSS, screenshots,
// storage snapshots) as opaque objects. The graph store keeps only the keys.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store reads and writes opaque blobs by key.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Artifact kinds used in keys.
const (
	KindDOM        = "dom.html"
	KindCSS        = "styles.css"
	KindScreenshot = "screenshot.png"
	KindSnapshot   = "storage.json"
)

// Key builds the object key for one node artifact.
func Key(runID, nodeID, kind string) string {
	return fmt.Sprintf("%s/%s/%s", runID, nodeID, kind)
}

// DirStore is a filesystem-backed Store for single-host deployments.
type DirStore struct {
	root string
}

var _ Store = (*DirStore)(nil)

// NewDirStore creates the root directory if needed.
func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &DirStore{root: root}, nil
}

func (d *DirStore) Put(_ context.Context, key string, data []byte, _ string) error {
	path := d.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact subdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", key, err)
	}
	return nil
}

func (d *DirStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(d.path(key))
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}
	return data, nil
}

func (d *DirStore) path(key string) string {
	return filepath.Join(d.root, filepath.FromSlash(strings.TrimPrefix(key, "/")))
}
