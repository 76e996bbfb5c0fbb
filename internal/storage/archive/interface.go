// Package archive stores run artifacts on a local filesystem or in S3.
package archive

import (
	"context"
	"mime"
	"path"
	"strings"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
)

// Storage is the artifact store. Paths are slash-separated and relative to
// the store root.
type Storage interface {
	// Write stores data at the given path
	Write(ctx context.Context, path string, data []byte) error

	// Read retrieves data from the given path
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns all paths under the prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks if data exists at the given path
	Exists(ctx context.Context, path string) (bool, error)
}

// Backend names.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	Path    string // local root
	S3      S3Config
}

// New opens the configured backend.
func New(cfg Config) (Storage, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		if cfg.Path == "" {
			return nil, core.Errorf(core.ErrConfigMissing, "archive.path")
		}
		return NewLocalFS(cfg.Path)
	case BackendS3:
		return NewS3(cfg.S3)
	}
	return nil, core.Errorf(core.ErrConfigInvalid, "unknown archive backend %q", cfg.Backend)
}

// cleanPath normalizes p and rejects paths that escape the store root.
func cleanPath(p string) (string, error) {
	slashed := strings.ReplaceAll(p, "\\", "/")
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", core.Errorf(core.ErrMalformedInput, "artifact path %q leaves the archive root", p)
		}
	}
	c := strings.TrimPrefix(path.Clean("/"+slashed), "/")
	if c == "" {
		return "", core.Errorf(core.ErrMalformedInput, "empty artifact path %q", p)
	}
	return c, nil
}

// contentType guesses the MIME type of an artifact from its extension.
func contentType(p string) string {
	switch path.Ext(p) {
	case ".csv":
		return "text/csv"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".json":
		return "application/json"
	case ".prom":
		return "text/plain; version=0.0.4"
	}
	if t := mime.TypeByExtension(path.Ext(p)); t != "" {
		return t
	}
	return "application/octet-stream"
}
