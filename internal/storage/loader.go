// Package storage loads per-item input artifacts and persists accepted documents.
package storage

import (
	"bytes"
	"context"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/temirov/genbatch/internal/fsops"
)

// ErrArtifactNotFound is returned when an input artifact is absent or empty.
var ErrArtifactNotFound = errors.New("input artifact not found")

// Loader returns the named input artifact for an item.
type Loader interface {
	Load(ctx context.Context, key string, role string) ([]byte, error)
}

// FileLoader resolves roles to path templates under a base directory.
type FileLoader struct {
	ops       fsops.Ops
	baseDir   string
	templates map[string]string
}

// NewFileLoader maps each role to a path template such as "{key}/{slug}-serp.md".
func NewFileLoader(ops fsops.Ops, baseDir string, templates map[string]string) *FileLoader {
	copied := make(map[string]string, len(templates))
	for role, template := range templates {
		copied[role] = template
	}
	return &FileLoader{ops: ops, baseDir: baseDir, templates: copied}
}

// PathFor returns where the artifact for role is expected.
func (l *FileLoader) PathFor(key string, role string) (string, error) {
	template, ok := l.templates[role]
	if !ok {
		return "", errors.Newf("no input configured for role %q", role)
	}
	path := ExpandPath(template, key)
	if filepath.IsAbs(path) {
		return path, nil
	}
	return filepath.Join(l.baseDir, path), nil
}

func (l *FileLoader) Load(ctx context.Context, key string, role string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := l.PathFor(key, role)
	if err != nil {
		return nil, err
	}
	data, found, err := l.ops.ReadFileIfExists(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s input %s", role, path)
	}
	if !found {
		return nil, errors.Wrapf(ErrArtifactNotFound, "%s input %s", role, path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.Wrapf(ErrArtifactNotFound, "%s input %s is empty", role, path)
	}
	return data, nil
}
