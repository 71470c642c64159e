package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/temirov/genbatch/internal/document"
	"github.com/temirov/genbatch/internal/fsops"
)

// Writer persists accepted documents and their derivative artifacts.
type Writer interface {
	// Exists reports whether a document for key was already persisted.
	Exists(ctx context.Context, key string) (bool, error)
	// Write stores doc for key, replacing any earlier version atomically.
	Write(ctx context.Context, key string, doc document.Document) error
	// WriteDerivative stores an auxiliary artifact (debug text, analysis output)
	// under kind, e.g. "raw-response.txt".
	WriteDerivative(ctx context.Context, key string, kind string, payload []byte) error
}

// Encode renders doc as JSON or YAML depending on the target extension.
func Encode(path string, doc document.Document) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "encode json")
		}
		return append(data, '\n'), nil
	default:
		data, err := yaml.Marshal(doc)
		if err != nil {
			return nil, errors.Wrap(err, "encode yaml")
		}
		return data, nil
	}
}

// FileWriter writes one file per item at a path template under baseDir.
type FileWriter struct {
	ops      fsops.Ops
	baseDir  string
	template string
}

// NewFileWriter creates a writer for template, e.g. "{key}/{slug}-outline.yaml".
func NewFileWriter(ops fsops.Ops, baseDir string, template string) *FileWriter {
	return &FileWriter{ops: ops, baseDir: baseDir, template: template}
}

// PathFor returns the output path for key.
func (w *FileWriter) PathFor(key string) string {
	path := ExpandPath(w.template, key)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(w.baseDir, path)
}

// DerivativePathFor places derivatives next to the main output.
func (w *FileWriter) DerivativePathFor(key string, kind string) string {
	return filepath.Join(filepath.Dir(w.PathFor(key)), Slug(key)+"-"+kind)
}

func (w *FileWriter) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return w.ops.FileExists(w.PathFor(key)), nil
}

func (w *FileWriter) Write(ctx context.Context, key string, doc document.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := w.PathFor(key)
	data, err := Encode(path, doc)
	if err != nil {
		return errors.Wrapf(err, "encode result for %q", key)
	}
	return w.ops.WriteFileAtomic(path, data, 0o644)
}

func (w *FileWriter) WriteDerivative(ctx context.Context, key string, kind string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.ops.WriteFileAtomic(w.DerivativePathFor(key, kind), payload, 0o644)
}
