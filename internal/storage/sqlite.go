package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/temirov/genbatch/internal/document"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS results (
	recipe        TEXT NOT NULL,
	item_key      TEXT NOT NULL,
	document      TEXT NOT NULL,
	quality_score REAL,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (recipe, item_key)
);
CREATE TABLE IF NOT EXISTS derivatives (
	recipe     TEXT NOT NULL,
	item_key   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	payload    BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (recipe, item_key, kind)
);`

// SQLiteWriter stores documents as JSON rows keyed by recipe and item.
type SQLiteWriter struct {
	db      *sql.DB
	recipe  string
	timeNow func() time.Time
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(path string, recipe string) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "configure sqlite")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "initialize sqlite schema")
	}
	return &SQLiteWriter{db: db, recipe: recipe, timeNow: time.Now}, nil
}

func (w *SQLiteWriter) Close() error { return w.db.Close() }

func (w *SQLiteWriter) Exists(ctx context.Context, key string) (bool, error) {
	var found int
	err := w.db.QueryRowContext(ctx,
		`SELECT 1 FROM results WHERE recipe = ? AND item_key = ?`, w.recipe, key,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "lookup %q", key)
	}
	return true, nil
}

func (w *SQLiteWriter) Write(ctx context.Context, key string, doc document.Document) error {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "encode result for %q", key)
	}
	var score sql.NullFloat64
	if scalar, ok := doc.Section("quality_score").(document.Scalar); ok {
		if value, ok := scalar.V.(float64); ok {
			score = sql.NullFloat64{Float64: value, Valid: true}
		}
	}
	_, err = w.db.ExecContext(ctx, `
INSERT INTO results (recipe, item_key, document, quality_score, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (recipe, item_key) DO UPDATE SET
	document = excluded.document,
	quality_score = excluded.quality_score,
	updated_at = excluded.updated_at`,
		w.recipe, key, string(encoded), score, w.timeNow().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrapf(err, "store result for %q", key)
	}
	return nil
}

func (w *SQLiteWriter) WriteDerivative(ctx context.Context, key string, kind string, payload []byte) error {
	_, err := w.db.ExecContext(ctx, `
INSERT INTO derivatives (recipe, item_key, kind, payload, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (recipe, item_key, kind) DO UPDATE SET
	payload = excluded.payload,
	updated_at = excluded.updated_at`,
		w.recipe, key, kind, payload, w.timeNow().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrapf(err, "store %s for %q", kind, key)
	}
	return nil
}

// Document loads a stored result back.
func (w *SQLiteWriter) Document(ctx context.Context, key string) (document.Document, error) {
	var encoded string
	err := w.db.QueryRowContext(ctx,
		`SELECT document FROM results WHERE recipe = ? AND item_key = ?`, w.recipe, key,
	).Scan(&encoded)
	if err != nil {
		return document.Document{}, errors.Wrapf(err, "load result for %q", key)
	}
	value, err := document.FromJSON([]byte(encoded))
	if err != nil {
		return document.Document{}, errors.Wrapf(err, "decode result for %q", key)
	}
	mapping, ok := value.(*document.Map)
	if !ok {
		return document.Document{}, errors.Newf("stored result for %q is not a mapping", key)
	}
	return document.FromMap(mapping), nil
}
