// Package index maintains the derived search indexes over the source logs:
// an SQLite FTS5 table ranked with bm25 and an optional chromem vector
// collection. Both are rebuilt wholesale and swapped in by rename.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/tslateman/lore-sub001/internal/errors"
	"github.com/tslateman/lore-sub001/internal/source"
)

const schemaVersion = "1"

// DefaultLimit caps a query that does not pass its own limit.
const DefaultLimit = 10

const schema = `
CREATE VIRTUAL TABLE records USING fts5(
	kind UNINDEXED,
	id UNINDEXED,
	title,
	body,
	tags,
	refs,
	scope UNINDEXED,
	importance UNINDEXED,
	ts UNINDEXED,
	tokenize = 'unicode61'
);
CREATE TABLE meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// rankExpr weights title and tags over body and refs. One weight per
// column, unindexed columns included.
const rankExpr = `bm25(records, 0, 0, 5.0, 1.0, 3.0, 2.0, 0, 0, 0)`

// Entry is one indexed record.
type Entry struct {
	Kind       source.Kind
	ID         string
	Title      string
	Body       string
	Tags       []string
	Refs       []string
	Scope      string
	Importance int
	Timestamp  time.Time
}

// EntryOf flattens a record into an index entry.
func EntryOf(r source.Record) Entry {
	h := r.Header()
	return Entry{
		Kind:       r.Kind(),
		ID:         h.ID,
		Title:      h.Summary,
		Body:       h.Content,
		Tags:       h.Tags,
		Refs:       h.Refs,
		Scope:      source.ScopeOf(r),
		Importance: h.Importance,
		Timestamp:  h.Timestamp,
	}
}

// Text is what gets embedded for semantic search.
func (e Entry) Text() string {
	if e.Body == "" {
		return e.Title
	}
	return e.Title + "\n\n" + e.Body
}

// Hit is a ranked match.
type Hit struct {
	Kind       source.Kind `json:"kind"`
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Snippet    string      `json:"snippet,omitempty"`
	Score      float64     `json:"score"`
	Scope      string      `json:"scope,omitempty"`
	Importance int         `json:"importance,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Key returns the source key of the hit.
func (h Hit) Key() source.Key { return source.Key{Kind: h.Kind, ID: h.ID} }

// Index is an open lexical index.
type Index struct {
	conn    *sql.DB
	path    string
	builtAt time.Time
	count   int
}

// Open opens an existing index. A missing or unreadable index is reported
// as unavailable so callers can fall back to scanning the logs.
func Open(path string) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, apperrors.Unavailable("index.open", "lexical index", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Unavailable("index.open", "lexical index", err)
	}
	ix := &Index{conn: conn, path: path}
	meta, err := readMeta(conn)
	if err != nil {
		conn.Close()
		return nil, apperrors.Unavailable("index.open", "lexical index", err)
	}
	if meta["version"] != schemaVersion {
		conn.Close()
		return nil, apperrors.Unavailable("index.open", "lexical index",
			fmt.Errorf("schema version %q, want %q", meta["version"], schemaVersion))
	}
	ix.builtAt, _ = time.Parse(time.RFC3339Nano, meta["built_at"])
	fmt.Sscanf(meta["records"], "%d", &ix.count)
	return ix, nil
}

// Close closes the database connection
func (ix *Index) Close() error {
	return ix.conn.Close()
}

// Path returns the database file.
func (ix *Index) Path() string { return ix.path }

// BuiltAt is when the index was last rebuilt.
func (ix *Index) BuiltAt() time.Time { return ix.builtAt }

// Count is the number of indexed records.
func (ix *Index) Count() int { return ix.count }

// Query runs a ranked full-text query. Blank text is an input error; a
// query with no match returns an empty slice.
func (ix *Index) Query(ctx context.Context, text string, kinds []source.Kind, limit int) ([]Hit, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.Input("index.query", "query text is empty")
	}
	ftsQuery := BuildFTSQuery(text)
	if ftsQuery == "" {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	q := `SELECT kind, id, title,
	             snippet(records, -1, '[', ']', '…', 12),
	             -` + rankExpr + ` AS score,
	             scope, importance, ts
	      FROM records
	      WHERE records MATCH ?`
	args := []any{ftsQuery}
	if len(kinds) > 0 {
		q += " AND kind IN (" + strings.TrimSuffix(strings.Repeat("?,", len(kinds)), ",") + ")"
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	q += " ORDER BY score DESC, kind, id LIMIT ?"
	args = append(args, limit)

	rows, err := ix.conn.QueryContext(ctx, q, args...)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return nil, apperrors.Unavailable("index.query", "lexical index", err)
		}
		return nil, fmt.Errorf("querying index: %w", err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var (
			h          Hit
			kind, ts   string
			importance sql.NullInt64
		)
		if err := rows.Scan(&kind, &h.ID, &h.Title, &h.Snippet, &h.Score, &h.Scope, &importance, &ts); err != nil {
			return nil, err
		}
		h.Kind = source.Kind(kind)
		h.Importance = int(importance.Int64)
		h.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func readMeta(conn *sql.DB) (map[string]string, error) {
	rows, err := conn.Query("SELECT key, value FROM meta")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

// Build writes entries into a fresh database in a temp file next to path and
// renames it over path. Readers holding the old file keep their view until
// reopened, and concurrent builds never share a temp file.
func Build(ctx context.Context, path string, entries []Entry, builtAt time.Time) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating index temp file: %w", err)
	}
	tmp := f.Name()
	f.Close()
	cleanup := func() {
		os.Remove(tmp)
		os.Remove(tmp + "-journal")
	}

	if err := writeDB(ctx, tmp, entries, builtAt); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return fmt.Errorf("installing index: %w", err)
	}
	return nil
}

func writeDB(ctx context.Context, path string, entries []Entry, builtAt time.Time) error {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer conn.Close()

	// A single file is required for the rename swap.
	if _, err := conn.Exec("PRAGMA journal_mode=DELETE"); err != nil {
		return fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records
		(kind, id, title, body, tags, refs, scope, importance, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			string(e.Kind), e.ID, e.Title, e.Body,
			strings.Join(e.Tags, " "), strings.Join(e.Refs, " "),
			e.Scope, e.Importance, e.Timestamp.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("indexing %s/%s: %w", e.Kind, e.ID, err)
		}
	}

	meta := map[string]string{
		"version":  schemaVersion,
		"built_at": builtAt.UTC().Format(time.RFC3339Nano),
		"records":  fmt.Sprint(len(entries)),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("writing meta: %w", err)
		}
	}
	return tx.Commit()
}

// Status describes the on-disk index.
type Status struct {
	Path    string    `json:"path"`
	Exists  bool      `json:"exists"`
	Records int       `json:"records"`
	BuiltAt time.Time `json:"built_at,omitempty"`
	Stale   bool      `json:"stale"`
	Vectors bool      `json:"vectors"`
	Error   string    `json:"error,omitempty"`
}

// ReadStatus inspects the index at path against the source logs.
func ReadStatus(path, vectorDir string, sources *source.Set) Status {
	st := Status{Path: path, Stale: true}
	if info, err := os.Stat(vectorDir); err == nil && info.IsDir() {
		st.Vectors = true
	}
	ix, err := Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			st.Error = err.Error()
		}
		return st
	}
	defer ix.Close()
	st.Exists = true
	st.Records = ix.Count()
	st.BuiltAt = ix.BuiltAt()
	st.Stale = Stale(ix.BuiltAt(), sources)
	return st
}

// Stale reports whether any source log changed after builtAt.
func Stale(builtAt time.Time, sources *source.Set) bool {
	if builtAt.IsZero() {
		return true
	}
	return sources.LatestModTime().After(builtAt)
}
