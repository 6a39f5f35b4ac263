// Package sqlite is a single-file local bucket, used for offline galleries
// and as a development stand-in for the hosted store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/menta2k/cover-studio/pkg/store"
)

const bucketSchema = `
CREATE TABLE IF NOT EXISTS objects (
    name TEXT PRIMARY KEY,
    content_type TEXT NOT NULL,
    data BLOB NOT NULL,
    created_at INTEGER NOT NULL  -- UnixNano
);

CREATE INDEX IF NOT EXISTS idx_objects_created_at ON objects(created_at);
`

// Object is a stored blob.
type Object struct {
	Name        string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// Bucket implements store.ObjectStore on SQLite.
type Bucket struct {
	db      *sql.DB
	baseURL string
	now     func() time.Time

	// created_at must be strictly increasing so newest-first order is
	// stable even for uploads within the same clock tick.
	mu   sync.Mutex
	last int64
}

var _ store.ObjectStore = (*Bucket)(nil)

// Open opens or creates the bucket at dbPath. Public URLs are formed as
// baseURL + "/" + name.
func Open(dbPath, baseURL string) (*Bucket, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	dsn := dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.Exec(bucketSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Bucket{
		db:      db,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		now:     time.Now,
	}, nil
}

// Close closes the database.
func (b *Bucket) Close() error {
	return b.db.Close()
}

// List returns a page of the objects inside the folder prefix, named
// relative to it.
func (b *Bucket) List(ctx context.Context, prefix string, opts store.ListOptions) ([]store.Entry, error) {
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		prefix += "/"
	}
	column := "name"
	if opts.SortBy.Column == "created_at" {
		column = "created_at"
	}
	order := "ASC"
	if opts.SortBy.Order == store.Desc {
		order = "DESC"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}

	query := fmt.Sprintf(`SELECT name, created_at, length(data) FROM objects
		WHERE substr(name, 1, length(?)) = ?
		ORDER BY %s %s, name %s
		LIMIT ? OFFSET ?`, column, order, order)

	rows, err := b.db.QueryContext(ctx, query, prefix, prefix, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer rows.Close()

	var entries []store.Entry
	for rows.Next() {
		var (
			e       store.Entry
			created int64
		)
		if err := rows.Scan(&e.Name, &created, &e.Size); err != nil {
			return nil, fmt.Errorf("failed to scan object: %w", err)
		}
		e.Name = strings.TrimPrefix(e.Name, prefix)
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return entries, nil
}

// PublicURL returns the URL under which ServeHTTP serves name.
func (b *Bucket) PublicURL(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return b.baseURL + "/" + strings.Join(parts, "/")
}

// Upload stores data under name.
func (b *Bucket) Upload(ctx context.Context, name string, data []byte, opts store.UploadOptions) error {
	if store.IsPlaceholder(name) {
		return fmt.Errorf("invalid object name %q", name)
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	created := b.timestamp()

	if opts.Upsert {
		_, err := b.db.ExecContext(ctx, `INSERT INTO objects (name, content_type, data, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET content_type = excluded.content_type, data = excluded.data, created_at = excluded.created_at`,
			name, contentType, data, created)
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", name, err)
		}
		return nil
	}

	res, err := b.db.ExecContext(ctx, `INSERT INTO objects (name, content_type, data, created_at)
		VALUES (?, ?, ?, ?) ON CONFLICT(name) DO NOTHING`,
		name, contentType, data, created)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("upload %s: %w", name, store.ErrExists)
	}
	return nil
}

// Get returns the stored object.
func (b *Bucket) Get(ctx context.Context, name string) (*Object, error) {
	var (
		obj     Object
		created int64
	)
	err := b.db.QueryRowContext(ctx, `SELECT name, content_type, data, created_at FROM objects WHERE name = ?`, name).
		Scan(&obj.Name, &obj.ContentType, &obj.Data, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	obj.CreatedAt = time.Unix(0, created)
	return &obj, nil
}

// ServeHTTP serves objects by the request path, relative to where the
// handler is mounted.
func (b *Bucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "" || store.IsPlaceholder(name) {
		http.NotFound(w, r)
		return
	}

	obj, err := b.Get(r.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.Header().Set("Cache-Control", "max-age=3600")
	w.Header().Set("Last-Modified", obj.CreatedAt.UTC().Format(http.TimeFormat))
	if r.Method == http.MethodHead {
		return
	}
	w.Write(obj.Data)
}

func (b *Bucket) timestamp() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts := b.now().UnixNano()
	if ts <= b.last {
		ts = b.last + 1
	}
	b.last = ts
	return ts
}
