// Package index implements the persisted vector index on SQLite. Entries are
// append-only: re-ingesting a URL adds new rows rather than replacing old
// ones. Search is a brute-force scan, which is fine at the few-thousand-entry
// scale of a campus site index.
package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"

	"campusbot/internal/domain"

	_ "modernc.org/sqlite"
)

// WriteError reports a failed single-entry append. The pipeline skips the
// entry and records the failure; nothing rolls back.
type WriteError struct {
	Collection string
	Err        error
}

func (e *WriteError) Error() string { return fmt.Sprintf("index write %s: %v", e.Collection, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// SQLiteIndex implements domain.VectorIndex.
type SQLiteIndex struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the index database. The caller owns the handle's
// lifecycle and shares it between the ingestion pipeline and the retriever.
func Open(dbPath string, logger *slog.Logger) (*SQLiteIndex, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create index directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open index database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway, and this keeps
	// concurrent appends from the worker pool contention-free.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	idx := &SQLiteIndex{db: db, logger: logger}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("index migration failed: %w", err)
	}
	return idx, nil
}

func (s *SQLiteIndex) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name       TEXT PRIMARY KEY,
		dimension  INTEGER NOT NULL,
		metric     TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS entries (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL REFERENCES collections(name),
		vector     BLOB NOT NULL,
		text       TEXT NOT NULL,
		source_url TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_entries_collection ON entries(collection);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create registers a collection. Re-creating with identical dimension and
// metric is a no-op; differing parameters is an error.
func (s *SQLiteIndex) Create(ctx context.Context, collection string, dimension int, metric domain.Metric) error {
	if dimension < 1 {
		return fmt.Errorf("create collection %s: dimension must be >= 1", collection)
	}
	if _, err := domain.ParseMetric(string(metric)); err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}

	var dim int
	var m string
	err := s.db.QueryRowContext(ctx,
		`SELECT dimension, metric FROM collections WHERE name = ?`, collection,
	).Scan(&dim, &m)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO collections (name, dimension, metric) VALUES (?, ?, ?)`,
			collection, dimension, string(metric),
		)
		if err != nil {
			return fmt.Errorf("create collection %s: %w", collection, err)
		}
		s.logger.Info("collection created",
			"collection", collection, "dimension", dimension, "metric", metric)
		return nil
	case err != nil:
		return fmt.Errorf("create collection %s: %w", collection, err)
	}

	if dim != dimension || m != string(metric) {
		return fmt.Errorf("collection %s exists with dimension=%d metric=%s, requested dimension=%d metric=%s",
			collection, dim, m, dimension, metric)
	}
	return nil
}

// Insert appends one entry. Entries are independent; concurrent callers need
// no ordering between each other.
func (s *SQLiteIndex) Insert(ctx context.Context, collection string, vector []float32, entry domain.Entry) error {
	dim, _, err := s.collectionInfo(ctx, collection)
	if err != nil {
		return &WriteError{Collection: collection, Err: err}
	}
	if len(vector) != dim {
		return &WriteError{
			Collection: collection,
			Err:        fmt.Errorf("vector dimension %d, collection expects %d", len(vector), dim),
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (collection, vector, text, source_url) VALUES (?, ?, ?, ?)`,
		collection, encodeVector(vector), entry.Text, entry.SourceURL,
	)
	if err != nil {
		return &WriteError{Collection: collection, Err: err}
	}
	return nil
}

// Search returns up to k entries ranked best-first by the collection's
// metric. Ties rank by insertion order, so results are stable for a fixed
// index state.
func (s *SQLiteIndex) Search(ctx context.Context, collection string, vector []float32, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	dim, metric, err := s.collectionInfo(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("search %s: query dimension %d, collection expects %d",
			collection, len(vector), dim)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vector, text, source_url FROM entries WHERE collection = ? ORDER BY id`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	defer rows.Close()

	type scored struct {
		id     int64
		result domain.SearchResult
	}
	var hits []scored

	for rows.Next() {
		var id int64
		var blob []byte
		var text string
		var sourceURL sql.NullString
		if err := rows.Scan(&id, &blob, &text, &sourceURL); err != nil {
			return nil, fmt.Errorf("search %s: %w", collection, err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			s.logger.Warn("skipping undecodable entry", "collection", collection, "id", id, "err", err)
			continue
		}
		if len(vec) != dim {
			continue
		}
		hits = append(hits, scored{
			id: id,
			result: domain.SearchResult{
				Entry: domain.Entry{Text: text, SourceURL: sourceURL.String},
				Score: score(metric, vector, vec),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].result.Score != hits[j].result.Score {
			return hits[i].result.Score > hits[j].result.Score
		}
		return hits[i].id < hits[j].id
	})

	if k > len(hits) {
		k = len(hits)
	}
	results := make([]domain.SearchResult, k)
	for i := range results {
		results[i] = hits[i].result
	}
	return results, nil
}

// Count returns the number of entries in a collection.
func (s *SQLiteIndex) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE collection = ?`, collection,
	).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

func (s *SQLiteIndex) collectionInfo(ctx context.Context, collection string) (int, domain.Metric, error) {
	var dim int
	var metric string
	err := s.db.QueryRowContext(ctx,
		`SELECT dimension, metric FROM collections WHERE name = ?`, collection,
	).Scan(&dim, &metric)
	if err == sql.ErrNoRows {
		return 0, "", fmt.Errorf("collection %s does not exist", collection)
	}
	if err != nil {
		return 0, "", err
	}
	return dim, domain.Metric(metric), nil
}

// score returns a ranking value where larger is always better. Euclidean
// distance is negated so the single descending sort covers all metrics.
func score(metric domain.Metric, a, b []float32) float64 {
	switch metric {
	case domain.MetricCosine:
		return cosine(a, b)
	case domain.MetricEuclidean:
		return -euclidean(a, b)
	default:
		return dot(a, b)
	}
}

func dot(a, b []float32) float64 {
	var d float64
	for i := range a {
		d += float64(a[i]) * float64(b[i])
	}
	return d
}

func cosine(a, b []float32) float64 {
	var d, na, nb float64
	for i := range a {
		d += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return d / (math.Sqrt(na) * math.Sqrt(nb))
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// Vectors are stored as little-endian float32 blobs.

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return vec, nil
}
