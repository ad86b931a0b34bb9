// Package kb is the knowledge base index: short runbook, policy and
// template chunks stored in an SQLite FTS5 table and ranked with bm25.
package kb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

var tracer = otel.Tracer("github.com/linnemanlabs/responder/internal/kb")

// Result size bounds.
const (
	DefaultK = 3
	MinK     = 1
	MaxK     = 10
)

// Chunk is a unit of knowledge base content. Immutable once seeded.
type Chunk struct {
	ID      string `json:"chunk_id"`
	Title   string `json:"title"`
	Tags    string `json:"tags"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

// Hit is a ranked search result. Lower Score is more relevant.
type Hit struct {
	ChunkID string  `json:"chunk_id"`
	Title   string  `json:"title"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
	Tags    string  `json:"tags"`
}

// Query is a search request. Boosts are tags OR'd into the match.
type Query struct {
	Text   string
	K      int
	Boosts []string
}

// SearchHook observes each search (wired to Prometheus by main).
type SearchHook func(hits int, dur time.Duration, err error)

// Index answers ranked queries over the kb_chunks table. It does not own
// the database handle.
type Index struct {
	db       *sql.DB
	logger   log.Logger
	onSearch SearchHook
}

// Option configures an Index.
type Option func(*Index)

// WithSearchHook installs a hook called after every search.
func WithSearchHook(h SearchHook) Option {
	return func(ix *Index) { ix.onSearch = h }
}

// New returns an Index over db. Call Init before use.
func New(db *sql.DB, logger log.Logger, opts ...Option) *Index {
	if logger == nil {
		logger = log.Nop()
	}
	ix := &Index{db: db, logger: logger}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// Init creates the FTS5 table if missing.
func (ix *Index) Init(ctx context.Context) error {
	_, err := ix.db.ExecContext(ctx, `CREATE VIRTUAL TABLE IF NOT EXISTS kb_chunks USING fts5(
		chunk_id UNINDEXED,
		title,
		tags,
		content,
		source UNINDEXED
	)`)
	if err != nil {
		return fmt.Errorf("create kb_chunks: %w", err)
	}
	return nil
}

// Seed inserts every chunk whose id is not already present and returns the
// number inserted. Existing chunks are never overwritten, so Seed is safe on
// every startup and safe to race with queries.
func (ix *Index) Seed(ctx context.Context, chunks []Chunk) (int, error) {
	inserted := 0
	for _, c := range chunks {
		ok, err := ix.seedOne(ctx, c)
		if err != nil {
			return inserted, fmt.Errorf("seed %s: %w", c.ID, err)
		}
		if ok {
			inserted++
		}
	}
	ix.logger.Info(ctx, "kb seeded", "inserted", inserted, "total", len(chunks))
	return inserted, nil
}

func (ix *Index) seedOne(ctx context.Context, c Chunk) (bool, error) {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM kb_chunks WHERE chunk_id = ? LIMIT 1`, c.ID).Scan(&one)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("lookup: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kb_chunks (chunk_id, title, tags, content, source) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Tags, c.Content, c.Source,
	); err != nil {
		return false, fmt.Errorf("insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// ClampK bounds k to [MinK, MaxK].
func ClampK(k int) int {
	return max(MinK, min(k, MaxK))
}

// Search returns up to q.K chunks ranked by bm25. A query with no usable
// tokens returns an empty result without touching the database.
func (ix *Index) Search(ctx context.Context, q Query) (hits []Hit, err error) {
	match := BuildMatchQuery(q.Text, q.Boosts)
	k := ClampK(q.K)

	ctx, span := tracer.Start(ctx, "kb.search", trace.WithAttributes(
		attribute.String("kb.match", match),
		attribute.Int("kb.k", k),
	))
	start := time.Now()
	defer func() {
		span.SetAttributes(attribute.Int("kb.hits", len(hits)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if ix.onSearch != nil {
			ix.onSearch(len(hits), time.Since(start), err)
		}
	}()

	hits = []Hit{}
	if match == "" {
		return hits, nil
	}

	rows, err := ix.db.QueryContext(ctx,
		`SELECT chunk_id, title, tags, content, source, bm25(kb_chunks) AS score
		 FROM kb_chunks
		 WHERE kb_chunks MATCH ?
		 ORDER BY score
		 LIMIT ?`, match, k)
	if err != nil {
		return nil, fmt.Errorf("kb search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ChunkID, &h.Title, &h.Tags, &h.Snippet, &h.Source, &h.Score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return hits, nil
}
