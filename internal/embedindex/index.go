// Package embedindex maintains the semantic search index: one
// embedding vector per message, stored as a binary blob, queried by
// cosine similarity against an embedded query. The index requires an
// embedding backend; without one it reports unavailability rather than
// degrading silently.
package embedindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sgildea/msgsearch/internal/embedder"
	"github.com/sgildea/msgsearch/internal/messagedb"
	"github.com/sgildea/msgsearch/internal/sqlitedb"
	"github.com/sgildea/msgsearch/pkg/types"
)

const (
	batchSize      = 1000
	embedBatchSize = 50
	defaultLimit   = 50
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS message_embeddings (
    message_id INTEGER PRIMARY KEY,
    chat_id INTEGER NOT NULL,
    date INTEGER NOT NULL,
    is_from_me INTEGER NOT NULL DEFAULT 0,
    text TEXT NOT NULL,
    embedding BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    model TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_message_embeddings_chat ON message_embeddings(chat_id);
CREATE INDEX IF NOT EXISTS idx_message_embeddings_date ON message_embeddings(date);
`

// Index is a handle on the semantic index file. emb may be nil when no
// backend is configured; build and search then fail with
// embedder.ErrBackendUnavailable while Stats still works.
type Index struct {
	db   *sql.DB
	path string
	emb  embedder.Embedder
}

// Open opens or creates the semantic index at path.
func Open(path string, emb embedder.Embedder) (*Index, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open semantic index: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create semantic schema: %w", err)
	}
	return &Index{db: db, path: path, emb: emb}, nil
}

// Close releases the index connection and the embedding backend.
func (ix *Index) Close() error {
	if ix.emb != nil {
		_ = ix.emb.Close()
	}
	return ix.db.Close()
}

// Available reports whether an embedding backend is attached.
func (ix *Index) Available() bool {
	return ix.emb != nil
}

// Progress reports incremental build progress. total is nil when the
// source could not provide a count.
type Progress func(indexed int, total *int)

// BuildOptions controls a semantic index build.
type BuildOptions struct {
	FullRebuild bool
	OnProgress  Progress
}

// Build embeds and stores messages from src that are not yet indexed.
// Returns the number of newly indexed messages.
func (ix *Index) Build(ctx context.Context, src messagedb.Source, opts BuildOptions) (int, error) {
	if ix.emb == nil {
		return 0, embedder.ErrBackendUnavailable
	}

	if opts.FullRebuild {
		if _, err := ix.db.ExecContext(ctx, `DELETE FROM message_embeddings`); err != nil {
			return 0, fmt.Errorf("failed to reset semantic index: %w", err)
		}
	}

	seen, err := ix.indexedIDs(ctx)
	if err != nil {
		return 0, err
	}

	var total *int
	if n, err := src.IndexableCount(ctx); err == nil {
		total = &n
	}

	var (
		batch   []messagedb.IndexableMessage
		indexed int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ix.insertBatch(ctx, batch); err != nil {
			return err
		}
		indexed += len(batch)
		batch = batch[:0]
		if opts.OnProgress != nil {
			opts.OnProgress(indexed, total)
		}
		return nil
	}

	err = src.StreamIndexable(ctx, func(m messagedb.IndexableMessage) error {
		// Marking as we go also drops duplicate rows within one
		// stream, e.g. a message joined to more than one chat.
		if _, ok := seen[m.ID]; ok {
			return nil
		}
		seen[m.ID] = struct{}{}
		batch = append(batch, m)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return indexed, fmt.Errorf("semantic index build failed: %w", err)
	}
	if err := flush(); err != nil {
		return indexed, fmt.Errorf("semantic index build failed: %w", err)
	}
	return indexed, nil
}

func (ix *Index) indexedIDs(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT message_id FROM message_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("failed to read indexed ids: %w", err)
	}
	defer rows.Close()

	seen := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan indexed id: %w", err)
		}
		seen[id] = struct{}{}
	}
	return seen, rows.Err()
}

// insertBatch embeds one batch of messages (in provider-sized
// sub-batches) and commits the vectors in a single transaction.
func (ix *Index) insertBatch(ctx context.Context, batch []messagedb.IndexableMessage) error {
	vectors := make([][]float32, 0, len(batch))
	for start := 0; start < len(batch); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(batch) {
			end = len(batch)
		}
		texts := make([]string, 0, end-start)
		for _, m := range batch[start:end] {
			texts = append(texts, m.Text)
		}
		resp, err := ix.emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
		if err != nil {
			return fmt.Errorf("failed to embed batch: %w", err)
		}
		for _, e := range resp.Embeddings {
			vectors = append(vectors, e.Vector)
		}
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	model := ix.emb.Model()
	for i, m := range batch {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO message_embeddings (message_id, chat_id, date, is_from_me, text, embedding, dimension, model)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.ChatID, m.Date, m.IsFromMe, m.Text,
			serializeVector(vectors[i]), len(vectors[i]), model)
		if err != nil {
			return fmt.Errorf("failed to insert embedding: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// SearchOptions filters a semantic search.
type SearchOptions struct {
	ChatID        int64
	ChatIDs       []int64
	After         time.Time
	Before        time.Time
	Limit         int
	MinSimilarity float64
}

// Search embeds the query and ranks stored messages by cosine
// similarity, descending, filtered to similarity >= MinSimilarity.
func (ix *Index) Search(ctx context.Context, query string, opts SearchOptions) ([]types.SemanticSearchResult, error) {
	if ix.emb == nil {
		return nil, embedder.ErrBackendUnavailable
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	queryEmb, err := ix.emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT message_id, chat_id, text, date, is_from_me, embedding
		FROM message_embeddings WHERE 1=1`)
	var args []any
	switch {
	case len(opts.ChatIDs) > 0:
		sb.WriteString(` AND chat_id IN (?` + strings.Repeat(",?", len(opts.ChatIDs)-1) + `)`)
		for _, id := range opts.ChatIDs {
			args = append(args, id)
		}
	case opts.ChatID > 0:
		sb.WriteString(` AND chat_id = ?`)
		args = append(args, opts.ChatID)
	}
	if !opts.After.IsZero() {
		sb.WriteString(` AND date > ?`)
		args = append(args, types.TimeToAppleTime(opts.After))
	}
	if !opts.Before.IsZero() {
		sb.WriteString(` AND date < ?`)
		args = append(args, types.TimeToAppleTime(opts.Before))
	}

	rows, err := ix.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}
	defer rows.Close()

	var results []types.SemanticSearchResult
	for rows.Next() {
		var (
			r    types.SemanticSearchResult
			date int64
			blob []byte
		)
		if err := rows.Scan(&r.MessageID, &r.ChatID, &r.Text, &date, &r.IsFromMe, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding row: %w", err)
		}
		vector := deserializeVector(blob)
		if len(vector) != len(queryEmb.Vector) {
			continue
		}
		similarity := cosineSimilarity(queryEmb.Vector, vector)
		if similarity < opts.MinSimilarity {
			continue
		}
		r.Date = types.AppleTimeToTime(date)
		r.Similarity = similarity
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Stats summarizes semantic index state. Valid without a backend.
type Stats struct {
	IndexedMessages int
	Dimension       int
	ModelAvailable  bool
	ModelName       string
	SizeBytes       int64
}

// Stats reports index contents and backend availability.
func (ix *Index) Stats(ctx context.Context) (Stats, error) {
	var s Stats

	var dim sql.NullInt64
	var model sql.NullString
	err := ix.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(dimension), MAX(model) FROM message_embeddings`).
		Scan(&s.IndexedMessages, &dim, &model)
	if err != nil {
		return s, fmt.Errorf("failed to read semantic stats: %w", err)
	}
	if dim.Valid {
		s.Dimension = int(dim.Int64)
	}
	if model.Valid {
		s.ModelName = model.String
	}

	if ix.emb != nil {
		s.ModelAvailable = true
		s.ModelName = ix.emb.Model()
		if s.Dimension == 0 {
			s.Dimension = ix.emb.Dimension()
		}
	}

	if info, err := os.Stat(ix.path); err == nil {
		s.SizeBytes = info.Size()
	}
	return s, nil
}
