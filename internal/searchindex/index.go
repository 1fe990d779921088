// Package searchindex maintains the persistent full-text indexes over
// message text: one FTS5 table for raw text and one for stemmed text.
// Both live in a single index file alongside a metadata table keyed by
// message id, which is what makes incremental builds possible.
package searchindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sgildea/msgsearch/internal/messagedb"
	"github.com/sgildea/msgsearch/internal/sqlitedb"
	"github.com/sgildea/msgsearch/internal/textproc"
	"github.com/sgildea/msgsearch/pkg/types"
)

// ErrQuerySyntax indicates the full-text engine rejected the query
// syntax, even after the literal-phrase retry.
var ErrQuerySyntax = errors.New("invalid search query syntax")

const (
	batchSize    = 1000
	defaultLimit = 50
)

// Index is a handle on one search index file.
type Index struct {
	db   *sql.DB
	path string
}

// Open opens or creates the index at path and applies pending schema
// migrations.
func Open(path string) (*Index, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open search index: %w", err)
	}
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Index{db: db, path: path}, nil
}

// Close releases the index connection.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Progress reports incremental build progress. total is nil when the
// source could not provide a count.
type Progress func(indexed int, total *int)

// BuildOptions controls an index build.
type BuildOptions struct {
	// FullRebuild drops all indexed content first.
	FullRebuild bool

	// OnProgress, when set, is called after each committed batch.
	OnProgress Progress
}

// Build indexes messages from src that are not yet present, in batches.
// Returns the number of newly indexed messages.
func (ix *Index) Build(ctx context.Context, src messagedb.Source, opts BuildOptions) (int, error) {
	if opts.FullRebuild {
		if _, err := ix.db.ExecContext(ctx, resetSQL); err != nil {
			return 0, fmt.Errorf("failed to reset index: %w", err)
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
		return indexed, fmt.Errorf("index build failed: %w", err)
	}
	if err := flush(); err != nil {
		return indexed, fmt.Errorf("index build failed: %w", err)
	}

	_, err = ix.db.ExecContext(ctx, `
		INSERT INTO index_metadata (key, value, updated_at) VALUES ('last_build_at', ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return indexed, fmt.Errorf("failed to record build time: %w", err)
	}
	return indexed, nil
}

func (ix *Index) indexedIDs(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT message_id FROM indexed_messages`)
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

// insertBatch writes one batch in a single transaction: raw text into
// messages_fts, normalized text into messages_fts_stemmed, and the
// bookkeeping row tying both to the message id.
func (ix *Index) insertBatch(ctx context.Context, batch []messagedb.IndexableMessage) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range batch {
		res, err := tx.ExecContext(ctx, `INSERT INTO messages_fts (text) VALUES (?)`, m.Text)
		if err != nil {
			return fmt.Errorf("failed to insert fts row: %w", err)
		}
		ftsRowID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read fts rowid: %w", err)
		}

		res, err = tx.ExecContext(ctx, `INSERT INTO messages_fts_stemmed (text) VALUES (?)`,
			textproc.NormalizeForIndex(m.Text, false))
		if err != nil {
			return fmt.Errorf("failed to insert stemmed fts row: %w", err)
		}
		stemmedRowID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read stemmed fts rowid: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO indexed_messages (message_id, chat_id, date, is_from_me, text, fts_rowid, fts_stemmed_rowid)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.ChatID, m.Date, m.IsFromMe, m.Text, ftsRowID, stemmedRowID)
		if err != nil {
			return fmt.Errorf("failed to insert index record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// SearchOptions filters a full-text search.
type SearchOptions struct {
	ChatID  int64
	ChatIDs []int64
	After   time.Time
	Before  time.Time
	Limit   int

	// Stemmed routes the query through the stemmed index with query
	// normalization applied.
	Stemmed bool
}

// Search runs a full-text query and returns results ordered best first.
// On an FTS syntax error the query is retried once as a literal quoted
// phrase.
func (ix *Index) Search(ctx context.Context, query string, opts SearchOptions) ([]types.SearchResult, error) {
	match := query
	if opts.Stemmed {
		match = textproc.NormalizeQuery(query)
	}

	results, err := ix.runSearch(ctx, match, opts)
	if err != nil && isSyntaxError(err) {
		escaped := `"` + strings.ReplaceAll(match, `"`, `""`) + `"`
		results, err = ix.runSearch(ctx, escaped, opts)
		if err != nil && isSyntaxError(err) {
			return nil, fmt.Errorf("%w: %s", ErrQuerySyntax, query)
		}
	}
	return results, err
}

func (ix *Index) runSearch(ctx context.Context, match string, opts SearchOptions) ([]types.SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	table, rowRef := "messages_fts", "fts_rowid"
	if opts.Stemmed {
		table, rowRef = "messages_fts_stemmed", "fts_stemmed_rowid"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `
		SELECT im.message_id, im.chat_id, im.text, im.date, im.is_from_me,
		       snippet(%[1]s, 0, '>>>', '<<<', '...', 32), bm25(%[1]s)
		FROM %[1]s
		JOIN indexed_messages im ON im.%[2]s = %[1]s.rowid
		WHERE %[1]s MATCH ?`, table, rowRef)
	args := []any{match}

	switch {
	case len(opts.ChatIDs) > 0:
		sb.WriteString(` AND im.chat_id IN (?` + strings.Repeat(",?", len(opts.ChatIDs)-1) + `)`)
		for _, id := range opts.ChatIDs {
			args = append(args, id)
		}
	case opts.ChatID > 0:
		sb.WriteString(` AND im.chat_id = ?`)
		args = append(args, opts.ChatID)
	}
	if !opts.After.IsZero() {
		sb.WriteString(` AND im.date > ?`)
		args = append(args, types.TimeToAppleTime(opts.After))
	}
	if !opts.Before.IsZero() {
		sb.WriteString(` AND im.date < ?`)
		args = append(args, types.TimeToAppleTime(opts.Before))
	}
	fmt.Fprintf(&sb, ` ORDER BY bm25(%s) LIMIT ?`, table)
	args = append(args, limit)

	rows, err := ix.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []types.SearchResult
	for rows.Next() {
		var (
			r    types.SearchResult
			date int64
		)
		if err := rows.Scan(&r.MessageID, &r.ChatID, &r.Text, &date, &r.IsFromMe, &r.Snippet, &r.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		r.Date = types.AppleTimeToTime(date)
		results = append(results, r)
	}
	return results, rows.Err()
}

// isSyntaxError matches the error text both SQLite drivers produce for
// malformed FTS5 queries.
func isSyntaxError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "syntax error") ||
		strings.Contains(msg, "malformed MATCH") ||
		strings.Contains(msg, "unterminated string") ||
		strings.Contains(msg, "fts5")
}

// Stats summarizes index state.
type Stats struct {
	IndexedMessages int
	LastMessageDate time.Time
	SizeBytes       int64
	Stemmer         textproc.Info
}

// Stats reports the index's size and contents. An empty index is a
// valid state, not an error.
func (ix *Index) Stats(ctx context.Context) (Stats, error) {
	var s Stats

	var lastDate sql.NullInt64
	err := ix.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(date) FROM indexed_messages`).Scan(&s.IndexedMessages, &lastDate)
	if err != nil {
		return s, fmt.Errorf("failed to read index stats: %w", err)
	}
	if lastDate.Valid {
		s.LastMessageDate = types.AppleTimeToTime(lastDate.Int64)
	}

	if info, err := os.Stat(ix.path); err == nil {
		s.SizeBytes = info.Size()
	}
	s.Stemmer = textproc.StemmerInfo()
	return s, nil
}
