// Package hybrid fans a query out across the keyword, stemmed, and
// semantic indexes, normalizes each strategy's native score to [0,1],
// and merges the hits into one ranked result set keyed by message id.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sgildea/msgsearch/internal/embedder"
	"github.com/sgildea/msgsearch/internal/embedindex"
	"github.com/sgildea/msgsearch/internal/messagedb"
	"github.com/sgildea/msgsearch/internal/searchindex"
	"github.com/sgildea/msgsearch/pkg/types"
)

// Mode selects which strategies a search runs.
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeStemmed  Mode = "stemmed"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// ErrUnknownMode indicates an unrecognized search mode.
var ErrUnknownMode = errors.New("unknown search mode")

// Default score weights for hybrid mode.
const (
	DefaultKeywordWeight  = 0.4
	DefaultStemmedWeight  = 0.3
	DefaultSemanticWeight = 0.3

	// hybridMinSimilarity keeps weak semantic matches from diluting
	// hybrid results; direct semantic searches choose their own floor.
	hybridMinSimilarity = 0.2

	// bm25Floor anchors BM25 rank normalization: ranks at or below
	// -bm25Floor map to 0. Empirical for SQLite's bm25(); tune if the
	// engine's score range shifts.
	bm25Floor = 10.0

	defaultLimit = 50
)

// Options filters and tunes a search. Zero weights fall back to the
// defaults; to genuinely zero a strategy's contribution set another
// weight explicitly.
type Options struct {
	Mode    Mode
	ChatID  int64
	ChatIDs []int64
	After   time.Time
	Before  time.Time
	Limit   int

	KeywordWeight  float64
	StemmedWeight  float64
	SemanticWeight float64
}

// Config wires a Searcher to its index files and source.
type Config struct {
	// FTSPath is the keyword/stemmed index file.
	FTSPath string

	// SemanticPath is the embedding index file.
	SemanticPath string

	// Source streams messages during builds.
	Source messagedb.Source

	// Embedder may be nil; the semantic strategy is then unavailable.
	Embedder embedder.Embedder
}

// Searcher owns the three strategy indexes, opening each lazily on
// first use and closing them together.
type Searcher struct {
	cfg Config

	ftsOnce sync.Once
	fts     *searchindex.Index
	ftsErr  error

	semOnce sync.Once
	sem     *embedindex.Index
	semErr  error
}

// New creates a Searcher. Index files are not opened until needed.
func New(cfg Config) *Searcher {
	return &Searcher{cfg: cfg}
}

func (s *Searcher) ftsIndex() (*searchindex.Index, error) {
	s.ftsOnce.Do(func() {
		s.fts, s.ftsErr = searchindex.Open(s.cfg.FTSPath)
	})
	return s.fts, s.ftsErr
}

func (s *Searcher) semIndex() (*embedindex.Index, error) {
	s.semOnce.Do(func() {
		s.sem, s.semErr = embedindex.Open(s.cfg.SemanticPath, s.cfg.Embedder)
	})
	return s.sem, s.semErr
}

// Close releases whichever indexes were opened.
func (s *Searcher) Close() error {
	var firstErr error
	if s.fts != nil {
		if err := s.fts.Close(); err != nil {
			firstErr = err
		}
	}
	if s.sem != nil {
		if err := s.sem.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Search runs the strategies implied by opts.Mode and returns merged
// results, best first. A failure in any single strategy contributes
// nothing rather than failing the call.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) ([]types.HybridSearchResult, error) {
	switch opts.Mode {
	case ModeKeyword, ModeStemmed, ModeSemantic, ModeHybrid:
	case "":
		opts.Mode = ModeHybrid
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, opts.Mode)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if opts.KeywordWeight == 0 && opts.StemmedWeight == 0 && opts.SemanticWeight == 0 {
		opts.KeywordWeight = DefaultKeywordWeight
		opts.StemmedWeight = DefaultStemmedWeight
		opts.SemanticWeight = DefaultSemanticWeight
	}

	wantKeyword := opts.Mode == ModeKeyword || opts.Mode == ModeHybrid
	wantStemmed := opts.Mode == ModeStemmed || opts.Mode == ModeHybrid
	wantSemantic := opts.Mode == ModeSemantic || opts.Mode == ModeHybrid

	// Over-fetch per strategy so the merge has room to promote
	// messages found by more than one.
	fetch := limit * 2

	var (
		keywordHits  []types.SearchResult
		stemmedHits  []types.SearchResult
		semanticHits []types.SemanticSearchResult
	)

	// The strategies are read-only; run them concurrently and fold
	// failures into empty contributions.
	g, gctx := errgroup.WithContext(ctx)
	if wantKeyword {
		g.Go(func() error {
			ix, err := s.ftsIndex()
			if err != nil {
				return nil
			}
			hits, err := ix.Search(gctx, query, searchindex.SearchOptions{
				ChatID: opts.ChatID, ChatIDs: opts.ChatIDs,
				After: opts.After, Before: opts.Before,
				Limit: fetch,
			})
			if err == nil {
				keywordHits = hits
			}
			return nil
		})
	}
	if wantStemmed {
		g.Go(func() error {
			ix, err := s.ftsIndex()
			if err != nil {
				return nil
			}
			hits, err := ix.Search(gctx, query, searchindex.SearchOptions{
				ChatID: opts.ChatID, ChatIDs: opts.ChatIDs,
				After: opts.After, Before: opts.Before,
				Limit: fetch, Stemmed: true,
			})
			if err == nil {
				stemmedHits = hits
			}
			return nil
		})
	}
	if wantSemantic {
		g.Go(func() error {
			ix, err := s.semIndex()
			if err != nil {
				return nil
			}
			minSim := 0.0
			if opts.Mode == ModeHybrid {
				minSim = hybridMinSimilarity
			}
			hits, err := ix.Search(gctx, query, embedindex.SearchOptions{
				ChatID: opts.ChatID, ChatIDs: opts.ChatIDs,
				After: opts.After, Before: opts.Before,
				Limit: fetch, MinSimilarity: minSim,
			})
			if err == nil {
				semanticHits = hits
			}
			return nil
		})
	}
	_ = g.Wait()

	// Merge in fixed strategy order so first-seen fields (text,
	// keyword snippet) are deterministic.
	merged := make(map[int64]*types.HybridSearchResult)
	var order []int64

	entry := func(id int64, chatID int64, text string, date time.Time, fromMe bool) *types.HybridSearchResult {
		if r, ok := merged[id]; ok {
			return r
		}
		r := &types.HybridSearchResult{
			MessageID: id, ChatID: chatID, Text: text, Date: date, IsFromMe: fromMe,
		}
		merged[id] = r
		order = append(order, id)
		return r
	}
	foundBy := func(r *types.HybridSearchResult, name string) {
		for _, n := range r.FoundBy {
			if n == name {
				return
			}
		}
		r.FoundBy = append(r.FoundBy, name)
	}

	for _, h := range keywordHits {
		r := entry(h.MessageID, h.ChatID, h.Text, h.Date, h.IsFromMe)
		r.KeywordScore = normalizeRank(h.Rank)
		if r.Snippet == "" {
			r.Snippet = h.Snippet
		}
		foundBy(r, string(ModeKeyword))
	}
	for _, h := range stemmedHits {
		r := entry(h.MessageID, h.ChatID, h.Text, h.Date, h.IsFromMe)
		r.StemmedScore = normalizeRank(h.Rank)
		if r.Snippet == "" {
			r.Snippet = h.Snippet
		}
		foundBy(r, string(ModeStemmed))
	}
	for _, h := range semanticHits {
		r := entry(h.MessageID, h.ChatID, h.Text, h.Date, h.IsFromMe)
		r.SemanticScore = h.Similarity
		foundBy(r, string(ModeSemantic))
	}

	results := make([]types.HybridSearchResult, 0, len(order))
	for _, id := range order {
		r := merged[id]
		switch opts.Mode {
		case ModeKeyword:
			r.CombinedScore = r.KeywordScore
		case ModeStemmed:
			r.CombinedScore = r.StemmedScore
		case ModeSemantic:
			r.CombinedScore = r.SemanticScore
		default:
			r.CombinedScore = r.KeywordScore*opts.KeywordWeight +
				r.StemmedScore*opts.StemmedWeight +
				r.SemanticScore*opts.SemanticWeight
		}
		results = append(results, *r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CombinedScore > results[j].CombinedScore
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// normalizeRank maps a BM25 rank (lower is better, roughly [-10,0])
// onto [0,1] higher-is-better. Rank 0 means the engine reported no
// useful signal; it maps to a neutral midpoint rather than a perfect
// score.
func normalizeRank(rank float64) float64 {
	if rank == 0 {
		return 0.5
	}
	return clamp01((bm25Floor + rank) / bm25Floor)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// BuildProgress reports per-stage build progress. stage is "fts" or
// "semantic".
type BuildProgress func(stage string, indexed int, total *int)

// BuildOptions controls BuildIndexes.
type BuildOptions struct {
	IncludeSemantic bool
	FullRebuild     bool
	OnProgress      BuildProgress
}

// BuildStats summarizes a BuildIndexes run.
type BuildStats struct {
	FTSIndexed        int
	SemanticIndexed   int
	SemanticAvailable bool
}

// BuildIndexes builds the keyword/stemmed index and, when requested and
// a backend is attached, the semantic index.
func (s *Searcher) BuildIndexes(ctx context.Context, opts BuildOptions) (BuildStats, error) {
	var stats BuildStats
	if s.cfg.Source == nil {
		return stats, errors.New("no message source configured")
	}

	fts, err := s.ftsIndex()
	if err != nil {
		return stats, err
	}
	var progress searchindex.Progress
	if opts.OnProgress != nil {
		progress = func(indexed int, total *int) { opts.OnProgress("fts", indexed, total) }
	}
	n, err := fts.Build(ctx, s.cfg.Source, searchindex.BuildOptions{
		FullRebuild: opts.FullRebuild,
		OnProgress:  progress,
	})
	if err != nil {
		return stats, err
	}
	stats.FTSIndexed = n

	if !opts.IncludeSemantic {
		stats.SemanticAvailable = s.cfg.Embedder != nil
		return stats, nil
	}

	sem, err := s.semIndex()
	if err != nil {
		return stats, err
	}
	stats.SemanticAvailable = sem.Available()
	if !stats.SemanticAvailable {
		return stats, nil
	}
	var semProgress embedindex.Progress
	if opts.OnProgress != nil {
		semProgress = func(indexed int, total *int) { opts.OnProgress("semantic", indexed, total) }
	}
	n, err = sem.Build(ctx, s.cfg.Source, embedindex.BuildOptions{
		FullRebuild: opts.FullRebuild,
		OnProgress:  semProgress,
	})
	if err != nil {
		return stats, err
	}
	stats.SemanticIndexed = n
	return stats, nil
}

// Stats reports both indexes' state. Semantic is nil when the semantic
// index could not be opened.
type Stats struct {
	FTS               searchindex.Stats
	Semantic          *embedindex.Stats
	SemanticAvailable bool
}

// Stats aggregates stats from the underlying indexes.
func (s *Searcher) Stats(ctx context.Context) (Stats, error) {
	var out Stats

	fts, err := s.ftsIndex()
	if err != nil {
		return out, err
	}
	out.FTS, err = fts.Stats(ctx)
	if err != nil {
		return out, err
	}

	if sem, err := s.semIndex(); err == nil {
		out.SemanticAvailable = sem.Available()
		if semStats, err := sem.Stats(ctx); err == nil {
			out.Semantic = &semStats
		}
	}
	return out, nil
}
