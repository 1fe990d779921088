package hybrid

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgildea/msgsearch/internal/embedder"
	"github.com/sgildea/msgsearch/internal/messagedb"
	"github.com/sgildea/msgsearch/pkg/types"
)

type memSource struct {
	msgs []messagedb.IndexableMessage
}

func (s *memSource) IndexableCount(context.Context) (int, error) {
	return len(s.msgs), nil
}

func (s *memSource) StreamIndexable(_ context.Context, fn func(messagedb.IndexableMessage) error) error {
	sorted := make([]messagedb.IndexableMessage, len(s.msgs))
	copy(sorted, s.msgs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })
	for _, m := range sorted {
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

var testBase = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testSource() *memSource {
	at := func(min int) int64 { return types.TimeToAppleTime(testBase.Add(time.Duration(min) * time.Minute)) }
	return &memSource{msgs: []messagedb.IndexableMessage{
		{ID: 10, ChatID: 1, Date: at(0), Text: "Hey, are you free for lunch?"},
		{ID: 11, ChatID: 1, Date: at(1), IsFromMe: true, Text: "Sure, noon works"},
		{ID: 12, ChatID: 3, Date: at(2), Text: "Family dinner this Sunday?"},
		{ID: 13, ChatID: 1, Date: at(3), Text: "Yes! I've heard great things, I've been thinking about it"},
	}}
}

// newSearcher builds both indexes over the test corpus. emb may be nil.
func newSearcher(t *testing.T, emb embedder.Embedder) *Searcher {
	t.Helper()
	dir := t.TempDir()
	s := New(Config{
		FTSPath:      filepath.Join(dir, "search.db"),
		SemanticPath: filepath.Join(dir, "semantic.db"),
		Source:       testSource(),
		Embedder:     emb,
	})
	t.Cleanup(func() { s.Close() })

	_, err := s.BuildIndexes(context.Background(), BuildOptions{IncludeSemantic: emb != nil})
	require.NoError(t, err)
	return s
}

func TestSearchUnknownMode(t *testing.T) {
	s := newSearcher(t, nil)

	_, err := s.Search(context.Background(), "lunch", Options{Mode: "fuzzy"})
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestSearchKeywordMode(t *testing.T) {
	s := newSearcher(t, nil)

	results, err := s.Search(context.Background(), "lunch", Options{Mode: ModeKeyword})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, r := range results {
		assert.Equal(t, r.KeywordScore, r.CombinedScore)
		assert.Equal(t, []string{"keyword"}, r.FoundBy)
		assert.GreaterOrEqual(t, r.KeywordScore, 0.0)
		assert.LessOrEqual(t, r.KeywordScore, 1.0)
	}
	assert.Contains(t, results[0].Snippet, ">>>")
}

func TestSearchStemmedMode(t *testing.T) {
	s := newSearcher(t, nil)

	results, err := s.Search(context.Background(), "think", Options{Mode: ModeStemmed})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, int64(13), results[0].MessageID)
	for _, r := range results {
		assert.Equal(t, r.StemmedScore, r.CombinedScore)
	}
	// A stemmed-only match still carries its own snippet.
	assert.Contains(t, results[0].Snippet, ">>>think<<<")
}

func TestHybridKeepsStemmedSnippet(t *testing.T) {
	s := newSearcher(t, nil)

	results, err := s.Search(context.Background(), "think", Options{Mode: ModeHybrid})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, int64(13), results[0].MessageID)
	assert.Contains(t, results[0].Snippet, ">>>think<<<")
}

func TestSearchSemanticMode(t *testing.T) {
	s := newSearcher(t, embedder.NewMock(8))

	results, err := s.Search(context.Background(), "Family dinner this Sunday?", Options{Mode: ModeSemantic})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, int64(12), results[0].MessageID)
	for _, r := range results {
		assert.Equal(t, r.SemanticScore, r.CombinedScore)
	}
}

func TestSearchHybridMergesStrategies(t *testing.T) {
	s := newSearcher(t, nil)

	results, err := s.Search(context.Background(), "lunch", Options{Mode: ModeHybrid})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// "lunch" stems to itself, so the same message is found by both
	// text strategies.
	top := results[0]
	assert.Contains(t, top.FoundBy, "keyword")
	assert.Contains(t, top.FoundBy, "stemmed")
	assert.Greater(t, top.KeywordScore, 0.0)
	assert.Greater(t, top.StemmedScore, 0.0)
	assert.InDelta(t,
		top.KeywordScore*DefaultKeywordWeight+top.StemmedScore*DefaultStemmedWeight,
		top.CombinedScore, 1e-9)
	assert.NotEmpty(t, top.Snippet)
}

func TestSearchHybridWeightOverride(t *testing.T) {
	s := newSearcher(t, nil)

	results, err := s.Search(context.Background(), "lunch", Options{
		Mode:          ModeHybrid,
		KeywordWeight: 1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.InDelta(t, r.KeywordScore, r.CombinedScore, 1e-9)
	}
}

func TestSearchHybridWithoutBackend(t *testing.T) {
	s := newSearcher(t, nil)

	// The semantic strategy fails silently; text hits still arrive.
	results, err := s.Search(context.Background(), "dinner", Options{Mode: ModeHybrid})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Zero(t, r.SemanticScore)
		assert.NotContains(t, r.FoundBy, "semantic")
	}
}

func TestSearchSortOrder(t *testing.T) {
	s := newSearcher(t, embedder.NewMock(8))

	results, err := s.Search(context.Background(), "lunch OR dinner", Options{Mode: ModeHybrid})
	require.NoError(t, err)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].CombinedScore, results[i-1].CombinedScore)
	}
}

func TestSearchScoreBounds(t *testing.T) {
	s := newSearcher(t, embedder.NewMock(8))

	results, err := s.Search(context.Background(), "lunch OR dinner OR noon", Options{Mode: ModeHybrid})
	require.NoError(t, err)
	for _, r := range results {
		for name, score := range map[string]float64{
			"keyword": r.KeywordScore, "stemmed": r.StemmedScore, "semantic": r.SemanticScore,
		} {
			assert.GreaterOrEqual(t, score, 0.0, name)
			assert.LessOrEqual(t, score, 1.0, name)
		}
	}
}

func TestSearchChatFilter(t *testing.T) {
	s := newSearcher(t, nil)

	results, err := s.Search(context.Background(), "dinner", Options{Mode: ModeHybrid, ChatID: 3})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, int64(3), r.ChatID)
	}
}

func TestSearchLimit(t *testing.T) {
	s := newSearcher(t, nil)

	results, err := s.Search(context.Background(), "lunch OR dinner OR noon", Options{Mode: ModeHybrid, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestBuildIndexesWithoutSemantic(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{
		FTSPath:      filepath.Join(dir, "search.db"),
		SemanticPath: filepath.Join(dir, "semantic.db"),
		Source:       testSource(),
	})
	t.Cleanup(func() { s.Close() })

	stats, err := s.BuildIndexes(context.Background(), BuildOptions{IncludeSemantic: true})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.FTSIndexed)
	assert.Equal(t, 0, stats.SemanticIndexed)
	assert.False(t, stats.SemanticAvailable)
}

func TestBuildIndexesWithSemantic(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{
		FTSPath:      filepath.Join(dir, "search.db"),
		SemanticPath: filepath.Join(dir, "semantic.db"),
		Source:       testSource(),
		Embedder:     embedder.NewMock(8),
	})
	t.Cleanup(func() { s.Close() })

	var stages []string
	stats, err := s.BuildIndexes(context.Background(), BuildOptions{
		IncludeSemantic: true,
		OnProgress: func(stage string, indexed int, total *int) {
			stages = append(stages, stage)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.FTSIndexed)
	assert.Equal(t, 4, stats.SemanticIndexed)
	assert.True(t, stats.SemanticAvailable)
	assert.Contains(t, stages, "fts")
	assert.Contains(t, stages, "semantic")
}

func TestStats(t *testing.T) {
	s := newSearcher(t, embedder.NewMock(8))

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.FTS.IndexedMessages)
	assert.True(t, stats.SemanticAvailable)
	require.NotNil(t, stats.Semantic)
	assert.Equal(t, 4, stats.Semantic.IndexedMessages)
}
