package searchindex

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgildea/msgsearch/internal/messagedb"
	"github.com/sgildea/msgsearch/pkg/types"
)

// memSource feeds synthetic messages to index builds.
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
		{ID: 10, ChatID: 1, Date: at(0), IsFromMe: false, Text: "Hey, are you free for lunch?"},
		{ID: 11, ChatID: 1, Date: at(1), IsFromMe: true, Text: "Sure, noon works"},
		{ID: 12, ChatID: 3, Date: at(2), IsFromMe: false, Text: "Family dinner this Sunday?"},
		{ID: 13, ChatID: 1, Date: at(3), IsFromMe: false, Text: "Yes! I've heard great things, I've been thinking about it"},
	}}
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "search.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func builtIndex(t *testing.T) *Index {
	t.Helper()
	ix := newTestIndex(t)
	n, err := ix.Build(context.Background(), testSource(), BuildOptions{})
	require.NoError(t, err)
	require.Equal(t, 4, n)
	return ix
}

func TestBuildIdempotent(t *testing.T) {
	ix := newTestIndex(t)
	src := testSource()

	n, err := ix.Build(context.Background(), src, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = ix.Build(context.Background(), src, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBuildSkipsDuplicateStreamRows(t *testing.T) {
	ix := newTestIndex(t)
	src := testSource()
	// A message joined to two chats streams twice.
	src.msgs = append(src.msgs, src.msgs[0])

	n, err := ix.Build(context.Background(), src, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	stats, err := ix.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.IndexedMessages)
}

func TestBuildIncremental(t *testing.T) {
	ix := newTestIndex(t)
	src := testSource()

	_, err := ix.Build(context.Background(), src, BuildOptions{})
	require.NoError(t, err)

	src.msgs = append(src.msgs, messagedb.IndexableMessage{
		ID: 14, ChatID: 1, Date: types.TimeToAppleTime(testBase.Add(time.Hour)), Text: "See you tomorrow",
	})
	n, err := ix.Build(context.Background(), src, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBuildFullRebuild(t *testing.T) {
	ix := builtIndex(t)

	n, err := ix.Build(context.Background(), testSource(), BuildOptions{FullRebuild: true})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	stats, err := ix.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.IndexedMessages)
}

func TestBuildProgress(t *testing.T) {
	ix := newTestIndex(t)

	var calls []int
	var gotTotal *int
	_, err := ix.Build(context.Background(), testSource(), BuildOptions{
		OnProgress: func(indexed int, total *int) {
			calls = append(calls, indexed)
			gotTotal = total
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, calls)
	assert.Equal(t, 4, calls[len(calls)-1])
	require.NotNil(t, gotTotal)
	assert.Equal(t, 4, *gotTotal)
}

func TestSearchKeyword(t *testing.T) {
	ix := builtIndex(t)

	results, err := ix.Search(context.Background(), "lunch", SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, strings.ToLower(results[0].Text), "lunch")
	assert.Contains(t, results[0].Snippet, ">>>")
}

func TestSearchBooleanOr(t *testing.T) {
	ix := builtIndex(t)

	results, err := ix.Search(context.Background(), "lunch OR dinner", SearchOptions{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(results), 2)
}

func TestSearchChatFilter(t *testing.T) {
	ix := builtIndex(t)

	results, err := ix.Search(context.Background(), "dinner", SearchOptions{ChatID: 3})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, int64(3), r.ChatID)
	}

	results, err = ix.Search(context.Background(), "dinner", SearchOptions{ChatID: 1})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchChatIDsFilter(t *testing.T) {
	ix := builtIndex(t)

	results, err := ix.Search(context.Background(), "lunch OR dinner", SearchOptions{ChatIDs: []int64{1, 3}})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(results), 2)
}

func TestSearchDateFilter(t *testing.T) {
	ix := builtIndex(t)

	results, err := ix.Search(context.Background(), "lunch OR dinner", SearchOptions{After: testBase.Add(time.Minute)})
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Date.After(testBase.Add(time.Minute)))
	}

	results, err = ix.Search(context.Background(), "lunch OR dinner", SearchOptions{Before: testBase.Add(time.Minute)})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.True(t, r.Date.Before(testBase.Add(time.Minute)))
	}
}

func TestSearchStemmed(t *testing.T) {
	ix := builtIndex(t)

	// "think" must reach the message that said "thinking".
	results, err := ix.Search(context.Background(), "think", SearchOptions{Stemmed: true})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, int64(13), results[0].MessageID)

	// The raw index does not make that connection.
	results, err = ix.Search(context.Background(), "think", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchSyntaxErrorRetry(t *testing.T) {
	ix := builtIndex(t)

	// Unbalanced syntax is retried as a literal phrase, yielding no
	// matches rather than an error.
	results, err := ix.Search(context.Background(), `lunch AND (((`, SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchLimit(t *testing.T) {
	ix := builtIndex(t)

	results, err := ix.Search(context.Background(), "lunch OR dinner OR noon", SearchOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestStatsEmpty(t *testing.T) {
	ix := newTestIndex(t)

	stats, err := ix.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.IndexedMessages)
	assert.True(t, stats.LastMessageDate.IsZero())
	assert.True(t, stats.Stemmer.Available)
}

func TestStatsBuilt(t *testing.T) {
	ix := builtIndex(t)

	stats, err := ix.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.IndexedMessages)
	assert.Equal(t, testBase.Add(3*time.Minute), stats.LastMessageDate.UTC())
	assert.Greater(t, stats.SizeBytes, int64(0))
}
