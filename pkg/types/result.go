package types

import "time"

// SearchResult represents a single full-text search hit. Rank is the raw
// BM25 score from FTS5, where lower values are more relevant.
type SearchResult struct {
	MessageID int64
	ChatID    int64
	Text      string
	Snippet   string // match context with >>> <<< highlighting
	Date      time.Time
	IsFromMe  bool
	Rank      float64
}

// SemanticSearchResult represents a single embedding-similarity hit.
// Similarity is cosine similarity in [0,1], higher is better.
type SemanticSearchResult struct {
	MessageID  int64
	ChatID     int64
	Text       string
	Date       time.Time
	IsFromMe   bool
	Similarity float64
}

// HybridSearchResult is a merged hit carrying the normalized score of
// every strategy that reported it. Per-strategy scores are on a [0,1]
// scale, higher is better; a strategy that did not report the message
// leaves its score at zero.
type HybridSearchResult struct {
	MessageID int64
	ChatID    int64
	Text      string
	Date      time.Time
	IsFromMe  bool

	KeywordScore  float64
	StemmedScore  float64
	SemanticScore float64
	CombinedScore float64

	// FoundBy lists the strategies that matched, in merge order.
	FoundBy []string

	// Snippet from the first text strategy that produced one; a
	// keyword snippet is never overwritten by a later strategy.
	Snippet string
}
