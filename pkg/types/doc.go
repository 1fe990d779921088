// Package types provides shared type definitions for msgsearch.
//
// It defines the domain model read from the Messages database (Message,
// Chat, Handle, Attachment, Reaction) and the result types produced by
// the search subsystem (SearchResult, SemanticSearchResult,
// HybridSearchResult).
//
// # Timestamps
//
// The Messages database stores dates as nanoseconds since the Apple
// epoch (2001-01-01 00:00:00 UTC). The index stores keep that raw
// representation; conversion to time.Time happens at API boundaries via
// AppleTimeToTime / TimeToAppleTime.
//
// # Scoring conventions
//
// SearchResult.Rank carries the engine-native BM25 score where lower is
// more relevant. HybridSearchResult scores are normalized to [0,1] with
// higher values indicating better matches.
package types
