package messagedb

import "context"

// IndexableMessage is the minimal projection of a message the search
// indexes store. Date is raw store time, nanoseconds since the Apple
// epoch.
type IndexableMessage struct {
	ID       int64
	ChatID   int64
	Date     int64
	IsFromMe bool
	Text     string
}

// Source streams indexable messages out of a message store. Index
// builders depend on this rather than on the store directly so tests
// can feed synthetic messages.
type Source interface {
	// IndexableCount reports how many messages have indexable text.
	IndexableCount(ctx context.Context) (int, error)

	// StreamIndexable calls fn for every message with indexable text,
	// ascending by date. Returning an error from fn stops the stream.
	StreamIndexable(ctx context.Context, fn func(IndexableMessage) error) error
}
