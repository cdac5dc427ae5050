package pipeline

import (
	"context"
	"time"
)

// LeaseQueue hands out work items from the shared pending set and owns
// the retry/dead-letter path. Pop must be atomic per item: a key
// returned to one caller is never returned to a concurrent caller.
type LeaseQueue interface {
	Pop(ctx context.Context, batchSize int) ([]WorkItem, error)
	Requeue(ctx context.Context, items []WorkItem) (RequeueStats, error)
}

// DedupFilter classifies records as first-seen or already-seen against
// the shared seen-set. The membership test is also the insert, so two
// concurrent workers can never both observe "absent".
type DedupFilter interface {
	Classify(ctx context.Context, records []Record) (firstSeen, alreadySeen []Record, err error)
}

// Sink writes one named payload durably. Names are caller-chosen and
// the sink need not support appends or partial writes.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) error
}

// Fetcher fetches a product page and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Parser turns a fetched page into zero or more raw product records.
type Parser interface {
	Parse(response FetchResponse) ([]Record, error)
}

// Publisher pushes pipeline events (flush summaries, dead-letters) to
// an external topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// StateStore reads the shared scraper-state marker, the run date
// stamped onto records that arrive without one.
type StateStore interface {
	ScraperState(ctx context.Context) (string, error)
}

// Hasher computes digests for content-addressed object naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
