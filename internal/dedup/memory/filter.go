// Package memory provides an in-memory dedup filter for local development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/retailpulse/harvester/internal/pipeline"
)

// Filter is an in-memory seen-set with the same test-and-set semantics
// as the Redis implementation.
type Filter struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	identity pipeline.IdentityFunc
}

// NewFilter constructs an empty filter.
func NewFilter(identity pipeline.IdentityFunc) *Filter {
	return &Filter{
		seen:     make(map[string]struct{}),
		identity: identity,
	}
}

// Classify partitions records by first observation, inserting as it tests.
func (f *Filter) Classify(ctx context.Context, records []pipeline.Record) ([]pipeline.Record, []pipeline.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstSeen, alreadySeen []pipeline.Record
	for i, record := range records {
		id := f.identity(record)
		if id == "" {
			return nil, nil, fmt.Errorf("record %d has no identity", i)
		}
		if _, ok := f.seen[id]; ok {
			alreadySeen = append(alreadySeen, record)
			continue
		}
		f.seen[id] = struct{}{}
		firstSeen = append(firstSeen, record)
	}
	return firstSeen, alreadySeen, nil
}

// Len reports the seen-set size.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}
