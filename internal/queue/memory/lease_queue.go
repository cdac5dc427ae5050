// Package memory provides store implementations for local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/retailpulse/harvester/internal/pipeline"
)

// LeaseQueue is an in-memory lease queue honoring the same atomic
// contracts as the Redis implementation.
type LeaseQueue struct {
	mu         sync.Mutex
	pending    map[string]int
	deadLetter map[string]int
	maxRetries int
}

// NewLeaseQueue constructs an empty queue with the given retry budget.
func NewLeaseQueue(maxRetries int) *LeaseQueue {
	return &LeaseQueue{
		pending:    make(map[string]int),
		deadLetter: make(map[string]int),
		maxRetries: maxRetries,
	}
}

// Seed inserts items directly into the pending set.
func (q *LeaseQueue) Seed(items map[string]int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for k, v := range items {
		q.pending[k] = v
	}
}

// Pop removes up to batchSize items under one lock acquisition, so no
// two callers can observe the same key.
func (q *LeaseQueue) Pop(ctx context.Context, batchSize int) ([]pipeline.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]pipeline.WorkItem, 0, batchSize)
	for key, count := range q.pending {
		if len(items) >= batchSize {
			break
		}
		items = append(items, pipeline.WorkItem{Key: key, RetryCount: count})
		delete(q.pending, key)
	}
	return items, nil
}

// Requeue applies the retry/dead-letter state machine per item.
func (q *LeaseQueue) Requeue(ctx context.Context, items []pipeline.WorkItem) (pipeline.RequeueStats, error) {
	var stats pipeline.RequeueStats
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range items {
		next := item.RetryCount + 1
		if next <= q.maxRetries {
			q.pending[item.Key] = next
			stats.Requeued++
		} else {
			q.deadLetter[item.Key]++
			stats.DeadLettered++
		}
	}
	return stats, nil
}

// ScraperState returns the current UTC date, the same fallback the
// Redis implementation uses when the state key is absent.
func (q *LeaseQueue) ScraperState(_ context.Context) (string, error) {
	return time.Now().UTC().Format("2006-01-02"), nil
}

// PendingLen reports the current pending set size.
func (q *LeaseQueue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// PendingCount returns the stored retry count for a key.
func (q *LeaseQueue) PendingCount(key string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	count, ok := q.pending[key]
	return count, ok
}

// DeadLetterCount returns the cumulative failure count for a key.
func (q *LeaseQueue) DeadLetterCount(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deadLetter[key]
}
