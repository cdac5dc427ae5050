// Package redisdedup classifies records against a shared Redis seen-set.
package redisdedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/retailpulse/harvester/internal/metrics"
	"github.com/retailpulse/harvester/internal/pipeline"
)

const defaultOperationTimeout = 30 * time.Second

// Filter implements pipeline.DedupFilter with pipelined SADD calls.
// SADD's per-element reply is the test-and-set result: 1 means this
// caller inserted the identity first, 0 means some caller already had.
// A separate lookup-then-insert would race between concurrent workers.
type Filter struct {
	client           *redis.Client
	seenSetKey       string
	identity         pipeline.IdentityFunc
	operationTimeout time.Duration
}

// New constructs a Filter over the named seen-set.
func New(client *redis.Client, seenSetKey string, identity pipeline.IdentityFunc, operationTimeout time.Duration) (*Filter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if seenSetKey == "" {
		return nil, errors.New("seen set key is required")
	}
	if identity == nil {
		return nil, errors.New("identity function is required")
	}
	if operationTimeout <= 0 {
		operationTimeout = defaultOperationTimeout
	}
	return &Filter{
		client:           client,
		seenSetKey:       seenSetKey,
		identity:         identity,
		operationTimeout: operationTimeout,
	}, nil
}

// Classify partitions records into first-seen and already-seen in one
// pipelined round trip, preserving input order within each partition.
func (f *Filter) Classify(ctx context.Context, records []pipeline.Record) ([]pipeline.Record, []pipeline.Record, error) {
	if len(records) == 0 {
		return nil, nil, nil
	}

	identities := make([]string, len(records))
	for i, record := range records {
		id := f.identity(record)
		if id == "" {
			return nil, nil, fmt.Errorf("record %d has no identity", i)
		}
		identities[i] = id
	}

	opCtx, cancel := context.WithTimeout(ctx, f.operationTimeout)
	defer cancel()

	cmds := make([]*redis.IntCmd, len(identities))
	_, err := f.client.Pipelined(opCtx, func(pipe redis.Pipeliner) error {
		for i, id := range identities {
			cmds[i] = pipe.SAdd(opCtx, f.seenSetKey, id)
		}
		return nil
	})
	metrics.ObserveStoreOperation("classify", err)
	if err != nil {
		return nil, nil, fmt.Errorf("classify pipeline: %w", err)
	}

	var firstSeen, alreadySeen []pipeline.Record
	for i, cmd := range cmds {
		added, err := cmd.Result()
		if err != nil {
			return nil, nil, fmt.Errorf("classify element %d: %w", i, err)
		}
		if added == 1 {
			firstSeen = append(firstSeen, records[i])
		} else {
			alreadySeen = append(alreadySeen, records[i])
		}
	}
	return firstSeen, alreadySeen, nil
}
