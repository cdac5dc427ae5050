// Package redisqueue implements the lease queue against a shared Redis store.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/retailpulse/harvester/internal/metrics"
	"github.com/retailpulse/harvester/internal/pipeline"
)

const defaultOperationTimeout = 30 * time.Second

// popScript removes up to N random keys from the pending hash and
// returns them with their retry counts as one atomic operation. A
// client-side read-then-delete would let a concurrent Pop return the
// same key twice.
var popScript = redis.NewScript(`
local pending = KEYS[1]
local n = tonumber(ARGV[1])

local fields = redis.call("HRANDFIELD", pending, n)
local result = {}
for _, field in ipairs(fields) do
  local count = redis.call("HGET", pending, field)
  if count then
    redis.call("HDEL", pending, field)
    table.insert(result, field)
    table.insert(result, count)
  end
end
return result
`)

// Config names the Redis structures the queue operates on.
type Config struct {
	PendingKey       string
	DeadLetterKey    string
	StateKey         string
	MaxRetries       int
	OperationTimeout time.Duration
}

func (c *Config) normalize() {
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
}

// LeaseQueue implements pipeline.LeaseQueue on Redis hashes.
type LeaseQueue struct {
	client *redis.Client
	cfg    Config
	logger *zap.Logger
}

// New constructs a LeaseQueue. The client is injected so the same
// connection can back the dedup filter and proxy loader.
func New(client *redis.Client, cfg Config, logger *zap.Logger) (*LeaseQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.PendingKey == "" {
		return nil, errors.New("pending key is required")
	}
	if cfg.DeadLetterKey == "" {
		return nil, errors.New("dead letter key is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, errors.New("max retries must be >= 0")
	}
	cfg.normalize()
	return &LeaseQueue{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Pop atomically removes up to batchSize items from the pending hash.
// An empty pending hash yields an empty slice, not an error.
func (q *LeaseQueue) Pop(ctx context.Context, batchSize int) ([]pipeline.WorkItem, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", batchSize)
	}

	opCtx, cancel := q.operationContext(ctx)
	defer cancel()

	raw, err := popScript.Run(opCtx, q.client, []string{q.cfg.PendingKey}, batchSize).Result()
	metrics.ObserveStoreOperation("pop", err)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("pop script: %w", err)
	}

	flat, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("pop script returned unexpected type %T", raw)
	}

	items := make([]pipeline.WorkItem, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		key, keyOK := flat[i].(string)
		countStr, countOK := flat[i+1].(string)
		if !keyOK || !countOK {
			return nil, fmt.Errorf("pop script returned malformed pair at %d", i)
		}
		count, err := parseRetryCount(countStr)
		if err != nil {
			q.logger.Warn("pending hash holds malformed retry count, treating as zero",
				zap.String("key", key), zap.String("value", countStr))
			count = 0
		}
		items = append(items, pipeline.WorkItem{Key: key, RetryCount: count})
	}
	metrics.ObservePop(len(items))
	return items, nil
}

// Requeue increments each item's retry count and either reinserts it
// into the pending hash or, past the retry budget, bumps its
// dead-letter counter. The whole batch goes out as one pipelined round
// trip; entries already written are not rolled back on partial failure.
func (q *LeaseQueue) Requeue(ctx context.Context, items []pipeline.WorkItem) (pipeline.RequeueStats, error) {
	var stats pipeline.RequeueStats
	if len(items) == 0 {
		return stats, nil
	}

	type plannedOp struct {
		deadLetter bool
		cmd        redis.Cmder
	}
	planned := make([]plannedOp, 0, len(items))

	opCtx, cancel := q.operationContext(ctx)
	defer cancel()

	_, err := q.client.Pipelined(opCtx, func(pipe redis.Pipeliner) error {
		for _, item := range items {
			next := item.RetryCount + 1
			if next <= q.cfg.MaxRetries {
				cmd := pipe.HSet(opCtx, q.cfg.PendingKey, item.Key, next)
				planned = append(planned, plannedOp{cmd: cmd})
			} else {
				cmd := pipe.HIncrBy(opCtx, q.cfg.DeadLetterKey, item.Key, 1)
				planned = append(planned, plannedOp{deadLetter: true, cmd: cmd})
			}
		}
		return nil
	})
	metrics.ObserveStoreOperation("requeue", err)

	for _, op := range planned {
		if op.cmd.Err() != nil {
			continue
		}
		if op.deadLetter {
			stats.DeadLettered++
		} else {
			stats.Requeued++
		}
	}
	metrics.ObserveRequeue(stats.Requeued, stats.DeadLettered)

	if err != nil {
		return stats, fmt.Errorf("requeue pipeline: %w", err)
	}
	return stats, nil
}

// PendingLen reports the number of keys waiting in the pending hash.
func (q *LeaseQueue) PendingLen(ctx context.Context) (int, error) {
	opCtx, cancel := q.operationContext(ctx)
	defer cancel()

	n, err := q.client.HLen(opCtx, q.cfg.PendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("pending hash length: %w", err)
	}
	return int(n), nil
}

// DeadLetterLen reports the number of distinct exhausted keys.
func (q *LeaseQueue) DeadLetterLen(ctx context.Context) (int, error) {
	opCtx, cancel := q.operationContext(ctx)
	defer cancel()

	n, err := q.client.HLen(opCtx, q.cfg.DeadLetterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("dead letter hash length: %w", err)
	}
	return int(n), nil
}

// ScraperState loads the stored scraper state marker, defaulting to the
// current UTC date when the key is absent.
func (q *LeaseQueue) ScraperState(ctx context.Context) (string, error) {
	if q.cfg.StateKey == "" {
		return time.Now().UTC().Format("2006-01-02"), nil
	}
	opCtx, cancel := q.operationContext(ctx)
	defer cancel()

	state, err := q.client.Get(opCtx, q.cfg.StateKey).Result()
	if errors.Is(err, redis.Nil) {
		return time.Now().UTC().Format("2006-01-02"), nil
	}
	if err != nil {
		return "", fmt.Errorf("get scraper state: %w", err)
	}
	return state, nil
}

func (q *LeaseQueue) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, q.cfg.OperationTimeout)
}

func parseRetryCount(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative retry count %d", n)
	}
	return n, nil
}
