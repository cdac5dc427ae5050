// Package writer buffers processed records and flushes them in bulk to
// the durable sink, partitioned by dedup outcome.
package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/retailpulse/harvester/internal/metrics"
	"github.com/retailpulse/harvester/internal/pipeline"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 3 * time.Second
	defaultCooldown    = 10 * time.Minute

	// Soft cap multiplier applied to BulkThreshold when MaxBuffer is
	// unset. Bounds memory growth while a sink outage keeps flushes
	// in the abandoned state.
	defaultMaxBufferFactor = 8
)

// Config tunes the flush state machine.
type Config struct {
	BulkThreshold int
	MaxBuffer     int
	MaxAttempts   int
	RetryDelay    time.Duration
	Cooldown      time.Duration
}

func (c *Config) normalize() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultCooldown
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = c.BulkThreshold * defaultMaxBufferFactor
	}
}

// BatchWriter accumulates records and persists them in bulk. Each
// worker owns exactly one BatchWriter; the type is not safe for
// concurrent use.
type BatchWriter struct {
	dedup  pipeline.DedupFilter
	sink   pipeline.Sink
	hasher pipeline.Hasher
	clock  pipeline.Clock
	name   pipeline.NameFunc
	cfg    Config
	logger *zap.Logger

	buffer []pipeline.Record
}

// New constructs a BatchWriter.
func New(
	dedup pipeline.DedupFilter,
	sink pipeline.Sink,
	hasher pipeline.Hasher,
	clock pipeline.Clock,
	name pipeline.NameFunc,
	cfg Config,
	logger *zap.Logger,
) (*BatchWriter, error) {
	if dedup == nil || sink == nil || hasher == nil || clock == nil || name == nil {
		return nil, fmt.Errorf("dedup, sink, hasher, clock and name are all required")
	}
	if cfg.BulkThreshold <= 0 {
		return nil, fmt.Errorf("bulk threshold must be > 0, got %d", cfg.BulkThreshold)
	}
	cfg.normalize()
	return &BatchWriter{
		dedup:  dedup,
		sink:   sink,
		hasher: hasher,
		clock:  clock,
		name:   name,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Len reports the number of buffered records.
func (w *BatchWriter) Len() int {
	return len(w.buffer)
}

// Add appends a record to the buffer and, once the bulk threshold is
// reached, triggers a Flush. At the soft cap it refuses the record with
// pipeline.ErrBufferFull so the caller can push backpressure upstream.
func (w *BatchWriter) Add(ctx context.Context, record pipeline.Record) (pipeline.FlushResult, error) {
	if len(w.buffer) >= w.cfg.MaxBuffer {
		return pipeline.FlushResult{}, pipeline.ErrBufferFull
	}
	w.buffer = append(w.buffer, record)
	metrics.ObserveRecordBuffered()
	metrics.SetBufferSize(len(w.buffer))

	if len(w.buffer) < w.cfg.BulkThreshold {
		return pipeline.FlushResult{}, nil
	}
	return w.Flush(ctx)
}

// Flush persists the buffered records. The buffer is cleared only on
// Success; after Abandoned the identical content is retried on the
// next call.
func (w *BatchWriter) Flush(ctx context.Context) (pipeline.FlushResult, error) {
	if len(w.buffer) == 0 {
		return pipeline.FlushResult{Status: pipeline.FlushSuccess}, nil
	}
	start := w.clock.Now()

	firstSeen, alreadySeen, err := w.dedup.Classify(ctx, w.buffer)
	if err != nil {
		return pipeline.FlushResult{}, fmt.Errorf("classify buffer: %w", err)
	}

	partitions, err := w.buildPartitions(firstSeen, alreadySeen)
	if err != nil {
		return pipeline.FlushResult{}, err
	}

	result := pipeline.FlushResult{
		FirstSeen:   len(firstSeen),
		AlreadySeen: len(alreadySeen),
	}

	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if w.writePartitions(ctx, partitions, &result) {
			w.buffer = w.buffer[:0]
			result.Status = pipeline.FlushSuccess
			metrics.SetBufferSize(0)
			metrics.ObserveFlush(result.Status.String(), result.Attempts, w.clock.Now().Sub(start))
			return result, nil
		}
		if attempt < w.cfg.MaxAttempts {
			w.sleep(ctx, w.cfg.RetryDelay)
		}
	}

	// Sustained sink outage: pause before handing control back so the
	// worker stops burning leased items and proxy capacity.
	w.logger.Error("abandoning flush after exhausted attempts, entering cooldown",
		zap.Int("attempts", w.cfg.MaxAttempts),
		zap.Duration("cooldown", w.cfg.Cooldown),
		zap.Int("buffered", len(w.buffer)),
	)
	w.sleep(ctx, w.cfg.Cooldown)

	result.Status = pipeline.FlushAbandoned
	metrics.ObserveFlush(result.Status.String(), result.Attempts, w.clock.Now().Sub(start))
	return result, nil
}

// partition is one serialized dedup slice awaiting upload.
type partition struct {
	kind    pipeline.PartitionKind
	payload []byte
	hash    string
	written bool
}

func (w *BatchWriter) buildPartitions(firstSeen, alreadySeen []pipeline.Record) ([]*partition, error) {
	var partitions []*partition
	for _, p := range []struct {
		kind    pipeline.PartitionKind
		records []pipeline.Record
	}{
		{pipeline.PartitionFirstSeen, firstSeen},
		{pipeline.PartitionAlreadySeen, alreadySeen},
	} {
		if len(p.records) == 0 {
			continue
		}
		payload, err := encodeJSONL(p.records)
		if err != nil {
			return nil, fmt.Errorf("encode %s partition: %w", p.kind, err)
		}
		hash, err := w.hasher.Hash(payload)
		if err != nil {
			return nil, fmt.Errorf("hash %s partition: %w", p.kind, err)
		}
		partitions = append(partitions, &partition{kind: p.kind, payload: payload, hash: hash})
	}
	return partitions, nil
}

// writePartitions attempts one sink write per unwritten partition and
// reports whether everything is durable now.
func (w *BatchWriter) writePartitions(ctx context.Context, partitions []*partition, result *pipeline.FlushResult) bool {
	allWritten := true
	now := w.clock.Now()
	for _, p := range partitions {
		if p.written {
			continue
		}
		name := w.name(p.kind, now, p.hash)
		result.Attempts++
		err := w.sink.Put(ctx, name, p.payload)
		metrics.ObserveStoreOperation("sink_put", err)
		if err != nil {
			w.logger.Warn("sink write failed",
				zap.String("partition", string(p.kind)),
				zap.String("object", name),
				zap.Int("attempt", result.Attempts),
				zap.Error(err),
			)
			allWritten = false
			continue
		}
		p.written = true
		w.logger.Info("partition persisted",
			zap.String("partition", string(p.kind)),
			zap.String("object", name),
		)
	}
	return allWritten
}

// sleep waits for d, returning early only when the context is canceled
// (process shutdown); a live context always waits the full duration.
func (w *BatchWriter) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func encodeJSONL(records []pipeline.Record) ([]byte, error) {
	var b strings.Builder
	for i, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("marshal record %d: %w", i, err)
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.Write(line)
	}
	return []byte(b.String()), nil
}
