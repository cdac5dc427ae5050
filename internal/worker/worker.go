// Package worker implements the scrape pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/retailpulse/harvester/internal/metrics"
	"github.com/retailpulse/harvester/internal/pipeline"
	"github.com/retailpulse/harvester/internal/sanitize"
	"github.com/retailpulse/harvester/internal/writer"
)

// Config controls Worker behavior.
type Config struct {
	BatchSize    int
	IdleDelay    time.Duration
	EventsTopic  string
	DrainTimeout time.Duration
}

func (c *Config) normalize() {
	if c.IdleDelay <= 0 {
		c.IdleDelay = 5 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
}

// Worker pops batches of source URLs, processes them, and routes each
// item through the Success / Requeue / DeadLetter state machine.
type Worker struct {
	queue     pipeline.LeaseQueue
	writer    *writer.BatchWriter
	fetcher   pipeline.Fetcher
	parser    pipeline.Parser
	sanitizer *sanitize.Sanitizer
	publisher pipeline.Publisher
	state     pipeline.StateStore
	clock     pipeline.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. The publisher, state store and clock are
// optional; everything else is required.
func New(
	queue pipeline.LeaseQueue,
	batchWriter *writer.BatchWriter,
	fetcher pipeline.Fetcher,
	parser pipeline.Parser,
	sanitizer *sanitize.Sanitizer,
	publisher pipeline.Publisher,
	state pipeline.StateStore,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	cfg.normalize()
	return &Worker{
		queue:     queue,
		writer:    batchWriter,
		fetcher:   fetcher,
		parser:    parser,
		sanitizer: sanitizer,
		publisher: publisher,
		state:     state,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming items until the context finishes. Buffered
// records are drained on the way out.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			w.drain()
			return
		}
		items, err := w.queue.Pop(ctx, w.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				w.drain()
				return
			}
			// Transient store error: the call failed as a whole, no
			// items were leased. Retrying the call is on us.
			w.logger.Error("pop failed", zap.Error(err))
			w.idle(ctx)
			continue
		}
		if len(items) == 0 {
			// Nothing pending. Push out whatever is buffered so slow
			// days still produce timely files, then wait.
			if w.writer.Len() > 0 {
				w.flush(ctx)
			}
			w.idle(ctx)
			continue
		}

		metrics.IncActiveWorkers()
		w.processBatch(ctx, items)
		metrics.DecActiveWorkers()
	}
}

func (w *Worker) processBatch(ctx context.Context, items []pipeline.WorkItem) {
	var failed []pipeline.WorkItem
	for _, item := range items {
		switch w.processItem(ctx, item) {
		case pipeline.OutcomeSuccess:
		case pipeline.OutcomeRequeue:
			failed = append(failed, item)
		}
	}
	if len(failed) == 0 {
		return
	}

	stats, err := w.queue.Requeue(ctx, failed)
	if err != nil {
		// At-least-once: items whose updates did land are accounted in
		// stats; the rest are lost to this process and will resurface
		// through external reconciliation.
		w.logger.Error("requeue failed",
			zap.Int("items", len(failed)),
			zap.Int("requeued", stats.Requeued),
			zap.Int("dead_lettered", stats.DeadLettered),
			zap.Error(err),
		)
	}
	if stats.DeadLettered > 0 {
		w.logger.Warn("items exhausted retry budget",
			zap.Int("dead_lettered", stats.DeadLettered))
		w.publishEvent(ctx, map[string]any{
			"event":        "dead_letter",
			"count":        stats.DeadLettered,
			"requeued":     stats.Requeued,
			"failed_batch": len(failed),
		})
	}
}

// processItem runs one source URL through fetch, parse, sanitize and
// buffering. The returned outcome drives the requeue batch; dead-letter
// promotion happens inside Requeue once the retry budget is spent.
func (w *Worker) processItem(ctx context.Context, item pipeline.WorkItem) pipeline.Outcome {
	resp, err := w.fetcher.Fetch(ctx, pipeline.FetchRequest{URL: item.Key})
	if err != nil {
		w.logger.Warn("fetch failed",
			zap.String("url", item.Key),
			zap.Int("retry_count", item.RetryCount),
			zap.Error(err),
		)
		return pipeline.OutcomeRequeue
	}

	records, err := w.parser.Parse(resp)
	if err != nil {
		w.logger.Warn("parse failed", zap.String("url", item.Key), zap.Error(err))
		return pipeline.OutcomeRequeue
	}

	w.stampRunFields(ctx, records)
	sanitized, rate := w.sanitizer.Sanitize(records)
	if len(records) > 0 && len(sanitized) == 0 {
		w.logger.Warn("all records failed sanitization",
			zap.String("url", item.Key),
			zap.Int("records", len(records)),
		)
	}
	w.logger.Debug("item processed",
		zap.String("url", item.Key),
		zap.Int("records", len(sanitized)),
		zap.Float64("sanitization_rate", rate),
	)

	for i, record := range sanitized {
		result, err := w.writer.Add(ctx, record)
		if errors.Is(err, pipeline.ErrBufferFull) {
			// Backpressure: the sink outage has filled the buffer.
			// Requeue the item so the remaining records are produced
			// again once the pipeline recovers; the i records already
			// buffered will be deduplicated by the seen-set.
			w.logger.Warn("record buffer full, requeueing item",
				zap.String("url", item.Key),
				zap.Int("records_dropped", len(sanitized)-i),
			)
			return pipeline.OutcomeRequeue
		}
		if err != nil {
			w.logger.Error("buffer add failed", zap.String("url", item.Key), zap.Error(err))
			return pipeline.OutcomeRequeue
		}
		w.reportFlush(ctx, result)
	}
	return pipeline.OutcomeSuccess
}

// stampRunFields fills in the run-level fields the retailer feeds omit:
// scraperid carries the shared scraper-state date and date_download the
// time of this scrape. Records that already carry either field keep it.
func (w *Worker) stampRunFields(ctx context.Context, records []pipeline.Record) {
	var (
		state       string
		stateFailed bool
	)
	for _, record := range records {
		if w.state != nil && !stateFailed && record["scraperid"] == nil {
			if state == "" {
				s, err := w.state.ScraperState(ctx)
				if err != nil {
					// Leave the field absent; the sanitizer decides the
					// record's fate.
					stateFailed = true
					w.logger.Warn("load scraper state failed", zap.Error(err))
				} else {
					state = s
				}
			}
			if state != "" {
				record["scraperid"] = state
			}
		}
		if w.clock != nil && record["date_download"] == nil {
			record["date_download"] = w.clock.Now().Format("2006-01-02T15:04:05")
		}
	}
}

func (w *Worker) flush(ctx context.Context) {
	result, err := w.writer.Flush(ctx)
	if err != nil {
		w.logger.Error("flush failed", zap.Error(err))
		return
	}
	w.reportFlush(ctx, result)
}

// drain flushes leftover records with a fresh deadline once the run
// context is gone.
func (w *Worker) drain() {
	if w.writer.Len() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.DrainTimeout)
	defer cancel()
	w.logger.Info("draining buffered records", zap.Int("buffered", w.writer.Len()))
	w.flush(ctx)
}

func (w *Worker) reportFlush(ctx context.Context, result pipeline.FlushResult) {
	switch result.Status {
	case pipeline.FlushNone:
		return
	case pipeline.FlushAbandoned:
		w.logger.Error("flush abandoned, records retained",
			zap.Int("buffered", w.writer.Len()))
	case pipeline.FlushSuccess:
		w.logger.Info("flush succeeded",
			zap.Int("first_seen", result.FirstSeen),
			zap.Int("already_seen", result.AlreadySeen),
			zap.Int("attempts", result.Attempts),
		)
	}
	w.publishEvent(ctx, map[string]any{
		"event":        "flush",
		"status":       result.Status.String(),
		"first_seen":   result.FirstSeen,
		"already_seen": result.AlreadySeen,
		"attempts":     result.Attempts,
	})
}

func (w *Worker) publishEvent(ctx context.Context, payload map[string]any) {
	if w.publisher == nil || w.cfg.EventsTopic == "" {
		return
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.EventsTopic, payload); err != nil {
		w.logger.Warn("publish event failed", zap.Error(err))
	}
}

func (w *Worker) idle(ctx context.Context) {
	timer := time.NewTimer(w.cfg.IdleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
