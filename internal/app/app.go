// Package app initializes and holds long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/retailpulse/harvester/internal/api"
	"github.com/retailpulse/harvester/internal/clock/system"
	"github.com/retailpulse/harvester/internal/config"
	"github.com/retailpulse/harvester/internal/configstore"
	memorydedup "github.com/retailpulse/harvester/internal/dedup/memory"
	redisdedup "github.com/retailpulse/harvester/internal/dedup/redis"
	"github.com/retailpulse/harvester/internal/dispatcher"
	memoryevents "github.com/retailpulse/harvester/internal/events/memory"
	pubsubevents "github.com/retailpulse/harvester/internal/events/pubsub"
	collyfetcher "github.com/retailpulse/harvester/internal/fetcher/colly"
	"github.com/retailpulse/harvester/internal/hash/sha256"
	"github.com/retailpulse/harvester/internal/metrics"
	"github.com/retailpulse/harvester/internal/parser/jsonbody"
	"github.com/retailpulse/harvester/internal/pipeline"
	"github.com/retailpulse/harvester/internal/proxy"
	redisqueue "github.com/retailpulse/harvester/internal/queue/redis"
	"github.com/retailpulse/harvester/internal/sanitize"
	gcssink "github.com/retailpulse/harvester/internal/sink/gcs"
	memorysink "github.com/retailpulse/harvester/internal/sink/memory"
	s3sink "github.com/retailpulse/harvester/internal/sink/s3"
	"github.com/retailpulse/harvester/internal/worker"
	"github.com/retailpulse/harvester/internal/writer"
)

// restartPollInterval is how often the control plane is checked for a
// restart request.
const restartPollInterval = time.Minute

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and owns their shutdown order.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	redisClient *redis.Client
	dbPool      *pgxpool.Pool
	store       *configstore.Store
	queue       *redisqueue.LeaseQueue
	dispatcher  *dispatcher.Dispatcher
	server      *http.Server
	closers     []func() error
}

// New creates and initializes an App from the configuration. It is the
// central point for service initialization and fails fast if any
// critical service cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	a.redisClient = redis.NewClient(opts)
	if err := a.redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	a.closers = append(a.closers, a.redisClient.Close)

	if cfg.DB.Enabled {
		if err := a.applyStoredSettings(ctx); err != nil {
			return nil, err
		}
	}

	a.queue, err = redisqueue.New(a.redisClient, redisqueue.Config{
		PendingKey:       cfg.Redis.PendingKey,
		DeadLetterKey:    cfg.Redis.DeadLetterKey,
		StateKey:         cfg.Redis.StateKey,
		MaxRetries:       cfg.Scraper.MaxRetries,
		OperationTimeout: cfg.Redis.OpTimeout(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build lease queue: %w", err)
	}

	dedup, err := a.buildDedup()
	if err != nil {
		return nil, err
	}
	sink, err := a.buildSink(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}
	fetcher, err := a.buildFetcher(ctx)
	if err != nil {
		return nil, err
	}

	workers, err := a.buildWorkers(dedup, sink, publisher, fetcher)
	if err != nil {
		return nil, err
	}
	a.dispatcher = dispatcher.New(workers)

	srv := api.NewServer(a.queue, redisPinger{client: a.redisClient}, logger)
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("application services initialized",
		zap.String("scraper", cfg.Scraper.Name),
		zap.Int("concurrency", cfg.Scraper.Concurrency),
		zap.String("sink", cfg.Sink.Backend),
	)
	return a, nil
}

// Run starts the management server and worker pool and blocks until the
// context finishes or a restart is requested through the control plane.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		a.logger.Info("management server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("management server failed", zap.Error(err))
			cancel()
		}
	}()

	if a.store != nil {
		go a.watchRestart(ctx, cancel)
	}

	a.dispatcher.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown management server: %w", err)
	}
	return nil
}

// Close releases all held clients in reverse initialization order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("error syncing logger on shutdown", zap.Error(err))
	}
}

// applyStoredSettings overlays the control-plane row onto the local
// configuration and marks this container as running.
func (a *App) applyStoredSettings(ctx context.Context) error {
	pool, err := configstore.Connect(ctx, a.cfg.DB.DSN)
	if err != nil {
		return err
	}
	a.dbPool = pool
	a.store = configstore.New(pool)

	settings, err := a.store.Load(ctx, a.cfg.Scraper.Name)
	if errors.Is(err, configstore.ErrNotFound) {
		a.logger.Warn("no stored configuration for scraper, using local config",
			zap.String("scraper", a.cfg.Scraper.Name))
		return nil
	}
	if err != nil {
		return err
	}

	if settings.Concurrency > 0 {
		a.cfg.Scraper.Concurrency = settings.Concurrency
	}
	if settings.BatchSize > 0 {
		a.cfg.Scraper.BatchSize = settings.BatchSize
	}
	if settings.MaxRetries >= 0 {
		a.cfg.Scraper.MaxRetries = settings.MaxRetries
	}
	if settings.BulkThreshold > 0 {
		a.cfg.Writer.BulkThreshold = settings.BulkThreshold
	}
	if settings.Retailer != "" {
		a.cfg.Scraper.Retailer = settings.Retailer
	}

	if err := a.store.MarkRunning(ctx, a.cfg.Scraper.Name); err != nil {
		return err
	}
	a.logger.Info("applied stored scraper configuration",
		zap.String("scraper", a.cfg.Scraper.Name),
		zap.Int("concurrency", a.cfg.Scraper.Concurrency),
		zap.Int("batch_size", a.cfg.Scraper.BatchSize),
	)
	return nil
}

// watchRestart polls the control plane and cancels the run when an
// operator resets the container state.
func (a *App) watchRestart(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(restartPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			restart, err := a.store.RestartRequired(ctx, a.cfg.Scraper.Name)
			if err != nil {
				a.logger.Warn("restart check failed", zap.Error(err))
				continue
			}
			if restart {
				a.logger.Info("restart requested via control plane, shutting down")
				cancel()
				return
			}
		}
	}
}

func (a *App) buildDedup() (pipeline.DedupFilter, error) {
	if a.cfg.Sink.Backend == "memory" {
		// Local development mode keeps the seen-set in-process too.
		return memorydedup.NewFilter(pipeline.URLIdentity), nil
	}
	return redisdedup.New(a.redisClient, a.cfg.Redis.SeenSetKey, pipeline.URLIdentity, a.cfg.Redis.OpTimeout())
}

func (a *App) buildSink(ctx context.Context) (pipeline.Sink, error) {
	switch a.cfg.Sink.Backend {
	case "s3":
		return s3sink.New(ctx, a.cfg.Sink.Bucket)
	case "gcs":
		sink, err := gcssink.New(ctx, a.cfg.Sink.Bucket, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sink.Close)
		return sink, nil
	case "memory":
		a.logger.Info("using in-memory sink, objects will be discarded on exit")
		return memorysink.NewSink(), nil
	default:
		return nil, fmt.Errorf("unknown sink backend: %s", a.cfg.Sink.Backend)
	}
}

func (a *App) buildPublisher(ctx context.Context) (pipeline.Publisher, error) {
	switch a.cfg.Events.Backend {
	case "pubsub":
		pub, err := pubsubevents.New(ctx, a.cfg.Events.ProjectID, a.cfg.Events.TopicName)
		if err != nil {
			return nil, fmt.Errorf("build pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		return pub, nil
	case "noop":
		return memoryevents.NewPublisher(), nil
	default:
		return nil, fmt.Errorf("unknown events backend: %s", a.cfg.Events.Backend)
	}
}

func (a *App) buildFetcher(ctx context.Context) (pipeline.Fetcher, error) {
	var proxyURLs []string
	if len(a.cfg.Scraper.ProxyIDs) > 0 {
		proxies, err := proxy.Load(ctx, a.redisClient, a.cfg.Scraper.ProxyIDs, a.logger)
		if err != nil {
			return nil, err
		}
		proxyURLs = proxy.URLs(proxies)
	}
	return collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.HTTP.UserAgent,
		Timeout:   time.Duration(a.cfg.HTTP.TimeoutSeconds) * time.Second,
		ProxyURLs: proxyURLs,
	})
}

// buildWorkers gives every worker its own batch writer so buffers never
// need locking; the dedup filter and sink are shared.
func (a *App) buildWorkers(
	dedup pipeline.DedupFilter,
	sink pipeline.Sink,
	publisher pipeline.Publisher,
	fetcher pipeline.Fetcher,
) ([]*worker.Worker, error) {
	hasher := sha256.New()
	clk := system.New()
	namer := writer.Namer{
		Retailer:     a.cfg.Scraper.Retailer,
		SeenPrefix:   a.cfg.Sink.SeenPrefix,
		UnseenPrefix: a.cfg.Sink.UnseenPrefix,
	}
	schema, err := sanitize.SchemaFor(a.cfg.Scraper.Type)
	if err != nil {
		return nil, err
	}
	sanitizer := sanitize.New(schema, a.logger)
	parser := jsonbody.New()

	workers := make([]*worker.Worker, 0, a.cfg.Scraper.Concurrency)
	for i := 0; i < a.cfg.Scraper.Concurrency; i++ {
		bw, err := writer.New(dedup, sink, hasher, clk, namer.Name, writer.Config{
			BulkThreshold: a.cfg.Writer.BulkThreshold,
			MaxBuffer:     a.cfg.Writer.MaxBuffer,
			MaxAttempts:   a.cfg.Writer.MaxAttempts,
			RetryDelay:    a.cfg.Writer.RetryDelay(),
			Cooldown:      a.cfg.Writer.Cooldown(),
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("build batch writer %d: %w", i, err)
		}
		workers = append(workers, worker.New(
			a.queue, bw, fetcher, parser, sanitizer, publisher, a.queue, clk,
			worker.Config{
				BatchSize:   a.cfg.Scraper.BatchSize,
				IdleDelay:   time.Duration(a.cfg.Scraper.IdleDelaySec) * time.Second,
				EventsTopic: a.cfg.Events.TopicName,
			},
			a.logger.With(zap.Int("worker", i)),
		))
	}
	return workers, nil
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
