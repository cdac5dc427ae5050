// Package collyfetcher implements Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
	collyproxy "github.com/gocolly/colly/v2/proxy"

	"github.com/retailpulse/harvester/internal/metrics"
	"github.com/retailpulse/harvester/internal/pipeline"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	ProxyURLs []string
}

// Fetcher implements pipeline.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher. When proxy URLs are supplied, requests rotate
// over them round-robin.
func New(cfg Config) (*Fetcher, error) {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	if cfg.Timeout > 0 {
		c.SetRequestTimeout(cfg.Timeout)
	}
	if len(cfg.ProxyURLs) > 0 {
		switcher, err := collyproxy.RoundRobinProxySwitcher(cfg.ProxyURLs...)
		if err != nil {
			return nil, fmt.Errorf("build proxy switcher: %w", err)
		}
		c.SetProxyFunc(switcher)
	}
	return &Fetcher{cfg: cfg, baseCollector: c}, nil
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	var (
		result   pipeline.FetchResponse
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.Context = ctx

	collector.OnRequest(func(r *colly.Request) {
		for k, v := range request.Headers {
			r.Headers.Set(k, v)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = pipeline.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		fetchErr = err
	})

	if err := collector.Visit(request.URL); err != nil {
		metrics.ObserveFetch("error", time.Since(start))
		return pipeline.FetchResponse{}, fmt.Errorf("visit %s: %w", request.URL, err)
	}
	collector.Wait()

	if fetchErr != nil {
		metrics.ObserveFetch("error", time.Since(start))
		return pipeline.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, fetchErr)
	}
	metrics.ObserveFetch("ok", result.Duration)
	return result, nil
}
