// Package proxy loads the outbound proxy pool from shared Redis sets.
package proxy

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Proxy is one outbound proxy endpoint, optionally authenticated.
type Proxy struct {
	PoolID   string
	URL      string
	IP       string
	Port     string
	Username string
	Password string
}

// Parse splits an http proxy URL into its parts. Accepts both
// "http://user:pass@ip:port" and "http://ip:port".
func Parse(poolID, rawURL string) (Proxy, error) {
	rest, ok := strings.CutPrefix(rawURL, "http://")
	if !ok {
		return Proxy{}, fmt.Errorf("proxy url %q must start with http://", rawURL)
	}

	p := Proxy{PoolID: poolID, URL: rawURL}
	if creds, hostport, found := cutLast(rest, "@"); found {
		user, pass, ok := strings.Cut(creds, ":")
		if !ok {
			return Proxy{}, fmt.Errorf("proxy url %q has malformed credentials", rawURL)
		}
		p.Username, p.Password = user, pass
		rest = hostport
	}
	ip, port, ok := strings.Cut(rest, ":")
	if !ok {
		return Proxy{}, fmt.Errorf("proxy url %q is missing a port", rawURL)
	}
	p.IP, p.Port = ip, port
	return p, nil
}

func cutLast(s, sep string) (before, after string, found bool) {
	idx := strings.LastIndex(s, sep)
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+len(sep):], true
}

// Load reads each pool's member IPs from Redis and returns the combined
// proxy list. Pools that fail to parse are skipped with a warning;
// store errors abort the whole load.
func Load(ctx context.Context, client *redis.Client, poolIDs []string, logger *zap.Logger) ([]Proxy, error) {
	var proxies []Proxy
	for _, poolID := range poolIDs {
		members, err := client.SMembers(ctx, poolID).Result()
		if err != nil {
			return nil, fmt.Errorf("load proxy pool %s: %w", poolID, err)
		}
		for _, member := range members {
			p, err := Parse(poolID, "http://"+member)
			if err != nil {
				logger.Warn("skipping malformed proxy entry",
					zap.String("pool", poolID), zap.Error(err))
				continue
			}
			proxies = append(proxies, p)
		}
	}
	logger.Info("loaded proxies from redis", zap.Int("count", len(proxies)))
	return proxies, nil
}

// URLs returns the raw proxy URLs, the shape colly's round-robin
// switcher wants.
func URLs(proxies []Proxy) []string {
	urls := make([]string, len(proxies))
	for i, p := range proxies {
		urls[i] = p.URL
	}
	return urls
}
