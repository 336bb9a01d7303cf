package jwt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const jwksBodyLimit = 1024 * 1024

// keyCache holds the signing keys fetched from a JWKS endpoint. The
// recheck period is a debounce on refresh attempts, not a hard TTL:
// readers always get the current set immediately, and at most one fetch
// is in flight at a time. A caller that observes a stale set while
// another goroutine is already refreshing validates against the stale
// keys rather than waiting; before the first successful fetch there is
// no set to fall back on, so cold-start callers block on it.
type keyCache struct {
	uri     string
	client  *http.Client
	recheck time.Duration
	logger  log.Logger

	refreshesTotal *prometheus.CounterVec

	mu          sync.Mutex
	populated   *sync.Cond // signalled when a refresh finishes
	keys        jose.JSONWebKeySet
	lastRefresh time.Time
	refreshing  bool
}

func newKeyCache(logger log.Logger, client *http.Client, uri string, recheck time.Duration, reg prometheus.Registerer) *keyCache {
	if recheck <= 0 {
		recheck = 15 * time.Minute
	}
	c := &keyCache{
		uri:     uri,
		client:  client,
		recheck: recheck,
		logger:  log.With(logger, "component", "authorize/jwt/keycache"),
		refreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jwks_refreshes_total",
				Help: "Tracks JWKS endpoint fetches by result.",
			}, []string{"result"},
		),
	}
	c.populated = sync.NewCond(&c.mu)
	if reg != nil {
		reg.MustRegister(c.refreshesTotal)
	}
	return c
}

// Keys returns the signing keys for kid, refreshing the set first if the
// recheck period has elapsed. An empty kid returns every cached key so
// the caller can try each in turn.
func (c *keyCache) Keys(ctx context.Context, kid string) ([]jose.JSONWebKey, error) {
	c.mu.Lock()
	// Stale-set reuse needs a set to reuse. On a cold start, callers that
	// lose the refresh race wait for the in-flight fetch instead of
	// answering from an empty cache.
	for c.refreshing && len(c.keys.Keys) == 0 {
		c.populated.Wait()
	}
	needRefresh := time.Since(c.lastRefresh) >= c.recheck && !c.refreshing
	if needRefresh {
		c.refreshing = true
	}
	c.mu.Unlock()

	if needRefresh {
		if err := c.refresh(ctx); err != nil {
			level.Warn(c.logger).Log("msg", "JWKS refresh failed", "err", err)
			// A failed refresh is fatal only when we have nothing cached;
			// otherwise the stale set remains authoritative until the
			// next recheck.
			c.mu.Lock()
			empty := len(c.keys.Keys) == 0
			c.mu.Unlock()
			if empty {
				return nil, err
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if kid == "" {
		keys := make([]jose.JSONWebKey, len(c.keys.Keys))
		copy(keys, c.keys.Keys)
		return keys, nil
	}
	return c.keys.Key(kid), nil
}

func (c *keyCache) refresh(ctx context.Context) error {
	defer func() {
		c.mu.Lock()
		c.refreshing = false
		c.populated.Broadcast()
		c.mu.Unlock()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.uri, nil)
	if err != nil {
		return errors.Wrap(err, "unable to create JWKS request")
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		c.refreshesTotal.WithLabelValues("error").Inc()
		return errors.Wrap(err, "unable to fetch JWKS")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		c.refreshesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("JWKS endpoint returned status %d", res.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, jwksBodyLimit))
	if err != nil {
		c.refreshesTotal.WithLabelValues("error").Inc()
		return errors.Wrap(err, "unable to read JWKS response")
	}

	var keySet jose.JSONWebKeySet
	if err := json.Unmarshal(body, &keySet); err != nil {
		c.refreshesTotal.WithLabelValues("error").Inc()
		return errors.Wrap(err, "unable to parse JWKS response")
	}

	c.mu.Lock()
	c.keys = keySet
	c.lastRefresh = time.Now()
	c.mu.Unlock()

	c.refreshesTotal.WithLabelValues("success").Inc()
	level.Debug(c.logger).Log("msg", "JWKS refreshed", "keys", len(keySet.Keys))
	return nil
}
