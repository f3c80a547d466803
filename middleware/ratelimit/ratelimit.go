// Package ratelimit implements the token-bucket rate limiter of spec.md
// §4.6, grounded on the teacher's middleware/ratelimit/{ratelimit.go,
// stores.go}.
package ratelimit

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/arbor-router/arbor"
)

// KeyFunc derives a bucket identity from the request, mirroring the
// teacher's KeyFunc type.
type KeyFunc func(ctx *arbor.Context) string

// ByRemoteAddr is the default KeyFunc: one bucket per client address.
func ByRemoteAddr(ctx *arbor.Context) string { return ctx.RealIP() }

// Store is the bucket cache contract. Allow must be atomic per key under
// concurrent access, per spec.md §5.
type Store interface {
	Allow(key string, now time.Time) (allowed bool, remaining int, retryAfter time.Duration)
}

type config struct {
	key                          KeyFunc
	maxTokens                    int
	refillInterval               time.Duration
	refillRate                   float64
	refillTimeSecondsDenominator float64
	now                          func() time.Time
	setHeaders                   bool
	store                        Store
}

// Option configures a rate limiter.
type Option func(*config)

// WithKeyFunc overrides the default per-remote-address bucket key.
func WithKeyFunc(fn KeyFunc) Option { return func(c *config) { c.key = fn } }

// WithMaxTokens sets the bucket capacity.
func WithMaxTokens(n int) Option { return func(c *config) { c.maxTokens = n } }

// WithRefillInterval selects fixed-interval refill mode: every interval,
// refillRate tokens are added in one step.
func WithRefillInterval(d time.Duration) Option { return func(c *config) { c.refillInterval = d } }

// WithRefillRate selects continuous refill mode (when used without
// WithRefillInterval) or sets the per-interval token count (when combined
// with it).
func WithRefillRate(tokensPerUnit float64) Option { return func(c *config) { c.refillRate = tokensPerUnit } }

// WithRefillDenominator overrides the default 1000 (tokens/s) denominator
// used in the continuous-mode refill formula.
func WithRefillDenominator(d float64) Option {
	return func(c *config) { c.refillTimeSecondsDenominator = d }
}

// WithClock injects a deterministic clock, used by tests asserting the
// rate-limit idempotence law of spec.md §8.
func WithClock(now func() time.Time) Option { return func(c *config) { c.now = now } }

// WithXRateLimitHeaders toggles X-RateLimit-Limit / X-RateLimit-Remaining
// on every response, allowed or not.
func WithXRateLimitHeaders(enabled bool) Option { return func(c *config) { c.setHeaders = enabled } }

// WithStore overrides the default in-memory store, e.g. for a
// process-external bucket cache.
func WithStore(s Store) Option { return func(c *config) { c.store = s } }

// New builds the rate-limit filter handler. Either WithRefillInterval or
// WithRefillRate (or both) must be set, per spec.md §4.6; otherwise it
// returns a *arbor.ConfigError.
func New(opts ...Option) (arbor.Handler, error) {
	c := &config{
		key:                          ByRemoteAddr,
		maxTokens:                    60,
		refillTimeSecondsDenominator: 1000,
		now:                          time.Now,
		setHeaders:                   true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.refillInterval <= 0 && c.refillRate <= 0 {
		return nil, &arbor.ConfigError{Op: "ratelimit.New", Err: fmt.Errorf("either refillInterval or refillRate must be set")}
	}
	if c.store == nil {
		c.store = NewInMemoryStore(c.maxTokens, c.refillInterval, c.refillRate, c.refillTimeSecondsDenominator, c.now)
	}
	return c.handle, nil
}

// MustNew panics instead of returning a ConfigError.
func MustNew(opts ...Option) arbor.Handler {
	h, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return h
}

func (c *config) handle(ctx *arbor.Context) (arbor.Result, error) {
	key := c.key(ctx)
	allowed, remaining, retryAfter := c.store.Allow(key, c.now())

	if c.setHeaders {
		ctx.Header.Set("X-RateLimit-Limit", strconv.Itoa(c.maxTokens))
		ctx.Header.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	}

	if !allowed {
		seconds := int(math.Ceil(retryAfter.Seconds()))
		resp := arbor.Text(http.StatusTooManyRequests, "rate limit exceeded")
		resp.SetHeader("Retry-After", strconv.Itoa(seconds))
		return arbor.Respond(resp), nil
	}
	return arbor.Continue(), nil
}

// bucket is the per-identity token-count/last-refill pair of spec.md's
// glossary.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// InMemoryStore is the default process-local Store: a mutex-protected map
// of buckets with a background sweeper evicting entries idle past ttl,
// grounded on the teacher's InMemoryTokenBucketStore.
type InMemoryStore struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	maxTokens int
	interval  time.Duration
	rate      float64
	denom     float64
	now       func() time.Time
	ttl       time.Duration
	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewInMemoryStore builds a store for the given mode parameters. If
// interval > 0, fixed-interval refill is used; otherwise continuous refill
// is used with rate/denom.
func NewInMemoryStore(maxTokens int, interval time.Duration, rate, denom float64, now func() time.Time) *InMemoryStore {
	if now == nil {
		now = time.Now
	}
	s := &InMemoryStore{
		buckets:   make(map[string]*bucket),
		maxTokens: maxTokens,
		interval:  interval,
		rate:      rate,
		denom:     denom,
		now:       now,
		ttl:       10 * time.Minute,
		stopSweep: make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Close stops the background sweeper goroutine.
func (s *InMemoryStore) Close() { s.sweepOnce.Do(func() { close(s.stopSweep) }) }

func (s *InMemoryStore) sweepLoop() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case <-t.C:
			s.sweep()
		}
	}
}

func (s *InMemoryStore) sweep() {
	// In fixed-interval mode lastRefill only advances once per interval, so
	// an active bucket's lastRefill can lag the clock by up to interval.
	cutoff := s.now().Add(-(s.ttl + s.interval))
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, b := range s.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(s.buckets, k)
		}
	}
}

// Allow implements Store using the fixed-interval or continuous refill
// formulas of spec.md §4.6, with a per-bucket mutex-free critical section
// under the store's single lock (mirroring the teacher's per-key locking
// but simplified to a single map mutex for this smaller scale).
func (s *InMemoryStore) Allow(key string, now time.Time) (bool, int, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(s.maxTokens), lastRefill: now}
		s.buckets[key] = b
	}

	var retryAfter time.Duration
	if s.interval > 0 {
		elapsed := now.Sub(b.lastRefill)
		if elapsed >= s.interval {
			steps := math.Floor(float64(elapsed) / float64(s.interval))
			b.tokens = math.Min(float64(s.maxTokens), b.tokens+s.rate*steps)
			b.lastRefill = now
		}
		if b.tokens <= 0 {
			remaining := s.interval - elapsed
			retryAfter = time.Duration(math.Ceil(remaining.Seconds())) * time.Second
			return false, 0, retryAfter
		}
	} else {
		elapsedMs := float64(now.Sub(b.lastRefill).Milliseconds())
		newTokens := b.tokens + s.rate*elapsedMs/s.denom
		b.tokens = math.Min(float64(s.maxTokens), newTokens)
		b.lastRefill = now
		if b.tokens <= 0 {
			retryAfter = time.Duration(math.Ceil(1/s.rate)) * time.Second
			return false, 0, retryAfter
		}
	}

	b.tokens--
	return true, int(b.tokens), 0
}
