package ratelimit_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-router/arbor"
	"github.com/arbor-router/arbor/middleware/ratelimit"
)

// TestFixedIntervalIdempotenceAtFrozenClock asserts the rate-limit law of
// spec.md §8: with a frozen clock, N+1 requests against a bucket of
// capacity N yield N x 2xx and exactly one 429, and advancing the clock
// past the refill interval unblocks the next request.
func TestFixedIntervalIdempotenceAtFrozenClock(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }

	limiter, err := ratelimit.New(
		ratelimit.WithMaxTokens(1),
		ratelimit.WithRefillInterval(1_000_000*time.Millisecond),
		ratelimit.WithRefillRate(1),
		ratelimit.WithClock(clock),
	)
	require.NoError(t, err)

	r := arbor.New()
	require.NoError(t, r.Filter("GET /rl", limiter))
	require.NoError(t, r.Get("/rl", func(ctx *arbor.Context) (arbor.Result, error) {
		return arbor.Respond(arbor.Text(http.StatusOK, "ok")), nil
	}))

	rec1 := httptest.NewRecorder()
	r.ServeHTTP(rec1, httptest.NewRequest(http.MethodGet, "/rl", nil))
	assert.Equal(t, http.StatusOK, rec1.Code)

	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/rl", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
	assert.NotEmpty(t, rec2.Header().Get("Retry-After"))

	now = now.Add(1_000_000 * time.Millisecond)

	rec3 := httptest.NewRecorder()
	r.ServeHTTP(rec3, httptest.NewRequest(http.MethodGet, "/rl", nil))
	assert.Equal(t, http.StatusOK, rec3.Code)
}

func TestEitherIntervalOrRateRequired(t *testing.T) {
	_, err := ratelimit.New()
	assert.Error(t, err)
}
