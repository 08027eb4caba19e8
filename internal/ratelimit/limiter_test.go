package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/monitoring"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFallbackLimiter(t *testing.T, config Config) (*RateLimiter, *monitoring.Metrics) {
	t.Helper()
	metrics := monitoring.NewMetrics()
	limiter := NewRateLimiter(&RedisClient{}, config, metrics)
	t.Cleanup(limiter.Close)
	return limiter, metrics
}

func TestRateLimiterFallbackMode(t *testing.T) {
	limiter, metrics := newFallbackLimiter(t, DefaultConfig())

	ctx := context.Background()
	key := "test:ip:10.0.0.1"
	rateLimit := Rate{Limit: 5, Period: time.Minute}

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, key, rateLimit)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "Request %d should be allowed", i+1)
		assert.Equal(t, 5, result.Limit)
	}

	result, err := limiter.Allow(ctx, key, rateLimit)
	require.NoError(t, err)
	assert.False(t, result.Allowed, "6th request should be blocked")
	assert.Greater(t, result.RetryAfter, time.Duration(0))
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, float64(6), testutil.ToFloat64(metrics.RateLimitFallbacks))
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, DefaultConfig())
	ctx := context.Background()
	rateLimit := Rate{Limit: 1, Period: time.Minute}

	first, err := limiter.Allow(ctx, "a", rateLimit)
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	blocked, err := limiter.Allow(ctx, "a", rateLimit)
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)

	other, err := limiter.Allow(ctx, "b", rateLimit)
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestRateLimiterFeedbackBudget(t *testing.T) {
	config := DefaultConfig()
	config.IPLimit = 100
	config.FeedbackLimit = 2
	limiter, _ := newFallbackLimiter(t, config)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.AllowFeedback(ctx, "10.0.0.2")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}
	result, err := limiter.AllowFeedback(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	// The IP budget is tracked separately
	ipResult, err := limiter.AllowIP(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ipResult.Allowed)
}

func TestRateLimiterCleanup(t *testing.T) {
	config := DefaultConfig()
	config.CleanupInterval = time.Minute
	limiter, _ := newFallbackLimiter(t, config)

	_, err := limiter.Allow(context.Background(), "idle", Rate{Limit: 1, Period: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 1, limiter.GetStats()["fallback_limiters"])

	limiter.cleanup(time.Now())
	assert.Equal(t, 1, limiter.GetStats()["fallback_limiters"])

	limiter.cleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, limiter.GetStats()["fallback_limiters"])
}

func TestRateLimiterStats(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, DefaultConfig())

	stats := limiter.GetStats()
	assert.Equal(t, false, stats["redis_enabled"])
	assert.NotContains(t, stats, "redis_pool")

	config, ok := stats["config"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 60, config["ip_limit_per_min"])
	assert.Equal(t, 20, config["feedback_limit_per_min"])
}

func TestRateLimiterCloseIsIdempotent(t *testing.T) {
	limiter := NewRateLimiter(nil, DefaultConfig(), nil)
	limiter.Close()
	limiter.Close()
}

func TestIPRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	config := DefaultConfig()
	config.IPLimit = 2
	limiter, metrics := newFallbackLimiter(t, config)

	router := gin.New()
	router.Use(limiter.IPRateLimitMiddleware())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		last = w
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "2", last.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
	assert.Contains(t, last.Body.String(), "rate limit exceeded")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RateLimitBlocks))
}

func TestRedisClientDisabledWithoutAddr(t *testing.T) {
	client, err := NewRedisClient(context.Background(), RedisOptions{})
	require.NoError(t, err)
	assert.False(t, client.IsEnabled())
	assert.Nil(t, client.GetClient())
	assert.ErrorIs(t, client.HealthCheck(context.Background()), ErrRedisDisabled)
	assert.NoError(t, client.Close())
	assert.Equal(t, map[string]interface{}{"enabled": false}, client.GetPoolStats())
}

func TestRedisClientUnreachableIsDisabled(t *testing.T) {
	client, err := NewRedisClient(context.Background(), RedisOptions{
		Addr:        "127.0.0.1:1",
		PingTimeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
	require.NotNil(t, client)
	assert.False(t, client.IsEnabled())
	assert.ErrorIs(t, client.HealthCheck(context.Background()), ErrRedisDisabled)
}
