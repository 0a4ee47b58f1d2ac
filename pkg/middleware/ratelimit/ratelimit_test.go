package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsBurstThenRejects(t *testing.T) {
	l := New(1, 2)
	fixed := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	require.True(t, l.Allow("org-1"))
	require.True(t, l.Allow("org-1"))
	require.False(t, l.Allow("org-1"))
	require.True(t, l.Allow("org-2"), "buckets are per key")

	fixed = fixed.Add(time.Second)
	require.True(t, l.Allow("org-1"))
}

func TestLimiterEvictsIdleBuckets(t *testing.T) {
	l := New(1, 1)
	fixed := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	l.Allow("org-1")

	fixed = fixed.Add(10 * time.Minute)
	l.Allow("org-2")
	_, ok := l.buckets["org-1"]
	assert.False(t, ok)
}

func TestMiddlewareReturns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := New(1, 1)
	r := gin.New()
	r.Use(l.Middleware(func(c *gin.Context) string { return c.GetHeader("X-Org") }))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	first := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Org", "org-1")
	r.ServeHTTP(first, req)
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	r.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
