// Copyright 2025 The ML-Orchestrator Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulh-dev/ML-Orchestrator/config"
)

// clock returns a now func that advances by step on every call.
func clock(start time.Time, step time.Duration) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestRateLimiter_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := NewRateLimiter(client, "test", 3)
	limiter.now = clock(time.Unix(1700000000, 0), time.Millisecond)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		ok, count := limiter.Allow(ctx, "ip:1.2.3.4")
		assert.True(t, ok, "request %d", i)
		assert.Equal(t, i, count)
	}
	ok, count := limiter.Allow(ctx, "ip:1.2.3.4")
	assert.False(t, ok)
	assert.Equal(t, 4, count)

	// Other clients have their own window.
	ok, _ = limiter.Allow(ctx, "ip:5.6.7.8")
	assert.True(t, ok)

	assert.True(t, mr.Exists("test:ratelimit:ip:1.2.3.4"))
	assert.True(t, mr.TTL("test:ratelimit:ip:1.2.3.4") > 0)
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	now := time.Unix(1700000000, 0)
	limiter := NewRateLimiter(client, "test", 1)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := limiter.Allow(ctx, "a")
	require.True(t, ok)
	now = now.Add(time.Second)
	ok, _ = limiter.Allow(ctx, "a")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = limiter.Allow(ctx, "a")
	assert.True(t, ok)
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	limiter := NewRateLimiter(client, "test", 1)
	for i := 0; i < 3; i++ {
		ok, _ := limiter.Allow(context.Background(), "a")
		assert.True(t, ok)
	}
}

func TestRateLimiter_Local(t *testing.T) {
	now := time.Unix(1700000000, 0)
	limiter := NewRateLimiter(nil, "", 2)
	limiter.now = func() time.Time { return now }

	ok, _ := limiter.Allow(context.Background(), "a")
	assert.True(t, ok)
	ok, _ = limiter.Allow(context.Background(), "a")
	assert.True(t, ok)
	ok, count := limiter.Allow(context.Background(), "a")
	assert.False(t, ok)
	assert.Equal(t, 3, count)

	now = now.Add(rateWindow + time.Second)
	ok, count = limiter.Allow(context.Background(), "a")
	assert.True(t, ok)
	assert.Equal(t, 1, count)
}

func TestRateLimiter_LocalSweepsIdleClients(t *testing.T) {
	now := time.Unix(1700000000, 0)
	limiter := NewRateLimiter(nil, "", 5)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		limiter.Allow(context.Background(), fmt.Sprintf("client-%d", i))
	}
	assert.Len(t, limiter.local, 100)

	now = now.Add(rateWindow + time.Second)
	limiter.Allow(context.Background(), "late")
	assert.Len(t, limiter.local, 1)
	assert.Contains(t, limiter.local, "late")
}

func TestClientID(t *testing.T) {
	limiter := NewRateLimiter(nil, "", 5)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	assert.Equal(t, "ip:198.51.100.7", limiter.clientID(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "ip:198.51.100.7", limiter.clientID(req), "untrusted peer cannot pick its key")

	req = req.WithContext(context.WithValue(req.Context(), subjectKey{}, "alice"))
	assert.Equal(t, "sub:alice", limiter.clientID(req))
}

func TestClientID_TrustedProxies(t *testing.T) {
	trusted, err := config.ParseCIDRs([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	limiter := NewRateLimiter(nil, "", 5)
	limiter.trusted = trusted

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"no header", "10.0.0.1:80", "", "ip:10.0.0.1"},
		{"single hop", "10.0.0.1:80", "203.0.113.9", "ip:203.0.113.9"},
		{"spoofed left hop ignored", "10.0.0.1:80", "1.2.3.4, 203.0.113.9", "ip:203.0.113.9"},
		{"proxy chain", "10.0.0.1:80", "203.0.113.9, 10.1.1.1", "ip:203.0.113.9"},
		{"garbage hop", "10.0.0.1:80", "not-an-ip", "ip:10.0.0.1"},
		{"untrusted peer", "198.51.100.7:80", "203.0.113.9", "ip:198.51.100.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, limiter.clientID(req))
		})
	}
}

func TestRateLimitMiddleware_ForwardedForCannotResetWindow(t *testing.T) {
	_, h := newTestServer(t, testEnv{
		orchURL: closedURL(t),
		configure: func(c *config.Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.PerMinute = 1
		},
	})

	send := func(xff string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/simple-workflow",
			strings.NewReader(`{"input":"x","datasets":[{"filename":"a.csv"}]}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.2"))
}

func TestRateLimitMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, h := newTestServer(t, testEnv{
		orchURL: closedURL(t),
		redis:   client,
		configure: func(c *config.Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.PerMinute = 2
		},
	})

	send := func() *httptest.ResponseRecorder {
		return do(t, h, http.MethodPost, "/api/simple-workflow", strings.NewReader(`{"input":"x","datasets":[{"filename":"a.csv"}]}`))
	}

	rec := send()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	send()
	rec = send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// Unlimited routes are unaffected.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/examples", nil).Code)
}
