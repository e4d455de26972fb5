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
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const rateWindow = time.Minute

// RateLimiter is a sliding one-minute window per client. With a Redis
// client it is shared across gateway replicas; without one it is per
// process. Redis failures allow the request.
type RateLimiter struct {
	redis     *redis.Client
	namespace string
	limit     int
	now       func() time.Time

	// trusted lists proxies whose X-Forwarded-For is believed.
	trusted []*net.IPNet

	mu        sync.Mutex
	local     map[string][]time.Time
	lastSweep time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per minute.
func NewRateLimiter(client *redis.Client, namespace string, limit int) *RateLimiter {
	if namespace == "" {
		namespace = "mlorch"
	}
	return &RateLimiter{
		redis:     client,
		namespace: namespace,
		limit:     limit,
		now:       time.Now,
		local:     make(map[string][]time.Time),
	}
}

// Allow records a request for id and reports whether it is within the limit,
// along with the count in the current window.
func (l *RateLimiter) Allow(ctx context.Context, id string) (bool, int) {
	if l.redis == nil {
		return l.allowLocal(id)
	}

	now := l.now()
	key := fmt.Sprintf("%s:ratelimit:%s", l.namespace, id)

	pipe := l.redis.Pipeline()
	// Drop entries older than the window
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now.Add(-rateWindow).UnixNano(), 10))
	card := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, 2*rateWindow)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[RateLimit] Redis check failed for %s: %v (failing open)", id, err)
		return true, 0
	}

	// ZCARD ran before this request's ZADD.
	count := int(card.Val()) + 1
	return count <= l.limit, count
}

func (l *RateLimiter) allowLocal(id string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-rateWindow)
	if now.Sub(l.lastSweep) >= rateWindow {
		l.sweep(cutoff)
		l.lastSweep = now
	}
	kept := l.local[id][:0]
	for _, t := range l.local[id] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	l.local[id] = kept
	return len(kept) <= l.limit, len(kept)
}

// sweep drops clients with no request after cutoff. Caller holds l.mu.
func (l *RateLimiter) sweep(cutoff time.Time) {
	for id, times := range l.local {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(l.local, id)
		}
	}
}

func (l *RateLimiter) isTrusted(ip net.IP) bool {
	for _, n := range l.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientID identifies the caller: the token subject when authenticated,
// otherwise the client address. X-Forwarded-For is read only when the peer
// is a trusted proxy, and then right to left up to the first hop that is
// not itself trusted.
func (l *RateLimiter) clientID(r *http.Request) string {
	if sub := subjectFrom(r); sub != "" {
		return "sub:" + sub
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer := net.ParseIP(host)
	if peer == nil || !l.isTrusted(peer) {
		return "ip:" + host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		ip := net.ParseIP(hop)
		if ip == nil {
			break
		}
		if !l.isTrusted(ip) {
			return "ip:" + hop
		}
	}
	return "ip:" + host
}

func (s *Server) rateLimit(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ok, count := s.limiter.Allow(r.Context(), s.limiter.clientID(r))
		remaining := s.limiter.limit - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.limiter.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			rateLimited.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(rateWindow.Seconds())))
			sendErrorWithSuggestion(w,
				fmt.Sprintf("rate limit exceeded: %d requests/minute (limit: %d)", count, s.limiter.limit),
				"Wait a minute before sending more requests.", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
