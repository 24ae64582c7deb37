package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type rateRecord struct {
	count  int
	reset  time.Time
	window time.Duration
}

// RateLimiter tracks per-key request usage within a sliding window.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]rateRecord
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{entries: make(map[string]rateRecord)}
}

// Allow returns true if the caller may proceed under the provided limit
// and window.
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rec := rl.entries[key]
	if rec.window == 0 || now.After(rec.reset) {
		rec.count = 0
		rec.window = window
		rec.reset = now.Add(window)
	}
	if rec.count >= limit {
		return false
	}
	rec.count++
	rl.entries[key] = rec
	return true
}

// rateLimited wraps a handler with a per-key quota; the key function
// usually extracts the agent id from the route.
func (s *Server) rateLimited(name string, limit int, window time.Duration, keyFn func(*gin.Context) string, handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := name + ":" + keyFn(c)
		if !s.rateLimiter.Allow(key, limit, window) {
			s.respondFail(c, http.StatusTooManyRequests, "Rate limit exceeded", nil)
			return
		}
		handler(c)
	}
}
