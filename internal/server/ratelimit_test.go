package server

import (
	"testing"
	"time"
)

func TestRateLimiterDisabledByDefault(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{})
	for i := 0; i < 50; i++ {
		if !rl.AllowRequest() {
			t.Fatalf("expected unlimited requests to always be allowed")
		}
	}
}

func TestRateLimiterRejectsBeyondBurst(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{GlobalRPS: 1, GlobalBurst: 2})

	if !rl.AllowRequest() {
		t.Fatalf("expected first request to be allowed")
	}
	if !rl.AllowRequest() {
		t.Fatalf("expected second request within burst to be allowed")
	}
	if rl.AllowRequest() {
		t.Fatalf("expected third immediate request to be rejected")
	}
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	tb := newTokenBucket(1000, 1)
	if !tb.Allow() {
		t.Fatalf("expected first token to be available")
	}
	if tb.Allow() {
		t.Fatalf("expected bucket to be empty immediately after draining")
	}
	time.Sleep(5 * time.Millisecond)
	if !tb.Allow() {
		t.Fatalf("expected bucket to refill after waiting")
	}
}
