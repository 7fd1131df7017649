package esplora

import (
	"context"
	"testing"
)

func TestRateLimiterDisabledDoesNotBlock(t *testing.T) {
	r := newRateLimiter(0)
	for i := 0; i < 1000; i++ {
		r.take(context.Background())
	}
}

func TestRateLimiterConsumesTokens(t *testing.T) {
	r := newRateLimiter(2)
	ctx := context.Background()
	r.take(ctx)
	r.take(ctx)
	if r.tokens >= 1 {
		t.Fatalf("expected tokens to be exhausted after burst, got %f", r.tokens)
	}
}
