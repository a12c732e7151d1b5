package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newBucket(t *testing.T, capacity int, refill float64) (*TokenBucket, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bucket := NewTokenBucket(client, capacity, refill).WithClock(func() time.Time { return now })
	return bucket, &now
}

func TestTokenBucketCapacity(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newBucket(t, 2, 1)

	d, err := bucket.Allow(ctx, "u1")
	if err != nil || !d.Allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", d.Allowed, err)
	}
	if d.Remaining != 1 {
		t.Fatalf("expected 1 token remaining, got %v", d.Remaining)
	}
	d, _ = bucket.Allow(ctx, "u1")
	if !d.Allowed {
		t.Fatalf("expected second token allowed")
	}
	d, _ = bucket.Allow(ctx, "u1")
	if d.Allowed {
		t.Fatalf("expected third token to be rejected")
	}
	if d.RetryAfter != time.Second {
		t.Fatalf("expected retry after 1s, got %v", d.RetryAfter)
	}

	d, _ = bucket.Allow(ctx, "u2")
	if !d.Allowed {
		t.Fatalf("buckets must be per account")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	ctx := context.Background()
	bucket, now := newBucket(t, 1, 0.5)

	if d, _ := bucket.Allow(ctx, "u1"); !d.Allowed {
		t.Fatalf("expected first token allowed")
	}
	if d, _ := bucket.Allow(ctx, "u1"); d.Allowed {
		t.Fatalf("expected bucket to be empty")
	}

	*now = now.Add(time.Second)
	if d, _ := bucket.Allow(ctx, "u1"); d.Allowed {
		t.Fatalf("half a token must not be enough")
	}
	*now = now.Add(time.Second)
	if d, _ := bucket.Allow(ctx, "u1"); !d.Allowed {
		t.Fatalf("expected refill after two seconds")
	}
}
