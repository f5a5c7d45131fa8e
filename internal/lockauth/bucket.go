package lockauth

import (
	"context"
	"sync"
	"time"
)

// BucketConfig sizes the per-user edit allowance. Each granted lock costs
// one credit; credits come back one per Refill up to Capacity.
type BucketConfig struct {
	Capacity int
	Refill   time.Duration
}

var DefaultBucket = BucketConfig{Capacity: 8, Refill: time.Minute}

type bucket struct {
	level int
	stamp time.Time
}

func (b *bucket) adjust(cfg BucketConfig, now time.Time) {
	n := int(now.Sub(b.stamp) / cfg.Refill)
	if n <= 0 {
		return
	}
	b.level += n
	b.stamp = b.stamp.Add(time.Duration(n) * cfg.Refill)
	if b.level >= cfg.Capacity {
		b.level = cfg.Capacity
		b.stamp = now
	}
}

// Limited charges lock grants against a per-user bucket.
type Limited struct {
	Authority
	cfg     BucketConfig
	now     func() time.Time
	mu      sync.Mutex
	buckets map[uint16]*bucket
}

func WithBuckets(a Authority, cfg BucketConfig) *Limited {
	return &Limited{Authority: a, cfg: cfg, now: time.Now, buckets: make(map[uint16]*bucket)}
}

func (l *Limited) Acquire(ctx context.Context, board string, tile uint8, user uint16) error {
	if !l.consume(user) {
		return ErrRateLimited
	}
	if err := l.Authority.Acquire(ctx, board, tile, user); err != nil {
		l.Refund(user)
		return err
	}
	return nil
}

func (l *Limited) get(user uint16, now time.Time) *bucket {
	b, ok := l.buckets[user]
	if !ok {
		b = &bucket{level: l.cfg.Capacity, stamp: now}
		l.buckets[user] = b
	}
	b.adjust(l.cfg, now)
	return b
}

func (l *Limited) consume(user uint16) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.get(user, l.now())
	if b.level < 1 {
		return false
	}
	b.level--
	return true
}

// Refund returns the credit of a lock that ended without a commit.
func (l *Limited) Refund(user uint16) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.get(user, l.now())
	b.level = min(b.level+1, l.cfg.Capacity)
}

// Allowance reports the user's current credits.
func (l *Limited) Allowance(user uint16) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(user, l.now()).level
}
