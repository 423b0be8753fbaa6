package rest

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Rate limit headers returned on every API response.
const (
	headerLimit      = "X-RateLimit-Limit"
	headerRemaining  = "X-RateLimit-Remaining"
	headerReset      = "X-RateLimit-Reset"
	headerResetAfter = "X-RateLimit-Reset-After"
	headerBucket     = "X-RateLimit-Bucket"
	headerGlobal     = "X-RateLimit-Global"
	headerRetryAfter = "Retry-After"
)

// bucketTTL is how long an untouched bucket survives before the lazy
// sweep drops it.
const bucketTTL = 10 * time.Minute

// Bucket tracks quota for one rate limit bucket. Limit, Remaining and
// Reset may only be touched while holding the bucket through Acquire.
type Bucket struct {
	Key string
	// ID is the bucket hash the platform reveals in response
	// headers. Informational; the key stays route+method derived.
	ID        string
	Limit     int
	Remaining int
	Reset     time.Time

	// lock is a capacity-1 channel rather than a mutex so waiters
	// are served in submission order.
	lock     chan struct{}
	lastUsed time.Time
}

// RateLimiter tracks per-bucket quota for REST routes plus the global
// gate. Requests against the same bucket are serialized FIFO for the
// duration of the call; distinct buckets proceed in parallel.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*Bucket
	lastSweep time.Time

	// globalUntil is the unix-nano deadline before which every
	// bucket must stall, or 0.
	globalUntil atomic.Int64

	log *slog.Logger
}

func NewRateLimiter(log *slog.Logger) *RateLimiter {
	if log == nil {
		log = slog.Default()
	}
	return &RateLimiter{
		buckets:   make(map[string]*Bucket),
		lastSweep: time.Now(),
		log:       log,
	}
}

func (rl *RateLimiter) getBucket(key string) *Bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	if now.Sub(rl.lastSweep) > bucketTTL {
		rl.lastSweep = now
		for k, b := range rl.buckets {
			if len(b.lock) == 0 && now.Sub(b.lastUsed) > bucketTTL {
				delete(rl.buckets, k)
			}
		}
	}
	b, ok := rl.buckets[key]
	if !ok {
		b = &Bucket{
			Key:       key,
			Remaining: 1,
			lock:      make(chan struct{}, 1),
		}
		rl.buckets[key] = b
	}
	b.lastUsed = now
	return b
}

// GlobalResetIn reports how long the global gate stays closed, or zero.
func (rl *RateLimiter) GlobalResetIn() time.Duration {
	until := rl.globalUntil.Load()
	if until == 0 {
		return 0
	}
	d := time.Until(time.Unix(0, until))
	if d < 0 {
		return 0
	}
	return d
}

// SetGlobalRetry closes the global gate for the given duration. Every
// Acquire on every bucket stalls until it reopens.
func (rl *RateLimiter) SetGlobalRetry(after time.Duration) {
	until := time.Now().Add(after).UnixNano()
	for {
		cur := rl.globalUntil.Load()
		if cur >= until {
			return
		}
		if rl.globalUntil.CompareAndSwap(cur, until) {
			rl.log.Warn("globally rate limited", "retry_after", after)
			return
		}
	}
}

// Acquire blocks until the bucket has quota and the global gate is
// open, then holds the bucket. The caller must hand it back through
// Release (or Cancel when no response was obtained).
func (rl *RateLimiter) Acquire(ctx context.Context, key string) (*Bucket, error) {
	b := rl.getBucket(key)
	select {
	case b.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := rl.waitQuota(ctx, b); err != nil {
		<-b.lock
		return nil, err
	}
	if b.Remaining > 0 {
		b.Remaining--
	}
	return b, nil
}

func (rl *RateLimiter) waitQuota(ctx context.Context, b *Bucket) error {
	for {
		wait := rl.GlobalResetIn()
		if wait == 0 && b.Remaining <= 0 {
			if d := time.Until(b.Reset); d > 0 {
				wait = d
			} else {
				// Window rolled over while we waited.
				b.Remaining = b.Limit
				if b.Remaining <= 0 {
					b.Remaining = 1
				}
			}
		}
		if wait == 0 {
			return nil
		}
		rl.log.Debug("bucket exhausted, waiting", "bucket", b.Key, "wait", wait)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Release updates the bucket from response headers and hands it back.
// A Retry-After header is authoritative and overrides the window math.
func (rl *RateLimiter) Release(b *Bucket, headers http.Header) {
	defer func() { <-b.lock }()
	if headers == nil {
		return
	}
	now := time.Now()

	if retryAfter := headers.Get(headerRetryAfter); retryAfter != "" {
		after, err := strconv.ParseFloat(retryAfter, 64)
		if err == nil {
			reset := now.Add(time.Duration(after * float64(time.Second)))
			if isGlobal(headers) {
				rl.SetGlobalRetry(time.Until(reset))
			} else {
				b.Remaining = 0
				b.Reset = reset
			}
			return
		}
	}

	if id := headers.Get(headerBucket); id != "" {
		b.ID = id
	}
	if limit := headers.Get(headerLimit); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			b.Limit = n
		}
	}
	if remaining := headers.Get(headerRemaining); remaining != "" {
		if n, err := strconv.Atoi(remaining); err == nil {
			b.Remaining = n
		}
	}
	switch {
	case headers.Get(headerResetAfter) != "":
		if after, err := strconv.ParseFloat(headers.Get(headerResetAfter), 64); err == nil {
			b.Reset = now.Add(time.Duration(after * float64(time.Second)))
		}
	case headers.Get(headerReset) != "":
		if epoch, err := strconv.ParseFloat(headers.Get(headerReset), 64); err == nil {
			sec := int64(epoch)
			nsec := int64((epoch - float64(sec)) * float64(time.Second))
			b.Reset = time.Unix(sec, nsec)
		}
	}
}

// Cancel hands the bucket back without touching quota state, for
// attempts that never produced a response.
func (rl *RateLimiter) Cancel(b *Bucket) {
	<-b.lock
}

func isGlobal(headers http.Header) bool {
	return headers.Get(headerGlobal) == "true"
}
