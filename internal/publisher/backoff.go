package publisher

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Backoff computes exponential retry delays with equal jitter: the n-th
// retry waits a random duration in [d/2, d] where d = min(Max, Base*2^(n-1)).
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{Base: base, Max: max, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// WithSeed makes the jitter sequence reproducible.
func (b *Backoff) WithSeed(seed int64) *Backoff {
	b.mu.Lock()
	b.rnd = rand.New(rand.NewSource(seed))
	b.mu.Unlock()
	return b
}

// Ceiling returns the un-jittered delay before the given retry (1-based).
func (b *Backoff) Ceiling(retry int) time.Duration {
	if retry < 1 || b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < retry; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Delay returns the jittered delay before the given retry (1-based).
func (b *Backoff) Delay(retry int) time.Duration {
	d := b.Ceiling(retry)
	if d <= 1 {
		return d
	}
	half := d / 2

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rnd == nil {
		b.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return half + time.Duration(b.rnd.Int63n(int64(d-half)+1))
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
