package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/developingchet/rtledger/internal/metrics"
	"github.com/rs/zerolog"
)

// Limiter admits or rejects requests per client identifier. It owns its Store and
// an optional background sweep started with Start and stopped with Stop.
type Limiter struct {
	store Store
	now   func() time.Time
	log   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Limiter over store. A nil now uses time.Now.
func New(store Store, now func() time.Time, log zerolog.Logger) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		store: store,
		now:   now,
		log:   log.With().Str("component", "ratelimit").Logger(),
	}
}

// Now returns the limiter's current time.
func (l *Limiter) Now() time.Time { return l.now() }

// Admit performs one admission attempt for identifier under p. Counters are
// namespaced by policy name so different policies never share a window.
func (l *Limiter) Admit(ctx context.Context, identifier string, p Policy) (Decision, error) {
	key := identifier
	if p.Name != "" {
		key = p.Name + ":" + identifier
	}
	d, err := l.store.Take(ctx, key, p, l.now())
	if err != nil {
		metrics.RateLimitDecisions.WithLabelValues(p.Name, "error").Inc()
		return Decision{}, err
	}
	if d.Admitted {
		metrics.RateLimitDecisions.WithLabelValues(p.Name, "admitted").Inc()
	} else {
		metrics.RateLimitDecisions.WithLabelValues(p.Name, "rejected").Inc()
		l.log.Debug().Str("key", key).Time("reset_at", d.ResetAt).Msg("request rejected")
	}
	return d, nil
}

// Sweep removes expired entries once.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	n, err := l.store.Sweep(ctx, l.now())
	if err != nil {
		return 0, err
	}
	metrics.RateLimitSwept.Add(float64(n))
	if c, ok := l.Entries(); ok {
		metrics.RateLimitEntries.Set(float64(c))
	}
	return n, nil
}

// Entries returns the number of live counters when the store can count them.
func (l *Limiter) Entries() (int, bool) {
	c, ok := l.store.(interface{ Len() int })
	if !ok {
		return 0, false
	}
	return c.Len(), true
}

// Run sweeps every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := l.Sweep(ctx)
			if err != nil {
				l.log.Warn().Err(err).Msg("sweep failed")
			} else if n > 0 {
				l.log.Debug().Int("count", n).Msg("swept expired entries")
			}
		}
	}
}

// Start launches the background sweep. Calling Start on a running limiter is a no-op.
func (l *Limiter) Start(interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil || interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.cancel, l.done = cancel, done
	go func() {
		defer close(done)
		_ = l.Run(ctx, interval)
	}()
}

// Stop halts the background sweep and waits for it to exit.
func (l *Limiter) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
