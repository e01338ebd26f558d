// Package audit persists access decisions and mutations off the request path.
package audit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/developingchet/rtledger/internal/metrics"
	"github.com/developingchet/rtledger/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sink persists one event. Returns an error if the write should be retried.
type Sink func(ctx context.Context, ev storage.AuditEvent) error

// Config holds audit pool configuration.
type Config struct {
	Workers    int
	QueueDepth int
	MaxRetries int
	RetryBase  time.Duration
}

// Pool is a bounded worker pool writing audit events with retry.
type Pool struct {
	cfg      Config
	events   chan storage.AuditEvent
	sink     Sink
	log      zerolog.Logger
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Pool with the given config and sink.
func New(cfg Config, sink Sink, log zerolog.Logger) (*Pool, error) {
	if cfg.Workers < 1 || cfg.Workers > 64 {
		return nil, fmt.Errorf("AUDIT_WORKERS must be 1–64, got %d", cfg.Workers)
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 1024
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	return &Pool{
		cfg:    cfg,
		events: make(chan storage.AuditEvent, cfg.QueueDepth),
		sink:   sink,
		log:    log.With().Str("component", "audit").Logger(),
	}, nil
}

// StoreSink writes events to store.
func StoreSink(store storage.Store) Sink {
	return func(_ context.Context, ev storage.AuditEvent) error {
		return store.AppendAudit(ev)
	}
}

// Start launches the worker goroutines. ctx controls worker lifetime.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Record fills in ID and timestamp and enqueues ev. It never blocks.
func (p *Pool) Record(ev storage.AuditEvent) bool {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return p.Enqueue(ev)
}

// Enqueue attempts a non-blocking send. Returns false if the buffer is full.
func (p *Pool) Enqueue(ev storage.AuditEvent) (ok bool) {
	defer func() {
		// Sending after Stop panics on the closed channel; treat it as a drop.
		if recover() != nil {
			metrics.AuditDropped.WithLabelValues("stopped").Inc()
			ok = false
		}
	}()
	select {
	case p.events <- ev:
		metrics.AuditEnqueued.WithLabelValues(ev.Action).Inc()
		return true
	default:
		metrics.AuditDropped.WithLabelValues("buffer_full").Inc()
		p.log.Warn().Str("action", ev.Action).Str("principal", ev.PrincipalID).Msg("audit event dropped: queue full")
		return false
	}
}

// Stop closes the queue and waits for workers to drain it.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.events)
	})
	p.wg.Wait()
}

// Depth returns the current number of pending events.
func (p *Pool) Depth() int {
	return len(p.events)
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker_id", id).Logger()

	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued so shutdown does not lose events.
			for ev := range p.events {
				p.writeWithRetry(context.Background(), ev, log)
			}
			return
		case ev, ok := <-p.events:
			if !ok {
				return
			}
			metrics.AuditQueueDepth.Set(float64(len(p.events)))
			p.writeWithRetry(ctx, ev, log)
		}
	}
}

// writeWithRetry runs the sink inline with exponential backoff.
func (p *Pool) writeWithRetry(ctx context.Context, ev storage.AuditEvent, log zerolog.Logger) {
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.backoff(attempt - 1)
			log.Warn().Str("event", ev.ID).Int("attempt", attempt).
				Dur("backoff", backoff).Msg("retrying audit write")
			select {
			case <-ctx.Done():
				metrics.AuditProcessed.WithLabelValues("error").Inc()
				return
			case <-time.After(backoff):
			}
		}

		if err := p.sink(ctx, ev); err != nil {
			if attempt < p.cfg.MaxRetries {
				metrics.AuditProcessed.WithLabelValues("retried").Inc()
				continue
			}
			metrics.AuditProcessed.WithLabelValues("error").Inc()
			log.Error().Err(err).Str("event", ev.ID).
				Int("max_retries", p.cfg.MaxRetries).Msg("audit write failed: max retries exceeded")
			return
		}

		metrics.AuditProcessed.WithLabelValues("success").Inc()
		return
	}
}

// backoff computes exponential backoff capped at 30s.
func (p *Pool) backoff(retries int) time.Duration {
	multiplier := math.Pow(2, float64(retries))
	d := time.Duration(float64(p.cfg.RetryBase) * multiplier)
	if max := 30 * time.Second; d > max {
		d = max
	}
	return d
}
