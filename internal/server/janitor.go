package server

import (
	"context"
	"time"

	"github.com/developingchet/rtledger/internal/audit"
	"github.com/developingchet/rtledger/internal/metrics"
	"github.com/developingchet/rtledger/internal/ratelimit"
	"github.com/developingchet/rtledger/internal/storage"
	"github.com/rs/zerolog"
)

// Janitor performs periodic housekeeping: refreshing storage, audit and limiter gauges.
type Janitor struct {
	store     storage.Store
	auditPool *audit.Pool
	limiter   *ratelimit.Limiter
	interval  time.Duration
	log       zerolog.Logger
}

// NewJanitor creates a Janitor. auditPool and limiter may be nil.
func NewJanitor(store storage.Store, auditPool *audit.Pool, limiter *ratelimit.Limiter, interval time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{
		store:     store,
		auditPool: auditPool,
		limiter:   limiter,
		interval:  interval,
		log:       log,
	}
}

// Run executes the janitor loop until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.tick()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.tick()
		}
	}
}

func (j *Janitor) tick() {
	size, err := j.store.SizeBytes()
	if err != nil {
		j.log.Warn().Err(err).Msg("janitor: read db size failed")
	} else {
		metrics.DBSizeBytes.Set(float64(size))
	}

	if j.auditPool != nil {
		metrics.AuditQueueDepth.Set(float64(j.auditPool.Depth()))
	}

	if j.limiter != nil {
		if n, ok := j.limiter.Entries(); ok {
			metrics.RateLimitEntries.Set(float64(n))
		}
	}

	j.log.Debug().Msg("janitor: tick complete")
}
