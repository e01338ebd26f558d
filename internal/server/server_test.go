package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/developingchet/rtledger/internal/audit"
	"github.com/developingchet/rtledger/internal/config"
	"github.com/developingchet/rtledger/internal/ratelimit"
	"github.com/developingchet/rtledger/internal/storage"
	"github.com/developingchet/rtledger/internal/testutil"
	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.NewBboltStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBboltStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testCfg() *config.Config {
	return &config.Config{
		APIAddr:                "127.0.0.1:0",
		HealthAddr:             "127.0.0.1:0",
		MetricsAddr:            "127.0.0.1:0",
		MetricsEnabled:         true,
		JWTSecret:              "0123456789abcdef0123456789abcdef",
		TokenTTL:               time.Hour,
		RateLimitAuthWindow:    15 * time.Minute,
		RateLimitAuthMax:       5,
		RateLimitAPIWindow:     15 * time.Minute,
		RateLimitAPIMax:        100,
		RateLimitSweepInterval: time.Minute,
		RateLimitBackend:       "memory",
		TrustProxyHeaders:      true,
		RateLimitUseRemoteAddr: true,
		AuditWorkers:           1,
		AuditQueueDepth:        16,
		AuditRetryBase:         time.Millisecond,
		JanitorInterval:        time.Minute,
	}
}

func TestNewRejectsBadAllowlist(t *testing.T) {
	cfg := testCfg()
	cfg.RateLimitAllowlist = []string{"nope"}
	if _, err := New(cfg, testutil.NewMockStore(), zerolog.Nop()); err == nil {
		t.Error("expected allowlist error")
	}
}

func TestNewRejectsShortSecret(t *testing.T) {
	cfg := testCfg()
	cfg.JWTSecret = "short"
	if _, err := New(cfg, testutil.NewMockStore(), zerolog.Nop()); err == nil {
		t.Error("expected token issuer error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	srv, err := New(testCfg(), newTestStore(t), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunFailsWithoutRedis(t *testing.T) {
	cfg := testCfg()
	cfg.RateLimitBackend = "redis"
	cfg.RedisAddr = "127.0.0.1:1"
	srv, err := New(cfg, testutil.NewMockStore(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Run(context.Background()); err == nil {
		t.Fatal("expected redis connection error")
	}
}

func TestHealthHandler(t *testing.T) {
	store := testutil.NewMockStore()
	h := healthHandler(store)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/readyz = %d", rec.Code)
	}

	store.SetError("Ping", errors.New("db closed"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz with failing store = %d", rec.Code)
	}
}

func TestJanitor_TickWithAllComponents(t *testing.T) {
	store := newTestStore(t)
	pool, err := audit.New(audit.Config{Workers: 1, QueueDepth: 4}, audit.StoreSink(store), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), nil, zerolog.Nop())
	if _, err := limiter.Admit(context.Background(), "1.2.3.4", ratelimit.APIPolicy); err != nil {
		t.Fatal(err)
	}

	j := NewJanitor(store, pool, limiter, time.Minute, zerolog.Nop())
	j.tick()

	if n, ok := limiter.Entries(); !ok || n != 1 {
		t.Errorf("Entries = %d, %v", n, ok)
	}
}

func TestJanitor_SizeError(t *testing.T) {
	store := testutil.NewMockStore()
	store.SetError("SizeBytes", errors.New("stat failed"))
	j := NewJanitor(store, nil, nil, time.Minute, zerolog.Nop())
	// Must log and carry on.
	j.tick()
}

func TestJanitor_TickImmediatelyOnStart(t *testing.T) {
	store := testutil.NewMockStore()
	store.SetError("SizeBytes", errors.New("first tick"))

	j := NewJanitor(store, nil, nil, 10*time.Minute, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- j.Run(ctx)
	}()
	<-ctx.Done()
	<-done

	// The injected error is consumed only if the immediate tick ran.
	if _, err := store.SizeBytes(); err != nil {
		t.Errorf("immediate tick did not run: %v", err)
	}
}
