package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/developingchet/rtledger/internal/access"
	"github.com/developingchet/rtledger/internal/clientip"
	"github.com/developingchet/rtledger/internal/metrics"
	"github.com/developingchet/rtledger/internal/ratelimit"
	"github.com/developingchet/rtledger/internal/storage"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type requestIDKey struct{}

type principalKey struct{}

// RequestID reuses an incoming X-Request-ID or assigns a new UUID, echoing it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the request ID, or "" outside a request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithPrincipal stores the authenticated principal in ctx.
func WithPrincipal(ctx context.Context, p access.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal set by the auth middleware.
func PrincipalFromContext(ctx context.Context) (access.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(access.Principal)
	return p, ok
}

// requestLogger records one log line and the HTTP metrics per request.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		evt := h.log.Info()
		if status >= http.StatusInternalServerError {
			evt = h.log.Error()
		}
		evt.Str("request_id", RequestIDFromContext(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

// clientID is the identifier a request is rate limited under.
func (h *Handler) clientID(r *http.Request) string {
	hdr := r.Header
	if !h.opts.TrustProxyHeaders {
		hdr = nil
	}
	return clientip.Resolve(hdr, r.RemoteAddr, h.opts.UseRemoteAddr)
}

// rateLimit admits requests under p and rejects the rest with 429.
// Allowlisted clients bypass the limiter entirely; the shared "unknown" bucket never does.
func (h *Handler) rateLimit(p ratelimit.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := h.clientID(r)
			if id != clientip.Unknown && clientip.Contains(id, h.opts.Allowlist) {
				next.ServeHTTP(w, r)
				return
			}

			d, err := h.limiter.Admit(r.Context(), id, p)
			if err != nil {
				// A broken shared counter store must not take the API down with it.
				h.log.Warn().Err(err).Str("policy", p.Name).Msg("rate limit store unavailable; admitting request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Admitted {
				secs := int(math.Ceil(d.RetryAfter(h.limiter.Now()).Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				h.log.Debug().Str("client", id).Str("policy", p.Name).Msg("rate limit exceeded")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authenticate resolves the bearer token to a Principal with its current role and groups.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		sub, err := h.issuer.Verify(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		p, err := h.loadPrincipal(sub)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unknown principal")
			return
		}
		if err != nil {
			h.log.Error().Err(err).Str("principal", sub).Msg("load principal failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func (h *Handler) loadPrincipal(id string) (access.Principal, error) {
	rec, err := h.store.GetPrincipal(id)
	if err != nil {
		return access.Principal{}, err
	}
	groups, err := h.store.GroupsFor(id)
	if err != nil {
		return access.Principal{}, err
	}
	return access.Principal{ID: rec.ID, Role: rec.Role, GroupIDs: groups}, nil
}
