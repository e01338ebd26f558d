// Package api exposes operations, analytics and token issuance over HTTP.
package api

import (
	"net"
	"net/http"
	"time"

	"github.com/developingchet/rtledger/internal/access"
	"github.com/developingchet/rtledger/internal/auth"
	"github.com/developingchet/rtledger/internal/ratelimit"
	"github.com/developingchet/rtledger/internal/storage"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Auditor accepts audit events without blocking.
type Auditor interface {
	Record(ev storage.AuditEvent) bool
}

// Options configures the request pipeline.
type Options struct {
	AuthPolicy ratelimit.Policy
	APIPolicy  ratelimit.Policy

	// TrustProxyHeaders enables X-Forwarded-For / X-Real-IP for client identification.
	TrustProxyHeaders bool
	// UseRemoteAddr falls back to the connection address before the shared "unknown" bucket.
	UseRemoteAddr bool
	Allowlist     []*net.IPNet
}

// Handler serves the HTTP API.
type Handler struct {
	store   storage.Store
	access  *access.Service
	limiter *ratelimit.Limiter
	issuer  *auth.Issuer
	audit   Auditor
	opts    Options
	log     zerolog.Logger
	now     func() time.Time
}

// New returns a Handler. audit may be nil.
func New(store storage.Store, acc *access.Service, limiter *ratelimit.Limiter, issuer *auth.Issuer,
	audit Auditor, opts Options, log zerolog.Logger) *Handler {
	return &Handler{
		store:   store,
		access:  acc,
		limiter: limiter,
		issuer:  issuer,
		audit:   audit,
		opts:    opts,
		log:     log.With().Str("component", "api").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(h.requestLogger)
	r.Use(chimw.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(h.rateLimit(h.opts.APIPolicy))

		r.Route("/auth", func(r chi.Router) {
			r.Use(h.rateLimit(h.opts.AuthPolicy))
			r.Post("/token", h.issueToken)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)
			r.Get("/me", h.me)

			r.Route("/operations", func(r chi.Router) {
				r.Get("/", h.listOperations)
				r.Post("/", h.createOperation)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.getOperation)
					r.Patch("/", h.updateOperation)
					r.Delete("/", h.deleteOperation)
					r.Post("/techniques", h.addTechnique)
				})
			})

			r.Get("/analytics/scorecard", h.scorecard)
			r.Get("/analytics/heatmap", h.heatmap)
		})
	})
	return r
}

func (h *Handler) record(p access.Principal, action, operationID string, allowed bool, detail string) {
	if h.audit == nil {
		return
	}
	h.audit.Record(storage.AuditEvent{
		PrincipalID: p.ID,
		Action:      action,
		OperationID: operationID,
		Allowed:     allowed,
		Detail:      detail,
	})
}
