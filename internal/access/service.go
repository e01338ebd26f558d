package access

import (
	"github.com/developingchet/rtledger/internal/metrics"
	"github.com/rs/zerolog"
)

// Service is the instrumented entry point used by request handlers. It holds no
// mutable state; every method is a pure function of its inputs plus a metric and a trace line.
type Service struct {
	log zerolog.Logger
}

// NewService returns a Service that logs decisions at trace level.
func NewService(log zerolog.Logger) *Service {
	return &Service{log: log.With().Str("component", "access").Logger()}
}

// ListFilter returns BuildListFilter(p).
func (s *Service) ListFilter(p Principal) Predicate {
	pred := BuildListFilter(p)
	scope := "restricted"
	if pred.IsTrue() {
		scope = "unrestricted"
	}
	metrics.ListFilters.WithLabelValues(scope).Inc()
	s.log.Trace().Str("principal", p.ID).Stringer("filter", pred).Msg("list filter built")
	return pred
}

// Check returns CheckAccess(p, op, action) and records the deciding rule.
func (s *Service) Check(p Principal, op Operation, action Action) bool {
	ok, reason := Decide(p, op, action)
	result := "deny"
	if ok {
		result = "allow"
	}
	metrics.AccessDecisions.WithLabelValues(string(action), result, string(reason)).Inc()
	s.log.Trace().
		Str("principal", p.ID).
		Str("role", string(p.Role)).
		Str("operation", op.ID).
		Str("action", string(action)).
		Str("reason", string(reason)).
		Bool("allowed", ok).
		Msg("access decision")
	return ok
}

// CanCreate reports whether p may record a new Operation.
func (s *Service) CanCreate(p Principal) bool {
	ok := CanCreate(p)
	result := "deny"
	reason := ReasonRole
	if ok {
		result = "allow"
	}
	metrics.AccessDecisions.WithLabelValues("create", result, string(reason)).Inc()
	return ok
}
