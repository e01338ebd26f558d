package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/developingchet/rtledger/internal/access"
	"github.com/developingchet/rtledger/internal/auth"
	"github.com/developingchet/rtledger/internal/metrics"
	"github.com/developingchet/rtledger/internal/storage"
)

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type principalResponse struct {
	ID       string      `json:"id"`
	Username string      `json:"username"`
	Role     access.Role `json:"role"`
	Groups   []string    `json:"groups"`
}

// issueToken exchanges username and password for a bearer token.
func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	rec, err := h.store.GetPrincipalByUsername(req.Username)
	hash := ""
	switch {
	case err == nil:
		hash = rec.PasswordHash
	case !errors.Is(err, storage.ErrNotFound):
		h.log.Error().Err(err).Msg("principal lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Unknown users still pay for one bcrypt comparison.
	if !auth.CheckPassword(hash, req.Password) {
		metrics.LoginAttempts.WithLabelValues("failure").Inc()
		principalID := ""
		if rec != nil {
			principalID = rec.ID
		}
		h.record(access.Principal{ID: principalID}, "auth.login", "", false, "invalid credentials")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, exp, err := h.issuer.Issue(rec.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("issue token failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	metrics.LoginAttempts.WithLabelValues("success").Inc()
	h.record(access.Principal{ID: rec.ID}, "auth.login", "", true, "")
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: exp})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	rec, err := h.store.GetPrincipal(p.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	groups := p.GroupIDs
	if groups == nil {
		groups = []string{}
	}
	writeJSON(w, http.StatusOK, principalResponse{
		ID:       rec.ID,
		Username: rec.Username,
		Role:     rec.Role,
		Groups:   groups,
	})
}
