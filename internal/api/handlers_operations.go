package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/developingchet/rtledger/internal/access"
	"github.com/developingchet/rtledger/internal/analytics"
	"github.com/developingchet/rtledger/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type techniqueJSON struct {
	ID          string    `json:"id"`
	TechniqueID string    `json:"technique_id"`
	Tactic      string    `json:"tactic"`
	Name        string    `json:"name,omitempty"`
	ExecutedAt  time.Time `json:"executed_at"`
	Detected    bool      `json:"detected"`
	Prevented   bool      `json:"prevented"`
	Attributed  bool      `json:"attributed"`
	Notes       string    `json:"notes,omitempty"`
}

type operationJSON struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	OwnerID      string            `json:"owner_id"`
	Visibility   access.Visibility `json:"visibility"`
	AccessGroups []string          `json:"access_groups"`
	Techniques   []techniqueJSON   `json:"techniques"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type operationList struct {
	Operations []operationJSON `json:"operations"`
	Count      int             `json:"count"`
}

type createOperationRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Visibility   string   `json:"visibility"`
	AccessGroups []string `json:"access_groups"`
}

type updateOperationRequest struct {
	Name         *string   `json:"name"`
	Description  *string   `json:"description"`
	Visibility   *string   `json:"visibility"`
	AccessGroups *[]string `json:"access_groups"`
}

type techniqueRequest struct {
	TechniqueID string     `json:"technique_id"`
	Tactic      string     `json:"tactic"`
	Name        string     `json:"name"`
	ExecutedAt  *time.Time `json:"executed_at"`
	Detected    bool       `json:"detected"`
	Prevented   bool       `json:"prevented"`
	Attributed  bool       `json:"attributed"`
	Notes       string     `json:"notes"`
}

func toTechniqueJSON(t storage.Technique) techniqueJSON {
	return techniqueJSON{
		ID:          t.ID,
		TechniqueID: t.TechniqueID,
		Tactic:      t.Tactic,
		Name:        t.Name,
		ExecutedAt:  t.ExecutedAt,
		Detected:    t.Outcome.Detected,
		Prevented:   t.Outcome.Prevented,
		Attributed:  t.Outcome.Attributed,
		Notes:       t.Notes,
	}
}

func toOperationJSON(rec storage.OperationRecord) operationJSON {
	out := operationJSON{
		ID:           rec.ID,
		Name:         rec.Name,
		Description:  rec.Description,
		OwnerID:      rec.OwnerID,
		Visibility:   rec.Visibility,
		AccessGroups: append([]string{}, rec.AccessGroupIDs...),
		Techniques:   make([]techniqueJSON, 0, len(rec.Techniques)),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	for _, t := range rec.Techniques {
		out.Techniques = append(out.Techniques, toTechniqueJSON(t))
	}
	return out
}

// visibleOperations returns every operation p may list.
func (h *Handler) visibleOperations(p access.Principal) ([]storage.OperationRecord, error) {
	return h.store.ListOperations(h.access.ListFilter(p))
}

// authorize loads the {id} operation and checks action against it. On failure the
// response has already been written.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, action access.Action) (access.Principal, *storage.OperationRecord, bool) {
	p, _ := PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "id")

	rec, view, err := h.store.GetOperation(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "operation not found")
		return p, nil, false
	}
	if err != nil {
		h.log.Error().Err(err).Str("operation", id).Msg("load operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return p, nil, false
	}

	allowed := h.access.Check(p, view, action)
	h.record(p, "operation."+string(action), id, allowed, "")
	if !allowed {
		writeError(w, http.StatusForbidden, "forbidden")
		return p, nil, false
	}
	return p, rec, true
}

// validateGroups confirms every access group exists and drops blanks and duplicates.
func (h *Handler) validateGroups(groups []string) ([]string, error) {
	seen := make(map[string]bool, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		g = strings.TrimSpace(g)
		if g == "" || seen[g] {
			continue
		}
		if _, err := h.store.GetGroup(g); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("unknown access group %q", g)
			}
			return nil, err
		}
		seen[g] = true
		out = append(out, g)
	}
	return out, nil
}

func (h *Handler) listOperations(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	ops, err := h.visibleOperations(p)
	if err != nil {
		h.log.Error().Err(err).Msg("list operations failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := operationList{Operations: make([]operationJSON, 0, len(ops)), Count: len(ops)}
	for _, op := range ops {
		resp.Operations = append(resp.Operations, toOperationJSON(op))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createOperation(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	if !h.access.CanCreate(p) {
		h.record(p, "operation.create", "", false, "role")
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req createOperationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	vis := access.VisibilityEveryone
	if req.Visibility != "" {
		v, ok := access.ParseVisibility(req.Visibility)
		if !ok {
			writeError(w, http.StatusBadRequest, "visibility must be EVERYONE or GROUPS_ONLY")
			return
		}
		vis = v
	}
	groups, err := h.validateGroups(req.AccessGroups)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.now()
	rec := storage.OperationRecord{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Description:    req.Description,
		OwnerID:        p.ID,
		Visibility:     vis,
		AccessGroupIDs: groups,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.store.PutOperation(rec); err != nil {
		h.log.Error().Err(err).Msg("create operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.record(p, "operation.create", rec.ID, true, "")
	writeJSON(w, http.StatusCreated, toOperationJSON(rec))
}

func (h *Handler) getOperation(w http.ResponseWriter, r *http.Request) {
	_, rec, ok := h.authorize(w, r, access.ActionView)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toOperationJSON(*rec))
}

func (h *Handler) updateOperation(w http.ResponseWriter, r *http.Request) {
	p, rec, ok := h.authorize(w, r, access.ActionModify)
	if !ok {
		return
	}

	var req updateOperationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "name must not be empty")
			return
		}
		rec.Name = name
	}
	if req.Description != nil {
		rec.Description = *req.Description
	}
	if req.Visibility != nil {
		v, ok := access.ParseVisibility(*req.Visibility)
		if !ok {
			writeError(w, http.StatusBadRequest, "visibility must be EVERYONE or GROUPS_ONLY")
			return
		}
		rec.Visibility = v
	}
	if req.AccessGroups != nil {
		groups, err := h.validateGroups(*req.AccessGroups)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rec.AccessGroupIDs = groups
	}

	rec.UpdatedAt = h.now()
	if err := h.store.PutOperation(*rec); err != nil {
		h.log.Error().Err(err).Str("operation", rec.ID).Msg("update operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.record(p, "operation.update", rec.ID, true, "")
	writeJSON(w, http.StatusOK, toOperationJSON(*rec))
}

func (h *Handler) deleteOperation(w http.ResponseWriter, r *http.Request) {
	p, rec, ok := h.authorize(w, r, access.ActionModify)
	if !ok {
		return
	}
	if err := h.store.DeleteOperation(rec.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.log.Error().Err(err).Str("operation", rec.ID).Msg("delete operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.record(p, "operation.delete", rec.ID, true, "")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addTechnique(w http.ResponseWriter, r *http.Request) {
	p, rec, ok := h.authorize(w, r, access.ActionModify)
	if !ok {
		return
	}

	var req techniqueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.TechniqueID = strings.ToUpper(strings.TrimSpace(req.TechniqueID))
	if req.TechniqueID == "" {
		writeError(w, http.StatusBadRequest, "technique_id is required")
		return
	}

	now := h.now()
	executed := now
	if req.ExecutedAt != nil {
		executed = req.ExecutedAt.UTC()
	}
	t := storage.Technique{
		ID:          uuid.NewString(),
		TechniqueID: req.TechniqueID,
		Tactic:      strings.ToLower(strings.TrimSpace(req.Tactic)),
		Name:        req.Name,
		ExecutedAt:  executed,
		Outcome: storage.Outcome{
			Detected:   req.Detected,
			Prevented:  req.Prevented,
			Attributed: req.Attributed,
		},
		Notes: req.Notes,
	}
	rec.Techniques = append(rec.Techniques, t)
	rec.UpdatedAt = now
	if err := h.store.PutOperation(*rec); err != nil {
		h.log.Error().Err(err).Str("operation", rec.ID).Msg("add technique failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.record(p, "operation.technique", rec.ID, true, t.TechniqueID)
	writeJSON(w, http.StatusCreated, toTechniqueJSON(t))
}

func (h *Handler) scorecard(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	ops, err := h.visibleOperations(p)
	if err != nil {
		h.log.Error().Err(err).Msg("scorecard failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, analytics.BuildScorecard(ops))
}

func (h *Handler) heatmap(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	ops, err := h.visibleOperations(p)
	if err != nil {
		h.log.Error().Err(err).Msg("heatmap failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tactics": analytics.BuildHeatmap(ops)})
}
