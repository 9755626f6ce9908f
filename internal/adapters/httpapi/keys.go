package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
)

type keyRequest struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	Permissions  *string `json:"permissions"`
	LimitUsage   *bool   `json:"limit_usage"`
	MonthlyLimit *int    `json:"monthly_limit"`
}

type keyResponse struct {
	ID             string `json:"id"`
	Key            string `json:"key"`
	OwnerID        string `json:"owner_id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Permissions    string `json:"permissions"`
	LimitUsage     bool   `json:"limit_usage"`
	MonthlyLimit   int    `json:"monthly_limit"`
	CurrentUsage   int    `json:"current_usage"`
	LastResetMonth string `json:"last_reset_month,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type eventResponse struct {
	EventID      string          `json:"event_id"`
	Topic        string          `json:"topic"`
	Status       string          `json:"status"`
	Attempts     int             `json:"attempts"`
	LastError    string          `json:"last_error,omitempty"`
	CreatedAt    string          `json:"created_at"`
	DispatchedAt string          `json:"dispatched_at,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

// maskSecret keeps the prefix and last four characters of a secret.
func maskSecret(secret string) string {
	if len(secret) <= 11 {
		return "****"
	}
	return secret[:7] + "..." + secret[len(secret)-4:]
}

func toKeyResponse(k domain.APIKey, revealSecret bool) keyResponse {
	secret := maskSecret(k.Key)
	if revealSecret {
		secret = k.Key
	}
	return keyResponse{
		ID:             k.ID,
		Key:            secret,
		OwnerID:        k.OwnerID,
		Name:           k.Name,
		Description:    k.Description,
		Permissions:    k.Permissions,
		LimitUsage:     k.LimitEnabled,
		MonthlyLimit:   k.MonthlyLimit,
		CurrentUsage:   k.CurrentUsage,
		LastResetMonth: k.LastResetMonth,
		CreatedAt:      k.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:      k.UpdatedAt.UTC().Format(timeFormat),
	}
}

func (h *Handler) issueKey(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !h.decodeValidated(w, r, createKeySchema, &req) {
		return
	}
	in := domain.NewKey{}
	if req.Name != nil {
		in.Name = *req.Name
	}
	if req.Description != nil {
		in.Description = *req.Description
	}
	if req.Permissions != nil {
		in.Permissions = *req.Permissions
	}
	if req.LimitUsage != nil {
		in.LimitEnabled = *req.LimitUsage
	}
	if req.MonthlyLimit != nil {
		in.MonthlyLimit = *req.MonthlyLimit
	}

	key, err := h.keys.Issue(r.Context(), chi.URLParam(r, "ownerID"), in)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toKeyResponse(key, true))
}

func (h *Handler) listKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	out := make([]keyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, toKeyResponse(k, false))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"keys": out})
}

func (h *Handler) getKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Get(r.Context(), chi.URLParam(r, "ownerID"), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toKeyResponse(key, false))
}

func (h *Handler) updateKey(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !h.decodeValidated(w, r, patchKeySchema, &req) {
		return
	}
	patch := domain.KeyPatch{
		Name:         req.Name,
		Description:  req.Description,
		Permissions:  req.Permissions,
		LimitEnabled: req.LimitUsage,
		MonthlyLimit: req.MonthlyLimit,
	}

	key, err := h.keys.Update(r.Context(), chi.URLParam(r, "ownerID"), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toKeyResponse(key, false))
}

func (h *Handler) revokeKey(w http.ResponseWriter, r *http.Request) {
	if err := h.keys.Revoke(r.Context(), chi.URLParam(r, "ownerID"), chi.URLParam(r, "id")); err != nil {
		h.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.writeError(w, http.StatusNotFound, "events not available")
		return
	}
	ownerID := chi.URLParam(r, "ownerID")
	if err := domain.ValidateOwnerID(ownerID); err != nil {
		h.handleDomainError(w, err)
		return
	}
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	events, err := h.events.ListByOwner(r.Context(), ownerID, limit)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		item := eventResponse{
			EventID:   e.EventID,
			Topic:     e.Topic,
			Status:    e.Status,
			Attempts:  e.Attempts,
			LastError: e.LastError,
			CreatedAt: e.CreatedAt.UTC().Format(timeFormat),
			Payload:   e.PayloadJSON,
		}
		if e.DispatchedAt != nil {
			item.DispatchedAt = e.DispatchedAt.UTC().Format(timeFormat)
		}
		out = append(out, item)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
