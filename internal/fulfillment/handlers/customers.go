package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/repository"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/service"
)

// GetCustomerData returns a customer record
func (h *Handler) GetCustomerData(w http.ResponseWriter, r *http.Request) {
	email, ok := authorize(w, r, pathParam(r, "email"))
	if !ok {
		return
	}

	rec, err := h.Customers.Get(r.Context(), email)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// SyncData updates the client-owned fields of a customer record. A stale
// version gets 409 with the current record.
func (h *Handler) SyncData(w http.ResponseWriter, r *http.Request) {
	var req service.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	email, ok := authorize(w, r, req.Email)
	if !ok {
		return
	}
	req.Email = email

	rec, err := h.Customers.Sync(r.Context(), req)
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) && rec != nil {
			writeJSON(w, http.StatusConflict, rec)
			return
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CancelProject cancels one of the customer's active projects
func (h *Handler) CancelProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		ProjectID string `json:"projectId"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if req.ProjectID == "" {
		http.Error(w, "projectId is required", http.StatusBadRequest)
		return
	}

	email, ok := authorize(w, r, req.Email)
	if !ok {
		return
	}

	rec, err := h.Customers.CancelProject(r.Context(), email, req.ProjectID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// SubmitOnboarding stores an onboarding form for admin approval
func (h *Handler) SubmitOnboarding(w http.ResponseWriter, r *http.Request) {
	var req service.SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if req.Service == "" {
		http.Error(w, "service is required", http.StatusBadRequest)
		return
	}

	email, ok := authorize(w, r, req.Email)
	if !ok {
		return
	}
	req.Email = email

	sub, err := h.Customers.SubmitOnboarding(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}
