package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/models"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/utils"
)

// ListPurchases returns the whole ledger
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	purchases, err := h.Purchases.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purchases)
}

// ProcessPurchase marks the purchase with the given session id processed
func (h *Handler) ProcessPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := h.Purchases.MarkProcessed(r.Context(), pathParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Overview returns the admin dashboard counters
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	o, err := h.Customers.Overview(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListCustomers returns every customer record
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Customers.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

// ListSubmissions returns onboarding submissions, filtered by ?status=
func (h *Handler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.Customers.ListSubmissions(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// ReviewSubmission approves or rejects an onboarding submission
func (h *Handler) ReviewSubmission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status     string `json:"status"`
		AdminNotes string `json:"adminNotes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	sub, err := h.Customers.ReviewSubmission(r.Context(), pathParam(r, "id"), req.Status, req.AdminNotes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// CompleteStep completes a timeline step of a customer's project
func (h *Handler) CompleteStep(w http.ResponseWriter, r *http.Request) {
	step, err := models.ParseStep(pathParam(r, "step"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	email := utils.NormalizeEmail(pathParam(r, "email"))
	rec, err := h.Customers.CompleteStep(r.Context(), email, pathParam(r, "projectId"), step)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
