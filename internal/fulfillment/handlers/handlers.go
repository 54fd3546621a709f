package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/catalog"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/middleware"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/models"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/repository"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/service"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/utils"
	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
)

// Handler handles all HTTP requests
type Handler struct {
	Repo          repository.Repository
	Purchases     *service.PurchaseService
	Customers     *service.CustomerService
	Catalog       *catalog.Catalog
	Events        service.EventDeduper
	JWTSecret     string
	WebhookSecret string
	Logger        *log.Logger
}

// NewHandler creates a new handler
func NewHandler(
	repo repository.Repository,
	purchases *service.PurchaseService,
	customers *service.CustomerService,
	cat *catalog.Catalog,
	events service.EventDeduper,
	jwtSecret, webhookSecret string,
	logger *log.Logger,
) *Handler {
	return &Handler{
		Repo:          repo,
		Purchases:     purchases,
		Customers:     customers,
		Catalog:       cat,
		Events:        events,
		JWTSecret:     jwtSecret,
		WebhookSecret: webhookSecret,
		Logger:        logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps service and repository errors to HTTP statuses
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *catalog.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, verr)
	case errors.Is(err, service.ErrCustomerNotFound),
		errors.Is(err, service.ErrProjectNotFound),
		errors.Is(err, service.ErrSubmissionNotFound),
		errors.Is(err, repository.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, repository.ErrVersionConflict),
		errors.Is(err, repository.ErrDuplicatePurchase),
		errors.Is(err, repository.ErrUserExists),
		errors.Is(err, models.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrInvalidReview),
		errors.Is(err, models.ErrUnknownStep):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.Logger.Printf("Internal error: %v", err)
		http.Error(w, "Server error", http.StatusInternalServerError)
	}
}

// pathParam returns a decoded URL parameter
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// authorize resolves the customer email a request acts on and checks the
// caller may touch it. Customers default to their own email.
func authorize(w http.ResponseWriter, r *http.Request, email string) (string, bool) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}
	email = utils.NormalizeEmail(email)
	if email == "" {
		email = p.Email
	}
	if !p.CanAccess(email) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return "", false
	}
	return email, true
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// RegisterUser handles customer registration
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	req.Email = utils.NormalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}
	if !utils.ValidEmail(req.Email) {
		http.Error(w, "Invalid email", http.StatusBadRequest)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}

	user := &models.User{
		Email:        req.Email,
		Name:         req.Name,
		Role:         models.RoleCustomer,
		PasswordHash: string(hashedPassword),
	}
	if _, err := h.Repo.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, "Email already registered", http.StatusConflict)
			return
		}
		h.writeError(w, err)
		return
	}

	h.issueToken(w, user)
}

// LoginUser handles user login
func (h *Handler) LoginUser(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	req.Email = utils.NormalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.Repo.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if user == nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	h.issueToken(w, user)
}

func (h *Handler) issueToken(w http.ResponseWriter, user *models.User) {
	token, err := middleware.GenerateToken(user, h.JWTSecret)
	if err != nil {
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}

	middleware.SetAuthCookie(w, token)
	w.Header().Set("Authorization", "Bearer "+token)
	writeJSON(w, http.StatusOK, user)
}

// GetOnboardingSchema returns the onboarding fields of a service
func (h *Handler) GetOnboardingSchema(w http.ResponseWriter, r *http.Request) {
	svc := pathParam(r, "service")
	writeJSON(w, http.StatusOK, map[string]any{
		"service": svc,
		"fields":  h.Catalog.Schema(svc),
	})
}
