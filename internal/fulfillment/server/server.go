package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/catalog"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/config"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/handlers"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/middleware"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/models"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/repository"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/service"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v82"
)

// notificationQueueSize bounds pending admin notifications
const notificationQueueSize = 100

// Server represents the HTTP server
type Server struct {
	cfg        *config.Config
	logger     *log.Logger
	repo       repository.Repository
	redis      *redis.Client
	dispatcher *service.Dispatcher
	sweeper    *service.CancellationSweeper
	handler    *handlers.Handler
	jwtConfig  *middleware.JWTConfig
	httpServer *http.Server
}

// NewServer opens the store and wires services and handlers
func NewServer(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Server, error) {
	repo, err := repository.Open(ctx, cfg.DatabaseURI, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	if cfg.DatabaseURI != "" {
		logger.Printf("Using PostgreSQL store")
	} else {
		logger.Printf("Using file store in %s", cfg.DataDir)
	}

	s := &Server{cfg: cfg, logger: logger, repo: repo}

	stripe.Key = cfg.StripeSecretKey
	if cfg.StripeWebhookSecret == "" {
		logger.Printf("WARNING: STRIPE_WEBHOOK_SECRET is not set, webhooks will be rejected")
	}

	var notifier service.Notifier
	if cfg.MailEnabled() {
		notifier = service.NewMailgunNotifier(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunSender, cfg.AdminNotifyEmail)
		logger.Printf("Admin notifications via Mailgun to %s", cfg.AdminNotifyEmail)
	} else {
		notifier = service.NewLogNotifier(logger)
	}
	s.dispatcher = service.NewDispatcher(notifier, notificationQueueSize, logger)

	var events service.EventDeduper
	if cfg.RedisAddr != "" {
		client, err := service.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, 0)
		if err != nil {
			repo.Close()
			return nil, err
		}
		s.redis = client
		events = service.NewRedisDeduper(client)
	} else {
		events = service.NewMemoryDeduper()
	}

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		jwtSecret = randomSecret()
		logger.Printf("WARNING: JWT_SECRET is not set, tokens will not survive a restart")
	}

	cat := catalog.Default()
	projector := service.NewProjector(repo, cat, logger)
	purchases := service.NewPurchaseService(repo, cat, projector, s.dispatcher, logger)
	customers := service.NewCustomerService(repo, cat, s.dispatcher, logger)
	s.sweeper = service.NewCancellationSweeper(customers, cfg.SweepInterval, logger)
	s.handler = handlers.NewHandler(repo, purchases, customers, cat, events, jwtSecret, cfg.StripeWebhookSecret, logger)
	s.jwtConfig = &middleware.JWTConfig{SecretKey: jwtSecret, Repo: repo}
	s.httpServer = &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           NewRouter(s.handler, s.jwtConfig),
		ReadHeaderTimeout: 10 * time.Second,
	}

	created, err := service.SeedAdmin(ctx, repo, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("seed admin: %w", err)
	}
	if created {
		logger.Printf("Created admin user %s", cfg.AdminEmail)
	}

	return s, nil
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// NewRouter builds the HTTP routes
func NewRouter(h *handlers.Handler, jwtConfig *middleware.JWTConfig) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)
		r.Post("/webhooks/stripe", h.StripeWebhook)
		r.Get("/onboarding-schema/{service}", h.GetOnboardingSchema)
		r.Post("/user/register", h.RegisterUser)
		r.Post("/user/login", h.LoginUser)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(jwtConfig))

			r.Get("/customer-data/{email}", h.GetCustomerData)
			r.Post("/sync-data", h.SyncData)
			r.Post("/cancel-project", h.CancelProject)
			r.Post("/onboarding-submission", h.SubmitOnboarding)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleAdmin))

				r.Get("/purchases", h.ListPurchases)
				r.Post("/purchases/{id}/process", h.ProcessPurchase)

				r.Route("/admin", func(r chi.Router) {
					r.Get("/overview", h.Overview)
					r.Get("/customers", h.ListCustomers)
					r.Post("/customers/{email}/projects/{projectId}/steps/{step}/complete", h.CompleteStep)
					r.Get("/submissions", h.ListSubmissions)
					r.Patch("/submissions/{id}", h.ReviewSubmission)
				})
			})
		})
	})

	return r
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the background workers and the HTTP server. It must be
// called once, and Shutdown must follow it.
func (s *Server) Run() error {
	s.dispatcher.Start()
	s.sweeper.Start()

	s.logger.Printf("Starting server on %s", s.cfg.RunAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	// Stop workers; the dispatcher flushes queued notifications
	s.sweeper.Stop()
	s.dispatcher.Stop()

	return s.close()
}

func (s *Server) close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.repo != nil {
		errs = append(errs, s.repo.Close())
	}
	return errors.Join(errs...)
}
