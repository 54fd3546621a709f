package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/catalog"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/models"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/repository"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/utils"
)

// CheckoutCompleted is the part of a completed checkout session the ledger needs
type CheckoutCompleted struct {
	SessionID     string
	CustomerID    string
	CustomerEmail string
	CustomerName  string
	AmountCents   int64
	CompletedAt   time.Time
}

// PurchaseOutcome reports what recording a checkout did. Ledger and
// projection failures are kept apart so the caller can tell a lost
// purchase from a purchase that still needs projecting.
type PurchaseOutcome struct {
	Purchase      *models.PurchaseRecord
	Project       *models.CustomerProject
	Duplicate     bool
	UnknownAmount bool
	LedgerErr     error
	ProjectionErr error
}

// Err joins the ledger and projection errors
func (o PurchaseOutcome) Err() error {
	return errors.Join(o.LedgerErr, o.ProjectionErr)
}

// PurchaseService owns the purchase ledger
type PurchaseService struct {
	repo      repository.Repository
	catalog   *catalog.Catalog
	projector *Projector
	notifier  Notifier
	logger    *log.Logger
}

// NewPurchaseService creates a new purchase service
func NewPurchaseService(repo repository.Repository, cat *catalog.Catalog, projector *Projector, notifier Notifier, logger *log.Logger) *PurchaseService {
	return &PurchaseService{
		repo:      repo,
		catalog:   cat,
		projector: projector,
		notifier:  notifier,
		logger:    logger,
	}
}

// NewPurchaseRecord derives the ledger record of a checkout
func (s *PurchaseService) NewPurchaseRecord(c CheckoutCompleted) *models.PurchaseRecord {
	return &models.PurchaseRecord{
		CustomerEmail:    utils.NormalizeEmail(c.CustomerEmail),
		CustomerName:     c.CustomerName,
		PackageName:      s.catalog.PackageForAmount(c.AmountCents),
		Amount:           float64(c.AmountCents) / 100,
		StripeSessionID:  c.SessionID,
		StripeCustomerID: c.CustomerID,
		Timestamp:        c.CompletedAt.UTC(),
	}
}

// RecordCheckout appends the checkout to the ledger and projects it onto the
// customer's record. A checkout already in the ledger is not projected again.
func (s *PurchaseService) RecordCheckout(ctx context.Context, c CheckoutCompleted) PurchaseOutcome {
	purchase := s.NewPurchaseRecord(c)
	out := PurchaseOutcome{Purchase: purchase, UnknownAmount: s.catalog.IsUnknown(purchase.PackageName)}

	if out.UnknownAmount {
		s.logger.Printf("WARNING: checkout %s paid %d cents which matches no package", c.SessionID, c.AmountCents)
		s.notify(ctx, Notification{
			Subject: "Purchase with unknown package",
			Body: fmt.Sprintf("Checkout %s from %s paid $%.2f, which matches no package in the catalog.",
				purchase.StripeSessionID, purchase.CustomerEmail, purchase.Amount),
		})
	}

	if err := s.repo.AppendPurchase(ctx, purchase); err != nil {
		if errors.Is(err, repository.ErrDuplicatePurchase) {
			out.Duplicate = true
			s.logger.Printf("Checkout %s already recorded, skipping", c.SessionID)
			return out
		}
		out.LedgerErr = fmt.Errorf("append purchase %s: %w", c.SessionID, err)
		return out
	}
	s.logger.Printf("Recorded purchase %s: %s for %s ($%.2f)", purchase.StripeSessionID, purchase.PackageName, purchase.CustomerEmail, purchase.Amount)

	if purchase.CustomerEmail == "" {
		out.ProjectionErr = errors.New("checkout has no customer email")
		return out
	}

	project, err := s.projector.Project(ctx, purchase)
	if err != nil {
		out.ProjectionErr = err
		return out
	}
	out.Project = project

	s.notify(ctx, Notification{
		Subject: fmt.Sprintf("New purchase: %s", purchase.PackageName),
		Body: fmt.Sprintf("%s <%s> purchased %s for $%.2f (session %s).",
			purchase.CustomerName, purchase.CustomerEmail, purchase.PackageName, purchase.Amount, purchase.StripeSessionID),
	})
	return out
}

func (s *PurchaseService) notify(ctx context.Context, n Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Printf("Error queueing notification %q: %v", n.Subject, err)
	}
}

// List returns the whole ledger in insertion order
func (s *PurchaseService) List(ctx context.Context) ([]models.PurchaseRecord, error) {
	return s.repo.ListPurchases(ctx)
}

// MarkProcessed flips processed on the purchase with the given session id
func (s *PurchaseService) MarkProcessed(ctx context.Context, sessionID string) (*models.PurchaseRecord, error) {
	p, err := s.repo.MarkPurchaseProcessed(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.logger.Printf("Marked purchase %s processed", sessionID)
	return p, nil
}
