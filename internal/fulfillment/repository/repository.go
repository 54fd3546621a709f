package repository

import (
	"context"
	"errors"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrVersionConflict   = errors.New("version conflict")
	ErrDuplicatePurchase = errors.New("purchase already recorded")
	ErrUserExists        = errors.New("user already exists")
)

// Repository defines the interface for data access operations.
// Single-object getters return (nil, nil) when nothing matches.
type Repository interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)

	// Purchase ledger operations
	AppendPurchase(ctx context.Context, purchase *models.PurchaseRecord) error
	ListPurchases(ctx context.Context) ([]models.PurchaseRecord, error)
	MarkPurchaseProcessed(ctx context.Context, sessionID string) (*models.PurchaseRecord, error)

	// Customer record operations. SaveCustomer only succeeds when the
	// stored version equals record.Version (0 for a new record) and bumps
	// record.Version on success.
	GetCustomer(ctx context.Context, email string) (*models.CustomerRecord, error)
	ListCustomers(ctx context.Context) ([]models.CustomerRecord, error)
	SaveCustomer(ctx context.Context, record *models.CustomerRecord) error

	// Onboarding submission operations
	CreateSubmission(ctx context.Context, submission *models.OnboardingSubmission) error
	GetSubmission(ctx context.Context, id string) (*models.OnboardingSubmission, error)
	ListSubmissions(ctx context.Context) ([]models.OnboardingSubmission, error)
	UpdateSubmission(ctx context.Context, submission *models.OnboardingSubmission) error

	Close() error
}
