package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/models"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/repository"
)

var (
	ErrCustomerNotFound   = errors.New("customer not found")
	ErrProjectNotFound    = errors.New("project not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrInvalidReview      = errors.New("review status must be approved or rejected")
)

// maxUpdateAttempts bounds the read-modify-write retries on version conflicts
const maxUpdateAttempts = 3

// errUnchanged lets a mutation tell updateCustomer there is nothing to save
var errUnchanged = errors.New("unchanged")

// updateCustomer loads a customer record, applies fn and saves it with the
// loaded version, retrying from a fresh read on conflict. When create is
// non-nil a missing record is created from it.
func updateCustomer(
	ctx context.Context,
	repo repository.Repository,
	email string,
	create func() *models.CustomerRecord,
	fn func(*models.CustomerRecord) error,
) (*models.CustomerRecord, error) {
	for attempt := 1; ; attempt++ {
		rec, err := repo.GetCustomer(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("load customer %s: %w", email, err)
		}
		if rec == nil {
			if create == nil {
				return nil, ErrCustomerNotFound
			}
			rec = create()
		}

		if err := fn(rec); err != nil {
			if errors.Is(err, errUnchanged) {
				return rec, nil
			}
			return nil, err
		}

		err = repo.SaveCustomer(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) || attempt == maxUpdateAttempts {
			return nil, fmt.Errorf("save customer %s: %w", email, err)
		}
	}
}
