package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/models"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/repository"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/utils"
	"golang.org/x/crypto/bcrypt"
)

// SeedAdmin creates the admin account if no user with that email exists.
// It reports whether a user was created.
func SeedAdmin(ctx context.Context, repo repository.Repository, email, password string) (bool, error) {
	email = utils.NormalizeEmail(email)
	if email == "" || password == "" {
		return false, nil
	}

	existing, err := repo.GetUserByEmail(ctx, email)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if existing.Role != models.RoleAdmin {
			return false, fmt.Errorf("user %s exists without the admin role", email)
		}
		return false, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, err
	}

	_, err = repo.CreateUser(ctx, &models.User{
		Email:        email,
		Name:         "Administrator",
		Role:         models.RoleAdmin,
		PasswordHash: string(hash),
	})
	if errors.Is(err, repository.ErrUserExists) {
		return false, nil
	}
	return err == nil, err
}
