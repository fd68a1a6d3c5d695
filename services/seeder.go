package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/visaprep/backend/models"
	"golang.org/x/crypto/bcrypt"
)

const seedPassword = "password123"

// DatabaseSeeder creates demo accounts for local development.
type DatabaseSeeder struct {
	users   userStore
	ledger  CreditLedger
	credits int
}

func NewDatabaseSeeder(users userStore, ledger CreditLedger, credits int) *DatabaseSeeder {
	return &DatabaseSeeder{users: users, ledger: ledger, credits: credits}
}

// SeedDatabase seeds the database with initial data (idempotent)
func (s *DatabaseSeeder) SeedDatabase(ctx context.Context) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(seedPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	// no admin users
	users := []models.User{
		{Email: "test@example.com", Password: string(hashedPassword), FullName: "Test Student", Role: "user"},
		{Email: "demo@example.com", Password: string(hashedPassword), FullName: "Demo Student", Role: "user"},
	}

	for _, user := range users {
		if err := s.seedUser(ctx, user); err != nil {
			slog.Error("Failed to seed user", "email", user.Email, "error", err)
		}
	}
	return nil
}

// seedUser creates the user and grants credits only on first creation, so
// reruns never top balances up.
func (s *DatabaseSeeder) seedUser(ctx context.Context, user models.User) error {
	existingUser, err := s.users.GetUserByEmail(ctx, user.Email)
	if err != nil {
		return fmt.Errorf("error checking user %s: %w", user.Email, err)
	}
	if existingUser != nil {
		slog.Info("User already exists, skipping", "email", user.Email)
		return nil
	}

	if err := s.users.CreateUser(ctx, &user); err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.Email, err)
	}

	if s.ledger != nil && s.credits > 0 {
		if _, err := s.ledger.Credit(ctx, user.ID, s.credits); err != nil {
			return fmt.Errorf("failed to grant credits to %s: %w", user.Email, err)
		}
	}

	slog.Info("Created user", "email", user.Email, "credits", s.credits)
	return nil
}
