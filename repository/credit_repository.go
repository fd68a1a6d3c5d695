package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/visaprep/backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Debit removes amount credits from the user's balance and returns what is
// left. A missing balance row counts as zero credits.
func (r *GORMRepository) Debit(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("invalid debit amount %d", amount)
	}

	var remaining int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var balance models.CreditBalance
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&balance).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInsufficientCredits
		}
		if err != nil {
			return err
		}
		if balance.Credits < amount {
			return ErrInsufficientCredits
		}

		remaining = balance.Credits - amount
		return tx.Model(&models.CreditBalance{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{"credits": remaining, "updated_at": time.Now()}).Error
	})
	if err != nil {
		if !errors.Is(err, ErrInsufficientCredits) {
			slog.Error("Failed to debit credits", "error", err, "user_id", userID, "amount", amount)
		}
		return 0, err
	}

	slog.Info("Credits debited", "user_id", userID, "amount", amount, "remaining", remaining)
	return remaining, nil
}

// Credit adds amount credits, creating the balance row when needed.
func (r *GORMRepository) Credit(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("invalid credit amount %d", amount)
	}

	var balance models.CreditBalance
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"credits":    gorm.Expr("credit_balances.credits + ?", amount),
				"updated_at": time.Now(),
			}),
		}).Create(&models.CreditBalance{UserID: userID, Credits: amount}).Error
		if err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).First(&balance).Error
	})
	if err != nil {
		slog.Error("Failed to credit user", "error", err, "user_id", userID, "amount", amount)
		return 0, err
	}

	slog.Info("Credits added", "user_id", userID, "amount", amount, "balance", balance.Credits)
	return balance.Credits, nil
}

func (r *GORMRepository) Balance(ctx context.Context, userID string) (int, error) {
	var balance models.CreditBalance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		slog.Error("Failed to get credit balance", "error", err, "user_id", userID)
		return 0, err
	}
	return balance.Credits, nil
}
