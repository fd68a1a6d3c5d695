package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/visaprep/backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionUpdate lists the session columns a caller wants to change. Nil
// fields are left untouched.
type SessionUpdate struct {
	Status   *models.SessionStatus
	EndedAt  *time.Time // applied only when ended_at is still empty
	MaxTurns *int

	// OnlyIfActive restricts the update to sessions that are still active.
	OnlyIfActive bool
}

func (r *GORMRepository) CreateSession(ctx context.Context, session *models.Session) error {
	// feedback stays SQL NULL until finalization
	if err := r.db.WithContext(ctx).Omit("Feedback").Create(session).Error; err != nil {
		if name, ok := uniqueConstraint(err); ok && name == activeSessionIndex {
			return ErrActiveSessionExists
		}
		slog.Error("Failed to create session", "error", err, "user_id", session.UserID)
		return err
	}
	slog.Info("Session created", "session_id", session.ID, "user_id", session.UserID)
	return nil
}

// GetSession returns the session only when it belongs to userID.
func (r *GORMRepository) GetSession(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", sessionID, userID).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get session", "error", err, "session_id", sessionID, "user_id", userID)
		return nil, err
	}
	return &session, nil
}

func (r *GORMRepository) FindActiveSession(ctx context.Context, userID string) (*models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.SessionStatusActive).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to find active session", "error", err, "user_id", userID)
		return nil, err
	}
	return &session, nil
}

func (r *GORMRepository) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		slog.Error("Failed to list sessions", "error", err, "user_id", userID)
		return nil, err
	}
	return sessions, nil
}

// UpdateSession applies upd and reports whether a row was changed.
func (r *GORMRepository) UpdateSession(ctx context.Context, sessionID, userID string, upd SessionUpdate) (bool, error) {
	values := map[string]interface{}{}
	if upd.Status != nil {
		values["status"] = *upd.Status
	}
	if upd.EndedAt != nil {
		values["ended_at"] = gorm.Expr("COALESCE(ended_at, ?)", *upd.EndedAt)
	}
	if upd.MaxTurns != nil {
		values["max_turns"] = *upd.MaxTurns
	}
	if len(values) == 0 {
		return false, nil
	}

	query := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND user_id = ?", sessionID, userID)
	if upd.OnlyIfActive {
		query = query.Where("status = ?", models.SessionStatusActive)
	}

	result := query.Updates(values)
	if result.Error != nil {
		slog.Error("Failed to update session", "error", result.Error, "session_id", sessionID)
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SaveFeedback attaches feedback and completes the session, setting
// total_turns to the count the feedback was built from. Only the first writer
// wins: it reports false when the session already carries feedback, has been
// abandoned, or took another turn after the transcript was read.
func (r *GORMRepository) SaveFeedback(ctx context.Context, sessionID, userID string, feedback *models.Feedback) (bool, error) {
	payload, err := json.Marshal(feedback)
	if err != nil {
		return false, fmt.Errorf("failed to encode feedback: %w", err)
	}

	result := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND user_id = ? AND feedback IS NULL AND status IN ? AND total_turns <= ?", sessionID, userID,
			[]models.SessionStatus{models.SessionStatusActive, models.SessionStatusCompleted}, feedback.TotalTurns).
		Updates(map[string]interface{}{
			"status":      models.SessionStatusCompleted,
			"ended_at":    gorm.Expr("COALESCE(ended_at, ?)", feedback.EndedAt),
			"total_turns": feedback.TotalTurns,
			"feedback":    string(payload),
		})
	if result.Error != nil {
		slog.Error("Failed to save feedback", "error", result.Error, "session_id", sessionID)
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkStaleSessionsAbandoned flips active sessions untouched since cutoff to abandoned.
func (r *GORMRepository) MarkStaleSessionsAbandoned(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("status = ? AND updated_at < ?", models.SessionStatusActive, cutoff).
		Update("status", models.SessionStatusAbandoned)
	if result.Error != nil {
		slog.Error("Failed to mark stale sessions abandoned", "error", result.Error)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// InsertTurn appends turn and advances the session counter in one
// transaction. The session row is locked first and the turn is accepted only
// while the session is active and turn.TurnNo directly follows total_turns.
func (r *GORMRepository) InsertTurn(ctx context.Context, turn *models.Turn) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.Session
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "status", "max_turns", "total_turns").
			Where("id = ?", turn.SessionID).
			First(&session).Error
		if err != nil {
			return err
		}
		if session.Status != models.SessionStatusActive ||
			session.TotalTurns != turn.TurnNo-1 ||
			turn.TurnNo > session.MaxTurns {
			return ErrTurnConflict
		}

		if err := tx.Create(turn).Error; err != nil {
			return turnInsertError(err)
		}

		return tx.Model(&models.Session{}).
			Where("id = ?", turn.SessionID).
			Update("total_turns", turn.TurnNo).Error
	})
	if err != nil && !errors.Is(err, ErrTurnConflict) && !errors.Is(err, ErrDuplicateTurnToken) {
		slog.Error("Failed to insert turn", "error", err, "session_id", turn.SessionID, "turn_no", turn.TurnNo)
	}
	return err
}

func (r *GORMRepository) ListTurns(ctx context.Context, sessionID string) ([]models.Turn, error) {
	var turns []models.Turn
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("turn_no ASC").Find(&turns).Error
	if err != nil {
		slog.Error("Failed to list turns", "error", err, "session_id", sessionID)
		return nil, err
	}
	return turns, nil
}

func (r *GORMRepository) FindTurnByToken(ctx context.Context, sessionID, token string) (*models.Turn, error) {
	var turn models.Turn
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND client_turn_token = ?", sessionID, token).
		First(&turn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to find turn by token", "error", err, "session_id", sessionID)
		return nil, err
	}
	return &turn, nil
}
