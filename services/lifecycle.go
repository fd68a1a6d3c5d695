package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/visaprep/backend/models"
	"github.com/visaprep/backend/repository"
)

const (
	DefaultMaxTurns  = 20
	DefaultStartCost = 2
)

type StartResult struct {
	SessionID        string `json:"sessionId"`
	RemainingCredits int    `json:"remainingCredits"`
	Reused           bool   `json:"reused"`
}

type ResumeResult struct {
	Session   *models.Session `json:"session"`
	Turns     []models.Turn   `json:"turns"`
	CanResume bool            `json:"canResume"`
}

// LifecycleManager starts, resumes and lists interview sessions.
type LifecycleManager struct {
	store     SessionStore
	ledger    CreditLedger
	maxTurns  int
	startCost int
	now       func() time.Time
}

func NewLifecycleManager(store SessionStore, ledger CreditLedger, maxTurns, startCost int) *LifecycleManager {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if startCost <= 0 {
		startCost = DefaultStartCost
	}
	return &LifecycleManager{
		store:     store,
		ledger:    ledger,
		maxTurns:  maxTurns,
		startCost: startCost,
		now:       time.Now,
	}
}

// Start reuses the user's active session when there is one; otherwise it
// debits the start cost and opens a new session.
func (m *LifecycleManager) Start(ctx context.Context, userID string) (*StartResult, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}

	active, err := m.store.FindActiveSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to look up active session: %w", ErrInternal, err)
	}
	if active != nil {
		return m.reuse(ctx, active)
	}

	remaining, err := m.ledger.Debit(ctx, userID, m.startCost)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientCredits) {
			return nil, ErrInsufficientCredits
		}
		return nil, fmt.Errorf("%w: failed to debit credits: %w", ErrInternal, err)
	}

	session := &models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    models.SessionStatusActive,
		MaxTurns:  m.maxTurns,
		StartedAt: m.now().UTC(),
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		refunded := m.refund(ctx, userID)
		if errors.Is(err, repository.ErrActiveSessionExists) {
			active, findErr := m.store.FindActiveSession(ctx, userID)
			if findErr == nil && active != nil {
				return m.reuse(ctx, active)
			}
		}
		if !refunded {
			slog.Error("Credits debited for a session that was never created", "user_id", userID, "amount", m.startCost)
		}
		return nil, fmt.Errorf("%w: failed to create session: %w", ErrInternal, err)
	}

	slog.Info("Mock interview started", "session_id", session.ID, "user_id", userID, "remaining_credits", remaining)
	return &StartResult{SessionID: session.ID, RemainingCredits: remaining}, nil
}

func (m *LifecycleManager) reuse(ctx context.Context, session *models.Session) (*StartResult, error) {
	if session.MaxTurns < m.maxTurns {
		maxTurns := m.maxTurns
		if _, err := m.store.UpdateSession(ctx, session.ID, session.UserID, repository.SessionUpdate{
			MaxTurns:     &maxTurns,
			OnlyIfActive: true,
		}); err != nil {
			slog.Warn("Failed to raise session max turns", "error", err, "session_id", session.ID)
		}
	}

	balance, err := m.ledger.Balance(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read credit balance: %w", ErrInternal, err)
	}

	slog.Info("Reusing active mock interview", "session_id", session.ID, "user_id", session.UserID)
	return &StartResult{SessionID: session.ID, RemainingCredits: balance, Reused: true}, nil
}

func (m *LifecycleManager) refund(ctx context.Context, userID string) bool {
	if _, err := m.ledger.Credit(ctx, userID, m.startCost); err != nil {
		slog.Error("Failed to refund interview credits", "error", err, "user_id", userID, "amount", m.startCost)
		return false
	}
	return true
}

// Resume returns the session with its turns so a client can pick it up again.
func (m *LifecycleManager) Resume(ctx context.Context, sessionID, userID string) (*ResumeResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", ErrInvalidRequest)
	}

	session, err := m.store.GetSession(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load session: %w", ErrInternal, err)
	}
	if session == nil {
		return nil, ErrNotFound
	}

	turns, err := m.store.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load turns: %w", ErrInternal, err)
	}
	if turns == nil {
		turns = []models.Turn{}
	}

	return &ResumeResult{Session: session, Turns: turns, CanResume: session.CanResume()}, nil
}

func (m *LifecycleManager) List(ctx context.Context, userID string) ([]models.Session, error) {
	sessions, err := m.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list sessions: %w", ErrInternal, err)
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	return sessions, nil
}
