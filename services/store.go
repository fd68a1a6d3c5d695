package services

import (
	"context"

	"github.com/visaprep/backend/models"
	"github.com/visaprep/backend/repository"
)

// SessionStore is the persistence the interview services need. Reads are
// scoped by (session, user) and return nil, nil when nothing matches.
// *repository.GORMRepository implements it.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID, userID string) (*models.Session, error)
	FindActiveSession(ctx context.Context, userID string) (*models.Session, error)
	ListSessions(ctx context.Context, userID string) ([]models.Session, error)
	CreateSession(ctx context.Context, session *models.Session) error
	UpdateSession(ctx context.Context, sessionID, userID string, upd repository.SessionUpdate) (bool, error)
	SaveFeedback(ctx context.Context, sessionID, userID string, feedback *models.Feedback) (bool, error)

	InsertTurn(ctx context.Context, turn *models.Turn) error
	ListTurns(ctx context.Context, sessionID string) ([]models.Turn, error)
	FindTurnByToken(ctx context.Context, sessionID, token string) (*models.Turn, error)
}

// CreditLedger holds interview credits.
type CreditLedger interface {
	Debit(ctx context.Context, userID string, amount int) (int, error)
	Credit(ctx context.Context, userID string, amount int) (int, error)
	Balance(ctx context.Context, userID string) (int, error)
}

var (
	_ SessionStore = (*repository.GORMRepository)(nil)
	_ CreditLedger = (*repository.GORMRepository)(nil)
)
