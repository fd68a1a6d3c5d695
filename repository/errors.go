package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrInsufficientCredits is returned by Debit when the balance cannot cover the amount.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrTurnConflict means the session counter moved (or the session closed)
	// between reading it and inserting the next turn.
	ErrTurnConflict = errors.New("turn number conflict")
	// ErrDuplicateTurnToken means a turn with the same client token already exists.
	ErrDuplicateTurnToken = errors.New("duplicate client turn token")
	// ErrActiveSessionExists means the user already has an active session.
	ErrActiveSessionExists = errors.New("active session already exists")
)

const (
	uniqueViolation = "23505"

	turnNoIndex        = "idx_turn_session_no"
	turnTokenIndex     = "idx_turn_session_token"
	activeSessionIndex = "idx_one_active_session_per_user"
)

// uniqueConstraint returns the violated constraint name when err is a
// postgres unique violation.
func uniqueConstraint(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// turnInsertError maps a unique violation on the turns table to the matching
// sentinel and passes any other error through.
func turnInsertError(err error) error {
	name, ok := uniqueConstraint(err)
	if !ok {
		return err
	}
	switch name {
	case turnTokenIndex:
		return ErrDuplicateTurnToken
	case turnNoIndex:
		return ErrTurnConflict
	}
	return err
}
