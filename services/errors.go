package services

import "errors"

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("session not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrSessionAbandoned    = errors.New("session was abandoned")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInternal            = errors.New("internal error")
)

// Soft outcome codes carried on a done TurnResult.
const (
	CodeSessionCompleted = "SESSION_COMPLETED"
	CodeMaxTurnsReached  = "MAX_TURNS_REACHED"
)
