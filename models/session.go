package models

import (
	"time"
)

type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusAbandoned SessionStatus = "abandoned"
)

// Session is one mock visa interview. Rows are never deleted; once the status
// leaves active, TotalTurns and Feedback no longer change (Feedback may still
// be attached once to a completed session that has none).
type Session struct {
	ID         string        `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID     string        `gorm:"type:uuid;not null;index" json:"user_id"`
	Status     SessionStatus `gorm:"not null;default:'active';check:status IN ('active', 'completed', 'abandoned')" json:"status"`
	MaxTurns   int           `gorm:"not null;default:20;check:max_turns > 0" json:"max_turns"`
	TotalTurns int           `gorm:"not null;default:0;check:total_turns >= 0" json:"total_turns"`
	Feedback   *Feedback     `gorm:"type:jsonb;serializer:json" json:"feedback,omitempty"`
	StartedAt  time.Time     `gorm:"not null" json:"started_at"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `gorm:"index" json:"updated_at"`

	// Relationships
	Turns []Turn `gorm:"foreignKey:SessionID" json:"turns,omitempty"`
}

func (Session) TableName() string {
	return "visa_mock_sessions"
}

// CanResume reports whether the client may keep submitting turns.
func (s *Session) CanResume() bool {
	return s.Status == SessionStatusActive && s.TotalTurns < s.MaxTurns
}

// Turn is one exchange: the candidate's answer and the officer line that
// followed it. Turns are immutable once written.
type Turn struct {
	ID              string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SessionID       string    `gorm:"type:uuid;not null;uniqueIndex:idx_turn_session_no,priority:1;uniqueIndex:idx_turn_session_token,priority:1" json:"session_id"`
	TurnNo          int       `gorm:"not null;uniqueIndex:idx_turn_session_no,priority:2" json:"turn_no"`
	UserText        string    `gorm:"type:text" json:"user_text"`
	AIText          string    `gorm:"column:ai_text;type:text;not null" json:"ai_text"`
	QuestionKey     string    `gorm:"size:64;not null" json:"question_key"`
	ClientTurnToken string    `gorm:"size:128;not null;uniqueIndex:idx_turn_session_token,priority:2" json:"client_turn_token"`
	CreatedAt       time.Time `json:"created_at"`
}

func (Turn) TableName() string {
	return "visa_mock_turns"
}

// Feedback is the end-of-interview evaluation stored on the session.
type Feedback struct {
	Overall        string    `json:"overall"`
	Strengths      []string  `json:"strengths"`
	Improvements   []string  `json:"improvements"`
	ExampleRewrite string    `json:"example_rewrite"`
	Raw            string    `json:"raw,omitempty"` // model output kept when it was not valid JSON
	TotalTurns     int       `json:"total_turns"`
	EndedAt        time.Time `json:"ended_at"`
}
