package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID        string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Email     string         `gorm:"uniqueIndex;not null" json:"email"`
	Password  string         `gorm:"size:255" json:"-"` // bcrypt hash
	FullName  string         `gorm:"size:255" json:"full_name,omitempty"`
	Role      string         `gorm:"default:'user'" json:"role"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Sessions      []Session      `gorm:"foreignKey:UserID" json:"sessions,omitempty"`
	RefreshTokens []RefreshToken `gorm:"foreignKey:UserID" json:"refresh_tokens,omitempty"`
}

type RefreshToken struct {
	ID        string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID    string    `gorm:"type:uuid;not null;index" json:"user_id"`
	Token     string    `gorm:"uniqueIndex;not null" json:"-"` // sha256 of the issued token
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// CreditBalance is the spendable interview credit count of a user.
type CreditBalance struct {
	UserID    string    `gorm:"type:uuid;primaryKey" json:"user_id"`
	Credits   int       `gorm:"not null;default:0;check:credits >= 0" json:"credits"`
	UpdatedAt time.Time `json:"updated_at"`
}
