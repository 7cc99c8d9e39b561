package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID         uuid.UUID
	Email      string
	Name       string
	PassHash   []byte
	IsVerified bool
	CreatedAt  time.Time
}

// PendingReset is the reset-token window stored on a user row.
// Token and ExpiresAt are always set and cleared together.
type PendingReset struct {
	Token     string
	ExpiresAt time.Time
}

func (p *PendingReset) Active(now time.Time) bool {
	return p.Token != "" && p.ExpiresAt.After(now)
}

const (
	PurposeEmailVerification = "email_verification"
	PurposePasswordReset     = "password_reset"
)

type Message struct {
	Email   string `json:"to"`
	Link    string `json:"link"`
	Purpose string `json:"purpose"`
}
