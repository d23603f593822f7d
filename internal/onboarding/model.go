// Package onboarding collects the display identity a user submits documents
// under and issues the session token that carries it.
//
// The phone OTP in placeholder mode accepts any six digits. It is a UI
// affordance, not a verification; strict mode issues and checks real codes
// but SMS delivery is not wired.
package onboarding

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects how OTP codes are checked.
type Mode string

const (
	ModePlaceholder Mode = "placeholder"
	ModeStrict      Mode = "strict"
)

const (
	DefaultChallengeTTL = 5 * time.Minute
	MaxAttempts         = 5
)

var (
	ErrChallengeNotFound = errors.New("verification code expired or not found")
	ErrInvalidCode       = errors.New("incorrect verification code")
	ErrTooManyAttempts   = errors.New("too many attempts; request a new code")
	ErrPhoneNotVerified  = errors.New("phone number not verified")
)

// FieldError rejects one input field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Challenge is one outstanding OTP.
type Challenge struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	CodeHash  []byte    `json:"codeHash,omitempty"`
	Attempts  int       `json:"attempts"`
	Verified  bool      `json:"verified"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Issued is returned to the client after an OTP request.
type Issued struct {
	ChallengeID string    `json:"challengeId"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Mode        Mode      `json:"mode"`
	// Hint is shown in placeholder mode.
	Hint string `json:"hint,omitempty"`
}

// Profile is the onboarding form.
type Profile struct {
	Name        string `json:"name" validate:"required,min=2,max=80"`
	DateOfBirth string `json:"dateOfBirth" validate:"required,datetime=2006-01-02"`
	Phone       string `json:"phone" validate:"required,len=10,numeric"`
	ChallengeID string `json:"challengeId" validate:"required"`
}

// Session is the issued identity.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
}
