package models

import "time"

// OTPPurpose scopes a challenge to the flow that requested it.
type OTPPurpose string

const (
	OTPPurposeLogin  OTPPurpose = "login"
	OTPPurposeSignup OTPPurpose = "signup"
)

// OTPChallenge is a stored one-time password. Only the code hash is persisted.
type OTPChallenge struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	Owner     string     `db:"owner" json:"owner"`
	CodeHash  string     `db:"code_hash" json:"-"`
	Purpose   OTPPurpose `db:"purpose" json:"purpose"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	Used      bool       `db:"used" json:"used"`
	UsedAt    *time.Time `db:"used_at" json:"used_at,omitempty"`
}

// OTPRequest asks for a code to be sent to the account identified by Identifier
// (username or roll number).
type OTPRequest struct {
	Identifier string     `json:"identifier" validate:"required"`
	Purpose    OTPPurpose `json:"purpose" validate:"omitempty,oneof=login signup"`
}

// OTPRequestResponse never carries the code itself.
type OTPRequestResponse struct {
	Destination string    `json:"destination"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// OTPVerifyRequest exchanges a code for tokens.
type OTPVerifyRequest struct {
	Identifier string     `json:"identifier" validate:"required"`
	Code       string     `json:"code" validate:"required,numeric,min=4,max=10"`
	Purpose    OTPPurpose `json:"purpose" validate:"omitempty,oneof=login signup"`
	IP         string     `json:"-"`
	UserAgent  string     `json:"-"`
}
