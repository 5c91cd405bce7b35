package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RegisterRequest is the student self-registration payload. Password may be
// empty, in which case the account signs in with one-time passwords only.
type RegisterRequest struct {
	Username   string `json:"username" validate:"required,min=3,max=64"`
	RollNumber string `json:"roll_number" validate:"required,min=4,max=32,alphanum"`
	FullName   string `json:"full_name" validate:"required,min=2,max=255"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone" validate:"required,len=10,numeric"`
	Department string `json:"department" validate:"required"`
	Program    string `json:"program" validate:"omitempty,max=64"`
	ClassName  string `json:"class_name" validate:"omitempty,max=64"`
	Password   string `json:"password" validate:"omitempty,min=6"`
}

// LoginRequest holds credentials for authenticating a user. Identifier is a
// username or a roll number.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
	IP         string `json:"-"`
	UserAgent  string `json:"-"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         UserInfo  `json:"user"`
	IssuedAt     time.Time `json:"issued_at"`
}

// RefreshTokenRequest exchanges a refresh token for a new access token.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// RefreshTokenResponse returns the refreshed tokens.
type RefreshTokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// LogoutRequest revokes a refresh token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID         string   `json:"id"`
	Username   string   `json:"username"`
	RollNumber string   `json:"roll_number,omitempty"`
	Email      string   `json:"email"`
	FullName   string   `json:"full_name"`
	Department string   `json:"department"`
	Role       UserRole `json:"role"`
}

// NewUserInfo projects a user into its public shape.
func NewUserInfo(u *User) UserInfo {
	info := UserInfo{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		FullName:   u.FullName,
		Department: u.Department,
		Role:       u.Role,
	}
	if u.RollNumber != nil {
		info.RollNumber = *u.RollNumber
	}
	return info
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Username string   `json:"username"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller handed to every service operation.
type Principal struct {
	UserID   string
	Role     UserRole
	Username string
}

// PrincipalFromClaims builds a principal from validated token claims.
func PrincipalFromClaims(c *JWTClaims) Principal {
	return Principal{UserID: c.UserID, Role: c.Role, Username: c.Username}
}

// IsStaff reports whether the caller is a teacher or an admin.
func (p Principal) IsStaff() bool {
	return p.Role == RoleTeacher || p.Role == RoleAdmin
}

// RefreshToken represents a persisted refresh token session.
type RefreshToken struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	Token     string     `db:"token" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	Revoked   bool       `db:"revoked" json:"revoked"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	IPAddress string     `db:"ip_address" json:"ip_address"`
	UserAgent string     `db:"user_agent" json:"user_agent"`
}

// ChangePasswordRequest sets a new password. OldPassword is ignored for
// accounts that have never had one.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password" validate:"required,min=6"`
}
