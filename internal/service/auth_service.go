package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/kcea-attendance/internal/models"
	"github.com/noah-isme/kcea-attendance/internal/repository"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
)

type authUserRepository interface {
	FindByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, value string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string, revokedAt time.Time) (int64, error)
	PurgeRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuthConfig holds token lifetimes and the HMAC signing secret.
type AuthConfig struct {
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
}

// AuthService handles accounts, password sign-in and the refresh token lifecycle.
// Refresh tokens rotate on every use; presenting one that was already rotated
// away ends every session of its owner.
type AuthService struct {
	repo      authUserRepository
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// NewAuthService wires the service. Nil logger and validator fall back to defaults.
func NewAuthService(repo authUserRepository, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{repo: repo, validator: validate, logger: logger, config: config, now: time.Now}
}

func invalidPayload(err error, what string) *appErrors.Error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid "+what+" payload")
}

func internalErr(err error, msg string) *appErrors.Error {
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
}

// Register creates a student account. Without a password the account can
// only sign in with one-time passwords.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.UserInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "registration")
	}
	department, ok := models.NormalizeDepartment(req.Department)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("department must be one of %s", strings.Join(models.StudentDepartments, ", ")))
	}

	hash, err := hashOptional(req.Password)
	if err != nil {
		return nil, internalErr(err, "failed to hash password")
	}

	roll := strings.ToUpper(strings.TrimSpace(req.RollNumber))
	user := &models.User{
		ID:           uuid.NewString(),
		Username:     strings.ToLower(strings.TrimSpace(req.Username)),
		RollNumber:   &roll,
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		FullName:     strings.TrimSpace(req.FullName),
		Phone:        req.Phone,
		Department:   department,
		Program:      req.Program,
		ClassName:    req.ClassName,
		PasswordHash: hash,
		Role:         models.RoleStudent,
		Active:       true,
	}
	if err := s.create(ctx, user, "username, email or roll number is already registered"); err != nil {
		return nil, err
	}

	writeAudit(ctx, s.repo, s.logger, &models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionRegister,
		Resource:   "user",
		ResourceID: &user.ID,
		NewValues:  auditValues(s.logger, map[string]interface{}{"username": user.Username, "roll_number": roll, "otp_only": hash == ""}),
	})

	info := models.NewUserInfo(user)
	return &info, nil
}

// CreateStaff provisions a teacher or admin account.
func (s *AuthService) CreateStaff(ctx context.Context, req models.CreateStaffRequest) (*models.UserInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "staff")
	}
	hash, err := hashOptional(req.Password)
	if err != nil {
		return nil, internalErr(err, "failed to hash password")
	}
	user := &models.User{
		ID:           uuid.NewString(),
		Username:     strings.ToLower(strings.TrimSpace(req.Username)),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		FullName:     strings.TrimSpace(req.FullName),
		Department:   models.DepartmentAdmin,
		PasswordHash: hash,
		Role:         req.Role,
		Active:       true,
	}
	if err := s.create(ctx, user, "username or email is already registered"); err != nil {
		return nil, err
	}
	writeAudit(ctx, s.repo, s.logger, &models.AuditLog{
		Action:     models.AuditActionStaffCreate,
		Resource:   "user",
		ResourceID: &user.ID,
		NewValues:  auditValues(s.logger, map[string]string{"username": user.Username, "role": string(user.Role)}),
	})
	info := models.NewUserInfo(user)
	return &info, nil
}

func (s *AuthService) create(ctx context.Context, user *models.User, conflictMsg string) error {
	err := s.repo.Create(ctx, user)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrDuplicate):
		return appErrors.Clone(appErrors.ErrConflict, conflictMsg)
	default:
		return internalErr(err, "failed to create user")
	}
}

func hashOptional(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	raw, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Login authenticates by username or roll number.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "login")
	}

	user, err := s.repo.FindByIdentifier(ctx, req.Identifier)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	case err != nil:
		return nil, internalErr(err, "failed to fetch user")
	case !user.Active:
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	case !user.HasPassword():
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "this account signs in with a one-time password")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	return s.IssueTokens(ctx, user, models.AuditActionLogin, req.IP, req.UserAgent)
}

// IssueTokens starts a session for an already authenticated user. Password and
// OTP sign-in both end here.
func (s *AuthService) IssueTokens(ctx context.Context, user *models.User, action, ip, userAgent string) (*models.LoginResponse, error) {
	pair, err := s.issuePair(ctx, user, ip, userAgent)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateLastLogin(ctx, user.ID, pair.IssuedAt); err != nil {
		s.logger.Warn("last login not recorded", zap.String("user_id", user.ID), zap.Error(err))
	}

	writeAudit(ctx, s.repo, s.logger, &models.AuditLog{
		UserID:     &user.ID,
		Action:     action,
		Resource:   "auth",
		ResourceID: &user.ID,
		NewValues:  auditValues(s.logger, map[string]string{"status": "success"}),
		IPAddress:  ip,
		UserAgent:  userAgent,
	})

	return &models.LoginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		IssuedAt:     pair.IssuedAt,
		User:         models.NewUserInfo(user),
	}, nil
}

// RefreshToken rotates a refresh token into a fresh pair.
func (s *AuthService) RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "refresh")
	}

	stored, err := s.lookupRefresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if stored.Revoked {
		s.revokeAll(ctx, stored.UserID, req.IP, req.UserAgent)
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token was already used")
	}
	if now.After(stored.ExpiresAt) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token has expired")
	}

	user, err := s.repo.FindByID(ctx, stored.UserID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "account no longer exists")
	case err != nil:
		return nil, internalErr(err, "failed to load user")
	case !user.Active:
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	if err := s.repo.RevokeRefreshToken(ctx, stored.ID, now); err != nil {
		return nil, internalErr(err, "failed to rotate refresh token")
	}
	return s.issuePair(ctx, user, req.IP, req.UserAgent)
}

// Logout ends the session behind a refresh token owned by the caller.
func (s *AuthService) Logout(ctx context.Context, principal models.Principal, req models.LogoutRequest, ip, userAgent string) error {
	if err := s.validator.Struct(req); err != nil {
		return invalidPayload(err, "logout")
	}
	stored, err := s.lookupRefresh(ctx, req.RefreshToken)
	if err != nil {
		return err
	}
	if stored.UserID != principal.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "token does not belong to user")
	}
	if err := s.repo.RevokeRefreshToken(ctx, stored.ID, s.now().UTC()); err != nil {
		return internalErr(err, "failed to revoke refresh token")
	}

	userID := principal.UserID
	writeAudit(ctx, s.repo, s.logger, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionLogout,
		Resource:   "auth",
		ResourceID: &userID,
		IPAddress:  ip,
		UserAgent:  userAgent,
	})
	return nil
}

// ChangePassword sets a new password and signs the user out everywhere.
// OTP-only accounts may set their first password without an old one.
func (s *AuthService) ChangePassword(ctx context.Context, principal models.Principal, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return invalidPayload(err, "change password")
	}

	user, err := s.repo.FindByID(ctx, principal.UserID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "user not found")
	case err != nil:
		return internalErr(err, "failed to load user")
	}
	if user.HasPassword() && bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)) != nil {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	hash, err := hashOptional(req.NewPassword)
	if err != nil {
		return internalErr(err, "failed to hash password")
	}
	now := s.now().UTC()
	if err := s.repo.UpdatePassword(ctx, user.ID, hash, now); err != nil {
		return internalErr(err, "failed to update password")
	}
	ended, err := s.repo.RevokeUserRefreshTokens(ctx, user.ID, now)
	if err != nil {
		s.logger.Warn("sessions not revoked after password change", zap.String("user_id", user.ID), zap.Error(err))
	}

	writeAudit(ctx, s.repo, s.logger, &models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionPasswordSet,
		Resource:   "auth",
		ResourceID: &user.ID,
		NewValues:  auditValues(s.logger, map[string]int64{"sessions_ended": ended}),
	})
	return nil
}

// PurgeExpiredSessions drops refresh tokens past their expiry.
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) error {
	n, err := s.repo.PurgeRefreshTokens(ctx, s.now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Debug("expired refresh tokens purged", zap.Int64("count", n))
	}
	return nil
}

// ValidateToken verifies an HS256 access token and returns its claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	claims := &models.JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.config.AccessTokenSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	if !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

func (s *AuthService) lookupRefresh(ctx context.Context, value string) (*models.RefreshToken, error) {
	stored, err := s.repo.FindRefreshToken(ctx, value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not found")
	case err != nil:
		return nil, internalErr(err, "failed to load refresh token")
	}
	return stored, nil
}

// revokeAll ends every session of a user whose rotated token was replayed.
func (s *AuthService) revokeAll(ctx context.Context, userID, ip, userAgent string) {
	n, err := s.repo.RevokeUserRefreshTokens(ctx, userID, s.now().UTC())
	if err != nil {
		s.logger.Error("failed to revoke sessions after token reuse", zap.String("user_id", userID), zap.Error(err))
		return
	}
	s.logger.Warn("refresh token reuse detected", zap.String("user_id", userID), zap.Int64("sessions_ended", n))
	writeAudit(ctx, s.repo, s.logger, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionTokenReuse,
		Resource:   "auth",
		ResourceID: &userID,
		NewValues:  auditValues(s.logger, map[string]int64{"sessions_ended": n}),
		IPAddress:  ip,
		UserAgent:  userAgent,
	})
}

func (s *AuthService) issuePair(ctx context.Context, user *models.User, ip, userAgent string) (*models.RefreshTokenResponse, error) {
	issuedAt := s.now().UTC()
	access, err := s.signAccessToken(user, issuedAt)
	if err != nil {
		return nil, internalErr(err, "failed to sign access token")
	}

	value, err := randomToken()
	if err != nil {
		return nil, internalErr(err, "failed to create refresh token")
	}
	refresh := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Token:     value,
		ExpiresAt: issuedAt.Add(s.config.RefreshTokenExpiry),
		CreatedAt: issuedAt,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.repo.CreateRefreshToken(ctx, refresh); err != nil {
		return nil, internalErr(err, "failed to persist refresh token")
	}

	return &models.RefreshTokenResponse{
		AccessToken:  access,
		RefreshToken: value,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     issuedAt,
	}, nil
}

func (s *AuthService) signAccessToken(user *models.User, issuedAt time.Time) (string, error) {
	claims := &models.JWTClaims{
		UserID:   user.ID,
		Role:     user.Role,
		Username: user.Username,
		FullName: user.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.AccessTokenExpiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessTokenSecret))
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
