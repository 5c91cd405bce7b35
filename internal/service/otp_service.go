package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/kcea-attendance/internal/models"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
	"github.com/noah-isme/kcea-attendance/pkg/notify"
)

type otpRepository interface {
	Create(ctx context.Context, challenge *models.OTPChallenge) error
	FindLatestUnused(ctx context.Context, owner string, purpose models.OTPPurpose) (*models.OTPChallenge, error)
	Consume(ctx context.Context, id string, usedAt time.Time) (bool, error)
	InvalidateOwner(ctx context.Context, owner string, purpose models.OTPPurpose, at time.Time) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type otpUserLookup interface {
	FindByIdentifier(ctx context.Context, identifier string) (*models.User, error)
}

type tokenIssuer interface {
	IssueTokens(ctx context.Context, user *models.User, action, ip, userAgent string) (*models.LoginResponse, error)
}

// OTPConfig tunes challenge generation.
type OTPConfig struct {
	TTL    time.Duration
	Length int
}

// OTPService issues and verifies one-time passwords delivered out of band.
type OTPService struct {
	repo      otpRepository
	users     otpUserLookup
	tokens    tokenIssuer
	sender    notify.Sender
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    OTPConfig
	now       func() time.Time
}

// NewOTPService constructs an OTPService.
func NewOTPService(repo otpRepository, users otpUserLookup, tokens tokenIssuer, sender notify.Sender, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config OTPConfig) *OTPService {
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}
	if config.Length < 4 || config.Length > 10 {
		config.Length = 6
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OTPService{repo: repo, users: users, tokens: tokens, sender: sender, metrics: metrics, validator: validate, logger: logger, config: config, now: systemClock}
}

// Request generates a code for the account and sends it to the account's
// email. The code is never part of the response.
func (s *OTPService) Request(ctx context.Context, req models.OTPRequest) (*models.OTPRequestResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid otp request")
	}
	purpose := req.Purpose
	if purpose == "" {
		purpose = models.OTPPurposeLogin
	}

	user, err := s.users.FindByIdentifier(ctx, req.Identifier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordOTP("request", "unknown_user")
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no account matches that username or roll number")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	code, err := generateNumericCode(s.config.Length)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate code")
	}

	now := s.now().UTC()
	if err := s.repo.InvalidateOwner(ctx, user.Username, purpose, now); err != nil {
		s.logger.Warn("failed to invalidate previous challenges", zap.String("owner", user.Username), zap.Error(err))
	}
	challenge := &models.OTPChallenge{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Owner:     user.Username,
		CodeHash:  hashCode(user.Username, code),
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.TTL),
	}
	if err := s.repo.Create(ctx, challenge); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store challenge")
	}

	minutes := int(s.config.TTL.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	msg := notify.Message{
		To:      user.Email,
		Name:    user.FullName,
		Subject: "Your KCEA attendance sign-in code",
		Text:    fmt.Sprintf("Your one-time code is %s. It expires in %d minutes.", code, minutes),
		HTML:    fmt.Sprintf("<p>Your one-time code is <strong>%s</strong>.</p><p>It expires in %d minutes.</p>", code, minutes),
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		s.metrics.RecordOTP("request", "delivery_failed")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deliver one-time password")
	}
	s.metrics.RecordOTP("request", "sent")
	s.logger.Info("otp issued", zap.String("owner", user.Username), zap.String("purpose", string(purpose)))

	return &models.OTPRequestResponse{Destination: maskEmail(user.Email), ExpiresAt: challenge.ExpiresAt}, nil
}

// Verify consumes a code and returns tokens. Each code is accepted once.
func (s *OTPService) Verify(ctx context.Context, req models.OTPVerifyRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid otp payload")
	}
	purpose := req.Purpose
	if purpose == "" {
		purpose = models.OTPPurposeLogin
	}

	user, err := s.users.FindByIdentifier(ctx, req.Identifier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.reject("unknown_user", appErrors.ErrOTPInvalid)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	challenge, err := s.repo.FindLatestUnused(ctx, user.Username, purpose)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.reject("no_challenge", appErrors.ErrOTPInvalid)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load challenge")
	}

	now := s.now().UTC()
	if now.After(challenge.ExpiresAt) {
		return nil, s.reject("expired", appErrors.ErrOTPExpired)
	}
	if subtle.ConstantTimeCompare([]byte(challenge.CodeHash), []byte(hashCode(user.Username, req.Code))) != 1 {
		return nil, s.reject("mismatch", appErrors.ErrOTPInvalid)
	}

	consumed, err := s.repo.Consume(ctx, challenge.ID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to consume challenge")
	}
	if !consumed {
		return nil, s.reject("reused", appErrors.ErrOTPInvalid)
	}
	s.metrics.RecordOTP("verify", "accepted")

	return s.tokens.IssueTokens(ctx, user, models.AuditActionOTPLogin, req.IP, req.UserAgent)
}

// PurgeExpired deletes challenges that expired before now.
func (s *OTPService) PurgeExpired(ctx context.Context) error {
	n, err := s.repo.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Debug("expired otp challenges purged", zap.Int64("count", n))
	}
	return nil
}

func (s *OTPService) reject(outcome string, err *appErrors.Error) error {
	s.metrics.RecordOTP("verify", outcome)
	return appErrors.Clone(err, "")
}

func generateNumericCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

func hashCode(owner, code string) string {
	sum := sha256.Sum256([]byte(owner + ":" + code))
	return hex.EncodeToString(sum[:])
}

func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	local := email[:at]
	if len(local) <= 2 {
		return local[:1] + "***" + email[at:]
	}
	return local[:1] + strings.Repeat("*", len(local)-2) + local[len(local)-1:] + email[at:]
}
