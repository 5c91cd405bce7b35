package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kcea-attendance/internal/models"
)

// OTPRepository stores one-time password challenges.
type OTPRepository struct {
	db *sqlx.DB
}

// NewOTPRepository constructs an OTPRepository.
func NewOTPRepository(db *sqlx.DB) *OTPRepository {
	return &OTPRepository{db: db}
}

// Create stores a challenge.
func (r *OTPRepository) Create(ctx context.Context, challenge *models.OTPChallenge) error {
	if challenge.ID == "" {
		challenge.ID = uuid.NewString()
	}
	const query = `INSERT INTO otp_challenges (id, user_id, owner, code_hash, purpose, created_at, expires_at, used) VALUES (:id, :user_id, :owner, :code_hash, :purpose, :created_at, :expires_at, :used)`
	if _, err := r.db.NamedExecContext(ctx, query, challenge); err != nil {
		return fmt.Errorf("create otp challenge: %w", err)
	}
	return nil
}

// FindLatestUnused returns the newest unused challenge for owner and purpose.
func (r *OTPRepository) FindLatestUnused(ctx context.Context, owner string, purpose models.OTPPurpose) (*models.OTPChallenge, error) {
	const query = `SELECT id, user_id, owner, code_hash, purpose, created_at, expires_at, used, used_at FROM otp_challenges
WHERE owner = $1 AND purpose = $2 AND used = FALSE ORDER BY created_at DESC LIMIT 1`
	var challenge models.OTPChallenge
	if err := r.db.GetContext(ctx, &challenge, query, owner, purpose); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find otp challenge: %w", err)
	}
	return &challenge, nil
}

// Consume marks a challenge used. It reports false when it was already consumed.
func (r *OTPRepository) Consume(ctx context.Context, id string, usedAt time.Time) (bool, error) {
	const query = `UPDATE otp_challenges SET used = TRUE, used_at = $1 WHERE id = $2 AND used = FALSE`
	res, err := r.db.ExecContext(ctx, query, usedAt, id)
	if err != nil {
		return false, fmt.Errorf("consume otp challenge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume otp rows: %w", err)
	}
	return n > 0, nil
}

// InvalidateOwner retires every outstanding challenge for owner and purpose.
func (r *OTPRepository) InvalidateOwner(ctx context.Context, owner string, purpose models.OTPPurpose, at time.Time) error {
	const query = `UPDATE otp_challenges SET used = TRUE, used_at = $1 WHERE owner = $2 AND purpose = $3 AND used = FALSE`
	if _, err := r.db.ExecContext(ctx, query, at, owner, purpose); err != nil {
		return fmt.Errorf("invalidate otp challenges: %w", err)
	}
	return nil
}

// DeleteExpired purges challenges that expired before cutoff.
func (r *OTPRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM otp_challenges WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired otp challenges: %w", err)
	}
	return res.RowsAffected()
}
