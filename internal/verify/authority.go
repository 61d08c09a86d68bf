package verify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// PGCodeAuthority stores one-time codes in postgres. Codes are kept as
// bcrypt hashes with an expiry; a code redeems at most once. Reissuing for
// the same challenge replaces the previous code.
type PGCodeAuthority struct {
	pool *pgxpool.Pool
}

// NewPGCodeAuthority constructs the authority.
func NewPGCodeAuthority(pool *pgxpool.Pool) *PGCodeAuthority {
	return &PGCodeAuthority{pool: pool}
}

// Issue stores a fresh code for the challenge, replacing any earlier one.
func (a *PGCodeAuthority) Issue(ctx context.Context, challengeID uuid.UUID, code string, expiresAt time.Time) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = a.pool.Exec(ctx, `INSERT INTO verification_codes (challenge_id, code_hash, expires_at, created_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (challenge_id) DO UPDATE SET code_hash = EXCLUDED.code_hash, expires_at = EXCLUDED.expires_at, used_at = NULL`,
		challengeID, string(hash), expiresAt)
	return err
}

// Redeem consumes the challenge's code. Wrong, expired, unknown, and
// already-used codes all map to ErrCodeInvalid; the caller learns nothing
// beyond "invalid".
func (a *PGCodeAuthority) Redeem(ctx context.Context, challengeID uuid.UUID, code string) error {
	var (
		hash      string
		expiresAt time.Time
		usedAt    *time.Time
	)
	err := a.pool.QueryRow(ctx, `SELECT code_hash, expires_at, used_at FROM verification_codes WHERE challenge_id = $1`,
		challengeID).Scan(&hash, &expiresAt, &usedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCodeInvalid
		}
		return err
	}
	if usedAt != nil || time.Now().After(expiresAt) {
		return ErrCodeInvalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)); err != nil {
		return ErrCodeInvalid
	}
	_, err = a.pool.Exec(ctx, `UPDATE verification_codes SET used_at = NOW() WHERE challenge_id = $1`, challengeID)
	return err
}
