package verification

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curafile/curafile/internal/platform/db"
)

// queryable abstracts pgxpool.Pool and pgx.Tx.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// -- One-time codes --

type otpRepoPG struct {
	pool *pgxpool.Pool
}

func NewOTPRepo(pool *pgxpool.Pool) OTPRepository {
	return &otpRepoPG{pool: pool}
}

func (r *otpRepoPG) conn(ctx context.Context) queryable {
	return connFor(ctx, r.pool)
}

func (r *otpRepoPG) InvalidateOutstanding(ctx context.Context, email string, purpose Purpose) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE otp_codes SET verified = TRUE
		WHERE email = $1 AND purpose = $2 AND NOT verified`,
		email, purpose)
	return err
}

func (r *otpRepoPG) Create(ctx context.Context, c *OTPCode) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO otp_codes (id, email, code, purpose, expires_at, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)`,
		c.ID, c.Email, c.Code, c.Purpose, c.ExpiresAt, c.CreatedAt)
	return err
}

func (r *otpRepoPG) Consume(ctx context.Context, email, code string, purpose Purpose, now time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE otp_codes SET verified = TRUE, verified_at = $4
		WHERE email = $1 AND code = $2 AND purpose = $3
		  AND NOT verified AND expires_at >= $4`,
		email, code, purpose, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *otpRepoPG) HasVerified(ctx context.Context, email string, purpose Purpose) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM otp_codes
			WHERE email = $1 AND purpose = $2 AND verified_at IS NOT NULL
		)`, email, purpose).Scan(&ok)
	return ok, err
}

// -- Password reset tokens --

type resetTokenRepoPG struct {
	pool *pgxpool.Pool
}

func NewResetTokenRepo(pool *pgxpool.Pool) ResetTokenRepository {
	return &resetTokenRepoPG{pool: pool}
}

func (r *resetTokenRepoPG) conn(ctx context.Context) queryable {
	return connFor(ctx, r.pool)
}

func (r *resetTokenRepoPG) ExpireOutstanding(ctx context.Context, email string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE password_reset_tokens SET expires_at = to_timestamp(0)
		WHERE email = $1 AND NOT used`, email)
	return err
}

func (r *resetTokenRepoPG) Create(ctx context.Context, t *ResetToken) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO password_reset_tokens (id, token_hash, email, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)`,
		t.ID, t.TokenHash, t.Email, t.ExpiresAt, t.CreatedAt)
	return err
}

func (r *resetTokenRepoPG) GetByHash(ctx context.Context, tokenHash string) (*ResetToken, error) {
	var t ResetToken
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, token_hash, email, expires_at, used, used_at, created_at
		FROM password_reset_tokens WHERE token_hash = $1`, tokenHash).
		Scan(&t.ID, &t.TokenHash, &t.Email, &t.ExpiresAt, &t.Used, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *resetTokenRepoPG) Consume(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	var email string
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE password_reset_tokens SET used = TRUE, used_at = $2
		WHERE token_hash = $1 AND NOT used AND expires_at > $2
		RETURNING email`, tokenHash, now).Scan(&email)
	return email, err
}

func (r *resetTokenRepoPG) MarkUsed(ctx context.Context, tokenHash string, now time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE password_reset_tokens SET used = TRUE, used_at = $2
		WHERE token_hash = $1 AND NOT used`, tokenHash, now)
	return err
}
