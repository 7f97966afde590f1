package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curafile/curafile/internal/platform/db"
)

type revocationStorePG struct {
	pool *pgxpool.Pool
}

func NewRevocationStorePG(pool *pgxpool.Pool) RevocationStore {
	return &revocationStorePG{pool: pool}
}

// queryable abstracts pgxpool.Pool and pgx.Tx.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *revocationStorePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func nullableHash(h string) *string {
	if h == "" {
		return nil
	}
	return &h
}

func (r *revocationStorePG) Insert(ctx context.Context, e *RevocationEntry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO token_revocations (id, identity_id, token_hash, reason, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (token_hash) DO NOTHING`,
		e.ID, e.IdentityID, nullableHash(e.TokenHash), e.Reason, e.CreatedAt, e.ExpiresAt,
	)
	return err
}

func (r *revocationStorePG) Revoked(ctx context.Context, tokenHash string, identityID uuid.UUID, issuedAt time.Time) (bool, error) {
	var revoked bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM token_revocations WHERE token_hash = $1
		) OR EXISTS (
			SELECT 1 FROM token_revocations
			WHERE token_hash IS NULL AND identity_id = $2 AND created_at >= $3
		)`,
		tokenHash, identityID, issuedAt,
	).Scan(&revoked)
	return revoked, err
}

func (r *revocationStorePG) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM token_revocations WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
