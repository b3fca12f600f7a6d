package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/statlinehq/statline-auth/internal/domain"
)

// PostgresSessionRepository implements SessionRepository using PostgreSQL
type PostgresSessionRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSessionRepository creates a new PostgresSessionRepository
func NewPostgresSessionRepository(pool *pgxpool.Pool) *PostgresSessionRepository {
	return &PostgresSessionRepository{pool: pool}
}

// Create inserts a new session
func (r *PostgresSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO sessions (session_id, user_id, refresh_token_hash, device_fingerprint, ip_address, user_agent, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.RefreshTokenHash,
		session.DeviceFingerprint,
		session.IPAddress,
		session.UserAgent,
		session.ExpiresAt,
		session.CreatedAt,
		session.UpdatedAt,
	)
	return err
}

// FindByID retrieves a session by ID
func (r *PostgresSessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	query := `
		SELECT session_id, user_id, refresh_token_hash, device_fingerprint, ip_address, user_agent, expires_at, created_at, updated_at
		FROM sessions
		WHERE session_id = $1
	`
	session := &domain.Session{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&session.ID,
		&session.UserID,
		&session.RefreshTokenHash,
		&session.DeviceFingerprint,
		&session.IPAddress,
		&session.UserAgent,
		&session.ExpiresAt,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// RotateRefreshHash swaps the refresh token hash in a compare-and-swap.
// The old hash in the WHERE clause makes concurrent rotations of the same
// session mutually exclusive; the loser sees zero rows.
func (r *PostgresSessionRepository) RotateRefreshHash(ctx context.Context, sessionID, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE sessions
		SET refresh_token_hash = $3, expires_at = $4, updated_at = $5
		WHERE session_id = $1 AND refresh_token_hash = $2
	`
	tag, err := r.pool.Exec(ctx, query, sessionID, oldHash, newHash, expiresAt, time.Now())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes a session; deleting an absent session is not an error
func (r *PostgresSessionRepository) Delete(ctx context.Context, id string) error {
	query := `
		DELETE FROM sessions
		WHERE session_id = $1
	`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// DeleteByUserID removes every session of a user
func (r *PostgresSessionRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	query := `
		DELETE FROM sessions
		WHERE user_id = $1
	`
	tag, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes sessions past their expiry
func (r *PostgresSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM sessions
		WHERE expires_at < $1
	`
	tag, err := r.pool.Exec(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Ensure PostgresSessionRepository implements SessionRepository
var _ SessionRepository = (*PostgresSessionRepository)(nil)
