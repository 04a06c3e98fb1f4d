package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountRepository handles provider-account persistence.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// Upsert creates or updates the (user, provider) account, matched on that
// pair (§3: "Exactly one account per (user, provider)").
func (r *AccountRepository) Upsert(ctx context.Context, a *Account) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	query := `
		INSERT INTO accounts (id, user_id, provider, access_token, refresh_token, expires_at, scope, external_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			scope = EXCLUDED.scope,
			external_id = EXCLUDED.external_id
		RETURNING id
	`
	err := r.pool.QueryRow(ctx, query,
		a.ID, a.UserID, a.Provider, a.AccessToken, a.RefreshToken, a.ExpiresAt, a.Scope, a.ExternalID,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("upserting account: %w", err)
	}
	return nil
}

// Get retrieves the account for (user, provider).
func (r *AccountRepository) Get(ctx context.Context, userID uuid.UUID, provider Provider) (*Account, error) {
	query := `
		SELECT id, user_id, provider, access_token, refresh_token, expires_at, scope, external_id
		FROM accounts WHERE user_id = $1 AND provider = $2
	`
	var a Account
	err := r.pool.QueryRow(ctx, query, userID, provider).Scan(
		&a.ID, &a.UserID, &a.Provider, &a.AccessToken, &a.RefreshToken, &a.ExpiresAt, &a.Scope, &a.ExternalID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return &a, nil
}

// ListEligible returns every account for a provider, for the fast/slow
// loops to iterate sequentially (§5: "iterates eligible accounts
// sequentially per cycle").
func (r *AccountRepository) ListEligible(ctx context.Context, provider Provider) ([]Account, error) {
	query := `
		SELECT id, user_id, provider, access_token, refresh_token, expires_at, scope, external_id
		FROM accounts WHERE provider = $1 ORDER BY user_id
	`
	rows, err := r.pool.Query(ctx, query, provider)
	if err != nil {
		return nil, fmt.Errorf("querying eligible accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Provider, &a.AccessToken, &a.RefreshToken, &a.ExpiresAt, &a.Scope, &a.ExternalID); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetByExternalID finds the account linking a provider's external user id
// to a local user, used at OAuth callback time to recognize a returning
// user before a user_id is known.
func (r *AccountRepository) GetByExternalID(ctx context.Context, provider Provider, externalID string) (*Account, error) {
	query := `
		SELECT id, user_id, provider, access_token, refresh_token, expires_at, scope, external_id
		FROM accounts WHERE provider = $1 AND external_id = $2
	`
	var a Account
	err := r.pool.QueryRow(ctx, query, provider, externalID).Scan(
		&a.ID, &a.UserID, &a.Provider, &a.AccessToken, &a.RefreshToken, &a.ExpiresAt, &a.Scope, &a.ExternalID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account by external id: %w", err)
	}
	return &a, nil
}

// UpdateTokens persists a refreshed access/refresh token pair and new
// absolute expiry (§4.H).
func (r *AccountRepository) UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
		UPDATE accounts SET access_token = $2, refresh_token = $3, expires_at = $4
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("updating account tokens: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
