package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sandevgo/chatd/internal/core"
)

type KeysRepo struct {
	db *sql.DB
}

func NewKeysRepo(db *sql.DB) *KeysRepo {
	return &KeysRepo{db: db}
}

func (r *KeysRepo) GetAPIKey(ctx context.Context, userID string, provider core.Provider) (string, bool, error) {
	var key string
	err := r.db.QueryRowContext(ctx,
		`SELECT api_key FROM api_keys WHERE user_id = ? AND provider = ?`, userID, provider).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query api key: %w", err)
	}
	return key, true, nil
}

// SetAPIKey inserts or replaces the key for provider.
func (r *KeysRepo) SetAPIKey(ctx context.Context, userID string, provider core.Provider, key string) error {
	if !provider.Valid() {
		return fmt.Errorf("unknown provider %q: %w", provider, core.ErrInvalidConfiguration)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_keys (user_id, provider, api_key) VALUES (?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET api_key = excluded.api_key`,
		userID, provider, key)
	if err != nil {
		return fmt.Errorf("failed to store api key: %w", err)
	}
	return nil
}

func (r *KeysRepo) DeleteAPIKey(ctx context.Context, userID string, provider core.Provider) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE user_id = ? AND provider = ?`, userID, provider)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *KeysRepo) ListProviders(ctx context.Context, userID string) ([]core.Provider, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT provider FROM api_keys WHERE user_id = ? ORDER BY provider`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query providers: %w", err)
	}
	defer rows.Close()

	providers := []core.Provider{}
	for rows.Next() {
		var p core.Provider
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}
