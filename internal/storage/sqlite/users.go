package sqlite

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sandevgo/chatd/internal/core"
)

type UsersRepo struct {
	db *sql.DB
}

func NewUsersRepo(db *sql.DB) *UsersRepo {
	return &UsersRepo{db: db}
}

// CreateUser registers email and returns the user with a fresh bearer token.
// Only the token hash is stored.
func (r *UsersRepo) CreateUser(ctx context.Context, email string) (core.User, string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return core.User{}, "", fmt.Errorf("email is required")
	}

	token, err := newToken()
	if err != nil {
		return core.User{}, "", err
	}

	u := core.User{ID: uuid.NewString(), Email: email, CreatedAt: time.Now().UTC()}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, token_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, hashToken(token), u.CreatedAt)
	if err != nil {
		return core.User{}, "", fmt.Errorf("failed to insert user: %w", err)
	}
	return u, token, nil
}

// EnsureUser returns the user for email, creating it without a token.
func (r *UsersRepo) EnsureUser(ctx context.Context, email string) (core.User, error) {
	email = normalizeEmail(email)

	u, err := r.GetUserByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.User{}, err
	}

	u = core.User{ID: uuid.NewString(), Email: email, CreatedAt: time.Now().UTC()}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, created_at) VALUES (?, ?, ?) ON CONFLICT(email) DO NOTHING`,
		u.ID, u.Email, u.CreatedAt)
	if err != nil {
		return core.User{}, fmt.Errorf("failed to ensure user: %w", err)
	}
	return r.GetUserByEmail(ctx, email)
}

func (r *UsersRepo) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	return r.scanOne(ctx, `SELECT id, email, created_at FROM users WHERE email = ?`, normalizeEmail(email))
}

func (r *UsersRepo) ResolveToken(ctx context.Context, token string) (core.User, error) {
	if token == "" {
		return core.User{}, core.ErrNotFound
	}
	return r.scanOne(ctx, `SELECT id, email, created_at FROM users WHERE token_hash = ?`, hashToken(token))
}

// RotateToken issues a new token for an existing user.
func (r *UsersRepo) RotateToken(ctx context.Context, email string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE users SET token_hash = ? WHERE email = ?`, hashToken(token), normalizeEmail(email))
	if err != nil {
		return "", fmt.Errorf("failed to rotate token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", core.ErrNotFound
	}
	return token, nil
}

func (r *UsersRepo) scanOne(ctx context.Context, query string, arg any) (core.User, error) {
	var u core.User
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
