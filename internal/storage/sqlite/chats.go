package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sandevgo/chatd/internal/core"
)

type ChatsRepo struct {
	db *sql.DB
}

func NewChatsRepo(db *sql.DB) *ChatsRepo {
	return &ChatsRepo{db: db}
}

// CreateChat inserts the chat and its leading system message in one transaction.
func (r *ChatsRepo) CreateChat(ctx context.Context, chat core.Chat, system core.Message) (core.Chat, error) {
	if system.Role != core.RoleSystem {
		return core.Chat{}, fmt.Errorf("first message must be a system message, got %s", system.Role)
	}
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}

	system.ChatID = chat.ID

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chats (id, user_id, title, default_model, config, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			chat.ID, chat.UserID, chat.Title, chat.DefaultModel, nullJSON(chat.Config), chat.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert chat: %w", err)
		}
		_, err = insertMessage(ctx, tx, system)
		return err
	})
	if err != nil {
		return core.Chat{}, err
	}
	return chat, nil
}

func (r *ChatsRepo) GetChat(ctx context.Context, userID, chatID string) (core.Chat, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, default_model, config, created_at FROM chats WHERE id = ? AND user_id = ?`,
		chatID, userID)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Chat{}, fmt.Errorf("chat %s: %w", chatID, core.ErrNotFound)
	}
	return c, err
}

func (r *ChatsRepo) ListChats(ctx context.Context, userID string) ([]core.Chat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, title, default_model, config, created_at FROM chats
		 WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := []core.Chat{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func (r *ChatsRepo) UpdateChat(ctx context.Context, chat core.Chat) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE chats SET title = ?, default_model = ?, config = ? WHERE id = ? AND user_id = ?`,
		chat.Title, chat.DefaultModel, nullJSON(chat.Config), chat.ID, chat.UserID)
	if err != nil {
		return fmt.Errorf("failed to update chat: %w", err)
	}
	return expectRow(res, chat.ID)
}

func (r *ChatsRepo) UpdateTitle(ctx context.Context, chatID, title string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chats SET title = ? WHERE id = ?`, title, chatID)
	if err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	return expectRow(res, chatID)
}

// DeleteChat removes the chat; messages and contents cascade.
func (r *ChatsRepo) DeleteChat(ctx context.Context, userID, chatID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ? AND user_id = ?`, chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return expectRow(res, chatID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(s rowScanner) (core.Chat, error) {
	var (
		c      core.Chat
		config sql.NullString
	)
	if err := s.Scan(&c.ID, &c.UserID, &c.Title, &c.DefaultModel, &config, &c.CreatedAt); err != nil {
		return core.Chat{}, err
	}
	if config.Valid {
		c.Config = json.RawMessage(config.String)
	}
	return c, nil
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, core.ErrNotFound)
	}
	return nil
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 || string(raw) == "null" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
