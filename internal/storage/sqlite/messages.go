package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sandevgo/chatd/internal/core"
)

type MessagesRepo struct {
	db *sql.DB
}

func NewMessagesRepo(db *sql.DB) *MessagesRepo {
	return &MessagesRepo{db: db}
}

func (r *MessagesRepo) CreateMessage(ctx context.Context, msg core.Message) (core.Message, error) {
	var out core.Message
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		out, err = insertMessage(ctx, tx, msg)
		return err
	})
	return out, err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, tx execer, msg core.Message) (core.Message, error) {
	if !msg.Role.Valid() {
		return core.Message{}, fmt.Errorf("invalid role %q", msg.Role)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, user_id, role, model, config, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.UserID, msg.Role, nullString(msg.Model), nullJSON(msg.Config), msg.CreatedAt)
	if err != nil {
		return core.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}

	if err := insertContents(ctx, tx, msg.ID, msg.Contents); err != nil {
		return core.Message{}, err
	}
	return msg, nil
}

func insertContents(ctx context.Context, tx execer, messageID string, contents core.Contents) error {
	for pos, c := range contents {
		payload, err := core.MarshalContent(c)
		if err != nil {
			return err
		}

		var mime, callID string
		switch v := c.(type) {
		case core.Image:
			mime = v.MimeType
		case core.File:
			mime = v.MimeType
		case core.ToolCall:
			callID = v.ID
		case core.ToolResult:
			callID = v.CallID
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO message_contents (message_id, position, type, payload, mime_type, tool_call_id) VALUES (?, ?, ?, ?, ?, ?)`,
			messageID, pos, c.Type(), string(payload), nullString(mime), nullString(callID))
		if err != nil {
			return fmt.Errorf("failed to insert content %d: %w", pos, err)
		}
	}
	return nil
}

func (r *MessagesRepo) GetMessage(ctx context.Context, id string) (core.Message, error) {
	msgs, err := r.query(ctx, `m.id = ?`, id)
	if err != nil {
		return core.Message{}, err
	}
	if len(msgs) == 0 {
		return core.Message{}, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	return msgs[0], nil
}

// ListMessages returns the chat history in insertion order.
func (r *MessagesRepo) ListMessages(ctx context.Context, chatID string) ([]core.Message, error) {
	return r.query(ctx, `m.chat_id = ?`, chatID)
}

func (r *MessagesRepo) query(ctx context.Context, where string, arg any) ([]core.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.chat_id, m.user_id, m.role, m.model, m.config, m.created_at, c.payload
		FROM messages m
		LEFT JOIN message_contents c ON c.message_id = m.id
		WHERE `+where+`
		ORDER BY m.rowid, c.position`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []core.Message{}
	for rows.Next() {
		var (
			m             core.Message
			model, config sql.NullString
			payload       sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.Role, &model, &config, &m.CreatedAt, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		if n := len(messages); n == 0 || messages[n-1].ID != m.ID {
			m.Model = model.String
			if config.Valid {
				m.Config = json.RawMessage(config.String)
			}
			m.Contents = core.Contents{}
			messages = append(messages, m)
		}

		if payload.Valid {
			c, err := core.UnmarshalContent([]byte(payload.String))
			if err != nil {
				return nil, fmt.Errorf("message %s: %w", m.ID, err)
			}
			last := &messages[len(messages)-1]
			last.Contents = append(last.Contents, c)
		}
	}
	return messages, rows.Err()
}

// UpdateMessage swaps the contents of a message, used to finalise a
// streaming placeholder.
func (r *MessagesRepo) UpdateMessage(ctx context.Context, id string, contents core.Contents, model string, config json.RawMessage) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE messages SET model = ?, config = ? WHERE id = ?`,
			nullString(model), nullJSON(config), id)
		if err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}
		if err := expectRow(res, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM message_contents WHERE message_id = ?`, id); err != nil {
			return fmt.Errorf("failed to clear contents: %w", err)
		}
		return insertContents(ctx, tx, id, contents)
	})
}

// DeleteMessages removes ids in the given order. Missing ids are skipped so
// a rollback can be repeated.
func (r *MessagesRepo) DeleteMessages(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
				return fmt.Errorf("failed to delete message %s: %w", id, err)
			}
		}
		return nil
	})
}
