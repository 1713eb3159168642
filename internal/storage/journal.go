package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"routechat/internal/models"
	"routechat/internal/session"
)

// Journal persists committed exchanges to SQL. It satisfies session.Journal.
type Journal struct {
	db     *sql.DB
	driver string
}

func NewJournal(db *sql.DB, driver string) *Journal {
	return &Journal{db: db, driver: strings.ToLower(driver)}
}

// StoredMessage is one persisted turn, as read back for history listings.
type StoredMessage struct {
	ID         int64                `json:"id"`
	ExchangeID string               `json:"exchange_id"`
	Role       models.Role          `json:"role"`
	Parts      []models.ContentPart `json:"parts"`
	CreatedAt  time.Time            `json:"created_at"`
}

// RecordExchange writes the user turn and the specialist turn in a single
// transaction, tagged with a shared exchange id.
func (j *Journal) RecordExchange(ctx context.Context, key session.Key, user, specialist models.Turn) error {
	exchangeID := uuid.NewString()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, turn := range []models.Turn{user, specialist} {
		parts, merr := json.Marshal(turn.Parts)
		if merr != nil {
			err = fmt.Errorf("marshal parts: %w", merr)
			return err
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO messages (user_id, conversation_id, exchange_id, role, parts, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			key.UserID, key.ConversationID, exchangeID, turn.Role, string(parts), turn.CreatedAt,
		); err != nil {
			err = fmt.Errorf("insert message: %w", err)
			return err
		}
	}

	if err = j.touchConversation(ctx, tx, key, user.CreatedAt); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit exchange: %w", err)
	}
	return nil
}

func (j *Journal) touchConversation(ctx context.Context, tx *sql.Tx, key session.Key, at time.Time) error {
	var stmt string
	switch j.driver {
	case "mysql":
		stmt = `INSERT INTO conversations (user_id, conversation_id, created_at, last_active_at) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE last_active_at = VALUES(last_active_at)`
	default:
		stmt = `INSERT INTO conversations (user_id, conversation_id, created_at, last_active_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, conversation_id) DO UPDATE SET last_active_at = excluded.last_active_at`
	}
	if _, err := tx.ExecContext(ctx, stmt, key.UserID, key.ConversationID, at, at); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's committed turns in commit order.
func (j *Journal) ListMessages(ctx context.Context, key session.Key) ([]StoredMessage, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, exchange_id, role, parts, created_at FROM messages WHERE user_id = ? AND conversation_id = ? ORDER BY id ASC`,
		key.UserID, key.ConversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []StoredMessage
	for rows.Next() {
		var m StoredMessage
		var rawParts string
		if err := rows.Scan(&m.ID, &m.ExchangeID, &m.Role, &rawParts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(rawParts), &m.Parts); err != nil {
			return nil, fmt.Errorf("decode parts: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Conversation is one row of the per-user conversation listing.
type Conversation struct {
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActiveAt   time.Time `json:"last_active_at"`
}

// ListConversations returns a user's conversations ordered by last activity.
func (j *Journal) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT conversation_id, created_at, last_active_at FROM conversations WHERE user_id = ? ORDER BY last_active_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ConversationID, &c.CreatedAt, &c.LastActiveAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}
