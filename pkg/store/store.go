// Package store archives canonical messages and outbound sends, backing the
// message-status and recent-message queries.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/omnirelay/omnirelay/pkg/message"
)

type Store struct {
	db *sql.DB
}

func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// Message ids are unique only within one platform's stream, so the archive
// keys inbound rows by the (platform, message_id) pair.
const schema = `
CREATE TABLE IF NOT EXISTS inbound_messages (
    platform          TEXT NOT NULL,
    message_id        TEXT NOT NULL,
    sender_id         TEXT NOT NULL,
    sender_name       TEXT NOT NULL DEFAULT '',
    conversation_id   TEXT NOT NULL,
    conversation_type TEXT NOT NULL,
    content_type      TEXT NOT NULL,
    content_text      TEXT NOT NULL DEFAULT '',
    content_data      TEXT NOT NULL DEFAULT '{}',
    ts                INTEGER NOT NULL,
    created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (platform, message_id)
);

CREATE INDEX IF NOT EXISTS idx_inbound_platform_ts ON inbound_messages(platform, ts);

CREATE TABLE IF NOT EXISTS outbound_sends (
    id                  TEXT PRIMARY KEY,
    platform            TEXT NOT NULL,
    platform_message_id TEXT NOT NULL DEFAULT '',
    recipient           TEXT NOT NULL,
    message_type        TEXT NOT NULL,
    conversation_type   TEXT NOT NULL,
    status              TEXT NOT NULL,
    error               TEXT NOT NULL DEFAULT '',
    created_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_outbound_platform ON outbound_sends(platform, created_at);
`

// Outbound send statuses.
const (
	SendPending = "pending"
	SendOK      = "sent"
	SendFailed  = "failed"
)

type OutboundSend struct {
	ID                string
	Platform          string
	PlatformMessageID string
	Recipient         string
	MessageType       string
	ConversationType  string
	Status            string
	Error             string
	CreatedAt         time.Time
}

// RecordInbound archives one canonical message. Re-delivery of the same
// (platform, message_id) pair is idempotent.
func (s *Store) RecordInbound(ctx context.Context, msg message.Message) error {
	data, err := json.Marshal(msg.Content.Data)
	if err != nil {
		data = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO inbound_messages
		 (platform, message_id, sender_id, sender_name, conversation_id, conversation_type,
		  content_type, content_text, content_data, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.Platform, msg.MessageID, msg.Sender.ID, msg.Sender.Name,
		msg.Conversation.ID, msg.Conversation.Type,
		msg.Content.Type, msg.Content.Text, string(data), msg.Timestamp,
	)
	return err
}

// RecentInbound returns the newest archived messages for a platform.
func (s *Store) RecentInbound(ctx context.Context, platform string, limit int) ([]message.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT platform, message_id, sender_id, sender_name, conversation_id, conversation_type,
		        content_type, content_text, content_data, ts
		 FROM inbound_messages WHERE platform = ? ORDER BY ts DESC LIMIT ?`,
		platform, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []message.Message
	for rows.Next() {
		var m message.Message
		var data string
		if err := rows.Scan(&m.Platform, &m.MessageID, &m.Sender.ID, &m.Sender.Name,
			&m.Conversation.ID, &m.Conversation.Type,
			&m.Content.Type, &m.Content.Text, &data, &m.Timestamp); err != nil {
			return nil, err
		}
		if data != "" {
			_ = json.Unmarshal([]byte(data), &m.Content.Data)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) RecordOutbound(ctx context.Context, send *OutboundSend) error {
	if send.Status == "" {
		send.Status = SendPending
	}
	if send.CreatedAt.IsZero() {
		send.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbound_sends
		 (id, platform, platform_message_id, recipient, message_type, conversation_type, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		send.ID, send.Platform, send.PlatformMessageID, send.Recipient,
		send.MessageType, send.ConversationType, send.Status, send.Error, send.CreatedAt,
	)
	return err
}

// MarkOutbound records the outcome of a send attempt.
func (s *Store) MarkOutbound(ctx context.Context, id, platformMessageID, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbound_sends SET platform_message_id = ?, status = ?, error = ? WHERE id = ?`,
		platformMessageID, status, errMsg, id,
	)
	return err
}

func (s *Store) GetOutbound(ctx context.Context, id string) (*OutboundSend, error) {
	send := &OutboundSend{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, platform, platform_message_id, recipient, message_type, conversation_type, status, error, created_at
		 FROM outbound_sends WHERE id = ?`, id,
	).Scan(&send.ID, &send.Platform, &send.PlatformMessageID, &send.Recipient,
		&send.MessageType, &send.ConversationType, &send.Status, &send.Error, &send.CreatedAt)
	if err != nil {
		return nil, err
	}
	return send, nil
}
