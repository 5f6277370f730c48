package storage

import (
	"context"
	"time"

	"CharChat/service/chatclient"
	"CharChat/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id           TEXT PRIMARY KEY,
	chat_id      TEXT NOT NULL,
	character_id TEXT NOT NULL DEFAULT '',
	sender       TEXT NOT NULL,
	content      TEXT NOT NULL,
	type         TEXT NOT NULL,
	ts           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_messages_chat_ts ON chat_messages (chat_id, ts DESC);
`

// pgQuerier is the part of *pgxpool.Pool the store uses.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PgMessages struct {
	db pgQuerier
}

// NewPgPool opens a pool and checks it with a ping.
func NewPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.WrapMsg(err, "open postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "ping postgres")
	}
	return pool, nil
}

// NewPgMessages creates the table and index when missing.
func NewPgMessages(ctx context.Context, pool *pgxpool.Pool) (*PgMessages, error) {
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return nil, errs.WrapMsg(err, "ensure chat_messages schema")
	}
	return &PgMessages{db: pool}, nil
}

func (s *PgMessages) Append(ctx context.Context, m chatclient.Message) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO chat_messages (id, chat_id, character_id, sender, content, type, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		m.ID, m.ChatID, m.CharacterID, string(m.Sender), m.Content, string(m.Type), m.Timestamp.UTC())
	if err != nil {
		return errs.WrapMsg(err, "insert message", "chatId", m.ChatID, "id", m.ID)
	}
	return nil
}

func (s *PgMessages) List(ctx context.Context, chatID string, limit int) ([]chatclient.Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, chat_id, character_id, sender, content, type, ts
		 FROM chat_messages WHERE chat_id = $1 ORDER BY ts DESC LIMIT $2`,
		chatID, normLimit(limit))
	if err != nil {
		return nil, errs.WrapMsg(err, "query messages", "chatId", chatID)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chatclient.Message, error) {
		var (
			m            chatclient.Message
			sender, kind string
			ts           time.Time
		)
		if err := row.Scan(&m.ID, &m.ChatID, &m.CharacterID, &sender, &m.Content, &kind, &ts); err != nil {
			return m, err
		}
		m.Sender = chatclient.Sender(sender)
		m.Type = chatclient.MessageType(kind)
		m.Timestamp = ts
		return m, nil
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "scan messages", "chatId", chatID)
	}
	reverse(out)
	return out, nil
}
