package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"CharChat/service/chatclient"
	"CharChat/tools/errs"

	"github.com/redis/go-redis/v9"
)

// —— Conversation history: Redis Streams ——

func MessagesKey(chatID string) string { return "chat:messages:" + chatID }

// RedisMessages appends each message to the chat's stream, trimmed to about MaxLen entries.
type RedisMessages struct {
	rdb    *redis.Client
	maxLen int64
}

func NewRedisMessages(rdb *redis.Client, maxLen int64) *RedisMessages {
	if maxLen <= 0 {
		maxLen = 100_000
	}
	return &RedisMessages{rdb: rdb, maxLen: maxLen}
}

func (s *RedisMessages) Append(ctx context.Context, m chatclient.Message) error {
	args := &redis.XAddArgs{
		Stream: MessagesKey(m.ChatID),
		Values: map[string]any{
			"id":          m.ID,
			"chatId":      m.ChatID,
			"characterId": m.CharacterID,
			"sender":      string(m.Sender),
			"content":     m.Content,
			"type":        string(m.Type),
			"ts":          m.Timestamp.UnixMilli(),
		},
		Approx: true,
		MaxLen: s.maxLen,
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return errs.WrapMsg(err, "xadd message", "chatId", m.ChatID, "id", m.ID)
	}
	return nil
}

func (s *RedisMessages) List(ctx context.Context, chatID string, limit int) ([]chatclient.Message, error) {
	entries, err := s.rdb.XRevRangeN(ctx, MessagesKey(chatID), "+", "-", int64(normLimit(limit))).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "xrevrange messages", "chatId", chatID)
	}
	out := make([]chatclient.Message, 0, len(entries))
	for _, e := range entries {
		m, err := messageFromStream(e.Values)
		if err != nil {
			return nil, errs.WrapMsg(err, "decode stream entry", "entry", e.ID)
		}
		out = append(out, m)
	}
	reverse(out)
	return out, nil
}

func messageFromStream(v map[string]any) (chatclient.Message, error) {
	str := func(k string) string {
		s, _ := v[k].(string)
		return s
	}
	ts, err := strconv.ParseInt(str("ts"), 10, 64)
	if err != nil {
		return chatclient.Message{}, fmt.Errorf("ts: %w", err)
	}
	return chatclient.Message{
		ID:          str("id"),
		ChatID:      str("chatId"),
		CharacterID: str("characterId"),
		Sender:      chatclient.Sender(str("sender")),
		Content:     str("content"),
		Type:        chatclient.MessageType(str("type")),
		Timestamp:   time.UnixMilli(ts),
	}, nil
}
