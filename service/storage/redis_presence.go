package storage

import (
	"context"
	"sort"
	"time"

	"CharChat/service/chatclient"
	"CharChat/tools/errs"

	"github.com/redis/go-redis/v9"
)

// presence key: chat:online:<chatId>, a set of user ids. The TTL is renewed on
// every join so a chat nobody reports on anymore expires by itself.
func PresenceKey(chatID string) string { return "chat:online:" + chatID }

// RedisPresence mirrors presence events into Redis so other processes can see
// who is in a chat.
type RedisPresence struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisPresence(rdb *redis.Client, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisPresence{rdb: rdb, ttl: ttl}
}

func (p *RedisPresence) Publish(ctx context.Context, ev chatclient.Event) error {
	if ev.Kind != chatclient.EventPresence {
		return nil
	}
	key := PresenceKey(ev.ChatID)
	if ev.Sync {
		return p.replace(ctx, key, ev)
	}
	if ev.UserID == "" {
		return nil
	}
	if !ev.Joined {
		if err := p.rdb.SRem(ctx, key, ev.UserID).Err(); err != nil {
			return errs.WrapMsg(err, "presence offline", "chatId", ev.ChatID, "user", ev.UserID)
		}
		return nil
	}
	pipe := p.rdb.TxPipeline()
	pipe.SAdd(ctx, key, ev.UserID)
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.WrapMsg(err, "presence online", "chatId", ev.ChatID, "user", ev.UserID)
	}
	return nil
}

// replace swaps the whole set for the client's view after events were lost.
func (p *RedisPresence) replace(ctx context.Context, key string, ev chatclient.Event) error {
	pipe := p.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(ev.Online) > 0 {
		members := make([]any, 0, len(ev.Online))
		for _, id := range ev.Online {
			members = append(members, id)
		}
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.WrapMsg(err, "presence resync", "chatId", ev.ChatID, "users", len(ev.Online))
	}
	return nil
}

func (p *RedisPresence) Members(ctx context.Context, chatID string) ([]string, error) {
	ids, err := p.rdb.SMembers(ctx, PresenceKey(chatID)).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "presence lookup", "chatId", chatID)
	}
	sort.Strings(ids)
	return ids, nil
}
