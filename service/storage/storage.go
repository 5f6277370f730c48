package storage

import (
	"context"
	"sync"

	"CharChat/service/chatclient"
)

// History is a message store that can also read back a chat's tail.
type History interface {
	chatclient.MessageStore
	// List returns up to limit of the newest messages, oldest first.
	List(ctx context.Context, chatID string, limit int) ([]chatclient.Message, error)
}

const defaultListLimit = 50

func normLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

// MemoryMessages keeps the last Cap messages of each chat in process.
type MemoryMessages struct {
	Cap int

	mu     sync.RWMutex
	byChat map[string][]chatclient.Message
	seen   map[string]struct{}
}

func NewMemoryMessages(capPerChat int) *MemoryMessages {
	if capPerChat <= 0 {
		capPerChat = 1000
	}
	return &MemoryMessages{
		Cap:    capPerChat,
		byChat: make(map[string][]chatclient.Message),
		seen:   make(map[string]struct{}),
	}
}

func (s *MemoryMessages) Append(_ context.Context, m chatclient.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[m.ID]; dup {
		return nil
	}
	s.seen[m.ID] = struct{}{}
	list := append(s.byChat[m.ChatID], m)
	if over := len(list) - s.Cap; over > 0 {
		for _, old := range list[:over] {
			delete(s.seen, old.ID)
		}
		list = append([]chatclient.Message(nil), list[over:]...)
	}
	s.byChat[m.ChatID] = list
	return nil
}

func (s *MemoryMessages) List(_ context.Context, chatID string, limit int) ([]chatclient.Message, error) {
	limit = normLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byChat[chatID]
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]chatclient.Message, len(list))
	copy(out, list)
	return out, nil
}

func reverse(msgs []chatclient.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
