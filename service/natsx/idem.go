package natsx

import (
	"context"
	"sync"
	"time"
)

type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) (seen bool, err error)
}

// memIdem is a single-process IdemStore; expired keys are swept lazily on write.
type memIdem struct {
	mu        sync.Mutex
	m         map[string]time.Time
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewMemIdem(defaultTTL time.Duration) IdemStore {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &memIdem{m: make(map[string]time.Time), ttl: defaultTTL, now: time.Now}
}

func (mi *memIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if now.Sub(mi.lastSweep) > time.Minute {
		for k, exp := range mi.m {
			if !exp.After(now) {
				delete(mi.m, k)
			}
		}
		mi.lastSweep = now
	}
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

func msgIDFromHeader(h map[string]string) string {
	for _, k := range []string{"Nats-Msg-Id", "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := h[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// IdemMiddleware drops messages whose id header was already seen within ttl.
// Messages without an id always pass: repeating a command is legitimate.
// A dropped request is still answered, with the first reply when it is known.
func IdemMiddleware(store IdemStore, ttl time.Duration) Middleware {
	replies := newReplyCache(ttl)
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			id := msgIDFromHeader(msg.Header)
			if id == "" {
				return next(ctx, msg)
			}
			if seen, _ := store.SeenOnce(id, ttl); seen {
				if msg.Reply == "" || msg.Respond == nil {
					return nil
				}
				b, ok := replies.get(id)
				if !ok {
					b = duplicateReply
				}
				return msg.Respond(b)
			}
			if respond := msg.Respond; respond != nil {
				msg.Respond = func(data []byte) error {
					replies.put(id, data)
					return respond(data)
				}
			}
			return next(ctx, msg)
		}
	}
}

// duplicateReply answers a repeat whose first run has not replied yet.
var duplicateReply = []byte(`{"ok":true,"duplicate":true}`)

type cachedReply struct {
	data []byte
	exp  time.Time
}

type replyCache struct {
	mu        sync.Mutex
	m         map[string]cachedReply
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newReplyCache(ttl time.Duration) *replyCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &replyCache{m: make(map[string]cachedReply), ttl: ttl, now: time.Now}
}

func (rc *replyCache) put(id string, data []byte) {
	now := rc.now()
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if now.Sub(rc.lastSweep) > time.Minute {
		for k, r := range rc.m {
			if !r.exp.After(now) {
				delete(rc.m, k)
			}
		}
		rc.lastSweep = now
	}
	rc.m[id] = cachedReply{data: append([]byte(nil), data...), exp: now.Add(rc.ttl)}
}

func (rc *replyCache) get(id string) ([]byte, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	r, ok := rc.m[id]
	if !ok || !r.exp.After(rc.now()) {
		return nil, false
	}
	return r.data, true
}
