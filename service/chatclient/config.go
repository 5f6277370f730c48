package chatclient

import (
	"net/url"
	"strings"
	"time"

	"CharChat/tools/errs"
)

type Config struct {
	BaseURL     string // ws(s)://host/path of the chat endpoint
	ChatID      string
	CharacterID string // optional, forwarded as a query parameter

	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectInterval    time.Duration // fixed, no backoff
	ManualReconnectDelay time.Duration // Reconnect() waits this long before dialing
	TypingTimeout        time.Duration // idle time that ends a typing session

	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PingInterval     time.Duration // 0 disables keepalive pings
	MaxFrameBytes    int64
	EventBuffer      int
}

func DefaultConfig() Config {
	return Config{
		AutoReconnect:        true,
		MaxReconnectAttempts: 5,
		ReconnectInterval:    3 * time.Second,
		ManualReconnectDelay: 100 * time.Millisecond,
		TypingTimeout:        3 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteWait:            5 * time.Second,
		PingInterval:         25 * time.Second,
		MaxFrameBytes:        1 << 20,
		EventBuffer:          256,
	}
}

func (c *Config) norm() {
	d := DefaultConfig()
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = d.ReconnectInterval
	}
	if c.ManualReconnectDelay <= 0 {
		c.ManualReconnectDelay = d.ManualReconnectDelay
	}
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = d.TypingTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PingInterval < 0 {
		c.PingInterval = 0
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.ChatID) == "" {
		return errs.ErrInvalidConfig.WrapMsg("chat id is empty")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return errs.ErrInvalidConfig.WrapMsg("base url", "url", c.BaseURL, "err", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errs.ErrInvalidConfig.WrapMsg("base url must be ws or wss", "url", c.BaseURL)
	}
	if u.Host == "" {
		return errs.ErrInvalidConfig.WrapMsg("base url has no host", "url", c.BaseURL)
	}
	return nil
}

// endpoint is BaseURL with token, chatId and (optionally) characterId added to
// whatever query the base already carries.
func (c *Config) endpoint(token string) string {
	u, _ := url.Parse(c.BaseURL)
	q := u.Query()
	q.Set("token", token)
	q.Set("chatId", c.ChatID)
	if c.CharacterID != "" {
		q.Set("characterId", c.CharacterID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
