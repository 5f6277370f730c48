package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"CharChat/service/chatclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Chat.MaxReconnectAttempts)
	assert.Equal(t, 3*time.Second, cfg.Chat.ReconnectInterval)
	assert.True(t, cfg.Chat.AutoReconnect)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chat:
  ws_url: wss://chat.example.com/ws
  chat_id: c1
  reconnect_interval: 500ms
  max_reconnect_attempts: 2
redis:
  addr: 127.0.0.1:6379
history:
  store: redis
nats:
  servers: [nats://127.0.0.1:4222]
`), 0o600))

	t.Setenv("CHAT_CHARACTER_ID", "luna")
	t.Setenv("CHAT_USER_ID", "u1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/ws", cfg.Chat.WSURL)
	assert.Equal(t, "c1", cfg.Chat.ChatID)
	assert.Equal(t, "luna", cfg.Chat.CharacterID)
	assert.Equal(t, 500*time.Millisecond, cfg.Chat.ReconnectInterval)
	assert.Equal(t, 2, cfg.Chat.MaxReconnectAttempts)
	assert.Equal(t, 3*time.Second, cfg.Chat.TypingTimeout, "unset keys keep defaults")
	assert.Equal(t, "u1", cfg.Auth.UserID)
	assert.Equal(t, []string{"nats://127.0.0.1:4222"}, cfg.Nats.Servers)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *AppConfig){
		"bad scheme":       func(c *AppConfig) { c.Chat.WSURL = "http://x/ws" },
		"negative retries": func(c *AppConfig) { c.Chat.MaxReconnectAttempts = -1 },
		"redis no addr":    func(c *AppConfig) { c.History.Store = HistoryRedis },
		"mongo no uri":     func(c *AppConfig) { c.History.Store = HistoryMongo },
		"pg no dsn":        func(c *AppConfig) { c.History.Store = HistoryPostgres },
		"unknown store":    func(c *AppConfig) { c.History.Store = "sqlite" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestChatDefaultsMatchClientDefaults(t *testing.T) {
	got := Default().Chat
	want := chatclient.DefaultConfig()
	assert.Equal(t, want.AutoReconnect, got.AutoReconnect)
	assert.Equal(t, want.MaxReconnectAttempts, got.MaxReconnectAttempts)
	assert.Equal(t, want.ReconnectInterval, got.ReconnectInterval)
	assert.Equal(t, want.ManualReconnectDelay, got.ManualReconnectDelay)
	assert.Equal(t, want.TypingTimeout, got.TypingTimeout)
	assert.Equal(t, want.HandshakeTimeout, got.HandshakeTimeout)
	assert.Equal(t, want.WriteWait, got.WriteWait)
	assert.Equal(t, want.PingInterval, got.PingInterval)
	assert.Equal(t, want.MaxFrameBytes, got.MaxFrameBytes)
	assert.Equal(t, want.EventBuffer, got.EventBuffer)
}
