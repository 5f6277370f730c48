package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"CharChat/tools"

	"gopkg.in/yaml.v3"
)

const (
	HistoryMemory   = "memory"
	HistoryRedis    = "redis"
	HistoryMongo    = "mongo"
	HistoryPostgres = "postgres"
)

// AppConfig is the whole process configuration. Sections with an empty
// address are disabled.
type AppConfig struct {
	NodeID   int64          `yaml:"node_id"`
	Chat     ChatConfig     `yaml:"chat"`
	Auth     AuthConfig     `yaml:"auth"`
	HTTP     HTTPConfig     `yaml:"http"`
	History  HistoryConfig  `yaml:"history"`
	Redis    RedisConfig    `yaml:"redis"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Postgres PostgresConfig `yaml:"postgres"`
	Nats     NatsConfig     `yaml:"nats"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Log      LogConfig      `yaml:"log"`
}

type ChatConfig struct {
	WSURL                string        `yaml:"ws_url"`
	ChatID               string        `yaml:"chat_id"`
	CharacterID          string        `yaml:"character_id"`
	AutoReconnect        bool          `yaml:"auto_reconnect"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	ManualReconnectDelay time.Duration `yaml:"manual_reconnect_delay"`
	TypingTimeout        time.Duration `yaml:"typing_timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteWait            time.Duration `yaml:"write_wait"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	MaxFrameBytes        int64         `yaml:"max_frame_bytes"`
	EventBuffer          int           `yaml:"event_buffer"`
}

type AuthConfig struct {
	UserID    string        `yaml:"user_id"`
	Token     string        `yaml:"token"`      // static token; wins over JWT minting
	JWTSecret string        `yaml:"jwt_secret"` // mint tokens locally when Token is empty
	JWTIssuer string        `yaml:"jwt_issuer"`
	JWTTTL    time.Duration `yaml:"jwt_ttl"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	APISecret       string        `yaml:"api_secret"` // bearer JWT secret for mutating routes
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type HistoryConfig struct {
	Store string `yaml:"store"` // memory|redis|mongo|postgres
	Limit int    `yaml:"limit"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	StreamMaxLen int64         `yaml:"stream_max_len"`
	PresenceTTL  time.Duration `yaml:"presence_ttl"`
}

type MongoConfig struct {
	URI         string `yaml:"uri"`
	Database    string `yaml:"database"`
	Collection  string `yaml:"collection"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	MaxPoolSize int    `yaml:"max_pool_size"`
	MaxRetry    int    `yaml:"max_retry"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type NatsConfig struct {
	Servers       []string `yaml:"servers"`
	Name          string   `yaml:"name"`
	SubjectPrefix string   `yaml:"subject_prefix"`
	JetStream     bool     `yaml:"jetstream"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	Version     string   `yaml:"version"`
	Compression string   `yaml:"compression"` // none/snappy/lz4/zstd
	Retries     int      `yaml:"retries"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default mirrors the behaviour of the web client: 3s fixed reconnect
// interval, 5 attempts, 3s typing idle timeout.
func Default() AppConfig {
	return AppConfig{
		NodeID: 1,
		Chat: ChatConfig{
			WSURL:                "ws://localhost:8080/ws",
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
		},
		Auth: AuthConfig{
			JWTTTL: 2 * time.Hour,
		},
		HTTP: HTTPConfig{
			Addr:            "127.0.0.1:7070",
			ShutdownTimeout: 5 * time.Second,
		},
		History: HistoryConfig{
			Store: HistoryMemory,
			Limit: 100,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			StreamMaxLen: 10_000,
			PresenceTTL:  10 * time.Minute,
		},
		Mongo: MongoConfig{
			Database:    "charchat",
			Collection:  "chat_messages",
			MaxPoolSize: 20,
			MaxRetry:    3,
		},
		Nats: NatsConfig{
			Name:          "charchat-client",
			SubjectPrefix: "charchat",
		},
		Kafka: KafkaConfig{
			Topic:       "charchat.events",
			Version:     "2.1.0",
			Compression: "snappy",
			Retries:     3,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads Default, overlays the YAML file at path (skipped when path is
// empty) and then the CHAT_* environment variables.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return AppConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) ApplyEnv() {
	c.Chat.WSURL = tools.GetEnv("CHAT_WS_URL", c.Chat.WSURL)
	c.Chat.ChatID = tools.GetEnv("CHAT_ID", c.Chat.ChatID)
	c.Chat.CharacterID = tools.GetEnv("CHAT_CHARACTER_ID", c.Chat.CharacterID)
	c.Chat.AutoReconnect = tools.GetEnvBool("CHAT_AUTO_RECONNECT", c.Chat.AutoReconnect)
	c.Chat.MaxReconnectAttempts = tools.GetEnvInt("CHAT_MAX_RECONNECT_ATTEMPTS", c.Chat.MaxReconnectAttempts)
	c.Chat.ReconnectInterval = tools.GetEnvDuration("CHAT_RECONNECT_INTERVAL", c.Chat.ReconnectInterval)
	c.Auth.UserID = tools.GetEnv("CHAT_USER_ID", c.Auth.UserID)
	c.Auth.Token = tools.GetEnv("CHAT_TOKEN", c.Auth.Token)
	c.Auth.JWTSecret = tools.GetEnv("CHAT_JWT_SECRET", c.Auth.JWTSecret)
	c.HTTP.Addr = tools.GetEnv("CHAT_HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.APISecret = tools.GetEnv("CHAT_API_SECRET", c.HTTP.APISecret)
	c.History.Store = tools.GetEnv("CHAT_HISTORY_STORE", c.History.Store)
	c.Redis.Addr = tools.GetEnv("CHAT_REDIS_ADDR", c.Redis.Addr)
	c.Mongo.URI = tools.GetEnv("CHAT_MONGO_URI", c.Mongo.URI)
	c.Postgres.DSN = tools.GetEnv("CHAT_POSTGRES_DSN", c.Postgres.DSN)
	c.Nats.Servers = tools.GetEnvList("CHAT_NATS_SERVERS", c.Nats.Servers)
	c.Kafka.Brokers = tools.GetEnvList("CHAT_KAFKA_BROKERS", c.Kafka.Brokers)
	c.Log.Level = tools.GetEnv("CHAT_LOG_LEVEL", c.Log.Level)
}

func (c *AppConfig) Validate() error {
	u, err := url.Parse(c.Chat.WSURL)
	if err != nil {
		return fmt.Errorf("chat.ws_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("chat.ws_url: scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.Chat.MaxReconnectAttempts < 0 {
		return fmt.Errorf("chat.max_reconnect_attempts must be >= 0")
	}
	switch strings.ToLower(c.History.Store) {
	case HistoryMemory, "":
	case HistoryRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("history.store=redis needs redis.addr")
		}
	case HistoryMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("history.store=mongo needs mongo.uri")
		}
	case HistoryPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("history.store=postgres needs postgres.dsn")
		}
	default:
		return fmt.Errorf("history.store: unknown store %q", c.History.Store)
	}
	return nil
}
