package main

import (
	"context"
	"strings"

	"CharChat/data/database/mgo/mongoutil"
	"CharChat/global/config"
	"CharChat/logger"
	midsec "CharChat/middleware/security"
	"CharChat/service/auth"
	"CharChat/service/chatapi"
	"CharChat/service/chatclient"
	"CharChat/service/kafka"
	"CharChat/service/natsx"
	"CharChat/service/storage"
	rediscli "CharChat/service/storage/redis"
	"CharChat/tools/errs"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type app struct {
	chat    *chatclient.Client
	api     *chatapi.Server
	closers []func()
}

func (a *app) onClose(f func()) { a.closers = append(a.closers, f) }

// close runs the registered closers in reverse; the chat client goes first.
func (a *app) close() {
	if a.chat != nil {
		_ = a.chat.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg config.AppConfig) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()
	log := logger.Named("bootstrap")

	authStore, err := auth.FromConfig(cfg.Auth)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = rediscli.NewClient(ctx, rediscli.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, errs.WrapMsg(err, "redis", "addr", cfg.Redis.Addr)
		}
		a.onClose(func() { _ = rdb.Close() })
	}

	history, err := newHistory(ctx, a, cfg, rdb)
	if err != nil {
		return nil, err
	}

	opts := []chatclient.Option{chatclient.WithMessageStore(history)}
	var presence chatapi.Presence
	if rdb != nil {
		p := storage.NewRedisPresence(rdb, cfg.Redis.PresenceTTL)
		presence = p
		opts = append(opts, chatclient.WithSink(p))
	}

	var nc *natsx.Client
	if len(cfg.Nats.Servers) > 0 {
		nc, err = natsx.NewClient(natsx.Config{Servers: cfg.Nats.Servers, Name: cfg.Nats.Name})
		if err != nil {
			return nil, errs.WrapMsg(err, "nats", "servers", strings.Join(cfg.Nats.Servers, ","))
		}
		a.onClose(func() { _ = nc.Close() })
		opts = append(opts, chatclient.WithSink(natsx.NewEventSink(nc, cfg.Nats.SubjectPrefix, cfg.Nats.JetStream)))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kc := kafka.DefaultConfig()
		kc.Brokers = cfg.Kafka.Brokers
		kc.Topic = cfg.Kafka.Topic
		kc.Version = cfg.Kafka.Version
		kc.Compression = cfg.Kafka.Compression
		kc.Retries = cfg.Kafka.Retries
		kc.EnsureTopic = true
		prod, err := kafka.NewSyncProducer(kc)
		if err != nil {
			return nil, errs.WrapMsg(err, "kafka", "brokers", strings.Join(kc.Brokers, ","))
		}
		sink := kafka.NewEventSink(prod, kc.Topic)
		a.onClose(func() { _ = sink.Close() })
		opts = append(opts, chatclient.WithSink(sink))
	}

	cc := chatclient.Config{
		BaseURL:              cfg.Chat.WSURL,
		ChatID:               cfg.Chat.ChatID,
		CharacterID:          cfg.Chat.CharacterID,
		AutoReconnect:        cfg.Chat.AutoReconnect,
		MaxReconnectAttempts: cfg.Chat.MaxReconnectAttempts,
		ReconnectInterval:    cfg.Chat.ReconnectInterval,
		ManualReconnectDelay: cfg.Chat.ManualReconnectDelay,
		TypingTimeout:        cfg.Chat.TypingTimeout,
		HandshakeTimeout:     cfg.Chat.HandshakeTimeout,
		WriteWait:            cfg.Chat.WriteWait,
		PingInterval:         cfg.Chat.PingInterval,
		MaxFrameBytes:        cfg.Chat.MaxFrameBytes,
		EventBuffer:          cfg.Chat.EventBuffer,
	}
	a.chat, err = chatclient.New(cc, authStore, opts...)
	if err != nil {
		return nil, err
	}

	if nc != nil {
		idem := natsx.IdemMiddleware(natsx.NewMemIdem(0), 0)
		if err := nc.ServeCommands(cfg.Nats.SubjectPrefix, cfg.Chat.ChatID, "", a.chat, idem); err != nil {
			return nil, errs.WrapMsg(err, "nats command subscription")
		}
	}

	apiOpts := chatapi.Options{
		History:        history,
		HistoryLimit:   cfg.History.Limit,
		Presence:       presence,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}
	if cfg.HTTP.APISecret != "" {
		apiOpts.Auth = midsec.Middleware(midsec.JWTOptions([]byte(cfg.HTTP.APISecret), cfg.Auth.JWTIssuer))
	} else {
		log.Warn("http.api_secret is empty; control routes are unauthenticated")
	}
	router := chatapi.NewRouter(a.chat, apiOpts)
	a.api = chatapi.NewServer(cfg.HTTP.Addr, router)
	return a, nil
}

func newHistory(ctx context.Context, a *app, cfg config.AppConfig, rdb *redis.Client) (storage.History, error) {
	switch strings.ToLower(cfg.History.Store) {
	case config.HistoryRedis:
		return storage.NewRedisMessages(rdb, cfg.Redis.StreamMaxLen), nil
	case config.HistoryMongo:
		cli, err := mongoutil.NewMongoDB(ctx, &mongoutil.Config{
			Uri:         cfg.Mongo.URI,
			Database:    cfg.Mongo.Database,
			Username:    cfg.Mongo.Username,
			Password:    cfg.Mongo.Password,
			MaxPoolSize: cfg.Mongo.MaxPoolSize,
			MaxRetry:    cfg.Mongo.MaxRetry,
		})
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = cli.Close(context.Background()) })
		return storage.NewMongoMessages(ctx, cli.GetDB(), cfg.Mongo.Collection)
	case config.HistoryPostgres:
		pool, err := storage.NewPgPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		a.onClose(pool.Close)
		return storage.NewPgMessages(ctx, pool)
	default:
		logger.Named("bootstrap").Debug("history kept in memory", zap.Int("limit", cfg.History.Limit))
		return storage.NewMemoryMessages(cfg.History.Limit), nil
	}
}
