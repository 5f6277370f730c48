package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"CharChat/global/config"
	"CharChat/logger"
	"CharChat/tools/ids"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("CHAT_CONFIG"), "path to the YAML config file")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		logger.Error("charchat exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		logger.Warn("keeping default log level", zap.Error(err))
	}
	ids.SetNodeID(cfg.NodeID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.chat.Connect(ctx); err != nil {
		// the client keeps retrying on its own; the API stays up to report it
		logger.Warn("initial connect failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(app.api.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return app.api.Shutdown(shutdownCtx)
	})
	logger.Info("charchat started",
		zap.String("chatId", cfg.Chat.ChatID),
		zap.String("http", cfg.HTTP.Addr),
		zap.String("history", cfg.History.Store))
	return g.Wait()
}
