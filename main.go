package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	tern "github.com/ternlib/tern/src"
	"github.com/ternlib/tern/src/gateway"
	"github.com/ternlib/tern/src/webhook"
)

var signals = []os.Signal{
	os.Interrupt,
	syscall.SIGINT,
	syscall.SIGTERM,
}

func main() {
	godotenv.Load()
	log := tern.NewLogger(os.Stderr, slog.LevelInfo)
	cfg, err := tern.LoadConfig()
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), signals...)
	defer stop()

	client, err := tern.NewClient(tern.Options{
		Token:       cfg.BotToken,
		Intents:     cfg.Intents,
		ShardCount:  cfg.ShardCount,
		ShardIDs:    cfg.ShardIDs,
		HTTPBaseURL: cfg.HTTPBaseURL,
		Logger:      log,
	})
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}

	client.On(gateway.EventMessageCreate, func(event *gateway.Event) {
		log.Info("message received", "shard_id", event.ShardID, "payload", string(event.Data))
	})

	if err := client.Start(ctx); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
	defer client.Close()

	if cfg.WebhookAddress != "" && cfg.PublicKey != "" {
		server, err := webhook.NewServer(webhook.ServerOptions{
			PublicKey: cfg.PublicKey,
			Sink:      client.Dispatch,
			Logger:    log,
		})
		if err != nil {
			log.Error(err.Error())
			os.Exit(1)
		}
		go server.Start(ctx, cfg.WebhookAddress)
	}

	select {
	case <-ctx.Done():
	case err := <-client.Err():
		log.Error("shutting down", "error", err)
	}
}
