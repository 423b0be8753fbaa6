package tern

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ternlib/tern/src/gateway"
)

// Config carries everything an embedding application needs to start a
// client from its environment. Library users constructing a Client
// directly can skip this and fill Options themselves.
type Config struct {
	BotToken       string
	Intents        gateway.Intent
	ShardCount     int
	ShardIDs       []int
	HTTPBaseURL    string
	WebhookAddress string
	PublicKey      string
}

// LoadConfig reads configuration from the environment. Only the bot
// token is required; everything else falls back to library defaults.
func LoadConfig() (Config, error) {
	cfg := Config{}
	token, ok := os.LookupEnv("TERN_BOT_TOKEN")
	if !ok || token == "" {
		return cfg, fmt.Errorf("provide: TERN_BOT_TOKEN")
	}
	cfg.BotToken = token

	if v := os.Getenv("TERN_INTENTS"); v != "" {
		intents, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("TERN_INTENTS must be an intent bitmask: %w", err)
		}
		cfg.Intents = intents
	}
	if v := os.Getenv("TERN_SHARD_COUNT"); v != "" {
		count, err := strconv.Atoi(v)
		if err != nil || count < 1 {
			return cfg, fmt.Errorf("TERN_SHARD_COUNT must be a positive integer")
		}
		cfg.ShardCount = count
	}
	if v := os.Getenv("TERN_SHARD_IDS"); v != "" {
		for _, raw := range strings.Split(v, ",") {
			id, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return cfg, fmt.Errorf("TERN_SHARD_IDS must be a comma separated id list")
			}
			cfg.ShardIDs = append(cfg.ShardIDs, id)
		}
	}
	cfg.HTTPBaseURL = os.Getenv("TERN_HTTP_BASE_URL")
	cfg.WebhookAddress = os.Getenv("TERN_WEBHOOK_ADDRESS")
	cfg.PublicKey = os.Getenv("TERN_PUBLIC_KEY")
	return cfg, nil
}
