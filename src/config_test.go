package tern

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlib/tern/src/gateway"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadConfigRequiresToken(t *testing.T) {
	t.Setenv("TERN_BOT_TOKEN", "")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("TERN_BOT_TOKEN", "tok")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.BotToken)
	assert.Zero(t, cfg.Intents)
	assert.Zero(t, cfg.ShardCount)
	assert.Empty(t, cfg.ShardIDs)
}

func TestLoadConfigFull(t *testing.T) {
	t.Setenv("TERN_BOT_TOKEN", "tok")
	t.Setenv("TERN_INTENTS", "513")
	t.Setenv("TERN_SHARD_COUNT", "4")
	t.Setenv("TERN_SHARD_IDS", "0, 2")
	t.Setenv("TERN_HTTP_BASE_URL", "https://api.example")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, gateway.Intent(513), cfg.Intents)
	assert.Equal(t, 4, cfg.ShardCount)
	assert.Equal(t, []int{0, 2}, cfg.ShardIDs)
	assert.Equal(t, "https://api.example", cfg.HTTPBaseURL)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("TERN_BOT_TOKEN", "tok")
	t.Setenv("TERN_INTENTS", "not-a-number")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("TERN_INTENTS", "")
	t.Setenv("TERN_SHARD_COUNT", "0")
	_, err = LoadConfig()
	assert.Error(t, err)
}
