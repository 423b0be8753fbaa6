package tern

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlib/tern/src/gateway"
)

func TestNewClientRequiresToken(t *testing.T) {
	t.Parallel()
	_, err := NewClient(Options{})
	assert.Error(t, err)
}

func TestHandlerRegistryDispatchesInOrder(t *testing.T) {
	t.Parallel()
	registry := newHandlerRegistry()
	var calls []string
	registry.on(gateway.EventMessageCreate, func(event *gateway.Event) {
		calls = append(calls, "named:"+string(event.Data))
	})
	registry.onAny(func(event *gateway.Event) {
		calls = append(calls, "any:"+event.Name)
	})

	registry.dispatch(&gateway.Event{Name: gateway.EventMessageCreate, Data: json.RawMessage("1")})
	registry.dispatch(&gateway.Event{Name: gateway.EventGuildCreate, Data: json.RawMessage("2")})

	assert.Equal(t, []string{
		"named:1",
		"any:MESSAGE_CREATE",
		"any:GUILD_CREATE",
	}, calls)
}

func TestClientDispatchReachesHandlers(t *testing.T) {
	t.Parallel()
	client, err := NewClient(Options{Token: "t", Logger: testLogger()})
	require.NoError(t, err)

	var got *gateway.Event
	client.On(gateway.EventInteractionCreate, func(event *gateway.Event) {
		got = event
	})
	client.Dispatch(&gateway.Event{
		ShardID: -1,
		Name:    gateway.EventInteractionCreate,
		Data:    json.RawMessage(`{"id":"1"}`),
	})
	require.NotNil(t, got)
	assert.Equal(t, -1, got.ShardID)
}

func TestCloseBeforeStartIsANoop(t *testing.T) {
	t.Parallel()
	client, err := NewClient(Options{Token: "t", Logger: testLogger()})
	require.NoError(t, err)
	client.Close()
	assert.Nil(t, client.Shard(0))
}
