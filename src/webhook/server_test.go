package webhook

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlib/tern/src/gateway"
	"github.com/ternlib/tern/src/structs"
)

func newTestServer(t *testing.T) (*Server, ed25519.PrivateKey, *[]*gateway.Event) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	events := &[]*gateway.Event{}
	server, err := NewServer(ServerOptions{
		PublicKey: hex.EncodeToString(pub),
		Sink: func(event *gateway.Event) {
			*events = append(*events, event)
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return server, priv, events
}

func signedRequest(t *testing.T, priv ed25519.PrivateKey, body []byte) *http.Request {
	t.Helper()
	timestamp := "1700000000"
	signature := ed25519.Sign(priv, append([]byte(timestamp), body...))
	req := httptest.NewRequest(http.MethodPost, "/interactions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature-Timestamp", timestamp)
	req.Header.Set("X-Signature-Ed25519", hex.EncodeToString(signature))
	return req
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	t.Parallel()
	server, priv, events := newTestServer(t)
	body := []byte(`{"type":1}`)

	resp, err := server.Test(signedRequest(t, priv, body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var response structs.InteractionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&response))
	assert.Equal(t, structs.InteractionResponseTypePong, response.Type)
	assert.Empty(t, *events, "pings do not reach the event stream")
}

func TestVerifiedInteractionIsForwarded(t *testing.T) {
	t.Parallel()
	server, priv, events := newTestServer(t)
	body := []byte(`{"type":2,"id":"9","token":"tok","data":{"name":"greet"}}`)

	resp, err := server.Test(signedRequest(t, priv, body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, *events, 1)
	event := (*events)[0]
	assert.Equal(t, WebhookShardID, event.ShardID)
	assert.Equal(t, gateway.EventInteractionCreate, event.Name)
	assert.JSONEq(t, string(body), string(event.Data))
}

func TestBadSignatureIsRejected(t *testing.T) {
	t.Parallel()
	server, _, events := newTestServer(t)
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	body := []byte(`{"type":2}`)

	resp, err := server.Test(signedRequest(t, otherPriv, body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, *events)
}

func TestMissingSignatureHeadersAreRejected(t *testing.T) {
	t.Parallel()
	server, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/interactions", bytes.NewReader([]byte(`{"type":1}`)))

	resp, err := server.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNewServerValidatesKey(t *testing.T) {
	t.Parallel()
	sink := func(*gateway.Event) {}
	_, err := NewServer(ServerOptions{PublicKey: "zz", Sink: sink})
	assert.Error(t, err)
	_, err = NewServer(ServerOptions{PublicKey: "abcd", Sink: sink})
	assert.Error(t, err, "short keys are rejected")
	_, err = NewServer(ServerOptions{PublicKey: hex.EncodeToString(make([]byte, ed25519.PublicKeySize))})
	assert.Error(t, err, "a sink is required")
}
