// Package webhook hosts the optional inbound interactions endpoint.
// Verified interaction payloads are forwarded into the same event
// stream as gateway dispatches; command routing is left to the
// application.
package webhook

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v3"

	"github.com/ternlib/tern/src/gateway"
	"github.com/ternlib/tern/src/structs"
)

// WebhookShardID marks events that arrived over HTTP rather than a
// gateway shard.
const WebhookShardID = -1

// Sink receives every verified interaction as a decoded event.
type Sink func(event *gateway.Event)

type ServerOptions struct {
	// PublicKey is the hex-encoded ed25519 application public key
	// used to verify request signatures.
	PublicKey string
	Sink      Sink
	Logger    *slog.Logger
}

type Server struct {
	router *fiber.App
	pubKey ed25519.PublicKey
	sink   Sink
	log    *slog.Logger
}

func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Sink == nil {
		return nil, errors.New("an event sink is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	pubKey, err := hex.DecodeString(opts.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return nil, errors.New("public key has the wrong length")
	}
	s := &Server{
		pubKey: ed25519.PublicKey(pubKey),
		sink:   opts.Sink,
		log:    opts.Logger,
	}
	s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() {
	router := fiber.New()
	router.Use("/", s.VerifyKeyMiddleware)
	router.Use("/", s.PingRequestMiddleware)
	router.Post("/interactions", func(c fiber.Ctx) error {
		interaction := new(structs.Interaction)
		if err := c.Bind().JSON(interaction); err != nil {
			s.log.Error("failed to decode interaction", "error", err)
			return c.Status(http.StatusBadRequest).SendString("bad request")
		}
		s.sink(&gateway.Event{
			ShardID: WebhookShardID,
			Name:    gateway.EventInteractionCreate,
			Data:    append([]byte(nil), c.BodyRaw()...),
		})
		return c.JSON(structs.InteractionResponse{
			Type: structs.InteractionResponseTypeDeferredChannelMessageWithSource,
		})
	})
	s.router = router
}

// Start blocks serving the endpoint until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.log.Info("interaction endpoint listening", "addr", addr)
	return s.router.Listen(addr, fiber.ListenConfig{
		GracefulContext: ctx,
		OnShutdownSuccess: func() {
			s.log.Info("interaction endpoint stopped")
		},
	})
}

// Test feeds a request through the router without a listener.
func (s *Server) Test(req *http.Request) (*http.Response, error) {
	return s.router.Test(req)
}
