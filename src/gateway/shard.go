package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// NewIdentifyLimiter throttles identify payloads across every session
// this process owns. The gateway permits max_concurrency identifies
// per 5 second window.
func NewIdentifyLimiter(maxConcurrency int) *rate.Limiter {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return rate.NewLimiter(rate.Every(5*time.Second/time.Duration(maxConcurrency)), 1)
}

type ShardManagerOptions struct {
	Token   string
	Intents Intent

	// ShardCount is the total shard count across all processes;
	// ShardIDs lists the shard ids this process runs. Leaving
	// ShardIDs empty runs [0, ShardCount).
	ShardCount int
	ShardIDs   []int

	// MaxConcurrency comes from GET /gateway/bot
	// session_start_limit.max_concurrency.
	MaxConcurrency int

	GatewayURL string
	Version    int
	Presence   *PresenceUpdate

	HandshakeTimeout time.Duration
	EventBuffer      int

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// ShardManager owns one Session per shard id, staggers their
// identifies and merges their dispatches into a single stream. A
// failed shard is restarted on its own backoff without stalling the
// others.
type ShardManager struct {
	opts     ShardManagerOptions
	sessions map[int]*Session

	events chan *Event
	errs   chan error

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewShardManager(opts ShardManagerOptions) *ShardManager {
	if opts.ShardCount < 1 {
		opts.ShardCount = 1
	}
	if len(opts.ShardIDs) == 0 {
		for id := 0; id < opts.ShardCount; id++ {
			opts.ShardIDs = append(opts.ShardIDs, id)
		}
	}
	if opts.EventBuffer == 0 {
		opts.EventBuffer = 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &ShardManager{
		opts:     opts,
		sessions: make(map[int]*Session, len(opts.ShardIDs)),
		events:   make(chan *Event, opts.EventBuffer),
		errs:     make(chan error, len(opts.ShardIDs)),
	}
	identify := NewIdentifyLimiter(opts.MaxConcurrency)
	for _, id := range opts.ShardIDs {
		m.sessions[id] = NewSession(SessionOptions{
			Token:            opts.Token,
			Intents:          opts.Intents,
			ShardID:          id,
			ShardCount:       opts.ShardCount,
			GatewayURL:       opts.GatewayURL,
			Version:          opts.Version,
			Presence:         opts.Presence,
			IdentifyLimiter:  identify,
			HandshakeTimeout: opts.HandshakeTimeout,
			Events:           m.events,
			Dialer:           opts.Dialer,
			Logger:           opts.Logger,
		})
	}
	return m
}

// Events is the merged dispatch stream. Per-shard ordering follows the
// transport; no cross-shard ordering is implied.
func (m *ShardManager) Events() <-chan *Event {
	return m.events
}

// Errs surfaces fatal per-shard failures, authentication errors in
// particular. The manager gives up on a shard only when recovery is
// impossible.
func (m *ShardManager) Errs() <-chan error {
	return m.errs
}

// Session returns the session for a shard id, or nil when this process
// does not own it.
func (m *ShardManager) Session(shardID int) *Session {
	return m.sessions[shardID]
}

// Start launches every shard. Identify stagger is enforced inside the
// sessions through the shared limiter, so launch order does not matter.
func (m *ShardManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrSessionAlreadyOpen
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	for id, session := range m.sessions {
		m.wg.Add(1)
		go m.runShard(runCtx, id, session)
	}
	m.opts.Logger.Info("shard manager started", "shards", len(m.sessions), "total", m.opts.ShardCount)
	return nil
}

func (m *ShardManager) runShard(ctx context.Context, id int, session *Session) {
	defer m.wg.Done()
	for attempts := 1; ; attempts++ {
		err := session.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}
		if fatal(err) {
			select {
			case m.errs <- fmt.Errorf("shard %d: %w", id, err):
			default:
			}
			return
		}
		delay := reconnectBackoff(attempts) + time.Duration(rand.Int63n(int64(time.Second)))
		m.opts.Logger.Warn("restarting shard", "shard_id", id, "error", err, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// Close cancels every session and waits for their cleanup.
func (m *ShardManager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.started = false
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.opts.Logger.Info("shard manager stopped")
}
