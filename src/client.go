package tern

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ternlib/tern/src/gateway"
	"github.com/ternlib/tern/src/rest"
)

type Options struct {
	Token   string
	Intents gateway.Intent

	// ShardCount of 0 uses the count recommended by the platform.
	ShardCount int
	ShardIDs   []int
	Presence   *gateway.PresenceUpdate

	// GatewayURL skips the GET /gateway/bot discovery when set.
	GatewayURL  string
	HTTPBaseURL string

	RestTimeout    time.Duration
	RestMaxRetries int
	EventBuffer    int

	Logger *slog.Logger
}

// Client is the owned context object tying the whole engine together:
// it builds the rate limiter, REST dispatcher and shard manager at
// Start and tears them down at Close. No state lives outside it.
type Client struct {
	opts     Options
	log      *slog.Logger
	rest     *rest.Client
	handlers *handlerRegistry

	mu      sync.Mutex
	shards  *gateway.ShardManager
	cancel  context.CancelFunc
	errs    chan error
	stopped chan struct{}
}

func NewClient(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, errors.New("a bot token is required")
	}
	if opts.Logger == nil {
		opts.Logger = NewLogger(os.Stderr, slog.LevelInfo)
	}
	c := &Client{
		opts:     opts,
		log:      opts.Logger,
		handlers: newHandlerRegistry(),
		errs:     make(chan error, 1),
	}
	c.rest = rest.NewClient(rest.Options{
		Token:      opts.Token,
		BaseURL:    opts.HTTPBaseURL,
		Timeout:    opts.RestTimeout,
		MaxRetries: opts.RestMaxRetries,
		Logger:     opts.Logger,
	})
	return c, nil
}

// Rest is the REST dispatcher for this client.
func (c *Client) Rest() *rest.Client {
	return c.rest
}

// On registers a handler for a dispatch event name, e.g.
// "MESSAGE_CREATE". Handlers run on the dispatch goroutine in event
// order per shard.
func (c *Client) On(name gateway.EventName, h Handler) {
	c.handlers.on(name, h)
}

// OnAny registers a handler invoked for every dispatch event.
func (c *Client) OnAny(h Handler) {
	c.handlers.onAny(h)
}

// Err delivers at most one fatal, unrecoverable failure, such as a
// rejected token. Recoverable gateway faults never show up here.
func (c *Client) Err() <-chan error {
	return c.errs
}

// Shard returns a connected shard session for outbound gateway
// commands, or nil before Start.
func (c *Client) Shard(id int) *gateway.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shards == nil {
		return nil
	}
	return c.shards.Session(id)
}

// Start discovers the gateway, connects every shard and begins
// dispatching events. It does not block; cancel ctx or call Close to
// stop.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shards != nil {
		return gateway.ErrSessionAlreadyOpen
	}

	gatewayURL := c.opts.GatewayURL
	shardCount := c.opts.ShardCount
	maxConcurrency := 1
	if gatewayURL == "" || shardCount == 0 {
		gw, err := c.rest.GetGatewayBot(ctx)
		if err != nil {
			return err
		}
		if gatewayURL == "" {
			gatewayURL = gw.URL
		}
		if shardCount == 0 {
			shardCount = gw.Shards
		}
		maxConcurrency = gw.SessionStartLimit.MaxConcurrency
	}

	shards := gateway.NewShardManager(gateway.ShardManagerOptions{
		Token:          c.opts.Token,
		Intents:        c.opts.Intents,
		ShardCount:     shardCount,
		ShardIDs:       c.opts.ShardIDs,
		MaxConcurrency: maxConcurrency,
		GatewayURL:     gatewayURL,
		Presence:       c.opts.Presence,
		EventBuffer:    c.opts.EventBuffer,
		Logger:         c.log,
	})
	runCtx, cancel := context.WithCancel(ctx)
	if err := shards.Start(runCtx); err != nil {
		cancel()
		return err
	}
	c.shards = shards
	c.cancel = cancel
	c.stopped = make(chan struct{})
	go c.dispatchLoop(runCtx, shards)
	return nil
}

// dispatchLoop is the single exit point for decoded events.
func (c *Client) dispatchLoop(ctx context.Context, shards *gateway.ShardManager) {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-shards.Events():
			c.handlers.dispatch(event)
		case err := <-shards.Errs():
			c.log.Error("fatal gateway failure", "error", err)
			select {
			case c.errs <- err:
			default:
			}
		}
	}
}

// Dispatch injects an event into the handler stream as if it came off
// the gateway. Used by the webhook endpoint.
func (c *Client) Dispatch(event *gateway.Event) {
	c.handlers.dispatch(event)
}

// Close cancels every session, waits for their cleanup and stops the
// dispatch loop.
func (c *Client) Close() {
	c.mu.Lock()
	shards := c.shards
	cancel := c.cancel
	stopped := c.stopped
	c.shards = nil
	c.cancel = nil
	c.mu.Unlock()
	if shards == nil {
		return
	}
	cancel()
	shards.Close()
	<-stopped
	c.log.Info("client stopped")
}
