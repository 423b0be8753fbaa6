package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type Status = string

const (
	StatusDisconnected Status = "DISCONNECTED"
	StatusConnecting   Status = "CONNECTING"
	StatusIdentifying  Status = "IDENTIFYING"
	StatusConnected    Status = "CONNECTED"
	StatusResuming     Status = "RESUMING"
)

const noSequence int64 = -1

// Internal signals used to pick the next transition after a connection
// ends. Everything else bubbling out of a connection is a transport
// fault.
var (
	errResume        = errors.New("gateway: reconnect and resume")
	errFreshIdentify = errors.New("gateway: reconnect with a fresh identify")
)

type SessionOptions struct {
	Token      string
	Intents    Intent
	ShardID    int
	ShardCount int

	// GatewayURL is the websocket URL without query parameters,
	// usually the one returned by GET /gateway/bot.
	GatewayURL string
	Version    int
	Presence   *PresenceUpdate

	// IdentifyLimiter throttles identify payloads. Shared across
	// sessions by the shard manager to respect max_concurrency.
	IdentifyLimiter *rate.Limiter

	HandshakeTimeout time.Duration

	Events chan<- *Event
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Session drives one shard's gateway connection: handshake, heartbeat,
// inbound opcode handling and resume/reconnect. All connection state is
// owned by the Run goroutine.
type Session struct {
	opts SessionOptions

	rwlock           sync.RWMutex
	wsConn           *websocket.Conn
	status           Status
	sessionID        string
	resumeGatewayURL string

	lastHeartbeatSent time.Time
	lastHeartbeatAck  time.Time

	writeLock   sync.Mutex
	sendLimiter *rate.Limiter

	sequence    atomic.Int64
	awaitingAck atomic.Bool
	established atomic.Bool
}

// maxConnectAttempts bounds consecutive failed connections before Run
// gives up and hands the shard back to its owner for a restart.
const maxConnectAttempts = 5

// NewSendLimiter throttles outbound gateway commands. The gateway
// allows 120 commands per minute per connection; a handful is reserved
// for heartbeats.
func NewSendLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Minute/110), 5)
}

func NewSession(opts SessionOptions) *Session {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Version == 0 {
		opts.Version = 10
	}
	if opts.ShardCount == 0 {
		opts.ShardCount = 1
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 30 * time.Second
	}
	opts.Logger = opts.Logger.With("shard_id", opts.ShardID)
	s := &Session{
		opts:        opts,
		status:      StatusDisconnected,
		sendLimiter: NewSendLimiter(),
	}
	s.sequence.Store(noSequence)
	return s
}

func (s *Session) Status() Status {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return s.status
}

func (s *Session) setStatus(st Status) {
	s.rwlock.Lock()
	s.status = st
	s.rwlock.Unlock()
}

// Sequence returns the last dispatch sequence number seen, or -1 when
// no dispatch has been received yet.
func (s *Session) Sequence() int64 {
	return s.sequence.Load()
}

func (s *Session) SessionID() string {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return s.sessionID
}

func (s *Session) LastHeartbeatAck() time.Time {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return s.lastHeartbeatAck
}

// clearSession drops resume state so the next connection performs a
// fresh identify.
func (s *Session) clearSession() {
	s.rwlock.Lock()
	s.sessionID = ""
	s.resumeGatewayURL = ""
	s.rwlock.Unlock()
	s.sequence.Store(noSequence)
}

func (s *Session) canResume() bool {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return s.sessionID != "" && s.sequence.Load() != noSequence
}

// Run connects the shard and keeps it connected until ctx is cancelled
// or a fatal close code is received. Transport drops and resumable
// close codes are recovered internally.
func (s *Session) Run(ctx context.Context) error {
	defer s.setStatus(StatusDisconnected)
	attempts := 0
	for {
		s.established.Store(false)
		err := s.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if s.established.Load() {
			attempts = 0
		}
		switch {
		case err == nil || errors.Is(err, errResume):
			// err == nil does not happen on a live gateway;
			// treat it like a transport drop.
			if s.canResume() {
				s.setStatus(StatusResuming)
				if attempts == 0 {
					s.opts.Logger.Info("gateway connection lost, resuming")
					continue
				}
				break
			}
			s.clearSession()
		case errors.Is(err, errFreshIdentify):
			s.opts.Logger.Info("gateway session invalidated, re-identifying")
			s.clearSession()
		default:
			if fatal(err) {
				s.opts.Logger.Error("gateway session hit a fatal close code", "error", err)
				return err
			}
			s.opts.Logger.Warn("gateway connection failed", "error", err)
			if errors.Is(err, ErrHandshakeTimeout) {
				// A stalled handshake falls back to a fresh
				// identify rather than retrying the resume.
				s.clearSession()
			}
		}
		attempts++
		if attempts >= maxConnectAttempts {
			if err == nil {
				err = errResume
			}
			return fmt.Errorf("shard gave up after %d failed connections: %w", attempts, err)
		}
		select {
		case <-time.After(reconnectBackoff(attempts)):
		case <-ctx.Done():
			return nil
		}
	}
}

func fatal(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed) ||
		errors.Is(err, ErrDisallowedIntents) ||
		errors.Is(err, ErrInvalidShard)
}

// reconnectBackoff grows exponentially from 1s and caps at 60s.
func reconnectBackoff(attempts int) time.Duration {
	if attempts > 6 {
		attempts = 6
	}
	d := time.Duration(1<<uint(attempts-1)) * time.Second
	return d + time.Duration(rand.Int63n(int64(time.Second)))
}

func (s *Session) gatewayURL(resuming bool) (string, error) {
	base := s.opts.GatewayURL
	if resuming {
		s.rwlock.RLock()
		if s.resumeGatewayURL != "" {
			base = s.resumeGatewayURL
		}
		s.rwlock.RUnlock()
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid gateway url %q: %w", base, err)
	}
	u.RawQuery = fmt.Sprintf("v=%d&encoding=json", s.opts.Version)
	return u.String(), nil
}

// connect runs one connection through its full lifecycle and returns
// when it dies. The returned error selects the next transition.
func (s *Session) connect(ctx context.Context) error {
	resuming := s.canResume()
	s.setStatus(StatusConnecting)

	wsurl, err := s.gatewayURL(resuming)
	if err != nil {
		return err
	}
	s.opts.Logger.Info("connecting to gateway", "url", wsurl, "resuming", resuming)
	conn, _, err := s.opts.Dialer.DialContext(ctx, wsurl, nil)
	if err != nil {
		return fmt.Errorf("failed to dial gateway: %w", err)
	}
	s.rwlock.Lock()
	s.wsConn = conn
	s.rwlock.Unlock()
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		// Unblock the read loop when ctx is cancelled.
		<-connCtx.Done()
		conn.Close()
	}()

	// The hello frame and the identify/resume acknowledgment must
	// both arrive within the handshake timeout.
	conn.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout))

	hello, err := s.readHello(conn)
	if err != nil {
		return err
	}
	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	s.awaitingAck.Store(false)
	go s.heartbeating(connCtx, conn, interval, !resuming)

	s.setStatus(StatusIdentifying)
	if err := s.handshake(connCtx, conn, resuming); err != nil {
		return err
	}
	return s.readLoop(connCtx, conn)
}

func (s *Session) readHello(conn *websocket.Conn) (*HelloData, error) {
	frame, err := s.readFrame(conn)
	if err != nil {
		return nil, s.classifyReadError(err, true)
	}
	if frame.Op != OpcodeHello {
		return nil, fmt.Errorf("expected hello, got opcode %d", frame.Op)
	}
	hello := new(HelloData)
	if err := json.Unmarshal(frame.D, hello); err != nil {
		return nil, fmt.Errorf("malformed hello payload: %w", err)
	}
	if hello.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("hello carried heartbeat_interval %d", hello.HeartbeatInterval)
	}
	return hello, nil
}

func (s *Session) handshake(ctx context.Context, conn *websocket.Conn, resuming bool) error {
	if resuming {
		s.rwlock.RLock()
		resume := ResumeData{
			Token:     s.opts.Token,
			SessionID: s.sessionID,
			Seq:       s.sequence.Load(),
		}
		s.rwlock.RUnlock()
		s.opts.Logger.Info("resume sent", "seq", resume.Seq)
		return s.send(ctx, conn, OpcodeResume, resume)
	}
	if lim := s.opts.IdentifyLimiter; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	identify := IdentifyData{
		Token:   s.opts.Token,
		Intents: s.opts.Intents,
		Shard:   [2]int{s.opts.ShardID, s.opts.ShardCount},
		Properties: IdentifyProperties{
			Os:      "linux",
			Browser: "tern",
			Device:  "tern",
		},
		Presence: s.opts.Presence,
	}
	s.opts.Logger.Info("identify sent")
	return s.send(ctx, conn, OpcodeIdentify, identify)
}

// readLoop consumes frames until the connection dies. handshaking is
// true until ready/resumed is observed; while it lasts the read
// deadline stays armed.
func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	handshaking := true
	for {
		frame, err := s.readFrame(conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return s.classifyReadError(err, handshaking)
		}
		done, err := s.onFrame(ctx, conn, frame)
		if err != nil {
			return err
		}
		if done && handshaking {
			handshaking = false
			conn.SetReadDeadline(time.Time{})
		}
	}
}

func (s *Session) readFrame(conn *websocket.Conn) (*RawFrame, error) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		frame := new(RawFrame)
		if err := json.Unmarshal(message, frame); err != nil {
			// Malformed frame: log and drop, the session continues.
			s.opts.Logger.Error("dropped malformed gateway frame", "error", err)
			continue
		}
		return frame, nil
	}
}

// classifyReadError maps a dead connection to the next transition.
// duringHandshake selects the fresh-identify fallback for timeouts.
func (s *Session) classifyReadError(err error, duringHandshake bool) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch {
		case closeErr.Code == CloseAuthenticationFailed:
			return fmt.Errorf("%w: %s", ErrAuthenticationFailed, closeErr.Text)
		case closeErr.Code == CloseDisallowedIntents:
			return fmt.Errorf("%w: %s", ErrDisallowedIntents, closeErr.Text)
		case closeErr.Code == CloseInvalidShard || closeErr.Code == CloseShardingRequired:
			return fmt.Errorf("%w: close code %d", ErrInvalidShard, closeErr.Code)
		case fatalCloseCodes[closeErr.Code]:
			return fmt.Errorf("%w: close code %d", ErrAuthenticationFailed, closeErr.Code)
		case resumableCloseCodes[closeErr.Code]:
			return errResume
		default:
			return errFreshIdentify
		}
	}
	if duringHandshake {
		return fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
	}
	// Plain transport drop. Resume when possible.
	return errResume
}

// onFrame handles one inbound frame. It reports whether the handshake
// acknowledgment (ready/resumed) has been seen.
func (s *Session) onFrame(ctx context.Context, conn *websocket.Conn, frame *RawFrame) (bool, error) {
	switch frame.Op {
	case OpcodeDispatch:
		return s.onDispatch(ctx, frame)
	case OpcodeHeartbeat:
		// The gateway requested an immediate beat.
		if err := s.sendHeartbeat(ctx, conn); err != nil {
			return false, errResume
		}
		return false, nil
	case OpcodeHeartbeatAck:
		s.awaitingAck.Store(false)
		s.rwlock.Lock()
		s.lastHeartbeatAck = time.Now().UTC()
		s.rwlock.Unlock()
		return false, nil
	case OpcodeReconnect:
		s.opts.Logger.Info("gateway requested reconnect")
		return false, errResume
	case OpcodeInvalidSession:
		var resumable InvalidSessionData
		if err := json.Unmarshal(frame.D, &resumable); err != nil {
			resumable = false
		}
		s.opts.Logger.Warn("session invalidated by gateway", "resumable", bool(resumable))
		if resumable {
			return false, errResume
		}
		return false, errFreshIdentify
	case OpcodeHello:
		// Already handled at connect time; a second hello is
		// unexpected but harmless.
		return false, nil
	default:
		s.opts.Logger.Warn("dropped frame with unknown opcode", "op", frame.Op)
		return false, nil
	}
}

func (s *Session) onDispatch(ctx context.Context, frame *RawFrame) (bool, error) {
	if frame.S > 0 {
		s.sequence.Store(frame.S)
	}
	ready := false
	switch frame.T {
	case EventReady:
		readyData := new(ReadyData)
		if err := json.Unmarshal(frame.D, readyData); err != nil {
			return false, fmt.Errorf("malformed ready payload: %w", err)
		}
		s.rwlock.Lock()
		s.sessionID = readyData.SessionID
		s.resumeGatewayURL = readyData.ResumeGatewayURL
		s.status = StatusConnected
		s.rwlock.Unlock()
		if s.sequence.Load() == noSequence {
			s.sequence.Store(0)
		}
		s.opts.Logger.Info("shard is ready", "session_id", readyData.SessionID)
		ready = true
	case EventResumed:
		s.setStatus(StatusConnected)
		s.opts.Logger.Info("shard resumed", "seq", s.sequence.Load())
		ready = true
	}
	if ready {
		s.established.Store(true)
	}
	event := &Event{
		ShardID:  s.opts.ShardID,
		Sequence: frame.S,
		Name:     frame.T,
		Data:     frame.D,
	}
	select {
	case s.opts.Events <- event:
	case <-ctx.Done():
	}
	return ready, nil
}

// heartbeating owns the single heartbeat timer for one connection. The
// first beat waits a random fraction of the interval on fresh
// connects. A tick arriving while the previous beat is unacknowledged
// means the connection is dead; closing it forces the read loop into
// the resume path.
func (s *Session) heartbeating(ctx context.Context, conn *websocket.Conn, interval time.Duration, jitterFirst bool) {
	first := interval
	if jitterFirst {
		first = time.Duration(rand.Float64() * float64(interval))
	}
	timer := time.NewTimer(first)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if s.awaitingAck.Load() {
				s.opts.Logger.Warn("heartbeat ack missed, closing connection")
				conn.Close()
				return
			}
			if err := s.sendHeartbeat(ctx, conn); err != nil {
				conn.Close()
				return
			}
			timer.Reset(interval)
		}
	}
}

func (s *Session) sendHeartbeat(ctx context.Context, conn *websocket.Conn) error {
	var seq interface{}
	if n := s.sequence.Load(); n != noSequence {
		seq = n
	}
	if err := s.send(ctx, conn, OpcodeHeartbeat, seq); err != nil {
		s.opts.Logger.Error("failed to send heartbeat", "error", err)
		return err
	}
	s.awaitingAck.Store(true)
	s.rwlock.Lock()
	s.lastHeartbeatSent = time.Now().UTC()
	s.rwlock.Unlock()
	return nil
}

func (s *Session) send(ctx context.Context, conn *websocket.Conn, op Opcode, d interface{}) error {
	data, err := json.Marshal(Frame{Op: op, D: d})
	if err != nil {
		return fmt.Errorf("failed to marshal gateway frame: %w", err)
	}
	if err := s.sendLimiter.Wait(ctx); err != nil {
		return err
	}
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Send submits an outbound command on the current connection.
func (s *Session) Send(ctx context.Context, op Opcode, d interface{}) error {
	s.rwlock.RLock()
	conn := s.wsConn
	connected := s.status == StatusConnected
	s.rwlock.RUnlock()
	if conn == nil || !connected {
		return errors.New("shard is not connected")
	}
	return s.send(ctx, conn, op, d)
}

// UpdatePresence changes the bot status on this shard.
func (s *Session) UpdatePresence(ctx context.Context, presence PresenceUpdate) error {
	return s.Send(ctx, OpcodePresenceUpdate, presence)
}

// RequestGuildMembers asks the gateway to stream GUILD_MEMBERS_CHUNK
// dispatches for a guild.
func (s *Session) RequestGuildMembers(ctx context.Context, req RequestGuildMembersData) error {
	if req.Query == nil && len(req.UserIDs) == 0 {
		empty := ""
		req.Query = &empty
	}
	return s.Send(ctx, OpcodeRequestGuildMembers, req)
}

// UpdateVoiceState joins, moves or leaves a voice channel. Voice data
// transport is out of scope; this only flips the gateway state.
func (s *Session) UpdateVoiceState(ctx context.Context, state VoiceStateUpdateData) error {
	return s.Send(ctx, OpcodeVoiceStateUpdate, state)
}
