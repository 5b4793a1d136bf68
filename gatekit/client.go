package gatekit

import (
	"context"
	"errors"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/openvenue/gatekit-go/gatekit/internal"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// TokenProvider supplies the bearer credential for the auth handshake.
// An empty token fails the connect attempt before the transport is dialed.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed credential.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Client maintains at most one live realtime session, bound to one room,
// with automatic recovery from unexpected transport drops. Construct one
// per process and pass it to whatever needs it; there is no package-level
// instance.
type Client struct {
	cfg    Config
	tokens TokenProvider
	logger Logger
	bus    *Bus

	mu      sync.Mutex
	state   ConnectionState
	roomID  string
	attempt int
	gen     uint64
	conn    *internal.Conn
	writeCh chan clientFrame
	cancel  context.CancelFunc
	retry   *time.Timer
	onState func(StateEvent)
	onError func(error)
}

// NewClient constructs a client with the provided config and credential
// source. Use DefaultConfig() as a starting point.
func NewClient(cfg Config, tokens TokenProvider) *Client {
	c := &Client{
		cfg:    cfg,
		tokens: tokens,
		logger: noopLogger{},
	}
	c.bus = NewBus(c.logger)
	return c
}

// SetLogger overrides the logger (optional).
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
	c.bus.logger = l
}

// Events exposes the subscription registry. Handlers registered here
// receive decoded server-pushed events for the joined room.
func (c *Client) Events() *Bus { return c.bus }

// OnStateChanged registers a callback fired on every connection state
// transition. UI code observes state here rather than individual errors.
func (c *Client) OnStateChanged(fn func(StateEvent)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnError registers a callback for protocol error frames and decode
// failures. These never terminate the connection by themselves.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Room returns the room the session is bound to, or "" when disconnected.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Connect establishes a session bound to roomID: it obtains a credential,
// dials the transport, performs the auth/join handshake, and resolves once
// the server acknowledges the join.
//
// Connecting to the room the client is already connected to is a no-op.
// Connecting to a different room tears the existing session down first;
// a device is in one room at a time.
func (c *Client) Connect(ctx context.Context, roomID string) error {
	if roomID == "" {
		return NewError(ErrorInvalidConfig, "room id must not be empty")
	}
	if c.cfg.URL == "" {
		return NewError(ErrorInvalidConfig, "websocket URL is not configured")
	}
	if _, err := url.Parse(c.cfg.URL); err != nil {
		return WrapError(ErrorInvalidConfig, "invalid websocket URL", err)
	}

	c.mu.Lock()
	if c.state == StateConnected && c.roomID == roomID {
		c.mu.Unlock()
		return nil
	}
	if c.state != StateDisconnected {
		c.teardownLocked()
	}
	c.gen++
	gen := c.gen
	c.roomID = roomID
	notify := c.setStateLocked(StateConnecting, nil)
	c.mu.Unlock()
	notify()

	if err := c.dial(ctx, gen, roomID); err != nil {
		c.mu.Lock()
		if gen == c.gen {
			c.roomID = ""
			notify = c.setStateLocked(StateDisconnected, err)
		} else {
			notify = func() {}
		}
		c.mu.Unlock()
		notify()
		return err
	}
	return nil
}

// Disconnect tears down the session from any state: it cancels any pending
// reconnect timer, closes the transport, clears all event subscriptions,
// and settles at Disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.teardownLocked()
	c.roomID = ""
	c.attempt = 0
	notify := c.setStateLocked(StateDisconnected, nil)
	c.mu.Unlock()
	notify()
	c.bus.Reset()
}

// SendMessage publishes a message to the room. Requires Connected state.
func (c *Client) SendMessage(ctx context.Context, roomID, content, kind string) error {
	return c.send(ctx, clientFrame{
		ID:   uuid.NewString(),
		Type: frameMsg,
		Data: msgPayload{Room: roomID, Content: content, Kind: kind},
	})
}

// MarkRead acknowledges messages as read. Requires Connected state.
func (c *Client) MarkRead(ctx context.Context, roomID string, messageIDs []string) error {
	return c.send(ctx, clientFrame{
		ID:   uuid.NewString(),
		Type: frameRead,
		Data: readPayload{Room: roomID, MessageIDs: messageIDs},
	})
}

// SendTyping signals the typing indicator. Best-effort: failures are
// swallowed since typing state is non-critical telemetry.
func (c *Client) SendTyping(ctx context.Context, roomID string, typing bool) {
	err := c.send(ctx, clientFrame{
		Type: frameTyping,
		Data: typingPayload{Room: roomID, Typing: typing},
	})
	if err != nil {
		c.logger.Debug("typing indicator dropped", map[string]any{"error": err.Error()})
	}
}

// JoinRoom subscribes to an additional room scope on the live session.
// Requires Connected state.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	return c.send(ctx, clientFrame{Type: frameJoin, Data: roomPayload{Room: roomID}})
}

// LeaveRoom unsubscribes a room scope. Requires Connected state.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	return c.send(ctx, clientFrame{Type: frameLeave, Data: roomPayload{Room: roomID}})
}

// send enqueues a frame for the write loop. Outbound frames are never
// queued across disconnects; callers get an immediate not_connected error.
func (c *Client) send(ctx context.Context, f clientFrame) error {
	c.mu.Lock()
	connected := c.state == StateConnected
	ch := c.writeCh
	c.mu.Unlock()
	if !connected || ch == nil {
		return NewError(ErrorNotConnected, "no live session")
	}

	select {
	case ch <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dial obtains a credential, opens the transport, performs the handshake,
// and on success installs the connection and starts the pump loops. It
// does not transition to Disconnected on failure; callers decide.
func (c *Client) dial(ctx context.Context, gen uint64, roomID string) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return WrapError(ErrorAuthMissing, "credential provider failed", err)
	}
	if token == "" {
		return NewError(ErrorAuthMissing, "credential provider returned no token")
	}

	hctx := ctx
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	ws, _, err := websocket.Dial(hctx, c.cfg.URL, nil)
	if err != nil {
		return WrapError(ErrorConnection, "dial failed", err)
	}
	conn := internal.NewConn(ws, c.cfg.ReadTimeout, c.cfg.WriteTimeout)

	hello := clientFrame{
		Type: frameHello,
		Data: helloPayload{
			Protocol: ProtocolVersion,
			Token:    token,
			Room:     roomID,
			Device:   c.cfg.Device,
		},
	}
	if err := conn.Write(hctx, hello); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake error")
		return WrapError(ErrorConnection, "handshake write failed", err)
	}

	// No frame is dispatched to handlers before the join ack arrives.
	if err := awaitJoined(hctx, conn, roomID); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake error")
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		return NewError(ErrorDisconnected, "session superseded during connect")
	}
	c.conn = conn
	c.attempt = 0
	c.writeCh = make(chan clientFrame, 16)
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	notify := c.setStateLocked(StateConnected, nil)
	writeCh := c.writeCh
	c.mu.Unlock()
	notify()

	go c.readLoop(runCtx, gen, conn)
	go c.writeLoop(runCtx, conn, writeCh)

	c.logger.Info("session established", map[string]any{"room": roomID})
	return nil
}

// awaitJoined reads frames until the server acknowledges the room join.
func awaitJoined(ctx context.Context, conn *internal.Conn, roomID string) error {
	for {
		var f serverFrame
		if err := conn.Read(ctx, &f); err != nil {
			if ctx.Err() != nil {
				return WrapError(ErrorTimeout, "room join not acknowledged", err)
			}
			return WrapError(ErrorConnection, "handshake read failed", err)
		}
		switch f.Type {
		case frameJoined:
			var p joinedPayload
			if err := unmarshalData(f.Data, &p); err != nil {
				return WrapError(ErrorSerialization, "malformed join ack", err)
			}
			if p.Room != "" && p.Room != roomID {
				return NewError(ErrorBadRequest, "server acknowledged a different room")
			}
			return nil
		case frameError:
			if f.Error == nil {
				return NewError(ErrorUnknown, "server rejected the handshake")
			}
			return FromWireError(f.Error)
		default:
			// Pre-ack frames are dropped; ordering is only guaranteed
			// after the handshake completes.
		}
	}
}

func (c *Client) readLoop(ctx context.Context, gen uint64, conn *internal.Conn) {
	for {
		var f serverFrame
		if err := conn.Read(ctx, &f); err != nil {
			c.handleReadExit(ctx, gen, err)
			return
		}
		c.dispatchFrame(f)
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *internal.Conn, ch <-chan clientFrame) {
	for {
		select {
		case f := <-ch:
			if err := conn.Write(ctx, f); err != nil {
				c.fireError(WrapError(ErrorConnection, "write failed", err))
				c.logger.Warn("write loop exit", map[string]any{"error": err.Error()})
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleReadExit classifies a read-loop failure. Intentional server
// closures settle at Disconnected; anything else enters the reconnect
// machine.
func (c *Client) handleReadExit(ctx context.Context, gen uint64, err error) {
	if ctx.Err() != nil {
		return // torn down locally
	}

	c.mu.Lock()
	if gen != c.gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.releaseTransportLocked()

	var notify func()
	if isIntentionalClose(err) {
		c.logger.Info("server closed connection", map[string]any{"room": c.roomID})
		c.roomID = ""
		c.attempt = 0
		notify = c.setStateLocked(StateDisconnected, err)
	} else {
		c.logger.Warn("connection lost", map[string]any{"room": c.roomID, "error": err.Error()})
		notify = c.setStateLocked(StateReconnecting, err)
		c.scheduleRetryLocked()
	}
	c.mu.Unlock()
	notify()
}

// scheduleRetryLocked arms the backoff timer for the current attempt.
// Delay doubles per attempt: base, 2*base, 4*base ... up to the cap.
func (c *Client) scheduleRetryLocked() {
	delay := c.cfg.ReconnectBase * time.Duration(1<<uint(c.attempt))
	gen := c.gen
	c.logger.Info("reconnect scheduled", map[string]any{
		"attempt": c.attempt + 1,
		"delay":   delay.String(),
	})
	c.retry = time.AfterFunc(delay, func() { c.retryConnect(gen) })
}

func (c *Client) retryConnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	roomID := c.roomID
	c.mu.Unlock()

	err := c.dial(context.Background(), gen, roomID)
	if err == nil {
		return
	}
	if IsAuthError(err) {
		// A rejected credential will not heal by retrying.
		c.settleAfterRetry(gen, err)
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.attempt++
	if c.attempt >= c.cfg.MaxReconnectTries {
		c.logger.Error("reconnect attempts exhausted", map[string]any{
			"room":     roomID,
			"attempts": c.attempt,
		})
		c.roomID = ""
		c.attempt = 0
		notify := c.setStateLocked(StateDisconnected, err)
		c.mu.Unlock()
		notify()
		return
	}
	c.scheduleRetryLocked()
	c.mu.Unlock()
}

func (c *Client) settleAfterRetry(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.roomID = ""
	c.attempt = 0
	notify := c.setStateLocked(StateDisconnected, err)
	c.mu.Unlock()
	notify()
}

// dispatchFrame decodes a server frame and fans it out through the bus.
// The client performs no business interpretation of payloads.
func (c *Client) dispatchFrame(f serverFrame) {
	if f.Type == frameError {
		if f.Error != nil {
			c.fireError(FromWireError(f.Error))
		}
		return
	}
	if f.Type != frameEvent {
		c.logger.Debug("unhandled frame", map[string]any{"type": f.Type})
		return
	}

	switch f.Event {
	case eventMessage:
		decodeAndDispatch(c, f, &c.bus.messages)
	case eventReadReceipt:
		decodeAndDispatch(c, f, &c.bus.receipts)
	case eventTyping:
		decodeAndDispatch(c, f, &c.bus.typings)
	case eventMatchCreated:
		decodeAndDispatch(c, f, &c.bus.matches)
	case eventMatchDeleted:
		decodeAndDispatch(c, f, &c.bus.unmatches)
	case eventPresence:
		decodeAndDispatch(c, f, &c.bus.presences)
	case eventNotification:
		decodeAndDispatch(c, f, &c.bus.notifies)
	case eventCheckinRecorded:
		decodeAndDispatch(c, f, &c.bus.checkins)
	default:
		c.logger.Debug("unknown event kind", map[string]any{"event": f.Event})
	}
}

func decodeAndDispatch[T any](c *Client, f serverFrame, list *[]busEntry[T]) {
	var ev T
	if err := unmarshalData(f.Data, &ev); err != nil {
		c.fireError(WrapError(ErrorSerialization, "failed to unmarshal "+f.Event+" event", err))
		return
	}
	dispatch(c.bus, f.Event, list, ev)
}

func (c *Client) fireError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// setStateLocked records a transition and returns a notifier to run after
// the mutex is released, so state callbacks may call back into the client.
func (c *Client) setStateLocked(s ConnectionState, cause error) func() {
	if c.state == s {
		return func() {}
	}
	old := c.state
	c.state = s
	c.logger.Debug("state change", map[string]any{"from": old.String(), "to": s.String()})
	fn := c.onState
	if fn == nil {
		return func() {}
	}
	return func() { fn(StateEvent{OldState: old, NewState: s, Err: cause}) }
}

// teardownLocked stops the pump loops, cancels any pending backoff timer,
// and closes the transport if open.
func (c *Client) teardownLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		// Cancelling the pump context already aborts the in-flight read,
		// so a close handshake would never complete; drop the transport.
		_ = c.conn.CloseNow()
		c.conn = nil
	}
	c.writeCh = nil
}

// releaseTransportLocked drops the dead transport without state changes.
func (c *Client) releaseTransportLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		_ = c.conn.CloseNow()
		c.conn = nil
	}
	c.writeCh = nil
}

// isIntentionalClose reports whether the read error is a deliberate,
// server-initiated shutdown rather than a drop worth retrying.
func isIntentionalClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return false // abrupt drop, retry
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
