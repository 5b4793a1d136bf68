package gatekit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// liveServer is an in-process realtime server speaking the wire protocol:
// it reads the hello frame, acks the join, then keeps the socket open so
// tests can push frames or close it from the server side.
type liveServer struct {
	t   *testing.T
	srv *httptest.Server

	mu     sync.Mutex
	dials  int
	refuse bool
	reject *WireError

	conns  chan *websocket.Conn
	frames chan json.RawMessage
}

func newLiveServer(t *testing.T) *liveServer {
	ls := &liveServer{
		t:      t,
		conns:  make(chan *websocket.Conn, 8),
		frames: make(chan json.RawMessage, 32),
	}
	ls.srv = httptest.NewServer(http.HandlerFunc(ls.handle))
	t.Cleanup(ls.srv.Close)
	return ls
}

func (ls *liveServer) handle(w http.ResponseWriter, r *http.Request) {
	ls.mu.Lock()
	ls.dials++
	refuse, reject := ls.refuse, ls.reject
	ls.mu.Unlock()

	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx := r.Context()

	var hello struct {
		Type string `json:"type"`
		Data struct {
			Token string `json:"token"`
			Room  string `json:"room"`
		} `json:"data"`
	}
	if err := wsjson.Read(ctx, ws, &hello); err != nil || hello.Type != frameHello {
		ws.Close(websocket.StatusPolicyViolation, "bad hello")
		return
	}

	if reject != nil {
		_ = wsjson.Write(ctx, ws, map[string]any{"type": frameError, "error": reject})
		ws.Close(websocket.StatusPolicyViolation, "rejected")
		return
	}

	if err := wsjson.Write(ctx, ws, map[string]any{
		"type": frameJoined,
		"data": map[string]any{"room": hello.Data.Room},
	}); err != nil {
		return
	}

	ls.conns <- ws

	// Capture client frames until the socket dies.
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, ws, &raw); err != nil {
			return
		}
		select {
		case ls.frames <- raw:
		default:
		}
	}
}

func (ls *liveServer) url() string {
	return "ws" + strings.TrimPrefix(ls.srv.URL, "http")
}

func (ls *liveServer) dialCount() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.dials
}

func (ls *liveServer) setRefuse(v bool) {
	ls.mu.Lock()
	ls.refuse = v
	ls.mu.Unlock()
}

func (ls *liveServer) conn(t *testing.T) *websocket.Conn {
	select {
	case ws := <-ls.conns:
		return ws
	case <-time.After(2 * time.Second):
		t.Fatalf("no server-side connection established")
		return nil
	}
}

func (ls *liveServer) push(t *testing.T, ws *websocket.Conn, event string, payload any) {
	err := wsjson.Write(context.Background(), ws, map[string]any{
		"type":  frameEvent,
		"event": event,
		"data":  payload,
	})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
}

func testClient(t *testing.T, ls *liveServer, tokens TokenProvider) *Client {
	cfg := DefaultConfig()
	cfg.URL = ls.url()
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.ReconnectBase = 20 * time.Millisecond
	c := NewClient(cfg, tokens)
	t.Cleanup(c.Disconnect)
	return c
}

func watchStates(c *Client) chan StateEvent {
	ch := make(chan StateEvent, 32)
	c.OnStateChanged(func(ev StateEvent) { ch <- ev })
	return ch
}

func waitState(t *testing.T, ch chan StateEvent, want ConnectionState) StateEvent {
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.NewState == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func TestConnectIdempotent(t *testing.T) {
	ls := newLiveServer(t)
	c := testClient(t, ls, StaticToken("tok"))

	if err := c.Connect(context.Background(), "evt-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Connect(context.Background(), "evt-1"); err != nil {
		t.Fatalf("repeat connect: %v", err)
	}

	if n := ls.dialCount(); n != 1 {
		t.Fatalf("expected exactly one transport session, got %d dials", n)
	}
	if c.State() != StateConnected || c.Room() != "evt-1" {
		t.Fatalf("state=%v room=%q", c.State(), c.Room())
	}
}

func TestConnectSwitchesRoom(t *testing.T) {
	ls := newLiveServer(t)
	c := testClient(t, ls, StaticToken("tok"))

	if err := c.Connect(context.Background(), "evt-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Connect(context.Background(), "evt-2"); err != nil {
		t.Fatalf("switch connect: %v", err)
	}

	if n := ls.dialCount(); n != 2 {
		t.Fatalf("room switch must recreate the session, got %d dials", n)
	}
	if c.Room() != "evt-2" {
		t.Fatalf("room = %q", c.Room())
	}
}

func TestConnectWithoutToken(t *testing.T) {
	ls := newLiveServer(t)
	c := testClient(t, ls, StaticToken(""))

	err := c.Connect(context.Background(), "evt-1")
	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if n := ls.dialCount(); n != 0 {
		t.Fatalf("missing credential must fail before dialing, got %d dials", n)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %v", c.State())
	}
}

func TestConnectRejectedByServer(t *testing.T) {
	ls := newLiveServer(t)
	ls.reject = &WireError{Code: "unauthorized", Msg: "bad token"}
	c := testClient(t, ls, StaticToken("expired"))

	err := c.Connect(context.Background(), "evt-1")
	if CodeOf(err) != ErrorUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %v", c.State())
	}
}

func TestConnectEmptyRoom(t *testing.T) {
	ls := newLiveServer(t)
	c := testClient(t, ls, StaticToken("tok"))

	if err := c.Connect(context.Background(), ""); CodeOf(err) != ErrorInvalidConfig {
		t.Fatalf("expected invalid_config, got %v", err)
	}
}

func TestSendRequiresConnection(t *testing.T) {
	ls := newLiveServer(t)
	c := testClient(t, ls, StaticToken("tok"))

	err := c.SendMessage(context.Background(), "evt-1", "hi", "text")
	if CodeOf(err) != ErrorNotConnected {
		t.Fatalf("expected not_connected, got %v", err)
	}
	if err := c.MarkRead(context.Background(), "evt-1", []string{"m1"}); CodeOf(err) != ErrorNotConnected {
		t.Fatalf("expected not_connected, got %v", err)
	}

	if err := c.JoinRoom(context.Background(), "evt-2"); CodeOf(err) != ErrorNotConnected {
		t.Fatalf("expected not_connected, got %v", err)
	}
	if err := c.LeaveRoom(context.Background(), "evt-2"); CodeOf(err) != ErrorNotConnected {
		t.Fatalf("expected not_connected, got %v", err)
	}

	// Typing indicators are best-effort and swallow the failure.
	c.SendTyping(context.Background(), "evt-1", true)
}

func TestSendMessageDeliversFrame(t *testing.T) {
	ls := newLiveServer(t)
	c := testClient(t, ls, StaticToken("tok"))

	if err := c.Connect(context.Background(), "evt-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.SendMessage(context.Background(), "evt-1", "doors in 10", "text"); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case raw := <-ls.frames:
		var f struct {
			ID   string `json:"id"`
			Type string `json:"type"`
			Data struct {
				Room    string `json:"room"`
				Content string `json:"content"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if f.Type != frameMsg || f.Data.Room != "evt-1" || f.Data.Content != "doors in 10" {
			t.Fatalf("unexpected frame: %s", raw)
		}
		if f.ID == "" {
			t.Fatalf("outbound frame missing id")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("frame never reached the server")
	}
}

func TestInboundDispatch(t *testing.T) {
	ls := newLiveServer(t)
	c := testClient(t, ls, StaticToken("tok"))

	got := make(chan MessageEvent, 1)
	c.Events().OnMessage(func(ev MessageEvent) { got <- ev })

	if err := c.Connect(context.Background(), "evt-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ws := ls.conn(t)

	// Unknown kinds are dropped without breaking the stream.
	ls.push(t, ws, "totally_new_kind", map[string]any{"x": 1})
	ls.push(t, ws, eventMessage, MessageEvent{
		Room: "evt-1", MessageID: "m1", SenderID: "u2", Content: "doors open",
	})

	select {
	case ev := <-got:
		if ev.MessageID != "m1" || ev.Content != "doors open" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("message event never dispatched")
	}
}

func TestServerCloseDoesNotRetry(t *testing.T) {
	ls := newLiveServer(t)
	c := testClient(t, ls, StaticToken("tok"))
	states := watchStates(c)

	if err := c.Connect(context.Background(), "evt-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ws := ls.conn(t)

	ws.Close(websocket.StatusNormalClosure, "event over")

	waitState(t, states, StateDisconnected)
	time.Sleep(150 * time.Millisecond)
	if n := ls.dialCount(); n != 1 {
		t.Fatalf("intentional server close must not trigger reconnects, got %d dials", n)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	ls := newLiveServer(t)
	c := testClient(t, ls, StaticToken("tok"))
	states := watchStates(c)

	if err := c.Connect(context.Background(), "evt-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ws := ls.conn(t)

	ws.Close(websocket.StatusInternalError, "crash")

	waitState(t, states, StateReconnecting)
	waitState(t, states, StateConnected)

	if n := ls.dialCount(); n != 2 {
		t.Fatalf("expected one redial, got %d dials", n)
	}
	if c.Room() != "evt-1" {
		t.Fatalf("room not preserved across reconnect: %q", c.Room())
	}
}

func TestReconnectExhaustion(t *testing.T) {
	ls := newLiveServer(t)
	c := testClient(t, ls, StaticToken("tok"))
	states := watchStates(c)

	if err := c.Connect(context.Background(), "evt-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ws := ls.conn(t)

	ls.setRefuse(true)
	ws.Close(websocket.StatusInternalError, "crash")

	waitState(t, states, StateDisconnected)

	// Initial dial plus exactly MaxReconnectTries failed redials.
	if n := ls.dialCount(); n != 1+c.cfg.MaxReconnectTries {
		t.Fatalf("expected %d dials, got %d", 1+c.cfg.MaxReconnectTries, n)
	}

	// Settled: no further retries fire.
	time.Sleep(300 * time.Millisecond)
	if n := ls.dialCount(); n != 1+c.cfg.MaxReconnectTries {
		t.Fatalf("retries continued after exhaustion: %d dials", n)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %v", c.State())
	}
}

func TestDisconnectCancelsPendingRetry(t *testing.T) {
	ls := newLiveServer(t)
	c := testClient(t, ls, StaticToken("tok"))
	c.cfg.ReconnectBase = 200 * time.Millisecond
	states := watchStates(c)

	if err := c.Connect(context.Background(), "evt-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ws := ls.conn(t)

	ws.Close(websocket.StatusInternalError, "crash")
	waitState(t, states, StateReconnecting)

	c.Disconnect()

	// Wait well past the backoff delay: the cancelled timer must not fire.
	time.Sleep(600 * time.Millisecond)
	if n := ls.dialCount(); n != 1 {
		t.Fatalf("retry fired after disconnect: %d dials", n)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %v", c.State())
	}
}

func TestDisconnectClearsSubscriptions(t *testing.T) {
	ls := newLiveServer(t)
	c := testClient(t, ls, StaticToken("tok"))

	c.Events().OnMessage(func(MessageEvent) {})
	if err := c.Connect(context.Background(), "evt-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Disconnect()

	if c.bus.messages != nil {
		t.Fatalf("disconnect must clear event subscriptions")
	}
	if c.Room() != "" {
		t.Fatalf("room not reset: %q", c.Room())
	}
}
