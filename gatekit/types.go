package gatekit

import "encoding/json"

const (
	ProtocolVersion = 1

	frameHello  = "hello"
	frameJoin   = "join"
	frameLeave  = "leave"
	frameMsg    = "msg"
	frameRead   = "read"
	frameTyping = "typing"

	frameJoined = "joined"
	frameEvent  = "event"
	frameError  = "error"
)

// clientFrame is the envelope from client to server.
type clientFrame struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// serverFrame is the envelope from server to client.
type serverFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *WireError      `json:"error,omitempty"`
}

// helloPayload authenticates the session and requests a room join.
type helloPayload struct {
	Protocol int    `json:"protocol,omitempty"`
	Token    string `json:"token"`
	Room     string `json:"room"`
	Device   string `json:"device,omitempty"`
}

// roomPayload addresses a room for join/leave frames.
type roomPayload struct {
	Room string `json:"room"`
}

// joinedPayload acknowledges the room join.
type joinedPayload struct {
	Room string `json:"room"`
}

// msgPayload publishes a message to a room.
type msgPayload struct {
	Room    string `json:"room"`
	Content string `json:"content"`
	Kind    string `json:"kind,omitempty"`
}

// readPayload acknowledges messages as read.
type readPayload struct {
	Room       string   `json:"room"`
	MessageIDs []string `json:"message_ids"`
}

// typingPayload signals the typing indicator.
type typingPayload struct {
	Room   string `json:"room"`
	Typing bool   `json:"typing"`
}

// WireError describes a protocol error frame.
type WireError struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *WireError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}

// unmarshalData decodes a frame payload into target.
func unmarshalData(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}
