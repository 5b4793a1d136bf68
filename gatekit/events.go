package gatekit

import "time"

// Server-pushed event kinds carried inside "event" frames.
const (
	eventMessage         = "message"
	eventReadReceipt     = "read_receipt"
	eventTyping          = "typing"
	eventMatchCreated    = "new_match"
	eventMatchDeleted    = "match_deleted"
	eventPresence        = "presence"
	eventNotification    = "notification"
	eventCheckinRecorded = "checkin_recorded"
)

// MessageEvent is emitted when a message arrives in the joined room.
type MessageEvent struct {
	Room      string    `json:"room"`
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	Kind      string    `json:"kind,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// ReadReceiptEvent is emitted when another participant reads messages.
type ReadReceiptEvent struct {
	Room       string   `json:"room"`
	ReaderID   string   `json:"reader_id"`
	MessageIDs []string `json:"message_ids"`
}

// TypingEvent is emitted when a participant starts or stops typing.
type TypingEvent struct {
	Room   string `json:"room"`
	UserID string `json:"user_id"`
	Typing bool   `json:"typing"`
}

// MatchEvent is emitted when a match is created or removed.
type MatchEvent struct {
	MatchID string `json:"match_id"`
	UserID  string `json:"user_id"`
	Room    string `json:"room,omitempty"`
}

// PresenceEvent is emitted when a participant goes online or offline.
type PresenceEvent struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// NotificationEvent is emitted for server-generated notifications.
type NotificationEvent struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CheckinRecordedEvent is emitted when any scanner commits a check-in for
// the event the room is scoped to, so dashboards can refresh their stats.
type CheckinRecordedEvent struct {
	EventID      string    `json:"event_id"`
	TicketID     string    `json:"ticket_id"`
	AttendeeName string    `json:"attendee_name,omitempty"`
	CheckedInAt  time.Time `json:"checked_in_at"`
}
