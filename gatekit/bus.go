package gatekit

import (
	"fmt"
	"sync"
)

// Subscription identifies a single handler registration on a Bus. Pass it
// to Off to remove the handler.
type Subscription struct {
	kind string
	id   uint64
}

type busEntry[T any] struct {
	id uint64
	fn func(T)
}

// Bus is a typed publish/subscribe registry decoupling transport-level
// frame arrival from application handlers. Each event kind has its own
// handler list; handlers for a kind run in registration order. Dispatch
// happens on the connection's read goroutine, so handlers must not block
// for long periods.
type Bus struct {
	logger Logger

	mu        sync.Mutex
	nextID    uint64
	messages  []busEntry[MessageEvent]
	receipts  []busEntry[ReadReceiptEvent]
	typings   []busEntry[TypingEvent]
	matches   []busEntry[MatchEvent]
	unmatches []busEntry[MatchEvent]
	presences []busEntry[PresenceEvent]
	notifies  []busEntry[NotificationEvent]
	checkins  []busEntry[CheckinRecordedEvent]
}

// NewBus constructs an empty bus. Handler panics are reported through the
// logger; pass nil to discard them.
func NewBus(logger Logger) *Bus {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bus{logger: logger}
}

// OnMessage registers a handler for incoming room messages.
func (b *Bus) OnMessage(fn func(MessageEvent)) Subscription {
	return subscribe(b, eventMessage, &b.messages, fn)
}

// OnReadReceipt registers a handler for read receipts.
func (b *Bus) OnReadReceipt(fn func(ReadReceiptEvent)) Subscription {
	return subscribe(b, eventReadReceipt, &b.receipts, fn)
}

// OnTyping registers a handler for typing indicators.
func (b *Bus) OnTyping(fn func(TypingEvent)) Subscription {
	return subscribe(b, eventTyping, &b.typings, fn)
}

// OnMatchCreated registers a handler for new matches.
func (b *Bus) OnMatchCreated(fn func(MatchEvent)) Subscription {
	return subscribe(b, eventMatchCreated, &b.matches, fn)
}

// OnMatchDeleted registers a handler for removed matches.
func (b *Bus) OnMatchDeleted(fn func(MatchEvent)) Subscription {
	return subscribe(b, eventMatchDeleted, &b.unmatches, fn)
}

// OnPresence registers a handler for presence changes.
func (b *Bus) OnPresence(fn func(PresenceEvent)) Subscription {
	return subscribe(b, eventPresence, &b.presences, fn)
}

// OnNotification registers a handler for notifications.
func (b *Bus) OnNotification(fn func(NotificationEvent)) Subscription {
	return subscribe(b, eventNotification, &b.notifies, fn)
}

// OnCheckinRecorded registers a handler for check-in broadcasts.
func (b *Bus) OnCheckinRecorded(fn func(CheckinRecordedEvent)) Subscription {
	return subscribe(b, eventCheckinRecorded, &b.checkins, fn)
}

// Off removes the registration identified by sub. Removing an unknown or
// already-removed subscription is a silent no-op.
func (b *Bus) Off(sub Subscription) {
	switch sub.kind {
	case eventMessage:
		unsubscribe(b, &b.messages, sub.id)
	case eventReadReceipt:
		unsubscribe(b, &b.receipts, sub.id)
	case eventTyping:
		unsubscribe(b, &b.typings, sub.id)
	case eventMatchCreated:
		unsubscribe(b, &b.matches, sub.id)
	case eventMatchDeleted:
		unsubscribe(b, &b.unmatches, sub.id)
	case eventPresence:
		unsubscribe(b, &b.presences, sub.id)
	case eventNotification:
		unsubscribe(b, &b.notifies, sub.id)
	case eventCheckinRecorded:
		unsubscribe(b, &b.checkins, sub.id)
	}
}

// Reset drops every registration. Called by Client.Disconnect.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = nil
	b.receipts = nil
	b.typings = nil
	b.matches = nil
	b.unmatches = nil
	b.presences = nil
	b.notifies = nil
	b.checkins = nil
}

func subscribe[T any](b *Bus, kind string, list *[]busEntry[T], fn func(T)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	*list = append(*list, busEntry[T]{id: b.nextID, fn: fn})
	return Subscription{kind: kind, id: b.nextID}
}

func unsubscribe[T any](b *Bus, list *[]busEntry[T], id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range *list {
		if e.id == id {
			*list = append((*list)[:i], (*list)[i+1:]...)
			break
		}
	}
	if len(*list) == 0 {
		*list = nil
	}
}

// dispatch invokes every handler registered for kind, in registration
// order. A panicking handler is recovered and logged so the remaining
// handlers still run.
func dispatch[T any](b *Bus, kind string, list *[]busEntry[T], ev T) {
	b.mu.Lock()
	entries := make([]busEntry[T], len(*list))
	copy(entries, *list)
	b.mu.Unlock()

	for _, e := range entries {
		invoke(b.logger, kind, e.fn, ev)
	}
}

func invoke[T any](logger Logger, kind string, fn func(T), ev T) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panic", map[string]any{
				"event": kind,
				"panic": fmt.Sprint(r),
			})
		}
	}()
	fn(ev)
}
