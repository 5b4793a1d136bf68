package rest

import "time"

// TicketStatus is the lifecycle state of a ticket. Only active tickets
// are admissible for check-in.
type TicketStatus string

const (
	TicketActive    TicketStatus = "active"
	TicketUsed      TicketStatus = "used"
	TicketCancelled TicketStatus = "cancelled"
	TicketRefunded  TicketStatus = "refunded"
)

// TicketSnapshot is the server's view of a ticket at fetch time. The
// ticket ID doubles as the scannable code.
type TicketSnapshot struct {
	ID          string       `json:"id"`
	EventID     string       `json:"event_id"`
	Status      TicketStatus `json:"status"`
	TierName    string       `json:"tier_name,omitempty"`
	CheckedInAt *time.Time   `json:"checked_in_at,omitempty"`
}

// EventSummary identifies the event a ticket belongs to.
type EventSummary struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Venue    string    `json:"venue,omitempty"`
	StartsAt time.Time `json:"starts_at"`
}

// UserSnapshot identifies the ticket holder, for staff-facing
// confirmation UI.
type UserSnapshot struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// CheckinInfo is the pre-commit snapshot returned by the checkin-info
// endpoint.
type CheckinInfo struct {
	Ticket TicketSnapshot `json:"ticket"`
	Event  EventSummary   `json:"event"`
	User   UserSnapshot   `json:"user"`
}

// CheckinResult is the server's response to a check-in commit.
type CheckinResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Ticket  *TicketSnapshot `json:"ticket,omitempty"`
}

// RecentCheckin is one entry in the live admission feed.
type RecentCheckin struct {
	TicketID     string    `json:"ticket_id"`
	AttendeeName string    `json:"attendee_name,omitempty"`
	TierName     string    `json:"tier_name,omitempty"`
	CheckedInAt  time.Time `json:"checked_in_at"`
}

// CheckinStats is the aggregate check-in progress for an event.
type CheckinStats struct {
	EventID       string          `json:"event_id"`
	TotalTickets  int             `json:"total_tickets"`
	CheckedIn     int             `json:"checked_in"`
	Pending       int             `json:"pending"`
	RatePerMinute float64         `json:"rate_per_minute"`
	Recent        []RecentCheckin `json:"recent,omitempty"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// ErrorResponse is the API's error body shape.
type ErrorResponse struct {
	Error string `json:"error"`
}
