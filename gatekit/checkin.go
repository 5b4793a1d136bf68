package gatekit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openvenue/gatekit-go/gatekit/rest"

	"github.com/google/uuid"
)

// OutcomeKind classifies a failed check-in attempt.
type OutcomeKind int

const (
	// KindNone is the zero kind carried by successful outcomes.
	KindNone OutcomeKind = iota
	KindNotFound
	KindPermissionDenied
	KindWrongEvent
	KindInactiveTicket
	KindAlreadyCheckedIn
	KindProcessingError
	KindUnknownError
)

// String returns the string representation of an OutcomeKind.
func (k OutcomeKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindWrongEvent:
		return "wrong_event"
	case KindInactiveTicket:
		return "inactive_ticket"
	case KindAlreadyCheckedIn:
		return "already_checked_in"
	case KindProcessingError:
		return "processing_error"
	case KindUnknownError:
		return "unknown_error"
	default:
		return fmt.Sprintf("unknown_kind_%d", k)
	}
}

// Outcome is the result of one check-in attempt. It is a value object:
// every attempt produces a fresh one and it is never mutated afterwards.
// Failures carry a non-empty human-readable Message; the ticket snapshot
// is attached whenever the fetch phase produced one, so operators can see
// what they scanned even on rejection.
type Outcome struct {
	Success bool
	Kind    OutcomeKind
	Message string
	Ticket  *rest.TicketSnapshot
	User    *rest.UserSnapshot
}

// TicketAPI is the slice of the Ticket API the validator needs.
// *rest.Client implements it.
type TicketAPI interface {
	GetCheckinInfo(ctx context.Context, ticketID string) (*rest.CheckinInfo, error)
	Checkin(ctx context.Context, ticketID, idempotencyKey string) (*rest.CheckinResult, error)
}

// Validator turns a scanned ticket code into a single committed admission
// event. The flow is two-phase: fetch-and-validate first, commit only if
// every local guard passes, so mis-scans are cheap and side-effect-free
// to diagnose.
type Validator struct {
	api    TicketAPI
	logger Logger
}

// NewValidator constructs a validator over the given Ticket API.
func NewValidator(api TicketAPI) *Validator {
	return &Validator{api: api, logger: noopLogger{}}
}

// SetLogger overrides the logger (optional).
func (v *Validator) SetLogger(l Logger) {
	if l != nil {
		v.logger = l
	}
}

// CheckIn runs the full validation protocol for a scanned code against
// the target event. It never returns a Go error; every failure mode is
// classified in the Outcome so the calling UI can render a specific
// message per kind.
//
// The fetch phase is side-effect-free and safe for the caller to retry.
// The commit phase is sent at most once per call and is not retried
// automatically; re-scanning an already-committed ticket deterministically
// yields KindAlreadyCheckedIn.
func (v *Validator) CheckIn(ctx context.Context, code, targetEventID string) Outcome {
	if strings.TrimSpace(code) == "" {
		return failure(KindNotFound, "No ticket code was scanned. Try scanning again.", nil)
	}

	// Phase 1: fetch the pre-commit snapshot.
	info, err := v.api.GetCheckinInfo(ctx, code)
	if err != nil {
		return v.classifyFetchError(code, err)
	}

	ticket := info.Ticket
	user := info.User

	// Phase 2: local guards, in order. Each one short-circuits before any
	// state is mutated.
	if info.Event.ID != targetEventID {
		msg := "This ticket belongs to a different event"
		if info.Event.Name != "" {
			msg = fmt.Sprintf("This ticket belongs to a different event (%s).", info.Event.Name)
		} else {
			msg += "."
		}
		return failureWithUser(KindWrongEvent, msg, &ticket, &user)
	}
	if ticket.CheckedInAt != nil {
		msg := fmt.Sprintf("Ticket was already checked in at %s.",
			ticket.CheckedInAt.Local().Format("Jan 2, 2006 15:04"))
		return failureWithUser(KindAlreadyCheckedIn, msg, &ticket, &user)
	}
	if ticket.Status != rest.TicketActive {
		msg := fmt.Sprintf("This ticket is %s and cannot be checked in.", ticket.Status)
		return failureWithUser(KindInactiveTicket, msg, &ticket, &user)
	}

	// Phase 3: commit. The idempotency key identifies this scan; the
	// server stays the final arbiter of the single-use invariant when two
	// scanners race.
	result, err := v.api.Checkin(ctx, code, uuid.NewString())
	if err != nil {
		return v.classifyCommitError(code, err, &ticket, &user)
	}
	if !result.Success {
		msg := result.Message
		if msg == "" {
			msg = "The server rejected the check-in. Please try again."
		}
		v.logger.Warn("check-in rejected", map[string]any{"ticket": code, "message": msg})
		return failureWithUser(KindProcessingError, msg, &ticket, &user)
	}

	committed := result.Ticket
	if committed == nil {
		// Server omitted the committed snapshot; the transition happened,
		// so the status is used even though the exact timestamp is unknown.
		fallback := ticket
		fallback.Status = rest.TicketUsed
		committed = &fallback
	}
	v.logger.Info("check-in committed", map[string]any{"ticket": code, "event": targetEventID})
	return Outcome{Success: true, Ticket: committed, User: &user}
}

func (v *Validator) classifyFetchError(code string, err error) Outcome {
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusNotFound:
			return failure(KindNotFound,
				"No ticket matches this code. It may be mistyped or from another system.", nil)
		case http.StatusForbidden:
			return failure(KindPermissionDenied,
				"You are not authorized to check in tickets for this event.", nil)
		}
		if apiErr.Message != "" {
			return failure(KindProcessingError, apiErr.Message, nil)
		}
	}
	v.logger.Warn("check-in lookup failed", map[string]any{"ticket": code, "error": err.Error()})
	return failure(KindProcessingError, "Could not look up the ticket. Please try again.", nil)
}

func (v *Validator) classifyCommitError(code string, err error, ticket *rest.TicketSnapshot, user *rest.UserSnapshot) Outcome {
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusConflict:
			// A concurrent scanner won the race.
			return failureWithUser(KindAlreadyCheckedIn,
				"Ticket was already checked in by another scanner.", ticket, user)
		case http.StatusNotFound:
			return failure(KindNotFound,
				"No ticket matches this code. It may be mistyped or from another system.", nil)
		case http.StatusForbidden:
			return failureWithUser(KindPermissionDenied,
				"You are not authorized to check in tickets for this event.", ticket, user)
		}
		if apiErr.Message != "" {
			return failureWithUser(KindProcessingError, apiErr.Message, ticket, user)
		}
	}
	v.logger.Warn("check-in commit failed", map[string]any{"ticket": code, "error": err.Error()})
	return failureWithUser(KindProcessingError,
		"Could not complete the check-in. Please try again.", ticket, user)
}

func failure(kind OutcomeKind, msg string, ticket *rest.TicketSnapshot) Outcome {
	return Outcome{Kind: kind, Message: msg, Ticket: ticket}
}

func failureWithUser(kind OutcomeKind, msg string, ticket *rest.TicketSnapshot, user *rest.UserSnapshot) Outcome {
	return Outcome{Kind: kind, Message: msg, Ticket: ticket, User: user}
}
