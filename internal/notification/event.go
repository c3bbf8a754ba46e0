package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

type EventKind string

const (
	EventSubmitted     EventKind = "SUBMITTED"
	EventApproved      EventKind = "APPROVED"
	EventRejected      EventKind = "REJECTED"
	EventReturned      EventKind = "RETURNED"
	EventBatchSigned   EventKind = "BATCH_SIGNED"
	EventBatchRejected EventKind = "BATCH_REJECTED"
)

// Event tells a role, or a single user, that a document needs attention or
// has been decided.
type Event struct {
	Kind           EventKind
	DocumentKind   string
	DocumentID     snowflake.ID
	DocumentNumber string
	Status         string
	// RecipientLevel is the role notified. RecipientUserID narrows it to one
	// user, such as the creator.
	RecipientLevel  int
	RecipientUserID string
	ActorID         string
	ActorLevel      int
	Comment         string
	BatchNumber     string
	OccurredAt      time.Time
}

func (e Event) Subject() string {
	ref := e.DocumentNumber
	if ref == "" {
		ref = e.DocumentKind + " " + e.DocumentID.String()
	}
	switch e.Kind {
	case EventSubmitted:
		return fmt.Sprintf("%s submitted for approval", ref)
	case EventApproved:
		if e.RecipientUserID != "" {
			return fmt.Sprintf("%s has been approved", ref)
		}
		return fmt.Sprintf("%s awaits your approval", ref)
	case EventRejected:
		return fmt.Sprintf("%s has been rejected", ref)
	case EventReturned:
		return fmt.Sprintf("%s returned for revision", ref)
	case EventBatchSigned:
		return fmt.Sprintf("%s signed in %s", ref, e.BatchNumber)
	case EventBatchRejected:
		return fmt.Sprintf("%s: signature batch %s rejected", ref, e.BatchNumber)
	default:
		return ref
	}
}

func (e Event) Body() string {
	body := fmt.Sprintf("%s\n\nStatus: %s\nBy: %s (level %d)\nAt: %s\n",
		e.Subject(),
		e.Status,
		e.ActorID,
		e.ActorLevel,
		e.OccurredAt.Format(time.RFC3339),
	)
	if e.Comment != "" {
		body += "\nComment: " + e.Comment + "\n"
	}
	return body
}

// Publisher accepts events without blocking the caller. Delivery is
// best-effort.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Sink delivers one event.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}
