package mailsync

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for sync engine events.
const (
	EventNameSyncStarted   = "mailsync.sync.started"
	EventNameSyncCompleted = "mailsync.sync.completed"
	EventNameSyncFailed    = "mailsync.sync.failed"
	EventNameEmailSent     = "mailsync.email.sent"
)

// SyncStartedEvent is published when a mailbox sync begins.
type SyncStartedEvent struct {
	SyncID    string    `json:"sync_id"`
	UserID    string    `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
}

// SyncCompletedEvent is published when a mailbox sync finishes
// successfully.
type SyncCompletedEvent struct {
	SyncID      string    `json:"sync_id"`
	UserID      string    `json:"user_id"`
	EmailCount  int       `json:"email_count"`
	FolderCount int       `json:"folder_count"`
	CompletedAt time.Time `json:"completed_at"`
}

// SyncFailedEvent is published when a mailbox sync fails.
type SyncFailedEvent struct {
	SyncID   string    `json:"sync_id"`
	UserID   string    `json:"user_id"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// EmailSentEvent is published when an outgoing email is accepted by
// the provider.
type EmailSentEvent struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Subject   string    `json:"subject"`
	SentAt    time.Time `json:"sent_at"`
}

// ServiceEvents provides access to per-service event instances. Each
// service creates its own events bound to its own event bus, enabling
// independent routing and parallel testing.
//
// Subscribe to events:
//
//	svc.Events().SyncCompleted.Subscribe(ctx, handler)
type ServiceEvents struct {
	// SyncStarted is published when a mailbox sync begins.
	SyncStarted event.Event[SyncStartedEvent]

	// SyncCompleted is published when a mailbox sync finishes.
	SyncCompleted event.Event[SyncCompletedEvent]

	// SyncFailed is published when a mailbox sync fails.
	SyncFailed event.Event[SyncFailedEvent]

	// EmailSent is published when an outgoing email is sent.
	EmailSent event.Event[EmailSentEvent]
}

// newServiceEvents creates per-service event instances with a unique
// name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		SyncStarted:   event.New[SyncStartedEvent](namePrefix + "." + EventNameSyncStarted),
		SyncCompleted: event.New[SyncCompletedEvent](namePrefix + "." + EventNameSyncCompleted),
		SyncFailed:    event.New[SyncFailedEvent](namePrefix + "." + EventNameSyncFailed),
		EmailSent:     event.New[EmailSentEvent](namePrefix + "." + EventNameEmailSent),
	}
}

// registerServiceEvents registers per-service events with the given
// bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.SyncStarted); err != nil {
		return fmt.Errorf("register SyncStarted: %w", err)
	}
	if err := event.Register(ctx, bus, events.SyncCompleted); err != nil {
		return fmt.Errorf("register SyncCompleted: %w", err)
	}
	if err := event.Register(ctx, bus, events.SyncFailed); err != nil {
		return fmt.Errorf("register SyncFailed: %w", err)
	}
	if err := event.Register(ctx, bus, events.EmailSent); err != nil {
		return fmt.Errorf("register EmailSent: %w", err)
	}
	return nil
}
