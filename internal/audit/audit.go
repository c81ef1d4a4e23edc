// Package audit records notification lifecycle events.
package audit

import (
	"context"
	"time"

	"notification-dispatch/internal/common/logger"
	"notification-dispatch/internal/models"

	"github.com/google/uuid"
)

// Event is one lifecycle step of a notification. From is empty for creation
// and suppression events.
type Event struct {
	ID                 string        `json:"id"`
	NotificationID     string        `json:"notificationId,omitempty"`
	TenantID           string        `json:"tenantId"`
	UserID             string        `json:"userId"`
	NotificationTypeID string        `json:"notificationTypeId,omitempty"`
	ChannelType        string        `json:"channelType,omitempty"`
	Action             string        `json:"action"`
	From               models.Status `json:"from,omitempty"`
	To                 models.Status `json:"to,omitempty"`
	Error              string        `json:"error,omitempty"`
	ExternalID         string        `json:"externalId,omitempty"`
	At                 time.Time     `json:"at"`
}

const (
	ActionCreated    = "created"
	ActionTransition = "transition"
	ActionSuppressed = "suppressed"
	ActionRead       = "read"
	ActionUnread     = "unread"
)

// NewEvent stamps an event id and time.
func NewEvent(action string, n *models.Notification, at time.Time) Event {
	e := Event{
		ID:     uuid.NewString(),
		Action: action,
		At:     at.UTC(),
	}
	if n != nil {
		e.NotificationID = n.ID
		e.TenantID = n.TenantID
		e.UserID = n.UserID
		e.NotificationTypeID = n.NotificationTypeID
	}
	return e
}

// Sink stores events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: logger.Component(log, "audit")}
}

func (s *LogSink) Record(ctx context.Context, e Event) error {
	s.logger.Info("notification event", map[string]interface{}{
		"eventId":        e.ID,
		"notificationId": e.NotificationID,
		"tenantId":       e.TenantID,
		"userId":         e.UserID,
		"action":         e.Action,
		"from":           string(e.From),
		"to":             string(e.To),
		"error":          e.Error,
	})
	return nil
}

// Multi fans an event out to every sink and returns the first error.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Event) error {
	var first error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
