// Package repository persists the notification catalog, user preferences and
// delivery records. Postgres is the production store; Memory backs tests and
// local runs without a database.
package repository

import (
	"context"
	"errors"
	"time"

	"notification-dispatch/internal/models"
)

var (
	ErrNotFound        = errors.New("NOT_FOUND")
	ErrVersionConflict = errors.New("VERSION_CONFLICT")
)

// Catalog is the admin-maintained, read-only side of the store.
type Catalog interface {
	// GetNotificationTypeByCode returns the active type with code.
	GetNotificationTypeByCode(ctx context.Context, code string) (*models.NotificationType, error)
	// ListChannelsByCode returns active channels with code that are scoped to
	// tenantID or are system-wide.
	ListChannelsByCode(ctx context.Context, code, tenantID string) ([]*models.Channel, error)
	// ListTemplates returns active templates for the (type, channel) pair that
	// are scoped to tenantID or are system-wide.
	ListTemplates(ctx context.Context, notificationTypeID, channelID, tenantID string) ([]*models.Template, error)
	// GetChannel returns a channel by id regardless of its active flag.
	GetChannel(ctx context.Context, id string) (*models.Channel, error)
}

// PreferenceStore holds per (tenant, user, notification type) preferences.
type PreferenceStore interface {
	GetPreference(ctx context.Context, tenantID, userID, notificationTypeID string) (*models.Preference, error)
	// CreatePreferenceIfAbsent inserts p unless a row for the same
	// (tenant, user, type) exists, and returns whichever row is stored.
	CreatePreferenceIfAbsent(ctx context.Context, p *models.Preference) (*models.Preference, error)
	UpdatePreference(ctx context.Context, p *models.Preference) error
}

// NotificationStore holds delivery records.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id string) (*models.Notification, error)
	// TransitionNotification writes n's mutable delivery fields if the stored
	// row still has n.Version and status from. On success n.Version is
	// incremented; otherwise ErrVersionConflict is returned.
	TransitionNotification(ctx context.Context, n *models.Notification, from models.Status) error
	// SetReadState flips is_read for one row if it is not already in the
	// target state and reports whether the row changed.
	SetReadState(ctx context.Context, id string, read bool, at time.Time) (bool, error)
	// MarkAllAsRead marks every unread row of the user read and returns the count.
	MarkAllAsRead(ctx context.Context, tenantID, userID string, at time.Time) (int64, error)
	// ListDue returns pending rows whose scheduled_at is at or before now,
	// plus unscheduled pending rows created before orphanedBefore.
	ListDue(ctx context.Context, now, orphanedBefore time.Time, limit int) ([]*models.Notification, error)
	ListNotifications(ctx context.Context, tenantID, userID string, filter ListFilter) ([]*models.Notification, error)
	CountUnread(ctx context.Context, tenantID, userID string) (int64, error)
}

// ContactStore reads delivery addresses owned by the identity service.
type ContactStore interface {
	GetContact(ctx context.Context, tenantID, userID string) (*models.Contact, error)
}

// ListFilter narrows ListNotifications. Zero values mean no filter.
type ListFilter struct {
	Status     models.Status
	UnreadOnly bool
	Limit      int
	Offset     int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// EffectiveLimit clamps Limit to [1, MaxListLimit], defaulting to DefaultListLimit.
func (f ListFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}
