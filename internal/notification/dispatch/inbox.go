package dispatch

import (
	"context"
	"errors"

	"notification-dispatch/internal/audit"
	apperrors "notification-dispatch/internal/common/errors"
	"notification-dispatch/internal/models"
	"notification-dispatch/internal/notification/resolver"
	"notification-dispatch/internal/repository"
)

// Get returns one of the user's notifications.
func (o *Orchestrator) Get(ctx context.Context, tenantID, userID, id string) (*models.Notification, error) {
	return o.loadOwned(ctx, tenantID, userID, id)
}

// List returns the user's notifications, newest first.
func (o *Orchestrator) List(ctx context.Context, tenantID, userID string, filter repository.ListFilter) ([]*models.Notification, error) {
	return o.notifications.ListNotifications(ctx, tenantID, userID, filter)
}

func (o *Orchestrator) UnreadCount(ctx context.Context, tenantID, userID string) (int64, error) {
	return o.notifications.CountUnread(ctx, tenantID, userID)
}

// MarkAsRead marks one notification read. It reports whether anything
// changed; marking a read notification again is a no-op.
func (o *Orchestrator) MarkAsRead(ctx context.Context, tenantID, userID, id string) (bool, error) {
	return o.setRead(ctx, tenantID, userID, id, true)
}

// MarkAsUnread is the inverse of MarkAsRead and clears read_at.
func (o *Orchestrator) MarkAsUnread(ctx context.Context, tenantID, userID, id string) (bool, error) {
	return o.setRead(ctx, tenantID, userID, id, false)
}

func (o *Orchestrator) setRead(ctx context.Context, tenantID, userID, id string, read bool) (bool, error) {
	n, err := o.loadOwned(ctx, tenantID, userID, id)
	if err != nil {
		return false, err
	}

	at := o.now().UTC()
	changed, err := o.notifications.SetReadState(ctx, id, read, at)
	if errors.Is(err, repository.ErrNotFound) {
		return false, apperrors.NewNotificationNotFoundError(id, err)
	}
	if err != nil {
		return false, err
	}

	if changed {
		action := audit.ActionRead
		if !read {
			action = audit.ActionUnread
		}
		o.emit(ctx, audit.NewEvent(action, n, at))
	}
	return changed, nil
}

// MarkAllAsRead marks every unread notification of the user read in one
// statement and returns how many changed. A second call returns 0.
func (o *Orchestrator) MarkAllAsRead(ctx context.Context, tenantID, userID string) (int64, error) {
	count, err := o.notifications.MarkAllAsRead(ctx, tenantID, userID, o.now().UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		o.logger.Info("notifications marked read", map[string]interface{}{
			"tenantId": tenantID,
			"userId":   userID,
			"count":    count,
		})
	}
	return count, nil
}

// PreferenceUpdate changes selected fields of a preference. Nil fields are
// left as they are.
type PreferenceUpdate struct {
	EmailEnabled    *bool             `json:"emailEnabled,omitempty"`
	SMSEnabled      *bool             `json:"smsEnabled,omitempty"`
	InAppEnabled    *bool             `json:"inAppEnabled,omitempty"`
	PushEnabled     *bool             `json:"pushEnabled,omitempty"`
	DNDEnabled      *bool             `json:"dndEnabled,omitempty"`
	DNDStart        *models.TimeOfDay `json:"dndStart,omitempty"`
	DNDEnd          *models.TimeOfDay `json:"dndEnd,omitempty"`
	UrgentBypassDND *bool             `json:"urgentBypassDnd,omitempty"`
}

func (u PreferenceUpdate) applyTo(p *models.Preference) {
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	setBool(&p.EmailEnabled, u.EmailEnabled)
	setBool(&p.SMSEnabled, u.SMSEnabled)
	setBool(&p.InAppEnabled, u.InAppEnabled)
	setBool(&p.PushEnabled, u.PushEnabled)
	setBool(&p.DNDEnabled, u.DNDEnabled)
	setBool(&p.UrgentBypassDND, u.UrgentBypassDND)
	if u.DNDStart != nil {
		p.DNDStart = *u.DNDStart
	}
	if u.DNDEnd != nil {
		p.DNDEnd = *u.DNDEnd
	}
}

// Preference returns the user's preference for a notification type code,
// creating the default on first access.
func (o *Orchestrator) Preference(ctx context.Context, tenantID, userID, typeCode string) (*models.Preference, error) {
	nt, err := o.types.ResolveNotificationType(ctx, typeCode)
	if err != nil {
		return nil, configurationError("notification type", typeCode, err, resolver.ErrNotificationTypeNotFound)
	}
	return o.preferences.Resolve(ctx, tenantID, userID, nt.ID)
}

// UpdatePreference applies u to the user's preference and stores it.
func (o *Orchestrator) UpdatePreference(ctx context.Context, tenantID, userID, typeCode string, u PreferenceUpdate) (*models.Preference, error) {
	p, err := o.Preference(ctx, tenantID, userID, typeCode)
	if err != nil {
		return nil, err
	}
	u.applyTo(p)
	if err := o.preferences.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
