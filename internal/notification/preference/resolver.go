// Package preference answers per (tenant, user, notification type) delivery
// questions: is a channel enabled, and is the user inside a do-not-disturb
// window right now.
package preference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notification-dispatch/internal/common/logger"
	"notification-dispatch/internal/models"
	"notification-dispatch/internal/repository"
)

// Resolver loads preferences and creates the default record on first access.
type Resolver struct {
	store    repository.PreferenceStore
	location *time.Location
	logger   logger.Logger
}

// NewResolver builds a Resolver. DND windows are evaluated in loc; nil means UTC.
func NewResolver(store repository.PreferenceStore, loc *time.Location, log logger.Logger) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{
		store:    store,
		location: loc,
		logger:   logger.Component(log, "preference-resolver"),
	}
}

// Resolve returns the stored preference, creating the default one if none
// exists. Concurrent first calls converge on a single stored row.
func (r *Resolver) Resolve(ctx context.Context, tenantID, userID, notificationTypeID string) (*models.Preference, error) {
	p, err := r.store.GetPreference(ctx, tenantID, userID, notificationTypeID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load preference: %w", err)
	}

	p, err = r.store.CreatePreferenceIfAbsent(ctx, models.DefaultPreference(tenantID, userID, notificationTypeID))
	if err != nil {
		return nil, fmt.Errorf("create default preference: %w", err)
	}

	r.logger.Debug("default preference resolved", map[string]interface{}{
		"tenantId":           tenantID,
		"userId":             userID,
		"notificationTypeId": notificationTypeID,
		"preferenceId":       p.ID,
	})
	return p, nil
}

// Update persists changed flags or window bounds. A user who never received
// a notification of this type gets the default row first.
func (r *Resolver) Update(ctx context.Context, p *models.Preference) error {
	if _, err := r.Resolve(ctx, p.TenantID, p.UserID, p.NotificationTypeID); err != nil {
		return err
	}
	if err := r.store.UpdatePreference(ctx, p); err != nil {
		return fmt.Errorf("update preference: %w", err)
	}
	return nil
}

// IsInDoNotDisturbWindow evaluates the window against now in the resolver's
// location.
func (r *Resolver) IsInDoNotDisturbWindow(p *models.Preference, now time.Time) bool {
	return InDoNotDisturbWindow(p, now.In(r.location))
}

// Location is the zone DND windows are evaluated in.
func (r *Resolver) Location() *time.Location {
	return r.location
}

// IsChannelEnabled maps a channel type to its preference flag. Webhooks are
// tenant integrations with no per-user flag and are always enabled; unknown
// channel types never are.
func IsChannelEnabled(p *models.Preference, channelType models.ChannelType) bool {
	switch channelType {
	case models.ChannelEmail:
		return p.EmailEnabled
	case models.ChannelSMS:
		return p.SMSEnabled
	case models.ChannelInApp:
		return p.InAppEnabled
	case models.ChannelPush:
		return p.PushEnabled
	case models.ChannelWebhook:
		return true
	default:
		return false
	}
}

// InDoNotDisturbWindow reports whether now's wall clock falls in
// [DNDStart, DNDEnd). A window whose start is after its end wraps midnight.
// A zero-length window never matches.
func InDoNotDisturbWindow(p *models.Preference, now time.Time) bool {
	if !p.DNDEnabled {
		return false
	}
	t := models.TimeOfDayOf(now)
	start, end := p.DNDStart, p.DNDEnd
	if start > end {
		return t >= start || t < end
	}
	return start <= t && t < end
}
