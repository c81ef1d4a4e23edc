// Package schedule decides whether a notification goes out now or later.
package schedule

import (
	"time"

	"notification-dispatch/internal/models"
	"notification-dispatch/internal/notification/preference"
)

// Decision is the outcome of Decide. ScheduledAt is nil when SendNow is true.
type Decision struct {
	SendNow     bool
	ScheduledAt *time.Time
	// Reason is a short label for logs and metrics.
	Reason string
}

const (
	ReasonRequested    = "requested"
	ReasonImmediate    = "immediate"
	ReasonUrgentBypass = "urgent_bypass"
	ReasonDoNotDisturb = "do_not_disturb"
)

// Decide applies, in order: a requested time in the future is honored as
// is; outside the DND window, or for urgent types when the user allows the
// bypass, the notification is sent now; otherwise it is deferred to the next
// occurrence of the window end.
//
// now must carry the location DND windows are evaluated in.
func Decide(pref *models.Preference, notificationType *models.NotificationType, requested *time.Time, now time.Time) Decision {
	if requested != nil && requested.After(now) {
		at := *requested
		return Decision{ScheduledAt: &at, Reason: ReasonRequested}
	}

	if !preference.InDoNotDisturbWindow(pref, now) {
		return Decision{SendNow: true, Reason: ReasonImmediate}
	}
	if notificationType.Priority == models.PriorityUrgent && pref.UrgentBypassDND {
		return Decision{SendNow: true, Reason: ReasonUrgentBypass}
	}

	at := NextOccurrence(pref.DNDEnd, now)
	return Decision{ScheduledAt: &at, Reason: ReasonDoNotDisturb}
}

// NextOccurrence returns the first instant at or after now whose wall clock
// reads t: today if now's time of day is not past t, tomorrow otherwise.
func NextOccurrence(t models.TimeOfDay, now time.Time) time.Time {
	if models.TimeOfDayOf(now) <= t {
		return t.On(now)
	}
	return t.On(now.AddDate(0, 0, 1))
}
