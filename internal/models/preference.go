package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Preference is a user's per-notification-type delivery settings.
type Preference struct {
	ID                 string    `json:"id" db:"id"`
	TenantID           string    `json:"tenantId" db:"tenant_id"`
	UserID             string    `json:"userId" db:"user_id"`
	NotificationTypeID string    `json:"notificationTypeId" db:"notification_type_id"`
	EmailEnabled       bool      `json:"emailEnabled" db:"email_enabled"`
	SMSEnabled         bool      `json:"smsEnabled" db:"sms_enabled"`
	InAppEnabled       bool      `json:"inAppEnabled" db:"in_app_enabled"`
	PushEnabled        bool      `json:"pushEnabled" db:"push_enabled"`
	DNDEnabled         bool      `json:"dndEnabled" db:"dnd_enabled"`
	DNDStart           TimeOfDay `json:"dndStart" db:"dnd_start"`
	DNDEnd             TimeOfDay `json:"dndEnd" db:"dnd_end"`
	UrgentBypassDND    bool      `json:"urgentBypassDnd" db:"urgent_bypass_dnd"`
	CreatedAt          time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time `json:"updatedAt" db:"updated_at"`
}

// Default DND window used when a preference is created lazily. The window
// is disabled by default, so the values only matter once a user enables it.
var (
	DefaultDNDStart = NewTimeOfDay(22, 0, 0)
	DefaultDNDEnd   = NewTimeOfDay(8, 0, 0)
)

// DefaultPreference returns the record synthesized on first access:
// email and in-app on, sms and push off, DND off, urgent bypass on.
func DefaultPreference(tenantID, userID, notificationTypeID string) *Preference {
	return &Preference{
		TenantID:           tenantID,
		UserID:             userID,
		NotificationTypeID: notificationTypeID,
		EmailEnabled:       true,
		SMSEnabled:         false,
		InAppEnabled:       true,
		PushEnabled:        false,
		DNDEnabled:         false,
		DNDStart:           DefaultDNDStart,
		DNDEnd:             DefaultDNDEnd,
		UrgentBypassDND:    true,
	}
}

// TimeOfDay is a wall-clock time expressed as seconds since midnight.
type TimeOfDay int

const secondsPerDay = 24 * 60 * 60

// NewTimeOfDay builds a TimeOfDay from hour, minute and second.
func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay((hour*3600 + minute*60 + second) % secondsPerDay)
}

// TimeOfDayOf extracts the time-of-day of t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return NewTimeOfDay(h, m, s)
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	layouts := []string{"15:04:05", "15:04"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDayOf(t), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

func (t TimeOfDay) Hour() int   { return int(t) / 3600 }
func (t TimeOfDay) Minute() int { return int(t) % 3600 / 60 }
func (t TimeOfDay) Second() int { return int(t) % 60 }

// On returns the instant on the calendar day of day (in day's location)
// at which the wall clock reads t.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, day.Location())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
}

// Scan implements sql.Scanner for TIME columns. lib/pq may hand back a
// time.Time, raw bytes, or a string depending on the column type.
func (t *TimeOfDay) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*t = TimeOfDayOf(v)
		return nil
	case []byte:
		return t.parseInto(string(v))
	case string:
		return t.parseInto(v)
	case nil:
		*t = 0
		return nil
	default:
		return fmt.Errorf("cannot scan %T into TimeOfDay", src)
	}
}

func (t *TimeOfDay) parseInto(s string) error {
	// TIME columns may carry fractional seconds.
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Value implements driver.Valuer.
func (t TimeOfDay) Value() (driver.Value, error) {
	return t.String(), nil
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return t.parseInto(s)
}
