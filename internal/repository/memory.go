package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"notification-dispatch/internal/models"

	"github.com/google/uuid"
)

// Memory implements every store interface in process. Records are copied on
// the way in and out so callers never share mutable state with the store.
type Memory struct {
	mu            sync.RWMutex
	types         map[string]*models.NotificationType
	channels      map[string]*models.Channel
	templates     map[string]*models.Template
	preferences   map[string]*models.Preference
	notifications map[string]*models.Notification
	contacts      map[string]*models.Contact
	now           func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		types:         make(map[string]*models.NotificationType),
		channels:      make(map[string]*models.Channel),
		templates:     make(map[string]*models.Template),
		preferences:   make(map[string]*models.Preference),
		notifications: make(map[string]*models.Notification),
		contacts:      make(map[string]*models.Contact),
		now:           time.Now,
	}
}

func preferenceKey(tenantID, userID, typeID string) string {
	return tenantID + "\x00" + userID + "\x00" + typeID
}

func inTenantScope(recordTenant *string, tenantID string) bool {
	return recordTenant == nil || *recordTenant == tenantID
}

// ==========================
// Seeding
// ==========================

// PutNotificationType stores t, assigning an id if missing.
func (m *Memory) PutNotificationType(t *models.NotificationType) *models.NotificationType {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *t
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.types[c.ID] = &c
	out := c
	return &out
}

// PutChannel stores c, assigning an id if missing.
func (m *Memory) PutChannel(ch *models.Channel) *models.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := copyChannel(ch)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.channels[c.ID] = c
	return copyChannel(c)
}

// PutTemplate stores t, assigning an id if missing.
func (m *Memory) PutTemplate(t *models.Template) *models.Template {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *t
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.templates[c.ID] = &c
	out := c
	return &out
}

// PutContact stores the addresses of a user.
func (m *Memory) PutContact(c *models.Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.contacts[c.TenantID+"\x00"+c.UserID] = &cp
}

// ==========================
// Catalog
// ==========================

func (m *Memory) GetNotificationTypeByCode(ctx context.Context, code string) (*models.NotificationType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.types {
		if t.Code == code && t.IsActive {
			out := *t
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: notification type %s", ErrNotFound, code)
}

func (m *Memory) ListChannelsByCode(ctx context.Context, code, tenantID string) ([]*models.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Channel
	for _, c := range m.channels {
		if c.Code == code && c.IsActive && inTenantScope(c.TenantID, tenantID) {
			out = append(out, copyChannel(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListTemplates(ctx context.Context, notificationTypeID, channelID, tenantID string) ([]*models.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Template
	for _, t := range m.templates {
		if t.NotificationTypeID == notificationTypeID && t.ChannelID == channelID &&
			t.IsActive && inTenantScope(t.TenantID, tenantID) {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: channel %s", ErrNotFound, id)
	}
	return copyChannel(c), nil
}

// ==========================
// Preferences
// ==========================

func (m *Memory) GetPreference(ctx context.Context, tenantID, userID, notificationTypeID string) (*models.Preference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.preferences[preferenceKey(tenantID, userID, notificationTypeID)]
	if !ok {
		return nil, fmt.Errorf("%w: preference", ErrNotFound)
	}
	out := *p
	return &out, nil
}

func (m *Memory) CreatePreferenceIfAbsent(ctx context.Context, p *models.Preference) (*models.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := preferenceKey(p.TenantID, p.UserID, p.NotificationTypeID)
	if existing, ok := m.preferences[key]; ok {
		out := *existing
		return &out, nil
	}
	c := *p
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := m.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	m.preferences[key] = &c
	out := c
	return &out, nil
}

func (m *Memory) UpdatePreference(ctx context.Context, p *models.Preference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := preferenceKey(p.TenantID, p.UserID, p.NotificationTypeID)
	existing, ok := m.preferences[key]
	if !ok {
		return fmt.Errorf("%w: preference", ErrNotFound)
	}
	c := *p
	c.ID = existing.ID
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = m.now().UTC()
	m.preferences[key] = &c
	*p = c
	return nil
}

// PreferenceCount returns the number of stored preferences.
func (m *Memory) PreferenceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.preferences)
}

// ==========================
// Notifications
// ==========================

// NotificationCount returns the number of stored notifications.
func (m *Memory) NotificationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.notifications)
}

func (m *Memory) CreateNotification(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if _, exists := m.notifications[n.ID]; exists {
		return fmt.Errorf("notification %s already exists", n.ID)
	}
	m.notifications[n.ID] = copyNotification(n)
	return nil
}

func (m *Memory) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, fmt.Errorf("%w: notification %s", ErrNotFound, id)
	}
	return copyNotification(n), nil
}

func (m *Memory) TransitionNotification(ctx context.Context, n *models.Notification, from models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.notifications[n.ID]
	if !ok {
		return fmt.Errorf("%w: notification %s", ErrNotFound, n.ID)
	}
	if stored.Version != n.Version || stored.Status != from {
		return fmt.Errorf("%w: notification %s", ErrVersionConflict, n.ID)
	}

	stored.Status = n.Status
	stored.ErrorMessage = n.ErrorMessage
	stored.ExternalID = n.ExternalID
	stored.RecipientAddress = n.RecipientAddress
	stored.SentAt = copyTime(n.SentAt)
	stored.UpdatedAt = n.UpdatedAt
	stored.Version++
	n.Version = stored.Version
	return nil
}

func (m *Memory) SetReadState(ctx context.Context, id string, read bool, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return false, fmt.Errorf("%w: notification %s", ErrNotFound, id)
	}
	if n.IsRead == read {
		return false, nil
	}
	n.IsRead = read
	if read {
		t := at
		n.ReadAt = &t
	} else {
		n.ReadAt = nil
	}
	n.UpdatedAt = at
	return true, nil
}

func (m *Memory) MarkAllAsRead(ctx context.Context, tenantID, userID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.notifications {
		if n.TenantID == tenantID && n.UserID == userID && !n.IsRead {
			t := at
			n.IsRead = true
			n.ReadAt = &t
			n.UpdatedAt = at
			count++
		}
	}
	return count, nil
}

func (m *Memory) ListDue(ctx context.Context, now, orphanedBefore time.Time, limit int) ([]*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Notification
	for _, n := range m.notifications {
		if n.Status != models.StatusPending {
			continue
		}
		scheduledDue := n.ScheduledAt != nil && !n.ScheduledAt.After(now)
		orphaned := n.ScheduledAt == nil && n.CreatedAt.Before(orphanedBefore)
		if scheduledDue || orphaned {
			out = append(out, copyNotification(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return dueKey(out[i]).Before(dueKey(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func dueKey(n *models.Notification) time.Time {
	if n.ScheduledAt != nil {
		return *n.ScheduledAt
	}
	return n.CreatedAt
}

func (m *Memory) ListNotifications(ctx context.Context, tenantID, userID string, filter ListFilter) ([]*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Notification
	for _, n := range m.notifications {
		if n.TenantID != tenantID || n.UserID != userID {
			continue
		}
		if filter.Status != "" && n.Status != filter.Status {
			continue
		}
		if filter.UnreadOnly && n.IsRead {
			continue
		}
		out = append(out, copyNotification(n))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountUnread(ctx context.Context, tenantID, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, n := range m.notifications {
		if n.TenantID == tenantID && n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

// ==========================
// Contacts
// ==========================

func (m *Memory) GetContact(ctx context.Context, tenantID, userID string) (*models.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[tenantID+"\x00"+userID]
	if !ok {
		return nil, fmt.Errorf("%w: contact %s", ErrNotFound, userID)
	}
	out := *c
	return &out, nil
}

// ==========================
// Copy helpers
// ==========================

func copyChannel(c *models.Channel) *models.Channel {
	out := *c
	if c.Config != nil {
		out.Config = make(map[string]interface{}, len(c.Config))
		for k, v := range c.Config {
			out.Config[k] = v
		}
	}
	return &out
}

func copyNotification(n *models.Notification) *models.Notification {
	out := *n
	if n.Data != nil {
		out.Data = make(map[string]interface{}, len(n.Data))
		for k, v := range n.Data {
			out.Data[k] = v
		}
	}
	out.ReadAt = copyTime(n.ReadAt)
	out.ScheduledAt = copyTime(n.ScheduledAt)
	out.SentAt = copyTime(n.SentAt)
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
