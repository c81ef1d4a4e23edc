// internal/models/notification.go
package models

import "time"

// Category groups notification types for admin screens and preference pages.
type Category string

const (
	CategorySystem        Category = "system"
	CategoryAccount       Category = "account"
	CategoryBusiness      Category = "business"
	CategoryTransaction   Category = "transaction"
	CategoryCollaboration Category = "collaboration"
	CategoryIntegration   Category = "integration"
)

// Priority of a notification type. Only PriorityUrgent may bypass a DND window.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ChannelType selects the transport used for a channel.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelSMS     ChannelType = "sms"
	ChannelInApp   ChannelType = "in_app"
	ChannelPush    ChannelType = "push"
	ChannelWebhook ChannelType = "webhook"
)

// Status is the delivery state of a Notification.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// NotificationType describes an event users can be notified about,
// e.g. "account.password_reset".
type NotificationType struct {
	ID        string    `json:"id" db:"id"`
	Code      string    `json:"code" db:"code"`
	Name      string    `json:"name" db:"name"`
	Category  Category  `json:"category" db:"category"`
	Priority  Priority  `json:"priority" db:"priority"`
	IsActive  bool      `json:"isActive" db:"is_active"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Channel is a delivery mechanism. A nil TenantID marks a system-wide default.
type Channel struct {
	ID        string                 `json:"id" db:"id"`
	Code      string                 `json:"code" db:"code"`
	Name      string                 `json:"name" db:"name"`
	TenantID  *string                `json:"tenantId,omitempty" db:"tenant_id"`
	Type      ChannelType            `json:"channelType" db:"channel_type"`
	Config    map[string]interface{} `json:"config,omitempty" db:"config"`
	IsActive  bool                   `json:"isActive" db:"is_active"`
	CreatedAt time.Time              `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time              `json:"updatedAt" db:"updated_at"`
}

// IsSystemDefault reports whether the channel is not bound to a tenant.
func (c *Channel) IsSystemDefault() bool {
	return c.TenantID == nil
}

// ConfigString returns a string value from the channel config, or "".
func (c *Channel) ConfigString(key string) string {
	if c.Config == nil {
		return ""
	}
	if v, ok := c.Config[key].(string); ok {
		return v
	}
	return ""
}

// Template holds the raw subject/content/html strings for one
// (NotificationType, Channel, language) combination.
type Template struct {
	ID                 string    `json:"id" db:"id"`
	Code               string    `json:"code" db:"code"`
	NotificationTypeID string    `json:"notificationTypeId" db:"notification_type_id"`
	ChannelID          string    `json:"channelId" db:"channel_id"`
	TenantID           *string   `json:"tenantId,omitempty" db:"tenant_id"`
	Language           string    `json:"language" db:"language"`
	SubjectTemplate    string    `json:"subjectTemplate" db:"subject_template"`
	ContentTemplate    string    `json:"contentTemplate" db:"content_template"`
	HTMLTemplate       string    `json:"htmlTemplate,omitempty" db:"html_template"`
	IsActive           bool      `json:"isActive" db:"is_active"`
	CreatedAt          time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time `json:"updatedAt" db:"updated_at"`
}

// IsSystemDefault reports whether the template is not bound to a tenant.
func (t *Template) IsSystemDefault() bool {
	return t.TenantID == nil
}

// Notification is the delivery record. It is created once per dispatch and
// then mutated in place; Version guards concurrent state transitions.
type Notification struct {
	ID                 string                 `json:"id" db:"id"`
	TenantID           string                 `json:"tenantId" db:"tenant_id"`
	UserID             string                 `json:"userId" db:"user_id"`
	NotificationTypeID string                 `json:"notificationTypeId" db:"notification_type_id"`
	ChannelID          string                 `json:"channelId" db:"channel_id"`
	TemplateID         *string                `json:"templateId,omitempty" db:"template_id"`
	Subject            string                 `json:"subject" db:"subject"`
	Content            string                 `json:"content" db:"content"`
	HTMLContent        string                 `json:"htmlContent,omitempty" db:"html_content"`
	Data               map[string]interface{} `json:"data,omitempty" db:"data"`
	Status             Status                 `json:"status" db:"status"`
	IsRead             bool                   `json:"isRead" db:"is_read"`
	ReadAt             *time.Time             `json:"readAt,omitempty" db:"read_at"`
	RecipientAddress   string                 `json:"recipientAddress,omitempty" db:"recipient_address"`
	ErrorMessage       string                 `json:"errorMessage,omitempty" db:"error_message"`
	ExternalID         string                 `json:"externalId,omitempty" db:"external_id"`
	ScheduledAt        *time.Time             `json:"scheduledAt,omitempty" db:"scheduled_at"`
	SentAt             *time.Time             `json:"sentAt,omitempty" db:"sent_at"`
	Version            int                    `json:"version" db:"version"`
	CreatedAt          time.Time              `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time              `json:"updatedAt" db:"updated_at"`
}

// IsDue reports whether a pending notification should be sent at now.
func (n *Notification) IsDue(now time.Time) bool {
	if n.Status != StatusPending {
		return false
	}
	return n.ScheduledAt == nil || !n.ScheduledAt.After(now)
}
