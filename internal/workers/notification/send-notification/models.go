package sendnotification

// Input is the job payload a BPMN service task hands to the worker.
type Input struct {
	TenantID         string                 `json:"tenantId"`
	UserID           string                 `json:"userId"`
	NotificationType string                 `json:"notificationType"`
	Channel          string                 `json:"channel"`
	Data             map[string]interface{} `json:"data,omitempty"`
	ScheduleAt       string                 `json:"scheduleAt,omitempty"` // RFC 3339
	Language         string                 `json:"language,omitempty"`
	RecipientAddress string                 `json:"recipientAddress,omitempty"`
}

type Output struct {
	NotificationID string `json:"notificationId,omitempty"`
	Status         string `json:"status,omitempty"`
	Outcome        string `json:"outcome"` // sent, failed, scheduled, suppressed
	Reason         string `json:"reason,omitempty"`
	ScheduledAt    string `json:"scheduledAt,omitempty"`
	SentAt         string `json:"sentAt,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
}
