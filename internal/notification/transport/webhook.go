package transport

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	commonhttp "notification-dispatch/internal/common/http"
	"notification-dispatch/internal/common/logger"
	"notification-dispatch/internal/models"
)

const SignatureHeader = "X-Notification-Signature"

// WebhookPayload is the JSON body POSTed to a webhook channel.
type WebhookPayload struct {
	NotificationID     string                 `json:"notificationId"`
	TenantID           string                 `json:"tenantId"`
	UserID             string                 `json:"userId"`
	NotificationTypeID string                 `json:"notificationTypeId"`
	Subject            string                 `json:"subject"`
	Content            string                 `json:"content"`
	HTMLContent        string                 `json:"htmlContent,omitempty"`
	Data               map[string]interface{} `json:"data,omitempty"`
	CreatedAt          time.Time              `json:"createdAt"`
}

// Webhook POSTs notifications to the channel's configured URL. With a
// secret configured the body is signed with HMAC-SHA256.
type Webhook struct {
	client *commonhttp.Client
	logger logger.Logger
}

func NewWebhook(client *commonhttp.Client, log logger.Logger) *Webhook {
	return &Webhook{
		client: client,
		logger: logger.Component(log, "webhook-transport"),
	}
}

func (w *Webhook) Send(ctx context.Context, n *models.Notification, channel *models.Channel) (string, error) {
	url := n.RecipientAddress
	if url == "" {
		url = channel.ConfigString("url")
	}
	if url == "" {
		return "", ErrMissingRecipient
	}

	payload := WebhookPayload{
		NotificationID:     n.ID,
		TenantID:           n.TenantID,
		UserID:             n.UserID,
		NotificationTypeID: n.NotificationTypeID,
		Subject:            n.Subject,
		Content:            n.Content,
		HTMLContent:        n.HTMLContent,
		Data:               n.Data,
		CreatedAt:          n.CreatedAt,
	}

	headers := map[string]string{}
	if raw, ok := channel.Config["headers"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}
	if secret := channel.ConfigString("secret"); secret != "" {
		body, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("marshal webhook payload: %w", err)
		}
		headers[SignatureHeader] = "sha256=" + Sign(secret, body)
	}

	resp, err := w.client.PostJSON(ctx, url, payload, headers)
	if err != nil {
		return "", fmt.Errorf("webhook post: %w", err)
	}

	// Receivers may acknowledge with {"id": "..."}; anything else is fine.
	var ack struct {
		ID string `json:"id"`
	}
	if len(resp) > 0 && json.Unmarshal(resp, &ack) == nil && ack.ID != "" {
		return ack.ID, nil
	}
	return "", nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
