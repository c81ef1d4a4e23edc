package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"notification-dispatch/internal/common/logger"
	"notification-dispatch/internal/models"

	"github.com/redis/go-redis/v9"
)

// InApp delivers by storage: the notification row itself is what the user
// reads. When a Redis client is set the notification is also published on
// the user's channel so connected clients can refresh.
type InApp struct {
	redis  redis.Cmdable
	logger logger.Logger
}

func NewInApp(rdb redis.Cmdable, log logger.Logger) *InApp {
	return &InApp{
		redis:  rdb,
		logger: logger.Component(log, "in-app-transport"),
	}
}

// InAppTopic is the pub/sub channel for one user's in-app notifications.
func InAppTopic(tenantID, userID string) string {
	return fmt.Sprintf("notif:inapp:%s:%s", tenantID, userID)
}

func (t *InApp) Send(ctx context.Context, n *models.Notification, channel *models.Channel) (string, error) {
	publish, ok := channel.Config["publish"].(bool)
	if t.redis == nil || (ok && !publish) {
		return n.ID, nil
	}

	event, err := json.Marshal(map[string]interface{}{
		"notificationId": n.ID,
		"subject":        n.Subject,
		"content":        n.Content,
	})
	if err != nil {
		return "", fmt.Errorf("marshal in-app event: %w", err)
	}

	// The row is already stored; a failed publish only delays the client refresh.
	if err := t.redis.Publish(ctx, InAppTopic(n.TenantID, n.UserID), event).Err(); err != nil {
		t.logger.Warn("in-app publish failed", map[string]interface{}{
			"notificationId": n.ID,
			"error":          err,
		})
	}
	return n.ID, nil
}
