package dispatch

import (
	"context"
	"errors"

	"notification-dispatch/internal/models"
	"notification-dispatch/internal/repository"
)

// RecipientDirectory resolves where a user receives messages on a channel.
// An empty address with a nil error means the user has none.
type RecipientDirectory interface {
	Address(ctx context.Context, tenantID, userID string, channel *models.Channel) (string, error)
}

// ContactDirectory reads addresses from the identity service's contacts.
// Webhook channels deliver to their configured URL and in-app notifications
// are addressed to the user id.
type ContactDirectory struct {
	contacts repository.ContactStore
}

func NewContactDirectory(contacts repository.ContactStore) *ContactDirectory {
	return &ContactDirectory{contacts: contacts}
}

func (d *ContactDirectory) Address(ctx context.Context, tenantID, userID string, channel *models.Channel) (string, error) {
	switch channel.Type {
	case models.ChannelWebhook:
		return channel.ConfigString("url"), nil
	case models.ChannelInApp:
		return userID, nil
	}

	c, err := d.contacts.GetContact(ctx, tenantID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	switch channel.Type {
	case models.ChannelEmail:
		return c.Email, nil
	case models.ChannelSMS:
		return c.Phone, nil
	case models.ChannelPush:
		return c.PushEndpoint, nil
	default:
		return "", nil
	}
}
