// Package transport delivers rendered notifications. There is one Transport
// per channel type; each call attempts exactly one send and never retries.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"notification-dispatch/internal/models"
)

var (
	ErrNoTransport      = errors.New("no transport registered")
	ErrMissingRecipient = errors.New("recipient address is empty")
	ErrInvalidConfig    = errors.New("invalid channel config")
)

// Transport sends one notification over channel and returns the provider's
// message id, or "" when the provider has none.
type Transport interface {
	Send(ctx context.Context, n *models.Notification, channel *models.Channel) (string, error)
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, n *models.Notification, channel *models.Channel) (string, error)

func (f Func) Send(ctx context.Context, n *models.Notification, channel *models.Channel) (string, error) {
	return f(ctx, n, channel)
}

// Registry maps channel types to transports.
type Registry struct {
	mu         sync.RWMutex
	transports map[models.ChannelType]Transport
}

func NewRegistry() *Registry {
	return &Registry{transports: make(map[models.ChannelType]Transport)}
}

// Register sets the transport for channelType, replacing any previous one.
func (r *Registry) Register(channelType models.ChannelType, t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[channelType] = t
}

func (r *Registry) Get(channelType models.ChannelType) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[channelType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTransport, channelType)
	}
	return t, nil
}

// Types lists the registered channel types.
func (r *Registry) Types() []models.ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ChannelType, 0, len(r.transports))
	for ct := range r.transports {
		out = append(out, ct)
	}
	return out
}

// Send validates the channel config and forwards to the channel type's transport.
func (r *Registry) Send(ctx context.Context, n *models.Notification, channel *models.Channel) (string, error) {
	t, err := r.Get(channel.Type)
	if err != nil {
		return "", err
	}
	if err := ValidateConfig(channel); err != nil {
		return "", err
	}
	return t.Send(ctx, n, channel)
}
