// Package resolver picks the channel and template for a dispatch. Tenant
// scoped records always win over system-wide defaults.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"notification-dispatch/internal/common/logger"
	"notification-dispatch/internal/models"
	"notification-dispatch/internal/repository"
)

var (
	ErrNotificationTypeNotFound = errors.New("notification type not found")
	ErrChannelNotFound          = errors.New("channel not found")
	ErrTemplateNotFound         = errors.New("template not found")
)

// Resolver performs read-only catalog lookups and is safe for concurrent use.
type Resolver struct {
	catalog         repository.Catalog
	defaultLanguage string
	logger          logger.Logger
}

func NewResolver(catalog repository.Catalog, defaultLanguage string, log logger.Logger) *Resolver {
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	return &Resolver{
		catalog:         catalog,
		defaultLanguage: defaultLanguage,
		logger:          logger.Component(log, "catalog-resolver"),
	}
}

// ResolveNotificationType returns the active type with code.
func (r *Resolver) ResolveNotificationType(ctx context.Context, code string) (*models.NotificationType, error) {
	t, err := r.catalog.GetNotificationTypeByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotificationTypeNotFound, code)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ResolveChannel returns the active channel with code for tenantID, falling
// back to the system-wide channel.
func (r *Resolver) ResolveChannel(ctx context.Context, tenantID, code string) (*models.Channel, error) {
	candidates, err := r.catalog.ListChannelsByCode(ctx, code, tenantID)
	if err != nil {
		return nil, err
	}

	active := candidates[:0:0]
	for _, c := range candidates {
		if c.IsActive {
			active = append(active, c)
		}
	}

	ch, ok := resolveWithTenantFallback(active, tenantID,
		func(c *models.Channel) *string { return c.TenantID },
		func(tier []*models.Channel) *models.Channel { return tier[0] },
	)
	if !ok {
		return nil, fmt.Errorf("%w: code=%s tenant=%s", ErrChannelNotFound, code, tenantID)
	}
	return ch, nil
}

// ResolveTemplate returns the active template for the (type, channel) pair.
// Within the winning tier an exact language match is preferred, then the
// default language, then the lowest template code.
func (r *Resolver) ResolveTemplate(ctx context.Context, tenantID string, notificationType *models.NotificationType, channel *models.Channel, language string) (*models.Template, error) {
	candidates, err := r.catalog.ListTemplates(ctx, notificationType.ID, channel.ID, tenantID)
	if err != nil {
		return nil, err
	}

	active := candidates[:0:0]
	for _, t := range candidates {
		if t.IsActive {
			active = append(active, t)
		}
	}

	if language == "" {
		language = r.defaultLanguage
	}
	tpl, ok := resolveWithTenantFallback(active, tenantID,
		func(t *models.Template) *string { return t.TenantID },
		func(tier []*models.Template) *models.Template { return r.pickByLanguage(tier, language) },
	)
	if !ok {
		return nil, fmt.Errorf("%w: type=%s channel=%s tenant=%s",
			ErrTemplateNotFound, notificationType.Code, channel.Code, tenantID)
	}

	r.logger.Debug("template resolved", map[string]interface{}{
		"templateId": tpl.ID,
		"language":   tpl.Language,
		"tenantId":   tenantID,
		"system":     tpl.IsSystemDefault(),
	})
	return tpl, nil
}

func (r *Resolver) pickByLanguage(tier []*models.Template, language string) *models.Template {
	sorted := append([]*models.Template(nil), tier...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	for _, lang := range []string{language, r.defaultLanguage} {
		for _, t := range sorted {
			if t.Language == lang {
				return t
			}
		}
	}
	return sorted[0]
}

// resolveWithTenantFallback is the one precedence rule for tenant-nullable
// records: candidates scoped to tenantID win, system-wide candidates (nil
// tenant) are the fallback, and anything scoped to another tenant is
// ignored. pick chooses within the winning tier and is never given an empty
// slice.
func resolveWithTenantFallback[T any](candidates []T, tenantID string, tenantOf func(T) *string, pick func([]T) T) (T, bool) {
	var tenantTier, systemTier []T
	for _, c := range candidates {
		switch scope := tenantOf(c); {
		case scope == nil:
			systemTier = append(systemTier, c)
		case *scope == tenantID:
			tenantTier = append(tenantTier, c)
		}
	}

	switch {
	case len(tenantTier) > 0:
		return pick(tenantTier), true
	case len(systemTier) > 0:
		return pick(systemTier), true
	default:
		var zero T
		return zero, false
	}
}
