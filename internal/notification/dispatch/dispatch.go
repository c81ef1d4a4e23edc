// Package dispatch is the notification orchestrator. It resolves the
// catalog entries and the user's preference for a request, decides when to
// send, renders the content, persists the delivery record and drives it
// through the delivery state machine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notification-dispatch/internal/audit"
	apperrors "notification-dispatch/internal/common/errors"
	"notification-dispatch/internal/common/logger"
	"notification-dispatch/internal/common/metrics"
	"notification-dispatch/internal/common/observability"
	"notification-dispatch/internal/models"
	"notification-dispatch/internal/notification/preference"
	"notification-dispatch/internal/notification/render"
	"notification-dispatch/internal/notification/resolver"
	"notification-dispatch/internal/notification/schedule"
	"notification-dispatch/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Outcome of CreateAndDispatch.
type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeFailed     Outcome = "failed"
	OutcomeScheduled  Outcome = "scheduled"
	OutcomeSuppressed Outcome = "suppressed"
)

// Request asks for one user to be notified of one event over one channel.
type Request struct {
	TenantID    string                 `json:"tenantId"`
	UserID      string                 `json:"userId"`
	TypeCode    string                 `json:"notificationType"`
	ChannelCode string                 `json:"channel"`
	Data        map[string]interface{} `json:"data,omitempty"`
	// ScheduleAt, when in the future, is used verbatim as the send time.
	ScheduleAt *time.Time `json:"scheduleAt,omitempty"`
	// Language selects among templates; empty means the default language.
	Language string `json:"language,omitempty"`
	// RecipientAddress overrides the directory lookup.
	RecipientAddress string `json:"recipientAddress,omitempty"`
}

// Result describes what CreateAndDispatch did. Notification is nil for
// suppressed requests since no record is created.
type Result struct {
	Outcome      Outcome              `json:"outcome"`
	Notification *models.Notification `json:"notification,omitempty"`
	Reason       string               `json:"reason,omitempty"`
}

// Sender attempts one delivery. *transport.Registry satisfies it.
type Sender interface {
	Send(ctx context.Context, n *models.Notification, channel *models.Channel) (string, error)
}

// Dependencies wires the orchestrator.
type Dependencies struct {
	Catalog       repository.Catalog
	Preferences   repository.PreferenceStore
	Notifications repository.NotificationStore
	Transports    Sender
	Recipients    RecipientDirectory
	Audit         audit.Sink
	Observability *observability.Observability
	Logger        logger.Logger
}

// Options tune the orchestrator.
type Options struct {
	DefaultLanguage string
	// Location is the zone DND windows are evaluated in.
	Location *time.Location
	// OrphanGrace is how long an unscheduled pending row may sit before
	// DispatchDue treats it as abandoned by a crashed sender.
	OrphanGrace time.Duration
	Clock       func() time.Time
}

const DefaultOrphanGrace = 5 * time.Minute

type Orchestrator struct {
	catalog       repository.Catalog
	types         *resolver.Resolver
	preferences   *preference.Resolver
	notifications repository.NotificationStore
	transports    Sender
	recipients    RecipientDirectory
	audit         audit.Sink
	obs           *observability.Observability
	logger        logger.Logger
	orphanGrace   time.Duration
	now           func() time.Time
}

func New(deps Dependencies, opts Options) *Orchestrator {
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.OrphanGrace <= 0 {
		opts.OrphanGrace = DefaultOrphanGrace
	}
	obs := deps.Observability
	if obs == nil {
		obs = &observability.Observability{}
	}
	sink := deps.Audit
	if sink == nil {
		sink = audit.NewLogSink(log)
	}
	recipients := deps.Recipients
	if recipients == nil {
		recipients = noDirectory{}
	}

	return &Orchestrator{
		catalog:       deps.Catalog,
		types:         resolver.NewResolver(deps.Catalog, opts.DefaultLanguage, log),
		preferences:   preference.NewResolver(deps.Preferences, opts.Location, log),
		notifications: deps.Notifications,
		transports:    deps.Transports,
		recipients:    recipients,
		audit:         sink,
		obs:           obs,
		logger:        logger.Component(log, "orchestrator"),
		orphanGrace:   opts.OrphanGrace,
		now:           opts.Clock,
	}
}

// CreateAndDispatch runs the whole pipeline for req. Missing catalog data
// yields a CONFIGURATION_ERROR and nothing is stored. A disabled channel
// yields OutcomeSuppressed with a nil error. When the transport fails the
// failed record is returned together with a TRANSPORT_ERROR.
func (o *Orchestrator) CreateAndDispatch(ctx context.Context, req Request) (result *Result, err error) {
	started := o.now()
	ctx, end := o.obs.StartSpan(ctx, "notification.create_and_dispatch",
		attribute.String("tenant_id", req.TenantID),
		attribute.String("notification_type", req.TypeCode),
		attribute.String("channel", req.ChannelCode),
	)
	defer func() { end(err) }()

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	log := o.logger.WithFields(map[string]interface{}{
		"tenantId":         req.TenantID,
		"userId":           req.UserID,
		"notificationType": req.TypeCode,
		"channel":          req.ChannelCode,
	})

	notificationType, channel, tpl, err := o.resolveCatalog(ctx, req)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeConfiguration) {
			log.Warn("dispatch aborted: missing configuration", map[string]interface{}{"error": err})
		}
		return nil, err
	}

	pref, err := o.preferences.Resolve(ctx, req.TenantID, req.UserID, notificationType.ID)
	if err != nil {
		return nil, err
	}

	if !preference.IsChannelEnabled(pref, channel.Type) {
		log.Info("delivery suppressed by user preference", map[string]interface{}{"channelType": string(channel.Type)})
		o.recordOutcome(ctx, channel.Type, OutcomeSuppressed, started)
		e := audit.NewEvent(audit.ActionSuppressed, nil, o.now())
		e.TenantID, e.UserID = req.TenantID, req.UserID
		e.NotificationTypeID = notificationType.ID
		e.ChannelType = string(channel.Type)
		o.emit(ctx, e)
		return &Result{Outcome: OutcomeSuppressed, Reason: "channel disabled by user preference"}, nil
	}

	decision := schedule.Decide(pref, notificationType, req.ScheduleAt, o.now().In(o.preferences.Location()))
	content := render.Template(tpl, req.Data)

	address := req.RecipientAddress
	if address == "" {
		address, err = o.recipients.Address(ctx, req.TenantID, req.UserID, channel)
		if err != nil {
			return nil, fmt.Errorf("resolve recipient: %w", err)
		}
	}

	createdAt := o.now().UTC()
	templateID := tpl.ID
	n := &models.Notification{
		ID:                 uuid.NewString(),
		TenantID:           req.TenantID,
		UserID:             req.UserID,
		NotificationTypeID: notificationType.ID,
		ChannelID:          channel.ID,
		TemplateID:         &templateID,
		Subject:            content.Subject,
		Content:            content.Body,
		HTMLContent:        content.HTML,
		Data:               req.Data,
		Status:             models.StatusPending,
		RecipientAddress:   address,
		ScheduledAt:        decision.ScheduledAt,
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}
	if err := o.notifications.CreateNotification(ctx, n); err != nil {
		return nil, err
	}
	e := audit.NewEvent(audit.ActionCreated, n, createdAt)
	e.To = models.StatusPending
	e.ChannelType = string(channel.Type)
	o.emit(ctx, e)

	log = log.WithFields(map[string]interface{}{"notificationId": n.ID})
	if !decision.SendNow {
		log.Info("notification deferred", map[string]interface{}{
			"scheduledAt": decision.ScheduledAt.UTC().Format(time.RFC3339),
			"reason":      decision.Reason,
		})
		o.recordOutcome(ctx, channel.Type, OutcomeScheduled, started)
		return &Result{Outcome: OutcomeScheduled, Notification: n, Reason: decision.Reason}, nil
	}

	outcome, err := o.send(ctx, n, channel)
	o.recordOutcome(ctx, channel.Type, outcome, started)
	if outcome == "" {
		return nil, err
	}
	return &Result{Outcome: outcome, Notification: n, Reason: decision.Reason}, err
}

func (o *Orchestrator) resolveCatalog(ctx context.Context, req Request) (*models.NotificationType, *models.Channel, *models.Template, error) {
	notificationType, err := o.types.ResolveNotificationType(ctx, req.TypeCode)
	if err != nil {
		return nil, nil, nil, configurationError("notification type", req.TypeCode, err, resolver.ErrNotificationTypeNotFound)
	}

	channel, err := o.types.ResolveChannel(ctx, req.TenantID, req.ChannelCode)
	if err != nil {
		return nil, nil, nil, configurationError("channel", req.ChannelCode, err, resolver.ErrChannelNotFound)
	}

	tpl, err := o.types.ResolveTemplate(ctx, req.TenantID, notificationType, channel, req.Language)
	if err != nil {
		details := fmt.Sprintf("%s/%s", req.TypeCode, req.ChannelCode)
		return nil, nil, nil, configurationError("template", details, err, resolver.ErrTemplateNotFound)
	}
	return notificationType, channel, tpl, nil
}

// configurationError converts a not-found sentinel into a CONFIGURATION_ERROR
// and passes every other error through.
func configurationError(resource, details string, err, sentinel error) error {
	if errors.Is(err, sentinel) {
		return apperrors.NewConfigurationError(resource, details, err)
	}
	return err
}

func validateRequest(req Request) error {
	switch {
	case req.TenantID == "":
		return apperrors.NewValidationError("tenantId is required")
	case req.UserID == "":
		return apperrors.NewValidationError("userId is required")
	case req.TypeCode == "":
		return apperrors.NewValidationError("notificationType is required")
	case req.ChannelCode == "":
		return apperrors.NewValidationError("channel is required")
	}
	return nil
}

func (o *Orchestrator) recordOutcome(ctx context.Context, channelType models.ChannelType, outcome Outcome, started time.Time) {
	if outcome == "" {
		return
	}
	metrics.DispatchOutcomes.WithLabelValues(string(channelType), string(outcome)).Inc()
	o.obs.RecordDispatch(ctx, string(channelType), string(outcome), o.now().Sub(started))
}

// emit records an audit event. Audit failures never fail a dispatch.
func (o *Orchestrator) emit(ctx context.Context, e audit.Event) {
	if err := o.audit.Record(ctx, e); err != nil {
		o.logger.Warn("audit event dropped", map[string]interface{}{
			"eventId":        e.ID,
			"notificationId": e.NotificationID,
			"action":         e.Action,
			"error":          err,
		})
	}
}

type noDirectory struct{}

func (noDirectory) Address(ctx context.Context, tenantID, userID string, channel *models.Channel) (string, error) {
	return "", nil
}
