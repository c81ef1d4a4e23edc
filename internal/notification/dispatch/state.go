package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notification-dispatch/internal/audit"
	apperrors "notification-dispatch/internal/common/errors"
	"notification-dispatch/internal/common/metrics"
	"notification-dispatch/internal/models"
	"notification-dispatch/internal/repository"
)

// transitions lists every legal status change. sent may stay terminal or
// move to delivered; failed and cancelled are terminal.
var transitions = map[models.Status][]models.Status{
	models.StatusPending: {models.StatusSending, models.StatusCancelled},
	models.StatusSending: {models.StatusSent, models.StatusFailed},
	models.StatusSent:    {models.StatusDelivered},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to models.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition writes n with status to if the stored row still matches n's
// version and status. n is only updated when the write succeeds.
func (o *Orchestrator) transition(ctx context.Context, n *models.Notification, to models.Status, apply func(*models.Notification)) error {
	from := n.Status
	if !CanTransition(from, to) {
		return apperrors.NewInvalidStateTransitionError(n.ID, string(from), string(to))
	}

	next := *n
	next.Status = to
	next.UpdatedAt = o.now().UTC()
	if apply != nil {
		apply(&next)
	}

	if err := o.notifications.TransitionNotification(ctx, &next, from); err != nil {
		switch {
		case errors.Is(err, repository.ErrVersionConflict):
			metrics.VersionConflicts.Inc()
			return apperrors.NewConcurrentModificationError(n.ID, err)
		case errors.Is(err, repository.ErrNotFound):
			return apperrors.NewNotificationNotFoundError(n.ID, err)
		default:
			return err
		}
	}
	*n = next

	metrics.StatusTransitions.WithLabelValues(string(from), string(to)).Inc()
	o.logger.Info("notification status changed", map[string]interface{}{
		"notificationId": n.ID,
		"from":           string(from),
		"to":             string(to),
		"version":        n.Version,
	})

	e := audit.NewEvent(audit.ActionTransition, n, next.UpdatedAt)
	e.From, e.To = from, to
	e.Error = n.ErrorMessage
	e.ExternalID = n.ExternalID
	o.emit(ctx, e)
	return nil
}

// send claims a pending row, calls the transport once and records the
// result. An empty Outcome means the row was never claimed or the final
// write failed; the error says why.
func (o *Orchestrator) send(ctx context.Context, n *models.Notification, channel *models.Channel) (Outcome, error) {
	if err := o.transition(ctx, n, models.StatusSending, nil); err != nil {
		return "", err
	}

	started := time.Now()
	externalID, sendErr := o.transports.Send(ctx, n, channel)
	result := "success"
	if sendErr != nil {
		result = "error"
	}
	metrics.TransportDuration.WithLabelValues(string(channel.Type), result).Observe(time.Since(started).Seconds())

	if sendErr != nil {
		o.logger.Error("transport send failed", map[string]interface{}{
			"notificationId": n.ID,
			"channelType":    string(channel.Type),
			"error":          sendErr,
		})
		// Use a fresh context: the caller's may be what just expired.
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := o.transition(writeCtx, n, models.StatusFailed, func(next *models.Notification) {
			next.ErrorMessage = sendErr.Error()
		}); err != nil {
			o.logger.Error("failed to record transport failure", map[string]interface{}{
				"notificationId": n.ID,
				"error":          err,
			})
		}
		return OutcomeFailed, apperrors.NewTransportError(string(channel.Type), sendErr)
	}

	sentAt := o.now().UTC()
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.transition(writeCtx, n, models.StatusSent, func(next *models.Notification) {
		next.SentAt = &sentAt
		next.ExternalID = externalID
		next.ErrorMessage = ""
	}); err != nil {
		o.logger.Error("notification sent but status not recorded", map[string]interface{}{
			"notificationId": n.ID,
			"externalId":     externalID,
			"error":          err,
		})
		return "", err
	}
	return OutcomeSent, nil
}

// Send delivers a pending notification whose scheduled time has passed. It is
// what external schedulers call for deferred rows. A row scheduled in the
// future, such as one deferred past a do-not-disturb window, is rejected with
// INVALID_STATE_TRANSITION.
func (o *Orchestrator) Send(ctx context.Context, id string) (result *Result, err error) {
	ctx, end := o.obs.StartSpan(ctx, "notification.send")
	defer func() { end(err) }()

	n, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status != models.StatusPending {
		return nil, apperrors.NewInvalidStateTransitionError(n.ID, string(n.Status), string(models.StatusSending))
	}
	if n.ScheduledAt != nil && n.ScheduledAt.After(o.now()) {
		return nil, apperrors.NewInvalidStateTransitionError(n.ID, string(n.Status), string(models.StatusSending)).
			WithMetadata("scheduledAt", n.ScheduledAt.UTC())
	}

	channel, err := o.catalog.GetChannel(ctx, n.ChannelID)
	if errors.Is(err, repository.ErrNotFound) {
		// The channel was deleted after the row was created; nothing can deliver it.
		if terr := o.failUnsendable(ctx, n, "channel no longer exists"); terr != nil {
			return nil, terr
		}
		return &Result{Outcome: OutcomeFailed, Notification: n},
			apperrors.NewConfigurationError("channel", n.ChannelID, err)
	}
	if err != nil {
		return nil, err
	}

	started := o.now()
	outcome, err := o.send(ctx, n, channel)
	o.recordOutcome(ctx, channel.Type, outcome, started)
	if outcome == "" {
		return nil, err
	}
	return &Result{Outcome: outcome, Notification: n}, err
}

// failUnsendable moves a pending row through sending to failed without a
// transport call, so the record still shows why it never went out.
func (o *Orchestrator) failUnsendable(ctx context.Context, n *models.Notification, reason string) error {
	if err := o.transition(ctx, n, models.StatusSending, nil); err != nil {
		return err
	}
	return o.transition(ctx, n, models.StatusFailed, func(next *models.Notification) {
		next.ErrorMessage = reason
	})
}

// MarkDelivered records a provider's asynchronous delivery confirmation.
func (o *Orchestrator) MarkDelivered(ctx context.Context, id, externalID string) (*models.Notification, error) {
	n, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.transition(ctx, n, models.StatusDelivered, func(next *models.Notification) {
		if externalID != "" {
			next.ExternalID = externalID
		}
	}); err != nil {
		return nil, err
	}
	return n, nil
}

// Cancel stops a pending notification. Any other status is an
// INVALID_STATE_TRANSITION; losing a race with a sender is a
// CONCURRENT_MODIFICATION.
func (o *Orchestrator) Cancel(ctx context.Context, tenantID, userID, id string) (*models.Notification, error) {
	n, err := o.loadOwned(ctx, tenantID, userID, id)
	if err != nil {
		return nil, err
	}
	if err := o.transition(ctx, n, models.StatusCancelled, nil); err != nil {
		return nil, err
	}
	return n, nil
}

// DueReport summarizes one DispatchDue pass.
type DueReport struct {
	Picked  int `json:"picked"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// DispatchDue sends pending rows whose scheduled time has passed, plus
// unscheduled pending rows older than the orphan grace period. Rows claimed
// by a concurrent caller are skipped.
func (o *Orchestrator) DispatchDue(ctx context.Context, limit int) (DueReport, error) {
	var report DueReport
	now := o.now().UTC()

	due, err := o.notifications.ListDue(ctx, now, now.Add(-o.orphanGrace), limit)
	if err != nil {
		return report, fmt.Errorf("list due notifications: %w", err)
	}
	report.Picked = len(due)
	metrics.DuePollBatch.Observe(float64(len(due)))

	for _, n := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, err := o.sendDue(ctx, n)
		switch {
		case outcome == OutcomeSent:
			report.Sent++
		case outcome == OutcomeFailed:
			report.Failed++
		case apperrors.HasCode(err, apperrors.ErrCodeConcurrentModification):
			report.Skipped++
		default:
			report.Failed++
			o.logger.Error("due notification not dispatched", map[string]interface{}{
				"notificationId": n.ID,
				"error":          err,
			})
		}
	}

	if report.Picked > 0 {
		o.logger.Info("due notifications dispatched", map[string]interface{}{
			"picked":  report.Picked,
			"sent":    report.Sent,
			"failed":  report.Failed,
			"skipped": report.Skipped,
		})
	}
	return report, nil
}

func (o *Orchestrator) sendDue(ctx context.Context, n *models.Notification) (Outcome, error) {
	channel, err := o.catalog.GetChannel(ctx, n.ChannelID)
	if errors.Is(err, repository.ErrNotFound) {
		if err := o.failUnsendable(ctx, n, "channel no longer exists"); err != nil {
			return "", err
		}
		return OutcomeFailed, nil
	}
	if err != nil {
		return "", err
	}

	started := o.now()
	outcome, err := o.send(ctx, n, channel)
	o.recordOutcome(ctx, channel.Type, outcome, started)
	return outcome, err
}

func (o *Orchestrator) load(ctx context.Context, id string) (*models.Notification, error) {
	n, err := o.notifications.GetNotification(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotificationNotFoundError(id, err)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// loadOwned hides rows of other users behind NOTIFICATION_NOT_FOUND.
func (o *Orchestrator) loadOwned(ctx context.Context, tenantID, userID, id string) (*models.Notification, error) {
	n, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.TenantID != tenantID || n.UserID != userID {
		return nil, apperrors.NewNotificationNotFoundError(id, repository.ErrNotFound)
	}
	return n, nil
}
