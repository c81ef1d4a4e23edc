package sendnotification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"notification-dispatch/internal/common/errors"
	"notification-dispatch/internal/common/logger"
	"notification-dispatch/internal/common/metrics"
	"notification-dispatch/internal/notification/dispatch"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "send-notification"
)

// Dispatcher creates and dispatches one notification.
type Dispatcher interface {
	CreateAndDispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

type Handler struct {
	config       *Config
	dispatcher   Dispatcher
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, dispatcher Dispatcher, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		dispatcher:   dispatcher,
		errorHandler: errors.NewErrorHandler(log),
		logger:       log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer func() {
		metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()
		metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	}()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.parseInput(job)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("parse input: %v", err))
	}

	var missing []string
	if input.TenantID == "" {
		missing = append(missing, "tenantId")
	}
	if input.UserID == "" {
		missing = append(missing, "userId")
	}
	if input.NotificationType == "" {
		missing = append(missing, "notificationType")
	}
	if input.Channel == "" {
		missing = append(missing, "channel")
	}
	if len(missing) > 0 {
		return nil, errors.NewValidationError("missing required fields: " + strings.Join(missing, ", "))
	}
	return &input, nil
}

// execute dispatches the request. A transport failure completes the job with
// outcome "failed": the notification row already exists, so retrying the job
// would notify the user twice.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	req, err := toRequest(input)
	if err != nil {
		return nil, err
	}

	result, err := h.dispatcher.CreateAndDispatch(ctx, req)
	if err != nil {
		if result != nil && result.Notification != nil && errors.HasCode(err, errors.ErrCodeTransport) {
			out := toOutput(result)
			out.ErrorMessage = result.Notification.ErrorMessage
			return out, nil
		}
		return nil, err
	}
	return toOutput(result), nil
}

func toRequest(input *Input) (dispatch.Request, error) {
	req := dispatch.Request{
		TenantID:         input.TenantID,
		UserID:           input.UserID,
		TypeCode:         input.NotificationType,
		ChannelCode:      input.Channel,
		Data:             input.Data,
		Language:         input.Language,
		RecipientAddress: input.RecipientAddress,
	}
	if input.ScheduleAt != "" {
		at, err := time.Parse(time.RFC3339, input.ScheduleAt)
		if err != nil {
			return req, errors.NewValidationError(fmt.Sprintf("scheduleAt must be RFC 3339: %v", err))
		}
		req.ScheduleAt = &at
	}
	return req, nil
}

func toOutput(result *dispatch.Result) *Output {
	out := &Output{
		Outcome: string(result.Outcome),
		Reason:  result.Reason,
	}
	if n := result.Notification; n != nil {
		out.NotificationID = n.ID
		out.Status = string(n.Status)
		if n.ScheduledAt != nil {
			out.ScheduledAt = n.ScheduledAt.UTC().Format(time.RFC3339)
		}
		if n.SentAt != nil {
			out.SentAt = n.SentAt.UTC().Format(time.RFC3339)
		}
	}
	return out
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	h.logger.Info("job completed", map[string]interface{}{
		"jobKey":         job.Key,
		"notificationId": output.NotificationID,
		"outcome":        output.Outcome,
	})
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}
