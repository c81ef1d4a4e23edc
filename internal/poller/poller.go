// Package poller periodically hands due notifications back to the
// orchestrator. It is the external scheduler for deferred rows: claiming is
// done by the orchestrator's version check, so several pollers may run
// against one database.
package poller

import (
	"context"
	"fmt"
	"time"

	"notification-dispatch/internal/common/logger"
	"notification-dispatch/internal/notification/dispatch"

	"github.com/robfig/cron/v3"
)

// Dispatcher sends due notifications. *dispatch.Orchestrator satisfies it.
type Dispatcher interface {
	DispatchDue(ctx context.Context, limit int) (dispatch.DueReport, error)
}

type Poller struct {
	cron       *cron.Cron
	dispatcher Dispatcher
	schedule   string
	batchSize  int
	timeout    time.Duration
	logger     logger.Logger
}

// New builds a poller that runs on schedule (standard cron syntax or
// descriptors such as "@every 30s"). Overlapping runs are skipped.
func New(d Dispatcher, schedule string, batchSize int, log logger.Logger) *Poller {
	log = logger.Component(log, "due-poller")
	return &Poller{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{log}),
			cron.SkipIfStillRunning(cronLogger{log}),
		)),
		dispatcher: d,
		schedule:   schedule,
		batchSize:  batchSize,
		timeout:    5 * time.Minute,
		logger:     log,
	}
}

// Start registers the poll job and starts the scheduler in the background.
func (p *Poller) Start() error {
	if _, err := p.cron.AddFunc(p.schedule, p.poll); err != nil {
		return fmt.Errorf("schedule due poller %q: %w", p.schedule, err)
	}
	p.cron.Start()
	p.logger.Info("due poller started", map[string]interface{}{
		"schedule":  p.schedule,
		"batchSize": p.batchSize,
	})
	return nil
}

// Stop stops scheduling new runs and waits for a running poll to finish or
// ctx to expire.
func (p *Poller) Stop(ctx context.Context) {
	done := p.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		p.logger.Warn("due poller stop timed out", nil)
	}
}

// RunOnce performs a single poll.
func (p *Poller) RunOnce(ctx context.Context) (dispatch.DueReport, error) {
	return p.dispatcher.DispatchDue(ctx, p.batchSize)
}

func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if _, err := p.RunOnce(ctx); err != nil {
		p.logger.Error("due poll failed", map[string]interface{}{"error": err})
	}
}

// cronLogger routes cron's own messages into the structured logger.
type cronLogger struct {
	logger logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, pairs(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := pairs(keysAndValues)
	fields["error"] = err
	l.logger.Error(msg, fields)
}

func pairs(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
