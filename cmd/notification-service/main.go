// cmd/notification-service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"notification-dispatch/internal/api"
	"notification-dispatch/internal/audit"
	commonaws "notification-dispatch/internal/common/aws"
	"notification-dispatch/internal/common/camunda"
	"notification-dispatch/internal/common/config"
	"notification-dispatch/internal/common/database"
	commonhttp "notification-dispatch/internal/common/http"
	"notification-dispatch/internal/common/logger"
	"notification-dispatch/internal/common/observability"
	"notification-dispatch/internal/models"
	"notification-dispatch/internal/notification/dispatch"
	"notification-dispatch/internal/notification/transport"
	"notification-dispatch/internal/poller"
	"notification-dispatch/internal/repository"
	sn "notification-dispatch/internal/workers/notification/send-notification"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	log.Info("starting notification service", map[string]interface{}{
		"environment": cfg.App.Environment,
		"version":     cfg.App.Version,
	})

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		log.Warn("otel metrics exporter unavailable", map[string]interface{}{"error": err.Error()})
	}
	defer obs.Shutdown()

	ctx := context.Background()

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, log, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Database.Postgres.AutoMigrate {
		if err := repository.Migrate(ctx, pg.GetDB()); err != nil {
			zapLog.Fatal("schema migration failed", zap.Error(err))
		}
		log.Info("schema migrated", nil)
	}

	// --- Redis ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, log, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()

	healthChecks := []database.Pinger{pg, rdb}

	store := repository.NewPostgres(pg.GetDB())
	catalog := repository.NewCachedCatalog(store, rdb.GetClient(), config.GetDuration(cfg.Notifications.CatalogCacheTTLMs), log)

	// --- Audit trail ---
	sinks := audit.Multi{audit.NewLogSink(log)}
	var history api.HistoryReader
	if cfg.Database.Elasticsearch.Enabled {
		var es *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, log, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		esSink := audit.NewElasticsearchSink(es.Client, cfg.Database.Elasticsearch.AuditIndex)
		sinks = append(sinks, esSink)
		history = esSink
		healthChecks = append(healthChecks, es)
	}

	// --- Transports ---
	registry, err := buildTransports(ctx, cfg, rdb, log)
	if err != nil {
		zapLog.Fatal("transport setup failed", zap.Error(err))
	}

	orch := dispatch.New(dispatch.Dependencies{
		Catalog:       catalog,
		Preferences:   store,
		Notifications: store,
		Transports:    registry,
		Recipients:    dispatch.NewContactDirectory(store),
		Audit:         sinks,
		Observability: obs,
		Logger:        log,
	}, dispatch.Options{
		DefaultLanguage: cfg.Notifications.DefaultLanguage,
		Location:        cfg.Notifications.Location(),
		OrphanGrace:     time.Duration(cfg.Notifications.OrphanGraceMs) * time.Millisecond,
	})

	// --- Due poller ---
	duePoller := poller.New(orch, cfg.Notifications.PollSchedule, cfg.Notifications.PollBatchSize, log)
	if err := duePoller.Start(); err != nil {
		zapLog.Fatal("poller start failed", zap.Error(err))
	}

	// --- Zeebe worker ---
	var (
		zeebe  *camunda.Client
		worker *camunda.CamundaWorker
	)
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: true,
				ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
			})
			return err
		}, 10, 2*time.Second, log, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		healthChecks = append(healthChecks, zeebe)

		wcfg := sn.FromWorkerConfig(config.GetWorkerConfig(cfg, sn.TaskType))
		if err := wcfg.Validate(); err != nil {
			zapLog.Fatal("invalid worker config", zap.String("taskType", sn.TaskType), zap.Error(err))
		}
		if wcfg.Enabled {
			handler := sn.NewHandler(wcfg, orch, log)
			worker = camunda.NewWorker(zeebe.GetClient(), sn.TaskType, camunda.WorkerOptions{
				MaxJobsActive: wcfg.MaxJobsActive,
				Timeout:       wcfg.Timeout,
			}, handler, log)
		}
	}

	// --- HTTP API ---
	server := api.NewServer(orch, log,
		api.WithHealthChecks(healthChecks...),
		api.WithCatalogCache(catalog),
		api.WithHistory(history),
	)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("http server listening", map[string]interface{}{"address": cfg.HTTP.Address})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	duePoller.Stop(shutdownCtx)
	if worker != nil {
		worker.Stop()
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			log.Error("error closing Zeebe client", map[string]interface{}{"error": err.Error()})
		}
	}

	log.Info("notification service stopped", nil)
}

// buildTransports registers one transport per enabled provider. SES wins
// over SMTP when both are enabled.
func buildTransports(ctx context.Context, cfg *config.Config, rdb *database.RedisClient, log logger.Logger) (*transport.Registry, error) {
	registry := transport.NewRegistry()
	integrations := cfg.Integrations

	var awsClients *commonaws.Clients
	if integrations.AWS.SES.Enabled || integrations.AWS.SNS.Enabled {
		var err error
		awsClients, err = commonaws.NewClients(ctx, integrations.AWS.Region)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case integrations.AWS.SES.Enabled:
		registry.Register(models.ChannelEmail, transport.NewSESEmail(awsClients.SES, integrations.AWS.SES.FromEmail, log))
	case integrations.SMTP.Enabled:
		smtpCfg := transport.SMTPConfig{
			Host:        integrations.SMTP.Host,
			Port:        integrations.SMTP.Port,
			Username:    integrations.SMTP.Username,
			Password:    integrations.SMTP.Password,
			UseTLS:      integrations.SMTP.UseTLS,
			DefaultFrom: integrations.SMTP.DefaultFrom,
			Timeout:     30 * time.Second,
		}
		registry.Register(models.ChannelEmail, transport.NewSMTPEmail(transport.NewSMTPDialer(smtpCfg), smtpCfg, log))
	}

	if integrations.AWS.SNS.Enabled {
		registry.Register(models.ChannelSMS, transport.NewSNSSMS(awsClients.SNS, integrations.AWS.SNS.SMSSenderID, log))
		registry.Register(models.ChannelPush, transport.NewSNSPush(awsClients.SNS, integrations.AWS.SNS.PushPlatform, log))
	}

	httpClient := commonhttp.NewClient(config.GetDuration(cfg.Notifications.WebhookTimeoutMs))
	registry.Register(models.ChannelWebhook, transport.NewWebhook(httpClient, log))
	registry.Register(models.ChannelInApp, transport.NewInApp(rdb.GetClient(), log))

	log.Info("transports registered", map[string]interface{}{"channelTypes": registry.Types()})
	return registry, nil
}
