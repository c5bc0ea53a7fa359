package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/tickethub/tms/internal/health"
	"github.com/tickethub/tms/internal/messaging/kafka"
	"github.com/tickethub/tms/internal/service/expiry"
	"github.com/tickethub/tms/internal/service/idempotency"
	"github.com/tickethub/tms/internal/service/outbox"
	"github.com/tickethub/tms/internal/version"
)

// Run собирает зависимости и запускает фоновые контуры сервиса:
// HTTP-сервер метрик и health checks, outbox worker, expiry reaper
// и consumer платёжных событий. Блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := deps.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("failed to close dependencies")
		}
	}()

	// Kafka опционален: без brokers сервис работает, но события из
	// outbox не публикуются и платёжные результаты не потребляются.
	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(producer, logger)

	healthHandler := healthcheck.NewHandler(version.Version())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	if deps.lockerChecker != nil {
		healthHandler.RegisterChecker("locker", deps.lockerChecker)
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var wg sync.WaitGroup

	if producer != nil {
		worker := outbox.NewWorker(
			deps.Store.Outbox(),
			kafka.NewOutboxPublisher(producer),
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithDLQPublisher(kafka.NewDLQPublisher(producer)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(workerCtx)
		}()
	} else {
		logger.Warn("kafka brokers are not configured, outbox worker is disabled")
	}

	reaper := expiry.NewReaper(
		deps.Store,
		deps.Engine,
		deps.Waitlist,
		expiry.WithLogger(logger.WithField("layer", "expiry")),
		expiry.WithInterval(cfg.ReaperInterval),
		expiry.WithBatchSize(cfg.ReaperBatchSize),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reaper.Run(workerCtx)
	}()

	cleanup := idempotency.NewCleanupWorker(
		deps.Dedup,
		idempotency.WithLogger(logger.WithField("layer", "dedup")),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup.Run(workerCtx)
	}()

	var consumer *kafka.Consumer
	if producer != nil && cfg.KafkaGroupID != "" {
		topics := splitList(cfg.PaymentTopics)
		consumer, err = kafka.NewConsumer(splitList(cfg.KafkaBrokers), cfg.KafkaGroupID, topics, deps.Payments.Handle, producer)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka consumer, continuing without payment events")
			consumer = nil
		} else if err := consumer.Start(workerCtx); err != nil {
			logger.WithError(err).Warn("failed to start kafka consumer")
			consumer = nil
		}
	}

	logger.WithFields(log.Fields{
		"storage": cfg.StorageDriver,
		"locker":  cfg.LockerDriver,
	}).Info("booking service started")

	<-ctx.Done()
	logger.Info("получен сигнал остановки, останавливаем сервис")

	stopWorkers()
	wg.Wait()

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}

	shutdownHTTP(metricsSrv, logger)
	return ctx.Err()
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus
// и health check endpoints.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
