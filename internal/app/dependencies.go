package app

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tickethub/tms/internal/domain"
	healthcheck "github.com/tickethub/tms/internal/health"
	"github.com/tickethub/tms/internal/metrics"
	"github.com/tickethub/tms/internal/service/booking"
	"github.com/tickethub/tms/internal/service/payment"
	"github.com/tickethub/tms/internal/service/waitlist"
	"github.com/tickethub/tms/internal/service/withdrawal"
	"github.com/tickethub/tms/internal/storage/memory"
)

// Dependencies содержит собранный сервисный слой приложения.
type Dependencies struct {
	Store       domain.Store
	Locker      domain.Locker
	Waitlist    *waitlist.Service
	Engine      *booking.Engine
	Finalizer   *payment.Finalizer
	Payments    *payment.Handler
	Withdrawals *withdrawal.Service
	Dedup       domain.IdempotencyRepository
	Logger      *log.Entry

	storageChecker healthcheck.Checker
	lockerChecker  healthcheck.Checker
	closeFns       []func() error
}

// initRuntimeDependencies создаёт хранилище, lock manager и сервисы
// поверх них. Вызов Close обязателен: накопленные closeFns закрывают
// внешние подключения в обратном порядке создания.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	store, storageChecker, storeClose, err := initStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	locker, lockerChecker, lockerClose, err := initLocker(ctx, cfg, logger)
	if err != nil {
		if storeClose != nil {
			_ = storeClose()
		}
		return nil, err
	}

	m := metrics.NewBookingMetrics()
	waitlistSvc := waitlist.NewService(store, logger.WithField("layer", "waitlist"))
	engine := booking.NewEngine(store, locker, waitlistSvc, logger.WithField("layer", "booking"), m)
	finalizer := payment.NewFinalizer(store, logger.WithField("layer", "payment"), m)
	dedup := memory.NewIdempotencyRepository()
	paymentHandler := payment.NewHandler(finalizer, engine, logger.WithField("layer", "payment"),
		payment.WithDedup(dedup, 24*time.Hour))
	withdrawals := withdrawal.NewService(store, cfg.WithdrawalMinimumMinor, logger.WithField("layer", "withdrawal"))

	deps := &Dependencies{
		Store:          store,
		Locker:         locker,
		Waitlist:       waitlistSvc,
		Engine:         engine,
		Finalizer:      finalizer,
		Payments:       paymentHandler,
		Withdrawals:    withdrawals,
		Dedup:          dedup,
		Logger:         logger,
		storageChecker: storageChecker,
		lockerChecker:  lockerChecker,
	}
	if lockerClose != nil {
		deps.closeFns = append(deps.closeFns, lockerClose)
	}
	if storeClose != nil {
		deps.closeFns = append(deps.closeFns, storeClose)
	}

	return deps, nil
}

// Close закрывает внешние подключения зависимостей.
func (d *Dependencies) Close() error {
	if d == nil {
		return nil
	}

	var firstErr error
	for _, closeFn := range d.closeFns {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.closeFns = nil
	return firstErr
}
