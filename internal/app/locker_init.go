package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tickethub/tms/internal/domain"
	healthcheck "github.com/tickethub/tms/internal/health"
	"github.com/tickethub/tms/internal/lock"
)

// initLocker создаёт lock manager по cfg.LockerDriver. Для redis
// возвращает health checker на основе Ping.
func initLocker(ctx context.Context, cfg Config, logger *log.Entry) (domain.Locker, healthcheck.Checker, func() error, error) {
	switch cfg.LockerDriver {
	case LockerDriverMemory, "":
		logger.Info("using in-memory lock manager")
		return lock.NewMemoryLocker(), nil, nil, nil

	case LockerDriverRedis:
		locker, err := lock.NewRedisLocker(ctx, lock.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect redis locker: %w", err)
		}

		logger.WithField("addr", cfg.RedisAddr).Info("using redis lock manager")
		checker := healthcheck.NewPingChecker("redis-locker", locker, 2*time.Second)
		return locker, checker, locker.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported locker driver %q", cfg.LockerDriver)
	}
}
