package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tickethub/tms/internal/domain"
	healthcheck "github.com/tickethub/tms/internal/health"
	"github.com/tickethub/tms/internal/storage/memory"
	"github.com/tickethub/tms/internal/storage/postgres"
)

// initStore создаёт хранилище по cfg.StorageDriver. Для postgres при
// включённом auto_migrate применяет embedded-миграции и возвращает
// health checker на основе Ping.
func initStore(ctx context.Context, cfg Config, logger *log.Entry) (domain.Store, healthcheck.Checker, func() error, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		logger.Info("using in-memory storage")
		return memory.NewStore(), nil, nil, nil

	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres storage: %w", err)
		}

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, nil, nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		logger.Info("using postgres storage")
		checker := healthcheck.NewPingChecker("postgres", store, 2*time.Second)
		return store, checker, store.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
