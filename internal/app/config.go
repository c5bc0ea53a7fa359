package app

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Поддерживаемые драйверы хранилища и lock manager'а.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	LockerDriverMemory = "memory"
	LockerDriverRedis  = "redis"
)

// Config описывает настройки запуска сервиса бронирования.
type Config struct {
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	LockerDriver  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers  string
	KafkaGroupID  string
	PaymentTopics string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	ReaperInterval  time.Duration
	ReaperBatchSize int

	WithdrawalMinimumMinor int64
}

// DefaultConfig возвращает настройки для локального запуска: in-memory
// хранилище и lock manager, Kafka выключен.
func DefaultConfig() Config {
	return Config{
		MetricsAddr:            ":9090",
		StorageDriver:          StorageDriverMemory,
		PostgresAutoMigrate:    true,
		LockerDriver:           LockerDriverMemory,
		RedisAddr:              "localhost:6379",
		KafkaGroupID:           "tms-booking-service",
		PaymentTopics:          "tms.payments",
		OutboxPollInterval:     time.Second,
		OutboxBatchSize:        100,
		OutboxMaxAttempts:      3,
		OutboxRetryDelay:       50 * time.Millisecond,
		ReaperInterval:         time.Minute,
		ReaperBatchSize:        200,
		WithdrawalMinimumMinor: 1000,
	}
}

// LoadConfig читает настройки через viper: значения по умолчанию
// перекрываются переменными окружения с префиксом TMS,
// например TMS_POSTGRES_DSN или TMS_KAFKA_BROKERS.
func LoadConfig() Config {
	def := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("tms")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("metrics.addr", def.MetricsAddr)
	v.SetDefault("storage.driver", def.StorageDriver)
	v.SetDefault("postgres.dsn", def.PostgresDSN)
	v.SetDefault("postgres.auto_migrate", def.PostgresAutoMigrate)
	v.SetDefault("locker.driver", def.LockerDriver)
	v.SetDefault("redis.addr", def.RedisAddr)
	v.SetDefault("redis.password", def.RedisPassword)
	v.SetDefault("redis.db", def.RedisDB)
	v.SetDefault("kafka.brokers", def.KafkaBrokers)
	v.SetDefault("kafka.group_id", def.KafkaGroupID)
	v.SetDefault("kafka.payment_topics", def.PaymentTopics)
	v.SetDefault("outbox.poll_interval", def.OutboxPollInterval)
	v.SetDefault("outbox.batch_size", def.OutboxBatchSize)
	v.SetDefault("outbox.max_attempts", def.OutboxMaxAttempts)
	v.SetDefault("outbox.retry_delay", def.OutboxRetryDelay)
	v.SetDefault("reaper.interval", def.ReaperInterval)
	v.SetDefault("reaper.batch_size", def.ReaperBatchSize)
	v.SetDefault("withdrawal.minimum_minor", def.WithdrawalMinimumMinor)

	return Config{
		MetricsAddr:            v.GetString("metrics.addr"),
		StorageDriver:          v.GetString("storage.driver"),
		PostgresDSN:            v.GetString("postgres.dsn"),
		PostgresAutoMigrate:    v.GetBool("postgres.auto_migrate"),
		LockerDriver:           v.GetString("locker.driver"),
		RedisAddr:              v.GetString("redis.addr"),
		RedisPassword:          v.GetString("redis.password"),
		RedisDB:                v.GetInt("redis.db"),
		KafkaBrokers:           v.GetString("kafka.brokers"),
		KafkaGroupID:           v.GetString("kafka.group_id"),
		PaymentTopics:          v.GetString("kafka.payment_topics"),
		OutboxPollInterval:     v.GetDuration("outbox.poll_interval"),
		OutboxBatchSize:        v.GetInt("outbox.batch_size"),
		OutboxMaxAttempts:      v.GetInt("outbox.max_attempts"),
		OutboxRetryDelay:       v.GetDuration("outbox.retry_delay"),
		ReaperInterval:         v.GetDuration("reaper.interval"),
		ReaperBatchSize:        v.GetInt("reaper.batch_size"),
		WithdrawalMinimumMinor: v.GetInt64("withdrawal.minimum_minor"),
	}
}

// splitList разбирает список через запятую, отбрасывая пустые элементы.
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
