package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/tickethub/tms/internal/domain"
)

// releaseScript удаляет ключ, только если хранимый токен совпадает с
// переданным: истёкший владелец не может снять lock нового владельца.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// RedisLocker — lock manager поверх Redis: условный SET NX PX на захват,
// Lua compare-and-delete на снятие. TTL страхует от упавшего владельца.
type RedisLocker struct {
	client *redis.Client
	logger *log.Entry
}

// Options задаёт подключение RedisLocker.
type Options struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRedisLocker создаёт lock manager и проверяет доступность Redis.
func NewRedisLocker(ctx context.Context, opts Options) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis lock node %s: %w", opts.Addr, err)
	}

	return &RedisLocker{
		client: client,
		logger: log.WithField("component", "redis-locker"),
	}, nil
}

// Acquire делает условный set-if-absent с TTL. Занятый ключ — ErrLockBusy:
// вызывающий не ждёт и не крутится, занятость уходит наверх немедленно.
func (l *RedisLocker) Acquire(ctx context.Context, resourceKey string, ttl time.Duration) (string, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, resourceKey, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock %s: %w", resourceKey, err)
	}
	if !ok {
		return "", domain.ErrLockBusy
	}

	l.logger.WithFields(log.Fields{
		"resource_key": resourceKey,
		"ttl":          ttl,
	}).Debug("lock acquired")
	return token, nil
}

// Release снимает lock атомарным compare-and-delete по токену.
func (l *RedisLocker) Release(ctx context.Context, resourceKey, token string) (bool, error) {
	result, err := l.client.Eval(ctx, releaseScript, []string{resourceKey}, token).Result()
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", resourceKey, err)
	}

	deleted, _ := result.(int64)
	if deleted == 0 {
		l.logger.WithField("resource_key", resourceKey).Warn("lock already expired or owned by another holder")
		return false, nil
	}
	return true, nil
}

// Ping проверяет соединение с Redis (для health check).
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close закрывает подключение к Redis.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

var _ domain.Locker = (*RedisLocker)(nil)
