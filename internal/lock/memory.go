package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tickethub/tms/internal/domain"
)

type memoryLock struct {
	token    string
	expireAt time.Time
}

// MemoryLocker — in-memory реализация Locker с той же семантикой токенов
// и TTL, что и у Redis-версии. Для локальной разработки и тестов.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	// now подменяется в тестах для проверки истечения TTL.
	now func() time.Time
}

// NewMemoryLocker создаёт in-memory lock manager.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]memoryLock),
		now:   time.Now,
	}
}

// Acquire захватывает lock, если ключ свободен или прежний владелец истёк.
func (l *MemoryLocker) Acquire(_ context.Context, resourceKey string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.locks[resourceKey]; ok && held.expireAt.After(now) {
		return "", domain.ErrLockBusy
	}

	token := uuid.NewString()
	l.locks[resourceKey] = memoryLock{token: token, expireAt: now.Add(ttl)}
	return token, nil
}

// Release снимает lock, только если токен совпадает и lock ещё жив.
func (l *MemoryLocker) Release(_ context.Context, resourceKey, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	held, ok := l.locks[resourceKey]
	if !ok || held.token != token || !held.expireAt.After(l.now()) {
		return false, nil
	}
	delete(l.locks, resourceKey)
	return true, nil
}

var _ domain.Locker = (*MemoryLocker)(nil)
