package memory

import (
	"time"

	"github.com/google/uuid"

	"github.com/tickethub/tms/internal/domain"
)

// outboxRepository — in-memory реализация transactional outbox,
// привязанная к транзакции Store.
type outboxRepository struct {
	st *state
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его идентификатор.
func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.st.outbox[msg.ID] = &outboxRecord{
		msg:       msg,
		status:    "pending",
		createdAt: now,
		updatedAt: now,
	}
	return msg, nil
}

// PullPending возвращает до limit сообщений со статусом `pending`.
func (r *outboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.OutboxMessage, 0, limit)
	for _, rec := range r.st.outbox {
		if rec.status != "pending" {
			continue
		}
		result = append(result, rec.msg)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Stats возвращает состояние backlog.
func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	stats := domain.OutboxStats{}
	for _, rec := range r.st.outbox {
		if rec.status != "pending" {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *outboxRepository) MarkSent(id string) error {
	rec, ok := r.st.outbox[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	rec.status = "sent"
	rec.attemptCnt++
	rec.updatedAt = time.Now().UTC()
	return nil
}

// MarkFailed фиксирует ошибку публикации.
func (r *outboxRepository) MarkFailed(id string) error {
	rec, ok := r.st.outbox[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	rec.status = "failed"
	rec.attemptCnt++
	rec.updatedAt = time.Now().UTC()
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)

// outboxView — внетранзакционный доступ к outbox для воркера публикации.
// Каждый вызов берёт мьютекс Store, чтобы не пересекаться с транзакциями.
type outboxView struct {
	store *Store
}

func (v *outboxView) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return (&outboxRepository{st: v.store.st}).Enqueue(msg)
}

func (v *outboxView) PullPending(limit int) ([]domain.OutboxMessage, error) {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return (&outboxRepository{st: v.store.st}).PullPending(limit)
}

func (v *outboxView) Stats() (domain.OutboxStats, error) {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return (&outboxRepository{st: v.store.st}).Stats()
}

func (v *outboxView) MarkSent(id string) error {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return (&outboxRepository{st: v.store.st}).MarkSent(id)
}

func (v *outboxView) MarkFailed(id string) error {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return (&outboxRepository{st: v.store.st}).MarkFailed(id)
}

// AllPending возвращает копию всех сообщений со статусом `pending` (используется в тестах).
func (v *outboxView) AllPending() []domain.OutboxMessage {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()

	result := make([]domain.OutboxMessage, 0, len(v.store.st.outbox))
	for _, rec := range v.store.st.outbox {
		if rec.status == "pending" {
			result = append(result, rec.msg)
		}
	}
	return result
}

var _ domain.OutboxRepository = (*outboxView)(nil)
