package domain

import (
	"context"
	"fmt"
	"time"
)

// Locker — распределённый lock с токеном владения.
// Acquire никогда не блокирует вызывающего: занятый ресурс — это
// ErrLockBusy, немедленно возвращаемый наверх как сигнал "повторите".
type Locker interface {
	// Acquire пытается захватить lock на resourceKey с TTL.
	// Возвращает токен владения или ErrLockBusy.
	Acquire(ctx context.Context, resourceKey string, ttl time.Duration) (string, error)
	// Release снимает lock, только если хранимый токен совпадает с переданным.
	// Возвращает false, если lock уже истёк или принадлежит другому владельцу.
	Release(ctx context.Context, resourceKey, token string) (bool, error)
}

// InventoryKey строит resourceKey для lock на срез инвентаря кампании.
func InventoryKey(campaignID, ticketType string) string {
	return fmt.Sprintf("inventory:%s:%s", campaignID, ticketType)
}

// Store открывает многосущностные атомарные транзакции над хранилищем.
// Транзакция обязана укладываться в рамки одного запроса, чтобы не пережить
// TTL внешнего lock.
type Store interface {
	// WithinTx выполняет fn в одной транзакции: либо фиксируются все записи,
	// либо ни одна.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	// Outbox даёт внетранзакционный доступ воркеру публикации.
	Outbox() OutboxRepository
}

// Tx — набор репозиториев, привязанных к одной открытой транзакции.
type Tx interface {
	Campaigns() CampaignRepository
	Bookings() BookingRepository
	Tickets() TicketRepository
	Ledger() LedgerRepository
	Withdrawals() WithdrawalRepository
	Refunds() RefundRepository
	Waitlist() WaitlistRepository
	Promos() PromoRepository
	Audit() AuditRepository
	Outbox() OutboxRepository
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
