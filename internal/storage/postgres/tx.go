package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tickethub/tms/internal/domain"
)

const opTimeout = 5 * time.Second

// querier покрывает общие методы *sql.DB и *sql.Tx, чтобы репозитории
// работали и внутри транзакции, и напрямую по подключению.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// pgTx — набор репозиториев, привязанных к одной открытой SQL-транзакции.
// Контекст запроса живёт в транзакции: доменные интерфейсы репозиториев
// контекст не принимают.
type pgTx struct {
	ctx context.Context
	q   *sql.Tx
}

var _ domain.Tx = (*pgTx)(nil)

func (t *pgTx) Campaigns() domain.CampaignRepository {
	return &campaignRepository{ctx: t.ctx, q: t.q}
}

func (t *pgTx) Bookings() domain.BookingRepository {
	return &bookingRepository{ctx: t.ctx, q: t.q}
}

func (t *pgTx) Tickets() domain.TicketRepository {
	return &ticketRepository{ctx: t.ctx, q: t.q}
}

func (t *pgTx) Ledger() domain.LedgerRepository {
	return &ledgerRepository{ctx: t.ctx, q: t.q}
}

func (t *pgTx) Withdrawals() domain.WithdrawalRepository {
	return &withdrawalRepository{ctx: t.ctx, q: t.q}
}

func (t *pgTx) Refunds() domain.RefundRepository {
	return &refundRepository{ctx: t.ctx, q: t.q}
}

func (t *pgTx) Waitlist() domain.WaitlistRepository {
	return &waitlistRepository{ctx: t.ctx, q: t.q}
}

func (t *pgTx) Promos() domain.PromoRepository {
	return &promoRepository{ctx: t.ctx, q: t.q}
}

func (t *pgTx) Audit() domain.AuditRepository {
	return &auditRepository{ctx: t.ctx, q: t.q}
}

func (t *pgTx) Outbox() domain.OutboxRepository {
	return &outboxRepository{ctx: t.ctx, q: t.q}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
