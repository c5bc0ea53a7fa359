package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tickethub/tms/internal/domain"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// state — всё содержимое in-memory хранилища. Мутируется только под
// мьютексом Store, поэтому репозитории внутри транзакции работают
// с прямым доступом.
type state struct {
	campaigns   map[string]domain.Campaign
	bookings    map[string]domain.Booking
	tickets     map[string][]domain.Ticket
	balances    map[string]domain.SellerBalance
	ledger      map[string][]domain.LedgerEntry
	withdrawals map[string]domain.Withdrawal
	methods     map[string]domain.PayoutMethod
	refunds     map[string]domain.RefundRequest
	waitlist    map[string]domain.WaitlistEntry
	promos      map[string]domain.PromoCode
	audit       map[string][]domain.AuditRecord
	outbox      map[string]*outboxRecord
}

func newState() *state {
	return &state{
		campaigns:   make(map[string]domain.Campaign),
		bookings:    make(map[string]domain.Booking),
		tickets:     make(map[string][]domain.Ticket),
		balances:    make(map[string]domain.SellerBalance),
		ledger:      make(map[string][]domain.LedgerEntry),
		withdrawals: make(map[string]domain.Withdrawal),
		methods:     make(map[string]domain.PayoutMethod),
		refunds:     make(map[string]domain.RefundRequest),
		waitlist:    make(map[string]domain.WaitlistEntry),
		promos:      make(map[string]domain.PromoCode),
		audit:       make(map[string][]domain.AuditRecord),
		outbox:      make(map[string]*outboxRecord),
	}
}

// clone делает глубокую копию состояния для отката транзакции.
func (st *state) clone() *state {
	c := newState()
	for id, campaign := range st.campaigns {
		c.campaigns[id] = cloneCampaign(campaign)
	}
	for id, booking := range st.bookings {
		c.bookings[id] = booking
	}
	for id, tickets := range st.tickets {
		c.tickets[id] = append([]domain.Ticket(nil), tickets...)
	}
	for id, balance := range st.balances {
		c.balances[id] = balance
	}
	for id, entries := range st.ledger {
		c.ledger[id] = append([]domain.LedgerEntry(nil), entries...)
	}
	for id, w := range st.withdrawals {
		c.withdrawals[id] = w
	}
	for id, m := range st.methods {
		c.methods[id] = m
	}
	for id, r := range st.refunds {
		c.refunds[id] = r
	}
	for id, entry := range st.waitlist {
		c.waitlist[id] = entry
	}
	for code, promo := range st.promos {
		c.promos[code] = promo
	}
	for key, records := range st.audit {
		c.audit[key] = append([]domain.AuditRecord(nil), records...)
	}
	for id, rec := range st.outbox {
		copied := *rec
		c.outbox[id] = &copied
	}
	return c
}

// cloneCampaign копирует кампанию вместе с картой типов билетов,
// чтобы мутации снаружи не протекали в хранилище мимо Save.
func cloneCampaign(c domain.Campaign) domain.Campaign {
	types := make(map[string]domain.TicketType, len(c.TicketTypes))
	for name, tt := range c.TicketTypes {
		types[name] = tt
	}
	c.TicketTypes = types
	return c
}

// Store — in-memory реализация domain.Store для разработки и тестов.
// WithinTx атомарен: при ошибке fn состояние откатывается к снимку.
type Store struct {
	mu sync.Mutex
	st *state
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{st: newState()}
}

// WithinTx выполняет fn под мьютексом хранилища. Один мьютекс даёт
// ту же семантику, что BEGIN..COMMIT: либо все записи, либо откат.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&storeTx{st: s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// Outbox даёт воркеру публикации доступ вне транзакций.
func (s *Store) Outbox() domain.OutboxRepository {
	return &outboxView{store: s}
}

// SeedBalance выставляет баланс продавца напрямую (для тестов и локальной
// разработки: settlement, пополняющий available, вне границ ядра).
func (s *Store) SeedBalance(balance domain.SellerBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.balances[balance.SellerID] = balance
}

// storeTx связывает репозитории с открытым состоянием транзакции.
type storeTx struct {
	st *state
}

func (t *storeTx) Campaigns() domain.CampaignRepository     { return &campaignRepository{st: t.st} }
func (t *storeTx) Bookings() domain.BookingRepository       { return &bookingRepository{st: t.st} }
func (t *storeTx) Tickets() domain.TicketRepository         { return &ticketRepository{st: t.st} }
func (t *storeTx) Ledger() domain.LedgerRepository          { return &ledgerRepository{st: t.st} }
func (t *storeTx) Withdrawals() domain.WithdrawalRepository { return &withdrawalRepository{st: t.st} }
func (t *storeTx) Refunds() domain.RefundRepository         { return &refundRepository{st: t.st} }
func (t *storeTx) Waitlist() domain.WaitlistRepository      { return &waitlistRepository{st: t.st} }
func (t *storeTx) Promos() domain.PromoRepository           { return &promoRepository{st: t.st} }
func (t *storeTx) Audit() domain.AuditRepository            { return &auditRepository{st: t.st} }
func (t *storeTx) Outbox() domain.OutboxRepository          { return &outboxRepository{st: t.st} }

var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = (*storeTx)(nil)
)
