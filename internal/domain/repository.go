package domain

import "time"

// CampaignRepository описывает требования к хранилищу кампаний.
type CampaignRepository interface {
	// Create сохраняет новую кампанию; ErrAlreadyExists при занятом ID.
	Create(campaign Campaign) error
	// Get возвращает кампанию или ErrCampaignNotFound.
	Get(id string) (Campaign, error)
	// Save перезаписывает кампанию с учётом optimistic locking по Version.
	Save(campaign Campaign) error
}

// BookingRepository описывает требования к хранилищу бронирований.
type BookingRepository interface {
	Create(booking Booking) error
	Get(id string) (Booking, error)
	// Save применяет обновление с проверкой Version.
	Save(booking Booking) error
	// QuantityForCustomer суммирует количество в бронированиях покупателя
	// по кампании в перечисленных статусах.
	QuantityForCustomer(campaignID, customerID string, statuses []BookingStatus) (int, error)
	// CountPromoUse считает применённые покупателем использования кода
	// (pending и confirmed бронирования).
	CountPromoUse(customerID, code string) (int, error)
	// ListExpiredPending возвращает PENDING-бронирования с истёкшим дедлайном.
	ListExpiredPending(before time.Time, limit int) ([]Booking, error)
}

// TicketRepository описывает требования к хранилищу билетов.
type TicketRepository interface {
	Create(ticket Ticket) error
	ListByBooking(bookingID string) ([]Ticket, error)
}

// LedgerRepository управляет балансами продавцов и журналом мутаций.
// Все условные операции атомарны на уровне хранилища: проверка и запись
// выполняются одним действием, read-then-check здесь запрещён.
type LedgerRepository interface {
	// GetBalance возвращает баланс продавца или ErrSellerNotFound.
	GetBalance(sellerID string) (SellerBalance, error)
	// CreditPending зачисляет выручку: pending и totalEarnings растут.
	// Создаёт запись баланса при первом зачислении.
	CreditPending(sellerID string, amountMinor int64) (SellerBalance, error)
	// HoldForWithdrawal переносит amount из available в pending одним
	// условным обновлением "WHERE available >= amount"; при нехватке —
	// InsufficientBalanceError, баланс не меняется.
	HoldForWithdrawal(sellerID string, amountMinor int64) (SellerBalance, error)
	// DebitAvailable условно списывает amount из available (возвраты).
	DebitAvailable(sellerID string, amountMinor int64) (SellerBalance, error)
	// AppendEntry добавляет неизменяемую запись журнала.
	AppendEntry(entry LedgerEntry) error
	// ListEntries возвращает записи журнала продавца, новые первыми.
	ListEntries(sellerID string, limit int) ([]LedgerEntry, error)
}

// WithdrawalRepository описывает требования к хранилищу выводов средств.
type WithdrawalRepository interface {
	Create(withdrawal Withdrawal) error
	Get(id string) (Withdrawal, error)
	// GetMethod возвращает метод выплаты или ErrPayoutMethodNotFound.
	GetMethod(id string) (PayoutMethod, error)
	SaveMethod(method PayoutMethod) error
}

// RefundRepository описывает требования к хранилищу заявок на возврат.
type RefundRepository interface {
	Create(request RefundRequest) error
	Get(id string) (RefundRequest, error)
	// GetByBooking возвращает последнюю заявку по бронированию.
	GetByBooking(bookingID string) (RefundRequest, error)
	Save(request RefundRequest) error
}

// WaitlistRepository описывает требования к хранилищу листа ожидания.
type WaitlistRepository interface {
	Add(entry WaitlistEntry) error
	Get(id string) (WaitlistEntry, error)
	// ListActive возвращает ACTIVE-записи среза инвентаря в порядке
	// priority desc, created asc.
	ListActive(campaignID, ticketType string) ([]WaitlistEntry, error)
	// ListNotifiedExpired возвращает NOTIFIED-записи с истёкшим окном.
	ListNotifiedExpired(before time.Time, limit int) ([]WaitlistEntry, error)
	Save(entry WaitlistEntry) error
}

// PromoRepository описывает требования к хранилищу промокодов.
type PromoRepository interface {
	// Get возвращает код или ErrPromoNotFound.
	Get(code string) (PromoCode, error)
	Save(promo PromoCode) error
}

// AuditRepository хранит структурированные записи аудита.
type AuditRepository interface {
	Append(record AuditRecord) error
	List(entity, entityID string) ([]AuditRecord, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}
