package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибки валидации запроса (вина вызывающего, повтор не поможет).
	ErrQuantityOutOfRange     = errors.New("quantity must be between 1 and 20")
	ErrQuantityOverOrderCap   = errors.New("quantity exceeds per-order limit for ticket type")
	ErrIssuanceTypeInvalid    = errors.New("unknown issuance type")
	ErrCustomerRequired       = errors.New("customer_id is required")
	ErrSellerRequired         = errors.New("seller_id is required")
	ErrTicketTypesRequired    = errors.New("campaign must define at least one ticket type")
	ErrTicketPriceInvalid     = errors.New("ticket price must be non-negative")
	ErrWithdrawalBelowMinimum = errors.New("withdrawal amount is below the minimum")
	ErrRefundNotEligible      = errors.New("booking is not eligible for refund")

	// Ошибки состояния кампании.
	ErrCampaignNotActive    = errors.New("campaign is not active")
	ErrBookingWindowClosed  = errors.New("campaign booking window is closed")
	ErrEventInPast          = errors.New("campaign event is in the past")
	ErrTicketTypeUnknown    = errors.New("unknown ticket type")
	ErrMaxPerCustomer       = errors.New("customer booking limit for campaign exceeded")
	ErrInventoryUnderflow   = errors.New("inventory adjustment below zero")
	ErrInventoryOutOfBounds = errors.New("sold count out of bounds")
	ErrSoldQuantityMismatch = errors.New("sold quantity does not match per-type sum")

	// Ошибки промокодов.
	ErrPromoNotFound      = errors.New("promo code not found")
	ErrPromoInactive      = errors.New("promo code is inactive")
	ErrPromoExpired       = errors.New("promo code is expired")
	ErrPromoWrongCampaign = errors.New("promo code is not valid for this campaign")
	ErrPromoUsageExceeded = errors.New("promo code usage limit reached")

	// Конфликты переходов состояний.
	ErrBookingNotCancellable = errors.New("booking cannot be cancelled in its current state")
	ErrBookingAlreadyPaid    = errors.New("paid booking requires a refund request")
	ErrBookingNotPayable     = errors.New("booking is not awaiting payment")
	ErrRefundAlreadyDecided  = errors.New("refund request already decided")
	ErrVersionConflict       = errors.New("version conflict")
	ErrAlreadyExists         = errors.New("record already exists")

	// Ошибки авторизации.
	ErrNotOwner = errors.New("actor does not own this record")

	// Ошибки отсутствия данных.
	ErrCampaignNotFound      = errors.New("campaign not found")
	ErrBookingNotFound       = errors.New("booking not found")
	ErrRefundNotFound        = errors.New("refund request not found")
	ErrSellerNotFound        = errors.New("seller balance not found")
	ErrPayoutMethodNotFound  = errors.New("payout method not found")
	ErrWithdrawalNotFound    = errors.New("withdrawal not found")
	ErrWaitlistEntryNotFound = errors.New("waitlist entry not found")

	// ErrPayoutMethodUnverified — метод выплаты не прошёл проверку.
	ErrPayoutMethodUnverified = errors.New("payout method is not verified")

	// ErrLockBusy — ресурс занят другим писателем; вызывающий может
	// немедленно повторить запрос. Это не ошибка системы.
	ErrLockBusy = errors.New("resource is busy, retry")

	// ErrOutboxPublish — ошибка публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки дедупликации событий.
	ErrIdempotencyKeyRequired      = errors.New("idempotency key is required")
	ErrIdempotencyKeyNotFound      = errors.New("idempotency key not found")
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
)

// InventoryError сообщает о нехватке инвентаря. Отличается от обычной
// валидации, чтобы клиент мог предложить лист ожидания.
type InventoryError struct {
	TicketType string
	Available  int
}

func (e *InventoryError) Error() string {
	return fmt.Sprintf("Only %d tickets available for %s", e.Available, e.TicketType)
}

// InsufficientBalanceError сообщает об отказе в выводе средств
// с указанием фактического доступного баланса.
type InsufficientBalanceError struct {
	SellerID       string
	AvailableMinor int64
	RequestedMinor int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d", e.AvailableMinor, e.RequestedMinor)
}

// IsInventoryError проверяет, является ли ошибка нехваткой инвентаря.
func IsInventoryError(err error) bool {
	var ie *InventoryError
	return errors.As(err, &ie)
}

// IsInsufficientBalance проверяет, является ли ошибка отказом по балансу.
func IsInsufficientBalance(err error) bool {
	var be *InsufficientBalanceError
	return errors.As(err, &be)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// Kind — класс ошибки для маппинга на статус внешней границей.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindInventory     Kind = "inventory"
	KindConflict      Kind = "conflict"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	// KindBusy — транзиентный отказ захвата lock; немедленный повтор допустим.
	KindBusy     Kind = "busy"
	KindInternal Kind = "internal"
)

// Classify относит ошибку к классу таксономии. Ошибки доходят до границы
// без изменений; классификация нужна только для выбора статуса ответа.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case IsInventoryError(err):
		return KindInventory
	case IsInsufficientBalance(err):
		return KindConflict
	case errors.Is(err, ErrLockBusy):
		return KindBusy
	case errors.Is(err, ErrNotOwner):
		return KindAuthorization
	case errors.Is(err, ErrCampaignNotFound),
		errors.Is(err, ErrBookingNotFound),
		errors.Is(err, ErrRefundNotFound),
		errors.Is(err, ErrSellerNotFound),
		errors.Is(err, ErrPayoutMethodNotFound),
		errors.Is(err, ErrWithdrawalNotFound),
		errors.Is(err, ErrWaitlistEntryNotFound),
		errors.Is(err, ErrPromoNotFound):
		return KindNotFound
	case errors.Is(err, ErrBookingNotCancellable),
		errors.Is(err, ErrBookingAlreadyPaid),
		errors.Is(err, ErrBookingNotPayable),
		errors.Is(err, ErrRefundAlreadyDecided),
		errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrAlreadyExists):
		return KindConflict
	case errors.Is(err, ErrQuantityOutOfRange),
		errors.Is(err, ErrQuantityOverOrderCap),
		errors.Is(err, ErrIssuanceTypeInvalid),
		errors.Is(err, ErrCustomerRequired),
		errors.Is(err, ErrCampaignNotActive),
		errors.Is(err, ErrBookingWindowClosed),
		errors.Is(err, ErrEventInPast),
		errors.Is(err, ErrTicketTypeUnknown),
		errors.Is(err, ErrMaxPerCustomer),
		errors.Is(err, ErrPromoInactive),
		errors.Is(err, ErrPromoExpired),
		errors.Is(err, ErrPromoWrongCampaign),
		errors.Is(err, ErrPromoUsageExceeded),
		errors.Is(err, ErrWithdrawalBelowMinimum),
		errors.Is(err, ErrPayoutMethodUnverified),
		errors.Is(err, ErrRefundNotEligible):
		return KindValidation
	default:
		return KindInternal
	}
}
