package domain

import "time"

// BookingStatus описывает жизненный цикл бронирования.
type BookingStatus string

const (
	// BookingStatusPending — бронирование создано, оплата ещё не подтверждена.
	BookingStatusPending BookingStatus = "pending"
	// BookingStatusConfirmed — оплата подтверждена, билеты выпущены.
	BookingStatusConfirmed BookingStatus = "confirmed"
	// BookingStatusCancelled — бронирование отменено, инвентарь возвращён.
	BookingStatusCancelled BookingStatus = "cancelled"
	// BookingStatusExpired — дедлайн оплаты прошёл, инвентарь возвращён.
	BookingStatusExpired BookingStatus = "expired"
)

// IssuanceType определяет, как бронирование на несколько мест превращается в билеты.
type IssuanceType string

const (
	// IssuanceSingle — один сводный билет на всё количество.
	IssuanceSingle IssuanceType = "single"
	// IssuanceSeparate — отдельный билет на каждую единицу.
	IssuanceSeparate IssuanceType = "separate"
)

// Valid проверяет, что тип выпуска относится к поддерживаемым значениям.
func (t IssuanceType) Valid() bool {
	switch t {
	case IssuanceSingle, IssuanceSeparate:
		return true
	default:
		return false
	}
}

// BookingMetadata хранит денормализованные поля для отображения,
// чтобы чтение бронирования не требовало загрузки кампании.
type BookingMetadata struct {
	CampaignTitle string
	EventDate     time.Time
	Venue         string
}

// Booking — одно резервирование: один тип билета, один покупатель.
// Ссылается на кампанию и покупателя только по идентификаторам,
// никогда не встраивает их мутабельное состояние.
type Booking struct {
	ID              string
	BookingRef      string
	CampaignID      string
	CustomerID      string
	SellerID        string
	TicketType      string
	Quantity        int
	UnitPriceMinor  int64
	DiscountMinor   int64
	TotalMinor      int64
	IssuanceType    IssuanceType
	Status          BookingStatus
	PromoCode       string
	PaymentID       string
	PaymentDeadline time.Time
	Metadata        BookingMetadata
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const (
	// MinBookingQuantity и MaxBookingQuantity ограничивают размер одного бронирования.
	MinBookingQuantity = 1
	MaxBookingQuantity = 20

	// PaymentDeadlineWindow — срок оплаты PENDING-бронирования.
	PaymentDeadlineWindow = 30 * time.Minute
)

// Paid сообщает, прошло ли бронирование подтверждение оплаты.
func (b *Booking) Paid() bool {
	return b.Status == BookingStatusConfirmed && b.PaymentID != ""
}

// ExpiredAt проверяет, истёк ли дедлайн оплаты PENDING-бронирования.
func (b *Booking) ExpiredAt(now time.Time) bool {
	return b.Status == BookingStatusPending && !b.PaymentDeadline.IsZero() && now.After(b.PaymentDeadline)
}

// RefundPercent возвращает долю возврата по политике, привязанной к часам
// до события: >=168h — 100%, >=72h — 75%, >=24h — 50%, иначе 0%.
func RefundPercent(eventDate, now time.Time) int {
	hours := eventDate.Sub(now).Hours()
	switch {
	case hours >= 168:
		return 100
	case hours >= 72:
		return 75
	case hours >= 24:
		return 50
	default:
		return 0
	}
}

// RefundStatus описывает жизненный цикл запроса на возврат.
type RefundStatus string

const (
	RefundStatusPending  RefundStatus = "pending"
	RefundStatusApproved RefundStatus = "approved"
	RefundStatusRejected RefundStatus = "rejected"
)

// RefundRequest — заявка на возврат средств по оплаченному бронированию.
// Одобрение идемпотентно: ledger продавца дебетуется ровно один раз.
type RefundRequest struct {
	ID          string
	BookingID   string
	CustomerID  string
	SellerID    string
	AmountMinor int64
	Percent     int
	Status      RefundStatus
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
