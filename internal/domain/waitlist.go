package domain

import "time"

// WaitlistStatus описывает жизненный цикл записи листа ожидания.
type WaitlistStatus string

const (
	// WaitlistStatusActive — запись ждёт освобождения инвентаря.
	WaitlistStatusActive WaitlistStatus = "active"
	// WaitlistStatusNotified — покупатель уведомлён, открыто 30-минутное окно брони.
	WaitlistStatusNotified WaitlistStatus = "notified"
	// WaitlistStatusExpired — окно уведомления истекло без бронирования.
	WaitlistStatusExpired WaitlistStatus = "expired"
	// WaitlistStatusFulfilled — покупатель успел забронировать.
	WaitlistStatusFulfilled WaitlistStatus = "fulfilled"
)

// WaitlistEntry — спрос на недоступный инвентарь.
// Переброска обслуживает записи в порядке priority desc, created asc.
type WaitlistEntry struct {
	ID         string
	CampaignID string
	TicketType string
	CustomerID string
	Quantity   int
	Priority   int
	Status     WaitlistStatus
	// NotifyExpiresAt — конец окна бронирования после уведомления.
	NotifyExpiresAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NotifyWindow — срок, в течение которого уведомлённая запись может забронировать.
const NotifyWindow = 30 * time.Minute
