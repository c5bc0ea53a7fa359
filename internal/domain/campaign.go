package domain

import "time"

// CampaignStatus описывает жизненный цикл кампании продаж.
type CampaignStatus string

const (
	// CampaignStatusDraft — кампания создана, но продажи ещё не открыты.
	CampaignStatusDraft CampaignStatus = "draft"
	// CampaignStatusActive — продажи открыты, бронирования разрешены.
	CampaignStatusActive CampaignStatus = "active"
	// CampaignStatusPaused — продажи временно приостановлены продавцом.
	CampaignStatusPaused CampaignStatus = "paused"
	// CampaignStatusEnded — кампания завершена, новые бронирования запрещены.
	CampaignStatusEnded CampaignStatus = "ended"
)

// TicketType описывает один срез инвентаря кампании: цену, квоту и продажи.
type TicketType struct {
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	// Quantity — общая квота билетов этого типа.
	Quantity int
	// Sold — сколько единиц уже занято бронированиями.
	Sold int
	// Description — отображаемое описание типа.
	Description string
	// MaxPerOrder ограничивает количество в одном бронировании (0 — без лимита).
	MaxPerOrder int
}

// Available возвращает свободный остаток по типу.
func (t TicketType) Available() int {
	return t.Quantity - t.Sold
}

// CampaignAnalytics агрегирует счётчики продаж кампании.
// Мутируется только внутри lock-защищённой транзакции вместе с инвентарём.
type CampaignAnalytics struct {
	TotalBookings     int
	PendingBookings   int
	CompletedBookings int
	CancelledBookings int
	ExpiredBookings   int
	SoldQuantity      int
	TotalRevenueMinor int64
}

// Campaign — продаваемая единица с инвентарём.
// Кампания монопольно владеет картой типов билетов: никакой другой агрегат
// не мутирует Sold напрямую, все изменения идут через AdjustInventory.
type Campaign struct {
	ID              string
	SellerID        string
	Title           string
	Venue           string
	Status          CampaignStatus
	EventDate       time.Time
	BookingOpensAt  time.Time
	BookingClosesAt time.Time
	// MaxPerCustomer ограничивает суммарное pending+confirmed количество
	// на одного покупателя (0 — без лимита).
	MaxPerCustomer int
	// MultiScan разрешает многократное сканирование билета.
	MultiScan bool
	// MaxScans — лимит сканирований для билетов при MultiScan.
	MaxScans    int
	TicketTypes map[string]TicketType
	Analytics   CampaignAnalytics
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TicketMaxScans возвращает лимит сканирований для выпускаемых билетов.
func (c *Campaign) TicketMaxScans() int {
	if !c.MultiScan || c.MaxScans <= 0 {
		return 1
	}
	return c.MaxScans
}

// BookableAt проверяет, открыто ли окно бронирования в момент now.
func (c *Campaign) BookableAt(now time.Time) error {
	if c.Status != CampaignStatusActive {
		return ErrCampaignNotActive
	}
	if !c.BookingOpensAt.IsZero() && now.Before(c.BookingOpensAt) {
		return ErrBookingWindowClosed
	}
	if !c.BookingClosesAt.IsZero() && now.After(c.BookingClosesAt) {
		return ErrBookingWindowClosed
	}
	if !c.EventDate.After(now) {
		return ErrEventInPast
	}
	return nil
}

// AdjustInventory — единственный примитив мутации инвентаря. Используется
// одинаково путями бронирования, отмены, истечения и waitlist-переброски.
// Вызывающий обязан держать внешний lock на (campaignID, ticketType):
// примитив лишь проверяет границы и делает запись атомарной.
func (c *Campaign) AdjustInventory(ticketType string, delta int) error {
	tt, ok := c.TicketTypes[ticketType]
	if !ok {
		return ErrTicketTypeUnknown
	}

	sold := tt.Sold + delta
	if sold < 0 {
		return ErrInventoryUnderflow
	}
	if sold > tt.Quantity {
		return &InventoryError{TicketType: ticketType, Available: tt.Available()}
	}

	tt.Sold = sold
	c.TicketTypes[ticketType] = tt
	c.Analytics.SoldQuantity += delta
	return nil
}

// ValidateInvariants проверяет инварианты инвентаря и возвращает список замечаний.
func (c *Campaign) ValidateInvariants() []error {
	var errs []error

	if c.SellerID == "" {
		errs = append(errs, ErrSellerRequired)
	}
	if len(c.TicketTypes) == 0 {
		errs = append(errs, ErrTicketTypesRequired)
	}

	// Сверяем сумму продаж по типам со сводным счётчиком.
	var sum int
	for _, tt := range c.TicketTypes {
		if tt.Sold < 0 || tt.Sold > tt.Quantity {
			errs = append(errs, ErrInventoryOutOfBounds)
		}
		if tt.PriceMinor < 0 {
			errs = append(errs, ErrTicketPriceInvalid)
		}
		sum += tt.Sold
	}
	if sum != c.Analytics.SoldQuantity {
		errs = append(errs, ErrSoldQuantityMismatch)
	}

	return errs
}
