package domain

import "time"

// Ticket выпускается из CONFIRMED-бронирования: один сводный (single)
// или по одному на единицу (separate). Неизменяем, кроме счётчика сканирований.
type Ticket struct {
	ID         string
	BookingID  string
	CampaignID string
	CustomerID string
	TicketType string
	// Quantity — сколько мест покрывает билет (у separate всегда 1).
	Quantity int
	// ScanKey — уникальный ключ защиты от подделки при сканировании.
	ScanKey string
	// MaxScans ограничивает счётчик сканирований.
	MaxScans  int
	ScanCount int
	IssuedAt  time.Time
}
