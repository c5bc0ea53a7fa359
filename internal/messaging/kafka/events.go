package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// EventType определяет тип события
type EventType string

const (
	// Booking события
	EventTypeBookingCreated   EventType = "booking.created"
	EventTypeBookingConfirmed EventType = "booking.confirmed"
	EventTypeBookingCancelled EventType = "booking.cancelled"
	EventTypeBookingExpired   EventType = "booking.expired"

	// Payment события
	EventTypePaymentRequested EventType = "payment.requested"
	EventTypePaymentSucceeded EventType = "payment.succeeded"
	EventTypePaymentFailed    EventType = "payment.failed"

	// Delivery события
	EventTypeTicketPDFRequested EventType = "delivery.ticket_pdf_requested"
	EventTypeEmailSendRequested EventType = "delivery.email_requested"

	// Waitlist события
	EventTypeWaitlistNotify EventType = "waitlist.notify"

	// Payout события
	EventTypeWithdrawalRequested EventType = "payout.withdrawal_requested"
	EventTypeRefundIssued        EventType = "payout.refund_issued"
)

// Topics для Kafka
const (
	TopicPayments        = "tms.payments"
	TopicBookings        = "tms.bookings"
	TopicDelivery        = "tms.delivery"
	TopicWaitlist        = "tms.waitlist"
	TopicPayouts         = "tms.payouts"
	TopicDeadLetterQueue = "tms.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// TopicFor возвращает topic для типа события.
func TopicFor(eventType EventType) string {
	switch eventType {
	case EventTypePaymentRequested, EventTypePaymentSucceeded, EventTypePaymentFailed:
		return TopicPayments
	case EventTypeBookingCreated, EventTypeBookingConfirmed, EventTypeBookingCancelled, EventTypeBookingExpired:
		return TopicBookings
	case EventTypeTicketPDFRequested, EventTypeEmailSendRequested:
		return TopicDelivery
	case EventTypeWaitlistNotify:
		return TopicWaitlist
	case EventTypeWithdrawalRequested, EventTypeRefundIssued:
		return TopicPayouts
	default:
		return TopicBookings
	}
}

// Envelope — общая обёртка любого события на проводе.
type Envelope struct {
	ID            string          `json:"id"`
	EventType     EventType       `json:"event_type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope создает обёртку с сериализованным payload.
func NewEnvelope(eventType EventType, correlationID string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return &Envelope{
		ID:            uuid.NewString(),
		EventType:     eventType,
		CorrelationID: correlationID,
		OccurredAt:    time.Now().UTC(),
		Payload:       data,
	}, nil
}

// BookingEvent — payload событий жизненного цикла бронирования.
type BookingEvent struct {
	BookingID  string    `json:"booking_id"`
	CampaignID string    `json:"campaign_id"`
	CustomerID string    `json:"customer_id"`
	TicketType string    `json:"ticket_type"`
	Quantity   int       `json:"quantity"`
	TotalMinor int64     `json:"total_minor"`
	Status     string    `json:"status"`
	Deadline   time.Time `json:"payment_deadline,omitempty"`
}

// PaymentResultEvent — payload результата оплаты от платёжного провайдера.
type PaymentResultEvent struct {
	BookingID string `json:"booking_id"`
	PaymentID string `json:"payment_id"`
	Succeeded bool   `json:"succeeded"`
	Reason    string `json:"reason,omitempty"`
}

// WaitlistNotifyEvent — payload уведомления записи листа ожидания.
type WaitlistNotifyEvent struct {
	EntryID    string    `json:"entry_id"`
	CampaignID string    `json:"campaign_id"`
	TicketType string    `json:"ticket_type"`
	CustomerID string    `json:"customer_id"`
	Quantity   int       `json:"quantity"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// PayoutEvent — payload событий вывода средств и возвратов.
type PayoutEvent struct {
	SellerID    string `json:"seller_id"`
	Reference   string `json:"reference"`
	AmountMinor int64  `json:"amount_minor"`
	Kind        string `json:"kind"`
}

// ParseEnvelope парсит Envelope из сообщения
func ParseEnvelope(message *sarama.ConsumerMessage) (*Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}
	return &envelope, nil
}

// DecodePaymentResult парсит PaymentResultEvent из payload обёртки
func DecodePaymentResult(envelope *Envelope) (*PaymentResultEvent, error) {
	var event PaymentResultEvent
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment result: %w", err)
	}
	return &event, nil
}

// DecodeBookingEvent парсит BookingEvent из payload обёртки
func DecodeBookingEvent(envelope *Envelope) (*BookingEvent, error) {
	var event BookingEvent
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal booking event: %w", err)
	}
	return &event, nil
}

// DecodeWaitlistNotify парсит WaitlistNotifyEvent из payload обёртки
func DecodeWaitlistNotify(envelope *Envelope) (*WaitlistNotifyEvent, error) {
	var event WaitlistNotifyEvent
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal waitlist notify: %w", err)
	}
	return &event, nil
}
