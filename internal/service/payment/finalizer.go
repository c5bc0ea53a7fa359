package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/tickethub/tms/internal/domain"
	"github.com/tickethub/tms/internal/messaging/kafka"
	"github.com/tickethub/tms/internal/metrics"
)

// Canceller отменяет бронирование после неуспешной оплаты.
// Реализуется ядром бронирования.
type Canceller interface {
	Cancel(ctx context.Context, bookingID, customerID, reason string) (domain.Booking, error)
}

// Finalizer завершает оплаченные бронирования: подтверждает бронь,
// выпускает билеты и зачисляет выручку продавцу в pending.
type Finalizer struct {
	store   domain.Store
	logger  *log.Entry
	metrics *metrics.BookingMetrics
	now     func() time.Time
}

// NewFinalizer создаёт воркер финализации оплаты.
func NewFinalizer(store domain.Store, logger *log.Entry, m *metrics.BookingMetrics) *Finalizer {
	if logger == nil {
		logger = log.New().WithField("component", "payment-finalizer")
	}
	return &Finalizer{
		store:   store,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Finalize подтверждает оплату бронирования. Идемпотентен: уже подтверждённое
// бронирование — это no-op, отменённое или истёкшее — ErrBookingNotPayable,
// повтор которого бессмыслен.
//
// Инвентарь не трогается: бронирование уже держит свои места с момента
// создания. Выручка идёт в PendingMinor; AvailableMinor пополняет только
// settlement, который вне этой подсистемы.
func (f *Finalizer) Finalize(ctx context.Context, bookingID, paymentID string) error {
	var confirmed bool
	err := f.store.WithinTx(ctx, func(tx domain.Tx) error {
		now := f.now()
		confirmed = false

		booking, err := tx.Bookings().Get(bookingID)
		if err != nil {
			return err
		}

		switch booking.Status {
		case domain.BookingStatusConfirmed:
			return nil
		case domain.BookingStatusCancelled, domain.BookingStatusExpired:
			return domain.ErrBookingNotPayable
		}

		campaign, err := tx.Campaigns().Get(booking.CampaignID)
		if err != nil {
			return err
		}

		booking.Status = domain.BookingStatusConfirmed
		booking.PaymentID = paymentID
		booking.UpdatedAt = now
		if err := tx.Bookings().Save(booking); err != nil {
			return err
		}

		tickets, err := f.mintTickets(tx, booking, &campaign, now)
		if err != nil {
			return err
		}

		campaign.Analytics.PendingBookings--
		campaign.Analytics.CompletedBookings++
		campaign.Analytics.TotalRevenueMinor += booking.TotalMinor
		campaign.UpdatedAt = now
		if err := tx.Campaigns().Save(campaign); err != nil {
			return err
		}

		balance, err := tx.Ledger().CreditPending(booking.SellerID, booking.TotalMinor)
		if err != nil {
			return err
		}
		if err := tx.Ledger().AppendEntry(domain.LedgerEntry{
			ID:                 uuid.NewString(),
			SellerID:           booking.SellerID,
			Kind:               domain.LedgerEntrySaleCredit,
			AmountMinor:        booking.TotalMinor,
			BalanceBeforeMinor: balance.PendingMinor - booking.TotalMinor,
			BalanceAfterMinor:  balance.PendingMinor,
			Reference:          booking.ID,
			Occurred:           now,
		}); err != nil {
			return err
		}

		if err := tx.Audit().Append(domain.AuditRecord{
			ActorID:  "system",
			Action:   "booking.finalize",
			Entity:   "booking",
			EntityID: booking.ID,
			Metadata: map[string]any{
				"payment_id":   paymentID,
				"tickets":      len(tickets),
				"amount_minor": booking.TotalMinor,
			},
			Occurred: now,
		}); err != nil {
			return err
		}

		for _, ticket := range tickets {
			payload, err := json.Marshal(map[string]any{
				"ticket_id":  ticket.ID,
				"booking_id": booking.ID,
				"scan_key":   ticket.ScanKey,
				"quantity":   ticket.Quantity,
			})
			if err != nil {
				return err
			}
			if _, err := tx.Outbox().Enqueue(domain.OutboxMessage{
				AggregateType: "ticket",
				AggregateID:   ticket.ID,
				EventType:     string(kafka.EventTypeTicketPDFRequested),
				Payload:       payload,
			}); err != nil {
				return err
			}
		}

		emailPayload, err := json.Marshal(map[string]any{
			"booking_id":  booking.ID,
			"customer_id": booking.CustomerID,
			"template":    "booking_confirmed",
		})
		if err != nil {
			return err
		}
		if _, err := tx.Outbox().Enqueue(domain.OutboxMessage{
			AggregateType: "booking",
			AggregateID:   booking.ID,
			EventType:     string(kafka.EventTypeEmailSendRequested),
			Payload:       emailPayload,
		}); err != nil {
			return err
		}

		bookingPayload, err := json.Marshal(kafka.BookingEvent{
			BookingID:  booking.ID,
			CampaignID: booking.CampaignID,
			CustomerID: booking.CustomerID,
			TicketType: booking.TicketType,
			Quantity:   booking.Quantity,
			TotalMinor: booking.TotalMinor,
			Status:     string(booking.Status),
		})
		if err != nil {
			return err
		}
		if _, err := tx.Outbox().Enqueue(domain.OutboxMessage{
			AggregateType: "booking",
			AggregateID:   booking.ID,
			EventType:     string(kafka.EventTypeBookingConfirmed),
			Payload:       bookingPayload,
		}); err != nil {
			return err
		}

		confirmed = true
		return nil
	})
	if err != nil {
		return err
	}

	if confirmed {
		if f.metrics != nil {
			f.metrics.RecordBookingConfirmed()
		}
		f.logger.WithFields(log.Fields{
			"booking_id": bookingID,
			"payment_id": paymentID,
		}).Info("booking finalized")
	}
	return nil
}

// mintTickets выпускает билеты по типу выпуска бронирования: один сводный
// либо отдельный на каждую единицу.
func (f *Finalizer) mintTickets(tx domain.Tx, booking domain.Booking, campaign *domain.Campaign, now time.Time) ([]domain.Ticket, error) {
	count := 1
	perTicket := booking.Quantity
	if booking.IssuanceType == domain.IssuanceSeparate {
		count = booking.Quantity
		perTicket = 1
	}

	tickets := make([]domain.Ticket, 0, count)
	for i := 0; i < count; i++ {
		ticket := domain.Ticket{
			ID:         uuid.NewString(),
			BookingID:  booking.ID,
			CampaignID: booking.CampaignID,
			CustomerID: booking.CustomerID,
			TicketType: booking.TicketType,
			Quantity:   perTicket,
			ScanKey:    uuid.NewString(),
			MaxScans:   campaign.TicketMaxScans(),
			IssuedAt:   now,
		}
		if err := tx.Tickets().Create(ticket); err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, nil
}

// Handler — обработчик сообщений topic оплат для Kafka consumer.
// Успешная оплата финализирует бронирование, неуспешная отменяет его
// и возвращает инвентарь.
type Handler struct {
	finalizer *Finalizer
	canceller Canceller
	logger    *log.Entry
	dedup     domain.IdempotencyRepository
	dedupTTL  time.Duration
}

// HandlerOption настраивает обработчик платёжных событий.
type HandlerOption func(*Handler)

// WithDedup включает дедупликацию по идентификатору события. Повтор уже
// обработанного события пропускается без обращения к хранилищу бронирований.
func WithDedup(repo domain.IdempotencyRepository, ttl time.Duration) HandlerOption {
	return func(h *Handler) {
		h.dedup = repo
		if ttl > 0 {
			h.dedupTTL = ttl
		}
	}
}

// NewHandler создаёт обработчик платёжных событий.
func NewHandler(finalizer *Finalizer, canceller Canceller, logger *log.Entry, options ...HandlerOption) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "payment-handler")
	}
	h := &Handler{
		finalizer: finalizer,
		canceller: canceller,
		logger:    logger,
		dedupTTL:  24 * time.Hour,
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// Handle разбирает обёртку события и выполняет соответствующий переход.
// Неизвестные типы событий пропускаются без ошибки, чтобы не зациклить retry.
func (h *Handler) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	envelope, err := kafka.ParseEnvelope(message)
	if err != nil {
		return err
	}

	if h.dedup != nil && envelope.ID != "" {
		record, err := h.dedup.Begin(envelope.ID, "payments", time.Now().UTC().Add(h.dedupTTL))
		if errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
			if record.Status == domain.IdempotencyStatusDone {
				h.logger.WithField("event_id", envelope.ID).Debug("duplicate event skipped")
				return nil
			}
			// processing или failed: переходы идемпотентны, повторяем.
		} else if err != nil {
			return err
		}

		handleErr := h.dispatch(ctx, envelope)
		if handleErr != nil {
			if markErr := h.dedup.MarkFailed(envelope.ID, handleErr.Error()); markErr != nil {
				h.logger.WithError(markErr).Warn("failed to mark event as failed")
			}
			return handleErr
		}
		if markErr := h.dedup.MarkDone(envelope.ID); markErr != nil {
			h.logger.WithError(markErr).Warn("failed to mark event as done")
		}
		return nil
	}

	return h.dispatch(ctx, envelope)
}

func (h *Handler) dispatch(ctx context.Context, envelope *kafka.Envelope) error {
	switch envelope.EventType {
	case kafka.EventTypePaymentSucceeded:
		result, err := kafka.DecodePaymentResult(envelope)
		if err != nil {
			return err
		}
		return h.finalizer.Finalize(ctx, result.BookingID, result.PaymentID)

	case kafka.EventTypePaymentFailed:
		result, err := kafka.DecodePaymentResult(envelope)
		if err != nil {
			return err
		}
		return h.cancelFailed(ctx, result)

	default:
		h.logger.WithField("event_type", envelope.EventType).Debug("ignoring event")
		return nil
	}
}

func (h *Handler) cancelFailed(ctx context.Context, result *kafka.PaymentResultEvent) error {
	if h.canceller == nil {
		return nil
	}

	var booking domain.Booking
	err := h.finalizer.store.WithinTx(ctx, func(tx domain.Tx) error {
		var err error
		booking, err = tx.Bookings().Get(result.BookingID)
		return err
	})
	if err != nil {
		return err
	}

	reason := result.Reason
	if reason == "" {
		reason = "payment failed"
	}
	if _, err := h.canceller.Cancel(ctx, booking.ID, booking.CustomerID, reason); err != nil {
		// Уже отменённое или истёкшее бронирование — не повод для retry.
		if domain.Classify(err) == domain.KindConflict {
			h.logger.WithField("booking_id", booking.ID).Debug("booking already released")
			return nil
		}
		return err
	}
	return nil
}
