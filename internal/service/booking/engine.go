package booking

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/tickethub/tms/internal/domain"
	"github.com/tickethub/tms/internal/messaging/kafka"
	"github.com/tickethub/tms/internal/metrics"
)

// Reallocator раздаёт освободившийся инвентарь листу ожидания.
// Реализуется сервисом waitlist; интерфейс объявлен здесь, чтобы
// не завязывать ядро бронирования на его пакет.
type Reallocator interface {
	Reallocate(ctx context.Context, campaignID, ticketType string, freedQty int) (int, error)
}

// CreateRequest — запрос на создание бронирования.
type CreateRequest struct {
	CampaignID   string
	CustomerID   string
	TicketType   string
	Quantity     int
	IssuanceType domain.IssuanceType
	PromoCode    string
}

// Engine реализует жизненный цикл бронирования: создание, чтение с ленивым
// истечением, отмену и возвраты. Каждая мутация инвентаря идёт под внешним
// lock на срез (campaignID, ticketType) и внутри одной транзакции хранилища.
type Engine struct {
	store       domain.Store
	locker      domain.Locker
	reallocator Reallocator
	logger      *log.Entry
	metrics     *metrics.BookingMetrics
	lockTTL     time.Duration
	now         func() time.Time
}

// NewEngine создаёт рабочий экземпляр ядра бронирования.
func NewEngine(store domain.Store, locker domain.Locker, reallocator Reallocator, logger *log.Entry, m *metrics.BookingMetrics) *Engine {
	if logger == nil {
		logger = log.New().WithField("component", "booking-engine")
	}
	return &Engine{
		store:       store,
		locker:      locker,
		reallocator: reallocator,
		logger:      logger,
		metrics:     m,
		lockTTL:     5 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// newBookingRef генерирует человекочитаемый номер бронирования.
func newBookingRef() string {
	token := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "TMS-" + token[:8]
}

// Create создаёт PENDING-бронирование и резервирует инвентарь.
// Занятый lock возвращается как domain.ErrLockBusy без ожидания:
// немедленный повтор — решение вызывающего.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (domain.Booking, error) {
	started := e.now()
	defer func() {
		if e.metrics != nil {
			e.metrics.RecordCreateDuration(time.Since(started))
		}
	}()

	if req.CustomerID == "" {
		return domain.Booking{}, domain.ErrCustomerRequired
	}
	if req.Quantity < domain.MinBookingQuantity || req.Quantity > domain.MaxBookingQuantity {
		return domain.Booking{}, domain.ErrQuantityOutOfRange
	}
	if !req.IssuanceType.Valid() {
		return domain.Booking{}, domain.ErrIssuanceTypeInvalid
	}

	key := domain.InventoryKey(req.CampaignID, req.TicketType)
	token, err := e.locker.Acquire(ctx, key, e.lockTTL)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordLockBusy()
		}
		return domain.Booking{}, err
	}
	defer e.release(ctx, key, token)

	var booking domain.Booking
	err = e.store.WithinTx(ctx, func(tx domain.Tx) error {
		now := e.now()

		campaign, err := tx.Campaigns().Get(req.CampaignID)
		if err != nil {
			return err
		}
		if err := campaign.BookableAt(now); err != nil {
			return err
		}

		tt, ok := campaign.TicketTypes[req.TicketType]
		if !ok {
			return domain.ErrTicketTypeUnknown
		}
		if tt.MaxPerOrder > 0 && req.Quantity > tt.MaxPerOrder {
			return domain.ErrQuantityOverOrderCap
		}

		if campaign.MaxPerCustomer > 0 {
			held, err := tx.Bookings().QuantityForCustomer(req.CampaignID, req.CustomerID,
				[]domain.BookingStatus{domain.BookingStatusPending, domain.BookingStatusConfirmed})
			if err != nil {
				return err
			}
			if held+req.Quantity > campaign.MaxPerCustomer {
				return domain.ErrMaxPerCustomer
			}
		}

		subtotal := tt.PriceMinor * int64(req.Quantity)
		var discount int64
		if req.PromoCode != "" {
			promo, err := tx.Promos().Get(req.PromoCode)
			if err != nil {
				return err
			}
			if err := promo.ValidFor(req.CampaignID, now); err != nil {
				return err
			}
			if promo.PerUserLimit > 0 {
				used, err := tx.Bookings().CountPromoUse(req.CustomerID, req.PromoCode)
				if err != nil {
					return err
				}
				if used >= promo.PerUserLimit {
					return domain.ErrPromoUsageExceeded
				}
			}
			discount = promo.Discount(subtotal)
		}

		if err := campaign.AdjustInventory(req.TicketType, req.Quantity); err != nil {
			return err
		}
		campaign.Analytics.TotalBookings++
		campaign.Analytics.PendingBookings++
		campaign.UpdatedAt = now
		if err := tx.Campaigns().Save(campaign); err != nil {
			return err
		}

		booking = domain.Booking{
			ID:             uuid.NewString(),
			BookingRef:     newBookingRef(),
			CampaignID:     campaign.ID,
			CustomerID:     req.CustomerID,
			SellerID:       campaign.SellerID,
			TicketType:     req.TicketType,
			Quantity:       req.Quantity,
			UnitPriceMinor: tt.PriceMinor,
			DiscountMinor:  discount,
			TotalMinor:     subtotal - discount,
			IssuanceType:   req.IssuanceType,
			Status:         domain.BookingStatusPending,
			PromoCode:      req.PromoCode,
			PaymentDeadline: now.Add(domain.PaymentDeadlineWindow),
			Metadata: domain.BookingMetadata{
				CampaignTitle: campaign.Title,
				EventDate:     campaign.EventDate,
				Venue:         campaign.Venue,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Bookings().Create(booking); err != nil {
			return err
		}

		e.audit(tx, req.CustomerID, "booking.create", booking.ID, map[string]any{
			"campaign_id": campaign.ID,
			"ticket_type": req.TicketType,
			"quantity":    req.Quantity,
			"total_minor": booking.TotalMinor,
		}, now)

		e.emit(tx, kafka.EventTypePaymentRequested, booking, map[string]any{
			"booking_id":   booking.ID,
			"customer_id":  booking.CustomerID,
			"amount_minor": booking.TotalMinor,
			"deadline":     booking.PaymentDeadline.Format(time.RFC3339),
		})
		e.emit(tx, kafka.EventTypeBookingCreated, booking, nil)
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordBookingCreated()
	}
	e.logger.WithFields(log.Fields{
		"booking_id":  booking.ID,
		"booking_ref": booking.BookingRef,
		"campaign_id": booking.CampaignID,
		"quantity":    booking.Quantity,
	}).Info("booking created")
	return booking, nil
}

// Get возвращает бронирование, выполняя ленивый переход PENDING → EXPIRED,
// если дедлайн оплаты прошёл. Инвентарь возвращается под тем же lock,
// что и при отмене, поэтому читатель никогда не видит просроченный PENDING.
func (e *Engine) Get(ctx context.Context, bookingID string) (domain.Booking, error) {
	var booking domain.Booking
	err := e.store.WithinTx(ctx, func(tx domain.Tx) error {
		var err error
		booking, err = tx.Bookings().Get(bookingID)
		return err
	})
	if err != nil {
		return domain.Booking{}, err
	}

	if booking.ExpiredAt(e.now()) {
		return e.Expire(ctx, bookingID)
	}
	return booking, nil
}

// Cancel отменяет бронирование владельца и возвращает инвентарь.
// Оплаченное CONFIRMED-бронирование отменить нельзя: путь для него — возврат.
func (e *Engine) Cancel(ctx context.Context, bookingID, customerID, reason string) (domain.Booking, error) {
	booking, err := e.Get(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if booking.CustomerID != customerID {
		return domain.Booking{}, domain.ErrNotOwner
	}
	if booking.Paid() {
		return domain.Booking{}, domain.ErrBookingAlreadyPaid
	}
	if booking.Status != domain.BookingStatusPending && booking.Status != domain.BookingStatusConfirmed {
		return domain.Booking{}, domain.ErrBookingNotCancellable
	}

	updated, err := e.releaseBooking(ctx, bookingID, domain.BookingStatusCancelled, customerID, reason)
	if err != nil {
		return domain.Booking{}, err
	}
	if e.metrics != nil {
		e.metrics.RecordBookingCancelled()
	}
	return updated, nil
}

// Expire переводит просроченное PENDING-бронирование в EXPIRED.
// Идемпотентен: уже не-PENDING бронирование возвращается как есть.
func (e *Engine) Expire(ctx context.Context, bookingID string) (domain.Booking, error) {
	updated, err := e.releaseBooking(ctx, bookingID, domain.BookingStatusExpired, "system", "payment deadline passed")
	if err != nil {
		return domain.Booking{}, err
	}
	if updated.Status == domain.BookingStatusExpired && e.metrics != nil {
		e.metrics.RecordBookingExpired()
	}
	return updated, nil
}

// releaseBooking — общий путь отмены и истечения: под lock и в одной
// транзакции возвращает инвентарь, меняет статус и пишет события.
// После фиксации запускает переброску листа ожидания.
func (e *Engine) releaseBooking(ctx context.Context, bookingID string, target domain.BookingStatus, actorID, reason string) (domain.Booking, error) {
	var (
		booking  domain.Booking
		released bool
	)

	err := e.store.WithinTx(ctx, func(tx domain.Tx) error {
		var err error
		booking, err = tx.Bookings().Get(bookingID)
		return err
	})
	if err != nil {
		return domain.Booking{}, err
	}

	key := domain.InventoryKey(booking.CampaignID, booking.TicketType)
	token, err := e.locker.Acquire(ctx, key, e.lockTTL)
	if err != nil {
		return domain.Booking{}, err
	}
	defer e.release(ctx, key, token)

	err = e.store.WithinTx(ctx, func(tx domain.Tx) error {
		now := e.now()
		released = false

		booking, err = tx.Bookings().Get(bookingID)
		if err != nil {
			return err
		}

		// Перечитали под lock: переход мог уже состояться.
		switch target {
		case domain.BookingStatusExpired:
			if !booking.ExpiredAt(now) {
				return nil
			}
		case domain.BookingStatusCancelled:
			// Финализация не берёт inventory-lock и могла успеть между
			// первой проверкой Paid() в Cancel и этой транзакцией.
			if booking.Paid() {
				return domain.ErrBookingAlreadyPaid
			}
			if booking.Status != domain.BookingStatusPending && booking.Status != domain.BookingStatusConfirmed {
				return domain.ErrBookingNotCancellable
			}
		}

		campaign, err := tx.Campaigns().Get(booking.CampaignID)
		if err != nil {
			return err
		}
		if err := campaign.AdjustInventory(booking.TicketType, -booking.Quantity); err != nil {
			return err
		}
		// Счётчик pending уменьшает только уход из PENDING: подтверждённое
		// бронирование финализация уже вычла.
		if booking.Status == domain.BookingStatusPending {
			campaign.Analytics.PendingBookings--
		}
		if target == domain.BookingStatusExpired {
			campaign.Analytics.ExpiredBookings++
		} else {
			campaign.Analytics.CancelledBookings++
		}
		campaign.UpdatedAt = now
		if err := tx.Campaigns().Save(campaign); err != nil {
			return err
		}

		booking.Status = target
		booking.UpdatedAt = now
		if err := tx.Bookings().Save(booking); err != nil {
			return err
		}
		booking.Version++
		released = true

		action := "booking.cancel"
		eventType := kafka.EventTypeBookingCancelled
		if target == domain.BookingStatusExpired {
			action = "booking.expire"
			eventType = kafka.EventTypeBookingExpired
		}
		e.audit(tx, actorID, action, booking.ID, map[string]any{
			"reason":   reason,
			"quantity": booking.Quantity,
		}, now)
		e.emit(tx, eventType, booking, map[string]any{"reason": reason})
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}

	if released {
		e.logger.WithFields(log.Fields{
			"booking_id": booking.ID,
			"status":     booking.Status,
			"reason":     reason,
		}).Info("booking released")
		e.reallocate(ctx, booking)
	}
	return booking, nil
}

// reallocate отдаёт освободившийся объём листу ожидания. Ошибки переброски
// не откатывают отмену, только логируются.
func (e *Engine) reallocate(ctx context.Context, booking domain.Booking) {
	if e.reallocator == nil {
		return
	}
	notified, err := e.reallocator.Reallocate(ctx, booking.CampaignID, booking.TicketType, booking.Quantity)
	if err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"campaign_id": booking.CampaignID,
			"ticket_type": booking.TicketType,
		}).Warn("waitlist reallocation failed")
		return
	}
	if notified > 0 && e.metrics != nil {
		for i := 0; i < notified; i++ {
			e.metrics.RecordWaitlistNotice()
		}
	}
}

// RequestRefund создаёт заявку на возврат по оплаченному бронированию.
// Процент считается от часов до события; нулевой процент отклоняется сразу.
func (e *Engine) RequestRefund(ctx context.Context, bookingID, customerID, reason string) (domain.RefundRequest, error) {
	var request domain.RefundRequest
	err := e.store.WithinTx(ctx, func(tx domain.Tx) error {
		now := e.now()

		booking, err := tx.Bookings().Get(bookingID)
		if err != nil {
			return err
		}
		if booking.CustomerID != customerID {
			return domain.ErrNotOwner
		}
		if !booking.Paid() {
			return domain.ErrRefundNotEligible
		}

		percent := domain.RefundPercent(booking.Metadata.EventDate, now)
		if percent == 0 {
			return domain.ErrRefundNotEligible
		}

		request = domain.RefundRequest{
			ID:          uuid.NewString(),
			BookingID:   booking.ID,
			CustomerID:  booking.CustomerID,
			SellerID:    booking.SellerID,
			AmountMinor: booking.TotalMinor * int64(percent) / 100,
			Percent:     percent,
			Status:      domain.RefundStatusPending,
			Reason:      reason,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Refunds().Create(request); err != nil {
			return err
		}

		e.audit(tx, customerID, "refund.request", request.ID, map[string]any{
			"booking_id":   booking.ID,
			"percent":      percent,
			"amount_minor": request.AmountMinor,
		}, now)
		return nil
	})
	if err != nil {
		return domain.RefundRequest{}, err
	}
	return request, nil
}

// ApproveRefund одобряет заявку. Идемпотентность обеспечивается статусом
// заявки: повторное одобрение возвращает ErrRefundAlreadyDecided, поэтому
// ledger продавца дебетуется ровно один раз.
func (e *Engine) ApproveRefund(ctx context.Context, refundID, actorID string) (domain.RefundRequest, error) {
	var request domain.RefundRequest
	err := e.store.WithinTx(ctx, func(tx domain.Tx) error {
		now := e.now()

		var err error
		request, err = tx.Refunds().Get(refundID)
		if err != nil {
			return err
		}
		if request.Status != domain.RefundStatusPending {
			return domain.ErrRefundAlreadyDecided
		}

		balance, err := tx.Ledger().DebitAvailable(request.SellerID, request.AmountMinor)
		if err != nil {
			return err
		}
		if err := tx.Ledger().AppendEntry(domain.LedgerEntry{
			ID:                 uuid.NewString(),
			SellerID:           request.SellerID,
			Kind:               domain.LedgerEntryRefundDebit,
			AmountMinor:        -request.AmountMinor,
			BalanceBeforeMinor: balance.AvailableMinor + request.AmountMinor,
			BalanceAfterMinor:  balance.AvailableMinor,
			Reference:          request.BookingID,
			Occurred:           now,
		}); err != nil {
			return err
		}

		request.Status = domain.RefundStatusApproved
		request.UpdatedAt = now
		if err := tx.Refunds().Save(request); err != nil {
			return err
		}

		e.audit(tx, actorID, "refund.approve", request.ID, map[string]any{
			"booking_id":   request.BookingID,
			"amount_minor": request.AmountMinor,
		}, now)

		payload, err := json.Marshal(kafka.PayoutEvent{
			SellerID:    request.SellerID,
			Reference:   request.BookingID,
			AmountMinor: request.AmountMinor,
			Kind:        "refund",
		})
		if err != nil {
			return err
		}
		e.enqueue(tx, domain.OutboxMessage{
			AggregateType: "refund",
			AggregateID:   request.ID,
			EventType:     string(kafka.EventTypeRefundIssued),
			Payload:       payload,
		})
		return nil
	})
	if err != nil {
		return domain.RefundRequest{}, err
	}
	return request, nil
}

func (e *Engine) release(ctx context.Context, key, token string) {
	if _, err := e.locker.Release(ctx, key, token); err != nil {
		e.logger.WithError(err).WithField("key", key).Warn("lock release failed")
	}
}

// emit кладёт событие бронирования в outbox. Пустой payload заполняется
// стандартным представлением бронирования.
func (e *Engine) emit(tx domain.Tx, eventType kafka.EventType, booking domain.Booking, extra map[string]any) {
	var (
		data []byte
		err  error
	)
	if extra != nil {
		extra["booking_id"] = booking.ID
		data, err = json.Marshal(extra)
	} else {
		data, err = json.Marshal(kafka.BookingEvent{
			BookingID:  booking.ID,
			CampaignID: booking.CampaignID,
			CustomerID: booking.CustomerID,
			TicketType: booking.TicketType,
			Quantity:   booking.Quantity,
			TotalMinor: booking.TotalMinor,
			Status:     string(booking.Status),
			Deadline:   booking.PaymentDeadline,
		})
	}
	if err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"booking_id": booking.ID,
			"event":      eventType,
		}).Error("marshal event failed")
		return
	}

	e.enqueue(tx, domain.OutboxMessage{
		AggregateType: "booking",
		AggregateID:   booking.ID,
		EventType:     string(eventType),
		Payload:       data,
	})
}

func (e *Engine) enqueue(tx domain.Tx, msg domain.OutboxMessage) {
	if _, err := tx.Outbox().Enqueue(msg); err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"aggregate_id": msg.AggregateID,
			"event":        msg.EventType,
		}).Error("enqueue event failed")
		return
	}
	if e.metrics != nil {
		e.metrics.RecordOutboxEvent()
	}
}

func (e *Engine) audit(tx domain.Tx, actorID, action, entityID string, metadata map[string]any, occurred time.Time) {
	record := domain.AuditRecord{
		ActorID:  actorID,
		Action:   action,
		Entity:   strings.SplitN(action, ".", 2)[0],
		EntityID: entityID,
		Metadata: metadata,
		Occurred: occurred,
	}
	if err := tx.Audit().Append(record); err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"action":    action,
			"entity_id": entityID,
		}).Warn("append audit record failed")
		return
	}
	if e.metrics != nil {
		e.metrics.RecordAuditEvent()
	}
}
