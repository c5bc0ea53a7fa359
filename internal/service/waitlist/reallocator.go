package waitlist

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/tickethub/tms/internal/domain"
	"github.com/tickethub/tms/internal/messaging/kafka"
)

// Service управляет листом ожидания: запись покупателей на недоступный
// инвентарь и раздача освободившегося объёма.
type Service struct {
	store  domain.Store
	logger *log.Entry
	now    func() time.Time
}

// NewService создаёт сервис листа ожидания.
func NewService(store domain.Store, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "waitlist")
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Join добавляет ACTIVE-запись листа ожидания на срез инвентаря.
func (s *Service) Join(ctx context.Context, campaignID, ticketType, customerID string, quantity, priority int) (domain.WaitlistEntry, error) {
	if customerID == "" {
		return domain.WaitlistEntry{}, domain.ErrCustomerRequired
	}
	if quantity < domain.MinBookingQuantity || quantity > domain.MaxBookingQuantity {
		return domain.WaitlistEntry{}, domain.ErrQuantityOutOfRange
	}

	var entry domain.WaitlistEntry
	err := s.store.WithinTx(ctx, func(tx domain.Tx) error {
		now := s.now()

		campaign, err := tx.Campaigns().Get(campaignID)
		if err != nil {
			return err
		}
		if _, ok := campaign.TicketTypes[ticketType]; !ok {
			return domain.ErrTicketTypeUnknown
		}

		entry = domain.WaitlistEntry{
			ID:         uuid.NewString(),
			CampaignID: campaignID,
			TicketType: ticketType,
			CustomerID: customerID,
			Quantity:   quantity,
			Priority:   priority,
			Status:     domain.WaitlistStatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return tx.Waitlist().Add(entry)
	})
	if err != nil {
		return domain.WaitlistEntry{}, err
	}
	return entry, nil
}

// Reallocate раздаёт освободившийся объём ACTIVE-записям в порядке
// priority desc, created asc. Жадный first-fit без частичного
// удовлетворения: запись, не влезающая в остаток, пропускается целиком.
// Уведомлённые записи получают 30-минутное окно бронирования; инвентарь
// под ними не резервируется, бронь конкурирует на общих основаниях.
func (s *Service) Reallocate(ctx context.Context, campaignID, ticketType string, freedQty int) (int, error) {
	if freedQty <= 0 {
		return 0, nil
	}

	notified := 0
	err := s.store.WithinTx(ctx, func(tx domain.Tx) error {
		now := s.now()
		notified = 0
		remaining := freedQty

		entries, err := tx.Waitlist().ListActive(campaignID, ticketType)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			if remaining == 0 {
				break
			}
			if entry.Quantity > remaining {
				continue
			}

			entry.Status = domain.WaitlistStatusNotified
			entry.NotifyExpiresAt = now.Add(domain.NotifyWindow)
			entry.UpdatedAt = now
			if err := tx.Waitlist().Save(entry); err != nil {
				return err
			}
			remaining -= entry.Quantity
			notified++

			payload, err := json.Marshal(kafka.WaitlistNotifyEvent{
				EntryID:    entry.ID,
				CampaignID: entry.CampaignID,
				TicketType: entry.TicketType,
				CustomerID: entry.CustomerID,
				Quantity:   entry.Quantity,
				ExpiresAt:  entry.NotifyExpiresAt,
			})
			if err != nil {
				return err
			}
			if _, err := tx.Outbox().Enqueue(domain.OutboxMessage{
				AggregateType: "waitlist",
				AggregateID:   entry.ID,
				EventType:     string(kafka.EventTypeWaitlistNotify),
				Payload:       payload,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if notified > 0 {
		s.logger.WithFields(log.Fields{
			"campaign_id": campaignID,
			"ticket_type": ticketType,
			"freed_qty":   freedQty,
			"notified":    notified,
		}).Info("waitlist entries notified")
	}
	return notified, nil
}

// RevertLapsed возвращает в EXPIRED записи, чьё окно уведомления истекло
// без бронирования. Вызывается reaper-ом.
func (s *Service) RevertLapsed(ctx context.Context, limit int) (int, error) {
	reverted := 0
	err := s.store.WithinTx(ctx, func(tx domain.Tx) error {
		now := s.now()
		reverted = 0

		lapsed, err := tx.Waitlist().ListNotifiedExpired(now, limit)
		if err != nil {
			return err
		}
		for _, entry := range lapsed {
			entry.Status = domain.WaitlistStatusExpired
			entry.UpdatedAt = now
			if err := tx.Waitlist().Save(entry); err != nil {
				return err
			}
			reverted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reverted, nil
}

// MarkFulfilled помечает уведомлённую запись выполненной, когда покупатель
// успел забронировать в окне.
func (s *Service) MarkFulfilled(ctx context.Context, entryID string) error {
	return s.store.WithinTx(ctx, func(tx domain.Tx) error {
		entry, err := tx.Waitlist().Get(entryID)
		if err != nil {
			return err
		}
		if entry.Status != domain.WaitlistStatusNotified {
			return nil
		}
		entry.Status = domain.WaitlistStatusFulfilled
		entry.UpdatedAt = s.now()
		return tx.Waitlist().Save(entry)
	})
}
