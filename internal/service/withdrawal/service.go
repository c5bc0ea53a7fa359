package withdrawal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/tickethub/tms/internal/domain"
	"github.com/tickethub/tms/internal/messaging/kafka"
)

// DefaultMinimumMinor — минимальная сумма вывода по умолчанию.
const DefaultMinimumMinor int64 = 1000

// Service обрабатывает заявки продавцов на вывод средств.
// Списание доступного баланса — одно условное обновление на уровне
// хранилища; сервис никогда не делает read-then-check по балансу.
type Service struct {
	store        domain.Store
	logger       *log.Entry
	minimumMinor int64
	now          func() time.Time
}

// NewService создаёт сервис вывода средств. Неположительный minimumMinor
// заменяется значением по умолчанию.
func NewService(store domain.Store, minimumMinor int64, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "withdrawal")
	}
	if minimumMinor <= 0 {
		minimumMinor = DefaultMinimumMinor
	}
	return &Service{
		store:        store,
		logger:       logger,
		minimumMinor: minimumMinor,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Request создаёт PENDING-заявку на вывод, удерживая сумму из available
// в pending. При нехватке средств возвращается InsufficientBalanceError
// с фактическим балансом, и ни одна запись не меняется.
func (s *Service) Request(ctx context.Context, sellerID string, amountMinor int64, methodID string) (domain.Withdrawal, error) {
	if amountMinor < s.minimumMinor {
		return domain.Withdrawal{}, domain.ErrWithdrawalBelowMinimum
	}

	var withdrawal domain.Withdrawal
	err := s.store.WithinTx(ctx, func(tx domain.Tx) error {
		now := s.now()

		method, err := tx.Withdrawals().GetMethod(methodID)
		if err != nil {
			return err
		}
		if method.SellerID != sellerID {
			return domain.ErrNotOwner
		}
		if !method.Verified {
			return domain.ErrPayoutMethodUnverified
		}

		balance, err := tx.Ledger().HoldForWithdrawal(sellerID, amountMinor)
		if err != nil {
			return err
		}

		withdrawal = domain.Withdrawal{
			ID:          uuid.NewString(),
			SellerID:    sellerID,
			AmountMinor: amountMinor,
			MethodID:    methodID,
			Status:      domain.WithdrawalStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Withdrawals().Create(withdrawal); err != nil {
			return err
		}

		if err := tx.Ledger().AppendEntry(domain.LedgerEntry{
			ID:                 uuid.NewString(),
			SellerID:           sellerID,
			Kind:               domain.LedgerEntryWithdrawalHold,
			AmountMinor:        -amountMinor,
			BalanceBeforeMinor: balance.AvailableMinor + amountMinor,
			BalanceAfterMinor:  balance.AvailableMinor,
			Reference:          withdrawal.ID,
			Occurred:           now,
		}); err != nil {
			return err
		}

		if err := tx.Audit().Append(domain.AuditRecord{
			ActorID:  sellerID,
			Action:   "withdrawal.request",
			Entity:   "withdrawal",
			EntityID: withdrawal.ID,
			Metadata: map[string]any{
				"amount_minor": amountMinor,
				"method_id":    methodID,
			},
			Occurred: now,
		}); err != nil {
			return err
		}

		payload, err := json.Marshal(kafka.PayoutEvent{
			SellerID:    sellerID,
			Reference:   withdrawal.ID,
			AmountMinor: amountMinor,
			Kind:        "withdrawal",
		})
		if err != nil {
			return err
		}
		_, err = tx.Outbox().Enqueue(domain.OutboxMessage{
			AggregateType: "withdrawal",
			AggregateID:   withdrawal.ID,
			EventType:     string(kafka.EventTypeWithdrawalRequested),
			Payload:       payload,
		})
		return err
	})
	if err != nil {
		return domain.Withdrawal{}, err
	}

	s.logger.WithFields(log.Fields{
		"withdrawal_id": withdrawal.ID,
		"seller_id":     sellerID,
		"amount_minor":  amountMinor,
	}).Info("withdrawal requested")
	return withdrawal, nil
}

// Get возвращает заявку на вывод по идентификатору.
func (s *Service) Get(ctx context.Context, withdrawalID string) (domain.Withdrawal, error) {
	var withdrawal domain.Withdrawal
	err := s.store.WithinTx(ctx, func(tx domain.Tx) error {
		var err error
		withdrawal, err = tx.Withdrawals().Get(withdrawalID)
		return err
	})
	return withdrawal, err
}
