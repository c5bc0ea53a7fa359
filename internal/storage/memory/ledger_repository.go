package memory

import (
	"sort"
	"time"

	"github.com/tickethub/tms/internal/domain"
)

// ledgerRepository — in-memory реализация LedgerRepository. Условные
// операции атомарны: проверка и запись происходят под мьютексом Store
// одним действием, как условный UPDATE в PostgreSQL-версии.
type ledgerRepository struct {
	st *state
}

// GetBalance возвращает баланс продавца или ErrSellerNotFound.
func (r *ledgerRepository) GetBalance(sellerID string) (domain.SellerBalance, error) {
	balance, ok := r.st.balances[sellerID]
	if !ok {
		return domain.SellerBalance{}, domain.ErrSellerNotFound
	}
	return balance, nil
}

// CreditPending зачисляет выручку в pending и totalEarnings.
// Первая выручка продавца создаёт запись баланса.
func (r *ledgerRepository) CreditPending(sellerID string, amountMinor int64) (domain.SellerBalance, error) {
	balance := r.st.balances[sellerID]
	balance.SellerID = sellerID
	balance.PendingMinor += amountMinor
	balance.TotalEarningsMinor += amountMinor
	balance.UpdatedAt = time.Now().UTC()
	r.st.balances[sellerID] = balance
	return balance, nil
}

// HoldForWithdrawal условно переносит amount из available в pending.
// Нехватка средств не меняет баланс.
func (r *ledgerRepository) HoldForWithdrawal(sellerID string, amountMinor int64) (domain.SellerBalance, error) {
	balance, ok := r.st.balances[sellerID]
	if !ok {
		return domain.SellerBalance{}, domain.ErrSellerNotFound
	}
	if balance.AvailableMinor < amountMinor {
		return domain.SellerBalance{}, &domain.InsufficientBalanceError{
			SellerID:       sellerID,
			AvailableMinor: balance.AvailableMinor,
			RequestedMinor: amountMinor,
		}
	}

	balance.AvailableMinor -= amountMinor
	balance.PendingMinor += amountMinor
	balance.UpdatedAt = time.Now().UTC()
	r.st.balances[sellerID] = balance
	return balance, nil
}

// DebitAvailable условно списывает amount из available.
func (r *ledgerRepository) DebitAvailable(sellerID string, amountMinor int64) (domain.SellerBalance, error) {
	balance, ok := r.st.balances[sellerID]
	if !ok {
		return domain.SellerBalance{}, domain.ErrSellerNotFound
	}
	if balance.AvailableMinor < amountMinor {
		return domain.SellerBalance{}, &domain.InsufficientBalanceError{
			SellerID:       sellerID,
			AvailableMinor: balance.AvailableMinor,
			RequestedMinor: amountMinor,
		}
	}

	balance.AvailableMinor -= amountMinor
	balance.UpdatedAt = time.Now().UTC()
	r.st.balances[sellerID] = balance
	return balance, nil
}

// AppendEntry добавляет неизменяемую запись журнала.
func (r *ledgerRepository) AppendEntry(entry domain.LedgerEntry) error {
	r.st.ledger[entry.SellerID] = append(r.st.ledger[entry.SellerID], entry)
	return nil
}

// ListEntries возвращает записи журнала продавца, новые первыми.
func (r *ledgerRepository) ListEntries(sellerID string, limit int) ([]domain.LedgerEntry, error) {
	entries := r.st.ledger[sellerID]
	result := make([]domain.LedgerEntry, len(entries))
	copy(result, entries)

	sort.Slice(result, func(i, j int) bool {
		return result[i].Occurred.After(result[j].Occurred)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ domain.LedgerRepository = (*ledgerRepository)(nil)
