package memory

import (
	"github.com/tickethub/tms/internal/domain"
)

// withdrawalRepository — in-memory реализация WithdrawalRepository.
type withdrawalRepository struct {
	st *state
}

// Create сохраняет новую заявку на вывод средств.
func (r *withdrawalRepository) Create(withdrawal domain.Withdrawal) error {
	if _, exists := r.st.withdrawals[withdrawal.ID]; exists {
		return domain.ErrAlreadyExists
	}
	r.st.withdrawals[withdrawal.ID] = withdrawal
	return nil
}

// Get возвращает заявку по идентификатору.
func (r *withdrawalRepository) Get(id string) (domain.Withdrawal, error) {
	w, ok := r.st.withdrawals[id]
	if !ok {
		return domain.Withdrawal{}, domain.ErrWithdrawalNotFound
	}
	return w, nil
}

// GetMethod возвращает метод выплаты или ErrPayoutMethodNotFound.
func (r *withdrawalRepository) GetMethod(id string) (domain.PayoutMethod, error) {
	m, ok := r.st.methods[id]
	if !ok {
		return domain.PayoutMethod{}, domain.ErrPayoutMethodNotFound
	}
	return m, nil
}

// SaveMethod сохраняет метод выплаты.
func (r *withdrawalRepository) SaveMethod(method domain.PayoutMethod) error {
	r.st.methods[method.ID] = method
	return nil
}

var _ domain.WithdrawalRepository = (*withdrawalRepository)(nil)
