package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tickethub/tms/internal/domain"
)

// withdrawalRepository — PostgreSQL-реализация WithdrawalRepository.
type withdrawalRepository struct {
	ctx context.Context
	q   querier
}

var _ domain.WithdrawalRepository = (*withdrawalRepository)(nil)

func (r *withdrawalRepository) Create(withdrawal domain.Withdrawal) error {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO withdrawals (
			id, seller_id, amount_minor, method_id, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		withdrawal.ID, withdrawal.SellerID, withdrawal.AmountMinor,
		withdrawal.MethodID, string(withdrawal.Status),
		withdrawal.CreatedAt, withdrawal.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert withdrawal: %w", err)
	}

	return nil
}

func (r *withdrawalRepository) Get(id string) (domain.Withdrawal, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	var (
		withdrawal domain.Withdrawal
		status     string
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, seller_id, amount_minor, method_id, status, created_at, updated_at
		FROM withdrawals
		WHERE id = $1
	`, id).Scan(
		&withdrawal.ID, &withdrawal.SellerID, &withdrawal.AmountMinor,
		&withdrawal.MethodID, &status, &withdrawal.CreatedAt, &withdrawal.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Withdrawal{}, domain.ErrWithdrawalNotFound
		}
		return domain.Withdrawal{}, fmt.Errorf("select withdrawal: %w", err)
	}
	withdrawal.Status = domain.WithdrawalStatus(status)

	return withdrawal, nil
}

func (r *withdrawalRepository) GetMethod(id string) (domain.PayoutMethod, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	var method domain.PayoutMethod
	err := r.q.QueryRowContext(ctx, `
		SELECT id, seller_id, verified
		FROM payout_methods
		WHERE id = $1
	`, id).Scan(&method.ID, &method.SellerID, &method.Verified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PayoutMethod{}, domain.ErrPayoutMethodNotFound
		}
		return domain.PayoutMethod{}, fmt.Errorf("select payout method: %w", err)
	}

	return method, nil
}

func (r *withdrawalRepository) SaveMethod(method domain.PayoutMethod) error {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payout_methods (id, seller_id, verified, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE
		SET seller_id = EXCLUDED.seller_id,
		    verified = EXCLUDED.verified,
		    updated_at = EXCLUDED.updated_at
	`, method.ID, method.SellerID, method.Verified, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert payout method: %w", err)
	}

	return nil
}
