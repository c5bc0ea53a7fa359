package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tickethub/tms/internal/domain"
)

// ledgerRepository — PostgreSQL-реализация LedgerRepository.
// Условные операции выполняются одним UPDATE с предикатом по балансу:
// проверка и запись неразделимы, read-then-check здесь запрещён.
type ledgerRepository struct {
	ctx context.Context
	q   querier
}

var _ domain.LedgerRepository = (*ledgerRepository)(nil)

const balanceColumns = `
	seller_id, available_minor, pending_minor, total_earnings_minor,
	withdrawn_minor, updated_at`

func (r *ledgerRepository) GetBalance(sellerID string) (domain.SellerBalance, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	balance, err := scanBalance(r.q.QueryRowContext(ctx, `
		SELECT`+balanceColumns+`
		FROM seller_balances
		WHERE seller_id = $1
	`, sellerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SellerBalance{}, domain.ErrSellerNotFound
		}
		return domain.SellerBalance{}, fmt.Errorf("select seller balance: %w", err)
	}

	return balance, nil
}

func (r *ledgerRepository) CreditPending(sellerID string, amountMinor int64) (domain.SellerBalance, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	balance, err := scanBalance(r.q.QueryRowContext(ctx, `
		INSERT INTO seller_balances (
			seller_id, available_minor, pending_minor, total_earnings_minor,
			withdrawn_minor, updated_at
		) VALUES ($1, 0, $2, $2, 0, $3)
		ON CONFLICT (seller_id) DO UPDATE
		SET pending_minor = seller_balances.pending_minor + EXCLUDED.pending_minor,
		    total_earnings_minor = seller_balances.total_earnings_minor + EXCLUDED.total_earnings_minor,
		    updated_at = EXCLUDED.updated_at
		RETURNING`+balanceColumns+`
	`, sellerID, amountMinor, time.Now().UTC()))
	if err != nil {
		return domain.SellerBalance{}, fmt.Errorf("credit pending balance: %w", err)
	}

	return balance, nil
}

func (r *ledgerRepository) HoldForWithdrawal(sellerID string, amountMinor int64) (domain.SellerBalance, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	balance, err := scanBalance(r.q.QueryRowContext(ctx, `
		UPDATE seller_balances
		SET available_minor = available_minor - $2,
		    pending_minor = pending_minor + $2,
		    updated_at = $3
		WHERE seller_id = $1
		  AND available_minor >= $2
		RETURNING`+balanceColumns+`
	`, sellerID, amountMinor, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SellerBalance{}, r.conditionalDebitRefused(ctx, sellerID, amountMinor)
		}
		return domain.SellerBalance{}, fmt.Errorf("hold for withdrawal: %w", err)
	}

	return balance, nil
}

func (r *ledgerRepository) DebitAvailable(sellerID string, amountMinor int64) (domain.SellerBalance, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	balance, err := scanBalance(r.q.QueryRowContext(ctx, `
		UPDATE seller_balances
		SET available_minor = available_minor - $2,
		    updated_at = $3
		WHERE seller_id = $1
		  AND available_minor >= $2
		RETURNING`+balanceColumns+`
	`, sellerID, amountMinor, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SellerBalance{}, r.conditionalDebitRefused(ctx, sellerID, amountMinor)
		}
		return domain.SellerBalance{}, fmt.Errorf("debit available balance: %w", err)
	}

	return balance, nil
}

// conditionalDebitRefused различает отсутствие продавца и нехватку средств
// после условного UPDATE, не затронувшего ни одной строки.
func (r *ledgerRepository) conditionalDebitRefused(ctx context.Context, sellerID string, amountMinor int64) error {
	var available int64
	err := r.q.QueryRowContext(ctx, `
		SELECT available_minor FROM seller_balances WHERE seller_id = $1
	`, sellerID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrSellerNotFound
	}
	if err != nil {
		return fmt.Errorf("check seller balance: %w", err)
	}

	return &domain.InsufficientBalanceError{
		SellerID:       sellerID,
		AvailableMinor: available,
		RequestedMinor: amountMinor,
	}
}

func (r *ledgerRepository) AppendEntry(entry domain.LedgerEntry) error {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Occurred.IsZero() {
		entry.Occurred = time.Now().UTC()
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO ledger_entries (
			id, seller_id, kind, amount_minor, balance_before_minor,
			balance_after_minor, reference, occurred_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		entry.ID, entry.SellerID, string(entry.Kind), entry.AmountMinor,
		entry.BalanceBeforeMinor, entry.BalanceAfterMinor, entry.Reference, entry.Occurred,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	return nil
}

func (r *ledgerRepository) ListEntries(sellerID string, limit int) ([]domain.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, seller_id, kind, amount_minor, balance_before_minor,
		       balance_after_minor, reference, occurred_at
		FROM ledger_entries
		WHERE seller_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2
	`, sellerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, limit)
	for rows.Next() {
		var (
			entry domain.LedgerEntry
			kind  string
		)
		if err := rows.Scan(
			&entry.ID, &entry.SellerID, &kind, &entry.AmountMinor,
			&entry.BalanceBeforeMinor, &entry.BalanceAfterMinor,
			&entry.Reference, &entry.Occurred,
		); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entry.Kind = domain.LedgerEntryKind(kind)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}

	return entries, nil
}

func scanBalance(row rowScanner) (domain.SellerBalance, error) {
	var balance domain.SellerBalance
	if err := row.Scan(
		&balance.SellerID, &balance.AvailableMinor, &balance.PendingMinor,
		&balance.TotalEarningsMinor, &balance.WithdrawnMinor, &balance.UpdatedAt,
	); err != nil {
		return domain.SellerBalance{}, err
	}
	return balance, nil
}
