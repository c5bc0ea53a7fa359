package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tickethub/tms/internal/domain"
)

// refundRepository — PostgreSQL-реализация RefundRepository.
type refundRepository struct {
	ctx context.Context
	q   querier
}

var _ domain.RefundRepository = (*refundRepository)(nil)

const refundColumns = `
	id, booking_id, customer_id, seller_id, amount_minor, percent,
	status, reason, created_at, updated_at`

func (r *refundRepository) Create(request domain.RefundRequest) error {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO refund_requests (`+refundColumns+`
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		request.ID, request.BookingID, request.CustomerID, request.SellerID,
		request.AmountMinor, request.Percent, string(request.Status),
		request.Reason, request.CreatedAt, request.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert refund request: %w", err)
	}

	return nil
}

func (r *refundRepository) Get(id string) (domain.RefundRequest, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	request, err := scanRefund(r.q.QueryRowContext(ctx, `
		SELECT`+refundColumns+`
		FROM refund_requests
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RefundRequest{}, domain.ErrRefundNotFound
		}
		return domain.RefundRequest{}, fmt.Errorf("select refund request: %w", err)
	}

	return request, nil
}

func (r *refundRepository) GetByBooking(bookingID string) (domain.RefundRequest, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	request, err := scanRefund(r.q.QueryRowContext(ctx, `
		SELECT`+refundColumns+`
		FROM refund_requests
		WHERE booking_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, bookingID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RefundRequest{}, domain.ErrRefundNotFound
		}
		return domain.RefundRequest{}, fmt.Errorf("select refund by booking: %w", err)
	}

	return request, nil
}

func (r *refundRepository) Save(request domain.RefundRequest) error {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE refund_requests
		SET status = $1,
		    reason = $2,
		    amount_minor = $3,
		    updated_at = $4
		WHERE id = $5
	`, string(request.Status), request.Reason, request.AmountMinor, time.Now().UTC(), request.ID)
	if err != nil {
		return fmt.Errorf("update refund request: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrRefundNotFound
	}

	return nil
}

func scanRefund(row rowScanner) (domain.RefundRequest, error) {
	var (
		request domain.RefundRequest
		status  string
	)
	if err := row.Scan(
		&request.ID, &request.BookingID, &request.CustomerID, &request.SellerID,
		&request.AmountMinor, &request.Percent, &status, &request.Reason,
		&request.CreatedAt, &request.UpdatedAt,
	); err != nil {
		return domain.RefundRequest{}, err
	}
	request.Status = domain.RefundStatus(status)
	return request, nil
}
