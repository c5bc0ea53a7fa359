package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tickethub/tms/internal/domain"
)

// bookingRepository — PostgreSQL-реализация BookingRepository.
type bookingRepository struct {
	ctx context.Context
	q   querier
}

var _ domain.BookingRepository = (*bookingRepository)(nil)

const bookingColumns = `
	id, booking_ref, campaign_id, customer_id, seller_id, ticket_type,
	quantity, unit_price_minor, discount_minor, total_minor,
	issuance_type, status, promo_code, payment_id, payment_deadline,
	metadata, version, created_at, updated_at`

func (r *bookingRepository) Create(booking domain.Booking) error {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	metadata, err := json.Marshal(booking.Metadata)
	if err != nil {
		return fmt.Errorf("encode booking metadata: %w", err)
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`,
		booking.ID, booking.BookingRef, booking.CampaignID, booking.CustomerID,
		booking.SellerID, booking.TicketType, booking.Quantity,
		booking.UnitPriceMinor, booking.DiscountMinor, booking.TotalMinor,
		string(booking.IssuanceType), string(booking.Status), booking.PromoCode,
		booking.PaymentID, booking.PaymentDeadline, metadata,
		booking.Version, booking.CreatedAt, booking.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert booking: %w", err)
	}

	return nil
}

func (r *bookingRepository) Get(id string) (domain.Booking, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	booking, err := scanBooking(r.q.QueryRowContext(ctx, `
		SELECT`+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Booking{}, domain.ErrBookingNotFound
		}
		return domain.Booking{}, fmt.Errorf("select booking: %w", err)
	}

	return booking, nil
}

func (r *bookingRepository) Save(booking domain.Booking) error {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	metadata, err := json.Marshal(booking.Metadata)
	if err != nil {
		return fmt.Errorf("encode booking metadata: %w", err)
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE bookings
		SET status = $1,
		    promo_code = $2,
		    payment_id = $3,
		    payment_deadline = $4,
		    discount_minor = $5,
		    total_minor = $6,
		    metadata = $7,
		    version = version + 1,
		    updated_at = $8
		WHERE id = $9
		  AND version = $10
	`,
		string(booking.Status), booking.PromoCode, booking.PaymentID,
		booking.PaymentDeadline, booking.DiscountMinor, booking.TotalMinor,
		metadata, time.Now().UTC(),
		booking.ID, booking.Version,
	)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := rowExists(ctx, r.q, `SELECT id FROM bookings WHERE id = $1`, booking.ID)
		if err != nil {
			return fmt.Errorf("check booking exists: %w", err)
		}
		if !exists {
			return domain.ErrBookingNotFound
		}
		return domain.ErrVersionConflict
	}

	return nil
}

func (r *bookingRepository) QuantityForCustomer(campaignID, customerID string, statuses []domain.BookingStatus) (int, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	if len(statuses) == 0 {
		return 0, nil
	}
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}

	var total int
	if err := r.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM bookings
		WHERE campaign_id = $1
		  AND customer_id = $2
		  AND status = ANY($3)
	`, campaignID, customerID, names).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum customer quantity: %w", err)
	}

	return total, nil
}

func (r *bookingRepository) CountPromoUse(customerID, code string) (int, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	var count int
	if err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM bookings
		WHERE customer_id = $1
		  AND promo_code = $2
		  AND status IN ('pending', 'confirmed')
	`, customerID, code).Scan(&count); err != nil {
		return 0, fmt.Errorf("count promo use: %w", err)
	}

	return count, nil
}

func (r *bookingRepository) ListExpiredPending(before time.Time, limit int) ([]domain.Booking, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT`+bookingColumns+`
		FROM bookings
		WHERE status = 'pending'
		  AND payment_deadline < $1
		ORDER BY payment_deadline, id
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired pending bookings: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Booking, 0, limit)
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking row: %w", err)
		}
		result = append(result, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate booking rows: %w", err)
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (domain.Booking, error) {
	var (
		booking      domain.Booking
		issuanceType string
		status       string
		metadata     []byte
	)

	if err := row.Scan(
		&booking.ID, &booking.BookingRef, &booking.CampaignID, &booking.CustomerID,
		&booking.SellerID, &booking.TicketType, &booking.Quantity,
		&booking.UnitPriceMinor, &booking.DiscountMinor, &booking.TotalMinor,
		&issuanceType, &status, &booking.PromoCode, &booking.PaymentID,
		&booking.PaymentDeadline, &metadata,
		&booking.Version, &booking.CreatedAt, &booking.UpdatedAt,
	); err != nil {
		return domain.Booking{}, err
	}

	booking.IssuanceType = domain.IssuanceType(issuanceType)
	booking.Status = domain.BookingStatus(status)
	if err := json.Unmarshal(metadata, &booking.Metadata); err != nil {
		return domain.Booking{}, fmt.Errorf("decode booking metadata: %w", err)
	}

	return booking, nil
}
