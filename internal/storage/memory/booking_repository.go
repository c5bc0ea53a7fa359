package memory

import (
	"sort"
	"time"

	"github.com/tickethub/tms/internal/domain"
)

// bookingRepository — in-memory реализация BookingRepository.
type bookingRepository struct {
	st *state
}

// Create сохраняет новое бронирование, если ID ещё не занят.
func (r *bookingRepository) Create(booking domain.Booking) error {
	if _, exists := r.st.bookings[booking.ID]; exists {
		return domain.ErrAlreadyExists
	}
	r.st.bookings[booking.ID] = booking
	return nil
}

// Get возвращает бронирование или ErrBookingNotFound.
func (r *bookingRepository) Get(id string) (domain.Booking, error) {
	booking, ok := r.st.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return booking, nil
}

// Save перезаписывает бронирование, проверяя версию (optimistic locking).
func (r *bookingRepository) Save(booking domain.Booking) error {
	current, ok := r.st.bookings[booking.ID]
	if !ok {
		return domain.ErrBookingNotFound
	}
	if current.Version != booking.Version {
		return domain.ErrVersionConflict
	}
	booking.Version++
	r.st.bookings[booking.ID] = booking
	return nil
}

// QuantityForCustomer суммирует количество в бронированиях покупателя
// по кампании в перечисленных статусах.
func (r *bookingRepository) QuantityForCustomer(campaignID, customerID string, statuses []domain.BookingStatus) (int, error) {
	wanted := make(map[domain.BookingStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	total := 0
	for _, b := range r.st.bookings {
		if b.CampaignID == campaignID && b.CustomerID == customerID && wanted[b.Status] {
			total += b.Quantity
		}
	}
	return total, nil
}

// CountPromoUse считает использования промокода покупателем
// в pending и confirmed бронированиях.
func (r *bookingRepository) CountPromoUse(customerID, code string) (int, error) {
	count := 0
	for _, b := range r.st.bookings {
		if b.CustomerID != customerID || b.PromoCode != code {
			continue
		}
		if b.Status == domain.BookingStatusPending || b.Status == domain.BookingStatusConfirmed {
			count++
		}
	}
	return count, nil
}

// ListExpiredPending возвращает PENDING-бронирования с дедлайном раньше before,
// старые первыми.
func (r *bookingRepository) ListExpiredPending(before time.Time, limit int) ([]domain.Booking, error) {
	result := make([]domain.Booking, 0)
	for _, b := range r.st.bookings {
		if b.Status == domain.BookingStatusPending && !b.PaymentDeadline.IsZero() && b.PaymentDeadline.Before(before) {
			result = append(result, b)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].PaymentDeadline.Equal(result[j].PaymentDeadline) {
			return result[i].PaymentDeadline.Before(result[j].PaymentDeadline)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ domain.BookingRepository = (*bookingRepository)(nil)
