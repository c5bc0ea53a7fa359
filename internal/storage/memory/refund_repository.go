package memory

import (
	"github.com/tickethub/tms/internal/domain"
)

// refundRepository — in-memory реализация RefundRepository.
type refundRepository struct {
	st *state
}

// Create сохраняет новую заявку на возврат.
func (r *refundRepository) Create(request domain.RefundRequest) error {
	if _, exists := r.st.refunds[request.ID]; exists {
		return domain.ErrAlreadyExists
	}
	r.st.refunds[request.ID] = request
	return nil
}

// Get возвращает заявку или ErrRefundNotFound.
func (r *refundRepository) Get(id string) (domain.RefundRequest, error) {
	req, ok := r.st.refunds[id]
	if !ok {
		return domain.RefundRequest{}, domain.ErrRefundNotFound
	}
	return req, nil
}

// GetByBooking возвращает самую свежую заявку по бронированию.
func (r *refundRepository) GetByBooking(bookingID string) (domain.RefundRequest, error) {
	var (
		found  bool
		latest domain.RefundRequest
	)
	for _, req := range r.st.refunds {
		if req.BookingID != bookingID {
			continue
		}
		if !found || req.CreatedAt.After(latest.CreatedAt) {
			latest = req
			found = true
		}
	}
	if !found {
		return domain.RefundRequest{}, domain.ErrRefundNotFound
	}
	return latest, nil
}

// Save перезаписывает заявку.
func (r *refundRepository) Save(request domain.RefundRequest) error {
	if _, ok := r.st.refunds[request.ID]; !ok {
		return domain.ErrRefundNotFound
	}
	r.st.refunds[request.ID] = request
	return nil
}

var _ domain.RefundRepository = (*refundRepository)(nil)
