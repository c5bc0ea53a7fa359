package memory

import (
	"github.com/tickethub/tms/internal/domain"
)

// promoRepository — in-memory реализация PromoRepository.
type promoRepository struct {
	st *state
}

// Get возвращает промокод или ErrPromoNotFound.
func (r *promoRepository) Get(code string) (domain.PromoCode, error) {
	promo, ok := r.st.promos[code]
	if !ok {
		return domain.PromoCode{}, domain.ErrPromoNotFound
	}
	return promo, nil
}

// Save сохраняет промокод.
func (r *promoRepository) Save(promo domain.PromoCode) error {
	r.st.promos[promo.Code] = promo
	return nil
}

var _ domain.PromoRepository = (*promoRepository)(nil)
