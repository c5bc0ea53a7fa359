package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tickethub/tms/internal/domain"
)

// promoRepository — PostgreSQL-реализация PromoRepository.
type promoRepository struct {
	ctx context.Context
	q   querier
}

var _ domain.PromoRepository = (*promoRepository)(nil)

func (r *promoRepository) Get(code string) (domain.PromoCode, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	var promo domain.PromoCode
	err := r.q.QueryRowContext(ctx, `
		SELECT code, campaign_id, percent, flat_off_minor, max_discount_minor,
		       per_user_limit, expires_at, active
		FROM promo_codes
		WHERE code = $1
	`, code).Scan(
		&promo.Code, &promo.CampaignID, &promo.Percent, &promo.FlatOffMinor,
		&promo.MaxDiscountMinor, &promo.PerUserLimit, &promo.ExpiresAt, &promo.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PromoCode{}, domain.ErrPromoNotFound
		}
		return domain.PromoCode{}, fmt.Errorf("select promo code: %w", err)
	}

	return promo, nil
}

func (r *promoRepository) Save(promo domain.PromoCode) error {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO promo_codes (
			code, campaign_id, percent, flat_off_minor, max_discount_minor,
			per_user_limit, expires_at, active, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (code) DO UPDATE
		SET campaign_id = EXCLUDED.campaign_id,
		    percent = EXCLUDED.percent,
		    flat_off_minor = EXCLUDED.flat_off_minor,
		    max_discount_minor = EXCLUDED.max_discount_minor,
		    per_user_limit = EXCLUDED.per_user_limit,
		    expires_at = EXCLUDED.expires_at,
		    active = EXCLUDED.active,
		    updated_at = EXCLUDED.updated_at
	`,
		promo.Code, promo.CampaignID, promo.Percent, promo.FlatOffMinor,
		promo.MaxDiscountMinor, promo.PerUserLimit, promo.ExpiresAt, promo.Active,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert promo code: %w", err)
	}

	return nil
}
