package domain

import "time"

// PromoCode — скидочный код: процентный либо фиксированный с потолком.
// Пустой CampaignID означает код, действующий на всём маркетплейсе.
type PromoCode struct {
	Code       string
	CampaignID string
	// Percent — процент скидки (0 для фиксированных кодов).
	Percent int
	// FlatOffMinor — фиксированная скидка в минимальных единицах.
	FlatOffMinor int64
	// MaxDiscountMinor ограничивает итоговую скидку (0 — без потолка).
	MaxDiscountMinor int64
	// PerUserLimit — сколько раз один покупатель может применить код (0 — без лимита).
	PerUserLimit int
	ExpiresAt    time.Time
	Active       bool
}

// ValidFor проверяет применимость кода к кампании в момент now.
func (p *PromoCode) ValidFor(campaignID string, now time.Time) error {
	if !p.Active {
		return ErrPromoInactive
	}
	if p.CampaignID != "" && p.CampaignID != campaignID {
		return ErrPromoWrongCampaign
	}
	if !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt) {
		return ErrPromoExpired
	}
	return nil
}

// Discount считает скидку от subtotal: процент либо фиксированная сумма,
// в обоих случаях с учётом потолка и без ухода в минус.
func (p *PromoCode) Discount(subtotalMinor int64) int64 {
	var discount int64
	if p.Percent > 0 {
		discount = subtotalMinor * int64(p.Percent) / 100
	} else {
		discount = p.FlatOffMinor
	}
	if p.MaxDiscountMinor > 0 && discount > p.MaxDiscountMinor {
		discount = p.MaxDiscountMinor
	}
	if discount > subtotalMinor {
		discount = subtotalMinor
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}
