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

// campaignRepository — PostgreSQL-реализация CampaignRepository.
// Типы билетов и аналитика хранятся как JSONB: кампания целиком
// читается и перезаписывается под внешним lock, построчная
// декомпозиция инвентаря здесь ничего не даёт.
type campaignRepository struct {
	ctx context.Context
	q   querier
}

var _ domain.CampaignRepository = (*campaignRepository)(nil)

func (r *campaignRepository) Create(campaign domain.Campaign) error {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	ticketTypes, analytics, err := marshalCampaignJSON(campaign)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO campaigns (
			id, seller_id, title, venue, status, event_date,
			booking_opens_at, booking_closes_at, max_per_customer,
			multi_scan, max_scans, ticket_types, analytics,
			version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		campaign.ID, campaign.SellerID, campaign.Title, campaign.Venue,
		string(campaign.Status), campaign.EventDate,
		campaign.BookingOpensAt, campaign.BookingClosesAt, campaign.MaxPerCustomer,
		campaign.MultiScan, campaign.MaxScans, ticketTypes, analytics,
		campaign.Version, campaign.CreatedAt, campaign.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert campaign: %w", err)
	}

	return nil
}

func (r *campaignRepository) Get(id string) (domain.Campaign, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	var (
		campaign    domain.Campaign
		status      string
		ticketTypes []byte
		analytics   []byte
	)

	err := r.q.QueryRowContext(ctx, `
		SELECT id, seller_id, title, venue, status, event_date,
		       booking_opens_at, booking_closes_at, max_per_customer,
		       multi_scan, max_scans, ticket_types, analytics,
		       version, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`, id).Scan(
		&campaign.ID, &campaign.SellerID, &campaign.Title, &campaign.Venue,
		&status, &campaign.EventDate,
		&campaign.BookingOpensAt, &campaign.BookingClosesAt, &campaign.MaxPerCustomer,
		&campaign.MultiScan, &campaign.MaxScans, &ticketTypes, &analytics,
		&campaign.Version, &campaign.CreatedAt, &campaign.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Campaign{}, domain.ErrCampaignNotFound
		}
		return domain.Campaign{}, fmt.Errorf("select campaign: %w", err)
	}
	campaign.Status = domain.CampaignStatus(status)

	if err := json.Unmarshal(ticketTypes, &campaign.TicketTypes); err != nil {
		return domain.Campaign{}, fmt.Errorf("decode campaign ticket types: %w", err)
	}
	if err := json.Unmarshal(analytics, &campaign.Analytics); err != nil {
		return domain.Campaign{}, fmt.Errorf("decode campaign analytics: %w", err)
	}

	return campaign, nil
}

func (r *campaignRepository) Save(campaign domain.Campaign) error {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	ticketTypes, analytics, err := marshalCampaignJSON(campaign)
	if err != nil {
		return err
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE campaigns
		SET seller_id = $1,
		    title = $2,
		    venue = $3,
		    status = $4,
		    event_date = $5,
		    booking_opens_at = $6,
		    booking_closes_at = $7,
		    max_per_customer = $8,
		    multi_scan = $9,
		    max_scans = $10,
		    ticket_types = $11,
		    analytics = $12,
		    version = version + 1,
		    updated_at = $13
		WHERE id = $14
		  AND version = $15
	`,
		campaign.SellerID, campaign.Title, campaign.Venue, string(campaign.Status),
		campaign.EventDate, campaign.BookingOpensAt, campaign.BookingClosesAt,
		campaign.MaxPerCustomer, campaign.MultiScan, campaign.MaxScans,
		ticketTypes, analytics, time.Now().UTC(),
		campaign.ID, campaign.Version,
	)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := rowExists(ctx, r.q, `SELECT id FROM campaigns WHERE id = $1`, campaign.ID)
		if err != nil {
			return fmt.Errorf("check campaign exists: %w", err)
		}
		if !exists {
			return domain.ErrCampaignNotFound
		}
		return domain.ErrVersionConflict
	}

	return nil
}

func marshalCampaignJSON(campaign domain.Campaign) ([]byte, []byte, error) {
	ticketTypes := campaign.TicketTypes
	if ticketTypes == nil {
		ticketTypes = map[string]domain.TicketType{}
	}
	ttJSON, err := json.Marshal(ticketTypes)
	if err != nil {
		return nil, nil, fmt.Errorf("encode campaign ticket types: %w", err)
	}
	analyticsJSON, err := json.Marshal(campaign.Analytics)
	if err != nil {
		return nil, nil, fmt.Errorf("encode campaign analytics: %w", err)
	}
	return ttJSON, analyticsJSON, nil
}

func rowExists(ctx context.Context, q querier, query string, args ...any) (bool, error) {
	var id string
	err := q.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, err
}
