package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tickethub/tms/internal/domain"
)

// waitlistRepository — PostgreSQL-реализация WaitlistRepository.
type waitlistRepository struct {
	ctx context.Context
	q   querier
}

var _ domain.WaitlistRepository = (*waitlistRepository)(nil)

const waitlistColumns = `
	id, campaign_id, ticket_type, customer_id, quantity, priority,
	status, notify_expires_at, created_at, updated_at`

func (r *waitlistRepository) Add(entry domain.WaitlistEntry) error {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO waitlist_entries (`+waitlistColumns+`
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		entry.ID, entry.CampaignID, entry.TicketType, entry.CustomerID,
		entry.Quantity, entry.Priority, string(entry.Status),
		entry.NotifyExpiresAt, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert waitlist entry: %w", err)
	}

	return nil
}

func (r *waitlistRepository) Get(id string) (domain.WaitlistEntry, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	entry, err := scanWaitlistEntry(r.q.QueryRowContext(ctx, `
		SELECT`+waitlistColumns+`
		FROM waitlist_entries
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WaitlistEntry{}, domain.ErrWaitlistEntryNotFound
		}
		return domain.WaitlistEntry{}, fmt.Errorf("select waitlist entry: %w", err)
	}

	return entry, nil
}

func (r *waitlistRepository) ListActive(campaignID, ticketType string) ([]domain.WaitlistEntry, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT`+waitlistColumns+`
		FROM waitlist_entries
		WHERE campaign_id = $1
		  AND ticket_type = $2
		  AND status = 'active'
		ORDER BY priority DESC, created_at ASC, id ASC
	`, campaignID, ticketType)
	if err != nil {
		return nil, fmt.Errorf("list active waitlist entries: %w", err)
	}
	defer rows.Close()

	return collectWaitlistEntries(rows)
}

func (r *waitlistRepository) ListNotifiedExpired(before time.Time, limit int) ([]domain.WaitlistEntry, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT`+waitlistColumns+`
		FROM waitlist_entries
		WHERE status = 'notified'
		  AND notify_expires_at < $1
		ORDER BY notify_expires_at, id
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list lapsed waitlist entries: %w", err)
	}
	defer rows.Close()

	return collectWaitlistEntries(rows)
}

func (r *waitlistRepository) Save(entry domain.WaitlistEntry) error {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE waitlist_entries
		SET status = $1,
		    notify_expires_at = $2,
		    priority = $3,
		    updated_at = $4
		WHERE id = $5
	`, string(entry.Status), entry.NotifyExpiresAt, entry.Priority, time.Now().UTC(), entry.ID)
	if err != nil {
		return fmt.Errorf("update waitlist entry: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrWaitlistEntryNotFound
	}

	return nil
}

func collectWaitlistEntries(rows *sql.Rows) ([]domain.WaitlistEntry, error) {
	entries := make([]domain.WaitlistEntry, 0)
	for rows.Next() {
		entry, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan waitlist entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate waitlist entries: %w", err)
	}
	return entries, nil
}

func scanWaitlistEntry(row rowScanner) (domain.WaitlistEntry, error) {
	var (
		entry  domain.WaitlistEntry
		status string
	)
	if err := row.Scan(
		&entry.ID, &entry.CampaignID, &entry.TicketType, &entry.CustomerID,
		&entry.Quantity, &entry.Priority, &status, &entry.NotifyExpiresAt,
		&entry.CreatedAt, &entry.UpdatedAt,
	); err != nil {
		return domain.WaitlistEntry{}, err
	}
	entry.Status = domain.WaitlistStatus(status)
	return entry, nil
}
