package postgres

import (
	"context"
	"fmt"

	"github.com/tickethub/tms/internal/domain"
)

// ticketRepository — PostgreSQL-реализация TicketRepository.
type ticketRepository struct {
	ctx context.Context
	q   querier
}

var _ domain.TicketRepository = (*ticketRepository)(nil)

func (r *ticketRepository) Create(ticket domain.Ticket) error {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO tickets (
			id, booking_id, campaign_id, customer_id, ticket_type,
			quantity, scan_key, max_scans, scan_count, issued_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		ticket.ID, ticket.BookingID, ticket.CampaignID, ticket.CustomerID,
		ticket.TicketType, ticket.Quantity, ticket.ScanKey,
		ticket.MaxScans, ticket.ScanCount, ticket.IssuedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert ticket: %w", err)
	}

	return nil
}

func (r *ticketRepository) ListByBooking(bookingID string) ([]domain.Ticket, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, booking_id, campaign_id, customer_id, ticket_type,
		       quantity, scan_key, max_scans, scan_count, issued_at
		FROM tickets
		WHERE booking_id = $1
		ORDER BY issued_at, id
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list tickets by booking: %w", err)
	}
	defer rows.Close()

	tickets := make([]domain.Ticket, 0)
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID, &ticket.BookingID, &ticket.CampaignID, &ticket.CustomerID,
			&ticket.TicketType, &ticket.Quantity, &ticket.ScanKey,
			&ticket.MaxScans, &ticket.ScanCount, &ticket.IssuedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ticket row: %w", err)
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticket rows: %w", err)
	}

	return tickets, nil
}
