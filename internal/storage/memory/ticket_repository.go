package memory

import (
	"github.com/tickethub/tms/internal/domain"
)

// ticketRepository — in-memory реализация TicketRepository.
type ticketRepository struct {
	st *state
}

// Create добавляет выпущенный билет.
func (r *ticketRepository) Create(ticket domain.Ticket) error {
	r.st.tickets[ticket.BookingID] = append(r.st.tickets[ticket.BookingID], ticket)
	return nil
}

// ListByBooking возвращает билеты бронирования в порядке выпуска.
func (r *ticketRepository) ListByBooking(bookingID string) ([]domain.Ticket, error) {
	tickets := r.st.tickets[bookingID]
	result := make([]domain.Ticket, len(tickets))
	copy(result, tickets)
	return result, nil
}

var _ domain.TicketRepository = (*ticketRepository)(nil)
