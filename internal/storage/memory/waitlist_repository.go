package memory

import (
	"sort"
	"time"

	"github.com/tickethub/tms/internal/domain"
)

// waitlistRepository — in-memory реализация WaitlistRepository.
type waitlistRepository struct {
	st *state
}

// Add сохраняет новую запись листа ожидания.
func (r *waitlistRepository) Add(entry domain.WaitlistEntry) error {
	if _, exists := r.st.waitlist[entry.ID]; exists {
		return domain.ErrAlreadyExists
	}
	r.st.waitlist[entry.ID] = entry
	return nil
}

// Get возвращает запись или ErrWaitlistEntryNotFound.
func (r *waitlistRepository) Get(id string) (domain.WaitlistEntry, error) {
	entry, ok := r.st.waitlist[id]
	if !ok {
		return domain.WaitlistEntry{}, domain.ErrWaitlistEntryNotFound
	}
	return entry, nil
}

// ListActive возвращает ACTIVE-записи среза инвентаря в порядке
// priority desc, created asc — порядке обслуживания переброски.
func (r *waitlistRepository) ListActive(campaignID, ticketType string) ([]domain.WaitlistEntry, error) {
	result := make([]domain.WaitlistEntry, 0)
	for _, entry := range r.st.waitlist {
		if entry.CampaignID == campaignID && entry.TicketType == ticketType && entry.Status == domain.WaitlistStatusActive {
			result = append(result, entry)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority > result[j].Priority
		}
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// ListNotifiedExpired возвращает NOTIFIED-записи с окном, истёкшим до before.
func (r *waitlistRepository) ListNotifiedExpired(before time.Time, limit int) ([]domain.WaitlistEntry, error) {
	result := make([]domain.WaitlistEntry, 0)
	for _, entry := range r.st.waitlist {
		if entry.Status == domain.WaitlistStatusNotified && !entry.NotifyExpiresAt.IsZero() && entry.NotifyExpiresAt.Before(before) {
			result = append(result, entry)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].NotifyExpiresAt.Before(result[j].NotifyExpiresAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Save перезаписывает запись листа ожидания.
func (r *waitlistRepository) Save(entry domain.WaitlistEntry) error {
	if _, ok := r.st.waitlist[entry.ID]; !ok {
		return domain.ErrWaitlistEntryNotFound
	}
	r.st.waitlist[entry.ID] = entry
	return nil
}

var _ domain.WaitlistRepository = (*waitlistRepository)(nil)
