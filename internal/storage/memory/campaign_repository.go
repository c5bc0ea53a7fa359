package memory

import (
	"github.com/tickethub/tms/internal/domain"
)

// campaignRepository — in-memory реализация CampaignRepository,
// привязанная к транзакции Store.
type campaignRepository struct {
	st *state
}

// Create сохраняет новую кампанию, если ID ещё не занят.
func (r *campaignRepository) Create(campaign domain.Campaign) error {
	if _, exists := r.st.campaigns[campaign.ID]; exists {
		return domain.ErrAlreadyExists
	}
	r.st.campaigns[campaign.ID] = cloneCampaign(campaign)
	return nil
}

// Get возвращает копию кампании или ErrCampaignNotFound.
func (r *campaignRepository) Get(id string) (domain.Campaign, error) {
	campaign, ok := r.st.campaigns[id]
	if !ok {
		return domain.Campaign{}, domain.ErrCampaignNotFound
	}
	return cloneCampaign(campaign), nil
}

// Save перезаписывает кампанию, проверяя версию (optimistic locking).
func (r *campaignRepository) Save(campaign domain.Campaign) error {
	current, ok := r.st.campaigns[campaign.ID]
	if !ok {
		return domain.ErrCampaignNotFound
	}
	if current.Version != campaign.Version {
		return domain.ErrVersionConflict
	}
	campaign.Version++
	r.st.campaigns[campaign.ID] = cloneCampaign(campaign)
	return nil
}

var _ domain.CampaignRepository = (*campaignRepository)(nil)
