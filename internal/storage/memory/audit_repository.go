package memory

import (
	"sort"

	"github.com/tickethub/tms/internal/domain"
)

// auditRepository хранит записи аудита в памяти (для разработки/тестов).
type auditRepository struct {
	st *state
}

func auditKey(entity, entityID string) string {
	return entity + "|" + entityID
}

// Append добавляет запись аудита.
func (r *auditRepository) Append(record domain.AuditRecord) error {
	key := auditKey(record.Entity, record.EntityID)
	r.st.audit[key] = append(r.st.audit[key], record)

	sort.Slice(r.st.audit[key], func(i, j int) bool {
		return r.st.audit[key][i].Occurred.Before(r.st.audit[key][j].Occurred)
	})

	return nil
}

// List возвращает записи аудита сущности в хронологическом порядке.
func (r *auditRepository) List(entity, entityID string) ([]domain.AuditRecord, error) {
	records := r.st.audit[auditKey(entity, entityID)]
	result := make([]domain.AuditRecord, len(records))
	copy(result, records)
	return result, nil
}

var _ domain.AuditRepository = (*auditRepository)(nil)
