package domain

import "time"

// AuditRecord — структурированная запись аудита. Каждое изменение состояния
// (бронирование, отмена, подтверждение, вывод средств) добавляет запись.
type AuditRecord struct {
	ActorID  string
	Action   string
	Entity   string
	EntityID string
	Metadata map[string]any
	Occurred time.Time
}
