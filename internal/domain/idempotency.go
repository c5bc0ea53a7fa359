package domain

import "time"

// IdempotencyStatus описывает жизненный цикл отметки об обработке события.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что событие принято и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что событие обработано успешно.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed означает, что обработка завершилась ошибкой.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord фиксирует факт обработки события consumer-ом.
// Брокер доставляет как минимум один раз, поэтому повтор с тем же
// идентификатором должен быть распознан и пропущен.
type IdempotencyRecord struct {
	// Key — идентификатор события (envelope ID).
	Key string
	// Consumer — логическое имя обработчика, поставившего отметку.
	Consumer  string
	Status    IdempotencyStatus
	LastError string
	// TTLAt — момент, после которого запись может быть удалена воркером очистки.
	TTLAt     time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// IdempotencyRepository хранит отметки об обработанных событиях.
// В отличие от репозиториев Tx живёт вне транзакции хранилища: дедупликация
// нужна до открытия транзакции, а потеря отметки безопасна, потому что
// сами переходы статусов идемпотентны.
type IdempotencyRepository interface {
	// Begin атомарно создаёт processing-запись. Если запись уже существует,
	// возвращает её вместе с ErrIdempotencyKeyAlreadyExists.
	Begin(key, consumer string, ttlAt time.Time) (IdempotencyRecord, error)
	// Get возвращает запись или ErrIdempotencyKeyNotFound.
	Get(key string) (IdempotencyRecord, error)
	// MarkDone помечает событие успешно обработанным.
	MarkDone(key string) error
	// MarkFailed сохраняет текст последней ошибки обработки.
	MarkFailed(key string, lastError string) error
	// DeleteExpired удаляет до limit записей с ttl <= before.
	DeleteExpired(before time.Time, limit int) (int, error)
}
