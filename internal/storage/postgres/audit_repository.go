package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tickethub/tms/internal/domain"
)

// auditRepository — PostgreSQL-реализация AuditRepository.
// Журнал только растёт: записи не обновляются и не удаляются.
type auditRepository struct {
	ctx context.Context
	q   querier
}

var _ domain.AuditRepository = (*auditRepository)(nil)

func (r *auditRepository) Append(record domain.AuditRecord) error {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	if record.Occurred.IsZero() {
		record.Occurred = time.Now().UTC()
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO audit_records (actor_id, action, entity, entity_id, metadata, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, record.ActorID, record.Action, record.Entity, record.EntityID, metadata, record.Occurred)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	return nil
}

func (r *auditRepository) List(entity, entityID string) ([]domain.AuditRecord, error) {
	ctx, cancel := context.WithTimeout(r.ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT actor_id, action, entity, entity_id, metadata, occurred_at
		FROM audit_records
		WHERE entity = $1
		  AND entity_id = $2
		ORDER BY occurred_at, id
	`, entity, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.AuditRecord, 0)
	for rows.Next() {
		var (
			record   domain.AuditRecord
			metadata []byte
		)
		if err := rows.Scan(
			&record.ActorID, &record.Action, &record.Entity, &record.EntityID,
			&metadata, &record.Occurred,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}

	return records, nil
}
