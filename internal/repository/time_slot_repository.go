package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/capacity_scheduler/internal/model"
	"github.com/Freeeeeet/capacity_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TimeSlotRepository каталог слотов времени по доскам
type TimeSlotRepository struct {
	*base.Repository
}

func NewTimeSlotRepository(pool *pgxpool.Pool) *TimeSlotRepository {
	return &TimeSlotRepository{Repository: base.NewRepository(pool)}
}

// ActiveSlots активные слоты каталога, отсортированные по имени
func (r *TimeSlotRepository) ActiveSlots(ctx context.Context, catalogID string) ([]*model.TimeSlot, error) {
	query := `
		SELECT id, catalog_id, name, is_active
		FROM time_slots
		WHERE catalog_id = $1 AND is_active = TRUE
		ORDER BY name ASC
	`

	rows, err := r.Query(ctx, query, catalogID)
	if err != nil {
		return nil, fmt.Errorf("get active slots: %w", err)
	}
	defer rows.Close()

	var slots []*model.TimeSlot
	for rows.Next() {
		var slot model.TimeSlot
		if err := rows.Scan(&slot.ID, &slot.CatalogID, &slot.Name, &slot.IsActive); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, &slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get active slots: %w", err)
	}

	return slots, nil
}

// CreateSlot добавляет слот в каталог, существующий слот только меняет is_active
func (r *TimeSlotRepository) CreateSlot(ctx context.Context, slot *model.TimeSlot) error {
	query := `
		INSERT INTO time_slots (catalog_id, name, is_active)
		VALUES ($1, $2, $3)
		ON CONFLICT (catalog_id, name) DO UPDATE SET is_active = EXCLUDED.is_active
		RETURNING id
	`

	if err := r.QueryRow(ctx, query, slot.CatalogID, model.SlotKey(slot.Name), slot.IsActive).Scan(&slot.ID); err != nil {
		return fmt.Errorf("create time slot: %w", err)
	}
	return nil
}
