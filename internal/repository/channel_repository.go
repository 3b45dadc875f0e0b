package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/capacity_scheduler/internal/model"
	"github.com/Freeeeeet/capacity_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChannelRepository каталог каналов
type ChannelRepository struct {
	*base.Repository
}

func NewChannelRepository(pool *pgxpool.Pool) *ChannelRepository {
	return &ChannelRepository{Repository: base.NewRepository(pool)}
}

// GetChannel получает канал по ID, nil если не найден
func (r *ChannelRepository) GetChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	query := `
		SELECT id, name, is_active, max_capacity::float8
		FROM channels
		WHERE id = $1
	`

	var ch model.Channel
	err := r.QueryRow(ctx, query, channelID).Scan(
		&ch.ID,
		&ch.Name,
		&ch.IsActive,
		&ch.MaxCapacity,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}

	return &ch, nil
}

// UpsertChannel создаёт или обновляет канал
func (r *ChannelRepository) UpsertChannel(ctx context.Context, ch *model.Channel) error {
	query := `
		INSERT INTO channels (id, name, is_active, max_capacity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, is_active = EXCLUDED.is_active, max_capacity = EXCLUDED.max_capacity
	`

	if _, err := r.ExecAffected(ctx, query, ch.ID, ch.Name, ch.IsActive, ch.MaxCapacity); err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	return nil
}
