package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Freeeeeet/capacity_scheduler/internal/model"
	"go.uber.org/zap"
)

type ChannelWriter interface {
	UpsertChannel(ctx context.Context, ch *model.Channel) error
}

type SlotWriter interface {
	CreateSlot(ctx context.Context, slot *model.TimeSlot) error
}

// CatalogSeed каналы и слоты, которые нужно завести при старте
type CatalogSeed struct {
	Channels  []model.Channel
	CatalogID string
	Slots     []string
}

func (s CatalogSeed) Empty() bool {
	return len(s.Channels) == 0 && len(s.Slots) == 0
}

// ParseChannelSeed разбирает строку вида "email:100,sms:50"
func ParseChannelSeed(raw string) ([]model.Channel, error) {
	var channels []model.Channel
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		id, limit, ok := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("channel seed %q: expected id:capacity", part)
		}

		maxCapacity, err := strconv.ParseFloat(strings.TrimSpace(limit), 64)
		if err != nil || maxCapacity < 0 {
			return nil, fmt.Errorf("channel seed %q: invalid capacity", part)
		}

		channels = append(channels, model.Channel{
			ID:          id,
			Name:        id,
			IsActive:    true,
			MaxCapacity: maxCapacity,
		})
	}
	return channels, nil
}

// SeedCatalog идемпотентно заводит каналы и слоты каталога
func SeedCatalog(ctx context.Context, channels ChannelWriter, slots SlotWriter, seed CatalogSeed, logger *zap.Logger) error {
	for i := range seed.Channels {
		if err := channels.UpsertChannel(ctx, &seed.Channels[i]); err != nil {
			return fmt.Errorf("seed channel %s: %w", seed.Channels[i].ID, err)
		}
	}

	for _, name := range seed.Slots {
		if !model.ValidSlot(name) {
			return fmt.Errorf("seed slot %q: expected HH:MM", name)
		}
		slot := &model.TimeSlot{CatalogID: seed.CatalogID, Name: model.SlotKey(name), IsActive: true}
		if err := slots.CreateSlot(ctx, slot); err != nil {
			return fmt.Errorf("seed slot %s: %w", name, err)
		}
	}

	logger.Info("Catalog seeded",
		zap.Int("channels", len(seed.Channels)),
		zap.String("catalog_id", seed.CatalogID),
		zap.Int("slots", len(seed.Slots)))
	return nil
}
