// Package capacity реализует контроль допуска и распределение спроса
// по слотам времени для каналов с ограниченной дневной ёмкостью.
package capacity

import (
	"context"
	"time"

	"github.com/Freeeeeet/capacity_scheduler/internal/model"
)

// DefaultSplitSlots первые два слота рабочего дня делят один физический лимит
var DefaultSplitSlots = [2]string{"08:00", "08:30"}

// ChannelCatalog источник каналов. Для отсутствующего канала возвращает nil, nil.
type ChannelCatalog interface {
	GetChannel(ctx context.Context, channelID string) (*model.Channel, error)
}

// SlotCatalog источник активных слотов, отсортированных по имени
type SlotCatalog interface {
	ActiveSlots(ctx context.Context, catalogID string) ([]*model.TimeSlot, error)
}

// Ledger чтение леджера, нужное валидатору и аллокатору
type Ledger interface {
	ListByChannelDate(ctx context.Context, channelID string, date time.Time) ([]*model.Reservation, error)
	SumCounted(ctx context.Context, channelID string, date time.Time, slot, requesterArea string) (float64, error)
}

// SplitRule правило "разделённых" слотов
type SplitRule struct {
	slots map[string]struct{}
}

// NewSplitRule создаёт правило для перечисленных слотов
func NewSplitRule(slots ...string) SplitRule {
	rule := SplitRule{slots: make(map[string]struct{}, len(slots))}
	for _, s := range slots {
		if s == "" {
			continue
		}
		rule.slots[model.SlotKey(s)] = struct{}{}
	}
	return rule
}

// DefaultSplitRule правило со слотами 08:00 и 08:30
func DefaultSplitRule() SplitRule {
	return NewSplitRule(DefaultSplitSlots[:]...)
}

// IsSplit сообщает, делит ли слот лимит с соседним
func (r SplitRule) IsSplit(slot string) bool {
	_, ok := r.slots[model.SlotKey(slot)]
	return ok
}

// EffectiveCapacity лимит слота: половина maxCapacity для разделённых слотов
func (r SplitRule) EffectiveCapacity(maxCapacity float64, slot string) float64 {
	if r.IsSplit(slot) {
		return maxCapacity / 2
	}
	return maxCapacity
}
