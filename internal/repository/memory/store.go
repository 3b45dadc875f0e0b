// Package memory хранит леджер и каталоги в памяти процесса.
// Используется в режиме STORAGE=memory и в тестах.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Freeeeeet/capacity_scheduler/internal/capacity"
	"github.com/Freeeeeet/capacity_scheduler/internal/model"
	"github.com/google/uuid"
)

// Store потокобезопасный in-memory леджер с каталогами каналов и слотов
type Store struct {
	mu           sync.RWMutex
	reservations map[uuid.UUID]model.Reservation
	channels     map[string]model.Channel
	slots        map[string][]model.TimeSlot
	nextSlotID   int64
	now          func() time.Time
}

func NewStore() *Store {
	return &Store{
		reservations: make(map[uuid.UUID]model.Reservation),
		channels:     make(map[string]model.Channel),
		slots:        make(map[string][]model.TimeSlot),
		now:          time.Now,
	}
}

// PutChannel добавляет или заменяет канал
func (s *Store) PutChannel(ch model.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ID] = ch
}

// PutSlots добавляет активные слоты в каталог
func (s *Store) PutSlots(catalogID string, names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		s.nextSlotID++
		s.slots[catalogID] = append(s.slots[catalogID], model.TimeSlot{
			ID:        s.nextSlotID,
			CatalogID: catalogID,
			Name:      model.SlotKey(name),
			IsActive:  true,
		})
	}
}

// DeactivateSlot помечает слот каталога неактивным
func (s *Store) DeactivateSlot(catalogID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.slots[catalogID] {
		if s.slots[catalogID][i].Name == model.SlotKey(name) {
			s.slots[catalogID][i].IsActive = false
		}
	}
}

// UpsertChannel контекстный вариант PutChannel для начального заполнения каталога
func (s *Store) UpsertChannel(_ context.Context, ch *model.Channel) error {
	s.PutChannel(*ch)
	return nil
}

// CreateSlot добавляет слот, если его ещё нет в каталоге; повторный вызов активирует слот
func (s *Store) CreateSlot(_ context.Context, slot *model.TimeSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := model.SlotKey(slot.Name)
	for i := range s.slots[slot.CatalogID] {
		existing := &s.slots[slot.CatalogID][i]
		if existing.Name == name {
			existing.IsActive = slot.IsActive
			slot.ID = existing.ID
			return nil
		}
	}

	s.nextSlotID++
	slot.ID = s.nextSlotID
	s.slots[slot.CatalogID] = append(s.slots[slot.CatalogID], model.TimeSlot{
		ID:        slot.ID,
		CatalogID: slot.CatalogID,
		Name:      name,
		IsActive:  slot.IsActive,
	})
	return nil
}

// GetChannel реализует capacity.ChannelCatalog
func (s *Store) GetChannel(_ context.Context, channelID string) (*model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return nil, nil
	}
	return &ch, nil
}

// ActiveSlots реализует capacity.SlotCatalog
func (s *Store) ActiveSlots(_ context.Context, catalogID string) ([]*model.TimeSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var slots []*model.TimeSlot
	for _, slot := range s.slots[catalogID] {
		if !slot.IsActive {
			continue
		}
		slot := slot
		slots = append(slots, &slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Name < slots[j].Name })
	return slots, nil
}

// Create сохраняет запись
func (s *Store) Create(_ context.Context, res *model.Reservation) error {
	if res.Quantity <= 0 {
		return fmt.Errorf("create reservation: quantity must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	if _, exists := s.reservations[res.ID]; exists {
		return fmt.Errorf("create reservation: duplicate id %s", res.ID)
	}

	now := s.now()
	res.Date = model.AnchorDate(res.Date)
	res.Slot = model.SlotKey(res.Slot)
	res.CreatedAt = now
	res.UpdatedAt = now
	s.reservations[res.ID] = *res
	return nil
}

// Update перезаписывает запись
func (s *Store) Update(_ context.Context, res *model.Reservation) error {
	if res.Quantity <= 0 {
		return fmt.Errorf("update reservation: quantity must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.reservations[res.ID]
	if !ok {
		return fmt.Errorf("update reservation %s: %w", res.ID, capacity.ErrNotFound)
	}

	res.Date = model.AnchorDate(res.Date)
	res.Slot = model.SlotKey(res.Slot)
	res.CreatedAt = existing.CreatedAt
	res.UpdatedAt = s.now()
	s.reservations[res.ID] = *res
	return nil
}

// GetByID возвращает копию записи или nil
func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.reservations[id]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

// Delete удаляет запись по ID
func (s *Store) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reservations[id]; !ok {
		return false, nil
	}
	delete(s.reservations, id)
	return true, nil
}

// DeleteByChannelDateSlot удаляет все записи тройки, опционально одной области
func (s *Store) DeleteByChannelDateSlot(_ context.Context, channelID string, date time.Time, slot, requesterArea string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := model.DateKey(date)
	var removed int64
	for id, res := range s.reservations {
		if res.ChannelID != channelID || model.DateKey(res.Date) != day || !res.SameSlot(slot) {
			continue
		}
		if requesterArea != "" && res.RequesterArea != requesterArea {
			continue
		}
		delete(s.reservations, id)
		removed++
	}
	return removed, nil
}

// SumCounted реализует capacity.Ledger
func (s *Store) SumCounted(_ context.Context, channelID string, date time.Time, slot, requesterArea string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := model.DateKey(date)
	var total float64
	for _, res := range s.reservations {
		if res.ChannelID != channelID || model.DateKey(res.Date) != day || !res.SameSlot(slot) {
			continue
		}
		if res.CountsFor(requesterArea) {
			total += res.Quantity
		}
	}
	return total, nil
}

// ListByChannelDate реализует capacity.Ledger
func (s *Store) ListByChannelDate(_ context.Context, channelID string, date time.Time) ([]*model.Reservation, error) {
	day := model.DateKey(date)
	return s.filter(func(r model.Reservation) bool {
		return r.ChannelID == channelID && model.DateKey(r.Date) == day
	}), nil
}

func (s *Store) GetByChannel(_ context.Context, channelID string) ([]*model.Reservation, error) {
	return s.filter(func(r model.Reservation) bool { return r.ChannelID == channelID }), nil
}

func (s *Store) GetByDate(_ context.Context, date time.Time) ([]*model.Reservation, error) {
	day := model.DateKey(date)
	return s.filter(func(r model.Reservation) bool { return model.DateKey(r.Date) == day }), nil
}

func (s *Store) GetByOwner(_ context.Context, ownerUserID string) ([]*model.Reservation, error) {
	return s.filter(func(r model.Reservation) bool {
		return r.OwnerUserID != nil && *r.OwnerUserID == ownerUserID
	}), nil
}

func (s *Store) GetByOwnerAndArea(_ context.Context, ownerUserID, requesterArea string) ([]*model.Reservation, error) {
	return s.filter(func(r model.Reservation) bool {
		return r.OwnerUserID != nil && *r.OwnerUserID == ownerUserID && r.RequesterArea == requesterArea
	}), nil
}

func (s *Store) GetAll(_ context.Context) ([]*model.Reservation, error) {
	return s.filter(func(model.Reservation) bool { return true }), nil
}

// filter возвращает копии подходящих записей, упорядоченные по (date, slot)
func (s *Store) filter(match func(model.Reservation) bool) []*model.Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Reservation
	for _, res := range s.reservations {
		if match(res) {
			res := res
			out = append(out, &res)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Slot != out[j].Slot {
			return out[i].Slot < out[j].Slot
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
