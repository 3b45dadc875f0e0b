package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/capacity_scheduler/internal/capacity"
	"github.com/Freeeeeet/capacity_scheduler/internal/lock"
	"github.com/Freeeeeet/capacity_scheduler/internal/metrics"
	"github.com/Freeeeeet/capacity_scheduler/internal/model"
	"github.com/Freeeeeet/capacity_scheduler/internal/repository/base"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReservationStore хранилище леджера (Postgres или память)
type ReservationStore interface {
	capacity.Ledger
	Create(ctx context.Context, res *model.Reservation) error
	Update(ctx context.Context, res *model.Reservation) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Reservation, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteByChannelDateSlot(ctx context.Context, channelID string, date time.Time, slot, requesterArea string) (int64, error)
	GetByChannel(ctx context.Context, channelID string) ([]*model.Reservation, error)
	GetByDate(ctx context.Context, date time.Time) ([]*model.Reservation, error)
	GetByOwner(ctx context.Context, ownerUserID string) ([]*model.Reservation, error)
	GetByOwnerAndArea(ctx context.Context, ownerUserID, requesterArea string) ([]*model.Reservation, error)
	GetAll(ctx context.Context) ([]*model.Reservation, error)
}

// CreateReservationInput входные данные одиночного резервирования
type CreateReservationInput struct {
	ChannelID     string  `json:"channel_id"`
	Date          string  `json:"date"` // DD/MM/YYYY
	Slot          string  `json:"slot"` // HH:MM
	Quantity      float64 `json:"quantity"`
	RequesterArea string  `json:"requester_area"`
	RequesterName *string `json:"requester_name,omitempty"`
	OwnerUserID   *string `json:"owner_user_id,omitempty"`
	Kind          *string `json:"kind,omitempty"` // booking | hold
}

// UpdateReservationInput частичное обновление: nil означает "не менять"
type UpdateReservationInput struct {
	ChannelID     *string  `json:"channel_id,omitempty"`
	Date          *string  `json:"date,omitempty"`
	Slot          *string  `json:"slot,omitempty"`
	Quantity      *float64 `json:"quantity,omitempty"`
	RequesterArea *string  `json:"requester_area,omitempty"`
	RequesterName *string  `json:"requester_name,omitempty"`
	OwnerUserID   *string  `json:"owner_user_id,omitempty"`
	Kind          *string  `json:"kind,omitempty"`
}

// SlotAvailability состояние одного слота канала на дату
type SlotAvailability struct {
	Slot      string  `json:"slot"`
	Split     bool    `json:"split"`
	Limit     float64 `json:"limit"`
	Used      float64 `json:"used"`
	Available float64 `json:"available"`
}

type ReservationService struct {
	store     ReservationStore
	channels  capacity.ChannelCatalog
	slots     capacity.SlotCatalog
	validator *capacity.Validator
	allocator *capacity.Allocator
	locker    lock.Locker
	logger    *zap.Logger
}

func NewReservationService(
	store ReservationStore,
	channels capacity.ChannelCatalog,
	slots capacity.SlotCatalog,
	validator *capacity.Validator,
	allocator *capacity.Allocator,
	locker lock.Locker,
	logger *zap.Logger,
) *ReservationService {
	return &ReservationService{
		store:     store,
		channels:  channels,
		slots:     slots,
		validator: validator,
		allocator: allocator,
		locker:    locker,
		logger:    logger,
	}
}

// Create проверяет форматы и ёмкость и сохраняет запись.
// Проверка и вставка выполняются под блокировкой (канал, дата, слот).
func (s *ReservationService) Create(ctx context.Context, input CreateReservationInput) (*model.Reservation, error) {
	channelID := strings.TrimSpace(input.ChannelID)
	if channelID == "" {
		return nil, capacity.NewValidationError("channel_id", "is required")
	}

	date, err := model.ParseWireDate(input.Date)
	if err != nil {
		return nil, capacity.NewValidationError("date", "must match DD/MM/YYYY")
	}

	if !model.ValidSlot(input.Slot) {
		return nil, capacity.NewValidationError("slot", "must match HH:MM")
	}
	slot := model.SlotKey(input.Slot)

	quantity := model.RoundQuantity(input.Quantity)
	if quantity <= 0 {
		return nil, capacity.NewValidationError("quantity", "must be greater than zero")
	}

	area := strings.TrimSpace(input.RequesterArea)
	if area == "" {
		return nil, capacity.NewValidationError("requester_area", "is required")
	}

	kind, err := resolveKind(input.Kind, input.OwnerUserID)
	if err != nil {
		return nil, err
	}

	res := &model.Reservation{
		ChannelID:     channelID,
		Date:          date,
		Slot:          slot,
		Quantity:      quantity,
		RequesterArea: area,
		RequesterName: input.RequesterName,
		Kind:          kind,
		OwnerUserID:   nonEmpty(input.OwnerUserID),
	}

	unlock, err := s.locker.Lock(ctx, lock.SlotKey(channelID, date, slot))
	if err != nil {
		return nil, fmt.Errorf("lock slot: %w", err)
	}
	defer unlock()

	if _, err := s.validator.Validate(ctx, capacity.AdmissionRequest{
		ChannelID:     channelID,
		Date:          date,
		Slot:          slot,
		Quantity:      quantity,
		RequesterArea: area,
	}); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, res); err != nil {
		return nil, mapStoreError(err)
	}
	metrics.LedgerWrites.WithLabelValues("create").Inc()

	s.logger.Info("Reservation created",
		zap.String("reservation_id", res.ID.String()),
		zap.String("channel_id", res.ChannelID),
		zap.String("date", model.FormatWireDate(res.Date)),
		zap.String("slot", res.Slot),
		zap.Float64("quantity", res.Quantity),
		zap.String("requester_area", res.RequesterArea),
		zap.String("kind", string(res.Kind)),
	)

	return res, nil
}

// Update применяет переданные поля. Ёмкость проверяется для итоговой записи,
// без учёта её собственного прежнего количества.
func (s *ReservationService) Update(ctx context.Context, id uuid.UUID, input UpdateReservationInput) (*model.Reservation, error) {
	existing, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	if existing == nil {
		return nil, capacity.ErrNotFound
	}

	updated := *existing

	if input.ChannelID != nil {
		channelID := strings.TrimSpace(*input.ChannelID)
		if channelID == "" {
			return nil, capacity.NewValidationError("channel_id", "must not be empty")
		}
		updated.ChannelID = channelID
	}
	if input.Date != nil {
		date, err := model.ParseWireDate(*input.Date)
		if err != nil {
			return nil, capacity.NewValidationError("date", "must match DD/MM/YYYY")
		}
		updated.Date = date
	}
	if input.Slot != nil {
		if !model.ValidSlot(*input.Slot) {
			return nil, capacity.NewValidationError("slot", "must match HH:MM")
		}
		updated.Slot = model.SlotKey(*input.Slot)
	}
	if input.Quantity != nil {
		quantity := model.RoundQuantity(*input.Quantity)
		if quantity <= 0 {
			return nil, capacity.NewValidationError("quantity", "must be greater than zero")
		}
		updated.Quantity = quantity
	}
	if input.RequesterArea != nil {
		area := strings.TrimSpace(*input.RequesterArea)
		if area == "" {
			return nil, capacity.NewValidationError("requester_area", "must not be empty")
		}
		updated.RequesterArea = area
	}
	if input.RequesterName != nil {
		updated.RequesterName = input.RequesterName
	}
	if input.OwnerUserID != nil {
		updated.OwnerUserID = nonEmpty(input.OwnerUserID)
	}
	if input.Kind != nil {
		kind, ok := model.ParseReservationKind(*input.Kind)
		if !ok {
			return nil, capacity.NewValidationError("kind", "must be booking or hold")
		}
		updated.Kind = kind
	}

	unlock, err := s.locker.Lock(ctx, lock.SlotKey(updated.ChannelID, updated.Date, updated.Slot))
	if err != nil {
		return nil, fmt.Errorf("lock slot: %w", err)
	}
	defer unlock()

	if _, err := s.validator.Validate(ctx, capacity.AdmissionRequest{
		ChannelID:     updated.ChannelID,
		Date:          updated.Date,
		Slot:          updated.Slot,
		Quantity:      updated.Quantity,
		RequesterArea: updated.RequesterArea,
		ExcludeID:     id,
	}); err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, &updated); err != nil {
		return nil, mapStoreError(err)
	}
	metrics.LedgerWrites.WithLabelValues("update").Inc()

	s.logger.Info("Reservation updated",
		zap.String("reservation_id", id.String()),
		zap.String("channel_id", updated.ChannelID),
		zap.String("date", model.FormatWireDate(updated.Date)),
		zap.String("slot", updated.Slot),
		zap.Float64("quantity", updated.Quantity),
	)

	return &updated, nil
}

// Delete удаляет запись, возвращает была ли она удалена
func (s *ReservationService) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete reservation: %w", err)
	}
	if deleted {
		metrics.LedgerWrites.WithLabelValues("delete").Inc()
		s.logger.Info("Reservation deleted", zap.String("reservation_id", id.String()))
	}
	return deleted, nil
}

// DeleteByChannelDateSlot освобождает слот перед переназначением плана
func (s *ReservationService) DeleteByChannelDateSlot(ctx context.Context, channelID, dateStr, slot, requesterArea string) (int64, error) {
	if strings.TrimSpace(channelID) == "" {
		return 0, capacity.NewValidationError("channel_id", "is required")
	}
	date, err := model.ParseFlexibleDate(dateStr)
	if err != nil {
		return 0, capacity.NewValidationError("date", "must match DD/MM/YYYY or YYYY-MM-DD")
	}
	if !model.ValidSlot(slot) {
		return 0, capacity.NewValidationError("slot", "must match HH:MM")
	}

	unlock, err := s.locker.Lock(ctx, lock.SlotKey(channelID, date, slot))
	if err != nil {
		return 0, fmt.Errorf("lock slot: %w", err)
	}
	defer unlock()

	removed, err := s.store.DeleteByChannelDateSlot(ctx, channelID, date, model.SlotKey(slot), strings.TrimSpace(requesterArea))
	if err != nil {
		return 0, fmt.Errorf("release slot: %w", err)
	}
	metrics.LedgerWrites.WithLabelValues("release").Add(float64(removed))

	s.logger.Info("Slot released",
		zap.String("channel_id", channelID),
		zap.String("date", model.FormatWireDate(date)),
		zap.String("slot", model.SlotKey(slot)),
		zap.String("requester_area", requesterArea),
		zap.Int64("removed", removed),
	)

	return removed, nil
}

// FindByID получает запись по ID
func (s *ReservationService) FindByID(ctx context.Context, id uuid.UUID) (*model.Reservation, error) {
	res, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	if res == nil {
		return nil, capacity.ErrNotFound
	}
	return res, nil
}

func (s *ReservationService) FindByChannel(ctx context.Context, channelID string) ([]*model.Reservation, error) {
	return s.store.GetByChannel(ctx, channelID)
}

// FindByDate принимает дату в формате DD/MM/YYYY или YYYY-MM-DD
func (s *ReservationService) FindByDate(ctx context.Context, dateStr string) ([]*model.Reservation, error) {
	date, err := model.ParseFlexibleDate(dateStr)
	if err != nil {
		return nil, capacity.NewValidationError("date", "must match DD/MM/YYYY or YYYY-MM-DD")
	}
	return s.store.GetByDate(ctx, date)
}

func (s *ReservationService) FindByOwner(ctx context.Context, ownerUserID string) ([]*model.Reservation, error) {
	return s.store.GetByOwner(ctx, ownerUserID)
}

func (s *ReservationService) FindByOwnerAndArea(ctx context.Context, ownerUserID, requesterArea string) ([]*model.Reservation, error) {
	return s.store.GetByOwnerAndArea(ctx, ownerUserID, requesterArea)
}

func (s *ReservationService) FindAll(ctx context.Context) ([]*model.Reservation, error) {
	return s.store.GetAll(ctx)
}

// SumCounted занятая ёмкость слота с точки зрения области
func (s *ReservationService) SumCounted(ctx context.Context, channelID, dateStr, slot, requesterArea string) (float64, error) {
	date, err := model.ParseFlexibleDate(dateStr)
	if err != nil {
		return 0, capacity.NewValidationError("date", "must match DD/MM/YYYY or YYYY-MM-DD")
	}
	if !model.ValidSlot(slot) {
		return 0, capacity.NewValidationError("slot", "must match HH:MM")
	}
	return s.store.SumCounted(ctx, channelID, date, model.SlotKey(slot), requesterArea)
}

// Availability ёмкость каждого активного слота каталога для канала на дату
func (s *ReservationService) Availability(ctx context.Context, channelID, dateStr, catalogID, requesterArea string) ([]SlotAvailability, error) {
	date, err := model.ParseFlexibleDate(dateStr)
	if err != nil {
		return nil, capacity.NewValidationError("date", "must match DD/MM/YYYY or YYYY-MM-DD")
	}

	channel, err := s.channels.GetChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	if channel == nil || !channel.IsActive {
		return nil, fmt.Errorf("%w: %s", capacity.ErrChannelUnavailable, channelID)
	}

	slots, err := s.slots.ActiveSlots(ctx, catalogID)
	if err != nil {
		return nil, fmt.Errorf("load slot catalog: %w", err)
	}

	split := s.validator.SplitRule()
	out := make([]SlotAvailability, 0, len(slots))
	for _, slot := range slots {
		name := model.SlotKey(slot.Name)
		used, err := s.store.SumCounted(ctx, channelID, date, name, requesterArea)
		if err != nil {
			return nil, fmt.Errorf("sum counted: %w", err)
		}
		used = model.RoundQuantity(used)
		limit := split.EffectiveCapacity(channel.MaxCapacity, name)
		available := model.RoundQuantity(limit - used)
		if available < 0 {
			available = 0
		}
		out = append(out, SlotAvailability{
			Slot:      name,
			Split:     split.IsSplit(name),
			Limit:     limit,
			Used:      used,
			Available: available,
		})
	}

	return out, nil
}

func resolveKind(explicit, ownerUserID *string) (model.ReservationKind, error) {
	if explicit != nil && strings.TrimSpace(*explicit) != "" {
		kind, ok := model.ParseReservationKind(*explicit)
		if !ok {
			return "", capacity.NewValidationError("kind", "must be booking or hold")
		}
		return kind, nil
	}
	if nonEmpty(ownerUserID) != nil {
		return model.ReservationKindBooking, nil
	}
	return model.ReservationKindHold, nil
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// mapStoreError переводит нарушение CHECK-ограничения в ошибку валидации
func mapStoreError(err error) error {
	if base.IsCheckViolation(err) {
		return capacity.NewValidationError("reservation", "violates ledger constraints")
	}
	if errors.Is(err, capacity.ErrNotFound) {
		return err
	}
	return fmt.Errorf("save reservation: %w", err)
}
