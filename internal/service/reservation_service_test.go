package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/capacity_scheduler/internal/capacity"
	"github.com/Freeeeeet/capacity_scheduler/internal/lock"
	"github.com/Freeeeeet/capacity_scheduler/internal/model"
	"github.com/Freeeeeet/capacity_scheduler/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const board = "board-1"

func ptr[T any](v T) *T { return &v }

func newTestService(t *testing.T) (*ReservationService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	store.PutChannel(model.Channel{ID: "email", IsActive: true, MaxCapacity: 100})
	store.PutChannel(model.Channel{ID: "sms", IsActive: true, MaxCapacity: 200})
	store.PutChannel(model.Channel{ID: "fax", IsActive: false, MaxCapacity: 100})
	store.PutSlots(board, "08:00", "08:30", "09:00", "09:30", "10:00")

	return newServiceOver(store, store), store
}

// newServiceOver собирает сервис, у которого запись идёт через ledger, а каталоги и чтение из mem
func newServiceOver(ledger ReservationStore, mem *memory.Store) *ReservationService {
	logger := zap.NewNop()
	split := capacity.DefaultSplitRule()
	validator := capacity.NewValidator(mem, mem, split, logger)
	allocator := capacity.NewAllocator(mem, mem, mem, split, logger)

	return NewReservationService(ledger, mem, mem, validator, allocator, lock.NewMemoryLocker(), logger)
}

func booking(qty float64, slot, area string) CreateReservationInput {
	return CreateReservationInput{
		ChannelID:     "email",
		Date:          "05/03/2025",
		Slot:          slot,
		Quantity:      qty,
		RequesterArea: area,
		OwnerUserID:   ptr("user-1"),
	}
}

func TestCreate_ValidationErrors(t *testing.T) {
	svc, _ := newTestService(t)

	tests := map[string]struct {
		mutate func(*CreateReservationInput)
		field  string
	}{
		"missing channel": {mutate: func(in *CreateReservationInput) { in.ChannelID = " " }, field: "channel_id"},
		"iso date":        {mutate: func(in *CreateReservationInput) { in.Date = "2025-03-05" }, field: "date"},
		"bad slot":        {mutate: func(in *CreateReservationInput) { in.Slot = "25:00" }, field: "slot"},
		"zero quantity":   {mutate: func(in *CreateReservationInput) { in.Quantity = 0 }, field: "quantity"},
		"negative":        {mutate: func(in *CreateReservationInput) { in.Quantity = -3 }, field: "quantity"},
		"missing area":    {mutate: func(in *CreateReservationInput) { in.RequesterArea = "" }, field: "requester_area"},
		"unknown kind":    {mutate: func(in *CreateReservationInput) { in.Kind = ptr("reserva") }, field: "kind"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			in := booking(10, "10:00", "Mkt")
			tc.mutate(&in)

			_, err := svc.Create(context.Background(), in)
			var ve *capacity.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestCreate_KindResolution(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	withOwner, err := svc.Create(ctx, booking(1, "10:00", "Mkt"))
	require.NoError(t, err)
	assert.Equal(t, model.ReservationKindBooking, withOwner.Kind)

	in := booking(1, "10:00", "Mkt")
	in.OwnerUserID = nil
	withoutOwner, err := svc.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationKindHold, withoutOwner.Kind)

	in = booking(1, "10:00", "Mkt")
	in.Kind = ptr("Hold")
	explicit, err := svc.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationKindHold, explicit.Kind)

	assert.Equal(t, "05/03/2025", model.FormatWireDate(explicit.Date))
	assert.Equal(t, "10:00", explicit.Slot)
	assert.NotEqual(t, uuid.Nil, explicit.ID)
}

func TestCreate_CapacityRules(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, booking(60, "10:00", "Ops"))
	require.NoError(t, err)

	_, err = svc.Create(ctx, booking(50, "10:00", "Mkt"))
	var capErr *capacity.InsufficientCapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 40.0, capErr.Available)
	assert.Equal(t, 100.0, capErr.Limit)
	assert.Equal(t, 60.0, capErr.Used)

	_, err = svc.Create(ctx, booking(40, "10:00", "Mkt"))
	require.NoError(t, err)

	hold := booking(50, "08:00", "Mkt")
	hold.OwnerUserID = nil
	_, err = svc.Create(ctx, hold)
	require.NoError(t, err)

	_, err = svc.Create(ctx, booking(50, "08:00", "Mkt"))
	require.NoError(t, err, "same area reuses its hold on the split slot")

	_, err = svc.Create(ctx, booking(1, "08:00", "Sales"))
	assert.ErrorIs(t, err, capacity.ErrInsufficientCapacity)

	in := booking(1, "10:00", "Mkt")
	in.ChannelID = "fax"
	_, err = svc.Create(ctx, in)
	assert.ErrorIs(t, err, capacity.ErrChannelUnavailable)
}

func TestUpdate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	own, err := svc.Create(ctx, booking(60, "10:00", "Ops"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, booking(30, "09:30", "Ops"))
	require.NoError(t, err)

	t.Run("raising own quantity does not double count", func(t *testing.T) {
		updated, err := svc.Update(ctx, own.ID, UpdateReservationInput{Quantity: ptr(100.0)})
		require.NoError(t, err)
		assert.Equal(t, 100.0, updated.Quantity)
		assert.Equal(t, "10:00", updated.Slot)
	})

	t.Run("moving to a busier slot is validated there", func(t *testing.T) {
		_, err := svc.Update(ctx, own.ID, UpdateReservationInput{Slot: ptr("09:30")})
		assert.ErrorIs(t, err, capacity.ErrInsufficientCapacity)

		stored, err := svc.FindByID(ctx, own.ID)
		require.NoError(t, err)
		assert.Equal(t, "10:00", stored.Slot)
	})

	t.Run("partial fields keep the rest", func(t *testing.T) {
		updated, err := svc.Update(ctx, own.ID, UpdateReservationInput{Quantity: ptr(70.0), Slot: ptr("09:30"), RequesterName: ptr("Ops team")})
		require.NoError(t, err)
		assert.Equal(t, "email", updated.ChannelID)
		assert.Equal(t, "Ops", updated.RequesterArea)
		assert.Equal(t, "Ops team", *updated.RequesterName)
	})

	t.Run("invalid fields are rejected", func(t *testing.T) {
		_, err := svc.Update(ctx, own.ID, UpdateReservationInput{Quantity: ptr(0.0)})
		assert.True(t, capacity.IsValidation(err))

		_, err = svc.Update(ctx, own.ID, UpdateReservationInput{Date: ptr("5-3-2025")})
		assert.True(t, capacity.IsValidation(err))
	})

	t.Run("missing record", func(t *testing.T) {
		_, err := svc.Update(ctx, uuid.New(), UpdateReservationInput{Quantity: ptr(1.0)})
		assert.ErrorIs(t, err, capacity.ErrNotFound)
	})
}

func TestDeleteAndRelease(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, booking(10, "09:00", "A"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, booking(10, "09:00", "A"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, booking(10, "09:00", "B"))
	require.NoError(t, err)

	deleted, err := svc.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = svc.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	removed, err := svc.DeleteByChannelDateSlot(ctx, "email", "2025-03-05", "09:00", "A")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	used, err := svc.SumCounted(ctx, "email", "05/03/2025", "09:00", "")
	require.NoError(t, err)
	assert.Equal(t, 10.0, used)

	_, err = svc.FindByID(ctx, a.ID)
	assert.ErrorIs(t, err, capacity.ErrNotFound)
}

func TestFindProjections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	in := booking(5, "10:00", "A")
	in.Date = "06/03/2025"
	_, err := svc.Create(ctx, in)
	require.NoError(t, err)
	_, err = svc.Create(ctx, booking(5, "09:00", "A"))
	require.NoError(t, err)
	other := booking(5, "09:00", "B")
	other.OwnerUserID = ptr("user-2")
	other.ChannelID = "sms"
	_, err = svc.Create(ctx, other)
	require.NoError(t, err)

	all, err := svc.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "06/03/2025", model.FormatWireDate(all[2].Date))

	byChannel, err := svc.FindByChannel(ctx, "email")
	require.NoError(t, err)
	assert.Len(t, byChannel, 2)

	byDate, err := svc.FindByDate(ctx, "05/03/2025")
	require.NoError(t, err)
	assert.Len(t, byDate, 2)

	byOwner, err := svc.FindByOwner(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, byOwner, 2)

	byOwnerArea, err := svc.FindByOwnerAndArea(ctx, "user-2", "B")
	require.NoError(t, err)
	assert.Len(t, byOwnerArea, 1)
}

func TestCreate_ConcurrentRequestsDoNotOvershoot(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, rejected := 0, 0

	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, booking(10, "10:00", "Mkt"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, capacity.ErrInsufficientCapacity):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, accepted)
	assert.Equal(t, 15, rejected)

	used, err := store.SumCounted(ctx, "email", mustDate(t, "05/03/2025"), "10:00", "")
	require.NoError(t, err)
	assert.Equal(t, 100.0, used)
}

func TestAvailability(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, booking(20, "08:00", "A"))
	require.NoError(t, err)
	hold := booking(30, "09:00", "A")
	hold.OwnerUserID = nil
	_, err = svc.Create(ctx, hold)
	require.NoError(t, err)

	slots, err := svc.Availability(ctx, "email", "05/03/2025", board, "A")
	require.NoError(t, err)
	require.Len(t, slots, 5)

	assert.Equal(t, SlotAvailability{Slot: "08:00", Split: true, Limit: 50, Used: 20, Available: 30}, slots[0])
	assert.Equal(t, SlotAvailability{Slot: "09:00", Limit: 100, Used: 0, Available: 100}, slots[2])

	slots, err = svc.Availability(ctx, "email", "05/03/2025", board, "B")
	require.NoError(t, err)
	assert.Equal(t, 70.0, slots[2].Available)

	_, err = svc.Availability(ctx, "fax", "05/03/2025", board, "")
	assert.ErrorIs(t, err, capacity.ErrChannelUnavailable)
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := model.ParseWireDate(s)
	require.NoError(t, err)
	return d
}

// vanishingStore отдаёт запись, которую уже удалили из леджера
type vanishingStore struct {
	*memory.Store
	ghost model.Reservation
}

func (s vanishingStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Reservation, error) {
	if id == s.ghost.ID {
		g := s.ghost
		return &g, nil
	}
	return s.Store.GetByID(ctx, id)
}

func TestUpdate_RecordDeletedConcurrentlyIsNotFound(t *testing.T) {
	_, mem := newTestService(t)
	ghost := model.Reservation{
		ID:            uuid.New(),
		ChannelID:     "email",
		Date:          mustDate(t, "05/03/2025"),
		Slot:          "10:00",
		Quantity:      5,
		RequesterArea: "Sales",
		Kind:          model.ReservationKindBooking,
	}
	svc := newServiceOver(vanishingStore{Store: mem, ghost: ghost}, mem)

	_, err := svc.Update(context.Background(), ghost.ID, UpdateReservationInput{Quantity: ptr(7.0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, capacity.ErrNotFound)
}

func TestCreate_RoundsQuantityToLedgerScale(t *testing.T) {
	svc, _ := newTestService(t)

	in := booking(0.004, "10:00", "Sales")
	_, err := svc.Create(context.Background(), in)
	var ve *capacity.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "quantity", ve.Field)

	in.Quantity = 0.1 + 0.2
	res, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 0.3, res.Quantity)
}
