package capacity_test

import (
	"context"
	"sync"
	"testing"

	"github.com/Freeeeeet/capacity_scheduler/internal/capacity"
	"github.com/Freeeeeet/capacity_scheduler/internal/model"
	"github.com/Freeeeeet/capacity_scheduler/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const board = "board-1"

type recordingReporter struct {
	mu    sync.Mutex
	drops []capacity.DroppedDemand
}

func (r *recordingReporter) ReportDrop(_ context.Context, d capacity.DroppedDemand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drops = append(r.drops, d)
}

func newAllocatorFixture(maxCapacity float64, slots ...string) (*memory.Store, *observer.ObservedLogs, *zap.Logger) {
	store := memory.NewStore()
	store.PutChannel(model.Channel{ID: "email", IsActive: true, MaxCapacity: maxCapacity})
	store.PutSlots(board, slots...)
	core, logs := observer.New(zapcore.DebugLevel)
	return store, logs, zap.New(core)
}

func line(slot string, qty float64) model.DemandLine {
	return model.DemandLine{ChannelID: "email", Date: "05/03/2025", Slot: slot, Quantity: qty}
}

func placed(lines []model.DemandLine) map[string]float64 {
	out := make(map[string]float64)
	for _, l := range lines {
		out[l.Slot] += l.Quantity
	}
	return out
}

func TestAllocate_ScenarioD_SpillsIntoNextSlot(t *testing.T) {
	store, _, logger := newAllocatorFixture(100, "09:00", "09:30", "10:00")
	alloc := capacity.NewAllocator(store, store, store, capacity.DefaultSplitRule(), logger)

	in := line("09:00", 150)
	in.OwnerIdentity = "plan-42"
	result, err := alloc.Allocate(context.Background(), capacity.AllocationRequest{
		Lines:     []model.DemandLine{in},
		CatalogID: board,
	})
	require.NoError(t, err)

	require.Len(t, result.Lines, 2)
	assert.Equal(t, "09:00", result.Lines[0].Slot)
	assert.Equal(t, 100.0, result.Lines[0].Quantity)
	assert.Equal(t, "09:30", result.Lines[1].Slot)
	assert.Equal(t, 50.0, result.Lines[1].Quantity)

	for _, l := range result.Lines {
		assert.Equal(t, "plan-42", l.OwnerIdentity)
		assert.Equal(t, 0, l.SourceIndex)
	}
	assert.Empty(t, result.Dropped)
}

func TestAllocate_ScenarioE_DropsWhenLastSlotFull(t *testing.T) {
	store, logs, logger := newAllocatorFixture(100, "09:00", "09:30", "10:00")
	seed(t, store, "email", "10:00", 100, "Ops", model.ReservationKindBooking)
	reporter := &recordingReporter{}
	alloc := capacity.NewAllocator(store, store, store, capacity.DefaultSplitRule(), logger, capacity.WithDropReporter(reporter))

	result, err := alloc.Allocate(context.Background(), capacity.AllocationRequest{
		Lines:     []model.DemandLine{line("10:00", 40)},
		CatalogID: board,
	})
	require.NoError(t, err)

	assert.Empty(t, result.Lines)
	require.Len(t, result.Dropped, 1)
	assert.Equal(t, 40.0, result.Dropped[0].Quantity)
	assert.Equal(t, capacity.DropReasonNoNextSlot, result.Dropped[0].Reason)

	assert.Equal(t, 1, logs.FilterMessage("No slot available, demand dropped").Len())
	require.Len(t, reporter.drops, 1)
	assert.Equal(t, 40.0, reporter.drops[0].Quantity)
}

func TestAllocate_FullSlotMovesWholeLine(t *testing.T) {
	store, _, logger := newAllocatorFixture(100, "09:00", "09:30", "10:00")
	seed(t, store, "email", "09:00", 100, "Ops", model.ReservationKindBooking)
	alloc := capacity.NewAllocator(store, store, store, capacity.DefaultSplitRule(), logger)

	result, err := alloc.Allocate(context.Background(), capacity.AllocationRequest{
		Lines:     []model.DemandLine{line("09:00", 30)},
		CatalogID: board,
	})
	require.NoError(t, err)
	require.Len(t, result.Lines, 1)
	assert.Equal(t, "09:30", result.Lines[0].Slot)
	assert.Equal(t, 30.0, result.Lines[0].Quantity)
}

func TestAllocate_PartialFitAtLastSlotScansFromStart(t *testing.T) {
	store, _, logger := newAllocatorFixture(100, "09:00", "09:30", "10:00")
	seed(t, store, "email", "09:00", 100, "Ops", model.ReservationKindBooking)
	seed(t, store, "email", "10:00", 70, "Ops", model.ReservationKindBooking)
	alloc := capacity.NewAllocator(store, store, store, capacity.DefaultSplitRule(), logger)

	result, err := alloc.Allocate(context.Background(), capacity.AllocationRequest{
		Lines:     []model.DemandLine{line("10:00", 50)},
		CatalogID: board,
	})
	require.NoError(t, err)
	require.Len(t, result.Lines, 2)
	assert.Equal(t, model.DemandLine{ChannelID: "email", Date: "05/03/2025", Slot: "10:00", Quantity: 30}, result.Lines[0])
	assert.Equal(t, model.DemandLine{ChannelID: "email", Date: "05/03/2025", Slot: "09:30", Quantity: 20}, result.Lines[1])
}

func TestAllocate_PartialFitWithNoRoomAnywhereDropsRemainder(t *testing.T) {
	store, logs, logger := newAllocatorFixture(100, "09:00", "10:00")
	seed(t, store, "email", "09:00", 100, "Ops", model.ReservationKindBooking)
	seed(t, store, "email", "10:00", 90, "Ops", model.ReservationKindBooking)
	alloc := capacity.NewAllocator(store, store, store, capacity.DefaultSplitRule(), logger)

	result, err := alloc.Allocate(context.Background(), capacity.AllocationRequest{
		Lines:     []model.DemandLine{line("10:00", 25)},
		CatalogID: board,
	})
	require.NoError(t, err)
	require.Len(t, result.Lines, 1)
	assert.Equal(t, 10.0, result.Lines[0].Quantity)
	require.Len(t, result.Dropped, 1)
	assert.Equal(t, 15.0, result.Dropped[0].Quantity)
	assert.Equal(t, capacity.DropReasonNoSlotWithRoom, result.Dropped[0].Reason)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestAllocate_StagesLinesWithinTheSameBatch(t *testing.T) {
	store, _, logger := newAllocatorFixture(100, "09:00", "09:30")
	alloc := capacity.NewAllocator(store, store, store, capacity.DefaultSplitRule(), logger)

	result, err := alloc.Allocate(context.Background(), capacity.AllocationRequest{
		Lines:     []model.DemandLine{line("09:00", 60), line("09:00", 60)},
		CatalogID: board,
	})
	require.NoError(t, err)

	require.Len(t, result.Lines, 3)
	assert.Equal(t, []int{0, 1, 1}, []int{result.Lines[0].SourceIndex, result.Lines[1].SourceIndex, result.Lines[2].SourceIndex})
	assert.Equal(t, map[string]float64{"09:00": 100, "09:30": 20}, placed(result.Lines))
}

func TestAllocate_SplitSlotsShareHalfCapacity(t *testing.T) {
	store, _, logger := newAllocatorFixture(100, "08:00", "08:30", "09:00")
	alloc := capacity.NewAllocator(store, store, store, capacity.DefaultSplitRule(), logger)

	result, err := alloc.Allocate(context.Background(), capacity.AllocationRequest{
		Lines:     []model.DemandLine{line("08:00", 120)},
		CatalogID: board,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"08:00": 50, "08:30": 50, "09:00": 20}, placed(result.Lines))
}

func TestAllocate_HoldReuseDependsOnRequesterArea(t *testing.T) {
	store, _, logger := newAllocatorFixture(100, "09:00", "09:30")
	seed(t, store, "email", "09:00", 100, "Mkt", model.ReservationKindHold)
	alloc := capacity.NewAllocator(store, store, store, capacity.DefaultSplitRule(), logger)

	tests := map[string]struct {
		area     string
		wantSlot string
	}{
		"holding area reuses the hold": {area: "Mkt", wantSlot: "09:00"},
		"other area is pushed forward": {area: "Sales", wantSlot: "09:30"},
		"missing area counts the hold": {area: "", wantSlot: "09:30"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			result, err := alloc.Allocate(context.Background(), capacity.AllocationRequest{
				Lines:         []model.DemandLine{line("09:00", 80)},
				CatalogID:     board,
				RequesterArea: tc.area,
			})
			require.NoError(t, err)
			require.Len(t, result.Lines, 1)
			assert.Equal(t, tc.wantSlot, result.Lines[0].Slot)
		})
	}
}

func TestAllocate_DiscardsIncompleteAndKeepsUnresolvedLines(t *testing.T) {
	store, _, logger := newAllocatorFixture(100, "09:00")
	alloc := capacity.NewAllocator(store, store, store, capacity.DefaultSplitRule(), logger)

	ghost := model.DemandLine{ChannelID: "ghost", Date: "2025-03-05", Slot: "09:00", Quantity: 500}
	result, err := alloc.Allocate(context.Background(), capacity.AllocationRequest{
		Lines: []model.DemandLine{
			{ChannelID: "", Date: "05/03/2025", Slot: "09:00", Quantity: 5},
			{ChannelID: "email", Date: "05/03/2025", Slot: "09:00", Quantity: 0},
			{ChannelID: "email", Date: "tomorrow", Slot: "09:00", Quantity: 7},
			ghost,
			line("09:00", 10),
		},
		CatalogID: board,
	})
	require.NoError(t, err)

	require.Len(t, result.Lines, 2)
	assert.Equal(t, "ghost", result.Lines[0].ChannelID)
	assert.Equal(t, 500.0, result.Lines[0].Quantity)
	assert.Equal(t, 3, result.Lines[0].SourceIndex)
	assert.Equal(t, 10.0, result.Lines[1].Quantity)
	assert.Equal(t, 12.0, result.DroppedQuantity())
}

func TestAllocate_ConservesQuantity(t *testing.T) {
	store, _, logger := newAllocatorFixture(100, "08:00", "08:30", "09:00", "09:30")
	seed(t, store, "email", "09:00", 40, "Ops", model.ReservationKindBooking)
	alloc := capacity.NewAllocator(store, store, store, capacity.DefaultSplitRule(), logger)

	lines := []model.DemandLine{line("08:00", 70), line("08:30", 30), line("09:00", 90), line("09:30", 75)}
	var total float64
	for _, l := range lines {
		total += l.Quantity
	}

	result, err := alloc.Allocate(context.Background(), capacity.AllocationRequest{Lines: lines, CatalogID: board})
	require.NoError(t, err)

	assert.InDelta(t, total, result.PlacedQuantity()+result.DroppedQuantity(), 1e-9)
	for slot, qty := range placed(result.Lines) {
		used, err := store.SumCounted(context.Background(), "email", testDate, slot, "")
		require.NoError(t, err)
		assert.LessOrEqual(t, qty+used, capacity.DefaultSplitRule().EffectiveCapacity(100, slot), slot)
	}
}

func TestAllocate_IsIdempotentOnPlacedLines(t *testing.T) {
	store, _, logger := newAllocatorFixture(100, "09:00", "09:30", "10:00")
	alloc := capacity.NewAllocator(store, store, store, capacity.DefaultSplitRule(), logger)

	first, err := alloc.Allocate(context.Background(), capacity.AllocationRequest{
		Lines:     []model.DemandLine{line("09:00", 150), line("09:00", 90)},
		CatalogID: board,
	})
	require.NoError(t, err)

	second, err := alloc.Allocate(context.Background(), capacity.AllocationRequest{Lines: first.Lines, CatalogID: board})
	require.NoError(t, err)

	assert.Equal(t, 1, second.Passes)
	require.Len(t, second.Lines, len(first.Lines))
	for i := range first.Lines {
		assert.Equal(t, first.Lines[i].Slot, second.Lines[i].Slot)
		assert.Equal(t, first.Lines[i].Quantity, second.Lines[i].Quantity)
	}
}

func TestAllocate_StopsAtPassLimit(t *testing.T) {
	store, logs, logger := newAllocatorFixture(100, "09:00", "09:30")
	alloc := capacity.NewAllocator(store, store, store, capacity.DefaultSplitRule(), logger, capacity.WithMaxPasses(1))

	result, err := alloc.Allocate(context.Background(), capacity.AllocationRequest{
		Lines:     []model.DemandLine{line("09:00", 150)},
		CatalogID: board,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Passes)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestAllocate_HonoursCancelledContext(t *testing.T) {
	store, _, logger := newAllocatorFixture(100, "09:00")
	alloc := capacity.NewAllocator(store, store, store, capacity.DefaultSplitRule(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := alloc.Allocate(ctx, capacity.AllocationRequest{Lines: []model.DemandLine{line("09:00", 1)}, CatalogID: board})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAllocate_DecimalQuantitiesFitExactly(t *testing.T) {
	store, _, logger := newAllocatorFixture(0.3, "09:00", "09:30")
	alloc := capacity.NewAllocator(store, store, store, capacity.DefaultSplitRule(), logger)

	result, err := alloc.Allocate(context.Background(), capacity.AllocationRequest{
		Lines:     []model.DemandLine{line("09:00", 0.1), line("09:00", 0.1), line("09:00", 0.1)},
		CatalogID: board,
	})
	require.NoError(t, err)

	require.Len(t, result.Lines, 3)
	for _, l := range result.Lines {
		assert.Equal(t, "09:00", l.Slot)
		assert.Equal(t, 0.1, l.Quantity)
	}
	assert.Empty(t, result.Dropped)
}

func TestAllocate_DecimalSpillHasNoDust(t *testing.T) {
	store, _, logger := newAllocatorFixture(1, "09:00", "09:30")
	seed(t, store, "email", "09:00", 0.7, "Ops", model.ReservationKindBooking)
	alloc := capacity.NewAllocator(store, store, store, capacity.DefaultSplitRule(), logger)

	result, err := alloc.Allocate(context.Background(), capacity.AllocationRequest{
		Lines:     []model.DemandLine{line("09:00", 0.1), line("09:00", 0.2), line("09:00", 0.15)},
		CatalogID: board,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"09:00": 0.3, "09:30": 0.15}, roundedPlaced(result.Lines))
	for _, l := range result.Lines {
		assert.Equal(t, model.RoundQuantity(l.Quantity), l.Quantity, "line quantity must sit on the ledger scale")
		assert.Greater(t, l.Quantity, 0.0)
	}
}

func TestAllocate_DropsQuantityBelowLedgerScale(t *testing.T) {
	store, _, logger := newAllocatorFixture(100, "09:00")
	alloc := capacity.NewAllocator(store, store, store, capacity.DefaultSplitRule(), logger)

	result, err := alloc.Allocate(context.Background(), capacity.AllocationRequest{
		Lines:     []model.DemandLine{line("09:00", 0.004), line("09:00", 5)},
		CatalogID: board,
	})
	require.NoError(t, err)

	require.Len(t, result.Lines, 1)
	assert.Equal(t, 5.0, result.Lines[0].Quantity)
	require.Len(t, result.Dropped, 1)
	assert.Equal(t, capacity.DropReasonBelowScale, result.Dropped[0].Reason)
	assert.Equal(t, 0.004, result.Dropped[0].Quantity)
}

func TestAllocate_DropsMalformedSlot(t *testing.T) {
	store, logs, logger := newAllocatorFixture(100, "09:00", "09:30")
	alloc := capacity.NewAllocator(store, store, store, capacity.DefaultSplitRule(), logger)

	result, err := alloc.Allocate(context.Background(), capacity.AllocationRequest{
		Lines:     []model.DemandLine{line("25:00", 10), line("9h30", 4), line("09:30", 6)},
		CatalogID: board,
	})
	require.NoError(t, err)

	require.Len(t, result.Lines, 1)
	assert.Equal(t, "09:30", result.Lines[0].Slot)
	require.Len(t, result.Dropped, 2)
	for _, d := range result.Dropped {
		assert.Equal(t, capacity.DropReasonInvalidSlot, d.Reason)
	}
	assert.Equal(t, 14.0, result.DroppedQuantity())
	assert.Equal(t, 2, logs.FilterMessage("No slot available, demand dropped").Len())
}

func roundedPlaced(lines []model.DemandLine) map[string]float64 {
	out := placed(lines)
	for k, v := range out {
		out[k] = model.RoundQuantity(v)
	}
	return out
}
