package capacity

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/Freeeeeet/capacity_scheduler/internal/metrics"
	"github.com/Freeeeeet/capacity_scheduler/internal/model"
	"go.uber.org/zap"
)

const defaultMaxPasses = 10000

// Причины отбрасывания спроса
const (
	DropReasonIncompleteLine = "incomplete_line"
	DropReasonInvalidDate    = "invalid_date"
	DropReasonInvalidSlot    = "invalid_slot"
	DropReasonBelowScale     = "below_scale"
	DropReasonNoNextSlot     = "no_next_slot"
	DropReasonNoSlotWithRoom = "no_slot_with_room"
)

// AllocationRequest пакет спроса одной отправки
type AllocationRequest struct {
	Lines         []model.DemandLine
	CatalogID     string
	RequesterArea string // пусто, если область не передана: резервы считаются чужими
}

// DroppedDemand количество, которое не удалось разместить
type DroppedDemand struct {
	Line     model.DemandLine `json:"line"`
	Quantity float64          `json:"quantity"`
	Reason   string           `json:"reason"`
}

// AllocationResult итог распределения
type AllocationResult struct {
	Lines   []model.DemandLine `json:"lines"`
	Dropped []DroppedDemand    `json:"dropped,omitempty"`
	Passes  int                `json:"passes"`
}

// PlacedQuantity сумма размещённых количеств
func (r *AllocationResult) PlacedQuantity() float64 {
	var total float64
	for _, l := range r.Lines {
		total += l.Quantity
	}
	return total
}

// DroppedQuantity сумма отброшенных количеств
func (r *AllocationResult) DroppedQuantity() float64 {
	var total float64
	for _, d := range r.Dropped {
		total += d.Quantity
	}
	return total
}

// DropReporter получает события об отброшенном спросе
type DropReporter interface {
	ReportDrop(ctx context.Context, drop DroppedDemand)
}

type nopReporter struct{}

func (nopReporter) ReportDrop(context.Context, DroppedDemand) {}

// AllocatorOption настройка аллокатора
type AllocatorOption func(*Allocator)

// WithMaxPasses ограничивает число проходов до неподвижной точки
func WithMaxPasses(n int) AllocatorOption {
	return func(a *Allocator) {
		if n > 0 {
			a.maxPasses = n
		}
	}
}

// WithDropReporter подключает получателя событий об отброшенном спросе
func WithDropReporter(r DropReporter) AllocatorOption {
	return func(a *Allocator) {
		if r != nil {
			a.reporter = r
		}
	}
}

// Allocator распределяет спрос по слотам с переносом излишка в следующие слоты
type Allocator struct {
	channels  ChannelCatalog
	slots     SlotCatalog
	ledger    Ledger
	split     SplitRule
	logger    *zap.Logger
	maxPasses int
	reporter  DropReporter
}

// NewAllocator создаёт аллокатор
func NewAllocator(channels ChannelCatalog, slots SlotCatalog, ledger Ledger, split SplitRule, logger *zap.Logger, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		channels:  channels,
		slots:     slots,
		ledger:    ledger,
		split:     split,
		logger:    logger,
		maxPasses: defaultMaxPasses,
		reporter:  nopReporter{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type stageKey struct {
	channelID string
	date      string
	slot      string
}

type allocationRun struct {
	*Allocator
	requesterArea string
	names         []string
	lines         []model.DemandLine
	resolved      map[string]*model.Channel
	dropped       []DroppedDemand
}

// Allocate проходит по строкам до тех пор, пока очередной проход ничего не меняет.
// Любое структурное изменение (сдвиг, усечение, разбиение, удаление) перезапускает проход,
// staged-количества живут только внутри одного прохода.
// Неразмещаемый спрос не является ошибкой: он логируется и попадает в Dropped.
func (a *Allocator) Allocate(ctx context.Context, req AllocationRequest) (*AllocationResult, error) {
	start := time.Now()
	defer func() {
		metrics.AllocationDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	catalog, err := a.slots.ActiveSlots(ctx, req.CatalogID)
	if err != nil {
		return nil, fmt.Errorf("load slot catalog: %w", err)
	}

	run := &allocationRun{
		Allocator:     a,
		requesterArea: req.RequesterArea,
		names:         slotNames(catalog),
		lines:         make([]model.DemandLine, len(req.Lines)),
		resolved:      make(map[string]*model.Channel),
	}

	var demanded float64
	for i, line := range req.Lines {
		line.SourceIndex = i
		line.Slot = model.SlotKey(line.Slot)
		if line.Quantity > 0 {
			demanded += line.Quantity
			// Количество меньше шага леджера не может быть записано
			if rounded := model.RoundQuantity(line.Quantity); rounded <= 0 {
				run.drop(ctx, line, line.Quantity, DropReasonBelowScale)
				line.Quantity = 0
			} else {
				line.Quantity = rounded
			}
		}
		run.lines[i] = line
	}
	metrics.AllocationDemanded.Add(demanded)

	passes := 0
	for {
		if passes >= a.maxPasses {
			a.logger.Error("Slot allocation did not converge, stopping",
				zap.String("catalog_id", req.CatalogID),
				zap.Int("passes", passes),
				zap.Int("lines", len(run.lines)),
			)
			break
		}
		passes++

		changed, err := run.pass(ctx)
		if err != nil {
			return nil, err
		}
		if !changed {
			break
		}
	}
	metrics.AllocationPasses.Observe(float64(passes))

	result := &AllocationResult{
		Lines:   make([]model.DemandLine, 0, len(run.lines)),
		Dropped: run.dropped,
		Passes:  passes,
	}
	for _, line := range run.lines {
		if line.Quantity > 0 {
			result.Lines = append(result.Lines, line)
		}
	}
	metrics.AllocationPlaced.Add(result.PlacedQuantity())

	a.logger.Debug("Slot allocation finished",
		zap.String("catalog_id", req.CatalogID),
		zap.Int("input_lines", len(req.Lines)),
		zap.Int("output_lines", len(result.Lines)),
		zap.Float64("demanded", demanded),
		zap.Float64("placed", result.PlacedQuantity()),
		zap.Float64("dropped", result.DroppedQuantity()),
		zap.Int("passes", passes),
	)

	return result, nil
}

// pass один проход по строкам. Возвращает true, если список изменился.
func (r *allocationRun) pass(ctx context.Context) (bool, error) {
	staged := make(map[stageKey]float64)

	for i := 0; i < len(r.lines); i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		line := r.lines[i]
		if line.IsEmpty() {
			r.remove(ctx, i, line.Quantity, DropReasonIncompleteLine)
			return true, nil
		}

		date, err := model.ParseFlexibleDate(line.Date)
		if err != nil {
			r.remove(ctx, i, line.Quantity, DropReasonInvalidDate)
			return true, nil
		}

		if !model.ValidSlot(line.Slot) {
			r.remove(ctx, i, line.Quantity, DropReasonInvalidSlot)
			return true, nil
		}

		channel := r.channel(ctx, line.ChannelID)
		if channel == nil {
			// Канал не разрешился: строка остаётся как есть
			continue
		}

		key := stageKey{channelID: line.ChannelID, date: model.DateKey(date), slot: line.Slot}
		available, err := r.available(ctx, channel, date, line.Slot, staged)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			r.logger.Warn("Failed to read slot usage, line left untouched",
				zap.String("channel_id", line.ChannelID),
				zap.String("date", line.Date),
				zap.String("slot", line.Slot),
				zap.Error(err),
			)
			continue
		}

		switch {
		case line.Quantity <= available:
			staged[key] += line.Quantity

		case available <= 0:
			next, ok := nextSlot(r.names, line.Slot)
			if !ok {
				r.remove(ctx, i, line.Quantity, DropReasonNoNextSlot)
				return true, nil
			}
			r.lines[i].Slot = next
			return true, nil

		default:
			remainder := model.RoundQuantity(line.Quantity - available)
			r.lines[i].Quantity = available
			staged[key] += available

			target, ok := nextSlot(r.names, line.Slot)
			if !ok {
				target, ok, err = r.firstSlotWithRoom(ctx, channel, date, line.ChannelID, staged)
				if err != nil {
					return false, err
				}
			}
			if !ok {
				spill := line
				spill.Quantity = remainder
				r.drop(ctx, spill, remainder, DropReasonNoSlotWithRoom)
				return true, nil
			}

			spill := line
			spill.Slot = target
			spill.Quantity = remainder
			r.lines = slices.Insert(r.lines, i+1, spill)
			return true, nil
		}
	}

	return false, nil
}

// available свободная ёмкость слота с учётом леджера и staged, не меньше нуля
func (r *allocationRun) available(ctx context.Context, channel *model.Channel, date time.Time, slot string, staged map[stageKey]float64) (float64, error) {
	used, err := r.ledger.SumCounted(ctx, channel.ID, date, slot, r.requesterArea)
	if err != nil {
		return 0, fmt.Errorf("sum counted: %w", err)
	}
	key := stageKey{channelID: channel.ID, date: model.DateKey(date), slot: model.SlotKey(slot)}
	free := model.RoundQuantity(r.split.EffectiveCapacity(channel.MaxCapacity, slot) - (used + staged[key]))
	if free < 0 {
		return 0, nil
	}
	return free, nil
}

// firstSlotWithRoom ищет с начала каталога первый слот со свободной ёмкостью
func (r *allocationRun) firstSlotWithRoom(ctx context.Context, channel *model.Channel, date time.Time, channelID string, staged map[stageKey]float64) (string, bool, error) {
	for _, name := range r.names {
		free, err := r.available(ctx, channel, date, name, staged)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", false, ctxErr
			}
			r.logger.Warn("Failed to read slot usage while searching for room",
				zap.String("channel_id", channelID),
				zap.String("slot", name),
				zap.Error(err),
			)
			continue
		}
		if free > 0 {
			return name, true, nil
		}
	}
	return "", false, nil
}

// channel кэширует поиск канала на время одного вызова
func (r *allocationRun) channel(ctx context.Context, channelID string) *model.Channel {
	if ch, ok := r.resolved[channelID]; ok {
		return ch
	}

	ch, err := r.channels.GetChannel(ctx, channelID)
	if err != nil {
		r.logger.Warn("Failed to resolve channel, lines left untouched",
			zap.String("channel_id", channelID),
			zap.Error(err),
		)
	}
	if ch != nil && !ch.IsActive {
		ch = nil
	}
	r.resolved[channelID] = ch
	return ch
}

func (r *allocationRun) remove(ctx context.Context, i int, quantity float64, reason string) {
	line := r.lines[i]
	r.lines = slices.Delete(r.lines, i, i+1)
	if quantity > 0 {
		r.drop(ctx, line, quantity, reason)
	}
}

func (r *allocationRun) drop(ctx context.Context, line model.DemandLine, quantity float64, reason string) {
	d := DroppedDemand{Line: line, Quantity: quantity, Reason: reason}
	r.dropped = append(r.dropped, d)
	metrics.AllocationDropped.WithLabelValues(reason).Add(quantity)

	r.logger.Warn("No slot available, demand dropped",
		zap.String("channel_id", line.ChannelID),
		zap.String("date", line.Date),
		zap.String("slot", line.Slot),
		zap.Float64("dropped", quantity),
		zap.String("reason", reason),
		zap.String("owner_identity", line.OwnerIdentity),
		zap.Int("source_index", line.SourceIndex),
	)

	r.reporter.ReportDrop(ctx, d)
}

func slotNames(catalog []*model.TimeSlot) []string {
	names := make([]string, 0, len(catalog))
	for _, s := range catalog {
		names = append(names, model.SlotKey(s.Name))
	}
	sort.Strings(names)
	return names
}

// nextSlot первый слот каталога строго после current
func nextSlot(names []string, current string) (string, bool) {
	current = model.SlotKey(current)
	idx := sort.SearchStrings(names, current)
	for idx < len(names) && names[idx] <= current {
		idx++
	}
	if idx >= len(names) {
		return "", false
	}
	return names[idx], true
}
