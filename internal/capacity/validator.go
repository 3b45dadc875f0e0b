package capacity

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/capacity_scheduler/internal/metrics"
	"github.com/Freeeeeet/capacity_scheduler/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdmissionRequest кандидат на запись в леджер
type AdmissionRequest struct {
	ChannelID     string
	Date          time.Time
	Slot          string
	Quantity      float64
	RequesterArea string
	ExcludeID     uuid.UUID // uuid.Nil при создании; id самой записи при обновлении
}

// Admission результат успешной проверки
type Admission struct {
	Limit     float64 `json:"limit"`
	Used      float64 `json:"used"`
	Reusable  float64 `json:"reusable"`
	Requested float64 `json:"requested"`
	Available float64 `json:"available"`
}

// Validator проверяет, помещается ли запрос в ёмкость слота
type Validator struct {
	channels ChannelCatalog
	ledger   Ledger
	split    SplitRule
	logger   *zap.Logger
}

// NewValidator создаёт валидатор допуска
func NewValidator(channels ChannelCatalog, ledger Ledger, split SplitRule, logger *zap.Logger) *Validator {
	return &Validator{
		channels: channels,
		ledger:   ledger,
		split:    split,
		logger:   logger,
	}
}

// Validate решает, помещается ли req в слот.
// Отказ возвращается как ErrChannelUnavailable или *InsufficientCapacityError.
func (v *Validator) Validate(ctx context.Context, req AdmissionRequest) (*Admission, error) {
	channel, err := v.channels.GetChannel(ctx, req.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	if channel == nil || !channel.IsActive {
		metrics.AdmissionDecisions.WithLabelValues("channel_unavailable").Inc()
		return nil, fmt.Errorf("%w: %s", ErrChannelUnavailable, req.ChannelID)
	}

	limit := v.split.EffectiveCapacity(channel.MaxCapacity, req.Slot)

	records, err := v.ledger.ListByChannelDate(ctx, req.ChannelID, req.Date)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}

	var used, reusable float64
	for _, r := range records {
		if !r.SameSlot(req.Slot) {
			continue
		}
		if req.ExcludeID != uuid.Nil && r.ID == req.ExcludeID {
			continue
		}
		if r.CountsFor(req.RequesterArea) {
			used += r.Quantity
		} else {
			reusable += r.Quantity
		}
	}

	used = model.RoundQuantity(used)
	reusable = model.RoundQuantity(reusable)
	requested := model.RoundQuantity(req.Quantity)
	available := model.RoundQuantity(limit - used)
	if requested > available {
		metrics.AdmissionDecisions.WithLabelValues("insufficient_capacity").Inc()
		v.logger.Info("Admission rejected",
			zap.String("channel_id", req.ChannelID),
			zap.String("date", model.DateKey(req.Date)),
			zap.String("slot", req.Slot),
			zap.Float64("limit", limit),
			zap.Float64("used", used),
			zap.Float64("reusable", reusable),
			zap.Float64("requested", requested),
			zap.Float64("available", available),
		)
		return nil, &InsufficientCapacityError{
			ChannelID: req.ChannelID,
			Date:      model.FormatWireDate(req.Date),
			Slot:      model.SlotKey(req.Slot),
			Limit:     limit,
			Used:      used,
			Reusable:  reusable,
			Requested: requested,
			Available: available,
		}
	}

	metrics.AdmissionDecisions.WithLabelValues("accepted").Inc()
	return &Admission{
		Limit:     limit,
		Used:      used,
		Reusable:  reusable,
		Requested: requested,
		Available: available,
	}, nil
}

// SplitRule возвращает правило разделённых слотов валидатора
func (v *Validator) SplitRule() SplitRule {
	return v.split
}
