package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Freeeeeet/capacity_scheduler/internal/capacity"
	"github.com/Freeeeeet/capacity_scheduler/internal/model"
	"go.uber.org/zap"
)

// BatchSubmission пакет спроса многоканальной отправки, коммитится как Booking
type BatchSubmission struct {
	Lines         []model.DemandLine `json:"lines"`
	CatalogID     string             `json:"catalog_id"`
	RequesterArea string             `json:"requester_area"`
	RequesterName *string            `json:"requester_name,omitempty"`
	OwnerUserID   *string            `json:"owner_user_id,omitempty"`
}

// RejectedLine строка, которую распределили, но не удалось закоммитить
type RejectedLine struct {
	Line   model.DemandLine `json:"line"`
	Reason string           `json:"reason"`
}

// BatchResult итог распределения и коммита пакета
type BatchResult struct {
	Allocation *capacity.AllocationResult `json:"allocation"`
	Committed  []*model.Reservation       `json:"committed"`
	Rejected   []RejectedLine             `json:"rejected,omitempty"`
}

// Allocate распределяет пакет по слотам без записи в леджер
func (s *ReservationService) Allocate(ctx context.Context, req capacity.AllocationRequest) (*capacity.AllocationResult, error) {
	if strings.TrimSpace(req.CatalogID) == "" {
		return nil, capacity.NewValidationError("catalog_id", "is required")
	}
	return s.allocator.Allocate(ctx, req)
}

// SubmitBatch распределяет пакет и коммитит каждую итоговую строку как Booking.
// Отказ по отдельной строке не прерывает пакет: строка попадает в Rejected.
// При инфраструктурной ошибке возвращается частичный результат с уже
// закоммиченными строками и сама ошибка.
func (s *ReservationService) SubmitBatch(ctx context.Context, batch BatchSubmission) (*BatchResult, error) {
	area := strings.TrimSpace(batch.RequesterArea)
	if area == "" {
		return nil, capacity.NewValidationError("requester_area", "is required")
	}
	owner := nonEmpty(batch.OwnerUserID)
	if owner == nil {
		return nil, capacity.NewValidationError("owner_user_id", "is required")
	}

	allocation, err := s.Allocate(ctx, capacity.AllocationRequest{
		Lines:         batch.Lines,
		CatalogID:     batch.CatalogID,
		RequesterArea: area,
	})
	if err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}

	result := &BatchResult{Allocation: allocation}
	booking := string(model.ReservationKindBooking)

	for _, line := range allocation.Lines {
		date, err := model.ParseFlexibleDate(line.Date)
		if err != nil {
			result.Rejected = append(result.Rejected, RejectedLine{Line: line, Reason: "invalid date"})
			continue
		}

		res, err := s.Create(ctx, CreateReservationInput{
			ChannelID:     line.ChannelID,
			Date:          model.FormatWireDate(date),
			Slot:          line.Slot,
			Quantity:      line.Quantity,
			RequesterArea: area,
			RequesterName: batch.RequesterName,
			OwnerUserID:   owner,
			Kind:          &booking,
		})
		if err != nil {
			if !isRejection(err) {
				// Уже закоммиченные строки остаются в леджере: возвращаем их вместе с ошибкой
				s.logger.Error("Batch commit aborted",
					zap.String("catalog_id", batch.CatalogID),
					zap.Int("committed", len(result.Committed)),
					zap.Int("source_index", line.SourceIndex),
					zap.Error(err),
				)
				return result, fmt.Errorf("commit line %d: %w", line.SourceIndex, err)
			}
			s.logger.Warn("Allocated line rejected on commit",
				zap.String("channel_id", line.ChannelID),
				zap.String("date", line.Date),
				zap.String("slot", line.Slot),
				zap.Float64("quantity", line.Quantity),
				zap.Error(err),
			)
			result.Rejected = append(result.Rejected, RejectedLine{Line: line, Reason: err.Error()})
			continue
		}
		result.Committed = append(result.Committed, res)
	}

	s.logger.Info("Batch submitted",
		zap.String("catalog_id", batch.CatalogID),
		zap.String("requester_area", area),
		zap.Int("input_lines", len(batch.Lines)),
		zap.Int("committed", len(result.Committed)),
		zap.Int("rejected", len(result.Rejected)),
		zap.Float64("dropped", allocation.DroppedQuantity()),
	)

	return result, nil
}

// isRejection ошибки, которые относятся к строке, а не к инфраструктуре
func isRejection(err error) bool {
	return capacity.IsValidation(err) ||
		errors.Is(err, capacity.ErrInsufficientCapacity) ||
		errors.Is(err, capacity.ErrChannelUnavailable)
}
