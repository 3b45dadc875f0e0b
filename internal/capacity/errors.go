package capacity

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelUnavailable канал не найден или неактивен
	ErrChannelUnavailable = errors.New("channel unavailable")
	// ErrInsufficientCapacity в слоте не хватает ёмкости
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	// ErrNotFound запись леджера не найдена
	ErrNotFound = errors.New("reservation not found")
)

// ValidationError ошибка формата входных данных, исправима вызывающей стороной
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError создаёт ошибку валидации поля
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientCapacityError диагностика отказа по ёмкости
type InsufficientCapacityError struct {
	ChannelID string  `json:"channel_id"`
	Date      string  `json:"date"`
	Slot      string  `json:"slot"`
	Limit     float64 `json:"limit"`
	Used      float64 `json:"used"`
	Reusable  float64 `json:"reusable"`
	Requested float64 `json:"requested"`
	Available float64 `json:"available"`
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf(
		"insufficient capacity for channel %s on %s at %s: limit %g, used %g, reusable %g, requested %g, available %g",
		e.ChannelID, e.Date, e.Slot, e.Limit, e.Used, e.Reusable, e.Requested, e.Available,
	)
}

func (e *InsufficientCapacityError) Unwrap() error {
	return ErrInsufficientCapacity
}

// IsValidation проверяет, является ли ошибка ошибкой валидации
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
