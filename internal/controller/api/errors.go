package api

import (
	"errors"
	"net/http"

	"github.com/Freeeeeet/capacity_scheduler/internal/capacity"
	"github.com/Freeeeeet/capacity_scheduler/internal/lock"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// writeError переводит ошибки движка в HTTP-ответы
func writeError(c echo.Context, logger *zap.Logger, err error) error {
	var validationErr *capacity.ValidationError
	var capacityErr *capacity.InsufficientCapacityError

	switch {
	case errors.As(err, &validationErr):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": validationErr.Error(),
			"field": validationErr.Field,
		})
	case errors.As(err, &capacityErr):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":   capacityErr.Error(),
			"details": capacityErr,
		})
	case errors.Is(err, capacity.ErrChannelUnavailable):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	case errors.Is(err, capacity.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	case errors.Is(err, lock.ErrLockTimeout):
		logger.Warn("Slot lock wait timed out", zap.String("path", c.Path()), zap.Error(err))
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "slot is busy, retry later"})
	default:
		logger.Error("Request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
