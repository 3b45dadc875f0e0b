package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Freeeeeet/capacity_scheduler/internal/metrics"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessCheck зависимость, без которой сервис не принимает запросы
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

const readinessTimeout = 2 * time.Second

// NewRouter собирает echo с маршрутами движка ёмкости.
// limiter может быть nil: тогда ограничение частоты выключено.
func NewRouter(h *ReservationHandler, limiter *RateLimiter, checks ...ReadinessCheck) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/readyz", readyHandler(checks))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	v1 := e.Group("/v1")
	if limiter != nil {
		v1.Use(limiter.Middleware())
	}

	v1.POST("/reservations", h.Create)
	v1.GET("/reservations", h.List)
	v1.DELETE("/reservations", h.ReleaseSlot)
	v1.GET("/reservations/:id", h.Get)
	v1.PATCH("/reservations/:id", h.Update)
	v1.DELETE("/reservations/:id", h.Delete)

	v1.POST("/allocations", h.Allocate)
	v1.POST("/allocations/commit", h.Commit)

	v1.GET("/channels/:id/availability", h.Availability)

	return e
}

func readyHandler(checks []ReadinessCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), readinessTimeout)
		defer cancel()

		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				return c.JSON(http.StatusServiceUnavailable, echo.Map{
					"status": "unavailable",
					"check":  check.Name,
					"error":  err.Error(),
				})
			}
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	}
}
