package api

import (
	"net/http"
	"strings"

	"github.com/Freeeeeet/capacity_scheduler/internal/capacity"
	"github.com/Freeeeeet/capacity_scheduler/internal/model"
	"github.com/Freeeeeet/capacity_scheduler/internal/service"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ReservationHandler HTTP-обёртка над ReservationService
type ReservationHandler struct {
	service *service.ReservationService
	logger  *zap.Logger
}

func NewReservationHandler(svc *service.ReservationService, logger *zap.Logger) *ReservationHandler {
	return &ReservationHandler{service: svc, logger: logger}
}

type allocationRequest struct {
	Lines         []model.DemandLine `json:"lines"`
	CatalogID     string             `json:"catalog_id"`
	RequesterArea string             `json:"requester_area"`
}

type allocationResponse struct {
	Lines   []model.DemandLine       `json:"lines"`
	Dropped []capacity.DroppedDemand `json:"dropped,omitempty"`
}

// reservationView запись в wire-формате: дата DD/MM/YYYY, слот HH:MM
type reservationView struct {
	ID            string  `json:"id"`
	ChannelID     string  `json:"channel_id"`
	Date          string  `json:"date"`
	Slot          string  `json:"slot"`
	Quantity      float64 `json:"quantity"`
	RequesterArea string  `json:"requester_area"`
	RequesterName *string `json:"requester_name,omitempty"`
	Kind          string  `json:"kind"`
	OwnerUserID   *string `json:"owner_user_id,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

func toView(r *model.Reservation) reservationView {
	return reservationView{
		ID:            r.ID.String(),
		ChannelID:     r.ChannelID,
		Date:          model.FormatWireDate(r.Date),
		Slot:          model.SlotKey(r.Slot),
		Quantity:      r.Quantity,
		RequesterArea: r.RequesterArea,
		RequesterName: r.RequesterName,
		Kind:          string(r.Kind),
		OwnerUserID:   r.OwnerUserID,
		CreatedAt:     r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:     r.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func toViews(rs []*model.Reservation) []reservationView {
	out := make([]reservationView, 0, len(rs))
	for _, r := range rs {
		out = append(out, toView(r))
	}
	return out
}

// Create POST /v1/reservations
func (h *ReservationHandler) Create(c echo.Context) error {
	var in service.CreateReservationInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	res, err := h.service.Create(c.Request().Context(), in)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, toView(res))
}

// Update PATCH /v1/reservations/:id
func (h *ReservationHandler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}

	var in service.UpdateReservationInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	res, err := h.service.Update(c.Request().Context(), id, in)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, toView(res))
}

// Get GET /v1/reservations/:id
func (h *ReservationHandler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}

	res, err := h.service.FindByID(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, toView(res))
}

// List GET /v1/reservations?channel_id=|date=|owner_user_id=[&requester_area=]
func (h *ReservationHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	channelID := c.QueryParam("channel_id")
	date := c.QueryParam("date")
	owner := c.QueryParam("owner_user_id")
	area := c.QueryParam("requester_area")

	var (
		items []*model.Reservation
		err   error
	)
	switch {
	case owner != "" && area != "":
		items, err = h.service.FindByOwnerAndArea(ctx, owner, area)
	case owner != "":
		items, err = h.service.FindByOwner(ctx, owner)
	case channelID != "":
		items, err = h.service.FindByChannel(ctx, channelID)
	case date != "":
		items, err = h.service.FindByDate(ctx, date)
	default:
		items, err = h.service.FindAll(ctx)
	}
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"items": toViews(items),
		"count": len(items),
	})
}

// Delete DELETE /v1/reservations/:id
func (h *ReservationHandler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}

	deleted, err := h.service.Delete(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	if !deleted {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	}
	return c.NoContent(http.StatusNoContent)
}

// ReleaseSlot DELETE /v1/reservations?channel_id&date&slot[&requester_area]
func (h *ReservationHandler) ReleaseSlot(c echo.Context) error {
	removed, err := h.service.DeleteByChannelDateSlot(
		c.Request().Context(),
		c.QueryParam("channel_id"),
		c.QueryParam("date"),
		c.QueryParam("slot"),
		c.QueryParam("requester_area"),
	)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"removed": removed})
}

// Allocate POST /v1/allocations
func (h *ReservationHandler) Allocate(c echo.Context) error {
	var in allocationRequest
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	result, err := h.service.Allocate(c.Request().Context(), capacity.AllocationRequest{
		Lines:         in.Lines,
		CatalogID:     strings.TrimSpace(in.CatalogID),
		RequesterArea: strings.TrimSpace(in.RequesterArea),
	})
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, allocationResponse{Lines: result.Lines, Dropped: result.Dropped})
}

// Commit POST /v1/allocations/commit
func (h *ReservationHandler) Commit(c echo.Context) error {
	var in service.BatchSubmission
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	result, err := h.service.SubmitBatch(c.Request().Context(), in)
	if err != nil {
		if result == nil {
			return writeError(c, h.logger, err)
		}
		h.logger.Error("Batch commit failed midway", zap.Int("committed", len(result.Committed)), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error":     "batch commit failed, committed lines were kept",
			"committed": toViews(result.Committed),
			"rejected":  result.Rejected,
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"lines":     result.Allocation.Lines,
		"dropped":   result.Allocation.Dropped,
		"committed": toViews(result.Committed),
		"rejected":  result.Rejected,
	})
}

// Availability GET /v1/channels/:id/availability?date&catalog_id[&requester_area]
func (h *ReservationHandler) Availability(c echo.Context) error {
	slots, err := h.service.Availability(
		c.Request().Context(),
		c.Param("id"),
		c.QueryParam("date"),
		c.QueryParam("catalog_id"),
		c.QueryParam("requester_area"),
	)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"slots": slots})
}
