package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-booking/internal/model"
	"github.com/iliyamo/cinema-booking/internal/service"
)

// ShowtimeHandler serves the public seat map and the admin scheduling
// endpoints.
type ShowtimeHandler struct {
	Showtimes *service.ShowtimeService
	Log       logrus.FieldLogger
}

func NewShowtimeHandler(s *service.ShowtimeService, log logrus.FieldLogger) *ShowtimeHandler {
	if s == nil {
		panic("nil showtime service passed to NewShowtimeHandler")
	}
	return &ShowtimeHandler{Showtimes: s, Log: log}
}

type scheduleReq struct {
	MovieID  uint64           `json:"movie_id" validate:"required"`
	ScreenID uint64           `json:"screen_id" validate:"required"`
	StartsAt time.Time        `json:"starts_at" validate:"required"`
	EndsAt   time.Time        `json:"ends_at" validate:"required,gtfield=StartsAt"`
	Prices   map[string]int64 `json:"prices" validate:"required,min=1,dive,keys,oneof=standard premium vip,endkeys,gte=0"`
}

// SeatMap handles GET /v1/showtimes/:id/seats.  Public; lapsed holds show
// as available.
func (h *ShowtimeHandler) SeatMap(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtime id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	st, rows, err := h.Showtimes.SeatMap(ctx, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"showtime": toShowtimeResp(*st), "rows": rows})
}

// Schedule handles POST /v1/admin/showtimes.
func (h *ShowtimeHandler) Schedule(c echo.Context) error {
	var req scheduleReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	prices := make(model.PriceTable, len(req.Prices))
	for tier, p := range req.Prices {
		prices[model.Tier(tier)] = p
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	st, err := h.Showtimes.Schedule(ctx, service.ScheduleInput{
		MovieID:  req.MovieID,
		ScreenID: req.ScreenID,
		StartsAt: req.StartsAt.UTC(),
		EndsAt:   req.EndsAt.UTC(),
		Prices:   prices,
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, toShowtimeResp(*st))
}

// Deactivate handles DELETE /v1/admin/showtimes/:id.  A showtime with
// held or booked seats is only marked inactive.
func (h *ShowtimeHandler) Deactivate(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtime id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	soft, err := h.Showtimes.Deactivate(ctx, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "soft_deleted": soft})
}
