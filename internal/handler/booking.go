package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-booking/internal/model"
	"github.com/iliyamo/cinema-booking/internal/service"
)

// BookingHandler exposes the booking lifecycle to authenticated
// customers.  Ownership checks happen in the service.
type BookingHandler struct {
	Bookings *service.BookingService
	Log      logrus.FieldLogger
}

func NewBookingHandler(b *service.BookingService, log logrus.FieldLogger) *BookingHandler {
	if b == nil {
		panic("nil booking service passed to NewBookingHandler")
	}
	return &BookingHandler{Bookings: b, Log: log}
}

// ----- DTOs -----

type createBookingReq struct {
	ShowtimeID    uint64   `json:"showtime_id" validate:"required"`
	SeatIDs       []uint64 `json:"seat_ids" validate:"required,min=1,dive,required"`
	PaymentMethod string   `json:"payment_method" validate:"required"`
}

type payReq struct {
	PaymentMethod string            `json:"payment_method"`
	Details       map[string]string `json:"details"`
}

type bookingResp struct {
	ID            string    `json:"id"`
	ShowtimeID    uint64    `json:"showtime_id"`
	SeatIDs       []uint64  `json:"seat_ids"`
	TotalAmount   int64     `json:"total_amount"`
	PaymentStatus string    `json:"payment_status"`
	Status        string    `json:"booking_status"`
	PaymentMethod string    `json:"payment_method"`
	TransactionID *string   `json:"transaction_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toBookingResp(b model.Booking) bookingResp {
	return bookingResp{
		ID:            b.ID,
		ShowtimeID:    b.ShowtimeID,
		SeatIDs:       b.SeatIDs,
		TotalAmount:   b.TotalAmount,
		PaymentStatus: string(b.PaymentStatus),
		Status:        string(b.Status),
		PaymentMethod: b.PaymentMethod,
		TransactionID: b.TransactionID,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

type seatResp struct {
	ID     uint64 `json:"id"`
	Label  string `json:"label"`
	Tier   string `json:"tier"`
	Screen uint64 `json:"screen_id"`
}

type showtimeResp struct {
	ID          uint64               `json:"id"`
	MovieID     uint64               `json:"movie_id"`
	ScreenID    uint64               `json:"screen_id"`
	MovieTitle  string               `json:"movie_title,omitempty"`
	TheaterName string               `json:"theater_name,omitempty"`
	StartsAt    time.Time            `json:"starts_at"`
	EndsAt      time.Time            `json:"ends_at"`
	Prices      map[model.Tier]int64 `json:"prices"`
	IsActive    bool                 `json:"is_active"`
}

func toShowtimeResp(s model.Showtime) showtimeResp {
	return showtimeResp{
		ID:          s.ID,
		MovieID:     s.MovieID,
		ScreenID:    s.ScreenID,
		MovieTitle:  s.MovieTitle,
		TheaterName: s.TheaterName,
		StartsAt:    s.StartsAt,
		EndsAt:      s.EndsAt,
		Prices:      s.Prices,
		IsActive:    s.IsActive,
	}
}

type bookingDetailsResp struct {
	bookingResp
	Showtime      showtimeResp `json:"showtime"`
	Seats         []seatResp   `json:"seats"`
	HoldExpiresAt *time.Time   `json:"hold_expires_at,omitempty"`
	HoldExpired   bool         `json:"hold_expired"`
}

// Create handles POST /v1/bookings.  It holds the seats and returns the
// reserved booking with 201.
func (h *BookingHandler) Create(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createBookingReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	b, err := h.Bookings.CreateBooking(ctx, service.CreateBookingInput{
		UserID:        uid,
		ShowtimeID:    req.ShowtimeID,
		SeatIDs:       req.SeatIDs,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, toBookingResp(*b))
}

// Pay handles POST /v1/bookings/:id/pay.  A declined charge answers 402
// and leaves the booking payable again.
func (h *BookingHandler) Pay(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req payReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), paymentRequestTimeout)
	defer cancel()

	b, err := h.Bookings.ProcessPayment(ctx, service.PaymentInput{
		BookingID: c.Param("id"),
		UserID:    uid,
		Method:    req.PaymentMethod,
		Details:   req.Details,
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toBookingResp(*b))
}

// Cancel handles DELETE /v1/bookings/:id.  Paid bookings are refunded.
func (h *BookingHandler) Cancel(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), paymentRequestTimeout)
	defer cancel()

	b, err := h.Bookings.CancelBooking(ctx, c.Param("id"), uid)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toBookingResp(*b))
}

// List handles GET /v1/bookings, newest first.
func (h *BookingHandler) List(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	list, err := h.Bookings.GetUserBookings(ctx, uid)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": lo.Map(list, func(b model.Booking, _ int) bookingResp {
		return toBookingResp(b)
	})})
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	d, err := h.Bookings.GetBookingDetails(ctx, c.Param("id"), uid)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, bookingDetailsResp{
		bookingResp: toBookingResp(d.Booking),
		Showtime:    toShowtimeResp(d.Showtime),
		Seats: lo.Map(d.Seats, func(s model.Seat, _ int) seatResp {
			return seatResp{ID: s.ID, Label: s.Label(), Tier: string(s.Tier), Screen: s.ScreenID}
		}),
		HoldExpiresAt: d.HoldExpiresAt,
		HoldExpired:   d.HoldExpired,
	})
}
