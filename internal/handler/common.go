package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-booking/internal/ledger"
	"github.com/iliyamo/cinema-booking/internal/middleware"
	"github.com/iliyamo/cinema-booking/internal/payment"
	"github.com/iliyamo/cinema-booking/internal/service"
)

// requestTimeout bounds the work of one request.  Payment requests get
// paymentRequestTimeout so a slow gateway hits its own timeout first.
const (
	requestTimeout        = 5 * time.Second
	paymentRequestTimeout = 30 * time.Second
)

// Validator adapts go-playground/validator to echo.Validator.
type Validator struct{ v *validator.Validate }

func NewValidator() *Validator { return &Validator{v: validator.New()} }

func (cv *Validator) Validate(i interface{}) error { return cv.v.Struct(i) }

// bindValid binds the request body into dst and validates it.  It writes
// the 400 response itself and reports whether the handler may continue.
func bindValid(c echo.Context, dst interface{}) (bool, error) {
	if err := c.Bind(dst); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": fields})
		}
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return true, nil
}

func currentUser(c echo.Context) (uint64, bool) { return middleware.UserID(c) }

func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id != 0
}

// writeError maps errors from the booking core to HTTP statuses.
// Unknown errors are logged and reported as 500 without detail.
func writeError(c echo.Context, log logrus.FieldLogger, err error) error {
	var (
		conflict *ledger.SeatConflictError
		unknown  *ledger.UnknownSeatError
		payErr   *service.PaymentError
	)
	switch {
	case errors.As(err, &conflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "seats unavailable", "seat_ids": conflict.SeatIDs})
	case errors.As(err, &unknown):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown seats", "seat_ids": unknown.SeatIDs})
	case errors.As(err, &payErr):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": payErr.Error(), "message": payErr.Message})
	case errors.Is(err, service.ErrNoSeats),
		errors.Is(err, service.ErrInvalidShowtime),
		errors.Is(err, payment.ErrUnknownMethod):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrShowtimeNotFound),
		errors.Is(err, service.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrUnauthorized):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidSeatTier),
		errors.Is(err, service.ErrEmptyScreen):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrAlreadyPaid),
		errors.Is(err, service.ErrCancellationWindowClosed),
		errors.Is(err, service.ErrHoldExpired),
		errors.Is(err, service.ErrHoldActive),
		errors.Is(err, service.ErrBookingCancelled),
		errors.Is(err, service.ErrNotExpirable),
		errors.Is(err, service.ErrStaleBooking),
		errors.Is(err, service.ErrShowtimeInactive),
		errors.Is(err, service.ErrShowtimeStarted),
		errors.Is(err, service.ErrShowtimeOverlap),
		errors.Is(err, ledger.ErrAlreadyInitialized):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	log.WithError(err).WithField("path", c.Path()).Error("request failed")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
