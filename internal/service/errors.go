// Package service holds the booking lifecycle engine and the showtime
// scheduling rules built on top of the catalog, the reservation ledger,
// the booking store and the payment gateways.
//
// Errors returned from this package are either sentinels below or the
// typed ledger errors (*ledger.SeatConflictError, *ledger.UnknownSeatError)
// and *PaymentError.  Callers should test them with errors.Is / errors.As.
package service

import (
	"errors"

	"github.com/iliyamo/cinema-booking/internal/catalog"
	"github.com/iliyamo/cinema-booking/internal/ledger"
	"github.com/iliyamo/cinema-booking/internal/model"
)

var (
	ErrShowtimeNotFound = catalog.ErrShowtimeNotFound
	ErrShowtimeInactive = errors.New("showtime is not active")
	ErrShowtimeStarted  = errors.New("showtime already started")
	ErrShowtimeOverlap  = catalog.ErrShowtimeOverlap
	ErrInvalidShowtime  = errors.New("showtime must end after it starts")
	ErrEmptyScreen      = errors.New("screen has no active seats")
	ErrInvalidSeatTier  = catalog.ErrInvalidSeatTier
	ErrNoSeats          = errors.New("at least one seat is required")

	ErrBookingNotFound  = model.ErrBookingNotFound
	ErrStaleBooking     = model.ErrStaleBooking
	ErrAlreadyPaid      = model.ErrAlreadyPaid
	ErrBookingCancelled = model.ErrBookingCancelled
	ErrNotExpirable     = model.ErrNotExpirable

	// ErrUnauthorized is returned when the requester does not own the booking.
	ErrUnauthorized = errors.New("booking belongs to another user")
	// ErrCancellationWindowClosed is returned when cancelling closer to the
	// showtime start than the configured cutoff.
	ErrCancellationWindowClosed = errors.New("cancellation window closed")
	// ErrHoldExpired is returned when a booking no longer owns live holds
	// for all of its seats.
	ErrHoldExpired = ledger.ErrHoldExpired
	// ErrHoldActive is returned when expiring a booking whose holds are
	// still live.
	ErrHoldActive = errors.New("seat hold still active")
)

// PaymentError reports a declined, failed or timed out gateway call.
// Message is the gateway's own explanation.
type PaymentError struct {
	Message string
	Err     error
}

func (e *PaymentError) Error() string {
	if e.Message == "" {
		return "payment failed"
	}
	return "payment failed: " + e.Message
}

func (e *PaymentError) Unwrap() error { return e.Err }
