package model

import (
	"errors"
	"time"
)

// PaymentStatus tracks the money side of a booking.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// BookingStatus tracks the seat side of a booking.
type BookingStatus string

const (
	BookingReserved  BookingStatus = "reserved"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

var (
	// ErrAlreadyPaid is returned when a payment is attempted on a booking
	// whose payment already completed.
	ErrAlreadyPaid = errors.New("booking already paid")
	// ErrBookingCancelled is returned for any transition out of the
	// terminal cancelled state.
	ErrBookingCancelled = errors.New("booking cancelled")
	// ErrNotExpirable is returned when expiring a booking that is no
	// longer a pending reservation.
	ErrNotExpirable = errors.New("booking is not an unpaid reservation")
	// ErrBookingNotFound is returned by booking stores for an unknown ID.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrStaleBooking is returned by a compare-and-swap update when the
	// stored version no longer matches the caller's copy.
	ErrStaleBooking = errors.New("booking was modified concurrently")
)

// Booking is a user's selection of seats for one showtime together with
// its payment and booking status.  Bookings are never deleted;
// cancellation is a status transition.
//
// Fields:
//
//	ID            – opaque identifier, also written to the ledger rows it owns.
//	UserID        – user who made the booking.
//	ShowtimeID    – showtime being booked.
//	SeatIDs       – seats in request order.
//	TotalAmount   – sum of tier prices in the smallest currency unit.
//	PaymentStatus – pending, completed, failed or refunded.
//	Status        – reserved, confirmed or cancelled.
//	PaymentMethod – selects the payment gateway.
//	TransactionID – gateway reference once a charge succeeded.
//	Version       – optimistic concurrency counter, bumped on every update.
type Booking struct {
	ID            string        // bookings.id
	UserID        uint64        // bookings.user_id
	ShowtimeID    uint64        // bookings.showtime_id
	SeatIDs       []uint64      // booking_seats.seat_id
	TotalAmount   int64         // bookings.total_amount
	PaymentStatus PaymentStatus // bookings.payment_status
	Status        BookingStatus // bookings.booking_status
	PaymentMethod string        // bookings.payment_method
	TransactionID *string       // bookings.transaction_id (nullable)
	CreatedAt     time.Time     // bookings.created_at
	UpdatedAt     time.Time     // bookings.updated_at
	Version       uint32        // bookings.version
}

// NewBooking returns a freshly reserved booking awaiting payment.
func NewBooking(id string, userID, showtimeID uint64, seatIDs []uint64, total int64, method string, now time.Time) *Booking {
	seats := make([]uint64, len(seatIDs))
	copy(seats, seatIDs)
	return &Booking{
		ID:            id,
		UserID:        userID,
		ShowtimeID:    showtimeID,
		SeatIDs:       seats,
		TotalAmount:   total,
		PaymentStatus: PaymentPending,
		Status:        BookingReserved,
		PaymentMethod: method,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
}

// Clone returns a deep copy so a transition can be prepared without
// touching the caller's value.
func (b *Booking) Clone() *Booking {
	c := *b
	c.SeatIDs = append([]uint64(nil), b.SeatIDs...)
	if b.TransactionID != nil {
		tx := *b.TransactionID
		c.TransactionID = &tx
	}
	return &c
}

// CanPay reports whether a payment may be attempted.
func (b *Booking) CanPay() error {
	if b.PaymentStatus == PaymentCompleted {
		return ErrAlreadyPaid
	}
	if b.Status == BookingCancelled {
		return ErrBookingCancelled
	}
	return nil
}

// MarkPaid records a successful charge: RESERVED -> CONFIRMED.
func (b *Booking) MarkPaid(transactionID string, now time.Time) error {
	if err := b.CanPay(); err != nil {
		return err
	}
	b.PaymentStatus = PaymentCompleted
	b.Status = BookingConfirmed
	b.TransactionID = &transactionID
	b.UpdatedAt = now
	return nil
}

// MarkPaymentFailed records a failed charge.  The booking stays
// reserved so it can be retried or cancelled.
func (b *Booking) MarkPaymentFailed(now time.Time) error {
	if err := b.CanPay(); err != nil {
		return err
	}
	b.PaymentStatus = PaymentFailed
	b.UpdatedAt = now
	return nil
}

// Cancel moves the booking to the terminal state.  It returns true when
// the booking had been paid and is now marked refunded.
func (b *Booking) Cancel(now time.Time) (refunded bool, err error) {
	if b.Status == BookingCancelled {
		return false, ErrBookingCancelled
	}
	if b.PaymentStatus == PaymentCompleted {
		b.PaymentStatus = PaymentRefunded
		refunded = true
	}
	b.Status = BookingCancelled
	b.UpdatedAt = now
	return refunded, nil
}

// Expire cancels an unpaid reservation whose seat hold lapsed.
func (b *Booking) Expire(now time.Time) error {
	if b.Status != BookingReserved || b.PaymentStatus == PaymentCompleted {
		return ErrNotExpirable
	}
	b.Status = BookingCancelled
	b.UpdatedAt = now
	return nil
}
