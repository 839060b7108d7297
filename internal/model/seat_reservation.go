package model

import "time"

// ReservationStatus is the state of one (showtime, seat) ledger row.
type ReservationStatus string

const (
	SeatAvailable ReservationStatus = "available"
	SeatHeld      ReservationStatus = "held"
	SeatBooked    ReservationStatus = "booked"
)

// SeatReservation is the ledger row for a seat in a showtime.  There is
// exactly one row per (ShowtimeID, SeatID).
//
//	available – BookingID and ExpiresAt are nil.
//	held      – BookingID and ExpiresAt are set; the hold lapses at ExpiresAt.
//	booked    – BookingID is set, ExpiresAt is nil.
type SeatReservation struct {
	ShowtimeID uint64            // seat_reservations.showtime_id
	SeatID     uint64            // seat_reservations.seat_id
	Status     ReservationStatus // seat_reservations.status
	BookingID  *string           // seat_reservations.booking_id (nullable)
	ExpiresAt  *time.Time        // seat_reservations.expires_at (nullable)
	Version    uint32            // seat_reservations.version
}

// Expired reports whether the row is a hold that has lapsed at now.
func (r SeatReservation) Expired(now time.Time) bool {
	return r.Status == SeatHeld && r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// EffectiveStatus is the status a reader should act on: an expired hold
// counts as available even before it has been swept.
func (r SeatReservation) EffectiveStatus(now time.Time) ReservationStatus {
	if r.Expired(now) {
		return SeatAvailable
	}
	return r.Status
}

// HeldBy reports whether the row is an unexpired hold owned by bookingID.
func (r SeatReservation) HeldBy(bookingID string, now time.Time) bool {
	return r.Status == SeatHeld && r.BookingID != nil && *r.BookingID == bookingID && !r.Expired(now)
}
