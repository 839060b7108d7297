// Package ledger tracks the per-(showtime, seat) reservation state and
// is the only place that moves a seat between available, held and
// booked.  Every operation applies to its whole seat set or to none of
// it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/iliyamo/cinema-booking/internal/model"
)

var (
	// ErrAlreadyInitialized is returned by Initialize when rows already
	// exist for the showtime.
	ErrAlreadyInitialized = errors.New("ledger already initialized for showtime")
	// ErrSeatConflict matches any *SeatConflictError via errors.Is.
	ErrSeatConflict = errors.New("seat conflict")
	// ErrUnknownSeat matches any *UnknownSeatError via errors.Is.
	ErrUnknownSeat = errors.New("unknown seat")
	// ErrHoldExpired is returned by Confirm when a hold owned by the
	// booking lapsed before it could be converted to a sale.
	ErrHoldExpired = errors.New("seat hold expired")
)

// SeatConflictError names the seats that could not be held because they
// are booked or held by another booking.
type SeatConflictError struct {
	ShowtimeID uint64
	SeatIDs    []uint64
}

func (e *SeatConflictError) Error() string {
	return fmt.Sprintf("seats unavailable for showtime %d: %s", e.ShowtimeID, joinIDs(e.SeatIDs))
}

func (e *SeatConflictError) Is(target error) bool { return target == ErrSeatConflict }

// UnknownSeatError names seats that have no ledger row for the showtime.
type UnknownSeatError struct {
	ShowtimeID uint64
	SeatIDs    []uint64
}

func (e *UnknownSeatError) Error() string {
	return fmt.Sprintf("seats not part of showtime %d: %s", e.ShowtimeID, joinIDs(e.SeatIDs))
}

func (e *UnknownSeatError) Is(target error) bool { return target == ErrUnknownSeat }

// Ledger is the reservation ledger contract.  Expired holds are treated
// as available by every read and by Hold, whether or not SweepExpired
// has run.
type Ledger interface {
	// Initialize inserts one available row per seat.
	Initialize(ctx context.Context, showtimeID uint64, seatIDs []uint64) error
	// CheckAvailable returns the requested seats that cannot be held
	// right now.
	CheckAvailable(ctx context.Context, showtimeID uint64, seatIDs []uint64) ([]uint64, error)
	// Hold binds every named seat to bookingID until the returned
	// expiry, or fails without touching any row.
	Hold(ctx context.Context, showtimeID uint64, seatIDs []uint64, bookingID string, ttl time.Duration) (time.Time, error)
	// Confirm turns the booking's holds into sales and returns how many
	// rows the booking now owns as booked.  Calling it again is a no-op.
	Confirm(ctx context.Context, bookingID string) (int, error)
	// Release returns every row owned by bookingID to available.
	Release(ctx context.Context, bookingID string) (int, error)
	// SweepExpired releases every lapsed hold and returns the affected
	// booking IDs.
	SweepExpired(ctx context.Context) ([]string, error)
	// Rows lists the showtime's ledger ordered by seat ID.
	Rows(ctx context.Context, showtimeID uint64) ([]model.SeatReservation, error)
	// RowsForBooking lists the rows currently owned by bookingID.
	RowsForBooking(ctx context.Context, bookingID string) ([]model.SeatReservation, error)
	// DropIfUnused deletes the showtime's rows only if every one of them
	// is available, and reports whether it did.  Held rows count as in
	// use even when their hold has lapsed.  No hold can slip in between
	// the check and the delete.
	DropIfUnused(ctx context.Context, showtimeID uint64) (bool, error)
}

// Unavailable returns the seat IDs among rows that a new hold by
// bookingID could not take at now.  An empty bookingID never owns a row.
func Unavailable(rows []model.SeatReservation, bookingID string, now time.Time) []uint64 {
	var out []uint64
	for _, r := range rows {
		switch r.EffectiveStatus(now) {
		case model.SeatAvailable:
		case model.SeatHeld:
			if bookingID == "" || !r.HeldBy(bookingID, now) {
				out = append(out, r.SeatID)
			}
		default:
			out = append(out, r.SeatID)
		}
	}
	sortIDs(out)
	return out
}

// Normalize drops zero and duplicate IDs and sorts the rest so that
// row locks are always taken in the same order.
func Normalize(seatIDs []uint64) []uint64 {
	ids := lo.Uniq(lo.Filter(seatIDs, func(id uint64, _ int) bool { return id != 0 }))
	sortIDs(ids)
	return ids
}

// Missing returns the requested IDs that have no row.
func Missing(requested []uint64, rows []model.SeatReservation) []uint64 {
	found := lo.Map(rows, func(r model.SeatReservation, _ int) uint64 { return r.SeatID })
	missing, _ := lo.Difference(requested, found)
	sortIDs(missing)
	return missing
}

func sortIDs(ids []uint64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func joinIDs(ids []uint64) string {
	parts := lo.Map(ids, func(id uint64, _ int) string { return fmt.Sprint(id) })
	return strings.Join(parts, ",")
}
