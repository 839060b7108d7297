// Package catalog provides read access to showtimes and seats and the
// tier pricing rules used when a booking is created.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/cinema-booking/internal/model"
)

// ErrShowtimeNotFound indicates that no showtime exists with the given ID.
var ErrShowtimeNotFound = errors.New("showtime not found")

// ErrShowtimeOverlap indicates that an active showtime on the same
// screen overlaps the one being created.
var ErrShowtimeOverlap = errors.New("showtime overlaps another showtime on the same screen")

// ErrInvalidSeatTier indicates a seat whose tier has no entry in the
// showtime's price table.
var ErrInvalidSeatTier = errors.New("invalid seat tier")

// Catalog is the read-only lookup the booking engine depends on.
type Catalog interface {
	// Showtime returns the showtime or ErrShowtimeNotFound.
	Showtime(ctx context.Context, id uint64) (*model.Showtime, error)
	// Seats returns the seats with the given IDs.  Unknown IDs are
	// omitted rather than reported.
	Seats(ctx context.Context, ids []uint64) ([]model.Seat, error)
	// ScreenSeats returns every seat of a screen ordered by row and number.
	ScreenSeats(ctx context.Context, screenID uint64) ([]model.Seat, error)
}

// Store extends Catalog with the showtime writes used by scheduling.
type Store interface {
	Catalog
	// CreateShowtime persists s and assigns its ID.  If s is active and
	// overlaps an active showtime of the same screen it fails with
	// ErrShowtimeOverlap instead.  The overlap check and the insert are
	// one atomic step per screen.
	CreateShowtime(ctx context.Context, s *model.Showtime) error
	// DeactivateShowtime marks the showtime inactive.
	DeactivateShowtime(ctx context.Context, id uint64) error
	// DeleteShowtime removes the showtime.
	DeleteShowtime(ctx context.Context, id uint64) error
}

// PriceFor returns the price of one seat of the given tier.  Tiers are
// matched exactly; a tier missing from the table is ErrInvalidSeatTier.
func PriceFor(prices model.PriceTable, tier model.Tier) (int64, error) {
	p, ok := prices[tier]
	if !ok || p < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSeatTier, tier)
	}
	return p, nil
}

// Total sums the tier price of every seat.
func Total(prices model.PriceTable, seats []model.Seat) (int64, error) {
	var sum int64
	for _, s := range seats {
		p, err := PriceFor(prices, s.Tier)
		if err != nil {
			return 0, fmt.Errorf("seat %d: %w", s.ID, err)
		}
		sum += p
	}
	return sum, nil
}
