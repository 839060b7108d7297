package model

import (
	"strconv"
	"time"
)

// Tier is the pricing class of a seat.  Tier names are matched exactly
// against the keys of a showtime's price table.
type Tier string

const (
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
	TierVIP      Tier = "vip"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierStandard, TierPremium, TierVIP:
		return true
	}
	return false
}

// Seat describes a physical seat on a screen.  Seats are uniquely
// identified by their screen, row label and seat number and never
// change once created.
//
// Fields:
//
//	ID         – primary key identifier.
//	ScreenID   – screen to which this seat belongs.
//	Row        – letter or string designating the row.
//	Number     – number of the seat within the row.
//	Tier       – pricing tier (standard, premium, vip).
//	IsActive   – inactive seats are skipped when a showtime is scheduled.
//	CreatedAt  – creation timestamp.
type Seat struct {
	ID        uint64    // seats.id
	ScreenID  uint64    // seats.screen_id
	Row       string    // seats.row_label
	Number    uint32    // seats.seat_number
	Tier      Tier      // seats.tier
	IsActive  bool      // seats.is_active
	CreatedAt time.Time // seats.created_at
}

// Label is the printable seat name, such as "A12".
func (s Seat) Label() string {
	return s.Row + strconv.FormatUint(uint64(s.Number), 10)
}
