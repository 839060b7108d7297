package model

import "time"

// PriceTable maps a seat tier to its price in the smallest currency
// unit.  A tier missing from the table cannot be sold.
type PriceTable map[Tier]int64

// Showtime represents a scheduled screening of a movie on a screen.
// Two active showtimes on the same screen never overlap on the
// half-open interval [StartsAt, EndsAt).
//
// Fields:
//
//	ID          – primary key identifier.
//	MovieID     – movie being screened.
//	ScreenID    – screen where the showtime takes place.
//	MovieTitle  – descriptor joined from movies, used in notifications.
//	TheaterName – descriptor joined from theaters, used in notifications.
//	StartsAt    – when the showtime begins.
//	EndsAt      – when the showtime ends (must be after StartsAt).
//	Prices      – per-tier price table.
//	IsActive    – false once the showtime is soft-deleted.
type Showtime struct {
	ID          uint64     // showtimes.id
	MovieID     uint64     // showtimes.movie_id
	ScreenID    uint64     // showtimes.screen_id
	MovieTitle  string     // movies.title
	TheaterName string     // theaters.name
	StartsAt    time.Time  // showtimes.starts_at
	EndsAt      time.Time  // showtimes.ends_at
	Prices      PriceTable // showtimes.price_standard / price_premium / price_vip
	IsActive    bool       // showtimes.is_active
	CreatedAt   time.Time  // showtimes.created_at
}

// Overlaps reports whether s and o share any instant on the same screen.
func (s Showtime) Overlaps(o Showtime) bool {
	return s.ScreenID == o.ScreenID && s.StartsAt.Before(o.EndsAt) && o.StartsAt.Before(s.EndsAt)
}
