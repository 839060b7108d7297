package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/iliyamo/cinema-booking/internal/catalog"
	"github.com/iliyamo/cinema-booking/internal/model"
)

// ShowtimeRepo manages the showtimes table.  Movie title and theater
// name are joined in on read; they are not stored on the showtime.
type ShowtimeRepo struct {
	db *sql.DB
}

// NewShowtimeRepo constructs a ShowtimeRepo with the given DB handle.
func NewShowtimeRepo(db *sql.DB) *ShowtimeRepo {
	return &ShowtimeRepo{db: db}
}

const showtimeSelect = `SELECT s.id, s.movie_id, s.screen_id, COALESCE(m.title, ''), COALESCE(t.name, ''),
	       s.starts_at, s.ends_at, s.price_standard, s.price_premium, s.price_vip, s.is_active, s.created_at
	FROM showtimes s
	LEFT JOIN movies m ON m.id = s.movie_id
	LEFT JOIN screens sc ON sc.id = s.screen_id
	LEFT JOIN theaters t ON t.id = sc.theater_id`

func scanShowtime(s rowScanner) (*model.Showtime, error) {
	var (
		st                     model.Showtime
		standard, premium, vip sql.NullInt64
	)
	if err := s.Scan(&st.ID, &st.MovieID, &st.ScreenID, &st.MovieTitle, &st.TheaterName,
		&st.StartsAt, &st.EndsAt, &standard, &premium, &vip, &st.IsActive, &st.CreatedAt); err != nil {
		return nil, err
	}
	st.StartsAt = st.StartsAt.UTC()
	st.EndsAt = st.EndsAt.UTC()
	st.Prices = model.PriceTable{}
	for tier, p := range map[model.Tier]sql.NullInt64{
		model.TierStandard: standard,
		model.TierPremium:  premium,
		model.TierVIP:      vip,
	} {
		if p.Valid {
			st.Prices[tier] = p.Int64
		}
	}
	return &st, nil
}

func priceArg(prices model.PriceTable, tier model.Tier) sql.NullInt64 {
	p, ok := prices[tier]
	return sql.NullInt64{Int64: p, Valid: ok}
}

// Showtime returns the showtime or catalog.ErrShowtimeNotFound.
func (r *ShowtimeRepo) Showtime(ctx context.Context, id uint64) (*model.Showtime, error) {
	st, err := scanShowtime(r.db.QueryRowContext(ctx, showtimeSelect+` WHERE s.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, catalog.ErrShowtimeNotFound
		}
		return nil, err
	}
	return st, nil
}

// screenShowtimes lists the active showtimes of a screen by start time.
func screenShowtimes(ctx context.Context, q querier, screenID uint64) ([]model.Showtime, error) {
	rows, err := q.QueryContext(ctx,
		showtimeSelect+` WHERE s.screen_id = ? AND s.is_active = 1 ORDER BY s.starts_at ASC`, screenID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Showtime
	for rows.Next() {
		st, err := scanShowtime(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateShowtime inserts s and assigns the generated ID.  The screen row
// is locked for the duration of the transaction, so concurrent
// schedules on one screen run their overlap check one at a time.
func (r *ShowtimeRepo) CreateShowtime(ctx context.Context, s *model.Showtime) error {
	return runTx(ctx, r.db, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM screens WHERE id = ? FOR UPDATE`, s.ScreenID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("screen %d not found", s.ScreenID)
		}
		if err != nil {
			return err
		}

		if s.IsActive {
			existing, err := screenShowtimes(ctx, tx, s.ScreenID)
			if err != nil {
				return err
			}
			if lo.SomeBy(existing, func(o model.Showtime) bool { return s.Overlaps(o) }) {
				return catalog.ErrShowtimeOverlap
			}
		}

		const q = `INSERT INTO showtimes (movie_id, screen_id, starts_at, ends_at, price_standard, price_premium, price_vip, is_active, created_at)
		           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
		res, err := tx.ExecContext(ctx, q, s.MovieID, s.ScreenID, s.StartsAt.UTC(), s.EndsAt.UTC(),
			priceArg(s.Prices, model.TierStandard), priceArg(s.Prices, model.TierPremium), priceArg(s.Prices, model.TierVIP),
			s.IsActive, s.CreatedAt.UTC())
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		s.ID = uint64(id)
		return nil
	})
}

// DeactivateShowtime soft-deletes a showtime.
func (r *ShowtimeRepo) DeactivateShowtime(ctx context.Context, id uint64) error {
	return r.execOne(ctx, `UPDATE showtimes SET is_active = 0 WHERE id = ?`, id)
}

// DeleteShowtime removes a showtime row.
func (r *ShowtimeRepo) DeleteShowtime(ctx context.Context, id uint64) error {
	return r.execOne(ctx, `DELETE FROM showtimes WHERE id = ?`, id)
}

// execOne runs a statement keyed by showtime ID and maps "no such row"
// to catalog.ErrShowtimeNotFound.  MySQL reports zero affected rows for
// an UPDATE that changes nothing, so existence is checked separately.
func (r *ShowtimeRepo) execOne(ctx context.Context, q string, id uint64) error {
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM showtimes WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.ErrShowtimeNotFound
	}
	return err
}

// Catalog combines the showtime and seat repositories into a catalog.Store.
type Catalog struct {
	*ShowtimeRepo
	*SeatRepo
}

var _ catalog.Store = (*Catalog)(nil)

// NewCatalog returns a MySQL-backed catalog.
func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{ShowtimeRepo: NewShowtimeRepo(db), SeatRepo: NewSeatRepo(db)}
}
