package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/cinema-booking/internal/model"
)

// SeatRepo reads the physical seats of a screen.  Seats are created with
// their screen and never change afterwards.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo {
	return &SeatRepo{db: db}
}

const seatCols = `id, screen_id, row_label, seat_number, tier, is_active, created_at`

func scanSeats(rows *sql.Rows) ([]model.Seat, error) {
	defer rows.Close()
	var out []model.Seat
	for rows.Next() {
		var (
			s    model.Seat
			tier string
		)
		if err := rows.Scan(&s.ID, &s.ScreenID, &s.Row, &s.Number, &tier, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Tier = model.Tier(tier)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Seats returns the seats with the given IDs in the order requested.
// IDs with no seat are skipped.
func (r *SeatRepo) Seats(ctx context.Context, ids []uint64) ([]model.Seat, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+seatCols+` FROM seats WHERE id IN (`+placeholders(len(ids))+`)`, uint64Args(ids)...)
	if err != nil {
		return nil, err
	}
	found, err := scanSeats(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint64]model.Seat, len(found))
	for _, s := range found {
		byID[s.ID] = s
	}
	out := make([]model.Seat, 0, len(found))
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// ScreenSeats lists every seat of a screen ordered by row and number.
func (r *SeatRepo) ScreenSeats(ctx context.Context, screenID uint64) ([]model.Seat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+seatCols+` FROM seats WHERE screen_id = ? ORDER BY row_label, seat_number`, screenID)
	if err != nil {
		return nil, err
	}
	return scanSeats(rows)
}
