package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/iliyamo/cinema-booking/internal/ledger"
	"github.com/iliyamo/cinema-booking/internal/model"
)

// SeatReservationRepo is the MySQL reservation ledger.  Each multi-row
// operation runs in one transaction that locks the affected rows with
// SELECT ... FOR UPDATE in seat_id order, so two holds that share a seat
// serialise on it while holds on disjoint seats proceed in parallel.
type SeatReservationRepo struct {
	db       *sql.DB
	now      func() time.Time
	attempts int
}

var _ ledger.Ledger = (*SeatReservationRepo)(nil)

// NewSeatReservationRepo returns a ledger bound to db.
func NewSeatReservationRepo(db *sql.DB) *SeatReservationRepo {
	return &SeatReservationRepo{db: db, now: func() time.Time { return time.Now().UTC() }, attempts: 3}
}

const reservationCols = `showtime_id, seat_id, status, booking_id, expires_at, version`

func scanReservations(rows *sql.Rows) ([]model.SeatReservation, error) {
	defer rows.Close()
	var out []model.SeatReservation
	for rows.Next() {
		var (
			r         model.SeatReservation
			status    string
			bookingID sql.NullString
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&r.ShowtimeID, &r.SeatID, &status, &bookingID, &expiresAt, &r.Version); err != nil {
			return nil, err
		}
		r.Status = model.ReservationStatus(status)
		if bookingID.Valid {
			b := bookingID.String
			r.BookingID = &b
		}
		if expiresAt.Valid {
			e := expiresAt.Time.UTC()
			r.ExpiresAt = &e
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func selectSeats(ctx context.Context, q querier, showtimeID uint64, ids []uint64, lock bool) ([]model.SeatReservation, error) {
	query := `SELECT ` + reservationCols + ` FROM seat_reservations
	          WHERE showtime_id = ? AND seat_id IN (` + placeholders(len(ids)) + `)
	          ORDER BY seat_id`
	if lock {
		query += ` FOR UPDATE`
	}
	args := append([]interface{}{showtimeID}, uint64Args(ids)...)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

// Initialize inserts one available row per seat in a single statement.
func (r *SeatReservationRepo) Initialize(ctx context.Context, showtimeID uint64, seatIDs []uint64) error {
	ids := ledger.Normalize(seatIDs)
	return inTx(ctx, r.db, r.attempts, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM seat_reservations WHERE showtime_id = ?`, showtimeID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return ledger.ErrAlreadyInitialized
		}
		if len(ids) == 0 {
			return nil
		}
		query := `INSERT INTO seat_reservations (showtime_id, seat_id, status) VALUES `
		args := make([]interface{}, 0, len(ids)*2)
		for i, id := range ids {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, 'available')"
			args = append(args, showtimeID, id)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if isDuplicate(err) {
				return ledger.ErrAlreadyInitialized
			}
			return err
		}
		return nil
	})
}

// CheckAvailable is a non-locking read.  Hold repeats the check under
// row locks, so a stale answer here only costs a failed hold.
func (r *SeatReservationRepo) CheckAvailable(ctx context.Context, showtimeID uint64, seatIDs []uint64) ([]uint64, error) {
	ids := ledger.Normalize(seatIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := selectSeats(ctx, r.db, showtimeID, ids, false)
	if err != nil {
		return nil, err
	}
	if missing := ledger.Missing(ids, rows); len(missing) > 0 {
		return nil, &ledger.UnknownSeatError{ShowtimeID: showtimeID, SeatIDs: missing}
	}
	return ledger.Unavailable(rows, "", r.now()), nil
}

func (r *SeatReservationRepo) Hold(ctx context.Context, showtimeID uint64, seatIDs []uint64, bookingID string, ttl time.Duration) (time.Time, error) {
	ids := ledger.Normalize(seatIDs)
	if len(ids) == 0 {
		return time.Time{}, &ledger.UnknownSeatError{ShowtimeID: showtimeID}
	}
	var expires time.Time
	err := inTx(ctx, r.db, r.attempts, func(tx *sql.Tx) error {
		rows, err := selectSeats(ctx, tx, showtimeID, ids, true)
		if err != nil {
			return err
		}
		if missing := ledger.Missing(ids, rows); len(missing) > 0 {
			return &ledger.UnknownSeatError{ShowtimeID: showtimeID, SeatIDs: missing}
		}
		now := r.now()
		if taken := ledger.Unavailable(rows, bookingID, now); len(taken) > 0 {
			return &ledger.SeatConflictError{ShowtimeID: showtimeID, SeatIDs: taken}
		}

		expires = now.Add(ttl)
		query := `UPDATE seat_reservations
		          SET status = 'held', booking_id = ?, expires_at = ?, version = version + 1
		          WHERE showtime_id = ? AND seat_id IN (` + placeholders(len(ids)) + `)`
		args := append([]interface{}{bookingID, expires, showtimeID}, uint64Args(ids)...)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && int(n) != len(ids) {
			return fmt.Errorf("hold updated %d of %d seats", n, len(ids))
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return expires, nil
}

func (r *SeatReservationRepo) Confirm(ctx context.Context, bookingID string) (int, error) {
	var n int
	err := inTx(ctx, r.db, r.attempts, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+reservationCols+` FROM seat_reservations WHERE booking_id = ? ORDER BY showtime_id, seat_id FOR UPDATE`,
			bookingID)
		if err != nil {
			return err
		}
		owned, err := scanReservations(rows)
		if err != nil {
			return err
		}
		now := r.now()
		if len(owned) == 0 || lo.SomeBy(owned, func(row model.SeatReservation) bool { return row.Expired(now) }) {
			return ledger.ErrHoldExpired
		}
		n = len(owned)
		_, err = tx.ExecContext(ctx,
			`UPDATE seat_reservations SET status = 'booked', expires_at = NULL, version = version + 1
			 WHERE booking_id = ? AND status = 'held'`,
			bookingID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Release is a single UPDATE, which InnoDB applies atomically.
func (r *SeatReservationRepo) Release(ctx context.Context, bookingID string) (int, error) {
	var n int64
	err := inTx(ctx, r.db, r.attempts, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE seat_reservations SET status = 'available', booking_id = NULL, expires_at = NULL, version = version + 1
			 WHERE booking_id = ?`,
			bookingID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

func (r *SeatReservationRepo) SweepExpired(ctx context.Context) ([]string, error) {
	var released []string
	err := inTx(ctx, r.db, r.attempts, func(tx *sql.Tx) error {
		now := r.now()
		rows, err := tx.QueryContext(ctx,
			`SELECT `+reservationCols+` FROM seat_reservations
			 WHERE status = 'held' AND expires_at <= ?
			 ORDER BY showtime_id, seat_id FOR UPDATE`,
			now)
		if err != nil {
			return err
		}
		stale, err := scanReservations(rows)
		if err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}
		released = lo.Uniq(lo.FilterMap(stale, func(row model.SeatReservation, _ int) (string, bool) {
			if row.BookingID == nil {
				return "", false
			}
			return *row.BookingID, true
		}))
		_, err = tx.ExecContext(ctx,
			`UPDATE seat_reservations SET status = 'available', booking_id = NULL, expires_at = NULL, version = version + 1
			 WHERE status = 'held' AND expires_at <= ?`,
			now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

func (r *SeatReservationRepo) Rows(ctx context.Context, showtimeID uint64) ([]model.SeatReservation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reservationCols+` FROM seat_reservations WHERE showtime_id = ? ORDER BY seat_id`, showtimeID)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

func (r *SeatReservationRepo) RowsForBooking(ctx context.Context, bookingID string) ([]model.SeatReservation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reservationCols+` FROM seat_reservations WHERE booking_id = ? ORDER BY seat_id`, bookingID)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

// DropIfUnused locks every row of the showtime before looking at them,
// so a hold either commits first and keeps the rows, or waits and then
// finds its seats gone.
func (r *SeatReservationRepo) DropIfUnused(ctx context.Context, showtimeID uint64) (bool, error) {
	dropped := false
	err := inTx(ctx, r.db, r.attempts, func(tx *sql.Tx) error {
		dropped = false
		rows, err := tx.QueryContext(ctx,
			`SELECT `+reservationCols+` FROM seat_reservations WHERE showtime_id = ? ORDER BY seat_id FOR UPDATE`,
			showtimeID)
		if err != nil {
			return err
		}
		current, err := scanReservations(rows)
		if err != nil {
			return err
		}
		if lo.SomeBy(current, func(row model.SeatReservation) bool { return row.Status != model.SeatAvailable }) {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM seat_reservations WHERE showtime_id = ?`, showtimeID); err != nil {
			return err
		}
		dropped = true
		return nil
	})
	return dropped, err
}
