package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/cinema-booking/internal/model"
)

// BookingRepo persists bookings and their ordered seat lists.  Bookings
// are never deleted; Update is a compare-and-swap on the version column.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a BookingRepo bound to db.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingCols = `id, user_id, showtime_id, total_amount, payment_status, booking_status,
	payment_method, transaction_id, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(s rowScanner) (*model.Booking, error) {
	var (
		b             model.Booking
		paymentStatus string
		bookingStatus string
		txID          sql.NullString
	)
	if err := s.Scan(&b.ID, &b.UserID, &b.ShowtimeID, &b.TotalAmount, &paymentStatus, &bookingStatus,
		&b.PaymentMethod, &txID, &b.Version, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.PaymentStatus = model.PaymentStatus(paymentStatus)
	b.Status = model.BookingStatus(bookingStatus)
	if txID.Valid {
		t := txID.String
		b.TransactionID = &t
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Create inserts the booking and its seats in one transaction.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking) error {
	return runTx(ctx, r.db, func(tx *sql.Tx) error {
		const q = `INSERT INTO bookings (id, user_id, showtime_id, total_amount, payment_status, booking_status,
		           payment_method, transaction_id, version, created_at, updated_at)
		           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, q, b.ID, b.UserID, b.ShowtimeID, b.TotalAmount,
			string(b.PaymentStatus), string(b.Status), b.PaymentMethod, nullString(b.TransactionID),
			b.Version, b.CreatedAt.UTC(), b.UpdatedAt.UTC()); err != nil {
			if isDuplicate(err) {
				return ErrConflict
			}
			return err
		}
		if len(b.SeatIDs) == 0 {
			return nil
		}
		query := `INSERT INTO booking_seats (booking_id, seat_id, position) VALUES `
		args := make([]interface{}, 0, len(b.SeatIDs)*3)
		for i, id := range b.SeatIDs {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?)"
			args = append(args, b.ID, id, i)
		}
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
}

// Get loads a booking with its seats or returns model.ErrBookingNotFound.
func (r *BookingRepo) Get(ctx context.Context, id string) (*model.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, `SELECT `+bookingCols+` FROM bookings WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrBookingNotFound
		}
		return nil, err
	}
	seats, err := r.seats(ctx, []string{b.ID})
	if err != nil {
		return nil, err
	}
	b.SeatIDs = seats[b.ID]
	return b, nil
}

// Update writes the mutable status fields when the stored version still
// equals b.Version, then bumps b.Version.
func (r *BookingRepo) Update(ctx context.Context, b *model.Booking) error {
	const q = `UPDATE bookings
	           SET payment_status = ?, booking_status = ?, payment_method = ?, transaction_id = ?,
	               updated_at = ?, version = version + 1
	           WHERE id = ? AND version = ?`
	res, err := r.db.ExecContext(ctx, q, string(b.PaymentStatus), string(b.Status), b.PaymentMethod,
		nullString(b.TransactionID), b.UpdatedAt.UTC(), b.ID, b.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var one int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM bookings WHERE id = ?`, b.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrBookingNotFound
		}
		if err != nil {
			return err
		}
		return model.ErrStaleBooking
	}
	b.Version++
	return nil
}

// ListByUser returns the user's bookings newest first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookingCols+` FROM bookings WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}
	ids := make([]string, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	seats, err := r.seats(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].SeatIDs = seats[out[i].ID]
	}
	return out, nil
}

func (r *BookingRepo) seats(ctx context.Context, bookingIDs []string) (map[string][]uint64, error) {
	args := make([]interface{}, len(bookingIDs))
	for i, id := range bookingIDs {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT booking_id, seat_id FROM booking_seats WHERE booking_id IN (`+placeholders(len(args))+`)
		 ORDER BY booking_id, position`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]uint64, len(bookingIDs))
	for rows.Next() {
		var (
			bid string
			sid uint64
		)
		if err := rows.Scan(&bid, &sid); err != nil {
			return nil, err
		}
		out[bid] = append(out[bid], sid)
	}
	return out, rows.Err()
}
