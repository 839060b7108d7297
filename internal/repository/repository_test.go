package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/cinema-booking/internal/catalog"
	"github.com/iliyamo/cinema-booking/internal/ledger"
	"github.com/iliyamo/cinema-booking/internal/model"
)

var (
	testNow  = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	resvCols = []string{"showtime_id", "seat_id", "status", "booking_id", "expires_at", "version"}
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func newLedger(db *sql.DB) *SeatReservationRepo {
	r := NewSeatReservationRepo(db)
	r.now = func() time.Time { return testNow }
	return r
}

func TestInitializeInsertsAllSeats(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM seat_reservations`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO seat_reservations`).
		WithArgs(7, 1, 7, 2, 7, 3).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, newLedger(db).Initialize(context.Background(), 7, []uint64{3, 1, 2, 2}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitializeTwice(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM seat_reservations`).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(3))
	mock.ExpectRollback()

	err := newLedger(db).Initialize(context.Background(), 7, []uint64{1})
	assert.ErrorIs(t, err, ledger.ErrAlreadyInitialized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHoldLocksAndUpdates(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM seat_reservations WHERE showtime_id = \? AND seat_id IN \(\?, \?\) ORDER BY seat_id FOR UPDATE`).
		WithArgs(7, 1, 2).
		WillReturnRows(sqlmock.NewRows(resvCols).
			AddRow(7, 1, "available", nil, nil, 0).
			AddRow(7, 2, "available", nil, nil, 0))
	mock.ExpectExec(`UPDATE seat_reservations\s+SET status = 'held'`).
		WithArgs("bk-1", testNow.Add(15*time.Minute), 7, 1, 2).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	exp, err := newLedger(db).Hold(context.Background(), 7, []uint64{2, 1}, "bk-1", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(15*time.Minute), exp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHoldConflictRollsBack(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(resvCols).
			AddRow(7, 1, "available", nil, nil, 0).
			AddRow(7, 2, "held", "other", testNow.Add(time.Minute), 1))
	mock.ExpectRollback()

	_, err := newLedger(db).Hold(context.Background(), 7, []uint64{1, 2}, "bk-1", time.Minute)
	require.ErrorIs(t, err, ledger.ErrSeatConflict)
	var conflict *ledger.SeatConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []uint64{2}, conflict.SeatIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHoldTakesOverLapsedHold(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(resvCols).
			AddRow(7, 1, "held", "other", testNow.Add(-time.Second), 1))
	mock.ExpectExec(`UPDATE seat_reservations`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := newLedger(db).Hold(context.Background(), 7, []uint64{1}, "bk-1", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHoldUnknownSeat(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(resvCols).AddRow(7, 1, "available", nil, nil, 0))
	mock.ExpectRollback()

	_, err := newLedger(db).Hold(context.Background(), 7, []uint64{1, 99}, "bk-1", time.Minute)
	assert.ErrorIs(t, err, ledger.ErrUnknownSeat)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHoldRetriesDeadlock(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(resvCols).AddRow(7, 1, "available", nil, nil, 0))
	mock.ExpectExec(`UPDATE seat_reservations`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := newLedger(db).Hold(context.Background(), 7, []uint64{1}, "bk-1", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmLapsedHold(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE booking_id = \? ORDER BY showtime_id, seat_id FOR UPDATE`).
		WithArgs("bk-1").
		WillReturnRows(sqlmock.NewRows(resvCols).
			AddRow(7, 1, "held", "bk-1", testNow.Add(time.Minute), 1).
			AddRow(7, 2, "held", "bk-1", testNow.Add(-time.Minute), 1))
	mock.ExpectRollback()

	_, err := newLedger(db).Confirm(context.Background(), "bk-1")
	assert.ErrorIs(t, err, ledger.ErrHoldExpired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmBooksOwnedRows(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE booking_id = \?`).
		WillReturnRows(sqlmock.NewRows(resvCols).
			AddRow(7, 1, "held", "bk-1", testNow.Add(time.Minute), 1).
			AddRow(7, 2, "held", "bk-1", testNow.Add(time.Minute), 1))
	mock.ExpectExec(`SET status = 'booked'`).WithArgs("bk-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := newLedger(db).Confirm(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseCountsRows(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SET status = 'available', booking_id = NULL`).
		WithArgs("bk-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := newLedger(db).Release(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepExpiredReturnsBookings(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE status = 'held' AND expires_at <= \?`).
		WithArgs(testNow).
		WillReturnRows(sqlmock.NewRows(resvCols).
			AddRow(7, 1, "held", "bk-1", testNow.Add(-time.Minute), 1).
			AddRow(7, 2, "held", "bk-1", testNow.Add(-time.Minute), 1).
			AddRow(8, 5, "held", "bk-2", testNow, 1))
	mock.ExpectExec(`UPDATE seat_reservations SET status = 'available'`).
		WithArgs(testNow).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	ids, err := newLedger(db).SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"bk-1", "bk-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropIfUnused(t *testing.T) {
	t.Run("in use", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM seat_reservations WHERE showtime_id = \? ORDER BY seat_id FOR UPDATE`).
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows(resvCols).
				AddRow(7, 1, "available", nil, nil, 0).
				AddRow(7, 2, "held", "bk-1", testNow.Add(-time.Minute), 1))
		mock.ExpectCommit()

		dropped, err := newLedger(db).DropIfUnused(context.Background(), 7)
		require.NoError(t, err)
		assert.False(t, dropped)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unused", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM seat_reservations WHERE showtime_id = \? ORDER BY seat_id FOR UPDATE`).
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows(resvCols).
				AddRow(7, 1, "available", nil, nil, 0).
				AddRow(7, 2, "available", nil, nil, 3))
		mock.ExpectExec(`DELETE FROM seat_reservations WHERE showtime_id = \?`).
			WithArgs(7).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		dropped, err := newLedger(db).DropIfUnused(context.Background(), 7)
		require.NoError(t, err)
		assert.True(t, dropped)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

var bookingColNames = []string{"id", "user_id", "showtime_id", "total_amount", "payment_status", "booking_status",
	"payment_method", "transaction_id", "version", "created_at", "updated_at"}

func TestBookingGetLoadsSeatsInOrder(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM bookings WHERE id = \?`).
		WithArgs("bk-1").
		WillReturnRows(sqlmock.NewRows(bookingColNames).
			AddRow("bk-1", 3, 7, 450, "pending", "reserved", "card", nil, 1, testNow, testNow))
	mock.ExpectQuery(`FROM booking_seats WHERE booking_id IN \(\?\)`).
		WithArgs("bk-1").
		WillReturnRows(sqlmock.NewRows([]string{"booking_id", "seat_id"}).
			AddRow("bk-1", 3).AddRow("bk-1", 1))

	b, err := NewBookingRepo(db).Get(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 1}, b.SeatIDs)
	assert.Equal(t, model.PaymentPending, b.PaymentStatus)
	assert.Equal(t, model.BookingReserved, b.Status)
	assert.Nil(t, b.TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingGetNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM bookings WHERE id = \?`).WillReturnRows(sqlmock.NewRows(bookingColNames))

	_, err := NewBookingRepo(db).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrBookingNotFound)
}

func TestBookingUpdateCompareAndSwap(t *testing.T) {
	b := model.NewBooking("bk-1", 3, 7, []uint64{1}, 150, "card", testNow)

	t.Run("ok", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`UPDATE bookings`).WillReturnResult(sqlmock.NewResult(0, 1))
		c := b.Clone()
		require.NoError(t, NewBookingRepo(db).Update(context.Background(), c))
		assert.Equal(t, uint32(2), c.Version)
	})

	t.Run("stale", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`UPDATE bookings`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT 1 FROM bookings`).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
		err := NewBookingRepo(db).Update(context.Background(), b.Clone())
		assert.ErrorIs(t, err, model.ErrStaleBooking)
	})

	t.Run("missing", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`UPDATE bookings`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT 1 FROM bookings`).WillReturnRows(sqlmock.NewRows([]string{"1"}))
		err := NewBookingRepo(db).Update(context.Background(), b.Clone())
		assert.ErrorIs(t, err, model.ErrBookingNotFound)
	})
}

func TestShowtimeNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM showtimes s`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewShowtimeRepo(db).Showtime(context.Background(), 42)
	assert.ErrorIs(t, err, catalog.ErrShowtimeNotFound)
}

func TestShowtimePricesFromNullableColumns(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM showtimes s`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "movie_id", "screen_id", "title", "name",
			"starts_at", "ends_at", "price_standard", "price_premium", "price_vip", "is_active", "created_at"}).
			AddRow(7, 1, 1, "Dune", "Downtown", testNow, testNow.Add(2*time.Hour), 100, nil, 250, true, testNow))

	st, err := NewShowtimeRepo(db).Showtime(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, model.PriceTable{model.TierStandard: 100, model.TierVIP: 250}, st.Prices)
	assert.Equal(t, "Dune", st.MovieTitle)
}

var showtimeColNames = []string{"id", "movie_id", "screen_id", "title", "name",
	"starts_at", "ends_at", "price_standard", "price_premium", "price_vip", "is_active", "created_at"}

func TestCreateShowtimeLocksScreen(t *testing.T) {
	start := testNow.Add(24 * time.Hour)

	t.Run("overlap", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT 1 FROM screens WHERE id = \? FOR UPDATE`).
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
		mock.ExpectQuery(`WHERE s.screen_id = \? AND s.is_active = 1`).
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(showtimeColNames).
				AddRow(3, 1, 1, "Dune", "Downtown", start.Add(time.Hour), start.Add(3*time.Hour), 100, nil, nil, true, testNow))
		mock.ExpectRollback()

		st := &model.Showtime{MovieID: 2, ScreenID: 1, StartsAt: start, EndsAt: start.Add(2 * time.Hour),
			Prices: model.PriceTable{model.TierStandard: 100}, IsActive: true, CreatedAt: testNow}
		err := NewShowtimeRepo(db).CreateShowtime(context.Background(), st)
		assert.ErrorIs(t, err, catalog.ErrShowtimeOverlap)
		assert.Zero(t, st.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("free slot", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT 1 FROM screens WHERE id = \? FOR UPDATE`).
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
		mock.ExpectQuery(`WHERE s.screen_id = \? AND s.is_active = 1`).
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(showtimeColNames).
				AddRow(3, 1, 1, "Dune", "Downtown", start.Add(2*time.Hour), start.Add(4*time.Hour), 100, nil, nil, true, testNow))
		mock.ExpectExec(`INSERT INTO showtimes`).
			WillReturnResult(sqlmock.NewResult(9, 1))
		mock.ExpectCommit()

		st := &model.Showtime{MovieID: 2, ScreenID: 1, StartsAt: start, EndsAt: start.Add(2 * time.Hour),
			Prices: model.PriceTable{model.TierStandard: 100}, IsActive: true, CreatedAt: testNow}
		require.NoError(t, NewShowtimeRepo(db).CreateShowtime(context.Background(), st))
		assert.Equal(t, uint64(9), st.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserCreateDuplicateEmail(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs("a@b.c", sqlmock.AnyArg(), sqlmock.AnyArg(), "CUSTOMER").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	_, err := NewUserRepo(db).Create(context.Background(), " A@B.c ", "", "password1", "CUSTOMER", bcrypt.MinCost)
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestUserContact(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM users WHERE id=\?`).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "phone", "password_hash", "role", "is_active", "created_at", "updated_at"}).
			AddRow(3, "a@b.c", "+100", "x", "CUSTOMER", true, testNow, testNow))

	c, err := NewUserRepo(db).Contact(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, model.Contact{UserID: 3, Email: "a@b.c", Phone: "+100"}, c)
}

func TestTokenRotate(t *testing.T) {
	tokenCols := []string{"user_id", "expires_at", "revoked_at"}

	t.Run("ok", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewTokenRepo(db)
		repo.now = func() time.Time { return testNow }
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM refresh_tokens WHERE token_hash=\? LIMIT 1 FOR UPDATE`).
			WithArgs("old").
			WillReturnRows(sqlmock.NewRows(tokenCols).AddRow(3, testNow.Add(time.Hour), nil))
		mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at`).WithArgs(testNow, "old").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO refresh_tokens`).WithArgs(3, "new", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		uid, err := repo.Rotate(context.Background(), "old", "new", testNow.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, uint64(3), uid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("revoked", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewTokenRepo(db)
		repo.now = func() time.Time { return testNow }
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM refresh_tokens`).
			WillReturnRows(sqlmock.NewRows(tokenCols).AddRow(3, testNow.Add(time.Hour), testNow))
		mock.ExpectRollback()

		_, err := repo.Rotate(context.Background(), "old", "new", testNow)
		assert.ErrorIs(t, err, ErrInvalidRefresh)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
