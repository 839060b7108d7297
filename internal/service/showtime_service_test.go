package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking/internal/catalog"
	"github.com/iliyamo/cinema-booking/internal/ledger"
	"github.com/iliyamo/cinema-booking/internal/model"
)

func newShowtimeService(t *testing.T) (*ShowtimeService, *catalog.Memory, *ledger.Memory, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	cat := catalog.NewMemory(
		model.Seat{ID: 1, ScreenID: 1, Row: "B", Number: 2, Tier: model.TierVIP, IsActive: true},
		model.Seat{ID: 2, ScreenID: 1, Row: "A", Number: 2, Tier: model.TierStandard, IsActive: true},
		model.Seat{ID: 3, ScreenID: 1, Row: "A", Number: 1, Tier: model.TierStandard, IsActive: true},
		model.Seat{ID: 4, ScreenID: 1, Row: "B", Number: 1, Tier: model.TierVIP, IsActive: false},
	)
	led := ledger.NewMemory(ledger.WithClock(c.Now))
	logger, _ := test.NewNullLogger()
	svc := NewShowtimeService(cat, led, logger)
	svc.now = c.Now
	return svc, cat, led, c
}

func scheduleInput(start time.Time) ScheduleInput {
	return ScheduleInput{
		MovieID: 1, ScreenID: 1, MovieTitle: "Dune", TheaterName: "Galaxy",
		StartsAt: start, EndsAt: start.Add(2 * time.Hour), Prices: testPrices,
	}
}

func TestScheduleInitializesLedger(t *testing.T) {
	svc, _, led, c := newShowtimeService(t)
	ctx := context.Background()

	st, err := svc.Schedule(ctx, scheduleInput(c.Now().Add(24*time.Hour)))
	require.NoError(t, err)
	assert.True(t, st.IsActive)

	rows, err := led.Rows(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, model.SeatAvailable, r.Status)
		assert.NotEqual(t, uint64(4), r.SeatID)
	}
}

func TestScheduleRejectsOverlap(t *testing.T) {
	svc, _, _, c := newShowtimeService(t)
	ctx := context.Background()
	start := c.Now().Add(24 * time.Hour)

	_, err := svc.Schedule(ctx, scheduleInput(start))
	require.NoError(t, err)

	_, err = svc.Schedule(ctx, scheduleInput(start.Add(time.Hour)))
	assert.ErrorIs(t, err, ErrShowtimeOverlap)

	// Back-to-back showtimes share no instant.
	_, err = svc.Schedule(ctx, scheduleInput(start.Add(2*time.Hour)))
	assert.NoError(t, err)
}

func TestConcurrentSchedulesOnOneScreen(t *testing.T) {
	svc, cat, _, c := newShowtimeService(t)
	ctx := context.Background()
	start := c.Now().Add(24 * time.Hour)

	const n = 6
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Schedule(ctx, scheduleInput(start.Add(time.Duration(i)*10*time.Minute)))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrShowtimeOverlap)
	}
	assert.Equal(t, 1, ok)
	active, err := cat.ScreenShowtimes(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestScheduleValidation(t *testing.T) {
	svc, _, _, c := newShowtimeService(t)
	ctx := context.Background()
	start := c.Now().Add(24 * time.Hour)

	in := scheduleInput(start)
	in.EndsAt = start
	_, err := svc.Schedule(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidShowtime)

	in = scheduleInput(start)
	in.Prices = model.PriceTable{"gold": 10}
	_, err = svc.Schedule(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidSeatTier)

	in = scheduleInput(start)
	in.ScreenID = 77
	_, err = svc.Schedule(ctx, in)
	assert.ErrorIs(t, err, ErrEmptyScreen)
}

func TestDeactivateSoftDeletesWhenSeatsInUse(t *testing.T) {
	svc, cat, led, c := newShowtimeService(t)
	ctx := context.Background()
	st, err := svc.Schedule(ctx, scheduleInput(c.Now().Add(24*time.Hour)))
	require.NoError(t, err)

	_, err = led.Hold(ctx, st.ID, []uint64{2}, "bk-1", time.Minute)
	require.NoError(t, err)

	soft, err := svc.Deactivate(ctx, st.ID)
	require.NoError(t, err)
	assert.True(t, soft)

	got, err := cat.Showtime(ctx, st.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	rows, _ := led.Rows(ctx, st.ID)
	assert.Len(t, rows, 3)
}

func TestDeactivateDeletesUnusedShowtime(t *testing.T) {
	svc, cat, led, c := newShowtimeService(t)
	ctx := context.Background()
	st, err := svc.Schedule(ctx, scheduleInput(c.Now().Add(24*time.Hour)))
	require.NoError(t, err)

	_, err = led.Hold(ctx, st.ID, []uint64{2}, "bk-1", time.Minute)
	require.NoError(t, err)
	c.Advance(2 * time.Minute)
	_, err = led.SweepExpired(ctx)
	require.NoError(t, err)

	soft, err := svc.Deactivate(ctx, st.ID)
	require.NoError(t, err)
	assert.False(t, soft)

	_, err = cat.Showtime(ctx, st.ID)
	assert.ErrorIs(t, err, ErrShowtimeNotFound)
	rows, _ := led.Rows(ctx, st.ID)
	assert.Empty(t, rows)

	_, err = svc.Deactivate(ctx, st.ID)
	assert.ErrorIs(t, err, ErrShowtimeNotFound)
}

func TestDeactivateKeepsShowtimeWithLapsedHold(t *testing.T) {
	svc, cat, led, c := newShowtimeService(t)
	ctx := context.Background()
	st, err := svc.Schedule(ctx, scheduleInput(c.Now().Add(24*time.Hour)))
	require.NoError(t, err)

	_, err = led.Hold(ctx, st.ID, []uint64{2}, "bk-1", time.Minute)
	require.NoError(t, err)
	c.Advance(2 * time.Minute)

	soft, err := svc.Deactivate(ctx, st.ID)
	require.NoError(t, err)
	assert.True(t, soft)
	_, err = cat.Showtime(ctx, st.ID)
	require.NoError(t, err)
	owned, err := led.RowsForBooking(ctx, "bk-1")
	require.NoError(t, err)
	assert.Len(t, owned, 1)
}

func TestDeactivateRacingHold(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		svc, cat, led, c := newShowtimeService(t)
		st, err := svc.Schedule(ctx, scheduleInput(c.Now().Add(24*time.Hour)))
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			soft    bool
			deacErr error
			holdErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			soft, deacErr = svc.Deactivate(ctx, st.ID)
		}()
		go func() {
			defer wg.Done()
			_, holdErr = led.Hold(ctx, st.ID, []uint64{2}, "bk-race", time.Minute)
		}()
		wg.Wait()
		require.NoError(t, deacErr)

		owned, err := led.RowsForBooking(ctx, "bk-race")
		require.NoError(t, err)
		_, lookupErr := cat.Showtime(ctx, st.ID)
		if holdErr == nil {
			assert.True(t, soft, "a held seat must keep the showtime")
			assert.NoError(t, lookupErr)
			assert.Len(t, owned, 1)
		} else {
			assert.ErrorIs(t, holdErr, ledger.ErrUnknownSeat)
			assert.False(t, soft)
			assert.ErrorIs(t, lookupErr, ErrShowtimeNotFound)
			assert.Empty(t, owned)
		}
	}
}

func TestSeatMapGroupsByRow(t *testing.T) {
	svc, _, led, c := newShowtimeService(t)
	ctx := context.Background()
	st, err := svc.Schedule(ctx, scheduleInput(c.Now().Add(24*time.Hour)))
	require.NoError(t, err)

	_, err = led.Hold(ctx, st.ID, []uint64{3}, "bk-1", time.Minute)
	require.NoError(t, err)
	_, err = led.Hold(ctx, st.ID, []uint64{1}, "bk-2", 10*time.Minute)
	require.NoError(t, err)
	c.Advance(2 * time.Minute)

	_, rows, err := svc.SeatMap(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "A", rows[0].Row)
	require.Len(t, rows[0].Seats, 2)
	assert.Equal(t, "A1", rows[0].Seats[0].Label)
	assert.Equal(t, model.SeatAvailable, rows[0].Seats[0].Status)
	assert.Equal(t, int64(100), rows[0].Seats[0].Price)
	assert.Equal(t, "A2", rows[0].Seats[1].Label)

	assert.Equal(t, "B", rows[1].Row)
	require.Len(t, rows[1].Seats, 1)
	assert.Equal(t, model.SeatHeld, rows[1].Seats[0].Status)
	assert.Equal(t, int64(250), rows[1].Seats[0].Price)
}
