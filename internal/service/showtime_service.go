package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-booking/internal/catalog"
	"github.com/iliyamo/cinema-booking/internal/ledger"
	"github.com/iliyamo/cinema-booking/internal/model"
)

// ShowtimeService schedules and retires showtimes and keeps the ledger
// in step with them.
type ShowtimeService struct {
	store  catalog.Store
	ledger ledger.Ledger
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewShowtimeService(store catalog.Store, led ledger.Ledger, log logrus.FieldLogger) *ShowtimeService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ShowtimeService{store: store, ledger: led, log: log, now: time.Now}
}

// ScheduleInput describes a new showtime.
type ScheduleInput struct {
	MovieID     uint64
	ScreenID    uint64
	MovieTitle  string
	TheaterName string
	StartsAt    time.Time
	EndsAt      time.Time
	Prices      model.PriceTable
}

// Schedule creates an active showtime and one available ledger row for
// every active seat of its screen.
func (s *ShowtimeService) Schedule(ctx context.Context, in ScheduleInput) (*model.Showtime, error) {
	if !in.EndsAt.After(in.StartsAt) {
		return nil, ErrInvalidShowtime
	}
	if len(in.Prices) == 0 {
		return nil, fmt.Errorf("%w: empty price table", ErrInvalidSeatTier)
	}
	for tier, price := range in.Prices {
		if !tier.Valid() || price < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSeatTier, tier)
		}
	}

	st := &model.Showtime{
		MovieID:     in.MovieID,
		ScreenID:    in.ScreenID,
		MovieTitle:  in.MovieTitle,
		TheaterName: in.TheaterName,
		StartsAt:    in.StartsAt.UTC(),
		EndsAt:      in.EndsAt.UTC(),
		Prices:      in.Prices,
		IsActive:    true,
		CreatedAt:   s.now().UTC(),
	}

	seats, err := s.store.ScreenSeats(ctx, in.ScreenID)
	if err != nil {
		return nil, fmt.Errorf("list screen seats: %w", err)
	}
	seatIDs := lo.FilterMap(seats, func(seat model.Seat, _ int) (uint64, bool) { return seat.ID, seat.IsActive })
	if len(seatIDs) == 0 {
		return nil, ErrEmptyScreen
	}

	if err := s.store.CreateShowtime(ctx, st); err != nil {
		if errors.Is(err, ErrShowtimeOverlap) {
			return nil, ErrShowtimeOverlap
		}
		return nil, fmt.Errorf("create showtime: %w", err)
	}
	if err := s.ledger.Initialize(ctx, st.ID, seatIDs); err != nil {
		if derr := s.store.DeleteShowtime(context.WithoutCancel(ctx), st.ID); derr != nil {
			s.log.WithError(derr).WithField("showtime_id", st.ID).Error("remove showtime after failed ledger init")
		}
		return nil, fmt.Errorf("initialize ledger: %w", err)
	}

	s.log.WithFields(logrus.Fields{"showtime_id": st.ID, "screen_id": st.ScreenID, "seats": len(seatIDs)}).
		Info("showtime scheduled")
	return st, nil
}

// Deactivate retires a showtime.  A showtime with any held or booked
// seat is only marked inactive so existing bookings keep their seats;
// otherwise the showtime and its ledger rows are removed.  The ledger
// decides and drops in one step, so a concurrent hold either keeps the
// showtime alive or fails.  The returned flag reports which of the two
// happened.
func (s *ShowtimeService) Deactivate(ctx context.Context, showtimeID uint64) (softDeleted bool, err error) {
	if _, err := s.store.Showtime(ctx, showtimeID); err != nil {
		return false, err
	}
	dropped, err := s.ledger.DropIfUnused(ctx, showtimeID)
	if err != nil {
		return false, fmt.Errorf("drop ledger: %w", err)
	}
	if !dropped {
		if err := s.store.DeactivateShowtime(ctx, showtimeID); err != nil {
			return false, err
		}
		s.log.WithField("showtime_id", showtimeID).Info("showtime deactivated")
		return true, nil
	}
	if err := s.store.DeleteShowtime(ctx, showtimeID); err != nil {
		return false, err
	}
	s.log.WithField("showtime_id", showtimeID).Info("showtime deleted")
	return false, nil
}

// SeatView is one seat of a seat map.
type SeatView struct {
	SeatID uint64                  `json:"seat_id"`
	Number uint32                  `json:"number"`
	Label  string                  `json:"label"`
	Tier   model.Tier              `json:"tier"`
	Price  int64                   `json:"price"`
	Status model.ReservationStatus `json:"status"`
}

// SeatRow groups the seats of one row label.
type SeatRow struct {
	Row   string     `json:"row"`
	Seats []SeatView `json:"seats"`
}

// SeatMap returns the active seats of the showtime's screen grouped by
// row, each with its tier price and current status.  Lapsed holds are
// reported as available.
func (s *ShowtimeService) SeatMap(ctx context.Context, showtimeID uint64) (*model.Showtime, []SeatRow, error) {
	st, err := s.store.Showtime(ctx, showtimeID)
	if err != nil {
		return nil, nil, err
	}
	seats, err := s.store.ScreenSeats(ctx, st.ScreenID)
	if err != nil {
		return nil, nil, fmt.Errorf("list screen seats: %w", err)
	}
	rows, err := s.ledger.Rows(ctx, showtimeID)
	if err != nil {
		return nil, nil, fmt.Errorf("read ledger: %w", err)
	}
	now := s.now()
	status := lo.SliceToMap(rows, func(r model.SeatReservation) (uint64, model.ReservationStatus) {
		return r.SeatID, r.EffectiveStatus(now)
	})

	active := lo.Filter(seats, func(seat model.Seat, _ int) bool { return seat.IsActive })
	catalog.SortSeats(active)
	var out []SeatRow
	for _, seat := range active {
		state, ok := status[seat.ID]
		if !ok {
			state = model.SeatAvailable
		}
		v := SeatView{
			SeatID: seat.ID,
			Number: seat.Number,
			Label:  seat.Label(),
			Tier:   seat.Tier,
			Price:  st.Prices[seat.Tier],
			Status: state,
		}
		if n := len(out); n > 0 && out[n-1].Row == seat.Row {
			out[n-1].Seats = append(out[n-1].Seats, v)
			continue
		}
		out = append(out, SeatRow{Row: seat.Row, Seats: []SeatView{v}})
	}
	return st, out, nil
}
