package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-booking/internal/ledger"
)

// Locker grants a short lease so that only one replica sweeps per tick.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

const sweepLockKey = "cinema:booking:sweeper"

// Sweeper periodically releases lapsed holds and expires the bookings
// that owned them.  Reads and holds already treat a lapsed hold as
// available, so the sweep only tidies state; nothing depends on when it
// runs.
type Sweeper struct {
	Ledger   ledger.Ledger
	Bookings *BookingService
	Interval time.Duration
	Locker   Locker
	Log      logrus.FieldLogger
}

// Run sweeps every Interval until ctx is cancelled.  A non-positive
// interval disables the sweeper.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		return nil
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.Log.WithError(err).Warn("hold sweep failed")
			}
		}
	}
}

// SweepOnce performs a single sweep and returns the number of bookings
// it expired.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.Locker != nil {
		ok, err := s.Locker.TryLock(ctx, sweepLockKey, s.lease())
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
	}

	ids, err := s.Ledger.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		_, err := s.Bookings.ExpireBooking(ctx, id)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, ErrNotExpirable), errors.Is(err, ErrHoldActive), errors.Is(err, ErrBookingNotFound):
		default:
			s.Log.WithError(err).WithField("booking_id", id).Warn("expire booking")
		}
	}
	if expired > 0 {
		s.Log.WithField("expired", expired).Info("expired stale bookings")
	}
	return expired, nil
}

func (s *Sweeper) lease() time.Duration {
	if s.Interval > time.Second {
		return s.Interval - time.Second/2
	}
	return s.Interval
}
