package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/cinema-booking/internal/model"
)

// Memory is an in-process Ledger.  Each showtime has its own lock so
// holds on different showtimes never contend; all rows of one showtime
// are mutated under that lock, which makes every multi-seat operation
// atomic.
type Memory struct {
	mu     sync.Mutex
	shows  map[uint64]*showRows
	owners map[string]uint64 // booking ID -> showtime ID
	now    func() time.Time
}

type showRows struct {
	mu      sync.Mutex
	rows    map[uint64]*model.SeatReservation
	dropped bool
}

// MemoryOption configures a Memory ledger.
type MemoryOption func(*Memory)

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory returns an empty in-memory ledger.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		shows:  make(map[uint64]*showRows),
		owners: make(map[string]uint64),
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

var _ Ledger = (*Memory)(nil)

func (m *Memory) show(showtimeID uint64) *showRows {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shows[showtimeID]
}

func (m *Memory) owner(bookingID string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.owners[bookingID]
	return id, ok
}

func (m *Memory) setOwner(bookingID string, showtimeID uint64) {
	m.mu.Lock()
	m.owners[bookingID] = showtimeID
	m.mu.Unlock()
}

func (m *Memory) Initialize(ctx context.Context, showtimeID uint64, seatIDs []uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shows[showtimeID]; ok {
		return ErrAlreadyInitialized
	}
	s := &showRows{rows: make(map[uint64]*model.SeatReservation)}
	for _, id := range Normalize(seatIDs) {
		s.rows[id] = &model.SeatReservation{ShowtimeID: showtimeID, SeatID: id, Status: model.SeatAvailable, Version: 1}
	}
	m.shows[showtimeID] = s
	return nil
}

// collect copies the rows for ids; it must be called with s.mu held.
func (s *showRows) collect(ids []uint64) []model.SeatReservation {
	out := make([]model.SeatReservation, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.rows[id]; ok {
			out = append(out, *r)
		}
	}
	return out
}

func (m *Memory) CheckAvailable(ctx context.Context, showtimeID uint64, seatIDs []uint64) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := Normalize(seatIDs)
	s := m.show(showtimeID)
	if s == nil {
		return nil, &UnknownSeatError{ShowtimeID: showtimeID, SeatIDs: ids}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.collect(ids)
	if missing := Missing(ids, rows); len(missing) > 0 {
		return nil, &UnknownSeatError{ShowtimeID: showtimeID, SeatIDs: missing}
	}
	return Unavailable(rows, "", m.now()), nil
}

func (m *Memory) Hold(ctx context.Context, showtimeID uint64, seatIDs []uint64, bookingID string, ttl time.Duration) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	ids := Normalize(seatIDs)
	s := m.show(showtimeID)
	if s == nil {
		return time.Time{}, &UnknownSeatError{ShowtimeID: showtimeID, SeatIDs: ids}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return time.Time{}, &UnknownSeatError{ShowtimeID: showtimeID, SeatIDs: ids}
	}

	now := m.now()
	rows := s.collect(ids)
	if missing := Missing(ids, rows); len(missing) > 0 {
		return time.Time{}, &UnknownSeatError{ShowtimeID: showtimeID, SeatIDs: missing}
	}
	if taken := Unavailable(rows, bookingID, now); len(taken) > 0 {
		return time.Time{}, &SeatConflictError{ShowtimeID: showtimeID, SeatIDs: taken}
	}

	expires := now.Add(ttl)
	for _, id := range ids {
		r := s.rows[id]
		b, e := bookingID, expires
		r.Status = model.SeatHeld
		r.BookingID = &b
		r.ExpiresAt = &e
		r.Version++
	}
	m.setOwner(bookingID, showtimeID)
	return expires, nil
}

func (m *Memory) Confirm(ctx context.Context, bookingID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	showtimeID, ok := m.owner(bookingID)
	if !ok {
		return 0, ErrHoldExpired
	}
	s := m.show(showtimeID)
	if s == nil {
		return 0, ErrHoldExpired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.now()
	var owned []*model.SeatReservation
	for _, r := range s.rows {
		if r.BookingID == nil || *r.BookingID != bookingID {
			continue
		}
		if r.Expired(now) {
			return 0, ErrHoldExpired
		}
		owned = append(owned, r)
	}
	if len(owned) == 0 {
		return 0, ErrHoldExpired
	}
	for _, r := range owned {
		if r.Status == model.SeatBooked {
			continue
		}
		r.Status = model.SeatBooked
		r.ExpiresAt = nil
		r.Version++
	}
	return len(owned), nil
}

func (m *Memory) Release(ctx context.Context, bookingID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	showtimeID, ok := m.owner(bookingID)
	if !ok {
		return 0, nil
	}
	n := 0
	if s := m.show(showtimeID); s != nil {
		s.mu.Lock()
		for _, r := range s.rows {
			if r.BookingID != nil && *r.BookingID == bookingID {
				resetRow(r)
				n++
			}
		}
		s.mu.Unlock()
	}
	m.mu.Lock()
	delete(m.owners, bookingID)
	m.mu.Unlock()
	return n, nil
}

func (m *Memory) SweepExpired(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	shows := make([]*showRows, 0, len(m.shows))
	for _, s := range m.shows {
		shows = append(shows, s)
	}
	m.mu.Unlock()

	now := m.now()
	seen := make(map[string]struct{})
	var released []string
	for _, s := range shows {
		s.mu.Lock()
		var here []string
		for _, r := range s.rows {
			if !r.Expired(now) {
				continue
			}
			id := *r.BookingID
			resetRow(r)
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				here = append(here, id)
			}
		}
		m.forgetReleased(s, here)
		s.mu.Unlock()
		released = append(released, here...)
	}
	return released, nil
}

func (m *Memory) Rows(ctx context.Context, showtimeID uint64) ([]model.SeatReservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := m.show(showtimeID)
	if s == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return s.collect(ids), nil
}

func (m *Memory) RowsForBooking(ctx context.Context, bookingID string) ([]model.SeatReservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	showtimeID, ok := m.owner(bookingID)
	if !ok {
		return nil, nil
	}
	rows, err := m.Rows(ctx, showtimeID)
	if err != nil {
		return nil, err
	}
	var out []model.SeatReservation
	for _, r := range rows {
		if r.BookingID != nil && *r.BookingID == bookingID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) DropIfUnused(ctx context.Context, showtimeID uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s := m.show(showtimeID)
	if s == nil {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.Status != model.SeatAvailable {
			return false, nil
		}
	}
	m.dropLocked(showtimeID, s)
	return true, nil
}

// dropLocked removes the showtime's rows and their owners.  It must be
// called with s.mu held; holds that were already waiting on s see it as
// dropped.
func (m *Memory) dropLocked(showtimeID uint64, s *showRows) {
	s.dropped = true
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shows[showtimeID] == s {
		delete(m.shows, showtimeID)
	}
	for b, sid := range m.owners {
		if sid == showtimeID {
			delete(m.owners, b)
		}
	}
}

// forgetReleased drops the owner entry of every released booking that no
// longer owns a row of s.  It must be called with s.mu held.
func (m *Memory) forgetReleased(s *showRows, released []string) {
	if len(released) == 0 {
		return
	}
	still := make(map[string]struct{})
	for _, r := range s.rows {
		if r.BookingID != nil {
			still[*r.BookingID] = struct{}{}
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range released {
		if _, ok := still[id]; !ok {
			delete(m.owners, id)
		}
	}
}

// resetRow returns a row to available.
func resetRow(r *model.SeatReservation) {
	r.Status = model.SeatAvailable
	r.BookingID = nil
	r.ExpiresAt = nil
	r.Version++
}
