package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/cinema-booking/internal/model"
)

// Memory is an in-process Store.  It is used by tests and by the
// server when no database is configured.
type Memory struct {
	mu        sync.RWMutex
	showtimes map[uint64]model.Showtime
	seats     map[uint64]model.Seat
	nextID    uint64
}

var _ Store = (*Memory)(nil)

// NewMemory returns a catalog seeded with the given seats.
func NewMemory(seats ...model.Seat) *Memory {
	m := &Memory{
		showtimes: make(map[uint64]model.Showtime),
		seats:     make(map[uint64]model.Seat),
	}
	for _, s := range seats {
		m.seats[s.ID] = s
	}
	return m
}

// AddSeat registers a seat.
func (m *Memory) AddSeat(s model.Seat) {
	m.mu.Lock()
	m.seats[s.ID] = s
	m.mu.Unlock()
}

// PutShowtime stores s as is, keeping its ID.
func (m *Memory) PutShowtime(s model.Showtime) {
	m.mu.Lock()
	m.showtimes[s.ID] = cloneShowtime(s)
	if s.ID > m.nextID {
		m.nextID = s.ID
	}
	m.mu.Unlock()
}

func (m *Memory) Showtime(ctx context.Context, id uint64) (*model.Showtime, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.showtimes[id]
	if !ok {
		return nil, ErrShowtimeNotFound
	}
	c := cloneShowtime(s)
	return &c, nil
}

func (m *Memory) Seats(ctx context.Context, ids []uint64) ([]model.Seat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Seat, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.seats[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) ScreenSeats(ctx context.Context, screenID uint64) ([]model.Seat, error) {
	m.mu.RLock()
	var out []model.Seat
	for _, s := range m.seats {
		if s.ScreenID == screenID {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()
	SortSeats(out)
	return out, nil
}

// ScreenShowtimes lists the active showtimes of a screen by start time.
func (m *Memory) ScreenShowtimes(ctx context.Context, screenID uint64) ([]model.Showtime, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.screenShowtimes(screenID), nil
}

// screenShowtimes must be called with m.mu held.
func (m *Memory) screenShowtimes(screenID uint64) []model.Showtime {
	var out []model.Showtime
	for _, s := range m.showtimes {
		if s.ScreenID == screenID && s.IsActive {
			out = append(out, cloneShowtime(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out
}

func (m *Memory) CreateShowtime(ctx context.Context, s *model.Showtime) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.IsActive {
		for _, o := range m.screenShowtimes(s.ScreenID) {
			if s.Overlaps(o) {
				return ErrShowtimeOverlap
			}
		}
	}
	m.nextID++
	s.ID = m.nextID
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.showtimes[s.ID] = cloneShowtime(*s)
	return nil
}

func (m *Memory) DeactivateShowtime(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.showtimes[id]
	if !ok {
		return ErrShowtimeNotFound
	}
	s.IsActive = false
	m.showtimes[id] = s
	return nil
}

func (m *Memory) DeleteShowtime(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.showtimes[id]; !ok {
		return ErrShowtimeNotFound
	}
	delete(m.showtimes, id)
	return nil
}

// SortSeats orders seats by row label then seat number.
func SortSeats(seats []model.Seat) {
	sort.Slice(seats, func(i, j int) bool {
		if seats[i].Row != seats[j].Row {
			return seats[i].Row < seats[j].Row
		}
		return seats[i].Number < seats[j].Number
	})
}

func cloneShowtime(s model.Showtime) model.Showtime {
	prices := make(model.PriceTable, len(s.Prices))
	for k, v := range s.Prices {
		prices[k] = v
	}
	s.Prices = prices
	return s
}
