package service

import (
	"context"
	"sort"
	"sync"

	"github.com/iliyamo/cinema-booking/internal/model"
)

// BookingStore persists booking aggregates.  Update is a compare-and-swap
// on Version: it succeeds only when the stored version equals b.Version,
// bumps b.Version on success and returns ErrStaleBooking otherwise.
type BookingStore interface {
	Create(ctx context.Context, b *model.Booking) error
	Get(ctx context.Context, id string) (*model.Booking, error)
	Update(ctx context.Context, b *model.Booking) error
	// ListByUser returns the user's bookings, newest first.
	ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error)
}

// ContactLookup resolves the notification contact of a user.
type ContactLookup interface {
	Contact(ctx context.Context, userID uint64) (model.Contact, error)
}

// MemoryBookings is an in-process BookingStore.
type MemoryBookings struct {
	mu   sync.Mutex
	byID map[string]*model.Booking
}

var _ BookingStore = (*MemoryBookings)(nil)

func NewMemoryBookings() *MemoryBookings {
	return &MemoryBookings{byID: make(map[string]*model.Booking)}
}

func (m *MemoryBookings) Create(_ context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[b.ID]; ok {
		return ErrStaleBooking
	}
	m.byID[b.ID] = b.Clone()
	return nil
}

func (m *MemoryBookings) Get(_ context.Context, id string) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return b.Clone(), nil
}

func (m *MemoryBookings) Update(_ context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[b.ID]
	if !ok {
		return ErrBookingNotFound
	}
	if cur.Version != b.Version {
		return ErrStaleBooking
	}
	b.Version++
	m.byID[b.ID] = b.Clone()
	return nil
}

func (m *MemoryBookings) ListByUser(_ context.Context, userID uint64) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Booking
	for _, b := range m.byID {
		if b.UserID == userID {
			out = append(out, *b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
