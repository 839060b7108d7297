package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking/internal/catalog"
	"github.com/iliyamo/cinema-booking/internal/ledger"
	"github.com/iliyamo/cinema-booking/internal/model"
	"github.com/iliyamo/cinema-booking/internal/notify"
	"github.com/iliyamo/cinema-booking/internal/payment"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeGateway struct {
	mu         sync.Mutex
	decline    string
	delay      time.Duration
	ignoreCtx  bool
	failRefund bool
	onCharge   func()
	charges    int
	refunds    []string
}

func (g *fakeGateway) Charge(ctx context.Context, req payment.Request) (payment.Result, error) {
	if g.delay > 0 && g.ignoreCtx {
		time.Sleep(g.delay)
	} else if g.delay > 0 {
		select {
		case <-ctx.Done():
			return payment.Result{}, ctx.Err()
		case <-time.After(g.delay):
		}
	}
	if g.onCharge != nil {
		g.onCharge()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.decline != "" {
		return payment.Result{Message: g.decline}, nil
	}
	g.charges++
	return payment.Result{Success: true, TransactionID: fmt.Sprintf("tx-%d", g.charges), Message: "ok"}, nil
}

func (g *fakeGateway) Refund(_ context.Context, txID string, _ int64) (payment.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failRefund {
		return payment.Result{Message: "refund rejected"}, nil
	}
	g.refunds = append(g.refunds, txID)
	return payment.Result{Success: true, TransactionID: txID}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
	last   map[notify.Event]notify.Payload
	err    error
}

func (r *recorder) Notify(_ context.Context, ev notify.Event, p notify.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.last == nil {
		r.last = map[notify.Event]notify.Payload{}
	}
	r.last[ev] = p
	return r.err
}

func (r *recorder) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

type contacts map[uint64]model.Contact

func (c contacts) Contact(_ context.Context, id uint64) (model.Contact, error) {
	ct, ok := c[id]
	if !ok {
		return model.Contact{}, errors.New("no such user")
	}
	return ct, nil
}

type harness struct {
	clock    *clock
	catalog  *catalog.Memory
	ledger   *ledger.Memory
	bookings *MemoryBookings
	gateway  *fakeGateway
	notes    *recorder
	svc      *BookingService
	showtime model.Showtime
}

var testPrices = model.PriceTable{
	model.TierStandard: 100,
	model.TierPremium:  180,
	model.TierVIP:      250,
}

// newHarness builds an engine over one screen with seats A1, A2 (standard),
// A3 (vip) and B1 (premium), and one showtime starting startsIn from now.
func newHarness(t *testing.T, startsIn time.Duration, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:    &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		bookings: NewMemoryBookings(),
		gateway:  &fakeGateway{},
		notes:    &recorder{},
	}
	h.catalog = catalog.NewMemory(
		model.Seat{ID: 1, ScreenID: 1, Row: "A", Number: 1, Tier: model.TierStandard, IsActive: true},
		model.Seat{ID: 2, ScreenID: 1, Row: "A", Number: 2, Tier: model.TierStandard, IsActive: true},
		model.Seat{ID: 3, ScreenID: 1, Row: "A", Number: 3, Tier: model.TierVIP, IsActive: true},
		model.Seat{ID: 4, ScreenID: 1, Row: "B", Number: 1, Tier: model.TierPremium, IsActive: true},
		model.Seat{ID: 9, ScreenID: 2, Row: "A", Number: 1, Tier: model.TierStandard, IsActive: true},
	)
	h.ledger = ledger.NewMemory(ledger.WithClock(h.clock.Now))

	start := h.clock.Now().Add(startsIn)
	h.showtime = model.Showtime{
		ID: 1, MovieID: 5, ScreenID: 1, MovieTitle: "Dune", TheaterName: "Galaxy",
		StartsAt: start, EndsAt: start.Add(2 * time.Hour), Prices: testPrices, IsActive: true,
	}
	h.catalog.PutShowtime(h.showtime)
	require.NoError(t, h.ledger.Initialize(context.Background(), 1, []uint64{1, 2, 3, 4}))

	logger, _ := test.NewNullLogger()
	n := 0
	base := []Option{
		WithClock(h.clock.Now),
		WithIDs(func() string { n++; return fmt.Sprintf("bk-%d", n) }),
		WithNotifier(h.notes),
		WithContacts(contacts{7: {UserID: 7, Email: "u7@example.com", Phone: "+100"}}),
		WithLogger(logger),
	}
	h.svc = NewBookingService(h.catalog, h.ledger, h.bookings,
		payment.Registry{"card": h.gateway}, append(base, opts...)...)
	return h
}

func (h *harness) rows(t *testing.T) map[uint64]model.SeatReservation {
	t.Helper()
	rows, err := h.ledger.Rows(context.Background(), 1)
	require.NoError(t, err)
	out := map[uint64]model.SeatReservation{}
	for _, r := range rows {
		out[r.SeatID] = r
	}
	return out
}

func (h *harness) create(t *testing.T, userID uint64, seats ...uint64) *model.Booking {
	t.Helper()
	b, err := h.svc.CreateBooking(context.Background(), CreateBookingInput{
		UserID: userID, ShowtimeID: 1, SeatIDs: seats, PaymentMethod: "card",
	})
	require.NoError(t, err)
	return b
}

func (h *harness) pay(userID uint64, bookingID string) (*model.Booking, error) {
	return h.svc.ProcessPayment(context.Background(), PaymentInput{BookingID: bookingID, UserID: userID})
}
