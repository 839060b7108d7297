package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-booking/internal/catalog"
	"github.com/iliyamo/cinema-booking/internal/ledger"
	"github.com/iliyamo/cinema-booking/internal/model"
	"github.com/iliyamo/cinema-booking/internal/notify"
	"github.com/iliyamo/cinema-booking/internal/payment"
)

const (
	DefaultHoldTTL        = 15 * time.Minute
	DefaultCancelCutoff   = 3 * time.Hour
	DefaultPaymentTimeout = 10 * time.Second
	DefaultCurrency       = "VND"

	notifyTimeout = 5 * time.Second
)

// Gateways resolves the payment gateway for a payment method.
type Gateways interface {
	Get(method string) (payment.Gateway, error)
}

// BookingService drives a booking through reserve, pay, confirm, cancel
// and expire.  It is the only writer of ledger transitions and booking
// status fields.
type BookingService struct {
	catalog  catalog.Catalog
	ledger   ledger.Ledger
	bookings BookingStore
	gateways Gateways
	notifier notify.Notifier
	contacts ContactLookup
	log      logrus.FieldLogger

	holdTTL        time.Duration
	cancelCutoff   time.Duration
	paymentTimeout time.Duration
	currency       string
	now            func() time.Time
	newID          func() string
}

// Option customises a BookingService.
type Option func(*BookingService)

// Options for NewBookingService.  Each overrides one default: the hold
// TTL, the cancellation cutoff, the payment timeout, the charge currency,
// the clock, the booking id generator, the notification sink, the
// contact lookup used in notifications and the logger.
func WithHoldTTL(d time.Duration) Option      { return func(s *BookingService) { s.holdTTL = d } }
func WithCancelCutoff(d time.Duration) Option { return func(s *BookingService) { s.cancelCutoff = d } }
func WithPaymentTimeout(d time.Duration) Option {
	return func(s *BookingService) { s.paymentTimeout = d }
}
func WithCurrency(c string) Option           { return func(s *BookingService) { s.currency = c } }
func WithClock(now func() time.Time) Option  { return func(s *BookingService) { s.now = now } }
func WithIDs(gen func() string) Option       { return func(s *BookingService) { s.newID = gen } }
func WithNotifier(n notify.Notifier) Option  { return func(s *BookingService) { s.notifier = n } }
func WithContacts(c ContactLookup) Option    { return func(s *BookingService) { s.contacts = c } }
func WithLogger(l logrus.FieldLogger) Option { return func(s *BookingService) { s.log = l } }

// NewBookingService wires the engine.  Without options it uses a 15
// minute hold, a 3 hour cancellation cutoff and a 10 second payment
// timeout, and discards notifications.
func NewBookingService(cat catalog.Catalog, led ledger.Ledger, bookings BookingStore, gateways Gateways, opts ...Option) *BookingService {
	s := &BookingService{
		catalog:        cat,
		ledger:         led,
		bookings:       bookings,
		gateways:       gateways,
		notifier:       notify.Discard,
		log:            logrus.StandardLogger(),
		holdTTL:        DefaultHoldTTL,
		cancelCutoff:   DefaultCancelCutoff,
		paymentTimeout: DefaultPaymentTimeout,
		currency:       DefaultCurrency,
		now:            time.Now,
		newID:          uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateBookingInput is the request to reserve seats.
type CreateBookingInput struct {
	UserID        uint64
	ShowtimeID    uint64
	SeatIDs       []uint64
	PaymentMethod string
}

// CreateBooking validates the showtime, prices the seats by their tier,
// holds them for the configured TTL and records a reserved booking.
func (s *BookingService) CreateBooking(ctx context.Context, in CreateBookingInput) (*model.Booking, error) {
	seatIDs := lo.Uniq(lo.Filter(in.SeatIDs, func(id uint64, _ int) bool { return id != 0 }))
	if len(seatIDs) == 0 {
		return nil, ErrNoSeats
	}
	if _, err := s.gateways.Get(in.PaymentMethod); err != nil {
		return nil, err
	}

	st, err := s.catalog.Showtime(ctx, in.ShowtimeID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !st.IsActive {
		return nil, ErrShowtimeInactive
	}
	if !st.StartsAt.After(now) {
		return nil, ErrShowtimeStarted
	}

	seats, err := s.catalog.Seats(ctx, seatIDs)
	if err != nil {
		return nil, fmt.Errorf("load seats: %w", err)
	}
	seats = lo.Filter(seats, func(seat model.Seat, _ int) bool { return seat.ScreenID == st.ScreenID })
	if len(seats) != len(seatIDs) {
		known := lo.Map(seats, func(seat model.Seat, _ int) uint64 { return seat.ID })
		missing, _ := lo.Difference(seatIDs, known)
		return nil, &ledger.UnknownSeatError{ShowtimeID: st.ID, SeatIDs: ledger.Normalize(missing)}
	}
	total, err := catalog.Total(st.Prices, seats)
	if err != nil {
		return nil, err
	}

	taken, err := s.ledger.CheckAvailable(ctx, st.ID, seatIDs)
	if err != nil {
		return nil, err
	}
	if len(taken) > 0 {
		return nil, &ledger.SeatConflictError{ShowtimeID: st.ID, SeatIDs: taken}
	}

	id := s.newID()
	if _, err := s.ledger.Hold(ctx, st.ID, seatIDs, id, s.holdTTL); err != nil {
		return nil, err
	}

	b := model.NewBooking(id, in.UserID, st.ID, seatIDs, total, in.PaymentMethod, now)
	if err := s.bookings.Create(ctx, b); err != nil {
		if _, rerr := s.ledger.Release(context.WithoutCancel(ctx), id); rerr != nil {
			s.log.WithError(rerr).WithField("booking_id", id).Error("release hold after failed booking insert")
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"booking_id":  b.ID,
		"user_id":     b.UserID,
		"showtime_id": b.ShowtimeID,
		"seats":       len(seatIDs),
		"amount":      total,
	}).Info("booking reserved")
	s.emit(ctx, notify.BookingCreated, b, st, seats, "")
	return b, nil
}

// PaymentInput is the request to pay for a booking.  Method defaults to
// the method chosen when the booking was created.
type PaymentInput struct {
	BookingID string
	UserID    uint64
	Method    string
	Details   map[string]string
}

// ProcessPayment charges the booking and, on success, confirms it and
// converts its holds into sales.  A declined, failed or timed out charge
// leaves the booking reserved with a failed payment status and returns
// a *PaymentError.
func (s *BookingService) ProcessPayment(ctx context.Context, in PaymentInput) (*model.Booking, error) {
	b, err := s.bookings.Get(ctx, in.BookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != in.UserID {
		return nil, ErrUnauthorized
	}
	if err := b.CanPay(); err != nil {
		return nil, err
	}
	st, err := s.catalog.Showtime(ctx, b.ShowtimeID)
	if err != nil {
		return nil, err
	}
	seats := s.seatsOf(ctx, b)

	owned, err := s.ownsHolds(ctx, b)
	if err != nil {
		return nil, err
	}
	if !owned {
		if _, err := s.expire(ctx, b, st, seats); err != nil && !errors.Is(err, ErrNotExpirable) {
			s.log.WithError(err).WithField("booking_id", b.ID).Warn("expire booking with lapsed hold")
		}
		return nil, ErrHoldExpired
	}

	method := in.Method
	if method == "" {
		method = b.PaymentMethod
	}
	gw, err := s.gateways.Get(method)
	if err != nil {
		return nil, err
	}

	res, cerr := s.charge(ctx, gw, b, in.Details)
	if cerr != nil || !res.Success {
		return nil, s.paymentFailed(ctx, b, st, seats, res, cerr)
	}

	paid := b.Clone()
	if err := paid.MarkPaid(res.TransactionID, s.now()); err != nil {
		s.refund(ctx, gw, b.ID, res.TransactionID, b.TotalAmount)
		return nil, err
	}
	paid.PaymentMethod = method
	if err := s.bookings.Update(ctx, paid); err != nil {
		// Another actor changed the booking while the charge was in flight.
		s.refund(ctx, gw, b.ID, res.TransactionID, b.TotalAmount)
		return nil, fmt.Errorf("record payment: %w", err)
	}

	n, err := s.ledger.Confirm(ctx, b.ID)
	if err != nil || n != len(b.SeatIDs) {
		if err == nil {
			err = ErrHoldExpired
		}
		s.log.WithError(err).WithField("booking_id", b.ID).Warn("hold lost after charge; refunding")
		if _, cerr := s.cancel(ctx, paid, st, seats, "seat hold lost before confirmation"); cerr != nil {
			s.log.WithError(cerr).WithField("booking_id", b.ID).Error("cancel booking after lost hold")
		}
		if errors.Is(err, ledger.ErrHoldExpired) {
			return nil, ErrHoldExpired
		}
		return nil, fmt.Errorf("confirm seats: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"booking_id":     paid.ID,
		"transaction_id": res.TransactionID,
		"amount":         paid.TotalAmount,
	}).Info("booking paid")
	s.emit(ctx, notify.PaymentSuccess, paid, st, seats, res.Message)
	s.emit(ctx, notify.BookingConfirmed, paid, st, seats, "")
	return paid, nil
}

// charge runs the gateway call under the payment timeout.  A result that
// arrives after the deadline counts as a timeout whatever it says, and
// any charge it reports is refunded.
func (s *BookingService) charge(ctx context.Context, gw payment.Gateway, b *model.Booking, details map[string]string) (payment.Result, error) {
	cctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()
	res, err := gw.Charge(cctx, payment.Request{
		BookingID: b.ID,
		Amount:    b.TotalAmount,
		Currency:  s.currency,
		Details:   details,
	})
	if cerr := cctx.Err(); cerr != nil && err == nil {
		if res.Success && res.TransactionID != "" {
			s.log.WithFields(logrus.Fields{"booking_id": b.ID, "transaction_id": res.TransactionID}).
				Warn("charge completed after timeout; refunding")
			s.refund(ctx, gw, b.ID, res.TransactionID, b.TotalAmount)
		}
		return payment.Result{}, cerr
	}
	return res, err
}

func (s *BookingService) paymentFailed(ctx context.Context, b *model.Booking, st *model.Showtime, seats []model.Seat, res payment.Result, cerr error) error {
	msg := res.Message
	switch {
	case errors.Is(cerr, context.DeadlineExceeded):
		msg = "payment gateway timed out"
	case cerr != nil:
		msg = cerr.Error()
	case msg == "":
		msg = "payment declined"
	}

	failed := b.Clone()
	if err := failed.MarkPaymentFailed(s.now()); err == nil {
		if err := s.bookings.Update(ctx, failed); err != nil {
			s.log.WithError(err).WithField("booking_id", b.ID).Warn("record failed payment")
		}
	}
	s.log.WithFields(logrus.Fields{"booking_id": b.ID, "reason": msg}).Warn("payment failed")
	s.emit(ctx, notify.PaymentFailed, failed, st, seats, msg)
	return &PaymentError{Message: msg, Err: cerr}
}

func (s *BookingService) refund(ctx context.Context, gw payment.Gateway, bookingID, txID string, amount int64) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.paymentTimeout)
	defer cancel()
	res, err := gw.Refund(rctx, txID, amount)
	if err == nil && !res.Success {
		err = errors.New(res.Message)
	}
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"booking_id":     bookingID,
			"transaction_id": txID,
		}).Error("refund failed; needs manual reconciliation")
	}
}

// CancelBooking cancels a booking on behalf of its owner.  Cancelling
// closer than the cutoff to the showtime start is rejected.  A paid
// booking is refunded through its gateway first; if the refund fails
// the booking is left as it was.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID string, requesterID uint64) (*model.Booking, error) {
	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != requesterID {
		return nil, ErrUnauthorized
	}
	if b.Status == model.BookingCancelled {
		return nil, ErrBookingCancelled
	}
	st, err := s.catalog.Showtime(ctx, b.ShowtimeID)
	if err != nil {
		return nil, err
	}
	if s.now().After(st.StartsAt.Add(-s.cancelCutoff)) {
		return nil, ErrCancellationWindowClosed
	}
	return s.cancel(ctx, b, st, s.seatsOf(ctx, b), "")
}

// cancel moves b to cancelled, refunding it when it was paid, and
// releases its seats.  The cancelled state is written before the refund
// so only one concurrent caller can refund; a failed refund restores
// the previous state.
func (s *BookingService) cancel(ctx context.Context, b *model.Booking, st *model.Showtime, seats []model.Seat, reason string) (*model.Booking, error) {
	next := b.Clone()
	refunded, err := next.Cancel(s.now())
	if err != nil {
		return nil, err
	}
	if err := s.bookings.Update(ctx, next); err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}

	if refunded {
		if err := s.refundBooking(ctx, b); err != nil {
			restore := b.Clone()
			restore.Version = next.Version
			if rerr := s.bookings.Update(context.WithoutCancel(ctx), restore); rerr != nil {
				s.log.WithError(rerr).WithField("booking_id", b.ID).Error("restore booking after failed refund")
			}
			return nil, err
		}
	}

	if _, err := s.ledger.Release(context.WithoutCancel(ctx), b.ID); err != nil {
		s.log.WithError(err).WithField("booking_id", b.ID).Error("release seats of cancelled booking")
	}

	s.log.WithFields(logrus.Fields{"booking_id": b.ID, "refunded": refunded}).Info("booking cancelled")
	s.emit(ctx, notify.BookingCancelled, next, st, seats, reason)
	return next, nil
}

func (s *BookingService) refundBooking(ctx context.Context, b *model.Booking) error {
	if b.TransactionID == nil {
		return &PaymentError{Message: "paid booking has no transaction"}
	}
	gw, err := s.gateways.Get(b.PaymentMethod)
	if err != nil {
		return &PaymentError{Message: "no gateway for refund", Err: err}
	}
	rctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()
	res, err := gw.Refund(rctx, *b.TransactionID, b.TotalAmount)
	if err != nil {
		return &PaymentError{Message: "refund failed: " + err.Error(), Err: err}
	}
	if !res.Success {
		return &PaymentError{Message: res.Message}
	}
	return nil
}

// ExpireBooking cancels an unpaid reservation whose seat hold has lapsed
// and releases whatever rows it still owns.
func (s *BookingService) ExpireBooking(ctx context.Context, bookingID string) (*model.Booking, error) {
	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != model.BookingReserved || b.PaymentStatus == model.PaymentCompleted {
		return nil, ErrNotExpirable
	}
	owned, err := s.ownsHolds(ctx, b)
	if err != nil {
		return nil, err
	}
	if owned {
		return nil, ErrHoldActive
	}
	st, err := s.catalog.Showtime(ctx, b.ShowtimeID)
	if err != nil {
		return nil, err
	}
	return s.expire(ctx, b, st, s.seatsOf(ctx, b))
}

func (s *BookingService) expire(ctx context.Context, b *model.Booking, st *model.Showtime, seats []model.Seat) (*model.Booking, error) {
	next := b.Clone()
	if err := next.Expire(s.now()); err != nil {
		return nil, err
	}
	if err := s.bookings.Update(ctx, next); err != nil {
		return nil, fmt.Errorf("expire booking: %w", err)
	}
	if _, err := s.ledger.Release(context.WithoutCancel(ctx), b.ID); err != nil {
		s.log.WithError(err).WithField("booking_id", b.ID).Warn("release seats of expired booking")
	}
	s.log.WithField("booking_id", b.ID).Info("booking expired")
	s.emit(ctx, notify.BookingCancelled, next, st, seats, "seat hold expired")
	return next, nil
}

// ownsHolds reports whether every seat of b is still held by b (or
// already booked by it) at the current time.
func (s *BookingService) ownsHolds(ctx context.Context, b *model.Booking) (bool, error) {
	rows, err := s.ledger.RowsForBooking(ctx, b.ID)
	if err != nil {
		return false, fmt.Errorf("read holds: %w", err)
	}
	now := s.now()
	live := lo.CountBy(rows, func(r model.SeatReservation) bool {
		return r.HeldBy(b.ID, now) || r.Status == model.SeatBooked
	})
	return live == len(b.SeatIDs), nil
}

// GetUserBookings lists a user's bookings, newest first.
func (s *BookingService) GetUserBookings(ctx context.Context, userID uint64) ([]model.Booking, error) {
	return s.bookings.ListByUser(ctx, userID)
}

// BookingDetails is a booking together with its showtime and seats.
// HoldExpiresAt is set while an unpaid booking still owns its holds;
// HoldExpired reports an unpaid reservation whose hold has lapsed.
type BookingDetails struct {
	Booking       model.Booking
	Showtime      model.Showtime
	Seats         []model.Seat
	HoldExpiresAt *time.Time
	HoldExpired   bool
}

// GetBookingDetails returns the booking if requesterID owns it.
func (s *BookingService) GetBookingDetails(ctx context.Context, bookingID string, requesterID uint64) (*BookingDetails, error) {
	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != requesterID {
		return nil, ErrUnauthorized
	}
	st, err := s.catalog.Showtime(ctx, b.ShowtimeID)
	if err != nil {
		return nil, err
	}
	d := &BookingDetails{Booking: *b, Showtime: *st, Seats: s.seatsOf(ctx, b)}
	if b.Status == model.BookingReserved {
		rows, err := s.ledger.RowsForBooking(ctx, b.ID)
		if err != nil {
			return nil, fmt.Errorf("read holds: %w", err)
		}
		now := s.now()
		live := lo.Filter(rows, func(r model.SeatReservation, _ int) bool { return r.HeldBy(b.ID, now) })
		if len(live) == len(b.SeatIDs) {
			for _, r := range live {
				if r.ExpiresAt != nil && (d.HoldExpiresAt == nil || r.ExpiresAt.Before(*d.HoldExpiresAt)) {
					exp := *r.ExpiresAt
					d.HoldExpiresAt = &exp
				}
			}
		} else {
			d.HoldExpired = true
		}
	}
	return d, nil
}

// seatsOf loads the seats of b in booking order.  Lookup failures only
// cost the notification its seat labels, so they are logged.
func (s *BookingService) seatsOf(ctx context.Context, b *model.Booking) []model.Seat {
	seats, err := s.catalog.Seats(ctx, b.SeatIDs)
	if err != nil {
		s.log.WithError(err).WithField("booking_id", b.ID).Warn("load booking seats")
		return nil
	}
	return seats
}

// emit sends a notification without failing the caller.
func (s *BookingService) emit(ctx context.Context, ev notify.Event, b *model.Booking, st *model.Showtime, seats []model.Seat, msg string) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	p := notify.Payload{
		UserID:        b.UserID,
		BookingID:     b.ID,
		ShowtimeID:    b.ShowtimeID,
		MovieTitle:    st.MovieTitle,
		TheaterName:   st.TheaterName,
		Showtime:      st.StartsAt,
		Seats:         lo.Map(seats, func(seat model.Seat, _ int) string { return seat.Label() }),
		Amount:        b.TotalAmount,
		Currency:      s.currency,
		TransactionID: lo.FromPtr(b.TransactionID),
		Message:       msg,
		OccurredAt:    s.now().UTC(),
	}
	if s.contacts != nil {
		c, err := s.contacts.Contact(nctx, b.UserID)
		if err != nil {
			s.log.WithError(err).WithField("user_id", b.UserID).Warn("load notification contact")
		} else {
			p.Email, p.Phone = c.Email, c.Phone
		}
	}
	if err := s.notifier.Notify(nctx, ev, p); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"event":      string(ev),
			"booking_id": b.ID,
		}).Warn("notification not delivered")
	}
}
