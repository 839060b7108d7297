// Package notify defines the booking notification events and the sink
// the booking engine reports them to.  Delivery is best effort: the
// engine logs a failed Notify and carries on.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Event names a booking lifecycle notification.
type Event string

const (
	BookingCreated   Event = "booking.created"
	BookingConfirmed Event = "booking.confirmed"
	BookingCancelled Event = "booking.cancelled"
	PaymentSuccess   Event = "payment.success"
	PaymentFailed    Event = "payment.failed"
)

// Events lists every event in a stable order.
var Events = []Event{BookingCreated, BookingConfirmed, BookingCancelled, PaymentSuccess, PaymentFailed}

// Payload carries what a downstream sender needs to render an email, SMS
// or push message without reading the booking database.
type Payload struct {
	UserID        uint64    `json:"user_id"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	BookingID     string    `json:"booking_id"`
	ShowtimeID    uint64    `json:"showtime_id"`
	MovieTitle    string    `json:"movie_title"`
	TheaterName   string    `json:"theater_name"`
	Showtime      time.Time `json:"showtime"`
	Seats         []string  `json:"seats"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Message       string    `json:"message,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Message is the envelope put on the wire.
type Message struct {
	Event   Event   `json:"event"`
	Payload Payload `json:"payload"`
}

// Notifier accepts booking events.
type Notifier interface {
	Notify(ctx context.Context, event Event, p Payload) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, event Event, p Payload) error

func (f Func) Notify(ctx context.Context, event Event, p Payload) error { return f(ctx, event, p) }

// Log writes every event to a logrus logger.
type Log struct {
	Logger logrus.FieldLogger
}

func (l Log) Notify(_ context.Context, event Event, p Payload) error {
	l.Logger.WithFields(logrus.Fields{
		"event":       string(event),
		"booking_id":  p.BookingID,
		"user_id":     p.UserID,
		"showtime_id": p.ShowtimeID,
		"seats":       p.Seats,
		"amount":      p.Amount,
	}).Info("booking notification")
	return nil
}

// Multi fans an event out to every notifier.  All notifiers are called
// even when one fails; the failures are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event, p Payload) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Notifier = Func(func(context.Context, Event, Payload) error { return nil })
