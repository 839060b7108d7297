package payment

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Breaker wraps a Gateway with a circuit breaker.  Only errors count as
// failures; a declined charge is a normal answer from a healthy gateway.
// While the circuit is open calls fail fast with gobreaker.ErrOpenState.
type Breaker struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker trips after maxFailures consecutive errors and probes the
// gateway again after openFor.
func NewBreaker(name string, next Gateway, maxFailures uint32, openFor time.Duration, log logrus.FieldLogger) *Breaker {
	if maxFailures == 0 {
		maxFailures = 5
	}
	st := gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if log != nil {
				log.WithFields(logrus.Fields{"gateway": name, "from": from.String(), "to": to.String()}).
					Warn("payment circuit breaker state changed")
			}
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *Breaker) Charge(ctx context.Context, req Request) (Result, error) {
	return b.call(func() (Result, error) { return b.next.Charge(ctx, req) })
}

func (b *Breaker) Refund(ctx context.Context, transactionID string, amount int64) (Result, error) {
	return b.call(func() (Result, error) { return b.next.Refund(ctx, transactionID, amount) })
}

func (b *Breaker) call(fn func() (Result, error)) (Result, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		res, err := fn()
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return Result{}, err
	}
	return out.(Result), nil
}

// State reports the current breaker state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }
