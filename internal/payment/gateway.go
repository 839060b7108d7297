// Package payment defines the gateway contract used to charge and
// refund bookings, along with simulated gateways and a circuit breaker.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownMethod is returned by Registry.Get for a method with no gateway.
var ErrUnknownMethod = errors.New("unknown payment method")

// Request describes a charge.  Amount is in the smallest currency unit.
type Request struct {
	BookingID string
	Amount    int64
	Currency  string
	Details   map[string]string
}

// Result is the outcome reported by a gateway.  A declined charge is a
// Result with Success false; an error means the gateway could not be
// reached or did not answer in time.
type Result struct {
	Success       bool
	TransactionID string
	Message       string
}

// Gateway charges and refunds money.
type Gateway interface {
	Charge(ctx context.Context, req Request) (Result, error)
	Refund(ctx context.Context, transactionID string, amount int64) (Result, error)
}

// Registry selects a gateway by payment method name.
type Registry map[string]Gateway

// Get returns the gateway registered for method.  Method names are
// case-insensitive.
func (r Registry) Get(method string) (Gateway, error) {
	g, ok := r[strings.ToLower(strings.TrimSpace(method))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return g, nil
}

// Methods lists the registered method names in sorted order.
func (r Registry) Methods() []string {
	out := make([]string, 0, len(r))
	for m := range r {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
