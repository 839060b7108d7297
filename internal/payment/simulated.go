package payment

import (
	"context"
	"fmt"
	"net/mail"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	MethodCreditCard = "credit_card"
	MethodPayPal     = "paypal"
)

// Simulated is a gateway that approves any well-formed request after a
// fixed latency.  Validate inspects the request details and returns a
// decline message, or "" to approve.
type Simulated struct {
	Name     string
	Prefix   string
	Latency  time.Duration
	Validate func(details map[string]string) string
	Log      logrus.FieldLogger
}

// NewCreditCard returns a simulated card gateway.  It expects a
// card_number detail of 12 to 19 digits.
func NewCreditCard(latency time.Duration, log logrus.FieldLogger) *Simulated {
	return &Simulated{
		Name:    "Credit card",
		Prefix:  "cc",
		Latency: latency,
		Log:     log,
		Validate: func(d map[string]string) string {
			n := d["card_number"]
			if len(n) < 12 || len(n) > 19 {
				return "invalid card number"
			}
			for _, r := range n {
				if !unicode.IsDigit(r) {
					return "invalid card number"
				}
			}
			return ""
		},
	}
}

// NewPayPal returns a simulated PayPal gateway.  It expects an email
// detail naming the PayPal account.
func NewPayPal(latency time.Duration, log logrus.FieldLogger) *Simulated {
	return &Simulated{
		Name:    "PayPal",
		Prefix:  "pp",
		Latency: latency,
		Log:     log,
		Validate: func(d map[string]string) string {
			if _, err := mail.ParseAddress(d["email"]); err != nil {
				return "invalid PayPal account"
			}
			return ""
		},
	}
}

func (s *Simulated) wait(ctx context.Context) error {
	if s.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Simulated) Charge(ctx context.Context, req Request) (Result, error) {
	if err := s.wait(ctx); err != nil {
		return Result{}, err
	}
	if req.Amount < 0 {
		return Result{Message: s.Name + " payment failed: negative amount"}, nil
	}
	if s.Validate != nil {
		if msg := s.Validate(req.Details); msg != "" {
			return Result{Message: s.Name + " payment failed: " + msg}, nil
		}
	}
	txID := fmt.Sprintf("%s_%s", s.Prefix, uuid.NewString())
	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{
			"booking_id":     req.BookingID,
			"amount":         req.Amount,
			"currency":       req.Currency,
			"transaction_id": txID,
		}).Info("payment charged")
	}
	return Result{Success: true, TransactionID: txID, Message: s.Name + " payment successful"}, nil
}

func (s *Simulated) Refund(ctx context.Context, transactionID string, amount int64) (Result, error) {
	if err := s.wait(ctx); err != nil {
		return Result{}, err
	}
	if transactionID == "" {
		return Result{Message: s.Name + " refund failed: missing transaction"}, nil
	}
	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{"transaction_id": transactionID, "amount": amount}).Info("payment refunded")
	}
	return Result{Success: true, TransactionID: transactionID, Message: s.Name + " refund successful"}, nil
}
