package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-booking/internal/notify"
)

// Consumer drains every booking event queue and appends one line per
// event to <Dir>/booking.log.
type Consumer struct {
	URL string
	Dir string
	Log logrus.FieldLogger

	mu sync.Mutex // serialises writes to the log file
}

// Run connects to the broker and consumes until ctx is cancelled,
// reconnecting with exponential backoff when the connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Log.WithError(err).Warnf("booking-consumer: dial failed; retrying in %s", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.Log.WithError(err).Warn("booking-consumer: consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.WithError(err).Warn("booking-consumer: set QoS failed")
	}
	if err := declareQueues(ch); err != nil {
		return err
	}

	merged := make(chan amqp.Delivery)
	var wg sync.WaitGroup
	for _, ev := range notify.Events {
		msgs, err := ch.Consume(string(ev), "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", ev, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range msgs {
				select {
				case merged <- d:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-merged:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(d.Body); err != nil {
				c.Log.WithError(err).Warn("booking-consumer: handle message failed")
				_ = d.Nack(false, false) // reject without requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle decodes one message body and appends it to the booking log.
func (c *Consumer) Handle(body []byte) error {
	var m notify.Message
	if err := json.Unmarshal(body, &m); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if m.Event == "" || m.Payload.BookingID == "" {
		return errors.New("message without event or booking id")
	}

	dir := c.Dir
	if dir == "" {
		dir = "logs"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "booking.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLine(m)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func formatLine(m notify.Message) string {
	p := m.Payload
	line := fmt.Sprintf("[%s] %s | booking_id=%s | user_id=%d | showtime_id=%d | theater=%q | movie=%q | starts=%s | amount=%d %s | seats=[%s]",
		p.OccurredAt.UTC().Format(time.RFC3339), m.Event, p.BookingID, p.UserID, p.ShowtimeID,
		p.TheaterName, p.MovieTitle, p.Showtime.UTC().Format("2006-01-02 15:04"), p.Amount, p.Currency,
		strings.Join(p.Seats, ","))
	if p.TransactionID != "" {
		line += " | transaction_id=" + p.TransactionID
	}
	if p.Message != "" {
		line += fmt.Sprintf(" | message=%q", p.Message)
	}
	return line + "\n"
}
