// Package queue carries booking notifications over RabbitMQ.  Each event
// name is also the name of a durable queue on the default exchange.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-booking/internal/notify"
)

// Publisher publishes notify events to RabbitMQ.  The connection is
// opened on first use and re-opened after the broker drops it.
type Publisher struct {
	url string
	log logrus.FieldLogger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ notify.Notifier = (*Publisher)(nil)

// NewPublisher returns a publisher for the broker at url.
func NewPublisher(url string, log logrus.FieldLogger) *Publisher {
	return &Publisher{url: url, log: log}
}

// channel returns an open channel with every event queue declared.  It
// must be called with p.mu held.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.closeLocked()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := declareQueues(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

// Notify publishes the event as a persistent JSON message routed to the
// queue of the same name.
func (p *Publisher) Notify(ctx context.Context, event notify.Event, payload notify.Payload) error {
	pub, err := encode(event, payload, time.Now().UTC())
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		p.log.WithError(err).WithField("event", string(event)).Warn("rabbitmq unavailable")
		return err
	}
	if err := ch.PublishWithContext(ctx, "", string(event), false, false, pub); err != nil {
		p.closeLocked()
		return fmt.Errorf("rabbitmq publish %s: %w", event, err)
	}
	return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *Publisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func declareQueues(ch *amqp.Channel) error {
	for _, ev := range notify.Events {
		// durable, not auto-deleted, not exclusive
		if _, err := ch.QueueDeclare(string(ev), true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", ev, err)
		}
	}
	return nil
}

func encode(event notify.Event, payload notify.Payload, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(notify.Message{Event: event, Payload: payload})
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal %s: %w", event, err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		Type:         string(event),
		MessageId:    payload.BookingID + ":" + string(event),
		Body:         body,
	}, nil
}
