package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking/internal/notify"
)

func samplePayload() notify.Payload {
	return notify.Payload{
		UserID:        7,
		BookingID:     "b-1",
		ShowtimeID:    3,
		MovieTitle:    "Dune",
		TheaterName:   "Galaxy",
		Showtime:      time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC),
		Seats:         []string{"A1", "A2"},
		Amount:        450,
		Currency:      "VND",
		TransactionID: "cc_1",
		OccurredAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEncodePersistentJSON(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pub, err := encode(notify.PaymentSuccess, samplePayload(), now)
	require.NoError(t, err)

	assert.Equal(t, amqp.Persistent, pub.DeliveryMode)
	assert.Equal(t, "application/json", pub.ContentType)
	assert.Equal(t, "payment.success", pub.Type)
	assert.Equal(t, "b-1:payment.success", pub.MessageId)

	var m notify.Message
	require.NoError(t, json.Unmarshal(pub.Body, &m))
	assert.Equal(t, notify.PaymentSuccess, m.Event)
	assert.Equal(t, []string{"A1", "A2"}, m.Payload.Seats)
}

func TestConsumerHandleAppendsLine(t *testing.T) {
	dir := t.TempDir()
	logger, _ := test.NewNullLogger()
	c := &Consumer{Dir: dir, Log: logger}

	body, err := json.Marshal(notify.Message{Event: notify.BookingConfirmed, Payload: samplePayload()})
	require.NoError(t, err)
	require.NoError(t, c.Handle(body))
	require.NoError(t, c.Handle(body))

	data, err := os.ReadFile(filepath.Join(dir, "booking.log"))
	require.NoError(t, err)
	lines := splitLines(string(data))
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "booking.confirmed | booking_id=b-1 | user_id=7")
	assert.Contains(t, lines[0], `movie="Dune"`)
	assert.Contains(t, lines[0], "seats=[A1,A2]")
	assert.Contains(t, lines[0], "transaction_id=cc_1")
}

func TestConsumerRejectsMalformed(t *testing.T) {
	c := &Consumer{Dir: t.TempDir()}
	assert.Error(t, c.Handle([]byte("{")))
	assert.Error(t, c.Handle([]byte(`{"event":"booking.created","payload":{}}`)))
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}
