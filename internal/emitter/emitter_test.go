package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phiasco12/liveocr/internal/mqtttest"
	"github.com/phiasco12/liveocr/modules/framebus"
	"github.com/phiasco12/liveocr/modules/stabilitygate"
)

var ts = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func textDelivery() Delivery {
	return Delivery{
		SessionID: "s-1",
		Result: stabilitygate.Result{
			Fingerprint: stabilitygate.Text("SN123456"),
			Seq:         42,
			Timestamp:   ts,
			Mode:        stabilitygate.ModeConsecutive,
			Count:       3,
		},
	}
}

func TestNewPayload_Text(t *testing.T) {
	p := NewPayload(textDelivery())
	require.NotNil(t, p.Text)
	assert.Nil(t, p.Value)
	assert.Equal(t, "SN123456", *p.Text)
	assert.Equal(t, "text", p.Kind)
	assert.Equal(t, "consecutive", p.Mode)
	assert.Equal(t, uint32(3), p.StableCount)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"session_id": "s-1",
		"kind": "text",
		"text": "SN123456",
		"seq": 42,
		"timestamp": "2024-05-01T10:00:00Z",
		"mode": "consecutive",
		"stable_count": 3,
		"held_ms": 0
	}`, string(raw))
}

func TestNewPayload_Scalar(t *testing.T) {
	d := Delivery{SessionID: "s-2", Result: stabilitygate.Result{
		Fingerprint: stabilitygate.Scalar(100.9),
		Mode:        stabilitygate.ModeDuration,
		Held:        400 * time.Millisecond,
	}}
	p := NewPayload(d)
	require.NotNil(t, p.Value)
	assert.Nil(t, p.Text)
	assert.InDelta(t, 100.9, *p.Value, 1e-9)
	assert.Equal(t, int64(400), p.HeldMS)
	assert.Equal(t, "duration", p.Mode)
}

func TestWriterSink_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)
	require.NoError(t, sink.Deliver(context.Background(), textDelivery()))
	require.NoError(t, sink.Deliver(context.Background(), textDelivery()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &p))
	assert.Equal(t, "s-1", p.SessionID)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	require.NoError(t, sink.Deliver(context.Background(), textDelivery()))
	assert.Contains(t, buf.String(), "session_id=s-1")
	assert.Contains(t, buf.String(), `Text(\"SN123456\")`)
}

type failingSink struct{ err error }

func (f failingSink) Deliver(context.Context, Delivery) error { return f.err }

func TestMultiSink_DeliversToAllAndJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	errA := errors.New("a down")
	errB := errors.New("b down")
	multi := MultiSink{failingSink{errA}, NewWriterSink(&buf), failingSink{errB}}

	err := multi.Deliver(context.Background(), textDelivery())
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.NotEmpty(t, buf.String(), "healthy sink still delivered")

	assert.NoError(t, MultiSink{}.Deliver(context.Background(), textDelivery()))
}

func TestMQTTSink_Deliver(t *testing.T) {
	client := mqtttest.NewClient()
	sink := NewMQTTSink(client, "liveocr/results/dock", "liveocr/events/dock", 1)

	require.NoError(t, sink.Deliver(context.Background(), textDelivery()))

	msgs := client.Published()
	require.Len(t, msgs, 1)
	assert.Equal(t, "liveocr/results/dock/s-1", msgs[0].Topic)
	assert.Equal(t, byte(1), msgs[0].QoS)

	var p Payload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &p))
	assert.Equal(t, "SN123456", *p.Text)

	st := sink.Stats()
	assert.True(t, st.Connected)
	assert.Equal(t, uint64(1), st.Published["liveocr/results/dock/s-1"])
}

func TestMQTTSink_PublishEventQoS(t *testing.T) {
	client := mqtttest.NewClient()
	sink := NewMQTTSink(client, "r", "e", 2)

	require.NoError(t, sink.PublishEvent(context.Background(), framebus.Event{Kind: framebus.EventProgress, SessionID: "s", Count: 2}))
	require.NoError(t, sink.PublishEvent(context.Background(), framebus.Event{Kind: framebus.EventCancelled, SessionID: "s", Reason: "timeout"}))

	msgs := client.Published()
	require.Len(t, msgs, 2)
	assert.Equal(t, "e/s", msgs[0].Topic)
	assert.Equal(t, byte(0), msgs[0].QoS, "progress is lossy")
	assert.Equal(t, byte(2), msgs[1].QoS, "terminal events use configured QoS")

	var ev EventPayload
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &ev))
	assert.Equal(t, "cancelled", ev.Event)
	assert.Equal(t, "timeout", ev.Reason)
}

func TestMQTTSink_Errors(t *testing.T) {
	client := mqtttest.NewClient()
	sink := NewMQTTSink(client, "r", "e", 1)

	client.SetConnected(false)
	assert.ErrorIs(t, sink.Deliver(context.Background(), textDelivery()), ErrNotConnected)

	client.SetConnected(true)
	client.PublishErr = errors.New("broker said no")
	assert.Error(t, sink.Deliver(context.Background(), textDelivery()))

	assert.Equal(t, uint64(2), sink.Stats().Errors)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", brokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", brokerURL("ssl://broker:8883"))
}
