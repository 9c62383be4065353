package bus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeEncodesPayload(t *testing.T) {
	env, err := NewEnvelope("inventory.reservation.expired", "42", map[string]int{"quantity": 3})
	require.NoError(t, err)
	require.NotEmpty(t, env.ID)
	require.JSONEq(t, `{"quantity":3}`, string(env.Payload))
}

func TestNewEnvelopeKeepsRawPayload(t *testing.T) {
	raw := json.RawMessage(`{"a":1}`)
	env, err := NewEnvelope("t", "k", raw)
	require.NoError(t, err)
	require.Equal(t, string(raw), string(env.Payload))
}

func TestRecorderCollectsTopics(t *testing.T) {
	rec := &Recorder{}
	require.NoError(t, rec.Publish(context.Background(), "a", "1", struct{}{}))
	require.NoError(t, rec.Publish(context.Background(), "b", "2", struct{}{}))
	require.Equal(t, []string{"a", "b"}, rec.Topics())
}

func TestLogPublisherNeverFails(t *testing.T) {
	pub := NewLogPublisher(nil)
	require.NoError(t, pub.Publish(context.Background(), "topic", "key", map[string]string{"x": "y"}))
}

func TestPublishKeepsContextEventID(t *testing.T) {
	rec := &Recorder{}
	ctx := WithEventID(context.Background(), "7d0c8a3e-outbox-row")
	require.NoError(t, rec.Publish(ctx, "a", "1", struct{}{}))
	require.NoError(t, rec.Publish(ctx, "a", "1", struct{}{}))
	require.NoError(t, rec.Publish(context.Background(), "a", "1", struct{}{}))

	events := rec.Events()
	require.Equal(t, "7d0c8a3e-outbox-row", events[0].ID)
	require.Equal(t, events[0].ID, events[1].ID)
	require.NotEqual(t, events[0].ID, events[2].ID)

	env, err := envelope(ctx, "a", "1", struct{}{})
	require.NoError(t, err)
	require.Equal(t, "7d0c8a3e-outbox-row", string(toMessage(env, "stock").Headers[0].Value))
}
