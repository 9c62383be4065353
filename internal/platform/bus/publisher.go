// Package bus publishes domain events to downstream consumers.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Publisher delivers an event payload on a topic. Key selects the partition.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// Envelope is the wire shape of every published event.
type Envelope struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEnvelope encodes payload and stamps an id and timestamp.
func NewEnvelope(topic, key string, payload any) (Envelope, error) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("bus: encode %s payload: %w", topic, err)
		}
		raw = b
	}
	return Envelope{
		ID:         uuid.NewString(),
		Topic:      topic,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

type eventIDKey struct{}

// WithEventID returns a context that makes publishers stamp id on the envelope
// instead of a fresh one. Relays use it so redeliveries keep their event id.
func WithEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, eventIDKey{}, id)
}

// envelope builds the envelope for a Publish call, honouring WithEventID.
func envelope(ctx context.Context, topic, key string, payload any) (Envelope, error) {
	env, err := NewEnvelope(topic, key, payload)
	if err != nil {
		return Envelope{}, err
	}
	if id, ok := ctx.Value(eventIDKey{}).(string); ok && id != "" {
		env.ID = id
	}
	return env, nil
}

// LogPublisher writes events to the logger. Used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher constructs a LogPublisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	env, err := envelope(ctx, topic, key, payload)
	if err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "event published",
		slog.String("topic", topic),
		slog.String("key", key),
		slog.String("event_id", env.ID),
		slog.String("payload", string(env.Payload)),
	)
	return nil
}

// Recorder keeps published envelopes in memory. Useful in tests and local runs.
type Recorder struct {
	mu     sync.Mutex
	events []Envelope
	Err    error
}

// Publish implements Publisher.
func (r *Recorder) Publish(ctx context.Context, topic, key string, payload any) error {
	if r.Err != nil {
		return r.Err
	}
	env, err := envelope(ctx, topic, key, payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.events = append(r.events, env)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of recorded envelopes.
func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.events))
	copy(out, r.events)
	return out
}

// Topics returns recorded topics in publish order.
func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Topic)
	}
	return out
}
