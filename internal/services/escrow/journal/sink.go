// Package journal records committed ledger events in an event store.
package journal

import (
	"context"
	"log"
	"time"

	"github.com/louisbranch/askmi/internal/platform/timeouts"
	"github.com/louisbranch/askmi/internal/services/escrow/ledger"
	"github.com/louisbranch/askmi/internal/services/escrow/storage"
)

// Sink is a ledger.EventSink that appends every event to a store. Write
// failures are logged; the ledger operation has already committed.
type Sink struct {
	store   storage.EventStore
	timeout time.Duration
	now     func() time.Time
	next    ledger.EventSink
}

// Option configures a Sink.
type Option func(*Sink)

// WithNext forwards each event to next after it is stored.
func WithNext(next ledger.EventSink) Option {
	return func(s *Sink) {
		s.next = next
	}
}

// WithClock overrides the recording clock.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSink returns a sink writing to store.
func NewSink(store storage.EventStore, opts ...Option) *Sink {
	s := &Sink{store: store, timeout: timeouts.Journal, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish stores event.
func (s *Sink) Publish(ctx context.Context, event ledger.Event) {
	if s.store != nil {
		writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
		record := Record(event)
		record.RecordedAt = s.now().UTC()
		if _, err := s.store.AppendEvent(writeCtx, record); err != nil {
			log.Printf("journal %s for %s: %v", event.Kind, event.Instance.Hex(), err)
		}
		cancel()
	}
	if s.next != nil {
		s.next.Publish(ctx, event)
	}
}

// Record converts a ledger event to its stored form.
func Record(event ledger.Event) storage.EventRecord {
	attributes := make(map[string]string, len(event.Attributes))
	for k, v := range event.Attributes {
		attributes[k] = v
	}
	return storage.EventRecord{
		Instance:      event.Instance,
		Kind:          string(event.Kind),
		Actor:         event.Actor,
		Questioner:    event.Questioner,
		QuestionIndex: event.Index,
		ContentHash:   event.ContentHash,
		Asset:         event.Asset.String(),
		Amount:        event.Amount.Dec(),
		Fee:           event.Fee.Dec(),
		Attributes:    attributes,
	}
}

var _ ledger.EventSink = (*Sink)(nil)
