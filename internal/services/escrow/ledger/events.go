package ledger

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/louisbranch/askmi/internal/services/escrow/domain/asset"
)

// Kind names an event.
type Kind string

const (
	KindInstanceCreated    Kind = "instance.created"
	KindQuestionAsked      Kind = "question.asked"
	KindQuestionAnswered   Kind = "question.answered"
	KindQuestionRemoved    Kind = "question.removed"
	KindTipIssued          Kind = "tip.issued"
	KindTiersUpdated       Kind = "tiers.updated"
	KindTipUpdated         Kind = "tip.updated"
	KindFeesUpdated        Kind = "fees.updated"
	KindDisabledToggled    Kind = "module.disabled_toggled"
	KindModuleTrustChanged Kind = "module.trust_changed"
)

// Event is a committed state change. Fields that do not apply to a kind are
// left zero; kind-specific values go in Attributes.
type Event struct {
	Kind        Kind
	Instance    common.Address
	Actor       common.Address
	Questioner  common.Address
	Index       int
	ContentHash common.Hash
	Asset       asset.Asset
	Amount      asset.Amount
	Fee         asset.Amount
	Attributes  map[string]string
}

// EventSink receives events after the operation that produced them commits.
type EventSink interface {
	Publish(ctx context.Context, event Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event Event)

// Publish calls f.
func (f EventSinkFunc) Publish(ctx context.Context, event Event) {
	f(ctx, event)
}

type discardSink struct{}

func (discardSink) Publish(context.Context, Event) {}

// Recorder is an EventSink that keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish appends event.
func (r *Recorder) Publish(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded kinds in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}
