package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/escrowhouse/core"
)

// EventKind names an observable event of the house.
type EventKind string

const (
	EventAuctionCreated  EventKind = "AuctionCreated"
	EventBidPlaced       EventKind = "BidPlaced"
	EventBidRevealed     EventKind = "BidRevealed"
	EventEndTimeExtended EventKind = "EndTimeExtended"
	EventAuctionEnded    EventKind = "AuctionEnded"
	EventRewardIssued    EventKind = "RewardIssued"
	EventRewardClaimed   EventKind = "RewardClaimed"
)

// Event is a single observable state change. Only the fields relevant to
// Kind are populated.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Kind      EventKind `json:"kind"`
	AuctionID uint64    `json:"auction_id"`
	At        time.Time `json:"at"`

	// AuctionCreated
	Seller      string            `json:"seller,omitempty"`
	Name        string            `json:"name,omitempty"`
	AuctionType *core.AuctionType `json:"auction_type,omitempty"`
	CreatedAt   time.Time         `json:"created_at,omitempty"`

	// BidPlaced, BidRevealed
	Bidder string           `json:"bidder,omitempty"`
	Amount *decimal.Decimal `json:"amount,omitempty"`

	// EndTimeExtended
	EndTime time.Time `json:"end_time,omitempty"`

	// AuctionEnded
	Winners []string          `json:"winners,omitempty"`
	Amounts []decimal.Decimal `json:"amounts,omitempty"`

	// RewardIssued, RewardClaimed
	TokenID uint64 `json:"token_id,omitempty"`
	Winner  string `json:"winner,omitempty"`
}

func newEvent(kind EventKind, auctionID uint64, at time.Time) Event {
	return Event{
		ID:        uuid.New(),
		Kind:      kind,
		AuctionID: auctionID,
		At:        at,
	}
}

// EventSink receives events in the order the house commits them.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) error { return nil }

// MultiSink fans an event out to several sinks and joins their errors.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink records events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemorySink) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of all recorded events.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfKind returns the recorded events of one kind.
func (m *MemorySink) OfKind(kind EventKind) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
