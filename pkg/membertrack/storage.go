package membertrack

import (
	"context"
	"fmt"
	"strings"
)

// AppendResult reports the outcome of an event append.
type AppendResult int

const (
	// AppendInserted means the event was new and is now stored
	AppendInserted AppendResult = iota
	// AppendDuplicate means the source event id was already present;
	// duplicates are success, which is what makes re-ingestion safe.
	AppendDuplicate
)

// String returns the result name for logs and metrics labels.
func (r AppendResult) String() string {
	switch r {
	case AppendInserted:
		return "inserted"
	case AppendDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// EventStore defines the interface for event and timeline persistence.
// All methods use concrete types from this package to avoid import cycles.
type EventStore interface {
	// AppendEvent stores an event, deduplicating on SourceEventID.
	// A duplicate append is a no-op reported as AppendDuplicate, not an
	// error. A failed write must leave previously stored events intact.
	AppendEvent(ctx context.Context, ev *MembershipEvent) (AppendResult, error)

	// EventsFor returns all events for one subscriber ordered by
	// ObservedAt (ties broken by SourceEventID).
	EventsFor(ctx context.Context, subscriberID string) ([]MembershipEvent, error)

	// AllEvents returns every stored event in the same order.
	AllEvents(ctx context.Context) ([]MembershipEvent, error)

	// SubscriberIDs returns the distinct subscriber ids present in the store.
	SubscriberIDs(ctx context.Context) ([]string, error)

	// ReplaceTimeline replaces the derived timeline for one subscriber.
	// Timelines are rebuilt wholesale, never patched.
	ReplaceTimeline(ctx context.Context, subscriberID string, periods []TimelinePeriod) error

	// TimelineFor returns the stored derived timeline for one subscriber.
	TimelineFor(ctx context.Context, subscriberID string) ([]TimelinePeriod, error)
}

// ReportBackend persists the metrics report document. The document is
// loaded fully into memory and rewritten fully on save; implementations
// must replace atomically so a crash mid-write never corrupts the
// canonical copy.
type ReportBackend interface {
	// Load returns the stored report, or (nil, nil) when none exists yet.
	Load(ctx context.Context) (*Report, error)

	// Save replaces the stored report.
	Save(ctx context.Context, r *Report) error
}

// ValidateEvent applies schema validation at the store boundary:
// reject events without a dedup key, default unrecognized types to
// EventTypeUnknown, and canonicalize the contact key. Storage
// implementations call this before persisting.
func ValidateEvent(ev *MembershipEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if strings.TrimSpace(ev.SourceEventID) == "" {
		return fmt.Errorf("%w: missing source event id", ErrInvalidEvent)
	}
	if ParseEventType(string(ev.Type)) == EventTypeUnknown {
		ev.Type = EventTypeUnknown
	}
	ev.Email = NormalizeEmail(ev.Email)
	return nil
}
