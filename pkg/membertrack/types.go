package membertrack

import (
	"strings"
	"time"
)

// EventType classifies a membership lifecycle event.
type EventType string

const (
	// EventTypeNew represents a membership being opened
	EventTypeNew EventType = "new"
	// EventTypeRenewal represents a successful recurring payment
	EventTypeRenewal EventType = "renewal"
	// EventTypeCancellation represents a membership being cancelled
	EventTypeCancellation EventType = "cancellation"
	// EventTypeCompleted represents a membership running to its natural end
	EventTypeCompleted EventType = "completed"
	// EventTypeTrial represents a trial activation
	EventTypeTrial EventType = "trial"
	// EventTypePaymentFailed represents a failed payment attempt
	EventTypePaymentFailed EventType = "payment_failed"
	// EventTypeUnknown is the schema-validation default for unrecognized labels
	EventTypeUnknown EventType = "unknown"
)

// ParseEventType maps a raw label to an EventType, defaulting to
// EventTypeUnknown for anything unrecognized. Used for validation at the
// store boundary; the classifier itself never emits unknown.
func ParseEventType(s string) EventType {
	switch EventType(strings.ToLower(strings.TrimSpace(s))) {
	case EventTypeNew:
		return EventTypeNew
	case EventTypeRenewal:
		return EventTypeRenewal
	case EventTypeCancellation:
		return EventTypeCancellation
	case EventTypeCompleted:
		return EventTypeCompleted
	case EventTypeTrial:
		return EventTypeTrial
	case EventTypePaymentFailed:
		return EventTypePaymentFailed
	default:
		return EventTypeUnknown
	}
}

// MembershipEvent is one normalized lifecycle observation.
type MembershipEvent struct {
	// SubscriberID is the opaque stable identity of the membership holder.
	// Empty only for events that could not be linked to an identity.
	SubscriberID string `json:"subscriber_id,omitempty"`

	// DisplayName is the subscriber's display name at observation time
	DisplayName string `json:"display_name,omitempty"`

	// ProductKey identifies the purchased product/access pass
	ProductKey string `json:"product_key,omitempty"`

	// LicenseKey is the upstream membership license key, when shown
	LicenseKey string `json:"license_key,omitempty"`

	// Email is the contact key used when identity cannot be resolved
	Email string `json:"email,omitempty"`

	// StatusLabel is the free-text membership status as observed
	StatusLabel string `json:"status_label,omitempty"`

	// Type is the classified lifecycle transition
	Type EventType `json:"event_type"`

	// SourceEventID uniquely identifies the upstream observation.
	// It is the deduplication key: the store holds at most one event per id.
	SourceEventID string `json:"source_event_id"`

	// Channel names where the observation was seen (e.g. a log channel)
	Channel string `json:"channel,omitempty"`

	// ObservedAt is when the upstream emitted the observation
	ObservedAt time.Time `json:"observed_at"`

	// IngestedAt is when this event was accepted into the store
	IngestedAt time.Time `json:"ingested_at"`
}

// PeriodStatus is the derived state of a timeline period.
type PeriodStatus string

const (
	// PeriodStatusActive marks a period with no terminal event yet
	PeriodStatusActive PeriodStatus = "active"
	// PeriodStatusCancelled marks a period closed by a cancellation
	PeriodStatusCancelled PeriodStatus = "cancelled"
	// PeriodStatusCompleted marks a period that ran to completion
	PeriodStatusCompleted PeriodStatus = "completed"
)

// TimelinePeriod is one contiguous span of active membership. Periods are
// fully derived from the ordered event sequence and are rebuilt from
// scratch, never patched in place.
type TimelinePeriod struct {
	SubscriberID string       `json:"subscriber_id"`
	StartedAt    time.Time    `json:"started_at"`
	EndedAt      *time.Time   `json:"ended_at,omitempty"`
	DurationDays *int         `json:"duration_days,omitempty"`
	Status       PeriodStatus `json:"status"`
}

// PlanSnapshot carries the upstream's view of an entity's plan at the time
// of a transition notification. Values are stored verbatim; RenewalEnd is
// the only field this package interprets (cancellation-scheduled access end).
type PlanSnapshot struct {
	Status            string `json:"status,omitempty"`
	Product           string `json:"product,omitempty"`
	TotalSpent        string `json:"total_spent,omitempty"`
	CancelAtPeriodEnd string `json:"cancel_at_period_end,omitempty"`
	RenewalEnd        string `json:"renewal_end,omitempty"`
	DashboardURL      string `json:"dashboard_url,omitempty"`
}

// WeekBucket holds increment-only counters for one ISO week.
type WeekBucket struct {
	// Counts maps metric name to a non-negative count
	Counts map[string]int `json:"counts"`

	// Totals holds optional non-count aggregates (e.g. revenue totals)
	Totals map[string]float64 `json:"totals,omitempty"`
}

// MemberRecord is the rolling per-identity state used for idempotent weekly
// counting and cancellation/churn bookkeeping.
type MemberRecord struct {
	LastSeen      time.Time     `json:"last_seen"`
	LastEventKind string        `json:"last_event_kind,omitempty"`
	Plan          *PlanSnapshot `json:"plan,omitempty"`

	// Flags maps metric name to the last week key that metric was counted
	// for this identity. The at-most-once-per-week guarantee lives here.
	Flags map[string]string `json:"flags"`

	// OnboardingCompletedAt is set once, on the first counted completion
	OnboardingCompletedAt *time.Time `json:"onboarding_completed_at,omitempty"`

	// CancelScheduledEnd is the known access-end time after a scheduled
	// cancellation; consumed by reminder logic outside this package.
	CancelScheduledEnd *time.Time `json:"cancel_scheduled_end,omitempty"`

	// CancelScheduledFirst is when a cancellation was first scheduled
	CancelScheduledFirst *time.Time `json:"cancel_scheduled_first,omitempty"`

	// ChurnedAt is set once, when a scheduled cancellation is confirmed
	ChurnedAt *time.Time `json:"churned_at,omitempty"`
}

// UnlinkedRecord is the rolling state for an identity known only by a raw
// contact key (normalized email).
type UnlinkedRecord struct {
	LastSeen      time.Time         `json:"last_seen"`
	LastEventKind string            `json:"last_event_kind,omitempty"`
	Flags         map[string]string `json:"flags"`
}

// Observation is one raw input pulled from the paginated upstream log.
type Observation struct {
	// SourceID uniquely identifies this observation upstream
	SourceID string

	// Channel names the upstream channel the observation came from
	Channel string

	// Content is the free-text body to parse
	Content string

	// ObservedAt is the upstream timestamp of the observation
	ObservedAt time.Time
}

// RecordInput is one pre-classified transition notification, the push-path
// counterpart of an Observation.
type RecordInput struct {
	// EntityKey is the resolved identity; empty when unresolved
	EntityKey string

	// Email is the raw contact key used when EntityKey is empty
	Email string

	// Kind is the upstream event kind (see Kind* constants)
	Kind string

	// At is when the transition occurred
	At time.Time

	// Snapshot optionally carries the upstream plan state
	Snapshot *PlanSnapshot
}

// Stats summarizes stored events for one entity.
type Stats struct {
	EventCountsByType    map[EventType]int
	EventCountsByChannel map[string]int
	LastActivity         *time.Time
}

// Overview summarizes the whole event log and derived timelines.
type Overview struct {
	TotalSubscribers int
	NewEvents        int
	Renewals         int
	Cancellations    int
	ActivePeriods    int
	AvgDurationDays  *float64
}

// Config holds tracker configuration.
type Config struct {
	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking operations (default: NoopMetrics)
	Metrics Metrics

	// RetentionWeeks bounds the metrics store (default: 26)
	RetentionWeeks int

	// Now overrides the clock, for tests (default: time.Now)
	Now func() time.Time
}

// NormalizeEmail canonicalizes a contact key for storage and lookup.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
