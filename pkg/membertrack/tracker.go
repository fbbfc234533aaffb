package membertrack

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultRetentionWeeks bounds the metrics report when no retention is
// configured. Half a year of weekly buckets.
const DefaultRetentionWeeks = 26

// rebuildConcurrency caps parallel timeline rebuilds in RebuildAllTimelines.
const rebuildConcurrency = 4

// IngestResult reports the outcome of ingesting one raw observation.
type IngestResult int

const (
	// IngestInserted means the observation produced a new stored event
	IngestInserted IngestResult = iota
	// IngestDuplicate means the observation was already stored
	IngestDuplicate
	// IngestSkipped means the observation did not parse as a membership event
	IngestSkipped
)

// String returns the result name for logs and metrics labels.
func (r IngestResult) String() string {
	switch r {
	case IngestInserted:
		return "inserted"
	case IngestDuplicate:
		return "duplicate"
	case IngestSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Tracker is the main entry point: it normalizes raw observations into the
// event store, rebuilds derived timelines, and maintains the weekly metrics
// report. A single Tracker is safe for concurrent use; report mutations are
// serialized internally so the report document has one writer.
type Tracker struct {
	events  EventStore
	backend ReportBackend
	logger  Logger
	metrics Metrics
	now     func() time.Time

	mu        sync.Mutex
	report    *Report
	retention int
}

// NewTracker creates a tracker over the given event store. backend may be
// nil, in which case the metrics report lives only in memory. The existing
// report, if any, is loaded from the backend.
func NewTracker(ctx context.Context, events EventStore, backend ReportBackend, config *Config) (*Tracker, error) {
	if events == nil {
		return nil, ErrStorageUnavailable
	}
	if config == nil {
		config = &Config{}
	}

	t := &Tracker{
		events:    events,
		backend:   backend,
		logger:    config.Logger,
		metrics:   config.Metrics,
		now:       config.Now,
		retention: config.RetentionWeeks,
	}
	if t.logger == nil {
		t.logger = &NoopLogger{}
	}
	if t.metrics == nil {
		t.metrics = &NoopMetrics{}
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.retention <= 0 {
		t.retention = DefaultRetentionWeeks
	}

	if backend != nil {
		start := time.Now()
		report, err := backend.Load(ctx)
		t.metrics.RecordStorageOperation("report_load", time.Since(start), err)
		if err != nil {
			return nil, fmt.Errorf("failed to load report: %w", err)
		}
		if report != nil {
			report.EnsureShape()
			t.report = report
		}
	}
	if t.report == nil {
		t.report = NewReport(t.retention)
	}

	t.logger.Info("tracker initialized",
		Field{Key: "retention_weeks", Value: t.retention},
		Field{Key: "report_weeks", Value: len(t.report.Weeks)},
	)
	return t, nil
}

// Ingest normalizes one raw observation and appends it to the event store.
// Observations that do not parse as membership events are skipped without
// error; duplicates are success. Ingest is safe to retry with the same
// observation.
func (t *Tracker) Ingest(ctx context.Context, obs Observation) (IngestResult, *MembershipEvent, error) {
	ev, ok := Normalize(obs)
	if !ok {
		t.metrics.RecordIngest("skipped")
		t.logger.Debug("observation skipped", Field{Key: "source_id", Value: obs.SourceID})
		return IngestSkipped, nil, nil
	}
	ev.IngestedAt = t.now().UTC()

	start := time.Now()
	res, err := t.events.AppendEvent(ctx, ev)
	t.metrics.RecordStorageOperation("event_append", time.Since(start), err)
	if err != nil {
		t.metrics.RecordIngest("error")
		return IngestSkipped, nil, fmt.Errorf("failed to append event %s: %w", ev.SourceEventID, err)
	}

	if res == AppendDuplicate {
		t.metrics.RecordIngest("duplicate")
		return IngestDuplicate, ev, nil
	}

	t.metrics.RecordIngest("inserted")
	t.logger.Info("event ingested",
		Field{Key: "source_event_id", Value: ev.SourceEventID},
		Field{Key: "subscriber_id", Value: ev.SubscriberID},
		Field{Key: "event_type", Value: string(ev.Type)},
	)
	return IngestInserted, ev, nil
}

// Record applies one pre-classified transition notification to the metrics
// report and persists the report. Delivery may be at-least-once: replaying
// a notification within the same week changes nothing, so a failed save
// can be retried by redelivering.
func (t *Tracker) Record(ctx context.Context, in RecordInput) error {
	kind := in.Kind
	if in.At.IsZero() {
		in.At = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.report.Record(in)
	t.metrics.RecordNotification(kind)

	if err := t.saveReportLocked(ctx); err != nil {
		return err
	}
	t.logger.Debug("notification recorded",
		Field{Key: "kind", Value: kind},
		Field{Key: "entity_key", Value: in.EntityKey},
	)
	return nil
}

// saveReportLocked persists the report. Callers hold t.mu. The in-memory
// report keeps the mutation even when the save fails; per-week flags make
// the redelivery that follows a failed save idempotent.
func (t *Tracker) saveReportLocked(ctx context.Context) error {
	if t.backend == nil {
		return nil
	}
	start := time.Now()
	err := t.backend.Save(ctx, t.report)
	t.metrics.RecordStorageOperation("report_save", time.Since(start), err)
	if err != nil {
		t.logger.Error("report save failed", Field{Key: "error", Value: err.Error()})
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// RebuildTimeline recomputes and stores one subscriber's derived timeline
// from their full event history, returning the new periods.
func (t *Tracker) RebuildTimeline(ctx context.Context, subscriberID string) ([]TimelinePeriod, error) {
	start := time.Now()
	events, err := t.events.EventsFor(ctx, subscriberID)
	t.metrics.RecordStorageOperation("events_for", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for %s: %w", subscriberID, err)
	}

	periods := RebuildTimeline(subscriberID, events)

	start = time.Now()
	err = t.events.ReplaceTimeline(ctx, subscriberID, periods)
	t.metrics.RecordStorageOperation("timeline_replace", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to store timeline for %s: %w", subscriberID, err)
	}
	return periods, nil
}

// RebuildAllTimelines recomputes every subscriber's timeline. Rebuilds for
// distinct subscribers are independent, so they run with bounded
// parallelism; the first failure cancels the rest.
func (t *Tracker) RebuildAllTimelines(ctx context.Context) (int, error) {
	ids, err := t.events.SubscriberIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list subscribers: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(rebuildConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := t.RebuildTimeline(ctx, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	t.logger.Info("timelines rebuilt", Field{Key: "subscribers", Value: len(ids)})
	return len(ids), nil
}

// Timeline returns the stored derived timeline for one subscriber.
func (t *Tracker) Timeline(ctx context.Context, subscriberID string) ([]TimelinePeriod, error) {
	return t.events.TimelineFor(ctx, subscriberID)
}

// History returns a subscriber's events in observation order. When limit is
// positive, only the most recent limit events are returned, still ascending.
func (t *Tracker) History(ctx context.Context, subscriberID string, limit int) ([]MembershipEvent, error) {
	events, err := t.events.EventsFor(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for %s: %w", subscriberID, err)
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// Stats aggregates one subscriber's stored events by type and channel.
func (t *Tracker) Stats(ctx context.Context, subscriberID string) (*Stats, error) {
	events, err := t.events.EventsFor(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for %s: %w", subscriberID, err)
	}

	s := &Stats{
		EventCountsByType:    make(map[EventType]int),
		EventCountsByChannel: make(map[string]int),
	}
	for _, ev := range events {
		s.EventCountsByType[ev.Type]++
		if ev.Channel != "" {
			s.EventCountsByChannel[ev.Channel]++
		}
		if !ev.ObservedAt.IsZero() && (s.LastActivity == nil || ev.ObservedAt.After(*s.LastActivity)) {
			last := ev.ObservedAt
			s.LastActivity = &last
		}
	}
	return s, nil
}

// Overview aggregates the full event log and derived timelines into
// membership-wide totals.
func (t *Tracker) Overview(ctx context.Context) (*Overview, error) {
	events, err := t.events.AllEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	ids, err := t.events.SubscriberIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}

	ov := &Overview{TotalSubscribers: len(ids)}
	for _, ev := range events {
		switch ev.Type {
		case EventTypeNew:
			ov.NewEvents++
		case EventTypeRenewal:
			ov.Renewals++
		case EventTypeCancellation:
			ov.Cancellations++
		}
	}

	var durSum, durN int
	for _, id := range ids {
		periods, err := t.events.TimelineFor(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load timeline for %s: %w", id, err)
		}
		for _, p := range periods {
			if p.Status == PeriodStatusActive {
				ov.ActivePeriods++
			}
			if p.DurationDays != nil {
				durSum += *p.DurationDays
				durN++
			}
		}
	}
	if durN > 0 {
		avg := float64(durSum) / float64(durN)
		ov.AvgDurationDays = &avg
	}
	return ov, nil
}

// Summarize sums report counters over the weeks touched by [from, to].
func (t *Tracker) Summarize(from, to time.Time) map[string]int {
	keys := WeekKeysBetween(from, to)

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report.Summarize(keys)
}

// SummarizeWeeks sums report counters over explicit week keys.
func (t *Tracker) SummarizeWeeks(weekKeys []string) map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report.Summarize(weekKeys)
}

// Prune drops report buckets and entity records older than the configured
// retention window and persists the shrunk report.
func (t *Tracker) Prune(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	before := len(t.report.Weeks)
	t.report.Prune(t.now(), t.retention)
	t.logger.Info("report pruned",
		Field{Key: "weeks_before", Value: before},
		Field{Key: "weeks_after", Value: len(t.report.Weeks)},
	)
	return t.saveReportLocked(ctx)
}

// Report returns a point-in-time copy of the metrics report for read-only
// inspection.
func (t *Tracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := Report{
		Meta:     t.report.Meta,
		Weeks:    make(map[string]*WeekBucket, len(t.report.Weeks)),
		Members:  make(map[string]*MemberRecord, len(t.report.Members)),
		Unlinked: make(map[string]*UnlinkedRecord, len(t.report.Unlinked)),
	}
	for wk, b := range t.report.Weeks {
		nb := &WeekBucket{Counts: make(map[string]int, len(b.Counts))}
		for k, v := range b.Counts {
			nb.Counts[k] = v
		}
		if b.Totals != nil {
			nb.Totals = make(map[string]float64, len(b.Totals))
			for k, v := range b.Totals {
				nb.Totals[k] = v
			}
		}
		cp.Weeks[wk] = nb
	}
	for k, rec := range t.report.Members {
		c := *rec
		c.Flags = make(map[string]string, len(rec.Flags))
		for fk, fv := range rec.Flags {
			c.Flags[fk] = fv
		}
		if rec.Plan != nil {
			p := *rec.Plan
			c.Plan = &p
		}
		cp.Members[k] = &c
	}
	for k, rec := range t.report.Unlinked {
		c := *rec
		c.Flags = make(map[string]string, len(rec.Flags))
		for fk, fv := range rec.Flags {
			c.Flags[fk] = fv
		}
		cp.Unlinked[k] = &c
	}
	return cp
}
