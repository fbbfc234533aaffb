// Package memory provides in-memory implementations of the
// membertrack.EventStore and membertrack.ReportBackend interfaces.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/membertrack/membertrack/pkg/membertrack"
)

// Storage implements membertrack.EventStore and membertrack.ReportBackend
// using in-memory maps.
type Storage struct {
	mu        sync.RWMutex
	events    map[string]*membertrack.MembershipEvent
	timelines map[string][]membertrack.TimelinePeriod
	report    []byte
}

// New creates a new in-memory storage adapter.
func New() *Storage {
	return &Storage{
		events:    make(map[string]*membertrack.MembershipEvent),
		timelines: make(map[string][]membertrack.TimelinePeriod),
	}
}

// AppendEvent implements membertrack.EventStore
func (s *Storage) AppendEvent(ctx context.Context, ev *membertrack.MembershipEvent) (membertrack.AppendResult, error) {
	if err := membertrack.ValidateEvent(ev); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[ev.SourceEventID]; ok {
		return membertrack.AppendDuplicate, nil
	}

	// Store a copy to prevent external mutations
	evCopy := *ev
	s.events[ev.SourceEventID] = &evCopy
	return membertrack.AppendInserted, nil
}

// EventsFor implements membertrack.EventStore
func (s *Storage) EventsFor(ctx context.Context, subscriberID string) ([]membertrack.MembershipEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []membertrack.MembershipEvent
	for _, ev := range s.events {
		if ev.SubscriberID == subscriberID {
			out = append(out, *ev)
		}
	}
	membertrack.SortEvents(out)
	return out, nil
}

// AllEvents implements membertrack.EventStore
func (s *Storage) AllEvents(ctx context.Context) ([]membertrack.MembershipEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]membertrack.MembershipEvent, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, *ev)
	}
	membertrack.SortEvents(out)
	return out, nil
}

// SubscriberIDs implements membertrack.EventStore
func (s *Storage) SubscriberIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, ev := range s.events {
		if ev.SubscriberID != "" {
			seen[ev.SubscriberID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ReplaceTimeline implements membertrack.EventStore
func (s *Storage) ReplaceTimeline(ctx context.Context, subscriberID string, periods []membertrack.TimelinePeriod) error {
	if subscriberID == "" {
		return fmt.Errorf("missing subscriber id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]membertrack.TimelinePeriod, len(periods))
	copy(cp, periods)
	s.timelines[subscriberID] = cp
	return nil
}

// TimelineFor implements membertrack.EventStore
func (s *Storage) TimelineFor(ctx context.Context, subscriberID string) ([]membertrack.TimelinePeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	periods, ok := s.timelines[subscriberID]
	if !ok {
		return nil, nil
	}
	cp := make([]membertrack.TimelinePeriod, len(periods))
	copy(cp, periods)
	return cp, nil
}

// Load implements membertrack.ReportBackend. The report is held as its
// JSON encoding so loads hand back an independent copy.
func (s *Storage) Load(ctx context.Context) (*membertrack.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.report == nil {
		return nil, nil
	}
	var r membertrack.Report
	if err := json.Unmarshal(s.report, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &r, nil
}

// Save implements membertrack.ReportBackend
func (s *Storage) Save(ctx context.Context, r *membertrack.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = data
	return nil
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = make(map[string]*membertrack.MembershipEvent)
	s.timelines = make(map[string][]membertrack.TimelinePeriod)
	s.report = nil
}
