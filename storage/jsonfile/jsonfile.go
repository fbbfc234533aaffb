// Package jsonfile provides file-backed implementations of the
// membertrack.EventStore and membertrack.ReportBackend interfaces. The
// full state is held in memory and rewritten to disk on every mutation,
// which suits the small, append-mostly data sets this package tracks.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/membertrack/membertrack/pkg/membertrack"
)

const (
	historyFile = "history.json"
	reportFile  = "report.json"
)

// historyDoc is the on-disk shape of the event log and derived timelines.
type historyDoc struct {
	Events    []membertrack.MembershipEvent           `json:"events"`
	Timelines map[string][]membertrack.TimelinePeriod `json:"timelines"`
}

// Storage implements membertrack.EventStore and membertrack.ReportBackend
// over two JSON files in a directory.
type Storage struct {
	dir string

	mu    sync.Mutex
	doc   historyDoc
	index map[string]int // SourceEventID -> position in doc.Events
}

// Open loads (or initializes) a jsonfile storage rooted at dir.
func Open(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	s := &Storage{
		dir:   dir,
		index: make(map[string]int),
	}

	path := filepath.Join(dir, historyFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if s.doc.Timelines == nil {
		s.doc.Timelines = make(map[string][]membertrack.TimelinePeriod)
	}
	for i, ev := range s.doc.Events {
		s.index[ev.SourceEventID] = i
	}
	return s, nil
}

// AppendEvent implements membertrack.EventStore. On a failed write the
// in-memory append is rolled back so the store matches the file.
func (s *Storage) AppendEvent(ctx context.Context, ev *membertrack.MembershipEvent) (membertrack.AppendResult, error) {
	if err := membertrack.ValidateEvent(ev); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[ev.SourceEventID]; ok {
		return membertrack.AppendDuplicate, nil
	}

	s.doc.Events = append(s.doc.Events, *ev)
	s.index[ev.SourceEventID] = len(s.doc.Events) - 1

	if err := s.writeHistoryLocked(); err != nil {
		s.doc.Events = s.doc.Events[:len(s.doc.Events)-1]
		delete(s.index, ev.SourceEventID)
		return 0, err
	}
	return membertrack.AppendInserted, nil
}

// EventsFor implements membertrack.EventStore
func (s *Storage) EventsFor(ctx context.Context, subscriberID string) ([]membertrack.MembershipEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []membertrack.MembershipEvent
	for _, ev := range s.doc.Events {
		if ev.SubscriberID == subscriberID {
			out = append(out, ev)
		}
	}
	membertrack.SortEvents(out)
	return out, nil
}

// AllEvents implements membertrack.EventStore
func (s *Storage) AllEvents(ctx context.Context) ([]membertrack.MembershipEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]membertrack.MembershipEvent, len(s.doc.Events))
	copy(out, s.doc.Events)
	membertrack.SortEvents(out)
	return out, nil
}

// SubscriberIDs implements membertrack.EventStore
func (s *Storage) SubscriberIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for _, ev := range s.doc.Events {
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

	prev, hadPrev := s.doc.Timelines[subscriberID]
	cp := make([]membertrack.TimelinePeriod, len(periods))
	copy(cp, periods)
	s.doc.Timelines[subscriberID] = cp

	if err := s.writeHistoryLocked(); err != nil {
		if hadPrev {
			s.doc.Timelines[subscriberID] = prev
		} else {
			delete(s.doc.Timelines, subscriberID)
		}
		return err
	}
	return nil
}

// TimelineFor implements membertrack.EventStore
func (s *Storage) TimelineFor(ctx context.Context, subscriberID string) ([]membertrack.TimelinePeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	periods, ok := s.doc.Timelines[subscriberID]
	if !ok {
		return nil, nil
	}
	cp := make([]membertrack.TimelinePeriod, len(periods))
	copy(cp, periods)
	return cp, nil
}

// Load implements membertrack.ReportBackend
func (s *Storage) Load(ctx context.Context) (*membertrack.Report, error) {
	path := filepath.Join(s.dir, reportFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var r membertrack.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &r, nil
}

// Save implements membertrack.ReportBackend
func (s *Storage) Save(ctx context.Context, r *membertrack.Report) error {
	return writeAtomic(filepath.Join(s.dir, reportFile), r)
}

func (s *Storage) writeHistoryLocked() error {
	return writeAtomic(filepath.Join(s.dir, historyFile), &s.doc)
}

// writeAtomic marshals v and replaces path via a temp file and rename, so
// a crash mid-write never leaves a truncated file behind.
func writeAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
