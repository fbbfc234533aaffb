package membertrack_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/membertrack/membertrack/pkg/membertrack"
	"github.com/membertrack/membertrack/storage/memory"
)

func newTestTracker(t *testing.T) (*membertrack.Tracker, *memory.Storage) {
	t.Helper()

	store := memory.New()
	tracker, err := membertrack.NewTracker(context.Background(), store, store, nil)
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}
	return tracker, store
}

func membershipContent(id, status string) string {
	return fmt.Sprintf("Discord ID\n%s\nMembership Status\n%s", id, status)
}

func TestNewTracker(t *testing.T) {
	store := memory.New()
	tracker, err := membertrack.NewTracker(context.Background(), store, store, nil)
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}
	if tracker == nil {
		t.Fatal("Expected non-nil tracker")
	}

	// Test with nil event store
	_, err = membertrack.NewTracker(context.Background(), nil, store, nil)
	if err != membertrack.ErrStorageUnavailable {
		t.Errorf("Expected ErrStorageUnavailable, got %v", err)
	}
}

func TestTracker_IngestIdempotent(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	obs := membertrack.Observation{
		SourceID:   "msg-1",
		Content:    membershipContent("123456789012345678", "active"),
		ObservedAt: time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC),
	}

	res, ev, err := tracker.Ingest(ctx, obs)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res != membertrack.IngestInserted {
		t.Errorf("first ingest = %v, want inserted", res)
	}
	if ev == nil || ev.IngestedAt.IsZero() {
		t.Error("IngestedAt not stamped")
	}

	res, _, err = tracker.Ingest(ctx, obs)
	if err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}
	if res != membertrack.IngestDuplicate {
		t.Errorf("second ingest = %v, want duplicate", res)
	}

	history, err := tracker.History(ctx, "123456789012345678", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("stored %d events, want 1", len(history))
	}
}

func TestTracker_IngestSkipsNoise(t *testing.T) {
	tracker, _ := newTestTracker(t)

	res, ev, err := tracker.Ingest(context.Background(), membertrack.Observation{
		SourceID: "msg-2",
		Content:  "unrelated chatter",
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res != membertrack.IngestSkipped || ev != nil {
		t.Errorf("got (%v, %v), want skipped with nil event", res, ev)
	}
}

func TestTracker_RebuildTimeline(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	observations := []membertrack.Observation{
		{SourceID: "m1", Content: membershipContent("123456789012345678", "active"), ObservedAt: base},
		{SourceID: "m2", Content: membershipContent("123456789012345678", "canceled"), ObservedAt: base.AddDate(0, 0, 45)},
	}
	for _, obs := range observations {
		if _, _, err := tracker.Ingest(ctx, obs); err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
	}

	periods, err := tracker.RebuildTimeline(ctx, "123456789012345678")
	if err != nil {
		t.Fatalf("RebuildTimeline failed: %v", err)
	}
	if len(periods) != 1 {
		t.Fatalf("got %d periods, want 1", len(periods))
	}
	if periods[0].Status != membertrack.PeriodStatusCancelled {
		t.Errorf("Status = %v, want cancelled", periods[0].Status)
	}

	stored, err := tracker.Timeline(ctx, "123456789012345678")
	if err != nil {
		t.Fatalf("Timeline failed: %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("stored %d periods, want 1", len(stored))
	}
}

func TestTracker_RebuildAllTimelines(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	ids := []string{
		"111111111111111111",
		"222222222222222222",
		"333333333333333333",
	}
	for i, id := range ids {
		obs := membertrack.Observation{
			SourceID:   fmt.Sprintf("m-%d", i),
			Content:    membershipContent(id, "active"),
			ObservedAt: base,
		}
		if _, _, err := tracker.Ingest(ctx, obs); err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
	}

	n, err := tracker.RebuildAllTimelines(ctx)
	if err != nil {
		t.Fatalf("RebuildAllTimelines failed: %v", err)
	}
	if n != len(ids) {
		t.Errorf("rebuilt %d timelines, want %d", n, len(ids))
	}
	for _, id := range ids {
		periods, err := tracker.Timeline(ctx, id)
		if err != nil {
			t.Fatalf("Timeline(%s) failed: %v", id, err)
		}
		if len(periods) != 1 || periods[0].Status != membertrack.PeriodStatusActive {
			t.Errorf("timeline for %s = %+v", id, periods)
		}
	}
}

func TestTracker_History_Limit(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		obs := membertrack.Observation{
			SourceID:   fmt.Sprintf("m-%d", i),
			Content:    membershipContent("123456789012345678", "active"),
			ObservedAt: base.AddDate(0, 0, i),
		}
		if _, _, err := tracker.Ingest(ctx, obs); err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
	}

	history, err := tracker.History(ctx, "123456789012345678", 2)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d events, want 2", len(history))
	}
	// Most recent two, still in ascending order.
	if history[0].SourceEventID != "m-3" || history[1].SourceEventID != "m-4" {
		t.Errorf("got %q, %q; want m-3, m-4",
			history[0].SourceEventID, history[1].SourceEventID)
	}
}

func TestTracker_Stats(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	observations := []membertrack.Observation{
		{SourceID: "m1", Channel: "log-a", Content: membershipContent("123456789012345678", "active"), ObservedAt: base},
		{SourceID: "m2", Channel: "log-a", Content: membershipContent("123456789012345678", "renewal"), ObservedAt: base.AddDate(0, 1, 0)},
		{SourceID: "m3", Channel: "log-b", Content: membershipContent("123456789012345678", "canceled"), ObservedAt: base.AddDate(0, 2, 0)},
	}
	for _, obs := range observations {
		if _, _, err := tracker.Ingest(ctx, obs); err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
	}

	stats, err := tracker.Stats(ctx, "123456789012345678")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.EventCountsByType[membertrack.EventTypeNew] != 1 {
		t.Errorf("new count = %d", stats.EventCountsByType[membertrack.EventTypeNew])
	}
	if stats.EventCountsByType[membertrack.EventTypeRenewal] != 1 {
		t.Errorf("renewal count = %d", stats.EventCountsByType[membertrack.EventTypeRenewal])
	}
	if stats.EventCountsByChannel["log-a"] != 2 {
		t.Errorf("log-a count = %d", stats.EventCountsByChannel["log-a"])
	}
	if stats.LastActivity == nil || !stats.LastActivity.Equal(base.AddDate(0, 2, 0)) {
		t.Errorf("LastActivity = %v", stats.LastActivity)
	}
}

func TestTracker_Overview(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	observations := []membertrack.Observation{
		{SourceID: "m1", Content: membershipContent("111111111111111111", "active"), ObservedAt: base},
		{SourceID: "m2", Content: membershipContent("111111111111111111", "canceled"), ObservedAt: base.AddDate(0, 0, 30)},
		{SourceID: "m3", Content: membershipContent("222222222222222222", "active"), ObservedAt: base},
	}
	for _, obs := range observations {
		if _, _, err := tracker.Ingest(ctx, obs); err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
	}
	if _, err := tracker.RebuildAllTimelines(ctx); err != nil {
		t.Fatalf("RebuildAllTimelines failed: %v", err)
	}

	ov, err := tracker.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview failed: %v", err)
	}
	if ov.TotalSubscribers != 2 {
		t.Errorf("TotalSubscribers = %d, want 2", ov.TotalSubscribers)
	}
	if ov.NewEvents != 2 {
		t.Errorf("NewEvents = %d, want 2", ov.NewEvents)
	}
	if ov.Cancellations != 1 {
		t.Errorf("Cancellations = %d, want 1", ov.Cancellations)
	}
	if ov.ActivePeriods != 1 {
		t.Errorf("ActivePeriods = %d, want 1", ov.ActivePeriods)
	}
	if ov.AvgDurationDays == nil || *ov.AvgDurationDays != 30 {
		t.Errorf("AvgDurationDays = %v, want 30", ov.AvgDurationDays)
	}
}

func TestTracker_RecordPersistsReport(t *testing.T) {
	store := memory.New()
	tracker, err := membertrack.NewTracker(context.Background(), store, store, nil)
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}
	ctx := context.Background()
	at := time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC)

	err = tracker.Record(ctx, membertrack.RecordInput{
		EntityKey: "user-1",
		Kind:      membertrack.KindOnboardingCompleted,
		At:        at,
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	// A fresh tracker over the same backend sees the persisted counts.
	reloaded, err := membertrack.NewTracker(ctx, store, store, nil)
	if err != nil {
		t.Fatalf("NewTracker (reload) failed: %v", err)
	}
	sums := reloaded.Summarize(at, at)
	if sums[membertrack.MetricNewMembers] != 1 {
		t.Errorf("new_members after reload = %d, want 1", sums[membertrack.MetricNewMembers])
	}
}

func TestTracker_SummarizeAndPrune(t *testing.T) {
	now := time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	tracker, err := membertrack.NewTracker(context.Background(), store, store, &membertrack.Config{
		RetentionWeeks: 4,
		Now:            func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}
	ctx := context.Background()

	old := now.AddDate(0, 0, -70)
	if err := tracker.Record(ctx, membertrack.RecordInput{EntityKey: "u1", Kind: membertrack.KindTrialing, At: old}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := tracker.Record(ctx, membertrack.RecordInput{EntityKey: "u2", Kind: membertrack.KindTrialing, At: now}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	sums := tracker.Summarize(old, now)
	if sums[membertrack.MetricNewTrials] != 2 {
		t.Errorf("new_trials before prune = %d, want 2", sums[membertrack.MetricNewTrials])
	}

	if err := tracker.Prune(ctx); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}

	sums = tracker.Summarize(old, now)
	if sums[membertrack.MetricNewTrials] != 1 {
		t.Errorf("new_trials after prune = %d, want 1", sums[membertrack.MetricNewTrials])
	}

	report := tracker.Report()
	if _, ok := report.Members["u1"]; ok {
		t.Error("stale member record survived prune")
	}
	if _, ok := report.Members["u2"]; !ok {
		t.Error("fresh member record pruned")
	}
}
