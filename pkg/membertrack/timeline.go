package membertrack

import (
	"sort"
	"time"
)

// RebuildTimeline recomputes a subscriber's full period list from scratch
// as a deterministic fold over that subscriber's events. Only ObservedAt
// order matters, never append order, so rebuilding twice over the same
// events yields identical results.
//
// The fold: the first "new" event opens a period; a later "cancellation"
// or "completed" event closes it; a later "new" opens a fresh period only
// when none is open (subscribers may re-join after a close). Renewals,
// trials and payment failures never open or close periods. Events with a
// zero timestamp are skipped without aborting the rest of the fold.
func RebuildTimeline(subscriberID string, events []MembershipEvent) []TimelinePeriod {
	ordered := make([]MembershipEvent, len(events))
	copy(ordered, events)
	SortEvents(ordered)

	var periods []TimelinePeriod
	var open *TimelinePeriod

	for _, ev := range ordered {
		if ev.ObservedAt.IsZero() {
			continue
		}

		switch ev.Type {
		case EventTypeNew:
			if open == nil {
				open = &TimelinePeriod{
					SubscriberID: subscriberID,
					StartedAt:    ev.ObservedAt,
					Status:       PeriodStatusActive,
				}
			}

		case EventTypeCancellation, EventTypeCompleted:
			if open == nil {
				continue
			}
			end := ev.ObservedAt
			days := durationDays(open.StartedAt, end)
			open.EndedAt = &end
			open.DurationDays = &days
			if ev.Type == EventTypeCancellation {
				open.Status = PeriodStatusCancelled
			} else {
				open.Status = PeriodStatusCompleted
			}
			periods = append(periods, *open)
			open = nil
		}
	}

	if open != nil {
		periods = append(periods, *open)
	}
	return periods
}

// SortEvents orders events by ObservedAt, breaking ties on SourceEventID
// so the ordering is total and independent of append order.
func SortEvents(events []MembershipEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].ObservedAt.Equal(events[j].ObservedAt) {
			return events[i].SourceEventID < events[j].SourceEventID
		}
		return events[i].ObservedAt.Before(events[j].ObservedAt)
	})
}

// durationDays is floor(end-start) in whole days.
func durationDays(start, end time.Time) int {
	return int(end.Sub(start) / (24 * time.Hour))
}
