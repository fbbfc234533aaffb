package membertrack

import (
	"fmt"
	"time"
)

// WeekKey returns the ISO week key (YYYY-Www) for a timestamp. ISO weeks run
// Monday through Sunday; the key is the metrics bucketing granularity.
func WeekKey(t time.Time) string {
	y, w := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

// WeekStart returns Monday 00:00 UTC of the ISO week named by key.
func WeekStart(key string) (time.Time, error) {
	var y, w int
	if _, err := fmt.Sscanf(key, "%d-W%d", &y, &w); err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidWeekKey, key)
	}
	if w < 1 || w > 53 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidWeekKey, key)
	}

	// January 4 always falls in ISO week 1.
	jan4 := time.Date(y, time.January, 4, 0, 0, 0, 0, time.UTC)
	week1 := jan4.AddDate(0, 0, -daysSinceMonday(jan4))
	start := week1.AddDate(0, 0, (w-1)*7)

	// Week 53 only exists in long ISO years; reject keys that roll over.
	if sy, sw := start.ISOWeek(); sy != y || sw != w {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidWeekKey, key)
	}
	return start, nil
}

// WeekKeysBetween returns the ISO week keys touched by [start, end],
// inclusive and in chronological order. Arguments may be given in either
// order.
func WeekKeysBetween(start, end time.Time) []string {
	a, b := start.UTC(), end.UTC()
	if b.Before(a) {
		a, b = b, a
	}

	cur := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	cur = cur.AddDate(0, 0, -daysSinceMonday(cur))

	var keys []string
	for !cur.After(b) {
		keys = append(keys, WeekKey(cur))
		cur = cur.AddDate(0, 0, 7)
	}
	return keys
}

func daysSinceMonday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
