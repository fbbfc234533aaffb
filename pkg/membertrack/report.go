package membertrack

import (
	"strings"
	"time"
)

// Metric names used in WeekBucket counts.
const (
	MetricNewMembers            = "new_members"
	MetricNewTrials             = "new_trials"
	MetricPaymentFailed         = "payment_failed"
	MetricCancellationScheduled = "cancellation_scheduled"
	MetricCancelledMembers      = "cancelled_members"
	MetricChurn                 = "churn"
)

// Event kinds accepted by Record. Upstream deliverers send these verbatim;
// kinds are matched case-insensitively after trimming.
const (
	KindOnboardingCompleted   = "onboarding_completed"
	KindMemberGranted         = "member_granted"
	KindMemberRoleAdded       = "member_role_added"
	KindTrial                 = "trial"
	KindTrialing              = "trialing"
	KindMembershipTrial       = "membership_trial"
	KindActivatedPending      = "membership_activated_pending"
	KindPaymentFailed         = "payment_failed"
	KindCancellationScheduled = "cancellation_scheduled"
	KindDeactivated           = "deactivated"
	KindCanceled              = "canceled"
	KindCancelled             = "cancelled"
)

// Kind sets for the fixed kind-to-metric table. Membership in a set implies
// one metric bump; some kinds carry extra bookkeeping on the entity record.
var (
	onboardingKinds = kindSet(KindOnboardingCompleted, KindMemberGranted, KindMemberRoleAdded)
	trialKinds      = kindSet(KindTrial, KindTrialing, KindMembershipTrial, KindActivatedPending)
	cancelledKinds  = kindSet(KindDeactivated, KindCanceled, KindCancelled)
)

func kindSet(kinds ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

// ReportMeta describes the report document.
type ReportMeta struct {
	Version        int `json:"version"`
	RetentionWeeks int `json:"retention_weeks"`
}

// Report is the root metrics document: weekly counter buckets plus rolling
// per-entity state. It is a plain in-memory value with pure mutation
// methods; the Tracker owns serialization of mutations and persistence via
// a ReportBackend. One logical writer owns a Report at a time.
type Report struct {
	Meta     ReportMeta                 `json:"meta"`
	Weeks    map[string]*WeekBucket     `json:"weeks"`
	Members  map[string]*MemberRecord   `json:"members"`
	Unlinked map[string]*UnlinkedRecord `json:"unlinked"`
}

// NewReport returns an empty report with the given retention window.
func NewReport(retentionWeeks int) *Report {
	r := &Report{Meta: ReportMeta{Version: 1, RetentionWeeks: retentionWeeks}}
	r.EnsureShape()
	return r
}

// EnsureShape backfills nil maps and meta defaults. Called after loading a
// document that may predate the current shape.
func (r *Report) EnsureShape() {
	if r.Meta.Version == 0 {
		r.Meta.Version = 1
	}
	if r.Weeks == nil {
		r.Weeks = make(map[string]*WeekBucket)
	}
	if r.Members == nil {
		r.Members = make(map[string]*MemberRecord)
	}
	if r.Unlinked == nil {
		r.Unlinked = make(map[string]*UnlinkedRecord)
	}
}

func (r *Report) bucket(weekKey string) *WeekBucket {
	b, ok := r.Weeks[weekKey]
	if !ok {
		b = &WeekBucket{Counts: make(map[string]int)}
		r.Weeks[weekKey] = b
	}
	if b.Counts == nil {
		b.Counts = make(map[string]int)
	}
	return b
}

func (r *Report) member(key string) *MemberRecord {
	rec, ok := r.Members[key]
	if !ok {
		rec = &MemberRecord{}
		r.Members[key] = rec
	}
	if rec.Flags == nil {
		rec.Flags = make(map[string]string)
	}
	return rec
}

func (r *Report) unlinkedRec(email string) *UnlinkedRecord {
	rec, ok := r.Unlinked[email]
	if !ok {
		rec = &UnlinkedRecord{}
		r.Unlinked[email] = rec
	}
	if rec.Flags == nil {
		rec.Flags = make(map[string]string)
	}
	return rec
}

// bumpOnce applies the idempotent bump: if flags already carry weekKey for
// the metric, the signal was counted this week and is skipped; otherwise
// the flag is set and the week's counter increments by one. This
// check-then-set is what makes at-least-once delivery safe, while still
// letting the same entity count again in a later week.
func (r *Report) bumpOnce(flags map[string]string, metric, weekKey string) {
	if flags[metric] == weekKey {
		return
	}
	flags[metric] = weekKey
	r.bucket(weekKey).Counts[metric]++
}

// Record applies one pre-classified transition to the report. Mutations
// are unconditional for rolling state (last seen, last kind, plan
// snapshot) and idempotent per (entity, metric, week) for counters.
// Creating the week bucket alone counts nothing.
func (r *Report) Record(in RecordInput) {
	r.EnsureShape()

	at := in.At.UTC()
	weekKey := WeekKey(at)
	r.bucket(weekKey)

	kind := strings.ToLower(strings.TrimSpace(in.Kind))
	if kind == "" {
		kind = "unknown"
	}

	if key := strings.TrimSpace(in.EntityKey); key != "" {
		r.recordMember(key, kind, at, weekKey, in.Snapshot)
		return
	}
	if email := NormalizeEmail(in.Email); email != "" {
		r.recordUnlinked(email, kind, at, weekKey)
	}
}

func (r *Report) recordMember(key, kind string, at time.Time, weekKey string, snapshot *PlanSnapshot) {
	rec := r.member(key)
	rec.LastSeen = at
	rec.LastEventKind = kind
	if snapshot != nil {
		cp := *snapshot
		rec.Plan = &cp
	}

	bump := func(metric string) { r.bumpOnce(rec.Flags, metric, weekKey) }

	if _, ok := onboardingKinds[kind]; ok {
		if rec.OnboardingCompletedAt == nil {
			t := at
			rec.OnboardingCompletedAt = &t
		}
		bump(MetricNewMembers)
	}

	if _, ok := trialKinds[kind]; ok {
		bump(MetricNewTrials)
	}

	if kind == KindPaymentFailed {
		bump(MetricPaymentFailed)
	}

	if kind == KindCancellationScheduled {
		bump(MetricCancellationScheduled)
		// Remember the access end for reminder logic, and when the
		// cancellation was first scheduled.
		if snapshot != nil && snapshot.RenewalEnd != "" {
			if end, err := time.Parse(time.RFC3339, snapshot.RenewalEnd); err == nil {
				endUTC := end.UTC()
				rec.CancelScheduledEnd = &endUTC
			}
		}
		if rec.CancelScheduledFirst == nil {
			t := at
			rec.CancelScheduledFirst = &t
		}
	}

	if _, ok := cancelledKinds[kind]; ok {
		bump(MetricCancelledMembers)
		// Churn is a confirmed outcome following an earlier intent
		// signal; the intent and the outcome must not double-count.
		if rec.CancelScheduledFirst != nil && rec.ChurnedAt == nil {
			t := at
			rec.ChurnedAt = &t
			bump(MetricChurn)
		}
	}
}

func (r *Report) recordUnlinked(email, kind string, at time.Time, weekKey string) {
	rec := r.unlinkedRec(email)
	rec.LastSeen = at
	rec.LastEventKind = kind

	bump := func(metric string) { r.bumpOnce(rec.Flags, "unlinked_"+metric, weekKey) }

	if _, ok := trialKinds[kind]; ok {
		bump(MetricNewTrials)
	}
	if kind == KindPaymentFailed {
		bump(MetricPaymentFailed)
	}
	if kind == KindCancellationScheduled {
		bump(MetricCancellationScheduled)
	}
	if _, ok := cancelledKinds[kind]; ok {
		bump(MetricCancelledMembers)
	}
}

// Summarize sums week bucket counts across the given keys. Absent weeks
// contribute zero.
func (r *Report) Summarize(weekKeys []string) map[string]int {
	out := make(map[string]int)
	for _, wk := range weekKeys {
		b, ok := r.Weeks[wk]
		if !ok || b.Counts == nil {
			continue
		}
		for metric, n := range b.Counts {
			out[metric] += n
		}
	}
	return out
}

// Prune removes week buckets whose week start predates now minus
// retentionWeeks, and member/unlinked records not seen since the same
// cutoff. Buckets with unparseable keys are dropped. Newer records are
// untouched.
func (r *Report) Prune(now time.Time, retentionWeeks int) {
	r.EnsureShape()
	cutoff := now.UTC().Add(-time.Duration(retentionWeeks) * 7 * 24 * time.Hour)

	for wk := range r.Weeks {
		start, err := WeekStart(wk)
		if err != nil || start.Before(cutoff) {
			delete(r.Weeks, wk)
		}
	}
	for key, rec := range r.Members {
		if rec == nil || rec.LastSeen.Before(cutoff) {
			delete(r.Members, key)
		}
	}
	for email, rec := range r.Unlinked {
		if rec == nil || rec.LastSeen.Before(cutoff) {
			delete(r.Unlinked, email)
		}
	}
	r.Meta.RetentionWeeks = retentionWeeks
}
