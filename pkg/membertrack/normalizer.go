package membertrack

import (
	"regexp"
	"strings"
)

// subscriberIDPattern matches the mandatory identity marker: an opaque
// fixed-length numeric token (17-19 digits) inside the Discord ID value.
var subscriberIDPattern = regexp.MustCompile(`\d{17,19}`)

// classifierRule maps a keyword set to an event type.
type classifierRule struct {
	keywords  []string
	eventType EventType
}

// classifierRules is evaluated in order; the first keyword hit wins.
// Keyword sets may co-occur in one observation, so the ordering is policy:
// a failed payment outranks everything, and a cancellation outranks the
// renewal it interrupts. An observation matching no rule defaults to "new".
var classifierRules = []classifierRule{
	{keywords: []string{"payment failed"}, eventType: EventTypePaymentFailed},
	{keywords: []string{"cancel"}, eventType: EventTypeCancellation},
	{keywords: []string{"renewal", "renew"}, eventType: EventTypeRenewal},
	{keywords: []string{"completed"}, eventType: EventTypeCompleted},
	{keywords: []string{"trialing", "trial"}, eventType: EventTypeTrial},
}

// Classify derives the event type from the free-text membership status and
// the full observation content. Pure function.
func Classify(statusLabel, content string) EventType {
	haystack := strings.ToLower(statusLabel) + "\n" + strings.ToLower(content)
	for _, rule := range classifierRules {
		for _, kw := range rule.keywords {
			if strings.Contains(haystack, kw) {
				return rule.eventType
			}
		}
	}
	return EventTypeNew
}

// Normalize parses a raw observation into a canonical MembershipEvent.
// It returns (nil, false) when the observation is not a membership event:
// most observations are expected noise and are dropped silently.
//
// The supported layout is label-on-one-line, value-on-the-next-line:
//
//	Discord ID
//	123456789012345678
//	Membership Status
//	canceled
//
// The "Discord ID" field is mandatory and must contain a plausible identity
// token; "No Discord" values reject the observation. Pure function; the
// caller stamps IngestedAt.
func Normalize(obs Observation) (*MembershipEvent, bool) {
	if strings.TrimSpace(obs.SourceID) == "" {
		return nil, false
	}

	lines := nonEmptyLines(obs.Content)

	idValue := valueAfter(lines, "Discord ID")
	if idValue == "" {
		return nil, false
	}
	if strings.Contains(strings.ToLower(idValue), "no discord") {
		return nil, false
	}
	id := subscriberIDPattern.FindString(idValue)
	if id == "" {
		return nil, false
	}

	displayName := valueAfter(lines, "Discord Username")
	if displayName == "" {
		displayName = valueAfter(lines, "Name")
	}
	status := valueAfter(lines, "Membership Status")

	return &MembershipEvent{
		SubscriberID:  id,
		DisplayName:   displayName,
		ProductKey:    valueAfter(lines, "Access Pass"),
		LicenseKey:    valueAfter(lines, "Key"),
		Email:         NormalizeEmail(valueAfter(lines, "Email")),
		StatusLabel:   status,
		Type:          Classify(status, obs.Content),
		SourceEventID: obs.SourceID,
		Channel:       obs.Channel,
		ObservedAt:    obs.ObservedAt.UTC(),
	}, true
}

func nonEmptyLines(content string) []string {
	raw := strings.Split(content, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if t := strings.TrimSpace(l); t != "" {
			lines = append(lines, t)
		}
	}
	return lines
}

// valueAfter returns the line following the first line containing label.
func valueAfter(lines []string, label string) string {
	for i, l := range lines {
		if strings.Contains(l, label) && i+1 < len(lines) {
			return lines[i+1]
		}
	}
	return ""
}
