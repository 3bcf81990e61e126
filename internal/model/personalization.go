package model

import (
	"slices"
	"time"
)

// RuleType enumerates personalization rule kinds.
type RuleType string

const (
	RuleInterface       RuleType = "interface"
	RuleContentPriority RuleType = "content_priority"
	RuleTiming          RuleType = "timing"
)

// ProfileOrigin records where a profile preference was learned.
type ProfileOrigin string

const (
	OriginIndividual ProfileOrigin = "individual"
	OriginCrossUser  ProfileOrigin = "cross_user"
)

// InterfacePreference is the user's preferred presentation.
type InterfacePreference struct {
	Layout string        `json:"layout"`
	Origin ProfileOrigin `json:"origin"`
}

// ContentPreference ranks content categories, most preferred first.
type ContentPreference struct {
	Priorities []string      `json:"priorities"`
	Origin     ProfileOrigin `json:"origin"`
}

// TimingPreference lists the UTC hours the user is most successful in.
type TimingPreference struct {
	PreferredHours []int         `json:"preferred_hours"`
	Origin         ProfileOrigin `json:"origin"`
}

// ProfileBody is the comparable part of a personalization profile.
type ProfileBody struct {
	Interface       *InterfacePreference `json:"interface,omitempty"`
	ContentPriority *ContentPreference   `json:"content_priority,omitempty"`
	Timing          *TimingPreference    `json:"timing,omitempty"`
}

// PersonalizationProfile is upserted by user id.
type PersonalizationProfile struct {
	UserID       string      `json:"user_id"`
	Body         ProfileBody `json:"body"`
	SessionCount int         `json:"session_count"`
	LastUpdated  time.Time   `json:"last_updated"`
}

// Rule is a single computed personalization rule. Applying a rule to a body
// is a pure overwrite of one preference, so applying it twice is a no-op.
type Rule interface {
	RuleType() RuleType
	apply(b *ProfileBody)
}

// InterfaceRule sets the interface preference.
type InterfaceRule struct{ Pref InterfacePreference }

// ContentPriorityRule sets the content priority preference.
type ContentPriorityRule struct{ Pref ContentPreference }

// TimingRule sets the timing preference.
type TimingRule struct{ Pref TimingPreference }

func (InterfaceRule) RuleType() RuleType       { return RuleInterface }
func (ContentPriorityRule) RuleType() RuleType { return RuleContentPriority }
func (TimingRule) RuleType() RuleType          { return RuleTiming }

func (r InterfaceRule) apply(b *ProfileBody) {
	p := r.Pref
	b.Interface = &p
}

func (r ContentPriorityRule) apply(b *ProfileBody) {
	p := r.Pref
	p.Priorities = slices.Clone(r.Pref.Priorities)
	b.ContentPriority = &p
}

func (r TimingRule) apply(b *ProfileBody) {
	p := r.Pref
	p.PreferredHours = slices.Clone(r.Pref.PreferredHours)
	b.Timing = &p
}

// ApplyRules returns a copy of p with rules applied. LastUpdated is set to now.
func (p PersonalizationProfile) ApplyRules(now time.Time, rules ...Rule) PersonalizationProfile {
	out := p
	out.Body = p.Body.clone()
	for _, r := range rules {
		r.apply(&out.Body)
	}
	out.LastUpdated = now
	return out
}

// ResetRule clears the preference of the given kind.
func (p PersonalizationProfile) ResetRule(now time.Time, t RuleType) PersonalizationProfile {
	out := p
	out.Body = p.Body.clone()
	switch t {
	case RuleInterface:
		out.Body.Interface = nil
	case RuleContentPriority:
		out.Body.ContentPriority = nil
	case RuleTiming:
		out.Body.Timing = nil
	}
	out.LastUpdated = now
	return out
}

// Equal reports whether two bodies hold the same preferences.
func (b ProfileBody) Equal(o ProfileBody) bool {
	if (b.Interface == nil) != (o.Interface == nil) ||
		(b.ContentPriority == nil) != (o.ContentPriority == nil) ||
		(b.Timing == nil) != (o.Timing == nil) {
		return false
	}
	if b.Interface != nil && *b.Interface != *o.Interface {
		return false
	}
	if b.ContentPriority != nil && (b.ContentPriority.Origin != o.ContentPriority.Origin ||
		!slices.Equal(b.ContentPriority.Priorities, o.ContentPriority.Priorities)) {
		return false
	}
	if b.Timing != nil && (b.Timing.Origin != o.Timing.Origin ||
		!slices.Equal(b.Timing.PreferredHours, o.Timing.PreferredHours)) {
		return false
	}
	return true
}

func (b ProfileBody) clone() ProfileBody {
	var out ProfileBody
	if b.Interface != nil {
		v := *b.Interface
		out.Interface = &v
	}
	if b.ContentPriority != nil {
		v := *b.ContentPriority
		v.Priorities = slices.Clone(v.Priorities)
		out.ContentPriority = &v
	}
	if b.Timing != nil {
		v := *b.Timing
		v.PreferredHours = slices.Clone(v.PreferredHours)
		out.Timing = &v
	}
	return out
}
