package agent

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ashita-ai/kaizen/internal/model"
)

// PersonalizationConfig controls the personalization agent.
type PersonalizationConfig struct {
	Interval        time.Duration
	Lookback        time.Duration
	MinUserSessions int
	// CrossUserLearning fills preferences a user lacks from values shared by
	// at least CrossUserMinSupport distinct successful users.
	CrossUserLearning   bool
	CrossUserMinSupport int
	LayoutAttribute     string
	ContentAttribute    string
	PreferredHours      int
}

// DefaultPersonalizationConfig returns the standard configuration.
func DefaultPersonalizationConfig() PersonalizationConfig {
	return PersonalizationConfig{
		Interval:            4 * time.Hour,
		Lookback:            30 * 24 * time.Hour,
		MinUserSessions:     5,
		CrossUserMinSupport: 5,
		LayoutAttribute:     "layout",
		ContentAttribute:    "content_type",
		PreferredHours:      3,
	}
}

// Personalization builds per-user profiles from each user's own successful
// sessions and upserts them by user id.
type Personalization struct {
	*base
	cfg PersonalizationConfig
}

// NewPersonalization creates the agent.
func NewPersonalization(cfg PersonalizationConfig, deps Deps) *Personalization {
	return &Personalization{
		// Profiles are rebuilt from the full lookback; the fresh-data window
		// used by ShouldRun still starts at the last run.
		base: newBase(model.AgentPersonalization, cfg.Interval, cfg.Lookback, deps),
		cfg:  cfg,
	}
}

// ShouldRun implements Agent.
func (a *Personalization) ShouldRun(ctx context.Context) (model.RunDecision, error) {
	return a.decide(ctx, func(n int) int { return n / max(1, a.cfg.MinUserSessions) })
}

// Run implements Agent.
func (a *Personalization) Run(ctx context.Context) (*model.AgentRunResult, error) {
	return a.run(ctx, a.personalize)
}

func (a *Personalization) personalize(ctx context.Context, rc runContext) (*model.AgentRunResult, error) {
	recs, err := a.deps.Source.Records(ctx, model.RecordQuery{
		Since: rc.Now.Add(-a.cfg.Lookback),
		Until: rc.Now,
		Kind:  model.RecordSession,
	})
	if err != nil {
		return nil, model.NewTransientDataError("personalization: read sessions", err)
	}

	byUser := make(map[string][]model.BehavioralRecord)
	for _, r := range sessionsOnly(recs) {
		if r.UserID != "" {
			byUser[r.UserID] = append(byUser[r.UserID], r)
		}
	}
	users := make([]string, 0, len(byUser))
	for u := range byUser {
		users = append(users, u)
	}
	slices.Sort(users)

	var shared []model.Rule
	if a.cfg.CrossUserLearning {
		shared = a.sharedRules(byUser)
	}

	res := &model.AgentRunResult{}
	crossFilled := 0
	for _, u := range users {
		sessions := byUser[u]
		if len(sessions) < a.cfg.MinUserSessions {
			continue
		}
		rules := a.userRules(sessions)
		have := make(map[model.RuleType]bool, len(rules))
		for _, r := range rules {
			have[r.RuleType()] = true
		}
		for _, r := range shared {
			if !have[r.RuleType()] {
				rules = append(rules, r)
				crossFilled++
			}
		}
		if len(rules) == 0 {
			continue
		}
		p := model.PersonalizationProfile{UserID: u, SessionCount: len(sessions)}.ApplyRules(rc.Now, rules...)
		if err := a.deps.Sink.UpsertPersonalizationProfile(ctx, u, p); err != nil {
			return nil, fmt.Errorf("personalization: upsert profile %s: %w", u, err)
		}
		res.Profiles = append(res.Profiles, p)
	}

	if len(res.Profiles) > 0 {
		res.Insights = append(res.Insights, a.insight(rc, "profiles_updated",
			fmt.Sprintf("%d personalization profiles updated (%d preferences from cross-user learning)", len(res.Profiles), crossFilled),
			0.8, "satisfaction"))
		res.Opportunities = append(res.Opportunities, a.opportunity(rc, "personalization_rollout",
			fmt.Sprintf("Roll out refreshed profiles to %d users", len(res.Profiles)),
			model.ComplexityLow, 0.75, 0.2,
			map[string]float64{"satisfaction": min(0.5, 0.01*float64(len(res.Profiles)))},
			"satisfaction"))
	}
	res.Opportunities = focused(res.Opportunities, rc.Focus)

	a.deps.Logger.Info("personalization: run complete", "users", len(users), "profiles", len(res.Profiles))
	return res, nil
}

// userRules derives rules from one user's successful sessions only.
func (a *Personalization) userRules(sessions []model.BehavioralRecord) []model.Rule {
	layouts := make(map[string]int)
	content := make(map[string]int)
	hours := make(map[int]int)
	for _, s := range sessions {
		if !s.Succeeded() {
			continue
		}
		if v := s.Attributes[a.cfg.LayoutAttribute]; v != "" {
			layouts[v]++
		}
		if v := s.Attributes[a.cfg.ContentAttribute]; v != "" {
			content[v]++
		}
		hours[s.OccurredAt.UTC().Hour()]++
	}

	var rules []model.Rule
	if top := rankKeys(layouts); len(top) > 0 {
		rules = append(rules, model.InterfaceRule{Pref: model.InterfacePreference{Layout: top[0], Origin: model.OriginIndividual}})
	}
	if ranked := rankKeys(content); len(ranked) > 0 {
		rules = append(rules, model.ContentPriorityRule{Pref: model.ContentPreference{Priorities: ranked, Origin: model.OriginIndividual}})
	}
	if h := topHours(hours, a.cfg.PreferredHours); len(h) > 0 {
		rules = append(rules, model.TimingRule{Pref: model.TimingPreference{PreferredHours: h, Origin: model.OriginIndividual}})
	}
	return rules
}

// sharedRules derives rules from values observed among the successful
// sessions of enough distinct users. Only counts are kept, never user ids.
func (a *Personalization) sharedRules(byUser map[string][]model.BehavioralRecord) []model.Rule {
	layouts := make(map[string]int)
	content := make(map[string]int)
	hours := make(map[int]int)
	for _, sessions := range byUser {
		seenLayout := make(map[string]bool)
		seenContent := make(map[string]bool)
		seenHour := make(map[int]bool)
		for _, s := range sessions {
			if !s.Succeeded() {
				continue
			}
			if v := s.Attributes[a.cfg.LayoutAttribute]; v != "" && !seenLayout[v] {
				seenLayout[v] = true
				layouts[v]++
			}
			if v := s.Attributes[a.cfg.ContentAttribute]; v != "" && !seenContent[v] {
				seenContent[v] = true
				content[v]++
			}
			if h := s.OccurredAt.UTC().Hour(); !seenHour[h] {
				seenHour[h] = true
				hours[h]++
			}
		}
	}
	supported := func(m map[string]int) map[string]int {
		out := make(map[string]int)
		for k, n := range m {
			if n >= a.cfg.CrossUserMinSupport {
				out[k] = n
			}
		}
		return out
	}
	supportedHours := make(map[int]int)
	for h, n := range hours {
		if n >= a.cfg.CrossUserMinSupport {
			supportedHours[h] = n
		}
	}

	var rules []model.Rule
	if top := rankKeys(supported(layouts)); len(top) > 0 {
		rules = append(rules, model.InterfaceRule{Pref: model.InterfacePreference{Layout: top[0], Origin: model.OriginCrossUser}})
	}
	if ranked := rankKeys(supported(content)); len(ranked) > 0 {
		rules = append(rules, model.ContentPriorityRule{Pref: model.ContentPreference{Priorities: ranked, Origin: model.OriginCrossUser}})
	}
	if h := topHours(supportedHours, a.cfg.PreferredHours); len(h) > 0 {
		rules = append(rules, model.TimingRule{Pref: model.TimingPreference{PreferredHours: h, Origin: model.OriginCrossUser}})
	}
	return rules
}

// rankKeys orders keys by count descending, then name.
func rankKeys(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(x, y string) int {
		if c := cmp.Compare(counts[y], counts[x]); c != 0 {
			return c
		}
		return cmp.Compare(x, y)
	})
	return keys
}

// topHours returns the n busiest hours, sorted by hour.
func topHours(counts map[int]int, n int) []int {
	hours := make([]int, 0, len(counts))
	for h := range counts {
		hours = append(hours, h)
	}
	slices.SortFunc(hours, func(x, y int) int {
		if c := cmp.Compare(counts[y], counts[x]); c != 0 {
			return c
		}
		return cmp.Compare(x, y)
	})
	if len(hours) > n {
		hours = hours[:n]
	}
	slices.Sort(hours)
	return hours
}
