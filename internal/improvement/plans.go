package improvement

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/kaizen/internal/model"
)

type objectiveGroup struct {
	objectives []string
	agents     []model.AgentName
	opps       []model.ImprovementOpportunity
}

// Plans groups ranked opportunities by shared objective. An objective
// pursued by two or more agents becomes a plan; objectives pursued by the
// same set of agents share one plan. Order follows the ranking.
func (c *Coordinator) Plans(ranked []model.ImprovementOpportunity) []model.CoordinationPlan {
	var order []string
	byObjective := make(map[string][]model.ImprovementOpportunity)
	for _, o := range ranked {
		for _, obj := range o.Objectives {
			if _, ok := byObjective[obj]; !ok {
				order = append(order, obj)
			}
			byObjective[obj] = append(byObjective[obj], o)
		}
	}

	var groups []*objectiveGroup
	byAgents := make(map[string]*objectiveGroup)
	for _, obj := range order {
		opps := byObjective[obj]
		agents := distinctAgents(opps)
		if len(agents) < 2 {
			continue
		}
		key := agentKey(agents)
		g, ok := byAgents[key]
		if !ok {
			g = &objectiveGroup{agents: agents}
			byAgents[key] = g
			groups = append(groups, g)
		}
		g.objectives = append(g.objectives, obj)
		for _, o := range opps {
			if !slices.ContainsFunc(g.opps, func(x model.ImprovementOpportunity) bool { return x.ID == o.ID }) {
				g.opps = append(g.opps, o)
			}
		}
	}

	plans := make([]model.CoordinationPlan, 0, len(groups))
	for _, g := range groups {
		plans = append(plans, c.buildPlan(g))
	}
	return plans
}

func (c *Coordinator) buildPlan(g *objectiveGroup) model.CoordinationPlan {
	p := model.CoordinationPlan{
		ID:               uuid.New(),
		SharedObjectives: g.objectives,
		SuccessMetrics:   make(map[string]float64),
	}
	for _, o := range g.opps {
		p.OpportunityIDs = append(p.OpportunityIDs, o.ID)
		for k, v := range o.PotentialImpact {
			p.SuccessMetrics[k] += v
		}
	}

	edges := c.feedEdges(g.agents)
	switch {
	case len(edges) > 0:
		p.CoordinationType = model.CoordinationSequential
		p.CoordinatedAgents = topoOrder(g.agents, edges)
		for _, e := range edges {
			p.SynchronizationPoints = append(p.SynchronizationPoints, fmt.Sprintf("%s->%s", e[0], e[1]))
		}
	case slices.ContainsFunc(g.opps, risky):
		p.CoordinationType = model.CoordinationConditional
		p.CoordinatedAgents = g.agents
		for _, o := range g.opps {
			if risky(o) {
				p.SynchronizationPoints = append(p.SynchronizationPoints, "approval:"+o.ID.String())
			}
		}
	default:
		p.CoordinationType = model.CoordinationParallel
		p.CoordinatedAgents = g.agents
		p.SynchronizationPoints = []string{"all_complete"}
	}
	return p
}

func risky(o model.ImprovementOpportunity) bool {
	return o.ImplementationComplexity == model.ComplexityHigh ||
		o.ImplementationComplexity == model.ComplexityExperimental
}

// feedEdges returns producer->consumer pairs among members, in canonical order.
func (c *Coordinator) feedEdges(members []model.AgentName) [][2]model.AgentName {
	var edges [][2]model.AgentName
	for _, from := range members {
		for _, to := range c.cfg.Feeds[from] {
			if slices.Contains(members, to) {
				edges = append(edges, [2]model.AgentName{from, to})
			}
		}
	}
	return edges
}

// topoOrder orders members so producers precede consumers, ties broken by
// canonical agent order. Members caught in a cycle keep canonical order.
func topoOrder(members []model.AgentName, edges [][2]model.AgentName) []model.AgentName {
	indeg := make(map[model.AgentName]int, len(members))
	for _, e := range edges {
		indeg[e[1]]++
	}
	remaining := slices.Clone(members)
	var out []model.AgentName
	for len(remaining) > 0 {
		next := -1
		for i, a := range remaining {
			if indeg[a] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return append(out, remaining...)
		}
		a := remaining[next]
		out = append(out, a)
		remaining = slices.Delete(remaining, next, next+1)
		for _, e := range edges {
			if e[0] == a {
				indeg[e[1]]--
			}
		}
	}
	return out
}

// distinctAgents returns the source agents of opps in canonical order.
func distinctAgents(opps []model.ImprovementOpportunity) []model.AgentName {
	var out []model.AgentName
	for _, a := range model.AllAgents {
		if slices.ContainsFunc(opps, func(o model.ImprovementOpportunity) bool { return o.SourceAgent == a }) {
			out = append(out, a)
		}
	}
	return out
}

func agentKey(agents []model.AgentName) string {
	parts := make([]string, len(agents))
	for i, a := range agents {
		parts[i] = string(a)
	}
	return strings.Join(parts, ",")
}
