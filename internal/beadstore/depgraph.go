package beadstore

import "sort"

// depGraph is a directed dependency graph built from rawBead.DependsOn edges.
type depGraph struct {
	nodes map[string]*rawBead
}

func buildDepGraph(beads []rawBead) *depGraph {
	g := &depGraph{nodes: make(map[string]*rawBead, len(beads))}
	for i := range beads {
		beads[i].resolveDependsOn()
		g.nodes[beads[i].ID] = &beads[i]
	}
	return g
}

func isBlocked(b rawBead, graph *depGraph) bool {
	for _, depID := range b.DependsOn {
		dep, exists := graph.nodes[depID]
		if !exists {
			return true
		}
		if dep.Status != "closed" && dep.Status != "completed" {
			return true
		}
	}
	return false
}

// filterUnblockedOpen returns non-epic issues with status "open" or "ready"
// whose dependencies are all resolved, sorted by priority ascending,
// staged-labeled first, then estimate ascending. This is the bead store's
// own order; the Scheduler ranks the ready set by its own rule.
func filterUnblockedOpen(beads []rawBead, graph *depGraph, defaultMaxRetries int) []Issue {
	var result []rawBead
	for _, b := range beads {
		if b.Status != "open" && b.Status != "ready" {
			continue
		}
		if b.Type == "epic" {
			continue
		}
		if isBlocked(b, graph) {
			continue
		}
		result = append(result, b)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority < result[j].Priority
		}
		iStage := hasStageLabelRaw(result[i])
		jStage := hasStageLabelRaw(result[j])
		if iStage != jStage {
			return iStage
		}
		return result[i].EstimateMinutes < result[j].EstimateMinutes
	})

	issues := make([]Issue, 0, len(result))
	for _, b := range result {
		issues = append(issues, toIssue(b, defaultMaxRetries))
	}
	return issues
}

func hasStageLabelRaw(b rawBead) bool {
	for _, label := range b.Labels {
		if len(label) > 6 && label[:6] == "stage:" {
			return true
		}
	}
	return false
}
