package beadstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterUnblockedOpenOrdering(t *testing.T) {
	beads := []rawBead{
		{ID: "a", Status: "open", Priority: 2, EstimateMinutes: 10},
		{ID: "b", Status: "open", Priority: 1, EstimateMinutes: 30},
		{ID: "c", Status: "open", Priority: 1, EstimateMinutes: 5, Labels: []string{"stage:review"}},
		{ID: "epic", Status: "open", Type: "epic"},
		{ID: "blocked", Status: "open", Priority: 0, DependsOn: []string{"not-closed"}},
		{ID: "not-closed", Status: "open", Priority: 0},
	}
	graph := buildDepGraph(beads)
	result := filterUnblockedOpen(beads, graph, 3)

	var ids []string
	for _, issue := range result {
		ids = append(ids, issue.ID)
	}
	require.Equal(t, []string{"not-closed", "c", "b", "a"}, ids)
}

func TestIsBlockedOnUnresolvedDependency(t *testing.T) {
	beads := []rawBead{
		{ID: "x", Status: "open", DependsOn: []string{"y"}},
		{ID: "y", Status: "open"},
	}
	graph := buildDepGraph(beads)
	require.True(t, isBlocked(beads[0], graph))
}

func TestIsBlockedFalseWhenDependencyClosed(t *testing.T) {
	beads := []rawBead{
		{ID: "x", Status: "open", DependsOn: []string{"y"}},
		{ID: "y", Status: "closed"},
	}
	graph := buildDepGraph(beads)
	require.False(t, isBlocked(beads[0], graph))
}
