package kernelflow

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cyntra-dev/cyntra/internal/beadstore"
	"github.com/cyntra-dev/cyntra/internal/proof"
	"github.com/cyntra-dev/cyntra/internal/store"
)

// stubBeadClient serves fixed issues to ListInFlightActivity's token lookup
// without shelling out to a real bd CLI.
type stubBeadClient struct {
	issues map[string]beadstore.Issue
}

func (s *stubBeadClient) ListReady(ctx context.Context) ([]beadstore.Issue, error)      { return nil, nil }
func (s *stubBeadClient) ListInProgress(ctx context.Context) ([]beadstore.Issue, error) { return nil, nil }
func (s *stubBeadClient) Get(ctx context.Context, id string) (beadstore.Issue, error) {
	return s.issues[id], nil
}
func (s *stubBeadClient) UpdateStatus(ctx context.Context, id string, newStatus beadstore.Status, reason string) error {
	return nil
}
func (s *stubBeadClient) UpdateRetryBudget(ctx context.Context, id string, remaining int) error {
	return nil
}

var _ beadstore.Client = (*stubBeadClient)(nil)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cyntra.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestNextStatusSuccessAllPassedCompletes(t *testing.T) {
	issue := beadstore.Issue{ID: "issue-1", RetryBudget: 2}
	p := proof.PatchProof{Status: proof.StatusSuccess, Verification: proof.Verification{AllPassed: true}}

	status, _, remaining := nextStatus(issue, p)
	require.Equal(t, beadstore.StatusCompleted, status)
	require.Equal(t, 0, remaining)
}

func TestNextStatusFailureWithBudgetReturnsToReadyDecremented(t *testing.T) {
	issue := beadstore.Issue{ID: "issue-1", RetryBudget: 2}
	p := proof.PatchProof{Status: proof.StatusFailed, Verification: proof.Verification{AllPassed: false}}

	status, reason, remaining := nextStatus(issue, p)
	require.Equal(t, beadstore.StatusReady, status)
	require.Equal(t, 1, remaining)
	require.Contains(t, reason, "1 remaining")
}

func TestNextStatusExhaustedBudgetArchives(t *testing.T) {
	issue := beadstore.Issue{ID: "issue-1", RetryBudget: 0}
	p := proof.PatchProof{Status: proof.StatusFailed, Verification: proof.Verification{AllPassed: false}}

	status, reason, remaining := nextStatus(issue, p)
	require.Equal(t, beadstore.StatusArchived, status)
	require.Equal(t, 0, remaining)
	require.Contains(t, reason, "exhausted")
}

func TestNextStatusLastRetryDropsToZeroNotArchived(t *testing.T) {
	issue := beadstore.Issue{ID: "issue-1", RetryBudget: 1}
	p := proof.PatchProof{Status: proof.StatusTimeout, Verification: proof.Verification{AllPassed: false}}

	status, _, remaining := nextStatus(issue, p)
	require.Equal(t, beadstore.StatusReady, status)
	require.Equal(t, 0, remaining)
}

// TestListInFlightActivityCountsWorkcellsNotIssues is the regression test
// for the Scheduler's admission invariant: a single issue running a
// three-way speculate group must report three InFlightRun entries, one per
// running workcell, not one per issue.
func TestListInFlightActivityCountsWorkcellsNotIssues(t *testing.T) {
	st := openTestStore(t)
	beads := &stubBeadClient{issues: map[string]beadstore.Issue{
		"issue-1": {ID: "issue-1", DKEstimatedTokens: 500},
		"issue-2": {ID: "issue-2", DKEstimatedTokens: 200},
	}}
	a := &Activities{Store: st, Beads: beads}

	_, err := st.RecordWorkcellCreated("wc-1a", "issue-1", "b1", "/tmp/wc-1a", "c1", "spec-0")
	require.NoError(t, err)
	_, err = st.RecordWorkcellCreated("wc-1b", "issue-1", "b2", "/tmp/wc-1b", "c1", "spec-1")
	require.NoError(t, err)
	_, err = st.RecordWorkcellCreated("wc-1c", "issue-1", "b3", "/tmp/wc-1c", "c1", "spec-2")
	require.NoError(t, err)
	_, err = st.RecordWorkcellCreated("wc-2", "issue-2", "b", "/tmp/wc-2", "c2", "")
	require.NoError(t, err)

	inFlight, err := a.ListInFlightActivity(context.Background())
	require.NoError(t, err)
	require.Len(t, inFlight, 4)

	counts := map[string]int{}
	tokens := map[string]int{}
	for _, r := range inFlight {
		counts[r.IssueID]++
		tokens[r.IssueID] = r.EstimatedTokens
	}
	require.Equal(t, 3, counts["issue-1"])
	require.Equal(t, 1, counts["issue-2"])
	require.Equal(t, 500, tokens["issue-1"])
	require.Equal(t, 200, tokens["issue-2"])
}

// TestListInFlightActivityExcludesCompletedWorkcells ensures a workcell
// that has finished (and had its status updated by CleanupActivity) no
// longer counts as an admission slot.
func TestListInFlightActivityExcludesCompletedWorkcells(t *testing.T) {
	st := openTestStore(t)
	beads := &stubBeadClient{issues: map[string]beadstore.Issue{
		"issue-1": {ID: "issue-1", DKEstimatedTokens: 100},
	}}
	a := &Activities{Store: st, Beads: beads}

	_, err := st.RecordWorkcellCreated("wc-1", "issue-1", "b", "/tmp/wc-1", "c", "")
	require.NoError(t, err)
	require.NoError(t, st.UpdateWorkcellStatus("wc-1", "completed"))

	inFlight, err := a.ListInFlightActivity(context.Background())
	require.NoError(t, err)
	require.Empty(t, inFlight)
}
