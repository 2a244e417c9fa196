package kernelflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/cyntra-dev/cyntra/internal/beadstore"
	"github.com/cyntra-dev/cyntra/internal/manifest"
	"github.com/cyntra-dev/cyntra/internal/proof"
)

func stubIssueRun(env *testsuite.TestWorkflowEnvironment, status proof.Status, allPassed bool) {
	var a *Activities

	env.OnActivity(a.CreateWorkcellActivity, mock.Anything, mock.Anything, mock.Anything).
		Return(WorkcellInfo{WorkcellID: "wc-1", Path: "/tmp/wc-1", BranchName: "cyntra/wc-1"}, nil)

	env.OnActivity(a.LoadIssueActivity, mock.Anything, mock.Anything).
		Return(beadstore.Issue{ID: "issue-1", RetryBudget: 2}, nil)

	env.OnActivity(a.DispatchActivity, mock.Anything, mock.Anything).Return(DispatchActivityResult{
		Manifest: &manifest.Manifest{WorkcellID: "wc-1"},
		Proof:    proof.PatchProof{WorkcellID: "wc-1", IssueID: "issue-1", Status: status},
	}, nil)

	env.OnActivity(a.VerifyActivity, mock.Anything, mock.Anything).Return(proof.PatchProof{
		WorkcellID:   "wc-1",
		IssueID:      "issue-1",
		Status:       status,
		Verification: proof.Verification{AllPassed: allPassed},
	}, nil)

	env.OnActivity(a.RecordActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.CleanupActivity, mock.Anything, mock.Anything).Return(nil)
}

func TestIssueWorkflowSuccessPath(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()

	stubIssueRun(env, proof.StatusSuccess, true)

	env.ExecuteWorkflow(IssueWorkflow, RunRequest{IssueID: "issue-1"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
}

func TestIssueWorkflowPropagatesDispatchFailure(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()

	var a *Activities
	env.OnActivity(a.CreateWorkcellActivity, mock.Anything, mock.Anything, mock.Anything).
		Return(WorkcellInfo{WorkcellID: "wc-1", Path: "/tmp/wc-1", BranchName: "cyntra/wc-1"}, nil)
	env.OnActivity(a.LoadIssueActivity, mock.Anything, mock.Anything).
		Return(beadstore.Issue{ID: "issue-1"}, nil)
	env.OnActivity(a.DispatchActivity, mock.Anything, mock.Anything).
		Return(DispatchActivityResult{}, errors.New("adapter unavailable"))

	env.ExecuteWorkflow(IssueWorkflow, RunRequest{IssueID: "issue-1"})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
}

func TestSpeculateWorkflowVotesAcrossBranches(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()

	var a *Activities
	env.OnActivity(a.CreateWorkcellActivity, mock.Anything, mock.Anything, mock.Anything).
		Return(WorkcellInfo{WorkcellID: "wc-speculative", Path: "/tmp/wc", BranchName: "cyntra/wc"}, nil)
	env.OnActivity(a.LoadIssueActivity, mock.Anything, mock.Anything).
		Return(beadstore.Issue{ID: "issue-1", RetryBudget: 1}, nil)
	env.OnActivity(a.DispatchActivity, mock.Anything, mock.Anything).Return(DispatchActivityResult{
		Manifest: &manifest.Manifest{WorkcellID: "wc-speculative"},
		Proof:    proof.PatchProof{WorkcellID: "wc-speculative", IssueID: "issue-1", Status: proof.StatusSuccess},
	}, nil)
	env.OnActivity(a.VerifyActivity, mock.Anything, mock.Anything).Return(proof.PatchProof{
		WorkcellID:   "wc-speculative",
		IssueID:      "issue-1",
		Status:       proof.StatusSuccess,
		Verification: proof.Verification{AllPassed: true},
	}, nil)
	env.OnActivity(a.VoteActivity, mock.Anything, mock.Anything).Return(0, nil)
	env.OnActivity(a.RecordActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.CleanupActivity, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(SpeculateWorkflow, SpeculateRequest{IssueID: "issue-1", Parallelism: 3})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
}
