package kernelflow

import (
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/cyntra-dev/cyntra/internal/beadstore"
	"github.com/cyntra-dev/cyntra/internal/proof"
	"github.com/cyntra-dev/cyntra/internal/scheduler"
)

const taskQueue = "cyntra-kernel-queue"

// createOpts, dispatchOpts, verifyOpts, recordOpts, cleanupOpts mirror the
// per-phase ActivityOptions discipline of the teacher's CortexAgentWorkflow:
// each phase gets its own timeout and retry policy rather than one blanket
// option set for the whole workflow.
var (
	createOpts = workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	}
	dispatchOpts = workflow.ActivityOptions{
		StartToCloseTimeout: 20 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	verifyOpts = workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	}
	recordOpts = workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	}
	cleanupOpts = workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	}
	voteOpts = workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	}
)

// IssueWorkflow runs the non-speculative path: one workcell, create →
// dispatch → verify → record → cleanup.
func IssueWorkflow(ctx workflow.Context, req RunRequest) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("kernelflow: issue workflow starting", "issue_id", req.IssueID)

	res, err := runOne(ctx, runOneRequest{
		IssueID:           req.IssueID,
		ToolchainOverride: req.ToolchainOverride,
		ManifestOverrides: req.ManifestOverrides,
	})
	if err != nil {
		return fmt.Errorf("kernelflow: run: %w", err)
	}

	recordCtx := workflow.WithActivityOptions(ctx, recordOpts)
	var a *Activities
	if err := workflow.ExecuteActivity(recordCtx, a.RecordActivity, RecordActivityRequest{
		IssueID: req.IssueID,
		Proof:   res.Proof,
	}).Get(ctx, nil); err != nil {
		logger.Error("kernelflow: record failed", "issue_id", req.IssueID, "error", err)
	}

	cleanupCtx := workflow.WithActivityOptions(ctx, cleanupOpts)
	success := res.Proof.Status == proof.StatusSuccess && res.Proof.Verification.AllPassed
	keepLogs := !success
	return workflow.ExecuteActivity(cleanupCtx, a.CleanupActivity, CleanupActivityRequest{
		IssueID:      req.IssueID,
		WorkcellID:   res.WorkcellID,
		WorkcellPath: res.WorkcellPath,
		BranchName:   res.BranchName,
		LogsDir:      res.WorkcellPath,
		KeepLogs:     keepLogs,
		Success:      success,
	}).Get(ctx, nil)
}

// SpeculateWorkflow fans Parallelism independent create→dispatch→verify
// branches out as workflow.Go coroutines, waits for all of them (a group
// vote needs every candidate, so — unlike the dispatcher's per-issue child
// workflows — these are NOT ChildWorkflows with a ParentClosePolicy; they
// must be awaited together, not abandoned), votes on the winner, records
// its proof, and cleans up every branch (archiving only the winner's logs).
func SpeculateWorkflow(ctx workflow.Context, req SpeculateRequest) error {
	logger := workflow.GetLogger(ctx)
	parallelism := req.Parallelism
	if parallelism < 2 {
		parallelism = 2
	}
	logger.Info("kernelflow: speculate workflow starting", "issue_id", req.IssueID, "parallelism", parallelism)

	results := make([]*runOneResult, parallelism)
	errs := make([]error, parallelism)
	settable := workflow.NewChannel(ctx)

	for i := 0; i < parallelism; i++ {
		idx := i
		workflow.Go(ctx, func(gctx workflow.Context) {
			speculateTag := fmt.Sprintf("spec-%d", idx)
			r, err := runOne(gctx, runOneRequest{
				IssueID:           req.IssueID,
				SpeculateTag:      speculateTag,
				ToolchainOverride: req.ToolchainOverride,
				ManifestOverrides: req.ManifestOverrides,
			})
			results[idx] = r
			errs[idx] = err
			settable.Send(gctx, idx)
		})
	}
	for i := 0; i < parallelism; i++ {
		var done int
		settable.Receive(ctx, &done)
	}

	candidates := make([]proof.PatchProof, 0, parallelism)
	present := make([]int, 0, parallelism)
	for i, r := range results {
		if errs[i] != nil || r == nil {
			logger.Warn("kernelflow: speculate branch failed", "issue_id", req.IssueID, "branch", i, "error", errs[i])
			continue
		}
		candidates = append(candidates, r.Proof)
		present = append(present, i)
	}

	var winnerIdx int
	if len(candidates) == 0 {
		logger.Error("kernelflow: all speculate branches failed", "issue_id", req.IssueID)
	} else {
		var votedPos int
		voteCtx := workflow.WithActivityOptions(ctx, voteOpts)
		var a *Activities
		if err := workflow.ExecuteActivity(voteCtx, a.VoteActivity, candidates).Get(ctx, &votedPos); err != nil {
			logger.Error("kernelflow: vote failed, defaulting to first candidate", "issue_id", req.IssueID, "error", err)
			votedPos = 0
		}
		winnerIdx = present[votedPos]
	}

	var a *Activities
	recordCtx := workflow.WithActivityOptions(ctx, recordOpts)
	if len(candidates) > 0 {
		winner := results[winnerIdx]
		if err := workflow.ExecuteActivity(recordCtx, a.RecordActivity, RecordActivityRequest{
			IssueID: req.IssueID,
			Proof:   winner.Proof,
		}).Get(ctx, nil); err != nil {
			logger.Error("kernelflow: record failed", "issue_id", req.IssueID, "error", err)
		}
	}

	cleanupCtx := workflow.WithActivityOptions(ctx, cleanupOpts)
	for i, r := range results {
		if r == nil {
			continue
		}
		isWinner := len(candidates) > 0 && i == winnerIdx
		success := isWinner && r.Proof.Status == proof.StatusSuccess && r.Proof.Verification.AllPassed
		if err := workflow.ExecuteActivity(cleanupCtx, a.CleanupActivity, CleanupActivityRequest{
			IssueID:      req.IssueID,
			WorkcellID:   r.WorkcellID,
			WorkcellPath: r.WorkcellPath,
			BranchName:   r.BranchName,
			LogsDir:      r.WorkcellPath,
			KeepLogs:     isWinner,
			Success:      success,
		}).Get(ctx, nil); err != nil {
			logger.Warn("kernelflow: cleanup failed", "issue_id", req.IssueID, "branch", i, "error", err)
		}
	}

	if len(candidates) == 0 {
		return fmt.Errorf("kernelflow: speculate group for %s produced no surviving candidate", req.IssueID)
	}
	return nil
}

// runOne is the create→dispatch→verify sequence shared by IssueWorkflow and
// every SpeculateWorkflow branch. It is a plain function, not a registered
// workflow, so both callers can run it inline within their own workflow
// context (a child workflow here would force either an ABANDON policy,
// which the caller can't then await, or a blocking child — more ceremony
// than a shared helper buys).
func runOne(ctx workflow.Context, req runOneRequest) (*runOneResult, error) {
	var a *Activities

	createCtx := workflow.WithActivityOptions(ctx, createOpts)
	var wc WorkcellInfo
	if err := workflow.ExecuteActivity(createCtx, a.CreateWorkcellActivity, req.IssueID, req.SpeculateTag).Get(ctx, &wc); err != nil {
		return nil, fmt.Errorf("create workcell: %w", err)
	}

	issue, err := loadIssue(ctx, req.IssueID)
	if err != nil {
		return nil, err
	}

	dispatchCtx := workflow.WithActivityOptions(ctx, dispatchOpts)
	var dispatchRes DispatchActivityResult
	if err := workflow.ExecuteActivity(dispatchCtx, a.DispatchActivity, DispatchActivityRequest{
		Issue:             issue,
		WorkcellID:        wc.WorkcellID,
		WorkcellPath:      wc.Path,
		BranchName:        wc.BranchName,
		ToolchainOverride: req.ToolchainOverride,
		ManifestOverrides: req.ManifestOverrides,
	}).Get(ctx, &dispatchRes); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	verifyCtx := workflow.WithActivityOptions(ctx, verifyOpts)
	var verified proof.PatchProof
	if err := workflow.ExecuteActivity(verifyCtx, a.VerifyActivity, VerifyActivityRequest{
		Manifest:     dispatchRes.Manifest,
		WorkcellPath: wc.Path,
		Proof:        dispatchRes.Proof,
	}).Get(ctx, &verified); err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	return &runOneResult{
		WorkcellID:   wc.WorkcellID,
		WorkcellPath: wc.Path,
		BranchName:   wc.BranchName,
		Manifest:     dispatchRes.Manifest,
		Proof:        verified,
	}, nil
}

// loadIssue fetches the issue via a short activity so runOne can stay
// a plain function usable by both the single-issue and speculate paths.
func loadIssue(ctx workflow.Context, issueID string) (beadstore.Issue, error) {
	var a *Activities
	getCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	var issue beadstore.Issue
	if err := workflow.ExecuteActivity(getCtx, a.LoadIssueActivity, issueID).Get(ctx, &issue); err != nil {
		return beadstore.Issue{}, fmt.Errorf("load issue: %w", err)
	}
	return issue, nil
}

// SchedulerWorkflow runs on a Temporal Schedule (tick_interval): it ticks
// the pure Scheduler with the current ready/in-flight state, then fans out
// one child workflow per PlannedRun. Children are fire-and-forget
// (ParentClosePolicy ABANDON) exactly like the teacher's DispatcherWorkflow,
// because the scheduler's job is to admit work, not babysit it.
func SchedulerWorkflow(ctx workflow.Context, _ struct{}) error {
	logger := workflow.GetLogger(ctx)

	tickCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	})

	var a *Activities
	inFlight, err := listOpenIssueWorkflows(ctx)
	if err != nil {
		return fmt.Errorf("kernelflow: list in-flight: %w", err)
	}

	var plan []scheduler.PlannedRun
	if err := workflow.ExecuteActivity(tickCtx, a.TickActivity, inFlight).Get(ctx, &plan); err != nil {
		return fmt.Errorf("kernelflow: tick: %w", err)
	}

	dispatched := 0
	for _, run := range plan {
		if run.Speculate {
			childOpts := workflow.ChildWorkflowOptions{
				WorkflowID:               "speculate-" + run.Issue.ID,
				TaskQueue:                taskQueue,
				WorkflowExecutionTimeout: 4 * time.Hour,
				WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
				ParentClosePolicy:        enumspb.PARENT_CLOSE_POLICY_ABANDON,
			}
			childCtx := workflow.WithChildOptions(ctx, childOpts)
			future := workflow.ExecuteChildWorkflow(childCtx, SpeculateWorkflow, SpeculateRequest{
				IssueID:     run.Issue.ID,
				Parallelism: run.Parallelism,
			})
			if err := future.GetChildWorkflowExecution().Get(ctx, nil); err != nil {
				logger.Debug("kernelflow: speculate dispatch skipped", "issue_id", run.Issue.ID, "error", err)
				continue
			}
		} else {
			childOpts := workflow.ChildWorkflowOptions{
				WorkflowID:               "issue-" + run.Issue.ID,
				TaskQueue:                taskQueue,
				WorkflowExecutionTimeout: 2 * time.Hour,
				WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
				ParentClosePolicy:        enumspb.PARENT_CLOSE_POLICY_ABANDON,
			}
			childCtx := workflow.WithChildOptions(ctx, childOpts)
			future := workflow.ExecuteChildWorkflow(childCtx, IssueWorkflow, RunRequest{IssueID: run.Issue.ID})
			if err := future.GetChildWorkflowExecution().Get(ctx, nil); err != nil {
				logger.Debug("kernelflow: issue dispatch skipped", "issue_id", run.Issue.ID, "error", err)
				continue
			}
		}
		dispatched++
	}

	logger.Info("kernelflow: tick complete", "planned", len(plan), "dispatched", dispatched)
	return nil
}

// listOpenIssueWorkflows runs ListInFlightActivity, which reads the running
// workcell rows from the state database (not Temporal visibility), so
// TickActivity's budget accounting treats them as in-flight.
func listOpenIssueWorkflows(ctx workflow.Context) ([]scheduler.InFlightRun, error) {
	var a *Activities
	listCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	})
	var inFlight []scheduler.InFlightRun
	if err := workflow.ExecuteActivity(listCtx, a.ListInFlightActivity).Get(ctx, &inFlight); err != nil {
		return nil, err
	}
	return inFlight, nil
}
