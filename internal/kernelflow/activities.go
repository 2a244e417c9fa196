package kernelflow

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/cyntra-dev/cyntra/internal/beadstore"
	"github.com/cyntra-dev/cyntra/internal/dispatcher"
	"github.com/cyntra-dev/cyntra/internal/proof"
	"github.com/cyntra-dev/cyntra/internal/scheduler"
	"github.com/cyntra-dev/cyntra/internal/store"
	"github.com/cyntra-dev/cyntra/internal/verifier"
	"github.com/cyntra-dev/cyntra/internal/workcell"
)

// Activities holds every dependency the kernel's Temporal activities need.
// One instance is registered with the worker; methods are stateless given
// their receiver (mirrors the teacher's Activities-struct-as-dependency-
// -bag pattern in internal/temporal/activities.go).
type Activities struct {
	Workcells  *workcell.Manager
	Dispatcher *dispatcher.Dispatcher
	Verifier   *verifier.Verifier
	Scheduler  *scheduler.Scheduler
	Beads      beadstore.Client
	Store      *store.Store
}

// CreateWorkcellActivity allocates a new sandbox for issueID and records it
// in the state database as "running", the same row ListInFlightActivity and
// the Janitor both read back.
func (a *Activities) CreateWorkcellActivity(ctx context.Context, issueID, speculateTag string) (WorkcellInfo, error) {
	wc, err := a.Workcells.Create(issueID, speculateTag)
	if err != nil {
		return WorkcellInfo{}, fmt.Errorf("kernelflow: create workcell: %w", err)
	}
	if _, err := a.Store.RecordWorkcellCreated(wc.WorkcellID, issueID, wc.BranchName, wc.Path, wc.BaseCommit, speculateTag); err != nil {
		return WorkcellInfo{}, fmt.Errorf("kernelflow: record workcell: %w", err)
	}
	return WorkcellInfo{WorkcellID: wc.WorkcellID, Path: wc.Path, BranchName: wc.BranchName}, nil
}

// LoadIssueActivity fetches an issue's current bead-store state. Workflow
// code cannot call beadstore.Client directly (non-deterministic I/O), so
// runOne goes through this activity instead of threading the issue down
// from the scheduler tick that admitted it.
func (a *Activities) LoadIssueActivity(ctx context.Context, issueID string) (beadstore.Issue, error) {
	return a.Beads.Get(ctx, issueID)
}

// ListInFlightActivity reports one InFlightRun per workcell currently
// running, not per issue: a speculate group holds several workcells
// concurrently for a single issue, and the Scheduler's admission budget
// (max_concurrent_workcells) counts workcells, not issues. Collapsing a
// speculate group to one slot would let it silently over-admit.
func (a *Activities) ListInFlightActivity(ctx context.Context) ([]scheduler.InFlightRun, error) {
	running, err := a.Store.ListRunningWorkcells()
	if err != nil {
		return nil, fmt.Errorf("kernelflow: list in-flight: %w", err)
	}

	tokensByIssue := make(map[string]int, len(running))
	out := make([]scheduler.InFlightRun, 0, len(running))
	for _, wc := range running {
		tokens, cached := tokensByIssue[wc.IssueID]
		if !cached {
			issue, err := a.Beads.Get(ctx, wc.IssueID)
			if err != nil {
				return nil, fmt.Errorf("kernelflow: list in-flight: loading issue %s: %w", wc.IssueID, err)
			}
			tokens = issue.DKEstimatedTokens
			tokensByIssue[wc.IssueID] = tokens
		}
		out = append(out, scheduler.InFlightRun{IssueID: wc.IssueID, EstimatedTokens: tokens})
	}
	return out, nil
}

// DispatchActivity resolves a toolchain, builds a manifest, and runs the
// adapter for a single workcell.
func (a *Activities) DispatchActivity(ctx context.Context, req DispatchActivityRequest) (DispatchActivityResult, error) {
	activity.RecordHeartbeat(ctx, "dispatching")
	res := a.Dispatcher.Dispatch(ctx, dispatcher.Request{
		Issue:             req.Issue,
		WorkcellID:        req.WorkcellID,
		WorkcellPath:      req.WorkcellPath,
		BranchName:        req.BranchName,
		ToolchainOverride: req.ToolchainOverride,
		ManifestOverrides: req.ManifestOverrides,
	})
	return DispatchActivityResult{Manifest: res.Manifest, Proof: res.Proof}, nil
}

// VerifyActivity runs the configured quality gates against the dispatch's proof.
func (a *Activities) VerifyActivity(ctx context.Context, req VerifyActivityRequest) (proof.PatchProof, error) {
	p := req.Proof
	result := a.Verifier.Verify(ctx, req.Manifest, req.WorkcellPath, &p)
	return *result, nil
}

// RecordActivity persists the final proof and advances the issue's bead
// status per §4.8: success+all_passed -> completed; otherwise back to ready
// with its retry budget decremented, or archived once that budget is
// exhausted.
func (a *Activities) RecordActivity(ctx context.Context, req RecordActivityRequest) error {
	data, err := proof.ToJSON(req.Proof)
	if err != nil {
		return fmt.Errorf("kernelflow: record: failed to encode proof for %s: %w", req.IssueID, err)
	}
	if _, err := a.Store.RecordProof(req.Proof, string(data)); err != nil {
		return fmt.Errorf("kernelflow: record: failed to persist proof for %s: %w", req.IssueID, err)
	}

	issue, err := a.Beads.Get(ctx, req.IssueID)
	if err != nil {
		return fmt.Errorf("kernelflow: record: failed to load issue %s: %w", req.IssueID, err)
	}

	newStatus, reason, remainingBudget := nextStatus(issue, req.Proof)
	if newStatus == beadstore.StatusReady {
		if err := a.Beads.UpdateRetryBudget(ctx, req.IssueID, remainingBudget); err != nil {
			return fmt.Errorf("kernelflow: record: failed to update retry budget for %s: %w", req.IssueID, err)
		}
	}
	if err := a.Beads.UpdateStatus(ctx, req.IssueID, newStatus, reason); err != nil {
		return fmt.Errorf("kernelflow: record: failed to update status for %s: %w", req.IssueID, err)
	}
	return nil
}

// CleanupActivity tears down a workcell, archiving logs unless the run
// succeeded cleanly, and marks its state-database row terminal so it no
// longer counts as in-flight.
func (a *Activities) CleanupActivity(ctx context.Context, req CleanupActivityRequest) error {
	wc := &workcell.Workcell{
		WorkcellID: req.WorkcellID,
		IssueID:    req.IssueID,
		Path:       req.WorkcellPath,
		BranchName: req.BranchName,
		BaseCommit: req.BaseCommit,
		LogsDir:    req.LogsDir,
	}
	a.Workcells.Cleanup(wc, req.KeepLogs)

	status := "completed"
	if !req.Success {
		status = "failed"
	}
	if err := a.Store.UpdateWorkcellStatus(req.WorkcellID, status); err != nil {
		return fmt.Errorf("kernelflow: cleanup: update workcell status: %w", err)
	}
	return nil
}

// TickActivity wraps the Scheduler's pure Tick with the I/O it needs:
// listing ready issues and currently in-flight workflows.
func (a *Activities) TickActivity(ctx context.Context, inFlight []scheduler.InFlightRun) ([]scheduler.PlannedRun, error) {
	ready, err := a.Beads.ListReady(ctx)
	if err != nil {
		return nil, fmt.Errorf("kernelflow: tick: failed to list ready issues: %w", err)
	}
	return a.Scheduler.Tick(ctx, ready, inFlight, nowFunc()), nil
}

// VoteActivity selects the winning proof among a speculate group's results.
func (a *Activities) VoteActivity(ctx context.Context, candidates []proof.PatchProof) (int, error) {
	return verifier.Vote(candidates), nil
}

// nextStatus decides an issue's next bead-store status and, when it routes
// back to ready, the retry budget to persist alongside it (one less than
// issue.RetryBudget, since this attempt just consumed one).
func nextStatus(issue beadstore.Issue, p proof.PatchProof) (status beadstore.Status, reason string, remainingBudget int) {
	if p.Status == proof.StatusSuccess && p.Verification.AllPassed {
		return beadstore.StatusCompleted, "dispatch succeeded, all gates passed", 0
	}
	if issue.RetryBudget > 0 {
		remaining := issue.RetryBudget - 1
		return beadstore.StatusReady, fmt.Sprintf("run failed (status=%s); retry budget %d remaining", p.Status, remaining), remaining
	}
	return beadstore.StatusArchived, fmt.Sprintf("run failed (status=%s); retry budget exhausted", p.Status), 0
}

// nowFunc supplies wall-clock time to TickActivity. Activities, unlike
// workflow code, are free to call time.Now() directly: Temporal replays
// workflow history but re-executes activities from scratch on retry.
func nowFunc() time.Time {
	return time.Now().UTC()
}
