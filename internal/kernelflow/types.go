// Package kernelflow wires the Workcell Manager, Dispatcher, and Verifier
// into Temporal workflows and activities: one durable execution per issue,
// with speculate groups fanned out as concurrent in-workflow branches.
package kernelflow

import (
	"github.com/cyntra-dev/cyntra/internal/beadstore"
	"github.com/cyntra-dev/cyntra/internal/manifest"
	"github.com/cyntra-dev/cyntra/internal/proof"
)

// RunRequest starts a single, non-speculative issue run.
type RunRequest struct {
	IssueID           string
	ToolchainOverride string
	ManifestOverrides map[string]any
}

// SpeculateRequest starts a speculate group: Parallelism independent
// workcells for the same issue, voted on once all have verified.
type SpeculateRequest struct {
	IssueID           string
	Parallelism       int
	ToolchainOverride string
	ManifestOverrides map[string]any
}

// runOneRequest is the internal unit of work shared by RunRequest and every
// branch of a SpeculateRequest.
type runOneRequest struct {
	IssueID           string
	SpeculateTag      string
	ToolchainOverride string
	ManifestOverrides map[string]any
}

// runOneResult is what a single workcell's create→dispatch→verify sequence
// produces, before the caller decides what to do with it (record+cleanup,
// or hold it for a vote).
type runOneResult struct {
	WorkcellID   string
	WorkcellPath string
	BranchName   string
	Manifest     *manifest.Manifest
	Proof        proof.PatchProof
}

// WorkcellInfo is the CreateWorkcellActivity result.
type WorkcellInfo struct {
	WorkcellID string
	Path       string
	BranchName string
}

// DispatchActivityRequest is the DispatchActivity input.
type DispatchActivityRequest struct {
	Issue             beadstore.Issue
	WorkcellID        string
	WorkcellPath      string
	BranchName        string
	ToolchainOverride string
	ManifestOverrides map[string]any
}

// DispatchActivityResult carries both the proof and the manifest that
// produced it; VerifyActivity needs the manifest's quality gates, and
// passing it back avoids rebuilding routing/merge decisions a second time.
type DispatchActivityResult struct {
	Manifest *manifest.Manifest
	Proof    proof.PatchProof
}

// VerifyActivityRequest is the VerifyActivity input.
type VerifyActivityRequest struct {
	Manifest     *manifest.Manifest
	WorkcellPath string
	Proof        proof.PatchProof
}

// RecordActivityRequest persists the final proof and transitions bead status.
type RecordActivityRequest struct {
	IssueID string
	Proof   proof.PatchProof
}

// CleanupActivityRequest tears down a workcell.
type CleanupActivityRequest struct {
	IssueID      string
	WorkcellID   string
	WorkcellPath string
	BranchName   string
	BaseCommit   string
	LogsDir      string
	KeepLogs     bool
	// Success records the workcell's own outcome (not the issue's, and not
	// whether it won a speculate vote) in the state database.
	Success bool
}
