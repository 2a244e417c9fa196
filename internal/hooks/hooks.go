// Package hooks implements the kernel's pluggable pre/post/on-failure
// callback chains: HookRegistry, HookContext/Result, and HookRunner.
package hooks

import (
	"time"

	"github.com/cyntra-dev/cyntra/internal/manifest"
	"github.com/cyntra-dev/cyntra/internal/proof"
)

// Trigger names the point in the dispatch lifecycle a hook fires at.
type Trigger string

const (
	TriggerPreExecution  Trigger = "PRE_EXECUTION"
	TriggerPostExecution Trigger = "POST_EXECUTION"
	TriggerOnSuccess     Trigger = "ON_SUCCESS"
	TriggerOnFailure     Trigger = "ON_FAILURE"
	TriggerOnGateFailure Trigger = "ON_GATE_FAILURE"
)

// Priority establishes the strict total order hooks run in within a trigger.
type Priority int

const (
	PriorityEarly  Priority = 0
	PriorityNormal Priority = 1
	PriorityLate   Priority = 2
)

// HookContext is threaded through every hook invoked for a single trigger
// firing; hook_outputs accumulates across the whole chain.
type HookContext struct {
	WorkcellPath        string
	WorkcellID          string
	IssueID             string
	Proof               *proof.PatchProof
	Manifest            *manifest.Manifest
	GateFailures        []string
	VerificationResult  *proof.Verification
	HookOutputs         map[string]any
}

// HookResult is what a handler returns; a failing hook never aborts the
// chain on its own. Abort is only meaningful on PRE_EXECUTION: the
// Dispatcher aborts the dispatch iff a PRE_EXECUTION hook returns
// Success:false AND Abort:true.
type HookResult struct {
	Success    bool
	Output     any
	Error      string
	Abort      bool
	DurationMS int64
}

// Handler is the callback a Hook wraps.
type Handler func(ctx *HookContext) HookResult

// Hook is a single registered callback.
type Hook struct {
	Name        string
	Trigger     Trigger
	Handler     Handler
	Priority    Priority
	MatchTags   []string
	ExcludeTags []string
	MatchStatus []proof.Status
	Enabled     bool
	Async       bool

	registrationOrder int
}
