package hooks

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cyntra-dev/cyntra/internal/manifest"
	"github.com/cyntra-dev/cyntra/internal/beadstore"
)

func TestRunHooksPreservesPriorityOrder(t *testing.T) {
	reg := NewRegistry()
	var order []string

	reg.Register(Hook{Name: "late", Trigger: TriggerPostExecution, Priority: PriorityLate, Enabled: true,
		Handler: func(ctx *HookContext) HookResult { order = append(order, "late"); return HookResult{Success: true} }})
	reg.Register(Hook{Name: "early", Trigger: TriggerPostExecution, Priority: PriorityEarly, Enabled: true,
		Handler: func(ctx *HookContext) HookResult { order = append(order, "early"); return HookResult{Success: true} }})
	reg.Register(Hook{Name: "normal", Trigger: TriggerPostExecution, Priority: PriorityNormal, Enabled: true,
		Handler: func(ctx *HookContext) HookResult { order = append(order, "normal"); return HookResult{Success: true} }})

	runner := NewRunner(reg)
	ctx := &HookContext{Manifest: &manifest.Manifest{}}
	runner.RunHooks(TriggerPostExecution, ctx)

	require.Equal(t, []string{"early", "normal", "late"}, order)
}

func TestRunHooksFailingHookDoesNotAbortChain(t *testing.T) {
	reg := NewRegistry()
	var ranSecond bool

	reg.Register(Hook{Name: "boom", Trigger: TriggerPreExecution, Priority: PriorityEarly, Enabled: true,
		Handler: func(ctx *HookContext) HookResult { panic("kaboom") }})
	reg.Register(Hook{Name: "second", Trigger: TriggerPreExecution, Priority: PriorityNormal, Enabled: true,
		Handler: func(ctx *HookContext) HookResult { ranSecond = true; return HookResult{Success: true} }})

	runner := NewRunner(reg)
	ctx := &HookContext{Manifest: &manifest.Manifest{}}
	results := runner.RunHooks(TriggerPreExecution, ctx)

	require.Len(t, results, 2)
	require.False(t, results[0].Success)
	require.True(t, ranSecond)
}

func TestRunHooksTagMatching(t *testing.T) {
	reg := NewRegistry()
	var ran bool
	reg.Register(Hook{Name: "tagged", Trigger: TriggerPreExecution, Enabled: true, MatchTags: []string{"security"},
		Handler: func(ctx *HookContext) HookResult { ran = true; return HookResult{Success: true} }})

	runner := NewRunner(reg)
	ctx := &HookContext{Manifest: &manifest.Manifest{Issue: beadstore.Issue{Tags: []string{"docs"}}}}
	runner.RunHooks(TriggerPreExecution, ctx)
	require.False(t, ran)

	ctx2 := &HookContext{Manifest: &manifest.Manifest{Issue: beadstore.Issue{Tags: []string{"security"}}}}
	runner.RunHooks(TriggerPreExecution, ctx2)
	require.True(t, ran)
}

func TestRegisterDuplicateNameReplaces(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Hook{Name: "dup", Trigger: TriggerPreExecution, Enabled: true,
		Handler: func(ctx *HookContext) HookResult { return HookResult{Success: true, Output: "v1"} }})
	reg.Register(Hook{Name: "dup", Trigger: TriggerPreExecution, Enabled: true,
		Handler: func(ctx *HookContext) HookResult { return HookResult{Success: true, Output: "v2"} }})

	snap := reg.Snapshot(TriggerPreExecution)
	require.Len(t, snap, 1)
}

func TestHookOutputsMergedAcrossChain(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Hook{Name: "a", Trigger: TriggerPreExecution, Enabled: true,
		Handler: func(ctx *HookContext) HookResult { return HookResult{Success: true, Output: "a-output"} }})
	runner := NewRunner(reg)
	ctx := &HookContext{Manifest: &manifest.Manifest{}}
	runner.RunHooks(TriggerPreExecution, ctx)
	require.Equal(t, "a-output", ctx.HookOutputs["a"])
}
