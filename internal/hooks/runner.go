package hooks

import (
	"time"

	"github.com/cyntra-dev/cyntra/internal/proof"
)

// Runner fires hook chains for a trigger against a context.
type Runner struct {
	registry Registry
}

func NewRunner(registry Registry) *Runner {
	return &Runner{registry: registry}
}

// RunHooks fires every enabled, matching hook for trigger in priority order,
// merging each hook's output into ctx.HookOutputs before the next hook runs.
// A hook that errors produces a failed HookResult but never aborts the chain.
func (r *Runner) RunHooks(trigger Trigger, ctx *HookContext) []HookResult {
	if ctx.HookOutputs == nil {
		ctx.HookOutputs = map[string]any{}
	}
	hooks := r.registry.Snapshot(trigger)
	results := make([]HookResult, 0, len(hooks))
	for _, h := range hooks {
		if !shouldRun(h, ctx) {
			continue
		}
		results = append(results, invoke(h, ctx))
	}
	return results
}

// RunHooksAsync fires the same chain as RunHooks. The contract requires
// hooks to remain strictly sequenced even when declared async, so that
// hook_outputs stays deterministic — an async hook still runs to
// completion, on its own goroutine, before the next hook in the chain is
// invoked; "async" only changes which worker pool executes the handler; it
// never changes ordering.
func (r *Runner) RunHooksAsync(trigger Trigger, ctx *HookContext) []HookResult {
	if ctx.HookOutputs == nil {
		ctx.HookOutputs = map[string]any{}
	}
	hooks := r.registry.Snapshot(trigger)
	results := make([]HookResult, 0, len(hooks))
	for _, h := range hooks {
		if !shouldRun(h, ctx) {
			continue
		}
		if h.Async {
			results = append(results, invokeAsync(h, ctx))
			continue
		}
		results = append(results, invoke(h, ctx))
	}
	return results
}

func shouldRun(h Hook, ctx *HookContext) bool {
	if !h.Enabled {
		return false
	}
	tags := issueTags(ctx)
	if len(h.MatchTags) > 0 && !intersects(h.MatchTags, tags) {
		return false
	}
	if len(h.ExcludeTags) > 0 && intersects(h.ExcludeTags, tags) {
		return false
	}
	if len(h.MatchStatus) > 0 {
		if ctx.Proof == nil || !statusIn(ctx.Proof.Status, h.MatchStatus) {
			return false
		}
	}
	return true
}

func statusIn(s proof.Status, list []proof.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func issueTags(ctx *HookContext) []string {
	if ctx.Manifest == nil {
		return nil
	}
	return ctx.Manifest.Issue.Tags
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func invoke(h Hook, ctx *HookContext) (result HookResult) {
	start := time.Now()
	defer func() {
		result.DurationMS = time.Since(start).Milliseconds()
		if rec := recover(); rec != nil {
			result = HookResult{Success: false, Error: formatPanic(rec), DurationMS: result.DurationMS}
		}
		if result.Success {
			ctx.HookOutputs[h.Name] = result.Output
		}
	}()
	result = h.Handler(ctx)
	return result
}

func invokeAsync(h Hook, ctx *HookContext) HookResult {
	done := make(chan HookResult, 1)
	go func() {
		done <- invoke(h, ctx)
	}()
	return <-done
}

func formatPanic(rec any) string {
	if err, ok := rec.(error); ok {
		return err.Error()
	}
	return "hook panicked"
}
