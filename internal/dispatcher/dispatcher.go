// Package dispatcher implements the Dispatcher capability: resolve a
// toolchain for an issue, build its manifest, run the PRE/POST_EXECUTION
// hook chain around a single adapter invocation, and return the proof.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cyntra-dev/cyntra/internal/adapter"
	"github.com/cyntra-dev/cyntra/internal/beadstore"
	"github.com/cyntra-dev/cyntra/internal/config"
	"github.com/cyntra-dev/cyntra/internal/hooks"
	"github.com/cyntra-dev/cyntra/internal/manifest"
	"github.com/cyntra-dev/cyntra/internal/mergeutil"
	"github.com/cyntra-dev/cyntra/internal/proof"
	"github.com/cyntra-dev/cyntra/internal/telemetry"
)

// Request is the input to a single dispatch.
type Request struct {
	Issue             beadstore.Issue
	WorkcellID        string
	WorkcellPath      string
	BranchName        string
	ToolchainOverride string
	SpeculateTag      string
	ManifestOverrides map[string]any
	Timeout           time.Duration
}

// Result is the outcome of a single dispatch.
type Result struct {
	WorkcellID string
	Manifest   *manifest.Manifest
	Proof      proof.PatchProof
}

// Dispatcher resolves routing, builds manifests, and drives adapters.
type Dispatcher struct {
	registry  *adapter.Registry
	hookRunner *hooks.Runner
	telemetry *telemetry.Writer
	cfg       func() *config.Config
}

func New(registry *adapter.Registry, hookRunner *hooks.Runner, tw *telemetry.Writer, cfgFn func() *config.Config) *Dispatcher {
	return &Dispatcher{registry: registry, hookRunner: hookRunner, telemetry: tw, cfg: cfgFn}
}

// Dispatch runs the full §4.4 contract for a single workcell.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	cfg := d.cfg()

	toolchainName := d.resolveToolchain(cfg, req)
	a, ok := d.registry.Get(toolchainName)
	if !ok {
		return Result{WorkcellID: req.WorkcellID, Proof: errorProof(req, fmt.Sprintf("no adapter registered for toolchain %q", toolchainName))}
	}

	m := d.buildManifest(cfg, req, toolchainName)

	hookCtx := &hooks.HookContext{
		WorkcellPath: req.WorkcellPath,
		WorkcellID:   req.WorkcellID,
		IssueID:      req.Issue.ID,
		Manifest:     m,
		HookOutputs:  map[string]any{},
	}

	preResults := d.hookRunner.RunHooks(hooks.TriggerPreExecution, hookCtx)
	if aborted, reason := abortRequested(preResults); aborted {
		d.emit("dispatch_aborted", req, map[string]any{"reason": reason})
		return Result{WorkcellID: req.WorkcellID, Manifest: m, Proof: errorProof(req, reason)}
	}

	estimate := a.EstimateCost(m)
	d.emit("cost_estimated", req, map[string]any{
		"toolchain":         toolchainName,
		"estimated_tokens":  estimate.EstimatedTokens,
		"estimated_cost_usd": estimate.EstimatedCostUSD,
		"model":             estimate.Model,
	})

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout(cfg, toolchainName)
	}

	p := a.Execute(ctx, m, req.WorkcellPath, timeout)

	hookCtx.Proof = &p
	d.hookRunner.RunHooks(hooks.TriggerPostExecution, hookCtx)
	p.Review = buildReview(hookCtx.HookOutputs)

	if p.Status == proof.StatusSuccess || p.Status == proof.StatusPartial {
		d.hookRunner.RunHooks(hooks.TriggerOnSuccess, hookCtx)
	} else {
		d.hookRunner.RunHooks(hooks.TriggerOnFailure, hookCtx)
	}

	return Result{WorkcellID: req.WorkcellID, Manifest: m, Proof: p}
}

// resolveToolchain honors an explicit override first, then the first
// matching routing rule's preferred toolchain, then falls back to
// ToolchainPriority.
func (d *Dispatcher) resolveToolchain(cfg *config.Config, req Request) string {
	if req.ToolchainOverride != "" {
		return req.ToolchainOverride
	}
	if rule, ok := matchRoutingRule(cfg.Routing.Rules, req.Issue); ok && len(rule.Use) > 0 {
		return rule.Use[0]
	}
	for _, name := range cfg.ToolchainPriority {
		if tc, ok := cfg.Toolchains[name]; ok && tc.Enabled {
			return name
		}
	}
	if len(cfg.ToolchainPriority) > 0 {
		return cfg.ToolchainPriority[0]
	}
	return ""
}

// matchRoutingRule returns the first rule whose Match selectors all hold
// against the issue's tags and risk level.
func matchRoutingRule(rules []config.RoutingRule, issue beadstore.Issue) (config.RoutingRule, bool) {
	for _, r := range rules {
		if ruleMatches(r, issue) {
			return r, true
		}
	}
	return config.RoutingRule{}, false
}

func ruleMatches(r config.RoutingRule, issue beadstore.Issue) bool {
	for key, want := range r.Match {
		switch key {
		case "risk_level":
			if string(issue.RiskLevel) != want {
				return false
			}
		case "tag":
			if !hasTag(issue.Tags, want) {
				return false
			}
		case "label":
			if !hasTag(issue.Labels, want) {
				return false
			}
		default:
			return false
		}
	}
	return len(r.Match) > 0
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// buildManifest deep-merges the issue, the resolved toolchain's config, and
// manifest_overrides per §4.4 step 2.
func (d *Dispatcher) buildManifest(cfg *config.Config, req Request, toolchainName string) *manifest.Manifest {
	tc := cfg.Toolchains[toolchainName]

	extra := mergeutil.DeepMergeAll(anyMap(tc.Extra), req.ManifestOverrides)

	toolchainCfg := manifest.ToolchainConfig{
		Toolchain: toolchainName,
		Model:     tc.Model,
		Extra:     extra,
	}

	speculateRule, hasRule := matchRoutingRule(cfg.Routing.Rules, req.Issue)
	if hasRule && speculateRule.Parallelism != nil {
		toolchainCfg.Sampling = map[string]any{"parallelism": *speculateRule.Parallelism}
	}

	builder := manifest.NewBuilder(req.WorkcellID, req.BranchName, req.Issue).
		WithQualityGates(gatesToMap(cfg.Gates)).
		WithToolchainConfig(toolchainCfg).
		WithOverrides(req.ManifestOverrides)

	return builder.Build()
}

func gatesToMap(g config.GatesConfig) map[string]string {
	out := map[string]string{}
	if g.TestCommand != "" {
		out["test"] = g.TestCommand
	}
	if g.TypecheckCommand != "" {
		out["typecheck"] = g.TypecheckCommand
	}
	if g.LintCommand != "" {
		out["lint"] = g.LintCommand
	}
	if g.BuildCommand != "" {
		out["build"] = g.BuildCommand
	}
	return out
}

func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func defaultTimeout(cfg *config.Config, toolchainName string) time.Duration {
	if tc, ok := cfg.Toolchains[toolchainName]; ok && tc.TimeoutSeconds > 0 {
		return time.Duration(tc.TimeoutSeconds) * time.Second
	}
	return 10 * time.Minute
}

// abortRequested scans PRE_EXECUTION results for the first that demands
// aborting the dispatch: Success:false AND Abort:true.
func abortRequested(results []hooks.HookResult) (bool, string) {
	for _, r := range results {
		if !r.Success && r.Abort {
			reason := r.Error
			if reason == "" {
				reason = "pre-execution hook requested abort"
			}
			return true, reason
		}
	}
	return false, ""
}

// buildReview turns the accumulated hook_outputs map into a Review; keys
// are the names of every hook that ran successfully across the PRE/POST
// chains (a failing hook never populates hook_outputs, see hooks.invoke).
func buildReview(outputs map[string]any) *proof.Review {
	executed := make([]string, 0, len(outputs))
	for name := range outputs {
		executed = append(executed, name)
	}
	sort.Strings(executed)
	return &proof.Review{
		HooksExecuted: executed,
		HookOutputs:   outputs,
	}
}

func (d *Dispatcher) emit(eventType string, req Request, fields map[string]any) {
	if d.telemetry == nil {
		return
	}
	merged := map[string]any{"workcell_id": req.WorkcellID, "issue_id": req.Issue.ID}
	for k, v := range fields {
		merged[k] = v
	}
	_ = d.telemetry.Emit(eventType, merged)
}

func errorProof(req Request, reason string) proof.PatchProof {
	return proof.NewBuilder(req.WorkcellID, req.Issue.ID).
		SetStatus(proof.StatusError, 0).
		SetMetadata(proof.Metadata{Error: reason}).
		Finalize()
}
