package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/cyntra-dev/cyntra/internal/adapter"
	"github.com/cyntra-dev/cyntra/internal/beadstore"
	"github.com/cyntra-dev/cyntra/internal/config"
	"github.com/cyntra-dev/cyntra/internal/hooks"
	"github.com/cyntra-dev/cyntra/internal/manifest"
	"github.com/cyntra-dev/cyntra/internal/proof"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	name       string
	statusOut  proof.Status
	lastManifest *manifest.Manifest
}

func (f *fakeAdapter) Name() string      { return f.name }
func (f *fakeAdapter) Available() bool   { return true }
func (f *fakeAdapter) HealthCheck(ctx context.Context) bool { return true }
func (f *fakeAdapter) EstimateCost(m *manifest.Manifest) adapter.CostEstimate {
	return adapter.CostEstimate{EstimatedTokens: 100, EstimatedCostUSD: 0.01, Model: m.ToolchainConfig.Model}
}
func (f *fakeAdapter) Execute(ctx context.Context, m *manifest.Manifest, workcellPath string, timeout time.Duration) proof.PatchProof {
	f.lastManifest = m
	return proof.NewBuilder(m.WorkcellID, m.Issue.ID).
		SetStatus(f.statusOut, 0.8).
		Finalize()
}

func newRegistry() hooks.Registry { return hooks.NewRegistry() }

func testCfg() *config.Config {
	cfg := config.Defaults()
	cfg.ToolchainPriority = []string{"codex"}
	cfg.Toolchains = map[string]config.ToolchainCfg{
		"codex": {Enabled: true, Model: "gpt-5", Extra: map[string]any{"foo": "bar"}},
	}
	return cfg
}

func newDispatcher(a adapter.Adapter, reg hooks.Registry, cfg *config.Config) *Dispatcher {
	registry := adapter.NewRegistry()
	registry.Register(a)
	runner := hooks.NewRunner(reg)
	return New(registry, runner, nil, func() *config.Config { return cfg })
}

func TestDispatchResolvesFromToolchainPriority(t *testing.T) {
	a := &fakeAdapter{name: "codex", statusOut: proof.StatusSuccess}
	cfg := testCfg()
	reg := newRegistry()
	d := newDispatcher(a, reg, cfg)

	res := d.Dispatch(context.Background(), Request{
		Issue:      beadstore.Issue{ID: "issue-1"},
		WorkcellID: "wc-1",
	})

	require.Equal(t, proof.StatusSuccess, res.Proof.Status)
	require.Equal(t, "gpt-5", a.lastManifest.ToolchainConfig.Model)
	require.Equal(t, "bar", a.lastManifest.ToolchainConfig.Extra["foo"])
}

func TestDispatchHonorsExplicitOverride(t *testing.T) {
	a := &fakeAdapter{name: "claude", statusOut: proof.StatusSuccess}
	cfg := testCfg()
	cfg.Toolchains["claude"] = config.ToolchainCfg{Enabled: true, Model: "opus"}
	reg := newRegistry()
	d := newDispatcher(a, reg, cfg)

	res := d.Dispatch(context.Background(), Request{
		Issue:             beadstore.Issue{ID: "issue-1"},
		WorkcellID:        "wc-1",
		ToolchainOverride: "claude",
	})

	require.Equal(t, proof.StatusSuccess, res.Proof.Status)
	require.Equal(t, "opus", a.lastManifest.ToolchainConfig.Model)
}

func TestDispatchAbortsOnPreExecutionHook(t *testing.T) {
	a := &fakeAdapter{name: "codex", statusOut: proof.StatusSuccess}
	cfg := testCfg()
	reg := newRegistry()
	reg.Register(hooks.Hook{
		Name:    "blocker",
		Trigger: hooks.TriggerPreExecution,
		Enabled: true,
		Handler: func(ctx *hooks.HookContext) hooks.HookResult {
			return hooks.HookResult{Success: false, Abort: true, Error: "forbidden path touched"}
		},
	})
	d := newDispatcher(a, reg, cfg)

	res := d.Dispatch(context.Background(), Request{
		Issue:      beadstore.Issue{ID: "issue-1"},
		WorkcellID: "wc-1",
	})

	require.Equal(t, proof.StatusError, res.Proof.Status)
	require.Nil(t, a.lastManifest)
}

func TestDispatchManifestOverridesDeepMergeOverToolchainExtra(t *testing.T) {
	a := &fakeAdapter{name: "codex", statusOut: proof.StatusSuccess}
	cfg := testCfg()
	reg := newRegistry()
	d := newDispatcher(a, reg, cfg)

	d.Dispatch(context.Background(), Request{
		Issue:             beadstore.Issue{ID: "issue-1"},
		WorkcellID:        "wc-1",
		ManifestOverrides: map[string]any{"foo": "overridden"},
	})

	require.Equal(t, "overridden", a.lastManifest.ToolchainConfig.Extra["foo"])
}

func TestDispatchRoutesByRiskLevel(t *testing.T) {
	a := &fakeAdapter{name: "claude", statusOut: proof.StatusSuccess}
	cfg := testCfg()
	cfg.Toolchains["claude"] = config.ToolchainCfg{Enabled: true, Model: "opus"}
	cfg.Routing.Rules = []config.RoutingRule{
		{Match: map[string]string{"risk_level": "critical"}, Use: []string{"claude"}},
	}
	reg := newRegistry()
	d := newDispatcher(a, reg, cfg)

	res := d.Dispatch(context.Background(), Request{
		Issue:      beadstore.Issue{ID: "issue-1", RiskLevel: beadstore.RiskCritical},
		WorkcellID: "wc-1",
	})

	require.Equal(t, proof.StatusSuccess, res.Proof.Status)
	require.Equal(t, "opus", a.lastManifest.ToolchainConfig.Model)
}

func TestDispatchFiresOnFailureHookOnFailedStatus(t *testing.T) {
	a := &fakeAdapter{name: "codex", statusOut: proof.StatusFailed}
	cfg := testCfg()
	reg := newRegistry()
	fired := false
	reg.Register(hooks.Hook{
		Name:    "on-fail",
		Trigger: hooks.TriggerOnFailure,
		Enabled: true,
		Handler: func(ctx *hooks.HookContext) hooks.HookResult {
			fired = true
			return hooks.HookResult{Success: true}
		},
	})
	d := newDispatcher(a, reg, cfg)

	d.Dispatch(context.Background(), Request{
		Issue:      beadstore.Issue{ID: "issue-1"},
		WorkcellID: "wc-1",
	})

	require.True(t, fired)
}
