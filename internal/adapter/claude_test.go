package adapter

import (
	"testing"

	"github.com/cyntra-dev/cyntra/internal/beadstore"
	"github.com/cyntra-dev/cyntra/internal/manifest"
	"github.com/stretchr/testify/require"
)

func TestClaudeArgsIncludesModelAndSkipPermissions(t *testing.T) {
	args := buildClaudeArgs("/wc/prompt.md", "opus", manifest.ToolchainConfig{})
	require.Contains(t, args, "--print")
	require.Contains(t, args, "@/wc/prompt.md")
	require.Contains(t, args, "--model")
	require.Contains(t, args, "opus")
	require.Contains(t, args, "--dangerously-skip-permissions")
}

func TestClaudeArgsOmitsModelFlagWhenEmpty(t *testing.T) {
	args := buildClaudeArgs("/wc/prompt.md", "", manifest.ToolchainConfig{})
	require.NotContains(t, args, "--model")
}

func TestClaudeArgsAppendsAllowedToolsAndExtra(t *testing.T) {
	cfg := manifest.ToolchainConfig{Extra: map[string]any{
		"allowed_tools": []any{"Bash", "Edit"},
		"extra_args":    []any{"--verbose"},
	}}
	args := buildClaudeArgs("/wc/prompt.md", "opus", cfg)
	require.Contains(t, args, "--allowedTools")
	require.Contains(t, args, "Bash")
	require.Contains(t, args, "Edit")
	require.Contains(t, args, "--verbose")
}

func TestClaudeEstimateCostUsesModelTier(t *testing.T) {
	a := NewClaudeAdapter("")
	m2 := manifest.NewBuilder("wc-1", "wc/issue-1/wc-1", beadstore.Issue{ID: "issue-1", DKEstimatedTokens: 100000}).
		WithToolchainConfig(manifest.ToolchainConfig{Toolchain: "claude", Model: "opus"}).
		Build()
	est := a.EstimateCost(m2)
	require.Equal(t, "opus", est.Model)
	require.Equal(t, 100000, est.EstimatedTokens)
	require.InDelta(t, 4.5, est.EstimatedCostUSD, 0.0001)
}

func TestClaudeEstimateCostDefaultsTokensWhenUnset(t *testing.T) {
	a := NewClaudeAdapter("")
	m := manifest.NewBuilder("wc-1", "wc/issue-1/wc-1", beadstore.Issue{ID: "issue-1"}).Build()
	est := a.EstimateCost(m)
	require.Equal(t, 50000, est.EstimatedTokens)
	require.Equal(t, "opus", est.Model)
}
