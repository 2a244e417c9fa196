package verifier

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyntra-dev/cyntra/internal/beadstore"
	"github.com/cyntra-dev/cyntra/internal/hooks"
	"github.com/cyntra-dev/cyntra/internal/manifest"
	"github.com/cyntra-dev/cyntra/internal/proof"
	"github.com/stretchr/testify/require"
)

func testManifestWithGates(gates map[string]string) *manifest.Manifest {
	return manifest.NewBuilder("wc-1", "wc/issue-1/wc-1", beadstore.Issue{ID: "issue-1"}).
		WithQualityGates(gates).
		Build()
}

func TestVerifyAllGatesPass(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0o644))

	m := testManifestWithGates(map[string]string{"test": "true"})
	v := New(Config{}, nil)
	p := proof.NewBuilder("wc-1", "issue-1").Finalize()

	result := v.Verify(context.Background(), m, dir, &p)
	require.True(t, result.Verification.AllPassed)
	require.Empty(t, result.Verification.BlockingFailures)
}

func TestVerifyGateFailureRecorded(t *testing.T) {
	dir := t.TempDir()
	m := testManifestWithGates(map[string]string{"test": "false"})
	v := New(Config{}, nil)
	p := proof.NewBuilder("wc-1", "issue-1").Finalize()

	result := v.Verify(context.Background(), m, dir, &p)
	require.False(t, result.Verification.AllPassed)
	require.Contains(t, result.Verification.BlockingFailures, "test")
}

func TestVerifyFlakyRetryRecovers(t *testing.T) {
	dir := t.TempDir()
	flagFile := filepath.Join(dir, "flaky-ran-once")
	m := testManifestWithGates(map[string]string{
		"test": "sh -c 'test -f " + flagFile + " || { touch " + flagFile + "; exit 1; }'",
	})
	v := New(Config{RetryFlaky: 1}, nil)
	p := proof.NewBuilder("wc-1", "issue-1").Finalize()

	result := v.Verify(context.Background(), m, dir, &p)
	require.True(t, result.Verification.AllPassed)
	require.Equal(t, 1, result.Verification.Gates["test"].RetriesUsed)
}

func TestVerifyRetryFlakyRetriesUpToConfiguredCount(t *testing.T) {
	dir := t.TempDir()
	counterFile := filepath.Join(dir, "attempts")
	m := testManifestWithGates(map[string]string{
		"test": "sh -c 'n=$(cat " + counterFile + " 2>/dev/null || echo 0); n=$((n+1)); echo $n > " + counterFile + "; test $n -ge 3'",
	})
	v := New(Config{RetryFlaky: 2}, nil)
	p := proof.NewBuilder("wc-1", "issue-1").Finalize()

	result := v.Verify(context.Background(), m, dir, &p)
	require.True(t, result.Verification.AllPassed)
	require.Equal(t, 2, result.Verification.Gates["test"].RetriesUsed)
}

func TestVerifyRetryFlakyGivesUpAfterConfiguredCount(t *testing.T) {
	dir := t.TempDir()
	m := testManifestWithGates(map[string]string{"test": "false"})
	v := New(Config{RetryFlaky: 2}, nil)
	p := proof.NewBuilder("wc-1", "issue-1").Finalize()

	result := v.Verify(context.Background(), m, dir, &p)
	require.False(t, result.Verification.AllPassed)
	require.Equal(t, 2, result.Verification.Gates["test"].RetriesUsed)
	require.Contains(t, result.Verification.BlockingFailures, "test")
}

func TestVerifyFiresOnGateFailureHook(t *testing.T) {
	dir := t.TempDir()
	m := testManifestWithGates(map[string]string{"test": "false"})

	registry := hooks.NewRegistry()
	registry.Register(hooks.Hook{
		Name:    "debugger",
		Trigger: hooks.TriggerOnGateFailure,
		Enabled: true,
		Handler: func(ctx *hooks.HookContext) hooks.HookResult {
			return hooks.HookResult{Success: true, Output: map[string]any{"analysis": "flaky test suspected"}}
		},
	})
	runner := hooks.NewRunner(registry)
	v := New(Config{}, runner)
	p := proof.NewBuilder("wc-1", "issue-1").Finalize()

	result := v.Verify(context.Background(), m, dir, &p)
	require.False(t, result.Verification.AllPassed)
	require.Equal(t, "flaky test suspected", result.Verification.DebugAnalysis["analysis"])
}

func TestVoteDeterministicTieBreak(t *testing.T) {
	a := proof.NewBuilder("wc-1", "issue-1").
		SetStatus(proof.StatusSuccess, 0.8).
		SetVerification(proof.Verification{AllPassed: true}).
		Finalize()
	a.Patch.HeadCommit = "aaa"

	b := proof.NewBuilder("wc-1", "issue-1").
		SetStatus(proof.StatusSuccess, 0.8).
		SetVerification(proof.Verification{AllPassed: true}).
		Finalize()
	b.Patch.HeadCommit = "zzz"

	winner := Vote([]proof.PatchProof{b, a})
	require.Equal(t, 1, winner)
}

func TestVotePrefersAllPassed(t *testing.T) {
	failing := proof.NewBuilder("wc-1", "issue-1").
		SetStatus(proof.StatusFailed, 0.9).
		SetVerification(proof.Verification{AllPassed: false}).
		Finalize()
	passing := proof.NewBuilder("wc-1", "issue-1").
		SetStatus(proof.StatusSuccess, 0.1).
		SetVerification(proof.Verification{AllPassed: true}).
		Finalize()

	winner := Vote([]proof.PatchProof{failing, passing})
	require.Equal(t, 1, winner)
}

func TestVoteEmptyReturnsNegativeOne(t *testing.T) {
	require.Equal(t, -1, Vote(nil))
}
