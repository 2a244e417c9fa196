// Package verifier runs a manifest's quality gates against a workcell and
// produces the deterministic cross-candidate vote over a set of proofs.
package verifier

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cyntra-dev/cyntra/internal/hooks"
	"github.com/cyntra-dev/cyntra/internal/manifest"
	"github.com/cyntra-dev/cyntra/internal/proof"
)

// Config is the subset of gates configuration the Verifier needs per run.
type Config struct {
	TimeoutSeconds int
	// RetryFlaky is the number of extra attempts a failing gate gets before
	// its failure is treated as blocking. 0 disables retrying.
	RetryFlaky int
}

// Verifier executes a manifest's quality_gates commands inside a workcell,
// updates the proof's Verification section, and fires ON_GATE_FAILURE hooks
// when any gate fails.
type Verifier struct {
	cfg     Config
	hooks   *hooks.Runner
}

func New(cfg Config, runner *hooks.Runner) *Verifier {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 300
	}
	return &Verifier{cfg: cfg, hooks: runner}
}

// Verify runs every gate named in m.QualityGates, updates p.Verification in
// place, and returns the same pointer for chaining. A flaky gate (fails,
// then passes on a later attempt) does not count as a blocking failure as
// long as it passes within cfg.RetryFlaky retries.
func (v *Verifier) Verify(ctx context.Context, m *manifest.Manifest, workcellPath string, p *proof.PatchProof) *proof.PatchProof {
	gates := map[string]proof.GateResult{}
	var blocking []string

	names := orderedGateNames(m.QualityGates)
	for _, name := range names {
		command := m.QualityGates[name]
		result := v.runGate(ctx, workcellPath, command)
		retries := 0
		for !result.Passed && retries < v.cfg.RetryFlaky {
			retries++
			retry := v.runGate(ctx, workcellPath, command)
			retry.RetriesUsed = retries
			result = retry
		}
		if retries > 0 {
			result.RetriesUsed = retries
		}
		gates[name] = result
		if !result.Passed {
			blocking = append(blocking, name)
		}
	}

	allPassed := len(blocking) == 0
	verification := proof.Verification{
		Gates:            gates,
		AllPassed:        allPassed,
		BlockingFailures: append(append([]string{}, p.Verification.BlockingFailures...), blocking...),
	}
	p.Verification = verification

	if len(blocking) > 0 && v.hooks != nil {
		hctx := &hooks.HookContext{
			WorkcellPath:       workcellPath,
			WorkcellID:         m.WorkcellID,
			IssueID:            m.Issue.ID,
			Proof:              p,
			Manifest:           m,
			GateFailures:       blocking,
			VerificationResult: &verification,
		}
		results := v.hooks.RunHooks(hooks.TriggerOnGateFailure, hctx)
		for _, r := range results {
			out, ok := r.Output.(map[string]any)
			if !ok || out == nil {
				continue
			}
			if p.Verification.DebugAnalysis == nil {
				p.Verification.DebugAnalysis = map[string]any{}
			}
			for k, val := range out {
				p.Verification.DebugAnalysis[k] = val
			}
		}
	}

	return p
}

func (v *Verifier) runGate(ctx context.Context, workcellPath, command string) proof.GateResult {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(v.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	if strings.TrimSpace(command) == "" {
		return proof.GateResult{Passed: false, Stderr: "empty gate command"}
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = workcellPath
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(start)

	passed := err == nil
	return proof.GateResult{
		Passed:      passed,
		Stdout:      truncate(stdout.String(), 8192),
		Stderr:      truncate(stderr.String(), 8192),
		DurationMS:  duration.Milliseconds(),
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("...(truncated, %d bytes total)", len(s))
}

func orderedGateNames(gates map[string]string) []string {
	preferred := []string{"test", "typecheck", "lint", "build"}
	seen := map[string]bool{}
	var names []string
	for _, p := range preferred {
		if _, ok := gates[p]; ok {
			names = append(names, p)
			seen[p] = true
		}
	}
	for name := range gates {
		if !seen[name] {
			names = append(names, name)
		}
	}
	return names
}
