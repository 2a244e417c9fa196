// Package manifest builds the read-only instruction packet handed to a
// toolchain adapter for a single dispatch.
package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/cyntra-dev/cyntra/internal/beadstore"
	"github.com/cyntra-dev/cyntra/internal/mergeutil"
)

// ToolchainConfig is the resolved, per-run adapter configuration embedded
// in a Manifest (model, sampling, prompt-genome id, and any passthrough).
type ToolchainConfig struct {
	Toolchain string         `json:"toolchain"`
	Model     string         `json:"model,omitempty"`
	Sampling  map[string]any `json:"sampling,omitempty"`
	GenomeID  string         `json:"prompt_genome_id,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Planner is the optional inference bundle attached when the Scheduler's
// planner integration is in log or enforce mode.
type Planner struct {
	SwarmID       string  `json:"swarm_id,omitempty"`
	MaxCandidates int     `json:"max_candidates,omitempty"`
	MaxMinutes    int     `json:"max_minutes,omitempty"`
	MaxIterations int     `json:"max_iterations,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
}

// Manifest is serialized once per run before adapter invocation and not
// mutated afterward. Build marks it sealed (see Sealed); the type itself
// does not block later field writes.
type Manifest struct {
	WorkcellID        string               `json:"workcell_id"`
	BranchName        string               `json:"branch_name"`
	Issue             beadstore.Issue      `json:"issue"`
	QualityGates      map[string]string    `json:"quality_gates"`
	ToolchainConfig   ToolchainConfig      `json:"toolchain_config"`
	Planner           *Planner             `json:"planner,omitempty"`
	ManifestOverrides map[string]any       `json:"manifest_overrides,omitempty"`

	sealed bool
}

// Builder composes a Manifest from the issue, the routed toolchain's config
// and quality gates, and manifest_overrides. Only the manifest_overrides
// layers are deep-merged; the other parts are copied as given.
type Builder struct {
	workcellID   string
	branchName   string
	issue        beadstore.Issue
	qualityGates map[string]string
	toolchainCfg ToolchainConfig
	planner      *Planner
	overrideLayers []map[string]any
}

func NewBuilder(workcellID, branchName string, issue beadstore.Issue) *Builder {
	return &Builder{
		workcellID:   workcellID,
		branchName:   branchName,
		issue:        issue,
		qualityGates: map[string]string{},
	}
}

func (b *Builder) WithQualityGates(gates map[string]string) *Builder {
	b.qualityGates = gates
	return b
}

func (b *Builder) WithToolchainConfig(cfg ToolchainConfig) *Builder {
	b.toolchainCfg = cfg
	return b
}

func (b *Builder) WithPlanner(p *Planner) *Builder {
	b.planner = p
	return b
}

// WithOverrides appends a deep-merge layer of manifest_overrides; layers
// are folded left-to-right so the last call wins on conflicting scalars.
func (b *Builder) WithOverrides(overrides map[string]any) *Builder {
	if len(overrides) > 0 {
		b.overrideLayers = append(b.overrideLayers, overrides)
	}
	return b
}

// Build finalizes and seals the Manifest; the returned value must not be mutated.
func (b *Builder) Build() *Manifest {
	merged := mergeutil.DeepMergeAll(b.overrideLayers...)
	m := &Manifest{
		WorkcellID:        b.workcellID,
		BranchName:        b.branchName,
		Issue:             b.issue,
		QualityGates:      b.qualityGates,
		ToolchainConfig:   b.toolchainCfg,
		Planner:           b.planner,
		ManifestOverrides: merged,
		sealed:            true,
	}
	return m
}

// Sealed reports whether the manifest has gone through Builder.Build and
// must therefore be treated as immutable by all callers.
func (m *Manifest) Sealed() bool { return m.sealed }

// ToJSON serializes the manifest for persistence at <run>/manifest.json.
func (m *Manifest) ToJSON() ([]byte, error) {
	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to marshal: %w", err)
	}
	return out, nil
}
