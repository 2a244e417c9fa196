// Package proof implements the PatchProof outcome record: adapters create
// it, hooks extend it, the Verifier finalizes it.
package proof

import (
	"encoding/json"
	"fmt"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

type RiskClassification string

const (
	RiskLow      RiskClassification = "low"
	RiskMedium   RiskClassification = "medium"
	RiskHigh     RiskClassification = "high"
	RiskCritical RiskClassification = "critical"
)

const SchemaVersion = "1.0"

type DiffStats struct {
	FilesChanged int `json:"files_changed"`
	Insertions   int `json:"insertions"`
	Deletions    int `json:"deletions"`
}

type Patch struct {
	Branch                  string    `json:"branch"`
	BaseCommit              string    `json:"base_commit"`
	HeadCommit              string    `json:"head_commit"`
	DiffStats               DiffStats `json:"diff_stats"`
	FilesModified           []string  `json:"files_modified"`
	ForbiddenPathViolations  []string  `json:"forbidden_path_violations"`
}

type GateResult struct {
	Passed      bool   `json:"passed"`
	Stdout      string `json:"stdout,omitempty"`
	Stderr      string `json:"stderr,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
	RetriesUsed int    `json:"retries_used,omitempty"`
}

type Verification struct {
	Gates            map[string]GateResult `json:"gates"`
	AllPassed        bool                  `json:"all_passed"`
	BlockingFailures []string              `json:"blocking_failures"`
	DebugAnalysis    map[string]any        `json:"debug_analysis,omitempty"`
}

type Metadata struct {
	Toolchain   string  `json:"toolchain"`
	Model       string  `json:"model,omitempty"`
	StartedAt   string  `json:"started_at"`
	CompletedAt string  `json:"completed_at"`
	DurationMS  int64   `json:"duration_ms"`
	ExitCode    int     `json:"exit_code"`
	TokensUsed  int     `json:"tokens_used,omitempty"`
	CostUSD     float64 `json:"cost_usd,omitempty"`
	Error       string  `json:"error,omitempty"`
}

type CommandExecuted struct {
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	StdoutPath string `json:"stdout_path,omitempty"`
	StderrPath string `json:"stderr_path,omitempty"`
}

type Review struct {
	HooksExecuted   []string       `json:"hooks_executed,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	HookOutputs     map[string]any `json:"hook_outputs,omitempty"`
}

// PatchProof is the structured outcome record of a single dispatch.
type PatchProof struct {
	SchemaVersion      string                 `json:"schema_version"`
	WorkcellID         string                 `json:"workcell_id"`
	IssueID            string                 `json:"issue_id"`
	Status             Status                 `json:"status"`
	Patch              Patch                  `json:"patch"`
	Verification       Verification           `json:"verification"`
	Metadata           Metadata               `json:"metadata"`
	CommandsExecuted   []CommandExecuted      `json:"commands_executed"`
	Confidence         float64                `json:"confidence"`
	RiskClassification RiskClassification     `json:"risk_classification"`
	Review             *Review                `json:"review,omitempty"`
	Artifacts          map[string]any         `json:"artifacts,omitempty"`
}

// Builder assembles a PatchProof across the adapter → hooks → verifier
// pipeline; FromJSON/ToJSON give the round-trip law required by spec §8.
type Builder struct {
	p PatchProof
}

func NewBuilder(workcellID, issueID string) *Builder {
	return &Builder{p: PatchProof{
		SchemaVersion: SchemaVersion,
		WorkcellID:    workcellID,
		IssueID:       issueID,
		Verification:  Verification{Gates: map[string]GateResult{}},
	}}
}

func (b *Builder) SetStatus(s Status, confidence float64) *Builder {
	b.p.Status = s
	b.p.Confidence = confidence
	return b
}

func (b *Builder) SetPatch(p Patch) *Builder {
	b.p.Patch = p
	return b
}

func (b *Builder) SetMetadata(m Metadata) *Builder {
	b.p.Metadata = m
	return b
}

func (b *Builder) SetRiskClassification(r RiskClassification) *Builder {
	b.p.RiskClassification = r
	return b
}

func (b *Builder) AppendCommand(c CommandExecuted) *Builder {
	b.p.CommandsExecuted = append(b.p.CommandsExecuted, c)
	return b
}

func (b *Builder) SetReview(r Review) *Builder {
	b.p.Review = &r
	return b
}

func (b *Builder) SetVerification(v Verification) *Builder {
	b.p.Verification = v
	return b
}

// Finalize returns an immutable snapshot of the proof built so far.
func (b *Builder) Finalize() PatchProof {
	return b.p
}

func ToJSON(p PatchProof) ([]byte, error) {
	out, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("proof: failed to marshal: %w", err)
	}
	return out, nil
}

func FromJSON(data []byte) (PatchProof, error) {
	var p PatchProof
	if err := json.Unmarshal(data, &p); err != nil {
		return PatchProof{}, fmt.Errorf("proof: failed to unmarshal: %w", err)
	}
	return p, nil
}
