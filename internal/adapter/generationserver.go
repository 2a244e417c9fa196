package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cyntra-dev/cyntra/internal/manifest"
	"github.com/cyntra-dev/cyntra/internal/proof"
)

// GenerationServerConfig addresses a local, non-LLM workflow executor (an
// image/asset generation server) that the kernel submits a workflow to and
// polls until it reports completion. It never touches the workcell's git
// state, so its proofs always carry an empty Patch.
type GenerationServerConfig struct {
	Host         string
	Port         int
	PollInterval time.Duration
}

// GenerationServerAdapter implements Adapter for a queue/poll/download HTTP
// workflow executor. It is a local toolchain: cost is always zero tokens.
type GenerationServerAdapter struct {
	cfg    GenerationServerConfig
	client *http.Client
}

func NewGenerationServerAdapter(cfg GenerationServerConfig) *GenerationServerAdapter {
	if cfg.Port == 0 {
		cfg.Port = 8188
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &GenerationServerAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *GenerationServerAdapter) Name() string { return "generationserver" }

func (a *GenerationServerAdapter) baseURL() string {
	return fmt.Sprintf("http://%s:%d", a.cfg.Host, a.cfg.Port)
}

func (a *GenerationServerAdapter) Available() bool {
	return true
}

func (a *GenerationServerAdapter) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL()+"/system_stats", nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (a *GenerationServerAdapter) EstimateCost(m *manifest.Manifest) CostEstimate {
	return CostEstimate{EstimatedTokens: 0, EstimatedCostUSD: 0, Model: "local-generation-server"}
}

type generationRequest struct {
	WorkflowPath string         `json:"workflow_path"`
	Seed         int            `json:"seed"`
	Params       map[string]any `json:"params,omitempty"`
}

type queueResponse struct {
	PromptID string `json:"prompt_id"`
}

type pollResponse struct {
	Status          string   `json:"status"`
	OutputFiles     []string `json:"output_files"`
	Error           string   `json:"error,omitempty"`
	ExecutionTimeMS int64    `json:"execution_time_ms"`
}

// Execute submits the workflow named in manifest.ToolchainConfig.Extra and
// polls until the server reports "completed", "failed", or the caller's
// timeout elapses.
func (a *GenerationServerAdapter) Execute(ctx context.Context, m *manifest.Manifest, workcellPath string, timeout time.Duration) proof.PatchProof {
	startedAt := time.Now().UTC()

	workflowPath, _ := m.ToolchainConfig.Extra["workflow_path"].(string)
	seed := 42
	if s, ok := m.ToolchainConfig.Extra["seed"].(float64); ok {
		seed = int(s)
	}
	params, _ := m.ToolchainConfig.Extra["params"].(map[string]any)

	if workflowPath == "" {
		return a.errorProof(m, startedAt, "missing workflow_path in toolchain_config.extra")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !a.HealthCheck(runCtx) {
		return a.errorProof(m, startedAt, "generation server not available")
	}

	body, err := json.Marshal(generationRequest{WorkflowPath: workflowPath, Seed: seed, Params: params})
	if err != nil {
		return a.errorProof(m, startedAt, err.Error())
	}
	req, err := http.NewRequestWithContext(runCtx, http.MethodPost, a.baseURL()+"/prompt", bytes.NewReader(body))
	if err != nil {
		return a.errorProof(m, startedAt, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return a.errorProof(m, startedAt, err.Error())
	}
	var queued queueResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&queued)
	resp.Body.Close()
	if decodeErr != nil {
		return a.errorProof(m, startedAt, decodeErr.Error())
	}

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			return a.timeoutProof(m, startedAt)
		case <-ticker.C:
			poll, err := a.pollOnce(runCtx, queued.PromptID)
			if err != nil {
				continue
			}
			switch poll.Status {
			case "completed":
				return a.successProof(m, startedAt, workflowPath, seed, poll)
			case "failed":
				return a.failedProof(m, startedAt, workflowPath, seed, poll)
			}
		}
	}
}

func (a *GenerationServerAdapter) pollOnce(ctx context.Context, promptID string) (pollResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL()+"/history/"+promptID, nil)
	if err != nil {
		return pollResponse{}, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return pollResponse{}, err
	}
	defer resp.Body.Close()
	var p pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return pollResponse{}, err
	}
	return p, nil
}

func emptyPatch() proof.Patch {
	return proof.Patch{DiffStats: proof.DiffStats{}}
}

func (a *GenerationServerAdapter) successProof(m *manifest.Manifest, startedAt time.Time, workflowPath string, seed int, poll pollResponse) proof.PatchProof {
	completedAt := time.Now().UTC()
	durationMS := completedAt.Sub(startedAt).Milliseconds()
	b := proof.NewBuilder(m.WorkcellID, m.Issue.ID)
	b.SetStatus(proof.StatusSuccess, 0.95)
	b.SetPatch(emptyPatch())
	b.SetRiskClassification(proof.RiskLow)
	b.AppendCommand(proof.CommandExecuted{
		Command:    "generationserver queue " + workflowPath,
		ExitCode:   0,
		DurationMS: durationMS,
	})
	b.SetMetadata(proof.Metadata{
		Toolchain:   a.Name(),
		Model:       "local-generation-server",
		StartedAt:   startedAt.Format(time.RFC3339),
		CompletedAt: completedAt.Format(time.RFC3339),
		DurationMS:  durationMS,
		ExitCode:    0,
	})
	b.SetVerification(proof.Verification{Gates: map[string]proof.GateResult{}, AllPassed: true})
	p := b.Finalize()
	p.Artifacts = map[string]any{"output_files": poll.OutputFiles, "seed": seed, "workflow_path": workflowPath}
	return p
}

func (a *GenerationServerAdapter) failedProof(m *manifest.Manifest, startedAt time.Time, workflowPath string, seed int, poll pollResponse) proof.PatchProof {
	completedAt := time.Now().UTC()
	durationMS := completedAt.Sub(startedAt).Milliseconds()
	b := proof.NewBuilder(m.WorkcellID, m.Issue.ID)
	b.SetStatus(proof.StatusFailed, 0.1)
	b.SetPatch(emptyPatch())
	b.SetRiskClassification(proof.RiskLow)
	b.SetMetadata(proof.Metadata{
		Toolchain:   a.Name(),
		Model:       "local-generation-server",
		StartedAt:   startedAt.Format(time.RFC3339),
		CompletedAt: completedAt.Format(time.RFC3339),
		DurationMS:  durationMS,
		ExitCode:    1,
		Error:       poll.Error,
	})
	b.SetVerification(proof.Verification{Gates: map[string]proof.GateResult{}, BlockingFailures: []string{"generation_execution"}})
	p := b.Finalize()
	p.Artifacts = map[string]any{"error": poll.Error, "seed": seed, "workflow_path": workflowPath}
	return p
}

func (a *GenerationServerAdapter) errorProof(m *manifest.Manifest, startedAt time.Time, errMsg string) proof.PatchProof {
	completedAt := time.Now().UTC()
	b := proof.NewBuilder(m.WorkcellID, m.Issue.ID)
	b.SetStatus(proof.StatusError, 0)
	b.SetPatch(emptyPatch())
	b.SetRiskClassification(proof.RiskLow)
	b.SetMetadata(proof.Metadata{
		Toolchain:   a.Name(),
		Model:       "local-generation-server",
		StartedAt:   startedAt.Format(time.RFC3339),
		CompletedAt: completedAt.Format(time.RFC3339),
		DurationMS:  completedAt.Sub(startedAt).Milliseconds(),
		ExitCode:    -1,
		Error:       errMsg,
	})
	b.SetVerification(proof.Verification{Gates: map[string]proof.GateResult{}, BlockingFailures: []string{"generation_error"}})
	p := b.Finalize()
	p.Artifacts = map[string]any{"error": errMsg}
	return p
}

func (a *GenerationServerAdapter) timeoutProof(m *manifest.Manifest, startedAt time.Time) proof.PatchProof {
	completedAt := time.Now().UTC()
	b := proof.NewBuilder(m.WorkcellID, m.Issue.ID)
	b.SetStatus(proof.StatusTimeout, 0)
	b.SetPatch(emptyPatch())
	b.SetRiskClassification(proof.RiskLow)
	b.SetMetadata(proof.Metadata{
		Toolchain:   a.Name(),
		Model:       "local-generation-server",
		StartedAt:   startedAt.Format(time.RFC3339),
		CompletedAt: completedAt.Format(time.RFC3339),
		DurationMS:  completedAt.Sub(startedAt).Milliseconds(),
		ExitCode:    -1,
		Error:       "Execution timed out",
	})
	b.SetVerification(proof.Verification{Gates: map[string]proof.GateResult{}, BlockingFailures: []string{"generation_timeout"}})
	return b.Finalize()
}
