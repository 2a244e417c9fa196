package adapter

import (
	"fmt"
	"strings"

	"github.com/cyntra-dev/cyntra/internal/manifest"
)

var codexCostPerMillion = map[string]float64{
	"o3":        20.0,
	"o3-mini":   5.0,
	"o1":        15.0,
	"o1-mini":   3.0,
	"gpt-4o":    5.0,
	"gpt-4":     10.0,
}

// NewCodexAdapter builds the ToolchainAdapter for the "codex" CLI. Unlike
// claude, codex takes its prompt over stdin ("exec -") rather than a file
// flag, and its sandbox/approval posture is controlled by two independent
// config keys (approval_mode, sandbox_mode) instead of one skip flag.
func NewCodexAdapter(executable string) *CLIAdapter {
	if executable == "" {
		executable = "codex"
	}
	return NewCLIAdapter(Spec{
		NameStr:               "codex",
		Executable:            executable,
		DefaultModel:          "gpt-5.2",
		UseStdin:              true,
		Ultrathink:            false,
		CostPerMillionTokens:  codexCostPerMillion,
		DefaultCostPerMillion: 10.0,
		BuildArgs:             buildCodexArgs,
	})
}

func buildCodexArgs(_ string, model string, cfg manifest.ToolchainConfig) []string {
	sandboxMode, _ := cfg.Extra["sandbox_mode"].(string)
	if sandboxMode == "" {
		sandboxMode = "workspace-write"
	}
	approvalMode, _ := cfg.Extra["approval_mode"].(string)
	if approvalMode == "" {
		approvalMode = "full-auto"
	}

	args := []string{"exec", "-", "--sandbox", sandboxMode}

	askForApproval := "never"
	if approvalMode == "ask" {
		askForApproval = "on-request"
	}
	if askForApproval == "never" {
		if sandboxMode == "danger-full-access" {
			args = append(args, "--dangerously-bypass-approvals-and-sandbox")
		} else {
			args = append(args, "--full-auto")
		}
	}

	reasoningEffort, _ := cfg.Extra["model_reasoning_effort"].(string)
	if reasoningEffort == "" {
		reasoningEffort, _ = cfg.Extra["reasoning_effort"].(string)
	}
	if reasoningEffort == "" && strings.HasPrefix(model, "gpt-5") {
		reasoningEffort = "xhigh"
	}
	if reasoningEffort != "" {
		args = append(args, "--config", fmt.Sprintf("model_reasoning_effort=%q", reasoningEffort))
	}

	if model != "" {
		args = append(args, "--model", model)
	}

	if cfg.Sampling != nil {
		if temp, ok := cfg.Sampling["temperature"].(float64); ok {
			args = append(args, "--config", fmt.Sprintf("temperature=%v", temp))
		}
		if topP, ok := cfg.Sampling["top_p"].(float64); ok {
			args = append(args, "--config", fmt.Sprintf("top_p=%v", topP))
		}
	}

	if extra, ok := cfg.Extra["extra_args"].([]any); ok {
		for _, a := range extra {
			if s, ok := a.(string); ok {
				args = append(args, s)
			}
		}
	}
	return args
}
