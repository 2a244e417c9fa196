package adapter

import (
	"github.com/cyntra-dev/cyntra/internal/manifest"
)

// claudeCostPerMillion maps every model name the kernel is likely to see in
// toolchain_config.model to one of three pricing tiers. Claude's naming
// scheme has drifted across releases; the map intentionally carries every
// alias a manifest might contain rather than parsing the name.
var claudeCostPerMillion = map[string]float64{
	"opus":   45.0,
	"sonnet": 9.0,
	"haiku":  0.75,

	"claude-3-opus":            45.0,
	"claude-3-opus-20240229":   45.0,
	"claude-3-sonnet":          9.0,
	"claude-3-sonnet-20240229": 9.0,
	"claude-3-haiku":           0.75,
	"claude-3-haiku-20240307":  0.75,

	"claude-3-5-sonnet":          9.0,
	"claude-3-5-sonnet-20240620": 9.0,
	"claude-3-5-sonnet-20241022": 9.0,
	"claude-3-5-haiku":           0.75,
	"claude-3-5-haiku-20241022":  0.75,

	"claude-3-7-sonnet":          9.0,
	"claude-3-7-sonnet-20250219": 9.0,

	"claude-opus-4":            45.0,
	"claude-opus-4-20250514":   45.0,
	"claude-opus-4-1":          45.0,
	"claude-opus-4-1-20250805": 45.0,
	"claude-sonnet-4":          9.0,
	"claude-sonnet-4-20250514": 9.0,
	"claude-haiku-4":           0.75,
}

// NewClaudeAdapter builds the ToolchainAdapter for the "claude" CLI: prompt
// written to @promptfile, model selection, and --dangerously-skip-permissions
// so the kernel's own sandboxing (workcell isolation) is the enforcement
// boundary rather than Claude Code's interactive approval loop.
func NewClaudeAdapter(executable string) *CLIAdapter {
	if executable == "" {
		executable = "claude"
	}
	return NewCLIAdapter(Spec{
		NameStr:               "claude",
		Executable:            executable,
		DefaultModel:          "opus",
		UseStdin:              false,
		Ultrathink:            true,
		CostPerMillionTokens:  claudeCostPerMillion,
		DefaultCostPerMillion: 9.0,
		BuildArgs:             buildClaudeArgs,
	})
}

func buildClaudeArgs(promptPath, model string, cfg manifest.ToolchainConfig) []string {
	args := []string{"--print", "@" + promptPath}
	if model != "" {
		args = append(args, "--model", model)
	}
	if format, ok := cfg.Extra["output_format"].(string); ok && format != "" {
		args = append(args, "--output-format", format)
	}
	if tools, ok := cfg.Extra["allowed_tools"].([]any); ok && len(tools) > 0 {
		args = append(args, "--allowedTools")
		for _, t := range tools {
			if s, ok := t.(string); ok {
				args = append(args, s)
			}
		}
	}
	args = append(args, "--dangerously-skip-permissions")
	if extra, ok := cfg.Extra["extra_args"].([]any); ok {
		for _, a := range extra {
			if s, ok := a.(string); ok {
				args = append(args, s)
			}
		}
	}
	return args
}
