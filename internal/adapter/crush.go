package adapter

import (
	"github.com/cyntra-dev/cyntra/internal/manifest"
)

// crushCostPerMillion is deliberately small: crush is the kernel's
// lightweight/cheap toolchain.
var crushCostPerMillion = map[string]float64{
	"default": 1.0,
}

// NewCrushAdapter builds the ToolchainAdapter for the "crush" CLI: a
// lighter-weight coding agent invoked the same way as claude (prompt file,
// model flag) but without claude's extended-thinking prefix or permission
// flags, since crush runs unattended by design.
func NewCrushAdapter(executable string) *CLIAdapter {
	if executable == "" {
		executable = "crush"
	}
	return NewCLIAdapter(Spec{
		NameStr:               "crush",
		Executable:            executable,
		DefaultModel:          "",
		UseStdin:              false,
		Ultrathink:            false,
		CostPerMillionTokens:  crushCostPerMillion,
		DefaultCostPerMillion: 1.0,
		BuildArgs:             buildCrushArgs,
	})
}

func buildCrushArgs(promptPath, model string, cfg manifest.ToolchainConfig) []string {
	args := []string{"run", "--prompt-file", promptPath, "--yes"}
	if model != "" {
		args = append(args, "--model", model)
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
