// Package cost extracts actual token usage from an adapter's captured
// stdout and turns it into a dollar figure, filling in the Metadata fields
// an adapter's pre-dispatch CostEstimate can only guess at.
package cost

import (
	"regexp"
	"strconv"
)

// Usage is the input/output token split for a single dispatch.
type Usage struct {
	Input  int
	Output int
}

var (
	// Claude Code and Codex CLI both print a combined usage line near the
	// end of their output in this shape.
	combinedRe = regexp.MustCompile(`(?i)tokens?:\s*(\d+)\s*input,\s*(\d+)\s*output`)
	inputRe    = regexp.MustCompile(`(?i)input tokens?:\s*(\d+)`)
	outputRe   = regexp.MustCompile(`(?i)output tokens?:\s*(\d+)`)
)

// ExtractUsage parses token counts out of an adapter's captured stdout,
// falling back to a character-count estimate against the prompt it was
// given when the adapter prints nothing recognizable.
func ExtractUsage(capturedStdout, prompt string) Usage {
	var u Usage

	if m := combinedRe.FindStringSubmatch(capturedStdout); len(m) == 3 {
		u.Input, _ = strconv.Atoi(m[1])
		u.Output, _ = strconv.Atoi(m[2])
	} else {
		if m := inputRe.FindStringSubmatch(capturedStdout); len(m) == 2 {
			u.Input, _ = strconv.Atoi(m[1])
		}
		if m := outputRe.FindStringSubmatch(capturedStdout); len(m) == 2 {
			u.Output, _ = strconv.Atoi(m[1])
		}
	}

	if u.Input == 0 {
		u.Input = estimateTokens(prompt)
	}
	if u.Output == 0 {
		u.Output = estimateTokens(capturedStdout)
	}
	return u
}

// estimateTokens applies the usual ~4-chars-per-token rule of thumb.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	if n := len(text) / 4; n > 0 {
		return n
	}
	return 1
}

// Total returns the combined input+output token count.
func (u Usage) Total() int { return u.Input + u.Output }

// USD prices u at costPerMillion dollars per million total tokens, the
// same per-model rate an adapter's CostEstimate already uses.
func (u Usage) USD(costPerMillion float64) float64 {
	return float64(u.Total()) / 1_000_000 * costPerMillion
}
