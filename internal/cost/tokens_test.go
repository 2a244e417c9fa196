package cost

import "testing"

func TestExtractUsage(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		prompt     string
		wantInput  int
		wantOutput int
	}{
		{
			name:       "combined format",
			output:     "Some output\nTokens: 1500 input, 2500 output\nDone.",
			prompt:     "Test prompt",
			wantInput:  1500,
			wantOutput: 2500,
		},
		{
			name:       "separate lines format",
			output:     "Input tokens: 1200\nOutput tokens: 800\nComplete.",
			prompt:     "Test prompt",
			wantInput:  1200,
			wantOutput: 800,
		},
		{
			name:       "no token info falls back to length estimate",
			output:     "This is some output text without token information.",
			prompt:     "This is a test prompt for estimation",
			wantInput:  9,
			wantOutput: 12,
		},
		{
			name:       "empty strings",
			output:     "",
			prompt:     "",
			wantInput:  0,
			wantOutput: 0,
		},
		{
			name:       "partial token info estimates the missing half",
			output:     "Input tokens: 1000\nNo output token info",
			prompt:     "Test",
			wantInput:  1000,
			wantOutput: 9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usage := ExtractUsage(tt.output, tt.prompt)
			if usage.Input != tt.wantInput {
				t.Errorf("Input = %d, want %d", usage.Input, tt.wantInput)
			}
			if usage.Output != tt.wantOutput {
				t.Errorf("Output = %d, want %d", usage.Output, tt.wantOutput)
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected int
	}{
		{"empty string", "", 0},
		{"single character", "x", 1},
		{"short text", "hi", 1},
		{"moderate text", "This is a test", 3},
		{"longer text", "This is a longer text with more characters", 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := estimateTokens(tt.text); got != tt.expected {
				t.Errorf("estimateTokens(%q) = %d, want %d", tt.text, got, tt.expected)
			}
		})
	}
}

func TestUsageUSD(t *testing.T) {
	u := Usage{Input: 1500, Output: 2500}

	got := u.USD(9.0)
	want := float64(4000) / 1_000_000 * 9.0
	if got != want {
		t.Errorf("USD() = %.6f, want %.6f", got, want)
	}

	if (Usage{}).USD(9.0) != 0 {
		t.Errorf("zero usage should cost 0")
	}
}

func TestUsageTotal(t *testing.T) {
	u := Usage{Input: 100, Output: 50}
	if got := u.Total(); got != 150 {
		t.Errorf("Total() = %d, want 150", got)
	}
}
