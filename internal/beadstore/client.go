package beadstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Client is the bead-store client surface the kernel depends on. It is
// pluggable; the kernel never talks to the tracker through any other path.
type Client interface {
	ListReady(ctx context.Context) ([]Issue, error)
	ListInProgress(ctx context.Context) ([]Issue, error)
	Get(ctx context.Context, id string) (Issue, error)
	UpdateStatus(ctx context.Context, id string, newStatus Status, reason string) error
	// UpdateRetryBudget persists an issue's decremented retry budget (via
	// its "retry-budget:N" label) after a non-terminal failed attempt.
	UpdateRetryBudget(ctx context.Context, id string, remaining int) error
}

// ErrIssueAlreadyClaimed indicates an ownership-lock conflict while claiming an issue.
var ErrIssueAlreadyClaimed = errors.New("beadstore: issue already claimed")

// CLIClient implements Client by shelling out to the "bd" CLI, following
// the same subprocess-with-fallback-command discipline the kernel's
// teacher uses for its own bead integration.
type CLIClient struct {
	BeadsDir string
	// DefaultMaxRetries backs an issue's RetryBudget when the bead carries
	// neither an explicit retry_budget field nor a "retry-budget:N" label,
	// mirroring general.max_retries.
	DefaultMaxRetries int
}

var _ Client = (*CLIClient)(nil)

// NewCLIClient builds a CLIClient. defaultMaxRetries seeds Issue.RetryBudget
// for beads that specify no retry budget of their own (see resolveRetryBudget).
func NewCLIClient(beadsDir string, defaultMaxRetries int) *CLIClient {
	return &CLIClient{BeadsDir: beadsDir, DefaultMaxRetries: defaultMaxRetries}
}

func (c *CLIClient) projectRoot() string {
	return filepath.Dir(c.BeadsDir)
}

func (c *CLIClient) run(ctx context.Context, args ...string) ([]byte, error) {
	path, err := exec.LookPath("bd")
	if err != nil {
		return nil, fmt.Errorf("beadstore: bd CLI not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = c.projectRoot()
	cmd.Env = append(os.Environ(), "BEADS_NO_DAEMON=1")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("beadstore: bd %v failed: %w\nstderr: %s", args, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (c *CLIClient) listAll(ctx context.Context) ([]rawBead, error) {
	commands := [][]string{
		{"list", "--all", "--limit", "0", "--json", "--quiet"},
		{"list", "--all", "--limit", "0", "--format=json"},
		{"list", "--all", "--json", "--quiet"},
		{"list", "--all", "--format=json"},
		{"list", "--limit", "0", "--json", "--quiet"},
		{"list", "--limit", "0", "--format=json"},
		{"list", "--json", "--quiet"},
		{"list", "--format=json"},
	}

	var (
		out     []byte
		err     error
		lastErr error
	)
	for _, args := range commands {
		out, err = c.run(ctx, args...)
		if err == nil {
			break
		}
		lastErr = err
	}
	if err != nil {
		return nil, fmt.Errorf("beadstore: listing issues: %w", lastErr)
	}

	var beads []rawBead
	if unmarshalErr := json.Unmarshal(out, &beads); unmarshalErr != nil {
		return nil, fmt.Errorf("beadstore: parsing bd list output: %w", unmarshalErr)
	}
	return beads, nil
}

// ListReady returns non-epic issues with status open or ready and no
// unresolved blockers, sorted by priority ascending then staged-first then
// estimate ascending.
func (c *CLIClient) ListReady(ctx context.Context) ([]Issue, error) {
	beads, err := c.listAll(ctx)
	if err != nil {
		return nil, err
	}
	graph := buildDepGraph(beads)
	return filterUnblockedOpen(beads, graph, c.DefaultMaxRetries), nil
}

func (c *CLIClient) ListInProgress(ctx context.Context) ([]Issue, error) {
	beads, err := c.listAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []Issue
	for _, b := range beads {
		if Status(b.Status) == StatusInProgress {
			out = append(out, toIssue(b, c.DefaultMaxRetries))
		}
	}
	return out, nil
}

func (c *CLIClient) Get(ctx context.Context, id string) (Issue, error) {
	out, err := c.run(ctx, "show", "--json", id)
	if err != nil {
		return Issue{}, fmt.Errorf("beadstore: getting issue %s: %w", id, err)
	}
	var b rawBead
	if err := json.Unmarshal(out, &b); err != nil {
		return Issue{}, fmt.Errorf("beadstore: parsing bd show output for %s: %w", id, err)
	}
	return toIssue(b, c.DefaultMaxRetries), nil
}

func (c *CLIClient) UpdateStatus(ctx context.Context, id string, newStatus Status, reason string) error {
	args := []string{"update", id, "--status", string(newStatus)}
	if reason != "" {
		args = append(args, "--reason", reason)
	}
	_, err := c.run(ctx, args...)
	if err != nil {
		if isClaimConflict(err.Error()) {
			return ErrIssueAlreadyClaimed
		}
		return fmt.Errorf("beadstore: updating status of %s: %w", id, err)
	}
	return nil
}

// UpdateRetryBudget rewrites an issue's "retry-budget:N" label to reflect
// its remaining budget after a non-terminal failed attempt, the same label
// convention resolveRetryBudget reads back in toIssue.
func (c *CLIClient) UpdateRetryBudget(ctx context.Context, id string, remaining int) error {
	_, err := c.run(ctx, "update", id, "--label", fmt.Sprintf("%s%d", retryBudgetLabelPrefix, remaining))
	if err != nil {
		return fmt.Errorf("beadstore: updating retry budget of %s: %w", id, err)
	}
	return nil
}

func isClaimConflict(text string) bool {
	s := strings.ToLower(text)
	return strings.Contains(s, "already claimed") || strings.Contains(s, "error claiming")
}
