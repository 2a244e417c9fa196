// Package workcell implements the Workcell Manager: isolated sandboxes
// derived from the repository root, one per dispatched run.
package workcell

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cyntra-dev/cyntra/internal/ids"
)

// Workcell is an isolated working directory derived from the repo root at
// a specific base commit.
type Workcell struct {
	WorkcellID string
	IssueID    string
	Path       string
	BranchName string
	BaseCommit string
	LogsDir    string
	CreatedAt  time.Time
}

// Manager owns all Workcell filesystem state: creation via `git worktree
// add` off the repo root (so independent sandboxes never race each other
// or the root checkout), and cleanup/archival on teardown.
type Manager struct {
	repoRoot     string
	workcellsDir string
	archivesDir  string
	clock        ids.Clock
	logger       *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(repoRoot, workcellsDir, archivesDir string, clock ids.Clock, logger *slog.Logger) *Manager {
	if clock == nil {
		clock = ids.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repoRoot:     repoRoot,
		workcellsDir: workcellsDir,
		archivesDir:  archivesDir,
		clock:        clock,
		logger:       logger.With("component", "workcell"),
		locks:        map[string]*sync.Mutex{},
	}
}

func (m *Manager) lockFor(workcellID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[workcellID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[workcellID] = l
	}
	return l
}

// Create allocates a new sandbox: a git worktree rooted at
// <workcells_dir>/<workcell_id>, checked out onto a fresh branch
// wc/<issue_id>/<workcell_id> from the repo root's current HEAD.
func (m *Manager) Create(issueID, speculateTag string) (*Workcell, error) {
	workcellID, err := ids.NewWorkcellID(issueID, speculateTag)
	if err != nil {
		return nil, fmt.Errorf("workcell: failed to generate id: %w", err)
	}

	lock := m.lockFor(workcellID)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(m.workcellsDir, workcellID)
	branchName := ids.BranchName(issueID, workcellID)

	baseCommit, err := runGit(m.repoRoot, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("workcell: failed to resolve HEAD: %w", err)
	}

	if err := os.MkdirAll(m.workcellsDir, 0o755); err != nil {
		return nil, fmt.Errorf("workcell: failed to create workcells dir: %w", err)
	}

	if _, err := runGit(m.repoRoot, "worktree", "add", "-b", branchName, path, baseCommit); err != nil {
		return nil, fmt.Errorf("workcell: failed to add worktree: %w", err)
	}

	logsDir := filepath.Join(path, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("workcell: failed to create logs dir: %w", err)
	}

	wc := &Workcell{
		WorkcellID: workcellID,
		IssueID:    issueID,
		Path:       path,
		BranchName: branchName,
		BaseCommit: baseCommit,
		LogsDir:    logsDir,
		CreatedAt:  m.clock.Now(),
	}
	m.logger.Info("workcell created", "workcell_id", workcellID, "issue_id", issueID, "branch", branchName)
	return wc, nil
}

// Cleanup tears down a sandbox: removes its git worktree and, unless
// keepLogs is set, deletes the directory outright; when keepLogs is set
// the logs/ subtree is preserved under <archives_dir>/<workcell_id>/
// instead. Failures to remove files are logged, never raised — callers
// must not treat a messy teardown as a run failure.
func (m *Manager) Cleanup(wc *Workcell, keepLogs bool) {
	lock := m.lockFor(wc.WorkcellID)
	lock.Lock()
	defer lock.Unlock()

	if keepLogs {
		archiveDir := filepath.Join(m.archivesDir, wc.WorkcellID)
		if err := os.MkdirAll(archiveDir, 0o755); err != nil {
			m.logger.Warn("workcell cleanup: failed to create archive dir", "workcell_id", wc.WorkcellID, "error", err)
		} else if err := copyTree(wc.LogsDir, archiveDir); err != nil {
			m.logger.Warn("workcell cleanup: failed to archive logs", "workcell_id", wc.WorkcellID, "error", err)
		}
	}

	if _, err := runGit(m.repoRoot, "worktree", "remove", "--force", wc.Path); err != nil {
		m.logger.Warn("workcell cleanup: worktree remove failed, falling back to rm -rf", "workcell_id", wc.WorkcellID, "error", err)
		if err := os.RemoveAll(wc.Path); err != nil {
			m.logger.Warn("workcell cleanup: failed to remove sandbox directory", "workcell_id", wc.WorkcellID, "error", err)
		}
	}

	if _, err := runGit(m.repoRoot, "worktree", "prune"); err != nil {
		m.logger.Warn("workcell cleanup: worktree prune failed", "error", err)
	}
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func copyTree(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := os.MkdirAll(dstPath, 0o755); err != nil {
				return err
			}
			if err := copyTree(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		data, err := os.ReadFile(srcPath)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dstPath, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
