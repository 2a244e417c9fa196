package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cyntra-dev/cyntra/internal/beadstore"
	"github.com/cyntra-dev/cyntra/internal/ids"
	"github.com/cyntra-dev/cyntra/internal/store"
	"github.com/cyntra-dev/cyntra/internal/workcell"
)

// staleAfter is how long a workcell may sit in "running" before the
// Janitor considers it abandoned by a crashed or killed kernel process.
// Execute() calls are synchronous and context-bound, so any row still
// "running" this long after the process that created it is gone has no
// live owner left to finish it.
const staleAfter = 10 * time.Minute

// Janitor recovers workcells left in "running" state by a kernel process
// that crashed or was killed before it could record a proof. Unlike the
// teacher's tmux/PID-based zombie and stuck-dispatch checks, there is no
// detached process or session to probe here: Execute runs synchronously
// inside the dispatching goroutine, so a stale "running" row with no
// corresponding in-memory tracking is by definition orphaned.
type Janitor struct {
	store   *store.Store
	beads   beadstore.Client
	manager *workcell.Manager
	clock   ids.Clock
	logger  *slog.Logger
}

// NewJanitor builds a Janitor. beads may be nil to skip reverting bead
// status (useful for tests or a read-only store).
func NewJanitor(s *store.Store, beads beadstore.Client, manager *workcell.Manager, clock ids.Clock, logger *slog.Logger) *Janitor {
	if clock == nil {
		clock = ids.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{store: s, beads: beads, manager: manager, clock: clock, logger: logger}
}

// Sweep finds workcells stuck in "running" for longer than staleAfter,
// marks them failed, reverts their issue to ready so the scheduler can
// re-dispatch it, and removes the orphaned sandbox. It returns the number
// of workcells recovered. A failure recovering one workcell does not stop
// the sweep over the rest.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	running, err := j.store.ListRunningWorkcells()
	if err != nil {
		return 0, fmt.Errorf("health: janitor: list running workcells: %w", err)
	}

	now := j.clock.Now()
	recovered := 0
	for _, rec := range running {
		if now.Sub(rec.CreatedAt) < staleAfter {
			continue
		}

		j.logger.Warn("health: janitor: recovering stale workcell",
			"workcell_id", rec.WorkcellID, "issue_id", rec.IssueID, "age", now.Sub(rec.CreatedAt))

		if err := j.store.UpdateWorkcellStatus(rec.WorkcellID, "failed"); err != nil {
			j.logger.Error("health: janitor: failed to mark workcell failed", "workcell_id", rec.WorkcellID, "error", err)
			continue
		}

		if j.beads != nil {
			if err := j.beads.UpdateStatus(ctx, rec.IssueID, beadstore.StatusReady, "workcell stale after kernel restart"); err != nil {
				j.logger.Error("health: janitor: failed to revert issue to ready", "issue_id", rec.IssueID, "error", err)
			}
		}

		if j.manager != nil {
			j.manager.Cleanup(&workcell.Workcell{WorkcellID: rec.WorkcellID, IssueID: rec.IssueID, Path: rec.Path}, false)
		}

		recovered++
	}

	return recovered, nil
}
