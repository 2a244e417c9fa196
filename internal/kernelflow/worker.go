package kernelflow

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/cyntra-dev/cyntra/internal/beadstore"
	"github.com/cyntra-dev/cyntra/internal/dispatcher"
	"github.com/cyntra-dev/cyntra/internal/scheduler"
	"github.com/cyntra-dev/cyntra/internal/store"
	"github.com/cyntra-dev/cyntra/internal/verifier"
	"github.com/cyntra-dev/cyntra/internal/workcell"
)

// Deps bundles the Activities dependencies the worker needs to construct.
type Deps struct {
	Workcells  *workcell.Manager
	Dispatcher *dispatcher.Dispatcher
	Verifier   *verifier.Verifier
	Scheduler  *scheduler.Scheduler
	Beads      beadstore.Client
	Store      *store.Store
}

// StartWorker connects to Temporal and runs the kernel's task queue worker,
// registering every workflow and activity this package defines. Mirrors the
// teacher's single-process worker-registration shape (one client.Dial, one
// worker.New, explicit RegisterWorkflow/RegisterActivity calls grouped by
// concern) rather than a reflection-based auto-registration scheme.
func StartWorker(hostPort string, deps Deps) error {
	c, err := client.Dial(client.Options{HostPort: hostPort})
	if err != nil {
		return fmt.Errorf("kernelflow: dial temporal: %w", err)
	}
	defer c.Close()

	w := worker.New(c, taskQueue, worker.Options{})

	acts := &Activities{
		Workcells:  deps.Workcells,
		Dispatcher: deps.Dispatcher,
		Verifier:   deps.Verifier,
		Scheduler:  deps.Scheduler,
		Beads:      deps.Beads,
		Store:      deps.Store,
	}

	w.RegisterWorkflow(IssueWorkflow)
	w.RegisterWorkflow(SpeculateWorkflow)
	w.RegisterWorkflow(SchedulerWorkflow)

	w.RegisterActivity(acts.CreateWorkcellActivity)
	w.RegisterActivity(acts.LoadIssueActivity)
	w.RegisterActivity(acts.DispatchActivity)
	w.RegisterActivity(acts.VerifyActivity)
	w.RegisterActivity(acts.VoteActivity)
	w.RegisterActivity(acts.RecordActivity)
	w.RegisterActivity(acts.CleanupActivity)
	w.RegisterActivity(acts.TickActivity)
	w.RegisterActivity(acts.ListInFlightActivity)

	return w.Run(worker.InterruptCh())
}

// StartWorkerAsync dials Temporal and starts a non-blocking worker on the
// same task queue, for callers that need to drive a single workflow
// execution to completion themselves (e.g. `cyntra run --once`) and stop
// the worker afterward rather than running it for the process lifetime.
func StartWorkerAsync(hostPort string, deps Deps) (worker.Worker, client.Client, error) {
	c, err := client.Dial(client.Options{HostPort: hostPort})
	if err != nil {
		return nil, nil, fmt.Errorf("kernelflow: dial temporal: %w", err)
	}

	w := worker.New(c, taskQueue, worker.Options{})

	acts := &Activities{
		Workcells:  deps.Workcells,
		Dispatcher: deps.Dispatcher,
		Verifier:   deps.Verifier,
		Scheduler:  deps.Scheduler,
		Beads:      deps.Beads,
		Store:      deps.Store,
	}

	w.RegisterWorkflow(IssueWorkflow)
	w.RegisterWorkflow(SpeculateWorkflow)
	w.RegisterWorkflow(SchedulerWorkflow)

	w.RegisterActivity(acts.CreateWorkcellActivity)
	w.RegisterActivity(acts.LoadIssueActivity)
	w.RegisterActivity(acts.DispatchActivity)
	w.RegisterActivity(acts.VerifyActivity)
	w.RegisterActivity(acts.VoteActivity)
	w.RegisterActivity(acts.RecordActivity)
	w.RegisterActivity(acts.CleanupActivity)
	w.RegisterActivity(acts.TickActivity)
	w.RegisterActivity(acts.ListInFlightActivity)

	if err := w.Start(); err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("kernelflow: start worker: %w", err)
	}

	return w, c, nil
}
