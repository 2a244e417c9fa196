// Package runner wires every kernel component into the single long-lived
// process: it owns the state database, the bead-store client, the
// Dispatcher/Verifier/Scheduler/Controller chain, the Temporal worker and
// its admission Schedule, the control API, the config-reload watcher, and
// the stale-workcell janitor. Its shape mirrors the teacher's
// cmd/cortex/main.go wiring, generalized into a reusable type so
// cmd/cyntra can both `run` it as a daemon and drive a single `--once` tick
// from the same construction path.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	tclient "go.temporal.io/sdk/client"

	"github.com/cyntra-dev/cyntra/internal/adapter"
	"github.com/cyntra-dev/cyntra/internal/api"
	"github.com/cyntra-dev/cyntra/internal/beadstore"
	"github.com/cyntra-dev/cyntra/internal/config"
	"github.com/cyntra-dev/cyntra/internal/controller"
	"github.com/cyntra-dev/cyntra/internal/coordination"
	"github.com/cyntra-dev/cyntra/internal/dispatcher"
	"github.com/cyntra-dev/cyntra/internal/health"
	"github.com/cyntra-dev/cyntra/internal/hooks"
	"github.com/cyntra-dev/cyntra/internal/ids"
	"github.com/cyntra-dev/cyntra/internal/kernelflow"
	"github.com/cyntra-dev/cyntra/internal/metrics"
	"github.com/cyntra-dev/cyntra/internal/scheduler"
	"github.com/cyntra-dev/cyntra/internal/store"
	"github.com/cyntra-dev/cyntra/internal/telemetry"
	"github.com/cyntra-dev/cyntra/internal/verifier"
	"github.com/cyntra-dev/cyntra/internal/watch"
	"github.com/cyntra-dev/cyntra/internal/workcell"
)

const (
	scheduleID    = "cyntra-scheduler"
	scheduleQueue = "cyntra-kernel-queue"
	janitorPeriod = 5 * time.Minute
)

// Runner owns every long-lived component of a kernel process.
type Runner struct {
	cfgManager config.Manager
	configPath string

	store      *store.Store
	beads      beadstore.Client
	workcells  *workcell.Manager
	registry   *adapter.Registry
	dispatcher *dispatcher.Dispatcher
	verifier   *verifier.Verifier
	controller *controller.Controller
	scheduler  *scheduler.Scheduler
	telemetry  *telemetry.Writer
	metrics    *metrics.Metrics
	lock       coordination.Locker
	janitor    *health.Janitor
	apiServer  *api.Server
	watcher    *watch.Watcher

	temporalClient tclient.Client
	scheduleHandle tclient.ScheduleHandle

	logger   *slog.Logger
	lockFile *os.File
	paused   atomic.Bool

	watchTick bool
}

var _ interface {
	Pause()
	Resume()
	Paused() bool
} = (*Runner)(nil)

// New builds every kernel component from cfgManager's current snapshot.
// It does not acquire the single-instance lock or start anything; call
// Run for that.
func New(cfgManager config.Manager, configPath string, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := cfgManager.Get()

	dbPath := config.ExpandHome(cfg.General.StateDB)
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("runner: open store: %w", err)
	}

	beadsDir := config.ExpandHome(cfg.General.BeadsDir)
	beads := beadstore.NewCLIClient(beadsDir, cfg.General.MaxRetries)

	clock := ids.SystemClock{}
	workcellsDir := config.ExpandHome(cfg.General.WorkcellsDir)
	archivesDir := config.ExpandHome(cfg.General.ArchivesDir)
	workcells := workcell.New(cfg.RepoRoot, workcellsDir, archivesDir, clock, logger.With("component", "workcell"))

	registry := buildRegistry(cfg)

	hookRegistry := hooks.NewRegistry()
	hookRunner := hooks.NewRunner(hookRegistry)

	telemetryPath := config.ExpandHome(cfg.General.TelemetryPath)
	if err := os.MkdirAll(filepath.Dir(telemetryPath), 0o755); err != nil {
		st.Close()
		return nil, fmt.Errorf("runner: create telemetry dir: %w", err)
	}
	tw, err := telemetry.Open(telemetryPath, "", nil, telemetry.Event{})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("runner: open telemetry: %w", err)
	}

	cfgFn := cfgManager.Get
	disp := dispatcher.New(registry, hookRunner, tw, cfgFn)
	ver := verifier.New(verifier.Config{
		TimeoutSeconds: cfg.Gates.TimeoutSeconds,
		RetryFlaky:     cfg.Gates.RetryFlaky,
	}, hookRunner)
	ctl := controller.New(cfg.Control)
	sched := scheduler.New(cfgFn, ctl, nil, tw, logger.With("component", "scheduler"))

	m := metrics.New()

	lockName := "scheduler-leader"
	instanceID := instanceIdentity()
	lock := coordination.New(nil, st, lockName, instanceID, 30*time.Second, logger.With("component", "coordination"))

	janitor := health.NewJanitor(st, beads, workcells, clock, logger.With("component", "health"))

	r := &Runner{
		cfgManager: cfgManager,
		configPath: configPath,
		store:      st,
		beads:      beads,
		workcells:  workcells,
		registry:   registry,
		dispatcher: disp,
		verifier:   ver,
		controller: ctl,
		scheduler:  sched,
		telemetry:  tw,
		metrics:    m,
		lock:       lock,
		janitor:    janitor,
		logger:     logger,
	}

	apiSrv, err := api.NewServer(cfg, st, m, r, logger.With("component", "api"))
	if err != nil {
		tw.Close()
		st.Close()
		return nil, fmt.Errorf("runner: build api server: %w", err)
	}
	r.apiServer = apiSrv

	return r, nil
}

func buildRegistry(cfg *config.Config) *adapter.Registry {
	registry := adapter.NewRegistry()
	for name, tc := range cfg.Toolchains {
		if !tc.Enabled {
			continue
		}
		switch name {
		case "claude":
			registry.Register(adapter.NewClaudeAdapter(tc.Path))
		case "codex":
			registry.Register(adapter.NewCodexAdapter(tc.Path))
		case "crush":
			registry.Register(adapter.NewCrushAdapter(tc.Path))
		}
	}
	return registry
}

func instanceIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}

// EnableWatchTick makes the bead-store watcher started by Run trigger an
// immediate scheduler tick on every change, instead of only logging it and
// waiting for the next Schedule-driven tick. Used by `cyntra run --watch`.
func (r *Runner) EnableWatchTick() {
	r.watchTick = true
}

// startEphemeralWorker starts a worker on the kernel task queue scoped to
// the lifetime of a single CLI-driven workflow execution (RunOnce, RunIssue,
// RunSpeculate), rather than the process lifetime. It is safe to run
// alongside an already-running daemon worker on the same task queue.
func (r *Runner) startEphemeralWorker() (func(), error) {
	cfg := r.cfgManager.Get()
	w, c, err := kernelflow.StartWorkerAsync(cfg.General.TemporalHost, kernelflow.Deps{
		Workcells:  r.workcells,
		Dispatcher: r.dispatcher,
		Verifier:   r.verifier,
		Scheduler:  r.scheduler,
		Beads:      r.beads,
		Store:      r.store,
	})
	if err != nil {
		return nil, err
	}
	r.temporalClient = c
	return func() {
		w.Stop()
		c.Close()
	}, nil
}

// RunOnce acquires the single-instance lock, runs exactly one scheduler
// tick via a directly-started Temporal workflow execution, waits for it to
// finish, and returns. Used by `cyntra run --once`.
func (r *Runner) RunOnce(ctx context.Context) error {
	if err := r.acquireLock(); err != nil {
		return err
	}
	defer r.releaseLock()

	stop, err := r.startEphemeralWorker()
	if err != nil {
		return err
	}
	defer stop()

	we, err := r.temporalClient.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:        "cyntra-once-" + strconv.FormatInt(time.Now().UnixNano(), 10),
		TaskQueue: scheduleQueue,
	}, kernelflow.SchedulerWorkflow, struct{}{})
	if err != nil {
		return fmt.Errorf("runner: start once-tick workflow: %w", err)
	}
	if err := we.Get(ctx, nil); err != nil {
		return fmt.Errorf("runner: once-tick workflow failed: %w", err)
	}
	return nil
}

// RunIssue drives a single issue's IssueWorkflow (optionally as a speculate
// group) to completion outside the normal admission schedule. Used by
// `cyntra run --issue ID [--speculate]`.
func (r *Runner) RunIssue(ctx context.Context, issueID string, speculate bool, parallelism int) error {
	if err := r.acquireLock(); err != nil {
		return err
	}
	defer r.releaseLock()

	stop, err := r.startEphemeralWorker()
	if err != nil {
		return err
	}
	defer stop()

	id := "cyntra-issue-" + issueID + "-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	opts := tclient.StartWorkflowOptions{ID: id, TaskQueue: scheduleQueue}

	var we tclient.WorkflowRun
	if speculate {
		if parallelism <= 0 {
			parallelism = r.cfgManager.Get().Speculation.DefaultParallelism
		}
		we, err = r.temporalClient.ExecuteWorkflow(ctx, opts, kernelflow.SpeculateWorkflow, kernelflow.SpeculateRequest{
			IssueID:     issueID,
			Parallelism: parallelism,
		})
	} else {
		we, err = r.temporalClient.ExecuteWorkflow(ctx, opts, kernelflow.IssueWorkflow, kernelflow.RunRequest{
			IssueID: issueID,
		})
	}
	if err != nil {
		return fmt.Errorf("runner: start issue workflow: %w", err)
	}
	if err := we.Get(ctx, nil); err != nil {
		return fmt.Errorf("runner: issue workflow failed: %w", err)
	}
	return nil
}

// triggerTick starts a fire-and-forget SchedulerWorkflow execution, used by
// the bead-store watcher when watch-triggered ticking is enabled.
func (r *Runner) triggerTick(ctx context.Context) {
	if r.temporalClient == nil {
		return
	}
	_, err := r.temporalClient.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:        "cyntra-watch-tick-" + strconv.FormatInt(time.Now().UnixNano(), 10),
		TaskQueue: scheduleQueue,
	}, kernelflow.SchedulerWorkflow, struct{}{})
	if err != nil {
		r.logger.Warn("runner: watch-triggered tick failed to start", "error", err)
	}
}

// Run starts the daemon: the single-instance lock, the Temporal worker,
// the admission Schedule, the control API, the config/bead watcher, and
// the periodic stale-workcell janitor. It blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.acquireLock(); err != nil {
		return err
	}
	defer r.releaseLock()

	if err := r.dialTemporal(); err != nil {
		return err
	}
	defer r.temporalClient.Close()

	if err := r.ensureSchedule(ctx); err != nil {
		r.logger.Error("runner: failed to ensure scheduler schedule", "error", err)
	}

	cfg := r.cfgManager.Get()

	go func() {
		r.logger.Info("runner: starting temporal worker")
		if err := kernelflow.StartWorker(cfg.General.TemporalHost, kernelflow.Deps{
			Workcells:  r.workcells,
			Dispatcher: r.dispatcher,
			Verifier:   r.verifier,
			Scheduler:  r.scheduler,
			Beads:      r.beads,
			Store:      r.store,
		}); err != nil {
			r.logger.Error("runner: temporal worker stopped", "error", err)
		}
	}()

	go func() {
		if err := r.apiServer.Start(ctx); err != nil {
			r.logger.Error("runner: api server stopped", "error", err)
		}
	}()

	watcher, err := watch.New(
		config.ExpandHome(cfg.General.BeadsDir),
		r.configPath,
		func() {
			r.logger.Debug("runner: beads changed")
			if r.watchTick {
				go r.triggerTick(ctx)
			}
		},
		func() { r.handleConfigChanged() },
		r.logger.With("component", "watch"),
	)
	if err != nil {
		r.logger.Warn("runner: failed to start bead/config watcher", "error", err)
	} else {
		r.watcher = watcher
		go func() {
			if err := watcher.Run(ctx); err != nil {
				r.logger.Warn("runner: watcher stopped", "error", err)
			}
		}()
	}

	go r.runJanitorLoop(ctx)

	r.logger.Info("runner: cyntra kernel running",
		"bind", cfg.API.Bind,
		"tick_interval", cfg.General.TickInterval.Duration.String(),
	)

	<-ctx.Done()
	r.logger.Info("runner: shutting down")
	if r.watcher != nil {
		r.watcher.Close()
	}
	r.apiServer.Close()
	r.telemetry.Close()
	r.store.Close()
	return nil
}

func (r *Runner) runJanitorLoop(ctx context.Context) {
	ticker := time.NewTicker(janitorPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recovered, err := r.janitor.Sweep(ctx)
			if err != nil {
				r.logger.Error("runner: janitor sweep failed", "error", err)
				continue
			}
			if recovered > 0 {
				r.logger.Warn("runner: janitor recovered stale workcells", "count", recovered)
			}
		}
	}
}

func (r *Runner) handleConfigChanged() {
	if err := r.cfgManager.Reload(r.configPath); err != nil {
		r.logger.Error("runner: config reload failed", "error", err)
		return
	}
	r.logger.Info("runner: config reloaded")
}

func (r *Runner) acquireLock() error {
	cfg := r.cfgManager.Get()
	lockPath := config.ExpandHome(cfg.General.LockFile)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("runner: create lock dir: %w", err)
	}
	f, err := health.AcquireFlock(lockPath)
	if err != nil {
		return err
	}
	r.lockFile = f
	return nil
}

func (r *Runner) releaseLock() {
	health.ReleaseFlock(r.lockFile)
}

func (r *Runner) dialTemporal() error {
	cfg := r.cfgManager.Get()
	c, err := tclient.Dial(tclient.Options{HostPort: cfg.General.TemporalHost})
	if err != nil {
		return fmt.Errorf("runner: dial temporal: %w", err)
	}
	r.temporalClient = c
	return nil
}

// ensureSchedule creates the recurring Schedule that drives SchedulerWorkflow
// every tick_interval, matching the teacher's chum scheduler-replacement
// pattern (Schedule.Create, tolerate AlreadyExists on restart).
func (r *Runner) ensureSchedule(ctx context.Context) error {
	cfg := r.cfgManager.Get()
	tickInterval := cfg.General.TickInterval.Duration
	if tickInterval <= 0 {
		tickInterval = 30 * time.Second
	}

	schedClient := r.temporalClient.ScheduleClient()
	handle, err := schedClient.Create(ctx, tclient.ScheduleOptions{
		ID: scheduleID,
		Spec: tclient.ScheduleSpec{
			Intervals: []tclient.ScheduleIntervalSpec{{Every: tickInterval}},
		},
		Action: &tclient.ScheduleWorkflowAction{
			Workflow:  kernelflow.SchedulerWorkflow,
			Args:      []interface{}{struct{}{}},
			TaskQueue: scheduleQueue,
			ID:        "scheduler-tick",
		},
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
	})
	if err != nil {
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &already) || strings.Contains(err.Error(), "already") {
			r.logger.Info("runner: scheduler schedule already exists", "interval", tickInterval.String())
			r.scheduleHandle = schedClient.GetHandle(ctx, scheduleID)
			return nil
		}
		return fmt.Errorf("runner: create schedule: %w", err)
	}

	r.scheduleHandle = handle
	r.logger.Info("runner: scheduler schedule registered", "interval", tickInterval.String())
	return nil
}

// Pause stops admitting new work: the Temporal Schedule driving
// SchedulerWorkflow is paused so no further ticks fire, in-flight
// workflows are left to finish on their own.
func (r *Runner) Pause() {
	r.paused.Store(true)
	if r.scheduleHandle == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.scheduleHandle.Pause(ctx, tclient.SchedulePauseOptions{Note: "paused via control API"}); err != nil {
		r.logger.Warn("runner: failed to pause schedule", "error", err)
	}
}

// Resume re-enables admission.
func (r *Runner) Resume() {
	r.paused.Store(false)
	if r.scheduleHandle == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.scheduleHandle.Unpause(ctx, tclient.ScheduleUnpauseOptions{Note: "resumed via control API"}); err != nil {
		r.logger.Warn("runner: failed to resume schedule", "error", err)
	}
}

// Paused reports the last-known local pause state.
func (r *Runner) Paused() bool {
	return r.paused.Load()
}
