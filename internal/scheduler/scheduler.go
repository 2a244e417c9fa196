// Package scheduler implements the admission loop: a pure tick() that
// consults ready issues, in-flight runs, and control state, and returns the
// set of runs the Runner should start next.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/cyntra-dev/cyntra/internal/beadstore"
	"github.com/cyntra-dev/cyntra/internal/config"
	"github.com/cyntra-dev/cyntra/internal/telemetry"
)

// controller is the subset of *controller.Controller the Scheduler needs;
// declared as an interface here to avoid a dependency cycle and to make
// ticks testable without the real bounded-update law.
type controller interface {
	SpeculateParallelism(issueID string, defaultParallelism int) int
}

// Planner is the optional inference collaborator consulted in log/enforce mode.
type Planner interface {
	Predict(ctx context.Context, bundle PlannerBundle) (PlannerPrediction, error)
}

// PlannerBundle is the manifest+history context handed to the planner.
type PlannerBundle struct {
	Issue      beadstore.Issue
	RecentRuns int
}

// PlannerPrediction is the planner's recommended action for an issue.
type PlannerPrediction struct {
	SwarmID       string
	MaxCandidates int
	MaxMinutes    int
	MaxIterations int
	Confidence    float64
}

// InFlightRun describes a currently-running workcell, for budget accounting.
type InFlightRun struct {
	IssueID         string
	EstimatedTokens int
}

// PlannedRun is a single admitted unit of work the Runner should start.
type PlannedRun struct {
	Issue          beadstore.Issue
	Speculate      bool
	Parallelism    int
	PlannedBySwarm *PlannerPrediction
}

const forceSpeculateLabel = "force_speculate"

// Scheduler runs the admission loop.
type Scheduler struct {
	cfgFn      func() *config.Config
	controller controller
	planner    Planner
	telemetry  *telemetry.Writer
	logger     *slog.Logger
}

func New(cfgFn func() *config.Config, ctl controller, planner Planner, tw *telemetry.Writer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cfgFn: cfgFn, controller: ctl, planner: planner, telemetry: tw, logger: logger.With("component", "scheduler")}
}

// Tick is pure given its inputs: it consults ready issues and in-flight
// runs and returns the admitted plan; it never mutates bead-store state or
// starts any work itself.
func (s *Scheduler) Tick(ctx context.Context, ready []beadstore.Issue, inFlight []InFlightRun, now time.Time) []PlannedRun {
	cfg := s.cfgFn()

	inFlightCount := len(inFlight)
	inFlightTokens := 0
	for _, f := range inFlight {
		inFlightTokens += f.EstimatedTokens
	}

	maxWorkcells := cfg.MaxConcurrentWorkcells
	if maxWorkcells <= 0 {
		maxWorkcells = 1
	}
	maxTokens := cfg.MaxConcurrentTokens

	slots := maxWorkcells - inFlightCount
	if slots <= 0 {
		return nil
	}

	runningSet := make(map[string]struct{}, len(inFlight))
	for _, f := range inFlight {
		runningSet[f.IssueID] = struct{}{}
	}

	ranked := rankReady(ready, cfg.StarvationThresholdHours, now)

	var plan []PlannedRun
	budgetTokens := inFlightTokens
	for _, issue := range ranked {
		if len(plan) >= slots {
			break
		}
		if _, already := runningSet[issue.ID]; already {
			continue
		}
		if maxTokens > 0 && budgetTokens+issue.DKEstimatedTokens > maxTokens {
			continue
		}

		run := PlannedRun{Issue: issue}
		run.Speculate, run.Parallelism = s.resolveSpeculation(cfg, issue)

		if cfg.Planner.Mode != "off" && s.planner != nil {
			s.applyPlanner(ctx, cfg, issue, &run)
		}

		plan = append(plan, run)
		budgetTokens += issue.DKEstimatedTokens
	}

	return plan
}

// rankReady orders ready issues by (1) starvation, (2) declared risk
// descending, (3) FIFO by ready_since, ties broken lexicographically by id.
func rankReady(ready []beadstore.Issue, starvationHours float64, now time.Time) []beadstore.Issue {
	out := append([]beadstore.Issue(nil), ready...)
	threshold := time.Duration(starvationHours * float64(time.Hour))

	isStarving := func(i beadstore.Issue) bool {
		return threshold > 0 && !i.ReadySince.IsZero() && now.Sub(i.ReadySince) > threshold
	}

	sort.SliceStable(out, func(a, b int) bool {
		ia, ib := out[a], out[b]

		sa, sb := isStarving(ia), isStarving(ib)
		if sa != sb {
			return sa
		}

		ra, rb := riskRank(ia.RiskLevel), riskRank(ib.RiskLevel)
		if ra != rb {
			return ra < rb
		}

		if !ia.ReadySince.Equal(ib.ReadySince) {
			return ia.ReadySince.Before(ib.ReadySince)
		}

		return ia.ID < ib.ID
	})
	return out
}

func riskRank(r beadstore.RiskLevel) int {
	switch r {
	case beadstore.RiskCritical:
		return 0
	case beadstore.RiskHigh:
		return 1
	case beadstore.RiskMedium:
		return 2
	default:
		return 3
	}
}

// resolveSpeculation decides whether issue runs in speculate mode per §4.7:
// force_speculate label, a matching routing rule with speculate:true,
// auto-trigger on critical-path risk levels, or the Controller recommending
// parallelism > 1.
func (s *Scheduler) resolveSpeculation(cfg *config.Config, issue beadstore.Issue) (bool, int) {
	defaultParallelism := 1
	if cfg.Speculation.Enabled {
		defaultParallelism = cfg.Speculation.DefaultParallelism
		if defaultParallelism < 1 {
			defaultParallelism = 1
		}
	}

	forced := hasLabel(issue.Labels, forceSpeculateLabel)

	ruleSpeculate := false
	rule, ok := matchRoutingRule(cfg.Routing.Rules, issue)
	if ok && rule.Speculate {
		ruleSpeculate = true
		if rule.Parallelism != nil && *rule.Parallelism > defaultParallelism {
			defaultParallelism = *rule.Parallelism
		}
	}

	autoTrigger := cfg.Speculation.AutoTriggerOnCriticalPath && riskIn(issue.RiskLevel, cfg.Speculation.AutoTriggerRiskLevels)

	controllerParallelism := defaultParallelism
	if s.controller != nil {
		controllerParallelism = s.controller.SpeculateParallelism(issue.ID, defaultParallelism)
	}

	speculate := forced || ruleSpeculate || autoTrigger || controllerParallelism > 1
	if !speculate {
		return false, 1
	}

	parallelism := controllerParallelism
	if parallelism < defaultParallelism {
		parallelism = defaultParallelism
	}
	if cfg.Speculation.MaxParallelism > 0 && parallelism > cfg.Speculation.MaxParallelism {
		parallelism = cfg.Speculation.MaxParallelism
	}
	if parallelism < 2 {
		parallelism = 2
	}
	return true, parallelism
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

func riskIn(r beadstore.RiskLevel, list []string) bool {
	for _, v := range list {
		if string(r) == v {
			return true
		}
	}
	return false
}

// matchRoutingRule mirrors the dispatcher's routing resolution for the
// subset of selectors the Scheduler itself needs (speculate/parallelism).
func matchRoutingRule(rules []config.RoutingRule, issue beadstore.Issue) (config.RoutingRule, bool) {
	for _, r := range rules {
		if len(r.Match) == 0 {
			continue
		}
		matched := true
		for key, want := range r.Match {
			switch key {
			case "risk_level":
				if string(issue.RiskLevel) != want {
					matched = false
				}
			case "tag":
				if !hasLabel(issue.Tags, want) {
					matched = false
				}
			case "label":
				if !hasLabel(issue.Labels, want) {
					matched = false
				}
			default:
				matched = false
			}
			if !matched {
				break
			}
		}
		if matched {
			return r, true
		}
	}
	return config.RoutingRule{}, false
}

// applyPlanner consults the planner and, depending on PlannerConfig.Mode,
// either records its prediction to telemetry (log) or lets it override the
// run's defaults when its confidence clears the configured threshold
// (enforce).
func (s *Scheduler) applyPlanner(ctx context.Context, cfg *config.Config, issue beadstore.Issue, run *PlannedRun) {
	prediction, err := s.planner.Predict(ctx, PlannerBundle{Issue: issue})
	if err != nil {
		s.logger.Warn("scheduler: planner prediction failed", "issue_id", issue.ID, "error", err)
		return
	}

	s.emit("planner_prediction", issue.ID, map[string]any{
		"mode":           cfg.Planner.Mode,
		"swarm_id":       prediction.SwarmID,
		"max_candidates": prediction.MaxCandidates,
		"max_minutes":    prediction.MaxMinutes,
		"max_iterations": prediction.MaxIterations,
		"confidence":     prediction.Confidence,
	})

	if cfg.Planner.Mode != "enforce" {
		return
	}
	if prediction.Confidence < cfg.Planner.ConfidenceThreshold {
		return
	}

	run.PlannedBySwarm = &prediction
	if prediction.MaxCandidates > 0 {
		run.Speculate = prediction.MaxCandidates > 1
		run.Parallelism = prediction.MaxCandidates
	}
}

func (s *Scheduler) emit(eventType, issueID string, fields map[string]any) {
	if s.telemetry == nil {
		return
	}
	merged := map[string]any{"issue_id": issueID}
	for k, v := range fields {
		merged[k] = v
	}
	_ = s.telemetry.Emit(eventType, merged)
}
