// Package controller tracks per-issue exploration state (sampling
// temperature, speculate parallelism) and adjusts it monotonically with
// each run's outcome.
package controller

import (
	"sync"

	"github.com/cyntra-dev/cyntra/internal/config"
)

// Sampling is the resolved {temperature, top_p} pair for a dispatch.
type Sampling struct {
	Temperature float64
	TopP        float64
}

type issueState struct {
	consecutiveFailures int
	temperature         float64
	parallelism         int
}

// Controller is safe for concurrent use; state is keyed by issue ID.
type Controller struct {
	mu    sync.Mutex
	cfg   config.ControlConfig
	state map[string]*issueState
}

func New(cfg config.ControlConfig) *Controller {
	return &Controller{cfg: cfg, state: map[string]*issueState{}}
}

func (c *Controller) get(issueID string) *issueState {
	s, ok := c.state[issueID]
	if !ok {
		s = &issueState{temperature: c.cfg.TemperatureBase, parallelism: 1}
		c.state[issueID] = s
	}
	return s
}

// RecordOutcome folds a run's pass/fail result into the issue's exploration
// state: a clean success relaxes temperature/parallelism back toward
// baseline; a failure pushes both up by one step, bounded by configured
// maxima. The update is monotone in consecutive failure count.
func (c *Controller) RecordOutcome(issueID string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.get(issueID)

	if success {
		s.consecutiveFailures = 0
		s.temperature = stepToward(s.temperature, c.cfg.TemperatureBase, c.cfg.TemperatureStep)
		if s.parallelism > 1 {
			s.parallelism--
		}
		return
	}

	s.consecutiveFailures++
	maxTemp := c.cfg.TemperatureMax
	if maxTemp == 0 {
		maxTemp = c.cfg.TemperatureBase
	}
	s.temperature = clamp(s.temperature+c.cfg.TemperatureStep, c.cfg.TemperatureMin, maxTemp)

	maxParallelism := c.cfg.MaxParallelism
	if maxParallelism == 0 {
		maxParallelism = 1
	}
	if s.parallelism+c.cfg.ParallelismStep <= maxParallelism {
		s.parallelism += c.cfg.ParallelismStep
	} else {
		s.parallelism = maxParallelism
	}
	if s.parallelism < 1 {
		s.parallelism = 1
	}
}

// SpeculateParallelism returns the recommended fan-out for issueID, never
// below defaultParallelism and never above ControlConfig.MaxParallelism.
func (c *Controller) SpeculateParallelism(issueID string, defaultParallelism int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.get(issueID)

	recommended := defaultParallelism
	if s.parallelism > recommended {
		recommended = s.parallelism
	}
	if c.cfg.MaxParallelism > 0 && recommended > c.cfg.MaxParallelism {
		recommended = c.cfg.MaxParallelism
	}
	if recommended < 1 {
		recommended = 1
	}
	return recommended
}

// SamplingFor returns the current {temperature, top_p} for issueID.
func (c *Controller) SamplingFor(issueID string) Sampling {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.get(issueID)
	return Sampling{Temperature: s.temperature, TopP: 0.95}
}

func stepToward(current, target, step float64) float64 {
	if current > target {
		next := current - step
		if next < target {
			return target
		}
		return next
	}
	if current < target {
		next := current + step
		if next > target {
			return target
		}
		return next
	}
	return current
}

func clamp(v, min, max float64) float64 {
	if max > 0 && v > max {
		return max
	}
	if v < min {
		return min
	}
	return v
}
