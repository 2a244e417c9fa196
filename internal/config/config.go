// Package config loads and hot-reloads the kernel's config.yaml tree.
package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration so it can be expressed in config.yaml as a
// plain string ("30s", "2m", "1h") while still marshaling back the same way.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", v, err)
		}
		d.Duration = parsed
	case int:
		d.Duration = time.Duration(v) * time.Second
	default:
		return fmt.Errorf("config: duration must be a string or integer seconds, got %T", raw)
	}
	return nil
}

// Config is the closed, exhaustively-fielded root of config.yaml.
type Config struct {
	Include                  []string                `yaml:"include,omitempty"`
	MaxConcurrentWorkcells   int                      `yaml:"max_concurrent_workcells"`
	MaxConcurrentTokens      int                      `yaml:"max_concurrent_tokens"`
	StarvationThresholdHours float64                  `yaml:"starvation_threshold_hours"`
	ToolchainPriority        []string                 `yaml:"toolchain_priority"`
	Toolchains               map[string]ToolchainCfg  `yaml:"toolchains"`
	Gates                    GatesConfig              `yaml:"gates"`
	Speculation              SpeculationConfig        `yaml:"speculation"`
	Routing                  RoutingConfig            `yaml:"routing"`
	Control                  ControlConfig            `yaml:"control"`
	Planner                  PlannerConfig            `yaml:"planner"`
	PostExecutionHooks       PostExecutionHooksCfg    `yaml:"post_execution_hooks"`
	General                  GeneralConfig            `yaml:"general"`
	API                      APIConfig                `yaml:"api"`
	RepoRoot                 string                   `yaml:"repo_root,omitempty"`
}

// GeneralConfig holds ambient kernel-process settings not part of the
// distilled §6 schema but required for a complete ambient stack
// (logging level, tick interval, state DB path).
type GeneralConfig struct {
	LogLevel      string   `yaml:"log_level"`
	TickInterval  Duration `yaml:"tick_interval"`
	StateDB       string   `yaml:"state_db"`
	MaxRetries    int      `yaml:"max_retries"`
	LockFile      string   `yaml:"lock_file"`
	BeadsDir      string   `yaml:"beads_dir"`
	WorkcellsDir  string   `yaml:"workcells_dir"`
	ArchivesDir   string   `yaml:"archives_dir"`
	TelemetryPath string   `yaml:"telemetry_path"`
	TemporalHost  string   `yaml:"temporal_host"`
}

// APIConfig configures the control API server.
type APIConfig struct {
	Bind     string      `yaml:"bind"`
	Security APISecurity `yaml:"security"`
}

// APISecurity gates the control API's write endpoints behind a bearer JWT.
type APISecurity struct {
	Enabled          bool   `yaml:"enabled"`
	JWTSecret        string `yaml:"jwt_secret"`
	RequireLocalOnly bool   `yaml:"require_local_only"`
	AuditLog         string `yaml:"audit_log"`
}

type ToolchainCfg struct {
	Enabled        bool              `yaml:"enabled"`
	Path           string            `yaml:"path"`
	Model          string            `yaml:"model"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	MaxTokens      int               `yaml:"max_tokens"`
	Env            map[string]string `yaml:"env"`
	Extra          map[string]any    `yaml:"config"`
}

type GatesConfig struct {
	TestCommand      string `yaml:"test_command"`
	TypecheckCommand string `yaml:"typecheck_command"`
	LintCommand      string `yaml:"lint_command"`
	BuildCommand     string `yaml:"build_command"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	RetryFlaky       int    `yaml:"retry_flaky"`
}

type SpeculationConfig struct {
	Enabled                   bool     `yaml:"enabled"`
	DefaultParallelism        int      `yaml:"default_parallelism"`
	MaxParallelism            int      `yaml:"max_parallelism"`
	VoteThreshold             float64  `yaml:"vote_threshold"`
	AutoTriggerOnCriticalPath bool     `yaml:"auto_trigger_on_critical_path"`
	AutoTriggerRiskLevels     []string `yaml:"auto_trigger_risk_levels"`
}

type RoutingRule struct {
	Match       map[string]string `yaml:"match"`
	Use         []string          `yaml:"use"`
	Speculate   bool              `yaml:"speculate"`
	Parallelism *int              `yaml:"parallelism"`
}

type RoutingConfig struct {
	Rules     []RoutingRule       `yaml:"rules"`
	Fallbacks map[string][]string `yaml:"fallbacks"`
}

type ControlConfig struct {
	ActionLow       float64 `yaml:"action_low"`
	ActionHigh      float64 `yaml:"action_high"`
	TemperatureBase float64 `yaml:"temperature_base"`
	TemperatureMin  float64 `yaml:"temperature_min"`
	TemperatureMax  float64 `yaml:"temperature_max"`
	TemperatureStep float64 `yaml:"temperature_step"`
	ParallelismStep int     `yaml:"parallelism_step"`
	MaxParallelism  int     `yaml:"max_parallelism"`
}

type PlannerConfig struct {
	Mode                string  `yaml:"mode"`
	BundleDir           string  `yaml:"bundle_dir"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

type HookToggle struct {
	Enabled        bool `yaml:"enabled"`
	TimeoutSeconds int  `yaml:"timeout_seconds"`
}

type PostExecutionHooksCfg struct {
	Enabled         bool       `yaml:"enabled"`
	TimeoutSeconds  int        `yaml:"timeout_seconds"`
	CodeReviewer    HookToggle `yaml:"code_reviewer"`
	DebugSpecialist HookToggle `yaml:"debug_specialist"`
}

// Defaults returns the config tree with every default named in spec §6.
func Defaults() *Config {
	return &Config{
		MaxConcurrentWorkcells:   3,
		MaxConcurrentTokens:      200000,
		StarvationThresholdHours: 4.0,
		ToolchainPriority:        []string{"codex", "claude", "crush"},
		Toolchains:               map[string]ToolchainCfg{},
		Gates: GatesConfig{
			TestCommand:      "pytest",
			TypecheckCommand: "mypy .",
			LintCommand:      "ruff check .",
			TimeoutSeconds:   300,
			RetryFlaky:       2,
		},
		Speculation: SpeculationConfig{
			Enabled:                   true,
			DefaultParallelism:        2,
			MaxParallelism:            3,
			VoteThreshold:             0.7,
			AutoTriggerOnCriticalPath: true,
			AutoTriggerRiskLevels:     []string{"high", "critical"},
		},
		Control: ControlConfig{
			ActionLow:       0.0,
			ActionHigh:      1.0,
			TemperatureBase: 0.2,
			TemperatureMin:  0.0,
			TemperatureMax:  1.0,
			TemperatureStep: 0.1,
			ParallelismStep: 1,
			MaxParallelism:  3,
		},
		Planner: PlannerConfig{
			Mode:                "off",
			ConfidenceThreshold: 0.2,
		},
		General: GeneralConfig{
			LogLevel:      "info",
			TickInterval:  Duration{30 * time.Second},
			StateDB:       ".cyntra/dynamics/cyntra.db",
			MaxRetries:    3,
			LockFile:      ".cyntra/state/cyntra.lock",
			BeadsDir:      ".beads",
			WorkcellsDir:  ".workcells",
			ArchivesDir:   ".cyntra/archives",
			TelemetryPath: ".cyntra/dynamics/telemetry.jsonl",
			TemporalHost:  "127.0.0.1:7233",
		},
		API: APIConfig{
			Bind: "127.0.0.1:8787",
		},
	}
}

// Clone returns a deep-enough copy of c safe to hand to a reader while the
// original is mutated by a concurrent Set/Reload. Mirrors the teacher's
// RWMutexManager clone-on-read/write discipline.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Include = append([]string(nil), c.Include...)
	clone.ToolchainPriority = append([]string(nil), c.ToolchainPriority...)
	clone.Toolchains = make(map[string]ToolchainCfg, len(c.Toolchains))
	for k, v := range c.Toolchains {
		tc := v
		tc.Env = cloneStringMap(v.Env)
		tc.Extra = cloneAnyMap(v.Extra)
		clone.Toolchains[k] = tc
	}
	clone.Speculation.AutoTriggerRiskLevels = append([]string(nil), c.Speculation.AutoTriggerRiskLevels...)
	clone.Routing.Rules = append([]RoutingRule(nil), c.Routing.Rules...)
	clone.Routing.Fallbacks = make(map[string][]string, len(c.Routing.Fallbacks))
	for k, v := range c.Routing.Fallbacks {
		clone.Routing.Fallbacks[k] = append([]string(nil), v...)
	}
	return &clone
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
