package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "max_concurrent_workcells: 5\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.MaxConcurrentWorkcells)
	require.Equal(t, 200000, cfg.MaxConcurrentTokens)
	require.Equal(t, []string{"codex", "claude", "crush"}, cfg.ToolchainPriority)
}

func TestLoadIncludeComposition(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "gates:\n  test_command: pytest\n  timeout_seconds: 100\n")
	mainPath := writeFile(t, dir, "config.yaml", "include: base.yaml\ngates:\n  timeout_seconds: 200\n")

	cfg, err := Load(mainPath)
	require.NoError(t, err)
	require.Equal(t, "pytest", cfg.Gates.TestCommand)
	require.Equal(t, 200, cfg.Gates.TimeoutSeconds)
}

func TestLoadIncludeCycleDetected(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.yaml")
	bPath := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(aPath, []byte("include: b.yaml\n"), 0o644))
	require.NoError(t, os.WriteFile(bPath, []byte("include: a.yaml\n"), 0o644))

	_, err := Load(aPath)
	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle")
}

func TestDurationParsesStringAndInt(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "general:\n  tick_interval: 45s\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 45, int(cfg.General.TickInterval.Seconds()))

	path = writeFile(t, dir, "config-int.yaml", "general:\n  tick_interval: 90\n")
	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, 90, int(cfg.General.TickInterval.Seconds()))
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "max_concurrent_workcells: 3\n")
	t.Setenv("CYNTRA_MAX_CONCURRENT_WORKCELLS", "9")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.MaxConcurrentWorkcells)
}

func TestConfigCloneIsIndependent(t *testing.T) {
	cfg := Defaults()
	cfg.MaxConcurrentWorkcells = 7
	clone := cfg.Clone()
	require.Equal(t, cfg.MaxConcurrentWorkcells, clone.MaxConcurrentWorkcells)
	clone.MaxConcurrentWorkcells = 1
	require.NotEqual(t, cfg.MaxConcurrentWorkcells, clone.MaxConcurrentWorkcells)
}
