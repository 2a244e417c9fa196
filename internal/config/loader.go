package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cyntra-dev/cyntra/internal/mergeutil"
)

// Load reads path, resolves include: composition (deep-merging later files
// over earlier ones), and decodes the merged document into a Config
// layered over Defaults(). Cycles in include chains are an error.
func Load(path string) (*Config, error) {
	merged, err := loadIncludeTree(path, map[string]bool{})
	if err != nil {
		return nil, err
	}

	raw, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("config: failed to re-marshal merged document: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to decode %s: %w", path, err)
	}

	abs, err := filepath.Abs(filepath.Dir(path))
	if err == nil {
		cfg.RepoRoot = abs
	}

	ApplyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
// It does not attempt to preserve include: composition or comments in an
// existing file — `cyntra config set`/`disable-toolchain` always rewrite
// the single target file in full.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir for %s: %w", path, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// loadIncludeTree loads path as a raw YAML map, recursively resolving its
// include: directive (string or list of relative paths) before deep-merging
// the current file's own keys on top, and detects include cycles via seen.
func loadIncludeTree(path string, seen map[string]bool) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to resolve path %s: %w", path, err)
	}
	if seen[abs] {
		return nil, fmt.Errorf("config: include cycle detected at %s", abs)
	}
	seen[abs] = true

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", abs, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", abs, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	includes := extractIncludes(doc["include"])
	delete(doc, "include")

	merged := map[string]any{}
	dir := filepath.Dir(abs)
	for _, inc := range includes {
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(dir, incPath)
		}
		// Each include is resolved against its own copy of seen so that
		// sibling includes (not mutual cycles) can share a common base file.
		childSeen := make(map[string]bool, len(seen))
		for k, v := range seen {
			childSeen[k] = v
		}
		childDoc, err := loadIncludeTree(incPath, childSeen)
		if err != nil {
			return nil, err
		}
		merged = mergeutil.DeepMerge(merged, childDoc)
	}

	return mergeutil.DeepMerge(merged, doc), nil
}

func extractIncludes(raw any) []string {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
