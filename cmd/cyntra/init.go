package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cyntra-dev/cyntra/internal/config"
)

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Scaffold .cyntra/ and a default config.yaml in the current repo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(configPath)
		},
	}
}

func runInit(path string) error {
	if _, err := os.Stat(path); err == nil {
		return configErr("config already exists at %s", path)
	}

	root := filepath.Dir(filepath.Dir(path))
	if root == "." || root == "" {
		root = "."
	}

	for _, dir := range []string{
		filepath.Join(root, ".cyntra", "logs"),
		filepath.Join(root, ".cyntra", "archives"),
		filepath.Join(root, ".cyntra", "state"),
		filepath.Join(root, ".cyntra", "runs"),
		filepath.Join(root, ".cyntra", "dynamics"),
		filepath.Join(root, ".workcells"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return configErr("create %s: %w", dir, err)
		}
	}

	cfg := config.Defaults()
	if err := config.Save(path, cfg); err != nil {
		return configErr("write %s: %w", path, err)
	}

	fmt.Printf("cyntra: initialized %s\n", path)
	return nil
}
