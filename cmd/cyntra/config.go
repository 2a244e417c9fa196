package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cyntra-dev/cyntra/internal/config"
)

// newConfigCommand replaces the teacher's ad hoc --disable-anthropic and
// --set-tick-interval maintenance flags with cobra subcommands that rewrite
// config.yaml in place.
func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit config.yaml",
	}
	cmd.AddCommand(newConfigSetCommand())
	cmd.AddCommand(newConfigDisableToolchainCommand())
	return cmd
}

func newConfigSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a single config.yaml scalar by its dotted key, e.g. general.tick_interval 1m",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := config.SetPath(cfg, args[0], args[1]); err != nil {
				return usageErr("%v", err)
			}
			if err := config.Save(configPath, cfg); err != nil {
				return configErr("save %s: %w", configPath, err)
			}
			fmt.Printf("cyntra: set %s = %s\n", args[0], args[1])
			return nil
		},
	}
}

func newConfigDisableToolchainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disable-toolchain NAME",
		Short: "Disable a toolchain adapter (claude, codex, crush, ...)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			name := args[0]
			tc := cfg.Toolchains[name]
			tc.Enabled = false
			if cfg.Toolchains == nil {
				cfg.Toolchains = map[string]config.ToolchainCfg{}
			}
			cfg.Toolchains[name] = tc
			if err := config.Save(configPath, cfg); err != nil {
				return configErr("save %s: %w", configPath, err)
			}
			fmt.Printf("cyntra: disabled toolchain %s\n", name)
			return nil
		},
	}
}
