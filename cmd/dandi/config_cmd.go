package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dandi/dandi-cli-sub000/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage dandi client configuration. Subcommands allow viewing the effective
configuration and writing a starter config file.`,
		Example: `  dandi config show
  dandi config init`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigInitCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the effective configuration in YAML format: defaults, layered
config file values, and environment overrides. The API key is redacted.`,
		Example: `  dandi config show
  dandi config show --config ./dandi.yaml`,
		RunE: configShowRun,
	}
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	// Never print credentials.
	shown := *globalCfg
	if shown.APIKey != "" {
		shown.APIKey = "<redacted>"
	}

	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Print(string(data))
	return nil
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file with the defaults",
		Long: `Write the default configuration to ~/.config/dandi/config.yaml so it can
be edited. Refuses to overwrite an existing file.`,
		Example: `  dandi config init`,
		RunE:    configInitRun,
	}
}

func configInitRun(cmd *cobra.Command, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}
	path := filepath.Join(home, ".config", "dandi", "config.yaml")

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
