package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/weasel/comparator/internal/config"
)

var validateCmd = &cobra.Command{
	Use:          "validate",
	Short:        "Validate the comparator configuration",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			var missing *config.MissingConfigurationError
			if errors.As(err, &missing) {
				for _, key := range missing.Keys {
					fmt.Fprintf(cmd.ErrOrStderr(), "missing: %s\n", key)
				}
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
		return nil
	},
}

func init() {
	config.BindFlags(validateCmd.Flags())
}

// loadConfig reads and validates the configuration of cmd.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgFile := configFile
	if cfgFile == "" && fileExists(config.DefaultConfigFile) {
		cfgFile = config.DefaultConfigFile
	}

	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, fmt.Errorf("reading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
