package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleserial/pkg/config"
	"github.com/srg/bleserial/pkg/serial"
)

// loadConfig reads the config file named by --config (or the default
// location) and applies --profile.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	name, _ := cmd.Flags().GetString("profile")
	if name == "" {
		return cfg, nil
	}
	for _, p := range cfg.Profiles {
		if p.Name == name {
			cfg.Profiles = []serial.Profile{p}
			return cfg, nil
		}
	}
	p, ok := serial.LookupProfile(name)
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	cfg.Profiles = []serial.Profile{p}
	return cfg, nil
}

// configureLogger creates a logger at the config's level. --log-level, when
// set, takes precedence. Logs go to stderr so they never mix with stream data
// on stdout.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		switch lvl {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = lvl
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", lvl)
		}
	}

	return cfg.NewLogger(), nil
}

// setup is the common prologue of every command.
func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true
	return cfg, logger, nil
}
