package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tinypng/internal/config"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the tinypng configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := targetConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat config: %w", err)
		}
		if err := config.CreateSample(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample config to %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, exists, err := loadConfig()
		if err != nil {
			return err
		}
		source := path
		if !exists {
			source = path + " (not found, using defaults)"
		}

		keyStatus := "missing"
		if _, ok := cfg.APIKey(); ok {
			keyStatus = "set"
			if strings.TrimSpace(os.Getenv("TINYPNG_API_KEY")) != "" {
				keyStatus = "set (TINYPNG_API_KEY)"
			}
		}
		masked := cfg.MaskedAPIKey()
		if masked != "" {
			keyStatus += " " + masked
		}

		rows := [][]string{
			{"config file", source},
			{"api_key", keyStatus},
			{"max_concurrent", strconv.Itoa(cfg.MaxConcurrent())},
			{"endpoint", cfg.Endpoint},
			{"request_timeout", cfg.RequestTimeoutDuration().String()},
			{"logging.format", cfg.Logging.Format},
			{"logging.level", cfg.Logging.Level},
			{"logging.file", cfg.Logging.File},
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Setting", "Value"}, rows, nil))
		return nil
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key <api-key>",
	Short: "Store the TinyPNG API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateConfig(cmd, func(cfg *config.Config) error {
			return cfg.SetAPIKey(args[0])
		})
	},
}

var configSetConcurrencyCmd = &cobra.Command{
	Use:   "set-concurrency <n>",
	Short: "Store the number of images processed at once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("max_concurrent: %q is not a number", args[0])
		}
		return updateConfig(cmd, func(cfg *config.Config) error {
			return cfg.SetMaxConcurrent(n)
		})
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, path, _, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func updateConfig(cmd *cobra.Command, mutate func(*config.Config) error) error {
	cfg, path, _, err := loadConfig()
	if err != nil {
		return err
	}
	if err := mutate(cfg); err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", path)
	return nil
}

func targetConfigPath() (string, error) {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configShowCmd, configSetKeyCmd, configSetConcurrencyCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}
