package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"tinypng/internal/config"
	"tinypng/internal/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "tinypng",
	Short:         "tinypng - compress PNG, JPEG and WebP images in place",
	Long:          "tinypng uploads images to the TinyPNG API with bounded concurrency and replaces each file with its compressed result.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/tinypng/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

func loadConfig() (*config.Config, string, bool, error) {
	cfg, path, exists, err := config.Load(configPath)
	if err != nil {
		return nil, "", false, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, path, exists, nil
}

// newLogger builds the process logger. While the progress view owns the
// terminal, logs go to logging.file or nowhere.
func newLogger(cfg *config.Config, interactive bool) (*slog.Logger, io.Closer, error) {
	opts := logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	switch {
	case cfg.Logging.File != "":
		opts.Path = cfg.Logging.File
	case interactive:
		opts.Output = io.Discard
	default:
		opts.Output = os.Stderr
	}
	return logging.New(opts)
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
