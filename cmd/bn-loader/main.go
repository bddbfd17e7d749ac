package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/schaermu/bnloader/internal/backup"
	"github.com/schaermu/bnloader/internal/config"
	"github.com/schaermu/bnloader/internal/render"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	colorMode string
	listFlag  bool
)

// errAborted is returned when the user declines a confirmation prompt.
var errAborted = errors.New("aborted")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errAborted) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bn-loader",
	Short: "Manage Binary Ninja profiles and keep their user data in sync",
	Long: `bn-loader manages several Binary Ninja installations ("profiles"), each with
its own user-data directory.

It copies plugins, themes, snippets, type libraries and settings from one profile
to others, protects license and identity files with an exclusion list, backs up
every destination before changing it, and compares the data of two profiles.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listFlag {
			return runList(cmd, args)
		}
		return cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "bn-loader %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/bn-loader.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&colorMode, "color", "", "color output (auto, always, never; default from config)")
	rootCmd.Flags().BoolVarP(&listFlag, "list", "l", false, "list configured profiles")

	// Add commands
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(versionCmd)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger() *slog.Logger {
	return newLogger(os.Stderr, parseLevel(logLevel))
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// loadConfig finds and loads the configuration. A debug config raises the
// log level unless --log-level was given.
func loadConfig(cmd *cobra.Command, logger *slog.Logger) (*config.Config, *slog.Logger, error) {
	path, err := config.FindConfigFile(cfgFile)
	if err != nil {
		return nil, logger, err
	}

	logger.Debug("loading configuration", "path", path)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, logger, err
	}

	if cfg.Global.Debug && !cmd.Flags().Changed("log-level") {
		logger = newLogger(os.Stderr, slog.LevelDebug)
	}

	logger.Debug("configuration loaded",
		"profiles", len(cfg.Profiles),
		"backup_dir", cfg.Global.BackupDir,
		"state_dir", cfg.Global.StateDir)

	return cfg, logger, nil
}

// app bundles what every command needs.
type app struct {
	cfg     *config.Config
	format  backup.Format
	logger  *slog.Logger
	printer *render.Printer
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, logger, err := loadConfig(cmd, setupLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	format, err := backup.ParseFormat(cfg.Global.BackupFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", &config.ConfigError{Field: "global.backup_format", Err: err})
	}

	mode := cfg.Global.Color
	if colorMode != "" {
		mode = config.ColorMode(colorMode)
		switch mode {
		case config.ColorAuto, config.ColorAlways, config.ColorNever:
		default:
			return nil, fmt.Errorf("invalid --color %q (must be auto, always, or never)", colorMode)
		}
	}

	return &app{
		cfg:     cfg,
		format:  format,
		logger:  logger,
		printer: render.New(cmd.OutOrStdout(), mode),
	}, nil
}

func (e *app) backups() *backup.Manager {
	return backup.NewManager(e.cfg.Global.BackupDir, e.format, e.logger)
}

// profileArg returns args[0] or the configured default profile.
func (e *app) profileArg(args []string) (*config.Profile, error) {
	name := e.cfg.Global.DefaultProfile
	if len(args) > 0 {
		name = args[0]
	}
	if name == "" {
		return nil, errors.New("no profile given and no default_profile configured")
	}
	return e.cfg.Profile(name)
}

// confirm asks a yes/no question on in. Non-interactive input is refused.
func confirm(cmd *cobra.Command, question string) error {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return errors.New("refusing to continue without confirmation on a non-interactive terminal (use --yes)")
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\n%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(line), "y") {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
		return errAborted
	}
	return nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
