package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/schaermu/bnloader/internal/diff"
	"github.com/schaermu/bnloader/internal/plugins"
	"github.com/schaermu/bnloader/internal/scan"
)

const settingsFile = "settings.json"

var diffContent bool

var diffCmd = &cobra.Command{
	Use:   "diff <left> <right>",
	Short: "Compare the user data of two profiles",
	Long: `Diff compares the synchronized items of two profiles file by file, then
compares their settings.json key by key and their installed plugins.

With --content, a unified diff is printed for every file that differs.`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	diffCmd.Flags().BoolVar(&diffContent, "content", false, "print a unified diff of every differing file")
}

func runDiff(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	e, err := setup(cmd)
	if err != nil {
		return err
	}

	left, err := e.cfg.Profile(args[0])
	if err != nil {
		return err
	}
	right, err := e.cfg.Profile(args[1])
	if err != nil {
		return err
	}

	results, err := scan.ScanAll(ctx, []string{left.ConfigDir, right.ConfigDir})
	if err != nil {
		return fmt.Errorf("failed to scan data directories: %w", err)
	}
	for i, res := range results {
		if res.Missing {
			e.logger.Warn("data directory does not exist", "profile", args[i], "path", res.Root)
		}
	}

	report := diff.Diff(results[0], results[1])
	e.printer.Report(report, left.Name, right.Name)

	lp, lerr := plugins.List(left.ConfigDir)
	rp, rerr := plugins.List(right.ConfigDir)
	if err := errors.Join(lerr, rerr); err != nil {
		e.logger.Warn("failed to read plugin lists", "error", err)
	} else {
		e.printer.PluginComparison(plugins.Compare(lp, rp), left.Name, right.Name)
	}

	lok := hasFile(results[0], settingsFile)
	rok := hasFile(results[1], settingsFile)
	if lok && rok {
		changes, err := diff.CompareSettingsFiles(
			filepath.Join(left.ConfigDir, settingsFile),
			filepath.Join(right.ConfigDir, settingsFile))
		if err != nil {
			e.logger.Warn("failed to compare settings", "error", err)
		} else {
			e.printer.Settings(changes, left.Name, right.Name)
		}
	} else {
		e.printer.SettingsPresence(left.Name, right.Name, lok, rok)
	}

	if !diffContent {
		return nil
	}
	for _, item := range report.Differing {
		for _, entry := range item.Entries {
			if entry.Change != diff.Modified {
				continue
			}
			text, err := diff.UnifiedFiles(
				filepath.Join(left.ConfigDir, filepath.FromSlash(entry.Path)),
				filepath.Join(right.ConfigDir, filepath.FromSlash(entry.Path)))
			if err != nil {
				e.logger.Warn("failed to diff file", "path", entry.Path, "error", err)
				continue
			}
			e.printer.Unified(text)
		}
	}
	return nil
}

func hasFile(r *scan.Result, name string) bool {
	it := r.Item(name)
	return it != nil && it.State == scan.File
}
