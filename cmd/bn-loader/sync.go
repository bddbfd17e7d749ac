package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/schaermu/bnloader/internal/exclude"
	"github.com/schaermu/bnloader/internal/procscan"
	"github.com/schaermu/bnloader/internal/sync"
	"github.com/schaermu/bnloader/internal/watch"
)

var (
	syncFrom    string
	syncTo      []string
	syncExclude []string
	dryRun      bool
	assumeYes   bool
	mirror      bool
	watchMode   bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy user data from one profile to others",
	Long: `Sync copies plugins, repositories, signatures, themes, snippets, type libraries
and the settings, startup and keybinding files from the source profile to every
target profile (all other profiles by default).

License and identity files are never copied. Destination files that no longer
exist in the source are kept unless --mirror is given. Every destination is
backed up before it is changed.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncFrom, "from", "", "source profile (default is global.default_profile)")
	syncCmd.Flags().StringArrayVar(&syncTo, "to", nil, "target profile, repeatable (default is every other profile)")
	syncCmd.Flags().StringArrayVar(&syncExclude, "exclude", nil, "additional exclusion pattern, repeatable")
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	syncCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
	syncCmd.Flags().BoolVar(&mirror, "mirror", false, "delete destination files that are absent in the source")
	syncCmd.Flags().BoolVar(&watchMode, "watch", false, "keep running and sync whenever the source changes (implies --yes)")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	e, err := setup(cmd)
	if err != nil {
		return err
	}

	source := syncFrom
	if source == "" {
		source = e.cfg.Global.DefaultProfile
	}
	if source == "" {
		return errors.New("no source profile: use --from or set global.default_profile")
	}

	engine := sync.NewEngine(e.cfg, e.backups(), procscan.New(), e.logger, dryRun)
	req := sync.Request{
		Source:  source,
		Targets: syncTo,
		Exclude: syncExclude,
		Mirror:  mirror,
	}

	if !watchMode {
		return syncOnce(ctx, cmd, e, engine, req, assumeYes)
	}

	// Sync once up front so the targets start out in step with the source.
	if err := syncOnce(ctx, cmd, e, engine, req, true); err != nil {
		e.logger.Error("sync failed", "error", err)
	}

	src, err := e.cfg.Profile(source)
	if err != nil {
		return err
	}
	set := exclude.NewSet(e.cfg.Sync.Exclusions, req.Exclude)
	w := watch.New(src.ConfigDir, watch.DefaultDebounce, set.Excluded, e.logger)

	e.logger.Info("watching for changes", "profile", src.Name, "path", src.ConfigDir)
	err = w.Run(ctx, func(ctx context.Context) error {
		return syncOnce(ctx, cmd, e, engine, req, true)
	})
	if errors.Is(err, context.Canceled) {
		e.logger.Info("watch stopped")
		return nil
	}
	return err
}

func syncOnce(ctx context.Context, cmd *cobra.Command, e *app, engine *sync.Engine, req sync.Request, yes bool) error {
	pv, err := engine.Prepare(ctx, req)
	if err != nil {
		return err
	}
	e.printer.Preview(pv)

	if !dryRun && pv.Mutating() && !yes {
		if err := confirm(cmd, "Apply these changes?"); err != nil {
			return err
		}
	}

	logs, err := engine.Apply(ctx, pv)
	e.printer.Summary(logs)
	if err != nil {
		return err
	}

	var errs error
	for _, l := range logs {
		if lerr := l.Err(); lerr != nil {
			errs = multierr.Append(errs, fmt.Errorf("sync to %s: %w", l.Plan.Dest, lerr))
		}
	}
	return errs
}
