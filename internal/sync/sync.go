// Package sync plans and applies the copy of user data between profiles.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/schaermu/bnloader/internal/config"
	"github.com/schaermu/bnloader/internal/exclude"
	"github.com/schaermu/bnloader/internal/scan"
)

// LockFileName is created in the state directory while a real sync runs.
const LockFileName = "sync.lock"

// ErrLocked is returned when another sync holds the lock.
var ErrLocked = errors.New("another sync is already running")

// ProcessFinder looks up running processes by executable name
type ProcessFinder interface {
	FindByName(name string) ([]int32, error)
}

// Request selects what to sync
type Request struct {
	Source  string
	Targets []string // empty means every other profile
	Exclude []string
	Mirror  bool
}

// Preview is the resolved request with one plan per target
type Preview struct {
	Source     *config.Profile
	Targets    []*config.Profile
	Exclusions *exclude.Set
	Plans      []*Plan
	ScanErrors []*scan.ScanError
}

// Mutating reports whether any plan changes a destination.
func (p *Preview) Mutating() bool {
	for _, plan := range p.Plans {
		if plan.Mutating() {
			return true
		}
	}
	return false
}

// Engine orchestrates the sync process
type Engine struct {
	cfg      *config.Config
	executor *Executor
	procs    ProcessFinder
	logger   *slog.Logger
	dryRun   bool
}

// NewEngine creates a new sync engine. procs may be nil to skip the
// running-application check.
func NewEngine(cfg *config.Config, backups Snapshotter, procs ProcessFinder, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:      cfg,
		executor: NewExecutor(backups, cfg.Global.BackupRetention, logger),
		procs:    procs,
		logger:   logger,
		dryRun:   dryRun,
	}
}

// Run prepares and applies a sync
func (e *Engine) Run(ctx context.Context, req Request) ([]*ExecutionLog, error) {
	pv, err := e.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.Apply(ctx, pv)
}

// Prepare resolves the profiles, scans every data directory and builds one
// plan per target. It never modifies the filesystem.
func (e *Engine) Prepare(ctx context.Context, req Request) (*Preview, error) {
	source, err := e.cfg.Profile(req.Source)
	if err != nil {
		return nil, err
	}

	targets, err := e.resolveTargets(source, req.Targets)
	if err != nil {
		return nil, err
	}

	set := exclude.NewSet(e.cfg.Sync.Exclusions, req.Exclude)
	for _, w := range set.Warnings() {
		e.logger.Warn("invalid exclusion pattern, matching literally", "error", w)
	}

	e.logger.Info("starting sync",
		"source", source.Name,
		"targets", len(targets),
		"dry_run", e.dryRun)

	dirs := []string{source.ConfigDir}
	for _, t := range targets {
		dirs = append(dirs, t.ConfigDir)
	}
	results, err := scan.ScanAll(ctx, dirs)
	if err != nil {
		return nil, fmt.Errorf("failed to scan data directories: %w", err)
	}

	src := results[0]
	if src.Missing {
		return nil, &config.ConfigError{
			Field: "profiles." + source.Name + ".config_dir",
			Err:   fmt.Errorf("data directory does not exist: %s", source.ConfigDir),
		}
	}

	pv := &Preview{Source: source, Targets: targets, Exclusions: set}
	for _, res := range results {
		for _, serr := range res.Errors() {
			e.logger.Warn("scan error", "root", res.Root, "path", serr.Path, "error", serr.Err)
			pv.ScanErrors = append(pv.ScanErrors, serr)
		}
	}

	mirror := req.Mirror || e.cfg.Sync.Mirror
	for i, t := range targets {
		plan := BuildPlan(src, results[i+1], set, PlanOptions{
			Source: source.Name,
			Dest:   t.Name,
			Mirror: mirror,
		})
		c := plan.Counts()
		e.logger.Info("sync plan",
			"target", t.Name,
			"copy", c.Copied,
			"overwrite", c.Overwritten,
			"delete", c.Deleted,
			"skip", c.Skipped,
			"unreadable", c.Failed)
		pv.Plans = append(pv.Plans, plan)
	}

	return pv, nil
}

func (e *Engine) resolveTargets(source *config.Profile, names []string) ([]*config.Profile, error) {
	if len(names) == 0 {
		targets := e.cfg.OtherProfiles(source.Name)
		if len(targets) == 0 {
			return nil, &config.ConfigError{Field: "profiles", Err: errors.New("no target profiles to sync to")}
		}
		return targets, nil
	}

	var targets []*config.Profile
	seen := make(map[string]struct{})
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		t, err := e.cfg.Profile(name)
		if err != nil {
			return nil, err
		}
		if t.Name == source.Name {
			return nil, &config.ConfigError{Field: "profiles." + name, Err: errors.New("cannot sync a profile to itself")}
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// Apply executes the prepared plans in target order. A failed backup aborts
// the remaining targets; targets already synced stay synced.
func (e *Engine) Apply(ctx context.Context, pv *Preview) ([]*ExecutionLog, error) {
	if !e.dryRun && pv.Mutating() {
		fl, err := Lock(e.cfg.Global.StateDir)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := fl.Unlock(); err != nil {
				e.logger.Warn("failed to release sync lock", "error", err)
			}
		}()
		e.warnRunning(pv.Targets)
	}

	var logs []*ExecutionLog
	for _, plan := range pv.Plans {
		log, err := e.executor.Execute(ctx, plan, e.dryRun)
		logs = append(logs, log)
		if err != nil {
			return logs, fmt.Errorf("sync to %s aborted: %w", plan.Dest, err)
		}
		if err := log.Err(); err != nil {
			e.logger.Warn("sync finished with errors", "target", plan.Dest, "failed", len(log.Failures()))
		} else if !e.dryRun {
			e.logger.Info("sync completed successfully", "target", plan.Dest)
		}
	}

	if e.dryRun {
		e.logger.Info("dry-run complete, no changes applied")
	}
	return logs, nil
}

// Lock takes the inter-process sync lock in stateDir. It fails with
// ErrLocked instead of waiting.
func Lock(stateDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	fl := flock.New(filepath.Join(stateDir, LockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}
	return fl, nil
}

func (e *Engine) warnRunning(targets []*config.Profile) {
	if e.procs == nil {
		return
	}
	checked := make(map[string]struct{})
	for _, t := range targets {
		if _, ok := checked[t.Executable]; ok {
			continue
		}
		checked[t.Executable] = struct{}{}

		pids, err := e.procs.FindByName(t.Executable)
		if err != nil {
			e.logger.Debug("process check failed", "executable", t.Executable, "error", err)
			continue
		}
		if len(pids) > 0 {
			e.logger.Warn("application is running, it may overwrite synced files on exit",
				"executable", t.Executable,
				"pids", pids)
		}
	}
}
