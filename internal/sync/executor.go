package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/schaermu/bnloader/internal/backup"
)

// Outcome is the result of one action
type Outcome string

const (
	OutcomeWouldApply Outcome = "would-apply"
	OutcomeApplied    Outcome = "applied"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// CopyError reports an action that could not be applied. Execution continues
// with the next action.
type CopyError struct {
	Path string
	Op   string
	Err  error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CopyError) Unwrap() error {
	return e.Err
}

// Result pairs an action with its outcome
type Result struct {
	Action  Action
	Outcome Outcome
	Err     error
}

// ExecutionLog records what happened to every action of a plan
type ExecutionLog struct {
	Plan    *Plan
	DryRun  bool
	Backup  *backup.Backup
	Results []Result
	Pruned  []backup.Backup
}

// Counts tallies the results. Would-apply results count under their kind.
func (l *ExecutionLog) Counts() Counts {
	var c Counts
	for _, r := range l.Results {
		switch {
		case r.Outcome == OutcomeFailed:
			c.Failed++
		case r.Outcome == OutcomeSkipped:
			c.Skipped++
		case r.Action.Kind == Copy:
			c.Copied++
		case r.Action.Kind == Overwrite:
			c.Overwritten++
		case r.Action.Kind == Delete:
			c.Deleted++
		}
	}
	return c
}

// Failures returns the failed results in plan order.
func (l *ExecutionLog) Failures() []Result {
	var out []Result
	for _, r := range l.Results {
		if r.Outcome == OutcomeFailed {
			out = append(out, r)
		}
	}
	return out
}

// Err combines every per-action error, or returns nil.
func (l *ExecutionLog) Err() error {
	var err error
	for _, r := range l.Results {
		if r.Err != nil {
			err = multierr.Append(err, r.Err)
		}
	}
	return err
}

// Snapshotter takes and rotates destination backups
type Snapshotter interface {
	Snapshot(profile, dataDir string, relPaths []string) (*backup.Backup, error)
	Prune(profile string, limit int) ([]backup.Backup, error)
}

// Executor applies plans
type Executor struct {
	backups   Snapshotter
	retention int
	logger    *slog.Logger
}

// NewExecutor creates an executor that snapshots through backups and keeps
// retention backups per profile (0 keeps all).
func NewExecutor(backups Snapshotter, retention int, logger *slog.Logger) *Executor {
	return &Executor{
		backups:   backups,
		retention: retention,
		logger:    logger,
	}
}

// Execute applies plan in order. A dry run touches nothing and marks every
// mutation would-apply. A real run snapshots the destination before the
// first mutation; a failed snapshot aborts with the destination untouched.
// Per-action failures are recorded in the log and do not stop the run.
func (x *Executor) Execute(ctx context.Context, plan *Plan, dryRun bool) (*ExecutionLog, error) {
	log := &ExecutionLog{Plan: plan, DryRun: dryRun}

	if dryRun {
		for _, a := range plan.Actions {
			outcome := OutcomeSkipped
			if a.Mutating() {
				outcome = OutcomeWouldApply
				x.logger.Info("[dry-run] would "+a.Kind.String(), "profile", plan.Dest, "path", a.Path, "reason", string(a.Reason))
			}
			log.Results = append(log.Results, Result{Action: a, Outcome: outcome})
		}
		return log, nil
	}

	if plan.Mutating() {
		b, err := x.backups.Snapshot(plan.Dest, plan.DestDir, plan.MutatedPaths())
		if err != nil {
			return log, err
		}
		log.Backup = b
		x.prune(log)
	}

	for _, a := range plan.Actions {
		if err := ctx.Err(); err != nil {
			return log, err
		}
		log.Results = append(log.Results, x.apply(plan, a))
	}

	return log, nil
}

// prune rotates the destination's backups once a new one exists, whatever
// happens to the actions that follow.
func (x *Executor) prune(log *ExecutionLog) {
	if x.retention <= 0 {
		return
	}
	pruned, err := x.backups.Prune(log.Plan.Dest, x.retention)
	if err != nil {
		x.logger.Warn("failed to prune backups", "profile", log.Plan.Dest, "error", err)
	}
	log.Pruned = pruned
}

func (x *Executor) apply(plan *Plan, a Action) Result {
	res := Result{Action: a, Outcome: OutcomeApplied}
	fail := func(op string, err error) Result {
		res.Outcome = OutcomeFailed
		res.Err = &CopyError{Path: a.Path, Op: op, Err: err}
		x.logger.Warn("action failed", "profile", plan.Dest, "path", a.Path, "op", op, "error", err)
		return res
	}

	dst := plan.DestPath(a)
	switch a.Kind {
	case Skip:
		if a.Reason == ReasonUnreadable {
			return fail("read", errors.New(a.Detail))
		}
		res.Outcome = OutcomeSkipped
		return res

	case Delete:
		x.logger.Info("deleting file", "profile", plan.Dest, "path", a.Path)
		if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fail("delete", err)
		}
		return res

	case Copy, Overwrite:
		if a.Reason == ReasonTypeMismatch {
			if err := os.RemoveAll(dst); err != nil {
				return fail("remove", err)
			}
		}
		if a.Dir {
			x.logger.Info("creating directory", "profile", plan.Dest, "path", a.Path)
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return fail("mkdir", err)
			}
			return res
		}
		x.logger.Info(a.Kind.String()+" file", "profile", plan.Dest, "path", a.Path)
		if err := copyFile(plan.SourcePath(a), dst); err != nil {
			return fail(a.Kind.String(), err)
		}
		return res
	}

	return fail("apply", fmt.Errorf("unknown action kind %d", a.Kind))
}

// copyFile copies a file from src to dst with atomic write, keeping the
// source mode and modification time.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".bn-loader-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Chmod(srcInfo.Mode().Perm()); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := os.Chtimes(tmpPath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return err
	}

	return os.Rename(tmpPath, dst)
}
