package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schaermu/bnloader/internal/backup"
	"github.com/schaermu/bnloader/internal/sync"
)

var (
	pruneKeep     int
	restoreName   string
	restoreDryRun bool
	restoreYes    bool
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "Inspect and prune the backups taken before syncs",
}

var backupsListCmd = &cobra.Command{
	Use:   "list [profile]",
	Short: "List the backups of a profile, oldest first",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBackupsList,
}

var backupsPruneCmd = &cobra.Command{
	Use:   "prune <profile>",
	Short: "Delete all but the newest backups of a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupsPrune,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <profile>",
	Short: "Undo a sync by restoring a backup",
	Long: `Restore puts the files saved by a backup back into the profile's data
directory and removes the files the sync created.

Without --backup the newest backup is restored.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	backupsPruneCmd.Flags().IntVar(&pruneKeep, "keep", -1, "number of backups to keep (default is global.backup_retention)")
	backupsCmd.AddCommand(backupsListCmd)
	backupsCmd.AddCommand(backupsPruneCmd)

	restoreCmd.Flags().StringVar(&restoreName, "backup", "", "name of the backup to restore (default is the newest)")
	restoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "show what would be restored without making changes")
	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "do not ask for confirmation")
}

func runBackupsList(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	p, err := e.profileArg(args)
	if err != nil {
		return err
	}
	m := e.backups()

	list, err := m.List(p.Name)
	if err != nil {
		return err
	}
	e.printer.Backups(p.Name, list)
	return nil
}

func runBackupsPrune(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	p, err := e.cfg.Profile(args[0])
	if err != nil {
		return err
	}
	m := e.backups()

	keep := pruneKeep
	if keep < 0 {
		keep = e.cfg.Global.BackupRetention
	}
	if keep == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Retention is unlimited, nothing to prune.")
		return nil
	}

	removed, err := m.Prune(p.Name, keep)
	for _, b := range removed {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", b.Name)
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d backup(s) removed, keeping at most %d\n", len(removed), keep)
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	p, err := e.cfg.Profile(args[0])
	if err != nil {
		return err
	}
	m := e.backups()

	var b *backup.Backup
	if restoreName != "" {
		b, err = m.Get(p.Name, restoreName)
	} else {
		b, err = m.Latest(p.Name)
	}
	if err != nil {
		return err
	}

	if restoreDryRun {
		ops, err := m.Restore(b, p.ConfigDir, true)
		if err != nil {
			return err
		}
		e.printer.Restore(b, ops, true)
		return nil
	}

	if !restoreYes {
		if err := confirm(cmd, fmt.Sprintf("Restore backup %s into %s?", b.Name, p.ConfigDir)); err != nil {
			return err
		}
	}

	fl, err := sync.Lock(e.cfg.Global.StateDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			e.logger.Warn("failed to release sync lock", "error", err)
		}
	}()

	ops, err := m.Restore(b, p.ConfigDir, false)
	if err != nil {
		return err
	}
	e.printer.Restore(b, ops, false)
	return nil
}
