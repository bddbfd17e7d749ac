package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/schaermu/bnloader/internal/backup"
	"github.com/schaermu/bnloader/internal/sync"
)

func (p *Printer) action(a sync.Action) string {
	label := a.Path
	if a.Dir {
		label += "/"
	}
	switch a.Kind {
	case sync.Copy:
		return p.green.Sprintf("  + %s", label)
	case sync.Overwrite:
		return p.yellow.Sprintf("  ~ %s", label) + p.faint.Sprintf(" (%s)", a.Reason)
	case sync.Delete:
		return p.red.Sprintf("  - %s", label)
	}

	detail := string(a.Reason)
	switch {
	case a.Pattern != "":
		detail += ": " + a.Pattern
	case a.Detail != "":
		detail += ": " + a.Detail
	}
	if a.Reason == sync.ReasonUnreadable {
		return p.red.Sprintf("  ! %s", label) + p.faint.Sprintf(" (%s)", detail)
	}
	return p.faint.Sprintf("    %s (%s)", label, detail)
}

// Preview prints the resolved sync request and every plan. Identical files
// are only counted.
func (p *Printer) Preview(pv *sync.Preview) {
	p.heading("Sync plan")
	p.printf("  Source: %s (%s)\n", pv.Source.Name, pv.Source.ConfigDir)
	p.printf("  Exclusions: %s\n", strings.Join(pv.Exclusions.Patterns(), ", "))

	for _, plan := range pv.Plans {
		p.println()
		mode := ""
		if plan.Mirror {
			mode = " [mirror]"
		}
		p.heading(fmt.Sprintf("-> %s (%s)%s", plan.Dest, plan.DestDir, mode))

		identical := 0
		for _, a := range plan.Actions {
			if a.Kind == sync.Skip && a.Reason == sync.ReasonIdentical {
				identical++
				continue
			}
			p.println(p.action(a))
		}
		if identical > 0 {
			p.println(p.faint.Sprintf("    %d identical file(s) unchanged", identical))
		}
		if !plan.Mutating() {
			p.println("  (up to date)")
		}
	}
}

// Summary prints per-target counts, itemized failures and backup details.
func (p *Printer) Summary(logs []*sync.ExecutionLog) {
	if len(logs) == 0 {
		return
	}

	p.println()
	if logs[0].DryRun {
		p.heading("Dry run summary (no changes made)")
	} else {
		p.heading("Sync summary")
	}

	rows := make([][]string, 0, len(logs))
	for _, l := range logs {
		c := l.Counts()
		rows = append(rows, []string{
			l.Plan.Dest,
			strconv.Itoa(c.Copied),
			strconv.Itoa(c.Overwritten),
			strconv.Itoa(c.Deleted),
			strconv.Itoa(c.Skipped),
			strconv.Itoa(c.Failed),
		})
	}
	p.table([]string{"Target", "Copied", "Overwritten", "Deleted", "Skipped", "Failed"}, rows)

	for _, l := range logs {
		if l.Backup != nil {
			p.printf("  Backup of %s: %s\n", l.Plan.Dest, l.Backup.Path)
		}
		for _, b := range l.Pruned {
			p.println(p.faint.Sprintf("  Removed old backup: %s", b.Path))
		}
		failures := l.Failures()
		if len(failures) == 0 {
			continue
		}
		p.println(p.red.Sprintf("  %d failure(s) in %s:", len(failures), l.Plan.Dest))
		for _, r := range failures {
			p.println(p.red.Sprintf("    %s: %v", r.Action.Path, r.Err))
		}
	}
}

// Backups lists the backups of a profile, newest last.
func (p *Printer) Backups(profile string, backups []backup.Backup) {
	if len(backups) == 0 {
		p.printf("No backups for profile '%s'\n", profile)
		return
	}
	rows := make([][]string, 0, len(backups))
	for _, b := range backups {
		files, targets := "?", "?"
		if b.Manifest != nil {
			files = strconv.Itoa(len(b.Manifest.Files))
			targets = strconv.Itoa(len(b.Manifest.Targets))
		}
		rows = append(rows, []string{b.Name, b.Created.Local().Format("2006-01-02 15:04:05"), targets, files, string(formatOf(b))})
	}
	p.table([]string{"Backup", "Created", "Paths", "Files", "Format"}, rows)
}

func formatOf(b backup.Backup) backup.Format {
	if b.Manifest == nil {
		return ""
	}
	return b.Manifest.Format
}

// Restore prints the steps of a restore.
func (p *Printer) Restore(b *backup.Backup, ops []backup.RestoreOp, dryRun bool) {
	if dryRun {
		p.heading(fmt.Sprintf("Restore of %s (dry run)", b.Name))
	} else {
		p.heading(fmt.Sprintf("Restored %s", b.Name))
	}
	for _, op := range ops {
		if op.Remove {
			p.println(p.red.Sprintf("  - %s", op.Path))
		} else {
			p.println(p.green.Sprintf("  + %s", op.Path))
		}
	}
}
