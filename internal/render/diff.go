package render

import (
	"fmt"
	"strings"

	"github.com/schaermu/bnloader/internal/diff"
	"github.com/schaermu/bnloader/internal/plugins"
)

// maxSettingsShown caps the settings differences printed.
const maxSettingsShown = 20

// Report prints a structural diff of two profiles.
func (p *Printer) Report(r *diff.Report, leftName, rightName string) {
	p.heading("=== Files ===")
	if r.Empty() {
		p.println("  (no differences)")
	}
	for _, name := range r.OnlyLeft {
		p.println(p.red.Sprintf("  - %s (only in '%s')", name, leftName))
	}
	for _, name := range r.OnlyRight {
		p.println(p.green.Sprintf("  + %s (only in '%s')", name, rightName))
	}
	for _, item := range r.Differing {
		p.println(p.yellow.Sprintf("  ~ %s", item.Item))
		for _, e := range item.Entries {
			switch e.Change {
			case diff.OnlyLeft:
				p.println(p.red.Sprintf("      - %s (only in '%s')", e.Path, leftName))
			case diff.OnlyRight:
				p.println(p.green.Sprintf("      + %s (only in '%s')", e.Path, rightName))
			default:
				p.println(p.yellow.Sprintf("      ~ %s", e.Path) + p.faint.Sprintf(" (%s)", e.Reason))
			}
		}
	}
	if len(r.Identical) > 0 {
		p.println(p.faint.Sprintf("  identical: %s", strings.Join(r.Identical, ", ")))
	}
	for _, e := range r.LeftErrors {
		p.println(p.red.Sprintf("  ! %s: %v (in '%s')", e.Path, e.Err, leftName))
	}
	for _, e := range r.RightErrors {
		p.println(p.red.Sprintf("  ! %s: %v (in '%s')", e.Path, e.Err, rightName))
	}
}

// Settings prints the key-level settings.json differences.
func (p *Printer) Settings(changes []diff.KeyChange, leftName, rightName string) {
	p.heading("=== Settings ===")
	if len(changes) == 0 {
		p.println("  (no differences)")
		return
	}
	p.printf("  %d differences found:\n\n", len(changes))
	for i, c := range changes {
		if i == maxSettingsShown {
			p.printf("  ... and %d more\n", len(changes)-maxSettingsShown)
			break
		}
		switch c.Change {
		case diff.OnlyLeft:
			p.println(p.red.Sprintf("  - %s (only in '%s')", c.Key, leftName))
		case diff.OnlyRight:
			p.println(p.green.Sprintf("  + %s (only in '%s')", c.Key, rightName))
		default:
			p.println(p.yellow.Sprintf("  ~ %s : %s -> %s", c.Key, c.Left, c.Right))
		}
	}
}

// SettingsPresence reports a settings.json present on at most one side.
func (p *Printer) SettingsPresence(leftName, rightName string, left, right bool) {
	p.heading("=== Settings ===")
	switch {
	case !left && !right:
		p.println("  Neither profile has settings.json")
	case left:
		p.printf("  Only '%s' has settings.json\n", leftName)
	default:
		p.printf("  Only '%s' has settings.json\n", rightName)
	}
}

// PluginComparison prints plugin-level differences.
func (p *Printer) PluginComparison(c *plugins.Comparison, leftName, rightName string) {
	p.heading("=== Plugins ===")
	p.printf("  %s has %d plugins, %s has %d plugins\n", leftName, c.LeftCount, rightName, c.RightCount)
	if c.Empty() {
		p.println("  (no differences)")
		return
	}
	if len(c.OnlyLeft) > 0 {
		p.printf("\n  Only in '%s':\n", leftName)
		for _, pl := range c.OnlyLeft {
			p.println(p.green.Sprintf("    + %s", pl.DisplayName()))
		}
	}
	if len(c.OnlyRight) > 0 {
		p.printf("\n  Only in '%s':\n", rightName)
		for _, pl := range c.OnlyRight {
			p.println(p.red.Sprintf("    - %s", pl.DisplayName()))
		}
	}
	if len(c.Versions) > 0 {
		p.println("\n  Version differences:")
		for _, v := range c.Versions {
			p.println(p.yellow.Sprintf("    ~ %s : %s -> %s", v.Left.DisplayName(), orUnknown(v.Left.Version), orUnknown(v.Right.Version)))
		}
	}
}

// Plugins prints the plugins of one profile grouped by source.
func (p *Printer) Plugins(profile string, list []plugins.Plugin) {
	if len(list) == 0 {
		p.printf("No plugins installed for profile '%s'\n", profile)
		return
	}
	p.printf("Plugins for profile '%s' (%d total):\n", profile, len(list))

	groups := []struct {
		source plugins.Source
		title  string
	}{
		{plugins.Official, "Official Repository"},
		{plugins.Community, "Community Repository"},
		{plugins.Manual, "Manual"},
	}
	for _, g := range groups {
		var rows []plugins.Plugin
		for _, pl := range list {
			if pl.Source == g.source {
				rows = append(rows, pl)
			}
		}
		if len(rows) == 0 {
			continue
		}
		p.printf("\n  %s (%d):\n", p.bold.Sprintf("[%s]", g.title), len(rows))
		for _, pl := range rows {
			author := ""
			if pl.Author != "" {
				author = " by " + pl.Author
			}
			p.printf("    %s v%s%s\n", pl.DisplayName(), orUnknown(pl.Version), author)
		}
	}
}

// Unified prints a unified diff, coloring added and removed lines.
func (p *Printer) Unified(text string) {
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			_, _ = fmt.Fprint(p.out, p.bold.Sprint(line))
		case strings.HasPrefix(line, "+"):
			_, _ = fmt.Fprint(p.out, p.green.Sprint(line))
		case strings.HasPrefix(line, "-"):
			_, _ = fmt.Fprint(p.out, p.red.Sprint(line))
		case strings.HasPrefix(line, "@@"):
			_, _ = fmt.Fprint(p.out, p.faint.Sprint(line))
		default:
			_, _ = fmt.Fprint(p.out, line)
		}
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
