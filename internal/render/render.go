// Package render writes human-readable reports to the terminal.
package render

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"

	"github.com/schaermu/bnloader/internal/config"
)

// Printer renders reports to one writer
type Printer struct {
	out io.Writer

	green  *color.Color
	red    *color.Color
	yellow *color.Color
	bold   *color.Color
	faint  *color.Color
}

// New creates a Printer. In auto mode color is used only when out is a
// terminal and NO_COLOR is unset.
func New(out io.Writer, mode config.ColorMode) *Printer {
	p := &Printer{
		out:    out,
		green:  color.New(color.FgGreen),
		red:    color.New(color.FgRed),
		yellow: color.New(color.FgYellow),
		bold:   color.New(color.Bold),
		faint:  color.New(color.Faint),
	}

	enabled := UseColor(out, mode)
	for _, c := range []*color.Color{p.green, p.red, p.yellow, p.bold, p.faint} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// UseColor resolves a color mode for out.
func UseColor(out io.Writer, mode config.ColorMode) bool {
	switch mode {
	case config.ColorAlways:
		return true
	case config.ColorNever:
		return false
	}
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *Printer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

func (p *Printer) println(args ...any) {
	_, _ = fmt.Fprintln(p.out, args...)
}

func (p *Printer) heading(s string) {
	p.println(p.bold.Sprint(s))
}

func (p *Printer) table(header []string, rows [][]string) {
	tw := tablewriter.NewWriter(p.out)
	tw.SetHeader(header)
	tw.SetAutoWrapText(false)
	tw.SetAutoFormatHeaders(true)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetBorder(false)
	tw.SetCenterSeparator("")
	tw.SetColumnSeparator("")
	tw.SetRowSeparator("")
	tw.SetHeaderLine(false)
	tw.SetTablePadding("  ")
	tw.SetNoWhiteSpace(true)
	tw.AppendBulk(rows)
	tw.Render()
}

// Profiles lists the configured profiles, marking the default one.
func (p *Printer) Profiles(cfg *config.Config) {
	names := cfg.ProfileNames()
	if len(names) == 0 {
		p.println("No profiles configured in", cfg.Path())
		return
	}

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		prof := cfg.Profiles[name]
		marker := ""
		if name == cfg.Global.DefaultProfile {
			marker = "*"
		}
		debug := ""
		if prof.Debug {
			debug = "yes"
		}
		rows = append(rows, []string{marker, name, prof.InstallDir, prof.ConfigDir, prof.Executable, debug})
	}
	p.table([]string{"", "Profile", "Install dir", "Config dir", "Executable", "Debug"}, rows)
}
