package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schaermu/bnloader/internal/plugins"
	"github.com/schaermu/bnloader/internal/scaffold"
)

var (
	initTemplate  string
	initConfigDir string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured profiles",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins [profile]",
	Short: "List the plugins installed in a profile",
	Long: `Plugins lists the manually installed plugins of a profile together with the
plugins installed through its plugin repositories.

Without an argument the default profile is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlugins,
}

var initCmd = &cobra.Command{
	Use:   "init <name>",
	Short: "Create a new profile from an existing one",
	Long: `Init creates the data directory of a new profile, copies the license files
of the template profile into it and adds the profile to the configuration file.

No other user data is copied; run sync afterwards to bring plugins and settings
over.`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initTemplate, "template", "", "profile to copy license files from (default is global.default_profile)")
	initCmd.Flags().StringVar(&initConfigDir, "config-dir", "", "data directory of the new profile (must not exist)")
	_ = initCmd.MarkFlagRequired("config-dir")
}

func runList(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	e.printer.Profiles(e.cfg)
	return nil
}

func runPlugins(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}

	p, err := e.profileArg(args)
	if err != nil {
		return err
	}

	list, err := plugins.List(p.ConfigDir)
	if err != nil {
		return fmt.Errorf("failed to list plugins of %s: %w", p.Name, err)
	}
	e.printer.Plugins(p.Name, list)
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}

	template := initTemplate
	if template == "" {
		template = e.cfg.Global.DefaultProfile
	}

	res, err := scaffold.Init(e.cfg, scaffold.Options{
		Name:      args[0],
		Template:  template,
		ConfigDir: initConfigDir,
	}, e.logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Created profile '%s'\n", args[0])
	_, _ = fmt.Fprintf(out, "  config dir: %s\n", res.Profile.ConfigDir)
	for _, f := range res.Copied {
		_, _ = fmt.Fprintf(out, "  copied:     %s\n", f)
	}
	_, _ = fmt.Fprintf(out, "\nRun 'bn-loader sync --from %s --to %s' to copy plugins and settings.\n", template, args[0])
	return nil
}
