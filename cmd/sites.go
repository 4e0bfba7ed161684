// cmd/sites.go
package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/autofill"
	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/observability"
	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/profile"
	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/sitescript"
)

func newSitesCmd() *cobra.Command {
	sitesCmd := &cobra.Command{
		Use:   "sites",
		Short: "Inspect and configure site scripts",
	}
	sitesCmd.AddCommand(newSitesListCmd())
	sitesCmd.AddCommand(newSitesConfigureCmd())
	return sitesCmd
}

func newSitesListCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the available site scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Autofill().ScriptsDir
			}
			reg, err := sitescript.LoadDir(dir)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tORIGINS\tSTEPS")
			for _, s := range reg.List() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.ID, s.Name, strings.Join(s.Origins, ","), len(s.Steps))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Site script directory (default: autofill.scripts_dir)")
	return cmd
}

func newSitesConfigureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure <site>",
		Short: "Change a site's stored settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			store, err := profile.Open(ctx, cfg.Store(), observability.GetLogger())
			if err != nil {
				return err
			}
			defer store.Close()

			settings, err := store.Settings(ctx, args[0])
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("autofill") {
				settings.AutofillEnabled, _ = flags.GetBool("autofill")
			}
			if flags.Changed("autocheckout") {
				settings.AutocheckoutEnabled, _ = flags.GetBool("autocheckout")
			}
			if flags.Changed("profile") {
				settings.ProfileKey, _ = flags.GetString("profile")
			}
			if flags.Changed("origin") {
				settings.Origin, _ = flags.GetString("origin")
			}
			if flags.Changed("mode") {
				raw, _ := flags.GetString("mode")
				mode, err := autofill.ParseMode(raw)
				if err != nil {
					return err
				}
				settings.Mode = mode
			}
			if err := store.SaveSettings(ctx, settings); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: autofill=%t autocheckout=%t mode=%s profile=%s\n",
				settings.Site, settings.AutofillEnabled, settings.AutocheckoutEnabled, settings.Mode, settings.ProfileKey)
			return nil
		},
	}
	cmd.Flags().Bool("autofill", true, "Enable autofill")
	cmd.Flags().Bool("autocheckout", false, "Enable autocheckout")
	cmd.Flags().String("profile", "", "Profile used by default")
	cmd.Flags().String("origin", "", "Restrict the site to this origin")
	cmd.Flags().String("mode", "", "Default mode (fast, click, hover)")
	return cmd
}
