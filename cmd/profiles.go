// cmd/profiles.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/observability"
	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/profile"
)

func newProfilesCmd() *cobra.Command {
	profilesCmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage checkout profiles",
	}
	profilesCmd.AddCommand(newProfilesListCmd())
	profilesCmd.AddCommand(newProfilesShowCmd())
	profilesCmd.AddCommand(newProfilesImportCmd())
	return profilesCmd
}

// withStore opens the configured profile store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store profile.Store) error) error {
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
	return fn(ctx, store)
}

func newProfilesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store profile.Store) error {
				profiles, err := store.ListProfiles(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tNAME\tEMAIL\tCARD")
				for _, p := range profiles {
					fmt.Fprintf(tw, "%s\t%s\t%s\t****%s\n", p.Key, p.Billing.FullName(), p.Contact.Email, p.Payment.Last4())
				}
				return tw.Flush()
			})
		},
	}
}

func newProfilesShowCmd() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show <key>",
		Short: "Print one profile as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store profile.Store) error {
				p, err := store.Profile(ctx, args[0])
				if err != nil {
					return fmt.Errorf("profile %q: %w", args[0], err)
				}
				if !reveal {
					p.Payment.CardNumber = "****" + p.Payment.Last4()
					p.Payment.CVV = ""
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(p); err != nil {
					return err
				}
				return enc.Close()
			})
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print card number and CVV in full")
	return cmd
}

func newProfilesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Save profiles from a YAML list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var profiles []profile.Profile
			if err := yaml.Unmarshal(raw, &profiles); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}
			return withStore(cmd, func(ctx context.Context, store profile.Store) error {
				for _, p := range profiles {
					if p.Key == "" {
						return fmt.Errorf("%s: every profile needs a key", args[0])
					}
					if err := store.SaveProfile(ctx, p); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d profiles\n", len(profiles))
				return nil
			})
		},
	}
}
