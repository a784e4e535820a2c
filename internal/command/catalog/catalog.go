package catalog

import (
	"fmt"

	"github.com/spf13/cobra"

	cmdflags "modelswitchd/internal/command/flags"
	"modelswitchd/internal/config"
	"modelswitchd/pkg/catalog"
	"modelswitchd/pkg/flags"
)

// NewCommand builds the catalog subcommand, which validates the catalog
// file and prints the profiles it defines.
func NewCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Validate and print the workload catalog",
		PreRunE: func(c *cobra.Command, _ []string) error {
			flags.BindCommandToViper(c)

			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := catalog.Load(cfg.CatalogFile)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "gateway: %s\nheavy:   %s\ndefault: %s\n\n",
				cat.GatewayService(), cat.HeavyService(), cat.DefaultProfile().ID)

			for _, profile := range cat.Profiles() {
				fmt.Fprintf(cmd.OutOrStdout(), "profile %s, service %s, routing %s",
					profile.ID, profile.BackendService, profile.RoutingConfig)

				if profile.ResourceFootprint != "" {
					fmt.Fprintf(cmd.OutOrStdout(), ", footprint %s", profile.ResourceFootprint)
				}

				fmt.Fprintln(cmd.OutOrStdout())
			}

			return nil
		},
	}

	cmdflags.AddCatalogFlagsToCommand(cmd, cfg)

	return cmd
}
