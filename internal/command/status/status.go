package status

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"modelswitchd/internal/command/client"
	cmdflags "modelswitchd/internal/command/flags"
	"modelswitchd/internal/config"
	"modelswitchd/pkg/flags"
	"modelswitchd/pkg/switcher"
)

// NewCommand builds the status subcommand, which queries a running daemon.
func NewCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the controller's view of the node",
		PreRunE: func(c *cobra.Command, _ []string) error {
			flags.BindCommandToViper(c)

			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, cfg)
		},
	}

	cmdflags.AddClientFlagsToCommand(cmd, cfg)

	return cmd
}

func run(cmd *cobra.Command, cfg *config.Config) error {
	doc := switcher.StatusDocument{}
	if err := client.New(cfg).Get(context.Background(), "/api/v1/status", &doc); err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "profile: %s\nmode:    %s\nready:   %t\n", doc.ActiveProfile, doc.ActiveMode, doc.Ready)

	if doc.LastError != "" {
		fmt.Fprintf(out, "error:   %s\n", doc.LastError)
	}

	if doc.Lease != nil {
		fmt.Fprintf(out, "lease:   expires %s (%ds remaining)\n", doc.Lease.ExpiresAt, doc.Lease.RemainingSeconds)
	}

	if doc.SwitchInProgress {
		fmt.Fprintln(out, "a switch is in progress")
	}

	for _, backend := range doc.Backends {
		fmt.Fprintf(out, "service %s, health %s\n", backend.Service, backend.Health)
	}

	return nil
}
