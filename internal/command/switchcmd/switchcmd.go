package switchcmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"modelswitchd/internal/command/client"
	cmdflags "modelswitchd/internal/command/flags"
	"modelswitchd/internal/config"
	"modelswitchd/pkg/flags"
	"modelswitchd/pkg/models"
)

// NewCommand builds the switch subcommand, the CLI front of the switch and
// mode endpoints of a running daemon.
func NewCommand(cfg *config.Config) *cobra.Command {
	var (
		heavy      bool
		release    bool
		ttlMinutes int
		wait       bool
	)

	cmd := &cobra.Command{
		Use:   "switch [profile]",
		Short: "Switch the node to a workload profile or heavy mode",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(c *cobra.Command, _ []string) error {
			flags.BindCommandToViper(c)

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			profile := ""
			if len(args) == 1 {
				profile = args[0]
			}

			return run(cmd, cfg, profile, heavy, release, ttlMinutes, wait)
		},
	}

	cmd.Flags().BoolVar(&heavy, "heavy", false, "Enter heavy mode instead of switching profiles.")
	cmd.Flags().BoolVar(&release, "release", false, "Leave heavy mode, returning to the given or default profile.")
	cmd.Flags().IntVar(&ttlMinutes, "ttl", 0, "Heavy-mode lease length in minutes (daemon default when 0).")
	cmd.Flags().BoolVar(&wait, "wait", true, "Wait for the switch to finish instead of returning immediately.")

	cmdflags.AddClientFlagsToCommand(cmd, cfg)

	return cmd
}

func run(cmd *cobra.Command, cfg *config.Config, profile string, heavy, release bool, ttlMinutes int, wait bool) error {
	if heavy && release {
		return fmt.Errorf("--heavy and --release are mutually exclusive")
	}

	if !heavy && !release && profile == "" {
		return fmt.Errorf("a profile name is required unless --heavy or --release is given")
	}

	api := client.New(cfg)
	ctx := context.Background()
	rec := models.SwitchRecord{}

	switch {
	case heavy:
		err := api.Post(ctx, "/api/v1/mode/switch", map[string]interface{}{
			"mode":        "heavy",
			"ttl_minutes": ttlMinutes,
			"wait_for_ready": wait,
		}, &rec)
		if err != nil {
			return err
		}
	case release:
		err := api.Post(ctx, "/api/v1/mode/release", map[string]interface{}{
			"target_profile": profile,
			"wait_for_ready": wait,
		}, &rec)
		if err != nil {
			return err
		}
	default:
		err := api.Post(ctx, "/api/v1/switch", map[string]interface{}{
			"target_profile": profile,
			"wait_for_ready": wait,
		}, &rec)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "switch %s: %s -> %s, state %s\n", rec.ID, rec.FromProfile, rec.ToProfile, rec.State)

	if rec.Error != "" {
		fmt.Fprintf(out, "error: %s\n", rec.Error)
	}

	if rec.NeedsIntervention {
		fmt.Fprintln(out, "manual intervention required")
	}

	return nil
}
