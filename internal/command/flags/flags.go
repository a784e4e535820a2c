package flags

import (
	"fmt"

	"github.com/spf13/cobra"

	"modelswitchd/internal/config"
	"modelswitchd/pkg/defaults"
)

const (
	catalogFileFlag    = "catalog"
	stateFileFlag      = "state-file"
	auditFileFlag      = "audit-file"
	httpEndpointFlag   = "http-endpoint"
	authTokenFlag      = "auth-token"
	healthTimeoutFlag  = "health-timeout"
	pollIntervalFlag   = "poll-interval"
	expiryIntervalFlag = "expiry-interval"
	heavyTTLFlag       = "heavy-ttl"
	switchRateFlag     = "switch-rate"
	disableAPIFlag     = "disable-api"
	disableReconcile   = "disable-reconcile"
	apiEndpointFlag    = "api-endpoint"
)

// AddCatalogFlagsToCommand adds the flags locating the catalog and the
// controller's on-disk documents.
func AddCatalogFlagsToCommand(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringVar(&cfg.CatalogFile,
		catalogFileFlag,
		defaults.CatalogFile,
		"The path of the workload catalog file.")

	cmd.Flags().StringVar(&cfg.StateFile,
		stateFileFlag,
		defaults.StateFile,
		"The path of the persisted active-state document.")

	cmd.Flags().StringVar(&cfg.AuditFile,
		auditFileFlag,
		defaults.AuditFile,
		"The path of the append-only audit log.")
}

// AddHTTPServerFlagsToCommand adds the admin API server flags.
func AddHTTPServerFlagsToCommand(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringVar(&cfg.HTTPBindAddr,
		httpEndpointFlag,
		defaults.HTTPBindAddr,
		"The endpoint for the admin API to listen on.")

	cmd.Flags().StringVar(&cfg.AuthToken,
		authTokenFlag,
		"",
		"The bearer token guarding the admin API. Empty disables the API routes.")

	cmd.Flags().IntVar(&cfg.SwitchRatePerMinute,
		switchRateFlag,
		defaults.SwitchRatePerMinute,
		"Maximum mutating API requests per minute per client address.")
}

// AddEngineFlagsToCommand adds the switch-engine tuning flags.
func AddEngineFlagsToCommand(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().DurationVar(&cfg.HealthTimeout,
		healthTimeoutFlag,
		defaults.HealthTimeout,
		"How long to wait for a backend to become healthy before rolling back.")

	cmd.Flags().DurationVar(&cfg.PollInterval,
		pollIntervalFlag,
		defaults.PollInterval,
		"The pause between backend health probes during a switch.")

	cmd.Flags().DurationVar(&cfg.ExpiryInterval,
		expiryIntervalFlag,
		defaults.ExpiryInterval,
		"How often the heavy-mode lease is checked for expiry.")

	cmd.Flags().IntVar(&cfg.HeavyTTLMinutes,
		heavyTTLFlag,
		defaults.HeavyTTLMinutes,
		"The heavy-mode lease length in minutes when a request carries none.")
}

// AddHiddenFlagsToCommand adds flags for development and debugging.
func AddHiddenFlagsToCommand(cmd *cobra.Command, cfg *config.Config) error {
	cmd.Flags().BoolVar(&cfg.DisableAPI,
		disableAPIFlag,
		false,
		"Set to true to stop the admin API running")

	cmd.Flags().BoolVar(&cfg.DisableReconcile,
		disableReconcile,
		false,
		"Set to true to skip the startup repair pass")

	if err := cmd.Flags().MarkHidden(disableAPIFlag); err != nil {
		return fmt.Errorf("setting %s as hidden: %w", disableAPIFlag, err)
	}

	if err := cmd.Flags().MarkHidden(disableReconcile); err != nil {
		return fmt.Errorf("setting %s as hidden: %w", disableReconcile, err)
	}

	return nil
}

// AddClientFlagsToCommand adds the flags used by subcommands that talk to a
// running daemon.
func AddClientFlagsToCommand(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringVar(&cfg.APIEndpoint,
		apiEndpointFlag,
		"http://127.0.0.1:9000",
		"The address of the running daemon's admin API.")

	cmd.Flags().StringVar(&cfg.AuthToken,
		authTokenFlag,
		"",
		"The bearer token of the admin API.")
}
