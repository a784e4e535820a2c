package config

import (
	"time"

	"modelswitchd/pkg/log"
)

// Config holds the configuration of the modelswitchd daemon and its client
// subcommands.
type Config struct {
	// CatalogFile is the path of the workload catalog.
	CatalogFile string
	// StateFile is the path of the persisted active-state document.
	StateFile string
	// AuditFile is the path of the append-only audit log.
	AuditFile string

	// HTTPBindAddr is the listen address of the admin API.
	HTTPBindAddr string
	// AuthToken guards the admin API. Empty disables the API.
	AuthToken string

	// HealthTimeout bounds every wait for a backend to become healthy.
	HealthTimeout time.Duration
	// PollInterval is the pause between health probes during a switch.
	PollInterval time.Duration
	// ExpiryInterval is how often the heavy-mode lease is checked.
	ExpiryInterval time.Duration
	// HeavyTTLMinutes is the lease length when a request carries none.
	HeavyTTLMinutes int
	// SwitchRatePerMinute caps mutating API requests per client IP.
	SwitchRatePerMinute int

	// DisableAPI stops the admin API from being served.
	DisableAPI bool
	// DisableReconcile skips the startup repair pass.
	DisableReconcile bool

	// APIEndpoint is the address client subcommands talk to.
	APIEndpoint string

	Logging log.Config
}
