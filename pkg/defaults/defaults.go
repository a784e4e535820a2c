package defaults

import "time"

const (
	// ComposeDir is the directory holding the compose project and the
	// routing configuration documents.
	ComposeDir = "/opt/ai/compose"

	// CatalogFile is the default path to the workload profile catalog.
	CatalogFile = ComposeDir + "/catalog.toml"

	// StateFile is the default path of the persisted active state document.
	StateFile = ComposeDir + "/.active-state.json"

	// AuditFile is the default path of the append-only audit log.
	AuditFile = ComposeDir + "/switcher-audit.log"

	// HTTPBindAddr is the default bind address for the control API.
	HTTPBindAddr = "0.0.0.0:9000"

	// HealthTimeout bounds the wait for a backend to become healthy.
	HealthTimeout = 7 * time.Minute

	// PollInterval is the interval between backend health probes.
	PollInterval = 5 * time.Second

	// ExpiryInterval is the evaluation interval of the lease-expiry check.
	ExpiryInterval = 30 * time.Second

	// HeavyTTLMinutes is the lease length used when a request gives none.
	HeavyTTLMinutes = 45

	// SwitchRatePerMinute limits switch requests per client.
	SwitchRatePerMinute = 5

	// DataDirPerm is the permissions to use for data folders.
	DataDirPerm = 0o755

	// DataFilePerm is the permissions to use for data files.
	DataFilePerm = 0o644
)
