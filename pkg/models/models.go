package models

import "time"

// Mode is the top-level usage mode of the accelerator.
type Mode string

const (
	// ModeServing runs exactly one profile backend behind the gateway.
	ModeServing Mode = "serving"
	// ModeHeavy hands the whole accelerator to the heavy workload under a
	// time-boxed lease.
	ModeHeavy Mode = "heavy"
)

// ServiceStatus is the observed condition of a backend service.
type ServiceStatus string

const (
	// StatusAbsent means the service was never created. The controller does
	// not create services, so this needs operator action.
	StatusAbsent    ServiceStatus = "absent"
	StatusStopped   ServiceStatus = "stopped"
	StatusStarting  ServiceStatus = "starting"
	StatusUnhealthy ServiceStatus = "unhealthy"
	StatusHealthy   ServiceStatus = "healthy"
)

// WorkloadProfile is one entry of the static catalog. Profiles are loaded
// once at startup and never mutated.
type WorkloadProfile struct {
	// ID is the client-facing name of the profile.
	ID string `json:"id" toml:"id"`
	// BackendService is the compose service running this profile.
	BackendService string `json:"backend_service" toml:"service"`
	// RoutingConfig is the routing document the gateway uses while this
	// profile is active, relative to the compose directory.
	RoutingConfig string `json:"routing_config" toml:"routing_config"`
	// ResourceFootprint describes the VRAM cost, informational only.
	ResourceFootprint string `json:"resource_footprint,omitempty" toml:"footprint"`
}

// SwitchState is the lifecycle state of a switch record.
type SwitchState string

const (
	SwitchQueued     SwitchState = "queued"
	SwitchRunning    SwitchState = "running"
	SwitchSucceeded  SwitchState = "success"
	SwitchFailed     SwitchState = "failed"
	SwitchRolledBack SwitchState = "rolled_back"
)

// Terminal reports whether the state is final.
func (s SwitchState) Terminal() bool {
	return s == SwitchSucceeded || s == SwitchFailed || s == SwitchRolledBack
}

// SwitchStep is one completed step of a switch operation.
type SwitchStep struct {
	At     time.Time `json:"at"`
	Name   string    `json:"name"`
	Detail string    `json:"detail,omitempty"`
}

// SwitchRecord tracks a single transactional handoff. At most one
// non-terminal record exists process-wide.
type SwitchRecord struct {
	ID          string       `json:"id"`
	State       SwitchState  `json:"state"`
	FromProfile string       `json:"from_profile,omitempty"`
	ToProfile   string       `json:"to_profile"`
	Steps       []SwitchStep `json:"steps"`
	StartedAt   time.Time    `json:"started_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
	DurationMs  int64        `json:"duration_ms,omitempty"`
	Error       string       `json:"error,omitempty"`
	// NeedsIntervention is set when a rollback's own restart failed and no
	// further automatic action will be taken.
	NeedsIntervention bool `json:"needs_intervention,omitempty"`
}

// CurrentStep returns the name of the most recent step.
func (r *SwitchRecord) CurrentStep() string {
	if len(r.Steps) == 0 {
		return ""
	}

	return r.Steps[len(r.Steps)-1].Name
}

// Clone returns a deep copy safe to hand to callers.
func (r *SwitchRecord) Clone() *SwitchRecord {
	clone := *r
	clone.Steps = append([]SwitchStep(nil), r.Steps...)

	if r.FinishedAt != nil {
		finished := *r.FinishedAt
		clone.FinishedAt = &finished
	}

	return &clone
}

// Lease is a time-boxed grant of heavy mode. It exists iff the active mode
// is heavy.
type Lease struct {
	Mode      Mode      `json:"mode"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lease has run out at the given instant.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Remaining returns the time left on the lease, never negative.
func (l *Lease) Remaining(now time.Time) time.Duration {
	remaining := l.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}

	return remaining
}

// LastSwitch is the persisted summary of the most recent terminal switch.
type LastSwitch struct {
	ID          string      `json:"id"`
	State       SwitchState `json:"state"`
	FromProfile string      `json:"from_profile,omitempty"`
	ToProfile   string      `json:"to_profile"`
	FinishedAt  time.Time   `json:"finished_at"`
}

// ActiveState is the singleton persisted record of controller intent. It is
// rewritten atomically after every successful transition and reconstructed
// from disk after a restart.
type ActiveState struct {
	ActiveProfile  string     `json:"active_profile"`
	ActiveMode     Mode       `json:"active_mode"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	LastSwitch     *LastSwitch `json:"last_switch,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Lease returns the lease derived from the persisted expiry, or nil when
// the controller is not in heavy mode.
func (s *ActiveState) Lease() *Lease {
	if s.ActiveMode != ModeHeavy || s.LeaseExpiresAt == nil {
		return nil
	}

	return &Lease{Mode: ModeHeavy, ExpiresAt: *s.LeaseExpiresAt}
}

// AuditEntry is one record of the append-only audit trail.
type AuditEntry struct {
	Timestamp time.Time `json:"at"`
	Operation string    `json:"operation"`
	Actor     string    `json:"actor"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
}
