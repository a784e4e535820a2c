package ports

import (
	"context"

	"modelswitchd/pkg/models"
)

// ContainerDriver is the port definition for the container runtime. Start
// and Stop are idempotent: they are no-ops when the service already matches
// the requested state. Start never creates a service that does not exist.
type ContainerDriver interface {
	Start(ctx context.Context, service string) error
	Stop(ctx context.Context, service string) error
	// Restart stops and starts the service; used to make the routing
	// gateway re-read its configuration.
	Restart(ctx context.Context, service string) error
	Status(ctx context.Context, service string) (models.ServiceStatus, error)
	// Logs returns up to tail lines of the service's combined output.
	Logs(ctx context.Context, service string, tail int) (string, error)
}

// StateStore persists the singleton ActiveState document. Load returns
// (nil, nil) when no document has ever been written. Save must be atomic so
// a crash mid-write cannot leave a torn record.
type StateStore interface {
	Load(ctx context.Context) (*models.ActiveState, error)
	Save(ctx context.Context, state *models.ActiveState) error
}

// AuditSink appends one entry per completed control operation.
type AuditSink interface {
	Append(ctx context.Context, entry models.AuditEntry) error
}

// RoutingSwapper atomically repoints the routing document consulted by the
// gateway. The swap must never expose a half-written reference.
type RoutingSwapper interface {
	Repoint(ctx context.Context, profile models.WorkloadProfile) error
	// Current returns the routing config file name currently pointed at,
	// or empty when no pointer exists yet.
	Current(ctx context.Context) (string, error)
}
