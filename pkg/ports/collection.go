package ports

import "time"

type Collection struct {
	Driver  ContainerDriver
	Store   StateStore
	Audit   AuditSink
	Routing RoutingSwapper
	Clock   func() time.Time
}
