package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrBusy                 = errors.New("another control operation is in flight")
	ErrUnknownProfile       = errors.New("unknown workload profile")
	ErrUnknownMode          = errors.New("unknown usage mode")
	ErrNotInHeavyMode       = errors.New("controller is not in heavy mode")
	ErrTargetProfileMissing = errors.New("a target workload profile is required")
	ErrRecordNotFound       = errors.New("switch record not found")
	ErrServiceNotAllowed    = errors.New("service is not managed by this controller")
	ErrNoTokenConfigured    = errors.New("admin token is not configured")
)

// BackendAbsentError reports a backend service that was never created. The
// controller never creates services itself, so this is surfaced to the
// operator together with the bootstrap step that is missing.
type BackendAbsentError struct {
	Service string
}

func (e BackendAbsentError) Error() string {
	return fmt.Sprintf("backend service %s does not exist; create it with the compose bootstrap (docker compose up --no-start %s) before switching", e.Service, e.Service)
}

func NewBackendAbsent(service string) error {
	return BackendAbsentError{Service: service}
}

func IsBackendAbsent(err error) bool {
	var absentErr BackendAbsentError

	return errors.As(err, &absentErr)
}

// HealthTimeoutError reports a backend that did not become healthy within
// the bounded wait.
type HealthTimeoutError struct {
	Service    string
	Elapsed    time.Duration
	LastStatus string
}

func (e HealthTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s to become healthy, last status %s", e.Elapsed.Round(time.Second), e.Service, e.LastStatus)
}

func IsHealthTimeout(err error) bool {
	var timeoutErr HealthTimeoutError

	return errors.As(err, &timeoutErr)
}

// ManualInterventionError marks the one failure the engine cannot self-heal:
// a rollback whose own restart failed.
type ManualInterventionError struct {
	Service string
	Cause   error
}

func (e ManualInterventionError) Error() string {
	return fmt.Sprintf("rollback restart of %s failed, manual intervention required: %v", e.Service, e.Cause)
}

func (e ManualInterventionError) Unwrap() error {
	return e.Cause
}

func IsManualIntervention(err error) bool {
	var manualErr ManualInterventionError

	return errors.As(err, &manualErr)
}
