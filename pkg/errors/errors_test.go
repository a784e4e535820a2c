package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	g "github.com/onsi/gomega"

	"modelswitchd/pkg/errors"
)

func TestIsBackendAbsent(t *testing.T) {
	g.RegisterTestingT(t)

	err := errors.NewBackendAbsent("vllm-fast")

	g.Expect(errors.IsBackendAbsent(err)).To(g.BeTrue())
	g.Expect(errors.IsBackendAbsent(fmt.Errorf("starting vllm-fast: %w", err))).To(g.BeTrue())
	g.Expect(errors.IsBackendAbsent(errors.ErrBusy)).To(g.BeFalse())
	g.Expect(err.Error()).To(g.ContainSubstring("vllm-fast"))
}

func TestIsHealthTimeout(t *testing.T) {
	g.RegisterTestingT(t)

	err := errors.HealthTimeoutError{
		Service:    "comfyui",
		Elapsed:    7 * time.Minute,
		LastStatus: "starting",
	}

	g.Expect(errors.IsHealthTimeout(err)).To(g.BeTrue())
	g.Expect(errors.IsHealthTimeout(fmt.Errorf("entering heavy mode: %w", err))).To(g.BeTrue())
	g.Expect(errors.IsHealthTimeout(errors.NewBackendAbsent("comfyui"))).To(g.BeFalse())
	g.Expect(err.Error()).To(g.ContainSubstring("timed out after 7m0s"))
}

func TestIsManualIntervention(t *testing.T) {
	g.RegisterTestingT(t)

	cause := fmt.Errorf("docker daemon unreachable")
	err := errors.ManualInterventionError{Service: "vllm-fast", Cause: cause}

	g.Expect(errors.IsManualIntervention(err)).To(g.BeTrue())
	g.Expect(errors.IsManualIntervention(fmt.Errorf("rollback: %w", err))).To(g.BeTrue())
	g.Expect(stderrors.Is(err, cause)).To(g.BeTrue())
	g.Expect(errors.IsManualIntervention(errors.ErrNotInHeavyMode)).To(g.BeFalse())
}
