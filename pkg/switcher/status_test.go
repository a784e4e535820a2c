package switcher_test

import (
	"context"
	"testing"

	g "github.com/onsi/gomega"

	"modelswitchd/pkg/errors"
	"modelswitchd/pkg/models"
	"modelswitchd/pkg/switcher"
)

func TestStatus(t *testing.T) {
	g.RegisterTestingT(t)

	h := newHarness(t, switcher.Config{}, servingFleet())
	seedServing(t, h, "fast")

	doc, err := h.controller.Status(context.Background())

	g.Expect(err).NotTo(g.HaveOccurred())
	g.Expect(doc.ActiveProfile).To(g.Equal("fast"))
	g.Expect(doc.ActiveMode).To(g.Equal(models.ModeServing))
	g.Expect(doc.SwitchInProgress).To(g.BeFalse())
	g.Expect(doc.Lease).To(g.BeNil())
	g.Expect(doc.Ready).To(g.BeTrue())

	g.Expect(doc.Backends).To(g.HaveLen(4))
	g.Expect(doc.Backends["vllm-fast"].Health).To(g.Equal("healthy"))
	g.Expect(doc.Backends["vllm-quality"].Exists).To(g.BeTrue())
	g.Expect(doc.Backends["vllm-quality"].Health).To(g.Equal("stopped"))

	g.Expect(doc.RunningServices).To(g.ConsistOf("vllm-fast", "litellm"))
}

func TestStatus_reportsLease(t *testing.T) {
	g.RegisterTestingT(t)

	h := newHarness(t, switcher.Config{}, servingFleet())
	seedServing(t, h, "fast")

	_, err := h.controller.EnterHeavy(context.Background(), 30, true)
	g.Expect(err).NotTo(g.HaveOccurred())

	doc, err := h.controller.Status(context.Background())

	g.Expect(err).NotTo(g.HaveOccurred())
	g.Expect(doc.ActiveMode).To(g.Equal(models.ModeHeavy))
	g.Expect(doc.Lease).NotTo(g.BeNil())
	g.Expect(doc.Lease.RemainingSeconds).To(g.Equal(int64(30 * 60)))
	g.Expect(doc.Lease.Expired).To(g.BeFalse())
	g.Expect(doc.Switch).NotTo(g.BeNil())
	g.Expect(doc.Switch.ToProfile).To(g.Equal("heavy"))
}

func TestStatus_absentService(t *testing.T) {
	g.RegisterTestingT(t)

	fleet := servingFleet()
	delete(fleet, "vllm-quality")

	h := newHarness(t, switcher.Config{}, fleet)
	seedServing(t, h, "fast")

	doc, err := h.controller.Status(context.Background())

	g.Expect(err).NotTo(g.HaveOccurred())
	g.Expect(doc.Backends["vllm-quality"].Exists).To(g.BeFalse())
	g.Expect(doc.Backends["vllm-quality"].Health).To(g.Equal("absent"))
}

func TestReady_unhealthyActiveBackend(t *testing.T) {
	g.RegisterTestingT(t)

	h := newHarness(t, switcher.Config{}, servingFleet())
	seedServing(t, h, "fast")

	h.driver.mu.Lock()
	h.driver.states["vllm-fast"] = models.StatusUnhealthy
	h.driver.mu.Unlock()

	ready, reason := h.controller.Ready(context.Background())

	g.Expect(ready).To(g.BeFalse())
	g.Expect(reason).To(g.ContainSubstring("unhealthy"))
}

func TestStopAll(t *testing.T) {
	g.RegisterTestingT(t)

	h := newHarness(t, switcher.Config{}, servingFleet())
	seedServing(t, h, "fast")

	err := h.controller.StopAll(context.Background(), switcher.ActorOperator)

	g.Expect(err).NotTo(g.HaveOccurred())
	g.Expect(h.driver.statusOf("vllm-fast")).To(g.Equal(models.StatusStopped))
	g.Expect(h.driver.statusOf("comfyui")).To(g.Equal(models.StatusStopped))
	// The gateway keeps running.
	g.Expect(h.driver.statusOf("litellm")).To(g.Equal(models.StatusHealthy))

	// Bookkeeping is untouched, the next switch knows where it came from.
	g.Expect(h.controller.State().ActiveProfile).To(g.Equal("fast"))
	g.Expect(h.audit.last().Operation).To(g.Equal("stop_all"))
}

func TestLogs(t *testing.T) {
	g.RegisterTestingT(t)

	h := newHarness(t, switcher.Config{}, servingFleet())
	seedServing(t, h, "fast")
	h.driver.logs["vllm-fast"] = "INFO ready to serve\n"

	out, err := h.controller.Logs(context.Background(), "vllm-fast", 100)

	g.Expect(err).NotTo(g.HaveOccurred())
	g.Expect(out).To(g.ContainSubstring("ready to serve"))
}

func TestLogs_unmanagedService(t *testing.T) {
	g.RegisterTestingT(t)

	h := newHarness(t, switcher.Config{}, servingFleet())
	seedServing(t, h, "fast")

	_, err := h.controller.Logs(context.Background(), "open-webui", 100)

	g.Expect(err).To(g.MatchError(errors.ErrServiceNotAllowed))
}
