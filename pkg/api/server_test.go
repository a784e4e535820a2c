package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	g "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"modelswitchd/pkg/api"
	"modelswitchd/pkg/catalog"
	"modelswitchd/pkg/errors"
	"modelswitchd/pkg/models"
	"modelswitchd/pkg/switcher"
)

type stubController struct {
	switchFn     func(targetID string, wait bool) (*models.SwitchRecord, error)
	enterHeavyFn func(ttlMinutes int, wait bool) (*models.SwitchRecord, error)
	releaseFn    func(targetID string, wait bool) (*models.SwitchRecord, error)
	recordFn     func(id string) (*models.SwitchRecord, error)
	ready        bool
	readyReason  string
	logsFn       func(service string, tail int) (string, error)
}

func (s *stubController) Switch(_ context.Context, targetID string, wait bool) (*models.SwitchRecord, error) {
	if s.switchFn == nil {
		return &models.SwitchRecord{ID: "stub", State: models.SwitchSucceeded, ToProfile: targetID}, nil
	}

	return s.switchFn(targetID, wait)
}

func (s *stubController) EnterHeavy(_ context.Context, ttlMinutes int, wait bool) (*models.SwitchRecord, error) {
	if s.enterHeavyFn == nil {
		return &models.SwitchRecord{ID: "stub", State: models.SwitchSucceeded, ToProfile: "heavy"}, nil
	}

	return s.enterHeavyFn(ttlMinutes, wait)
}

func (s *stubController) Release(_ context.Context, targetID string, wait bool) (*models.SwitchRecord, error) {
	if s.releaseFn == nil {
		return &models.SwitchRecord{ID: "stub", State: models.SwitchSucceeded, ToProfile: targetID}, nil
	}

	return s.releaseFn(targetID, wait)
}

func (s *stubController) Record(id string) (*models.SwitchRecord, error) {
	if s.recordFn == nil {
		return nil, errors.ErrRecordNotFound
	}

	return s.recordFn(id)
}

func (s *stubController) Busy() bool {
	return false
}

func (s *stubController) Status(context.Context) (*switcher.StatusDocument, error) {
	return &switcher.StatusDocument{
		ActiveProfile: "fast",
		ActiveMode:    models.ModeServing,
		Backends:      map[string]switcher.BackendHealth{},
		Ready:         s.ready,
	}, nil
}

func (s *stubController) Ready(context.Context) (bool, string) {
	return s.ready, s.readyReason
}

func (s *stubController) StopAll(context.Context, string) error {
	return nil
}

func (s *stubController) Logs(_ context.Context, service string, tail int) (string, error) {
	if s.logsFn == nil {
		return "", errors.ErrServiceNotAllowed
	}

	return s.logsFn(service, tail)
}

func apiCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()

	cfg := catalog.Config{
		DefaultProfile: "fast",
		Profiles: []models.WorkloadProfile{
			{ID: "fast", BackendService: "vllm-fast", RoutingConfig: "routing.fast.yml"},
			{ID: "quality", BackendService: "vllm-quality", RoutingConfig: "routing.quality.yml"},
		},
	}
	cfg.Gateway.Service = "litellm"
	cfg.Gateway.RoutingDir = t.TempDir()
	cfg.Gateway.ActiveLink = "routing-active.yml"
	cfg.Heavy.Service = "comfyui"

	cat, err := catalog.New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	return cat
}

func newTestServer(t *testing.T, cfg api.Config, controller api.Controller) *httptest.Server {
	t.Helper()

	server := api.NewServer(cfg, controller, apiCatalog(t), prometheus.NewRegistry())
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return ts
}

func doRequest(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}

		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestHealthz_noAuthRequired(t *testing.T) {
	g.RegisterTestingT(t)

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, &stubController{ready: true})

	resp := doRequest(t, http.MethodGet, ts.URL+"/healthz", "", nil)

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusOK))
}

func TestReadyz(t *testing.T) {
	g.RegisterTestingT(t)

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, &stubController{ready: true})

	resp := doRequest(t, http.MethodGet, ts.URL+"/readyz", "", nil)

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusOK))
}

func TestReadyz_notReady(t *testing.T) {
	g.RegisterTestingT(t)

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, &stubController{
		ready:       false,
		readyReason: "backend vllm-fast is unhealthy",
	})

	resp := doRequest(t, http.MethodGet, ts.URL+"/readyz", "", nil)

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusServiceUnavailable))

	payload := map[string]interface{}{}
	g.Expect(json.NewDecoder(resp.Body).Decode(&payload)).To(g.Succeed())
	g.Expect(payload["reason"]).To(g.ContainSubstring("unhealthy"))
}

func TestAuth_noTokenConfigured(t *testing.T) {
	g.RegisterTestingT(t)

	ts := newTestServer(t, api.Config{}, &stubController{})

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/status", "", nil)

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusServiceUnavailable))
}

func TestAuth_missingToken(t *testing.T) {
	g.RegisterTestingT(t)

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, &stubController{})

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/status", "", nil)

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusUnauthorized))
}

func TestAuth_wrongToken(t *testing.T) {
	g.RegisterTestingT(t)

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, &stubController{})

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/status", "wrong", nil)

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusForbidden))
}

func TestCatalogEndpoint(t *testing.T) {
	g.RegisterTestingT(t)

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, &stubController{})

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/catalog", "secret", nil)

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusOK))

	payload := struct {
		DefaultProfile string                   `json:"default_profile"`
		Profiles       []models.WorkloadProfile `json:"profiles"`
	}{}
	g.Expect(json.NewDecoder(resp.Body).Decode(&payload)).To(g.Succeed())
	g.Expect(payload.DefaultProfile).To(g.Equal("fast"))
	g.Expect(payload.Profiles).To(g.HaveLen(2))
}

func TestSwitchEndpoint(t *testing.T) {
	g.RegisterTestingT(t)

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, &stubController{})

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/switch", "secret", map[string]interface{}{
		"target_profile": "quality",
		"wait_for_ready": true,
	})

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusOK))

	rec := models.SwitchRecord{}
	g.Expect(json.NewDecoder(resp.Body).Decode(&rec)).To(g.Succeed())
	g.Expect(rec.ToProfile).To(g.Equal("quality"))
}

func TestSwitchEndpoint_acceptedWhenAsync(t *testing.T) {
	g.RegisterTestingT(t)

	stub := &stubController{
		switchFn: func(targetID string, _ bool) (*models.SwitchRecord, error) {
			return &models.SwitchRecord{ID: "async", State: models.SwitchQueued, ToProfile: targetID}, nil
		},
	}

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, stub)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/switch", "secret", map[string]interface{}{
		"target_profile": "quality",
	})

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusAccepted))

	payload := map[string]interface{}{}
	g.Expect(json.NewDecoder(resp.Body).Decode(&payload)).To(g.Succeed())
	g.Expect(payload["poll_endpoint"]).To(g.Equal("/api/v1/switch/async"))
}

func TestSwitchEndpoint_busy(t *testing.T) {
	g.RegisterTestingT(t)

	stub := &stubController{
		switchFn: func(string, bool) (*models.SwitchRecord, error) {
			return nil, errors.ErrBusy
		},
	}

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, stub)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/switch", "secret", map[string]interface{}{
		"target_profile": "quality",
	})

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusConflict))
}

func TestSwitchEndpoint_unknownProfile(t *testing.T) {
	g.RegisterTestingT(t)

	stub := &stubController{
		switchFn: func(string, bool) (*models.SwitchRecord, error) {
			return nil, errors.ErrUnknownProfile
		},
	}

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, stub)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/switch", "secret", map[string]interface{}{
		"target_profile": "nope",
	})

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusBadRequest))
}

func TestSwitchEndpoint_absentBackend(t *testing.T) {
	g.RegisterTestingT(t)

	stub := &stubController{
		switchFn: func(string, bool) (*models.SwitchRecord, error) {
			return nil, errors.NewBackendAbsent("vllm-quality")
		},
	}

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, stub)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/switch", "secret", map[string]interface{}{
		"target_profile": "quality",
	})

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusConflict))
}

func TestSwitchEndpoint_healthTimeout(t *testing.T) {
	g.RegisterTestingT(t)

	stub := &stubController{
		switchFn: func(string, bool) (*models.SwitchRecord, error) {
			return nil, errors.HealthTimeoutError{
				Service:    "vllm-quality",
				Elapsed:    7 * time.Minute,
				LastStatus: "starting",
			}
		},
	}

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, stub)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/switch", "secret", map[string]interface{}{
		"target_profile": "quality",
	})

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusGatewayTimeout))
}

func TestSwitchRecordEndpoint_notFound(t *testing.T) {
	g.RegisterTestingT(t)

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, &stubController{})

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/switch/nope", "secret", nil)

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusNotFound))
}

func TestModeSwitchEndpoint(t *testing.T) {
	g.RegisterTestingT(t)

	gotTTL := 0
	stub := &stubController{
		enterHeavyFn: func(ttlMinutes int, _ bool) (*models.SwitchRecord, error) {
			gotTTL = ttlMinutes

			return &models.SwitchRecord{ID: "stub", State: models.SwitchSucceeded, ToProfile: "heavy"}, nil
		},
	}

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, stub)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/mode/switch", "secret", map[string]interface{}{
		"mode":        "heavy",
		"ttl_minutes": 30,
		"wait_for_ready": true,
	})

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusOK))
	g.Expect(gotTTL).To(g.Equal(30))
}

func TestModeSwitchEndpoint_unknownMode(t *testing.T) {
	g.RegisterTestingT(t)

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, &stubController{})

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/mode/switch", "secret", map[string]interface{}{
		"mode": "turbo",
	})

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusBadRequest))
}

func TestModeReleaseEndpoint_notInHeavyMode(t *testing.T) {
	g.RegisterTestingT(t)

	stub := &stubController{
		releaseFn: func(string, bool) (*models.SwitchRecord, error) {
			return nil, errors.ErrNotInHeavyMode
		},
	}

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, stub)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/mode/release", "secret", map[string]interface{}{})

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusConflict))
}

func TestModeReleaseEndpoint_emptyBody(t *testing.T) {
	g.RegisterTestingT(t)

	gotTarget := "unset"
	stub := &stubController{
		releaseFn: func(targetID string, _ bool) (*models.SwitchRecord, error) {
			gotTarget = targetID

			return &models.SwitchRecord{ID: "stub", State: models.SwitchSucceeded, ToProfile: "fast"}, nil
		},
	}

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, stub)

	// A bodyless POST is the documented shape of a forced release.
	resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/mode/release", "secret", nil)

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusOK))
	g.Expect(gotTarget).To(g.BeEmpty())
}

func TestLogsEndpoint(t *testing.T) {
	g.RegisterTestingT(t)

	stub := &stubController{
		logsFn: func(service string, tail int) (string, error) {
			g.Expect(service).To(g.Equal("vllm-fast"))
			g.Expect(tail).To(g.Equal(50))

			return "INFO serving\n", nil
		},
	}

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, stub)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/logs/vllm-fast?tail=50", "secret", nil)

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusOK))
}

func TestLogsEndpoint_unmanagedService(t *testing.T) {
	g.RegisterTestingT(t)

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, &stubController{})

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/logs/open-webui", "secret", nil)

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusForbidden))
}

func TestLogsEndpoint_badTail(t *testing.T) {
	g.RegisterTestingT(t)

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, &stubController{})

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/logs/vllm-fast?tail=-3", "secret", nil)

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusBadRequest))
}

func TestRateLimit(t *testing.T) {
	g.RegisterTestingT(t)

	ts := newTestServer(t, api.Config{AuthToken: "secret", SwitchRatePerMinute: 2}, &stubController{})

	body := map[string]interface{}{"target_profile": "quality", "wait_for_ready": true}

	first := doRequest(t, http.MethodPost, ts.URL+"/api/v1/switch", "secret", body)
	second := doRequest(t, http.MethodPost, ts.URL+"/api/v1/switch", "secret", body)
	third := doRequest(t, http.MethodPost, ts.URL+"/api/v1/switch", "secret", body)

	g.Expect(first.StatusCode).To(g.Equal(http.StatusOK))
	g.Expect(second.StatusCode).To(g.Equal(http.StatusOK))
	g.Expect(third.StatusCode).To(g.Equal(http.StatusTooManyRequests))
}

func TestStopEndpoint(t *testing.T) {
	g.RegisterTestingT(t)

	ts := newTestServer(t, api.Config{AuthToken: "secret"}, &stubController{})

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/stop", "secret", nil)

	g.Expect(resp.StatusCode).To(g.Equal(http.StatusOK))
}
