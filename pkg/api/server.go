package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelswitchd/pkg/catalog"
	"modelswitchd/pkg/defaults"
	"modelswitchd/pkg/log"
	"modelswitchd/pkg/models"
	"modelswitchd/pkg/switcher"
)

// Controller is the part of the switch engine the HTTP layer needs.
type Controller interface {
	Switch(ctx context.Context, targetID string, waitForReady bool) (*models.SwitchRecord, error)
	EnterHeavy(ctx context.Context, ttlMinutes int, waitForReady bool) (*models.SwitchRecord, error)
	Release(ctx context.Context, targetID string, waitForReady bool) (*models.SwitchRecord, error)
	Record(id string) (*models.SwitchRecord, error)
	Busy() bool
	Status(ctx context.Context) (*switcher.StatusDocument, error)
	Ready(ctx context.Context) (bool, string)
	StopAll(ctx context.Context, actor string) error
	Logs(ctx context.Context, service string, tail int) (string, error)
}

type Config struct {
	BindAddr string
	// AuthToken guards every /api/v1 route. Empty means the admin API is
	// disabled and answers 503.
	AuthToken string
	// SwitchRatePerMinute caps mutating requests per client IP.
	SwitchRatePerMinute int
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.BindAddr == "" {
		cfg.BindAddr = defaults.HTTPBindAddr
	}

	if cfg.SwitchRatePerMinute == 0 {
		cfg.SwitchRatePerMinute = defaults.SwitchRatePerMinute
	}

	return cfg
}

// Server is the admin HTTP surface of the controller.
type Server struct {
	cfg        Config
	controller Controller
	catalog    *catalog.Catalog
	router     *mux.Router
	limiter    *ipRateLimiter
}

func NewServer(cfg Config, controller Controller, cat *catalog.Catalog, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	resolved := cfg.withDefaults()

	s := &Server{
		cfg:        resolved,
		controller: controller,
		catalog:    cat,
		limiter:    newIPRateLimiter(resolved.SwitchRatePerMinute),
	}

	router := mux.NewRouter()
	router.Use(s.requestLogging)

	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.requireToken)

	v1.HandleFunc("/catalog", s.handleCatalog).Methods(http.MethodGet)
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.Handle("/switch", s.rateLimited(http.HandlerFunc(s.handleSwitch))).Methods(http.MethodPost)
	v1.HandleFunc("/switch/{id}", s.handleSwitchRecord).Methods(http.MethodGet)
	v1.Handle("/mode/switch", s.rateLimited(http.HandlerFunc(s.handleModeSwitch))).Methods(http.MethodPost)
	v1.Handle("/mode/release", s.rateLimited(http.HandlerFunc(s.handleModeRelease))).Methods(http.MethodPost)
	v1.HandleFunc("/stop", s.handleStopAll).Methods(http.MethodPost)
	v1.HandleFunc("/logs/{service}", s.handleLogs).Methods(http.MethodGet)

	s.router = router

	return s
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	logger := log.GetLogger(ctx)

	srv := &http.Server{
		Addr:              s.cfg.BindAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Infof("admin API listening on %s", s.cfg.BindAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down admin API")

	return srv.Shutdown(shutdownCtx)
}
