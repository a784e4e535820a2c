package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	toml "github.com/pelletier/go-toml/v2"

	"modelswitchd/pkg/errors"
	"modelswitchd/pkg/models"
)

// Config is the on-disk shape of the catalog file.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	Gateway        struct {
		// Service is the routing gateway's compose service.
		Service string `toml:"service"`
		// RoutingDir holds the per-profile routing documents.
		RoutingDir string `toml:"routing_dir"`
		// ActiveLink is the name of the pointer to the active document.
		ActiveLink string `toml:"active_link"`
	} `toml:"gateway"`
	Heavy struct {
		Service string `toml:"service"`
	} `toml:"heavy"`
	Profiles []models.WorkloadProfile `toml:"profiles"`
}

// Catalog is the static registry of workload profiles. It is built once at
// startup and read-only afterwards.
type Catalog struct {
	cfg      Config
	profiles map[string]models.WorkloadProfile
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}

	cfg := Config{}
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}

	return New(cfg)
}

// New builds a catalog from an already-parsed config.
func New(cfg Config) (*Catalog, error) {
	if len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("catalog defines no profiles")
	}

	if cfg.Gateway.Service == "" {
		return nil, fmt.Errorf("catalog defines no gateway service")
	}

	if cfg.Heavy.Service == "" {
		return nil, fmt.Errorf("catalog defines no heavy service")
	}

	profiles := make(map[string]models.WorkloadProfile, len(cfg.Profiles))

	for _, profile := range cfg.Profiles {
		if profile.ID == "" || profile.BackendService == "" || profile.RoutingConfig == "" {
			return nil, fmt.Errorf("profile %+v is missing id, service or routing_config", profile)
		}

		if _, ok := profiles[profile.ID]; ok {
			return nil, fmt.Errorf("duplicate profile id %s", profile.ID)
		}

		profiles[profile.ID] = profile
	}

	if _, ok := profiles[cfg.DefaultProfile]; !ok {
		return nil, fmt.Errorf("default profile %q is not in the catalog", cfg.DefaultProfile)
	}

	return &Catalog{cfg: cfg, profiles: profiles}, nil
}

// Profile looks up a profile by id.
func (c *Catalog) Profile(id string) (models.WorkloadProfile, error) {
	profile, ok := c.profiles[id]
	if !ok {
		return models.WorkloadProfile{}, fmt.Errorf("%w: %s", errors.ErrUnknownProfile, id)
	}

	return profile, nil
}

// Profiles returns all profiles sorted by id.
func (c *Catalog) Profiles() []models.WorkloadProfile {
	profiles := make([]models.WorkloadProfile, 0, len(c.profiles))
	for _, profile := range c.profiles {
		profiles = append(profiles, profile)
	}

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })

	return profiles
}

// BackendServices returns the backend service of every profile, sorted.
func (c *Catalog) BackendServices() []string {
	services := make([]string, 0, len(c.profiles))
	for _, profile := range c.profiles {
		services = append(services, profile.BackendService)
	}

	sort.Strings(services)

	return services
}

// DefaultProfile returns the profile used for automatic reversion.
func (c *Catalog) DefaultProfile() models.WorkloadProfile {
	return c.profiles[c.cfg.DefaultProfile]
}

func (c *Catalog) GatewayService() string {
	return c.cfg.Gateway.Service
}

func (c *Catalog) HeavyService() string {
	return c.cfg.Heavy.Service
}

// RoutingDir returns the directory holding the routing documents.
func (c *Catalog) RoutingDir() string {
	return c.cfg.Gateway.RoutingDir
}

// ActiveLinkPath returns the full path of the active routing pointer.
func (c *Catalog) ActiveLinkPath() string {
	return filepath.Join(c.cfg.Gateway.RoutingDir, c.cfg.Gateway.ActiveLink)
}

// ManagedServices returns every service the controller may act on: the
// profile backends, the heavy service and the gateway.
func (c *Catalog) ManagedServices() []string {
	services := c.BackendServices()
	services = append(services, c.cfg.Heavy.Service, c.cfg.Gateway.Service)
	sort.Strings(services)

	return services
}

// Managed reports whether the named service is under controller management.
func (c *Catalog) Managed(service string) bool {
	for _, managed := range c.ManagedServices() {
		if managed == service {
			return true
		}
	}

	return false
}

// ProfileForService returns the profile backed by the given service.
func (c *Catalog) ProfileForService(service string) (models.WorkloadProfile, bool) {
	for _, profile := range c.profiles {
		if profile.BackendService == service {
			return profile, true
		}
	}

	return models.WorkloadProfile{}, false
}
