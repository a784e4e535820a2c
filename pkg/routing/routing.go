package routing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"modelswitchd/pkg/models"
)

// LinkSwapper maintains the pointer to the active routing document as a
// symlink. Repoint creates the new link under a temporary name and renames
// it over the old one, so the gateway never observes a half-written
// reference.
type LinkSwapper struct {
	dir      string
	linkPath string
}

func NewLinkSwapper(dir, linkName string) *LinkSwapper {
	return &LinkSwapper{
		dir:      dir,
		linkPath: filepath.Join(dir, linkName),
	}
}

// Repoint atomically points the active link at the profile's routing
// document. The document must already exist.
func (s *LinkSwapper) Repoint(_ context.Context, profile models.WorkloadProfile) error {
	target := profile.RoutingConfig
	if !filepath.IsAbs(target) {
		target = filepath.Join(s.dir, target)
	}

	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("routing config for profile %s: %w", profile.ID, err)
	}

	tmp := s.linkPath + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing stale temp link: %w", err)
	}

	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("creating temp link: %w", err)
	}

	if err := os.Rename(tmp, s.linkPath); err != nil {
		os.Remove(tmp)

		return fmt.Errorf("replacing active link: %w", err)
	}

	return nil
}

// Current returns the file name of the routing document currently pointed
// at, or empty when the link does not exist yet.
func (s *LinkSwapper) Current(_ context.Context) (string, error) {
	target, err := os.Readlink(s.linkPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}

		return "", fmt.Errorf("reading active link: %w", err)
	}

	return filepath.Base(target), nil
}
