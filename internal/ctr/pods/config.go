package pods

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
	"github.com/glennswest/ctr/internal/ctr/images"
)

// AppConfig is one entry of a pod config's "apps" list.
type AppConfig struct {
	Name string   `json:"name"`
	Exec []string `json:"exec"`
	User string   `json:"user"`
	Group string  `json:"group"`

	Type           *string `json:"type,omitempty"`
	KillMode       *string `json:"kill_mode,omitempty"`
	ServiceSection *string `json:"service_section,omitempty"`
}

// Volume is one entry of a pod config's "volumes" list.
type Volume struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only"`
}

// Config is a pod's on-disk JSON configuration, spec.md §4.4's schema.
// Images is ordered deepest-first: Images[0] is the base layer,
// Images[len-1] is the topmost.
type Config struct {
	Name    string            `json:"name"`
	Version string            `json:"version"`
	Apps    []AppConfig       `json:"apps"`
	Images  []images.Selector `json:"images"`
	Volumes []Volume          `json:"volumes"`
}

// LoadConfig reads and validates a pod config from path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, ctrerr.New(ctrerr.IO, path, err)
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, ctrerr.Newf(ctrerr.Validation, path, "unknown config key or malformed pod config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces every load-time constraint spec.md §4.4 lists:
// names/versions/tags follow the shared charset; app names are
// unique; volume targets are unique and absolute; volume sources are
// absolute; at least one image is named; exactly one selector per
// image-ref.
func (c Config) Validate() error {
	if err := images.ValidateName("name", c.Name); err != nil {
		return err
	}
	if err := images.ValidateVersion(c.Version); err != nil {
		return err
	}

	appNames := make(map[string]bool, len(c.Apps))
	for _, app := range c.Apps {
		if err := images.ValidateName("app name", app.Name); err != nil {
			return err
		}
		if appNames[app.Name] {
			return ctrerr.Newf(ctrerr.Validation, app.Name, "duplicate app name %q", app.Name)
		}
		appNames[app.Name] = true
	}

	if len(c.Images) == 0 {
		return ctrerr.Newf(ctrerr.Validation, c.Name, "pod config must name at least one image")
	}
	for _, sel := range c.Images {
		if err := sel.Validate(); err != nil {
			return err
		}
	}

	targets := make(map[string]bool, len(c.Volumes))
	for _, v := range c.Volumes {
		if !filepath.IsAbs(v.Source) {
			return ctrerr.Newf(ctrerr.Validation, v.Source, "volume source must be an absolute path")
		}
		if !filepath.IsAbs(v.Target) {
			return ctrerr.Newf(ctrerr.Validation, v.Target, "volume target must be an absolute path")
		}
		if targets[v.Target] {
			return ctrerr.Newf(ctrerr.Validation, v.Target, "duplicate volume target %q", v.Target)
		}
		targets[v.Target] = true
	}
	return nil
}
