// Package config resolves ctr's runtime settings — repository path,
// garbage-collection grace period, and xar shim-script directory —
// from an optional YAML file plus the env-var and flag layers spec.md
// §6 describes.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/glennswest/ctr/internal/ctr/bases"
	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

// DefaultConfigPath is read if present; its absence is not an error.
const DefaultConfigPath = "/etc/ctr/config.yaml"

const (
	DefaultRepoPath     = "/var/lib/ctr"
	DefaultXarScriptDir = "/usr/local/bin"
)

// File is the shape of an on-disk config.yaml: every field optional,
// each one overridable by an env var or flag of the same concern.
type File struct {
	RepoPath     string `yaml:"repoPath"`
	GracePeriod  string `yaml:"gracePeriod"`
	XarScriptDir string `yaml:"xarScriptDir"`
}

// Resolved holds the final, fully-resolved settings after flag > env
// > file > default precedence has been applied.
type Resolved struct {
	RepoPath     string
	GracePeriod  string
	XarScriptDir string
}

// Overrides carries the CLI flag values a cobra command parsed; a zero
// value (empty string) means "flag not set", so the next layer down
// is consulted instead.
type Overrides struct {
	RepoPath     string
	GracePeriod  string
	XarScriptDir string
}

// Load resolves settings from configPath (if it exists), the
// CTR_REPO_PATH/CTR_GRACE_PERIOD/CTR_XAR_SCRIPT_DIR env vars, and
// flags, in that increasing order of precedence: flag > env > file >
// built-in default.
func Load(configPath string, overrides Overrides) (Resolved, error) {
	file, err := loadFile(configPath)
	if err != nil {
		return Resolved{}, err
	}

	r := Resolved{
		RepoPath:     DefaultRepoPath,
		GracePeriod:  bases.FormatDuration(bases.DefaultGracePeriod),
		XarScriptDir: DefaultXarScriptDir,
	}

	if file.RepoPath != "" {
		r.RepoPath = file.RepoPath
	}
	if file.GracePeriod != "" {
		r.GracePeriod = file.GracePeriod
	}
	if file.XarScriptDir != "" {
		r.XarScriptDir = file.XarScriptDir
	}

	if v := os.Getenv("CTR_REPO_PATH"); v != "" {
		r.RepoPath = v
	}
	if v := os.Getenv("CTR_GRACE_PERIOD"); v != "" {
		r.GracePeriod = v
	}
	if v := os.Getenv("CTR_XAR_SCRIPT_DIR"); v != "" {
		r.XarScriptDir = v
	}

	if overrides.RepoPath != "" {
		r.RepoPath = overrides.RepoPath
	}
	if overrides.GracePeriod != "" {
		r.GracePeriod = overrides.GracePeriod
	}
	if overrides.XarScriptDir != "" {
		r.XarScriptDir = overrides.XarScriptDir
	}

	if _, err := bases.ParseDuration(r.GracePeriod); err != nil {
		return Resolved{}, ctrerr.Newf(ctrerr.Validation, r.GracePeriod, "invalid grace period: %v", err)
	}

	return r, nil
}

func loadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, nil
		}
		return File{}, ctrerr.New(ctrerr.IO, path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, ctrerr.New(ctrerr.Validation, path, err)
	}
	return f, nil
}
