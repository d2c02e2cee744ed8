// Package pods implements the OverlayFS pod runtime: pods/{active,
// graveyard,tmp} under the repository root — spec.md §4.4.
package pods

import (
	"regexp"

	"github.com/google/uuid"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

// PodID is a UUID-4 string.
type PodID string

var podIDPattern = regexp.MustCompile(`^[0-9a-f]{8}-([0-9a-f]{4}-){3}[0-9a-f]{12}$`)

// Validate checks id fullmatches spec.md §3 invariant 1's pod_id regex.
func (id PodID) Validate() error {
	if !podIDPattern.MatchString(string(id)) {
		return ctrerr.Newf(ctrerr.Validation, string(id), "malformed pod id %q", id)
	}
	return nil
}

// HostnameSuffix is the first 8 hex characters of id, used to derive
// the pod's hostname (spec.md §4.4 "Hostname").
func (id PodID) HostnameSuffix() string { return string(id)[:8] }

// MachineID renders id with its dashes stripped, the value written
// into the pod's machine-id files.
func (id PodID) MachineID() string {
	out := make([]byte, 0, 32)
	for _, c := range id {
		if c != '-' {
			out = append(out, byte(c))
		}
	}
	return string(out)
}

// GenerateID returns a freshly generated, valid PodID.
func GenerateID() PodID { return PodID(uuid.New().String()) }
