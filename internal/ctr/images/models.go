// Package images implements the content-addressed image store:
// images/{trees,tags,tmp} under the repository root.
package images

import (
	"regexp"
	"time"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

// ImageID is a 64-hex-digit content id (a SHA-256 hex digest).
type ImageID string

var imageIDPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Validate checks id fullmatches the 64-hex-digit format (spec.md §3
// invariant 1).
func (id ImageID) Validate() error {
	if !imageIDPattern.MatchString(string(id)) {
		return ctrerr.Newf(ctrerr.Validation, string(id), "malformed image id %q", id)
	}
	return nil
}

// namePattern matches the name/version/tag charset from spec.md §3:
// lowercase alnum, internal hyphens, no leading/trailing/doubled
// hyphen.
var namePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ValidateName validates a name, tag, or single version component
// against the shared charset. kind is used only in the error message.
func ValidateName(kind, s string) error {
	if !namePattern.MatchString(s) {
		return ctrerr.Newf(ctrerr.Validation, s, "malformed %s %q", kind, s)
	}
	return nil
}

// ValidateVersion validates a version string: same charset as name,
// but spec.md only requires length >= 1, so reuse the name pattern
// (its minimum length is already 1).
func ValidateVersion(s string) error {
	return ValidateName("version", s)
}

// Metadata is an image's {name, version} record, stored as JSON at
// trees/<id>/metadata.
type Metadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Validate checks Name and Version against spec.md §3's charset rule.
func (m Metadata) Validate() error {
	if err := ValidateName("name", m.Name); err != nil {
		return err
	}
	if err := ValidateVersion(m.Version); err != nil {
		return err
	}
	return nil
}

// NameVersion selects an image by its (name, version) pair.
type NameVersion struct {
	Name    string
	Version string
}

// Selector identifies an image by exactly one of id, (name, version),
// or tag — the tagged union spec.md §9 calls for, represented as a Go
// struct with optional fields rather than an interface{} switch.
type Selector struct {
	ID          *ImageID
	NameVersion *NameVersion
	Tag         *string
}

// Validate checks that exactly one field is set and that it is
// well-formed.
func (s Selector) Validate() error {
	count := 0
	if s.ID != nil {
		count++
		if err := s.ID.Validate(); err != nil {
			return err
		}
	}
	if s.NameVersion != nil {
		count++
		if err := ValidateName("name", s.NameVersion.Name); err != nil {
			return err
		}
		if err := ValidateVersion(s.NameVersion.Version); err != nil {
			return err
		}
	}
	if s.Tag != nil {
		count++
		if err := ValidateName("tag", *s.Tag); err != nil {
			return err
		}
	}
	if count != 1 {
		return ctrerr.Newf(ctrerr.Validation, "", "exactly one of id, name+version, or tag must be set, got %d", count)
	}
	return nil
}

// String renders the selector for error messages.
func (s Selector) String() string {
	switch {
	case s.ID != nil:
		return string(*s.ID)
	case s.NameVersion != nil:
		return s.NameVersion.Name + ":" + s.NameVersion.Version
	case s.Tag != nil:
		return "tag:" + *s.Tag
	default:
		return "<empty selector>"
	}
}

// ByID is a selector shorthand.
func ByID(id ImageID) Selector { return Selector{ID: &id} }

// ByNameVersion is a selector shorthand.
func ByNameVersion(name, version string) Selector {
	return Selector{NameVersion: &NameVersion{Name: name, Version: version}}
}

// ByTag is a selector shorthand.
func ByTag(tag string) Selector { return Selector{Tag: &tag} }

// ListEntry is one row of Store.List's output.
type ListEntry struct {
	ID       ImageID
	Name     string
	Version  string
	Tags     []string
	MTime    time.Time
	RefCount uint64
}
