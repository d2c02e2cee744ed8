// Package xars implements the executable-archive installer: a named
// symlink plus a host-PATH shim script that expose one executable
// from inside an image's rootfs — spec.md §4.5.
package xars

import "github.com/glennswest/ctr/internal/ctr/images"

// Name is a filename-safe xar identifier. It shares images' name
// charset: spec.md doesn't define a distinct grammar for it, and
// "filename-safe" is exactly what that charset already guarantees.
type Name string

// Validate checks name against the shared filename-safe charset.
func (name Name) Validate() error {
	return images.ValidateName("xar name", string(name))
}

// ListEntry is one row of Store.List's output.
type ListEntry struct {
	Name        Name
	ImageID     images.ImageID
	ExecRelpath string
}
