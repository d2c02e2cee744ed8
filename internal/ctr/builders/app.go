// Package builders implements base-image construction and per-pod
// systemd unit-file generation — spec.md §4.3, grounded directly on
// original_source/python/g1/containers/g1/containers/builders.py,
// which is authoritative here: spec.md's prose summarizes it, but the
// unit contents, the argv-escaping rule, and the pod-exit
// first-failure-wins behavior only exist spelled out in that file.
package builders

// App is one entry of a pod config's "apps" list (spec.md §4.4's
// config schema). Type, KillMode, and ServiceSection are optional —
// nil means "not supplied", matching images.Selector's use of pointer
// fields for an optional-union shape over a zero-value-means-unset
// convention.
type App struct {
	Name  string
	Exec  []string
	User  string
	Group string

	Type           *string
	KillMode       *string
	ServiceSection *string
}

// UnitFilename is the systemd unit file name generated for app.
func UnitFilename(app App) string { return app.Name + ".service" }
