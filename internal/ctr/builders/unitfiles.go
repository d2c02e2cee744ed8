package builders

// unitFileKind tags a base-image systemd unit-file descriptor,
// matching original_source's _UnitFile.Kinds — a small closed enum
// over a struct, per spec.md §9's tagged-union guidance.
type unitFileKind int

const (
	dirKind unitFileKind = iota
	fileKind
	symlinkKind
)

// unitFile describes one entry to create under a base image's unit
// directory: a directory, a regular file with fixed content, or a
// symlink whose content is the link target.
type unitFile struct {
	relpath string
	kind    unitFileKind
	content string
}

func dirFile(relpath string) unitFile {
	return unitFile{relpath: relpath, kind: dirKind}
}

func regularFile(relpath, content string) unitFile {
	return unitFile{relpath: relpath, kind: fileKind, content: content}
}

func symlinkFile(relpath, target string) unitFile {
	return unitFile{relpath: relpath, kind: symlinkKind, content: target}
}

// baseUnits is the set of unit files kept from the debootstrapped
// tree's etc/systemd/system and usr/lib/systemd/system — every other
// unit under those two directories is removed.
var baseUnits = map[string]bool{
	"ctrl-alt-del.target": true,
	"dbus.service":        true,
	"dbus.socket":         true,

	"systemd-journald-audit.socket":  true,
	"systemd-journald-dev-log.socket": true,
	"systemd-journald.service":        true,
	"systemd-journald.socket":         true,
	"systemd-journal-flush.service":   true,

	"machine.slice": true,
	"slices.target": true,
	"user.slice":    true,

	"systemd-tmpfiles-setup-dev.service": true,
	"systemd-tmpfiles-setup.service":     true,
}

const (
	localeConf = "LANG=\"en_US.UTF-8\"\n"
	resolvConf = "nameserver 8.8.8.8\n"
	journaldConf = `[Journal]
SystemMaxUse=64M
RuntimeMaxUse=64M
`
)

// etcUnitFiles are created under etc/systemd/system.
var etcUnitFiles = []unitFile{
	dirFile("pod.target.wants"),
}

// sysinitWants lists the units sysinit.target.wants symlinks to.
var sysinitWants = []string{
	"dbus.service",
	"systemd-journald.service",
	"systemd-journal-flush.service",
	"systemd-tmpfiles-setup-dev.service",
	"systemd-tmpfiles-setup.service",
}

// socketsWants lists the units sockets.target.wants symlinks to.
var socketsWants = []string{
	"dbus.socket",
	"systemd-journald-audit.socket",
	"systemd-journald-dev-log.socket",
	"systemd-journald.socket",
}

// libUnitFiles are created under usr/lib/systemd/system: the
// project-specific unit graph — pod.target requiring basic.target,
// sysinit.target and sockets.target with their fixed wants,
// shutdown.target, and the exit.target/systemd-exit.service pair that
// forces orderly exit.
var libUnitFiles = buildLibUnitFiles()

func buildLibUnitFiles() []unitFile {
	files := []unitFile{
		regularFile("sysinit.target", "[Unit]\n"),
		dirFile("sysinit.target.wants"),
	}
	for _, name := range sysinitWants {
		files = append(files, symlinkFile("sysinit.target.wants/"+name, "../"+name))
	}

	files = append(files,
		regularFile("sockets.target", "[Unit]\n"),
		dirFile("sockets.target.wants"),
	)
	for _, name := range socketsWants {
		files = append(files, symlinkFile("sockets.target.wants/"+name, "../"+name))
	}

	files = append(files,
		regularFile("basic.target", `[Unit]
Requires=sysinit.target
Wants=sockets.target slices.target
After=sysinit.target sockets.target slices.target
`),
		regularFile("pod.target", `[Unit]
Requires=basic.target
After=basic.target
`),
		symlinkFile("default.target", "pod.target"),
		regularFile("shutdown.target", `[Unit]
DefaultDependencies=no
RefuseManualStart=yes
`),
		regularFile("exit.target", `[Unit]
DefaultDependencies=no
Requires=systemd-exit.service
After=systemd-exit.service
AllowIsolate=yes
`),
		regularFile("systemd-exit.service", `[Unit]
DefaultDependencies=no
Requires=shutdown.target
After=shutdown.target

[Service]
Type=oneshot
ExecStart=/bin/systemctl --force exit
`),
		symlinkFile("halt.target", "exit.target"),
		symlinkFile("poweroff.target", "exit.target"),
		symlinkFile("reboot.target", "exit.target"),
	)
	return files
}

// podExitScript is installed at usr/sbin/pod-exit (mode 0755). It is
// invoked from each app unit's ExecStopPost with the unit name, reads
// that unit's ExecMainStatus, records it, and forces
// `systemctl exit <status>` only for the first non-zero status ever
// recorded — every later unit (success or failure) just calls
// `systemctl exit` with no argument, preserving the first failure.
const podExitScript = `#!/usr/bin/env bash

set -o errexit -o nounset -o pipefail

if [[ "${#}" -ne 1 ]]; then
  systemctl exit 1
  exit 1
fi

# Check whether there is already any status file.
has_status="$(ls -A /var/lib/pod/exit-status)"

status="$(systemctl show --property ExecMainStatus "${1}")"
status="${status#*=}"
status="${status:-1}"

echo "${status}" > "/var/lib/pod/exit-status/${1}"

# Check whether this is the first non-zero status.
if [[ "${status}" != 0 && -z "${has_status}" ]]; then
  systemctl exit "${status}"
else
  systemctl exit
fi
`
