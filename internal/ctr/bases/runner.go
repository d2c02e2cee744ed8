package bases

import (
	"context"
	"os/exec"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

// Runner invokes an external process and waits for it, the one seam
// every call to debootstrap, tar, mount, umount, systemctl, or the
// container supervisor goes through. Tests substitute a fake Runner
// the same way the teacher's routeros.Client/stormbase.Client
// abstractions let tests substitute a fake device — an interface at
// the external-process boundary, not a second layer of polymorphism
// inside the component that uses it.
type Runner interface {
	// Run executes name with args, waits for it to exit, and returns
	// its combined stdout+stderr on failure as part of the error.
	Run(ctx context.Context, name string, args ...string) error
	// Output is like Run but returns stdout on success.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner is the production Runner: os/exec.CommandContext, so
// cancelling ctx (cmd/ctr cancels it on SIGINT/SIGTERM) kills the child
// with SIGKILL; the SIGINT/SIGTERM itself is not forwarded to the child.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return ctrerr.Newf(ctrerr.External, name, "%s %v: %v\n%s", name, args, err, out)
	}
	return nil
}

func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		var stderr []byte
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = ee.Stderr
		}
		return nil, ctrerr.Newf(ctrerr.External, name, "%s %v: %v\n%s", name, args, err, stderr)
	}
	return out, nil
}
