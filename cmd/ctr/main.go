// ctr is the CLI front end for the content-addressed image store,
// OverlayFS pod runtime, and xar executable-archive installer —
// spec.md §6.
//
// Usage:
//
//	ctr init
//	ctr cleanup [--grace=DURATION]
//	ctr images {build-base, prepare-base-rootfs, setup-base-rootfs, build, import, list, tag, remove-tag, remove, cleanup}
//	ctr pods {list, show, cat-config, generate-id, run, prepare, run-prepared, add-ref, export-overlay, remove, cleanup}
//	ctr xars {install, list, exec, uninstall, cleanup}
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/glennswest/ctr/internal/ctr/bases"
	"github.com/glennswest/ctr/internal/ctr/config"
	"github.com/glennswest/ctr/internal/ctr/ctrerr"
	"github.com/glennswest/ctr/internal/ctr/images"
	"github.com/glennswest/ctr/internal/ctr/pods"
	"github.com/glennswest/ctr/internal/ctr/xars"
)

var version = "dev"

// Global flags, following the teacher's kubectl-sc package-var
// pattern rather than a context.Context-threaded options struct.
var (
	configPath      string
	flagRepoPath    string
	flagGracePeriod string
	flagXarScript   string
	debug           bool
)

// env is the resolved process environment built once in
// PersistentPreRunE and shared by every subcommand's RunE.
type env struct {
	log    *zap.SugaredLogger
	repo   *bases.Repo
	runner bases.Runner
	images *images.Store
	pods   *pods.Store
	xars   *xars.Store
	grace  time.Duration
}

var current env

func main() {
	rootCmd := &cobra.Command{
		Use:           "ctr",
		Short:         "content-addressed image store, pod runtime, and xar installer",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath, "path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&flagRepoPath, "repo", "", "repository root (overrides config file and CTR_REPO_PATH)")
	rootCmd.PersistentFlags().StringVar(&flagGracePeriod, "grace", "", "cleanup grace period, e.g. 1d12h (overrides config file and CTR_GRACE_PERIOD)")
	rootCmd.PersistentFlags().StringVar(&flagXarScript, "xar-script-dir", "", "xar shim script directory (overrides config file and CTR_XAR_SCRIPT_DIR)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug-level logging")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := buildEnv(); err != nil {
			return err
		}
		switch cmd.Name() {
		case "init", "help", "completion":
			return nil
		}
		return current.repo.CheckVersion()
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(imagesCmd())
	rootCmd.AddCommand(podsCmd())
	rootCmd.AddCommand(xarsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", ctrerr.KindOf(err), err)
		os.Exit(ctrerr.ExitCode(err))
	}
}

// buildEnv resolves settings (flag > env > file > default), opens the
// repository, and constructs every store — the one place outside the
// stores themselves that knows their constructor wiring.
func buildEnv() error {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zcfg.Build()
	if err != nil {
		return ctrerr.New(ctrerr.IO, "", err)
	}
	log := logger.Sugar()

	resolved, err := config.Load(configPath, config.Overrides{
		RepoPath:     flagRepoPath,
		GracePeriod:  flagGracePeriod,
		XarScriptDir: flagXarScript,
	})
	if err != nil {
		return err
	}

	repo, err := bases.NewRepo(resolved.RepoPath, log)
	if err != nil {
		return err
	}

	grace, err := bases.ParseDuration(resolved.GracePeriod)
	if err != nil {
		return ctrerr.New(ctrerr.Validation, resolved.GracePeriod, err)
	}

	const lockTimeout = 30 * time.Second
	runner := bases.ExecRunner{}
	imageStore := images.NewStore(repo, runner, lockTimeout)
	podStore := pods.NewStore(repo, imageStore, runner, lockTimeout)
	xarStore := xars.NewStore(repo, imageStore, resolved.XarScriptDir, lockTimeout)

	current = env{
		log:    log,
		repo:   repo,
		runner: runner,
		images: imageStore,
		pods:   podStore,
		xars:   xarStore,
		grace:  grace,
	}
	return nil
}

// cmdContext returns a context cancelled on SIGINT/SIGTERM.
func cmdContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "create the repository directory tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return current.repo.Init()
		},
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "reclaim images and pods past their grace period, and finish pending xar uninstalls",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			if err := current.images.Cleanup(ctx, current.grace); err != nil {
				return err
			}
			if err := current.pods.Cleanup(ctx, current.grace); err != nil {
				return err
			}
			return current.xars.Cleanup(ctx)
		},
	}
}
