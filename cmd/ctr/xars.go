package main

import (
	"github.com/spf13/cobra"

	"github.com/glennswest/ctr/internal/ctr/columnar"
	"github.com/glennswest/ctr/internal/ctr/images"
	"github.com/glennswest/ctr/internal/ctr/xars"
)

func xarsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xars",
		Short: "manage installed executable archives",
	}
	cmd.AddCommand(
		xarsInstallCmd(),
		xarsListCmd(),
		xarsExecCmd(),
		xarsUninstallCmd(),
		xarsCleanupCmd(),
	)
	return cmd
}

func xarsInstallCmd() *cobra.Command {
	var sel selectorFlags
	var name, execRelpath string
	cmd := &cobra.Command{
		Use:   "install",
		Short: "install a named executable symlink and shim script from an image",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sel.selector()
			if err != nil {
				return err
			}
			ctx, cancel := cmdContext()
			defer cancel()
			return current.xars.Install(ctx, s, xars.Name(name), execRelpath)
		},
	}
	sel.register(cmd)
	cmd.Flags().StringVar(&name, "xar-name", "", "name to install the xar under")
	cmd.Flags().StringVar(&execRelpath, "exec", "", "path to the executable, relative to the image's rootfs")
	cmd.MarkFlagRequired("xar-name")
	cmd.MarkFlagRequired("exec")
	return cmd
}

func xarsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list installed xars",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := current.xars.List()
			if err != nil {
				return err
			}
			return columnar.Write(cmd.OutOrStdout(), toXarRows(entries))
		},
	}
}

type xarRow struct {
	Name        xars.Name      `column:"NAME"`
	ImageID     images.ImageID `column:"IMAGE ID"`
	ExecRelpath string         `column:"EXEC"`
}

func toXarRows(entries []xars.ListEntry) []xarRow {
	rows := make([]xarRow, len(entries))
	for i, e := range entries {
		rows[i] = xarRow{Name: e.Name, ImageID: e.ImageID, ExecRelpath: e.ExecRelpath}
	}
	return rows
}

// xarsExecCmd uses MinimumNArgs(1) and DisableFlagParsing so that every
// flag-like token after the xar name is forwarded to the xar's own
// executable untouched, rather than parsed by cobra — spec.md §4.5's
// "exec" passes argv through as-is.
func xarsExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "exec NAME [ARG...]",
		Short:              "execve(2) into an installed xar's executable, replacing this process",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			return current.xars.Exec(ctx, xars.Name(args[0]), args[1:])
		},
	}
	return cmd
}

func xarsUninstallCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "remove a xar's exec symlink and shim script",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			return current.xars.Uninstall(ctx, xars.Name(name))
		},
	}
	cmd.Flags().StringVar(&name, "xar-name", "", "xar name to uninstall")
	cmd.MarkFlagRequired("xar-name")
	return cmd
}

func xarsCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "finish reclaiming uninstalled xars whose dependencies were previously locked",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			return current.xars.Cleanup(ctx)
		},
	}
}
