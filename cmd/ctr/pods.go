package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/glennswest/ctr/internal/ctr/columnar"
	"github.com/glennswest/ctr/internal/ctr/pods"
)

func podsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pods",
		Short: "manage the OverlayFS pod runtime",
	}
	cmd.AddCommand(
		podsGenerateIDCmd(),
		podsPrepareCmd(),
		podsRunCmd(),
		podsRunPreparedCmd(),
		podsAddRefCmd(),
		podsExportOverlayCmd(),
		podsRemoveCmd(),
		podsCleanupCmd(),
		podsListCmd(),
		podsShowCmd(),
		podsCatConfigCmd(),
	)
	return cmd
}

func podsGenerateIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-id",
		Short: "print a freshly generated pod id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pods.WriteGeneratedID(cmd.OutOrStdout())
		},
	}
}

func podsPrepareCmd() *cobra.Command {
	var podID, cfgPath string
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "resolve a pod config's images and stage the pod without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			return current.pods.Prepare(ctx, pods.PodID(podID), cfgPath)
		},
	}
	cmd.Flags().StringVar(&podID, "pod-id", "", "pod id (see generate-id)")
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to the pod config JSON")
	cmd.MarkFlagRequired("pod-id")
	cmd.MarkFlagRequired("config")
	return cmd
}

func podsRunCmd() *cobra.Command {
	var podID, cfgPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "prepare (if needed) and start a pod",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			return current.pods.Run(ctx, pods.PodID(podID), cfgPath)
		},
	}
	cmd.Flags().StringVar(&podID, "pod-id", "", "pod id (see generate-id)")
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to the pod config JSON")
	cmd.MarkFlagRequired("pod-id")
	cmd.MarkFlagRequired("config")
	return cmd
}

func podsRunPreparedCmd() *cobra.Command {
	var podID string
	cmd := &cobra.Command{
		Use:   "run-prepared",
		Short: "start a pod that has already been prepared",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			return current.pods.RunPrepared(ctx, pods.PodID(podID))
		},
	}
	cmd.Flags().StringVar(&podID, "pod-id", "", "pod id")
	cmd.MarkFlagRequired("pod-id")
	return cmd
}

func podsAddRefCmd() *cobra.Command {
	var podID, dst string
	cmd := &cobra.Command{
		Use:   "add-ref",
		Short: "hard-link a pod's config to an external reference path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return current.pods.AddRef(pods.PodID(podID), dst)
		},
	}
	cmd.Flags().StringVar(&podID, "pod-id", "", "pod id")
	cmd.Flags().StringVar(&dst, "dst", "", "destination path for the new hard link")
	cmd.MarkFlagRequired("pod-id")
	cmd.MarkFlagRequired("dst")
	return cmd
}

func podsExportOverlayCmd() *cobra.Command {
	var podID, name, version, outputPath string
	var filters []string
	cmd := &cobra.Command{
		Use:   "export-overlay",
		Short: "export a pod's composed rootfs as a metadata+rootfs tar.gz, importable as a new image",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			return current.pods.ExportOverlay(ctx, pods.PodID(podID), name, version, filters, outputPath)
		},
	}
	cmd.Flags().StringVar(&podID, "pod-id", "", "pod id")
	cmd.Flags().StringVar(&name, "name", "", "name recorded in the exported image's metadata")
	cmd.Flags().StringVar(&version, "version", "", "version recorded in the exported image's metadata")
	cmd.Flags().StringVar(&outputPath, "output", "", "output tar.gz path")
	cmd.Flags().StringArrayVar(&filters, "exclude", nil, "rsync/gitignore-style rootfs exclude pattern (repeatable)")
	cmd.MarkFlagRequired("pod-id")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("version")
	cmd.MarkFlagRequired("output")
	return cmd
}

func podsRemoveCmd() *cobra.Command {
	var podID string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "unmount and move a pod from active/ to graveyard/",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			return current.pods.Remove(ctx, pods.PodID(podID))
		},
	}
	cmd.Flags().StringVar(&podID, "pod-id", "", "pod id")
	cmd.MarkFlagRequired("pod-id")
	return cmd
}

func podsCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "reclaim graveyard and tmp pod entries past grace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			return current.pods.Cleanup(ctx, current.grace)
		},
	}
}

func podsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list pods, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := current.pods.List()
			if err != nil {
				return err
			}
			return columnar.Write(cmd.OutOrStdout(), toPodRows(entries))
		},
	}
}

type podRow struct {
	ID      pods.PodID `column:"ID"`
	Name    string     `column:"NAME"`
	Version string     `column:"VERSION"`
	Active  bool       `column:"ACTIVE"`
}

func toPodRows(entries []pods.ListEntry) []podRow {
	rows := make([]podRow, len(entries))
	for i, e := range entries {
		rows[i] = podRow{ID: e.ID, Name: e.Name, Version: e.Version, Active: e.Active}
	}
	return rows
}

func podsShowCmd() *cobra.Command {
	var podID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "show per-app exit status for a pod",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := current.pods.Show(pods.PodID(podID))
			if err != nil {
				return err
			}
			return columnar.Write(cmd.OutOrStdout(), toAppStatusRows(statuses))
		},
	}
	cmd.Flags().StringVar(&podID, "pod-id", "", "pod id")
	cmd.MarkFlagRequired("pod-id")
	return cmd
}

type appStatusRow struct {
	Name         string     `column:"APP"`
	LastExit     *int       `column:"LAST EXIT"`
	LastExitTime *time.Time `column:"AT"`
}

func toAppStatusRows(statuses []pods.AppStatus) []appStatusRow {
	rows := make([]appStatusRow, len(statuses))
	for i, s := range statuses {
		rows[i] = appStatusRow{Name: s.Name, LastExit: s.LastExit, LastExitTime: s.LastExitTime}
	}
	return rows
}

func podsCatConfigCmd() *cobra.Command {
	var podID string
	cmd := &cobra.Command{
		Use:   "cat-config",
		Short: "print a pod's stored config JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return current.pods.CatConfig(pods.PodID(podID), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&podID, "pod-id", "", "pod id")
	cmd.MarkFlagRequired("pod-id")
	return cmd
}
