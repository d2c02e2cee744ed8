package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/glennswest/ctr/internal/ctr/builders"
	"github.com/glennswest/ctr/internal/ctr/columnar"
	"github.com/glennswest/ctr/internal/ctr/images"
)

func imagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "manage the content-addressed image store",
	}
	cmd.AddCommand(
		imagesBuildBaseCmd(),
		imagesPrepareBaseRootfsCmd(),
		imagesSetupBaseRootfsCmd(),
		imagesBuildCmd(),
		imagesImportCmd(),
		imagesListCmd(),
		imagesTagCmd(),
		imagesRemoveTagCmd(),
		imagesRemoveCmd(),
		imagesCleanupCmd(),
	)
	return cmd
}

func imagesPrepareBaseRootfsCmd() *cobra.Command {
	var rootfsPath string
	cmd := &cobra.Command{
		Use:   "prepare-base-rootfs",
		Short: "debootstrap a fresh rootfs (requires root)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			return builders.PrepareBaseRootfs(ctx, current.runner, rootfsPath)
		},
	}
	cmd.Flags().StringVar(&rootfsPath, "rootfs", "", "destination rootfs directory (must not exist)")
	cmd.MarkFlagRequired("rootfs")
	return cmd
}

func imagesSetupBaseRootfsCmd() *cobra.Command {
	var rootfsPath, stashPath string
	cmd := &cobra.Command{
		Use:   "setup-base-rootfs",
		Short: "prune and configure a debootstrapped rootfs into a base image layout (requires root)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stash *string
			if stashPath != "" {
				stash = &stashPath
			}
			return builders.SetupBaseRootfs(rootfsPath, stash)
		},
	}
	cmd.Flags().StringVar(&rootfsPath, "rootfs", "", "rootfs directory to configure in place")
	cmd.Flags().StringVar(&stashPath, "stash", "", "directory to move pruned content into, instead of deleting it")
	cmd.MarkFlagRequired("rootfs")
	return cmd
}

func imagesBuildBaseCmd() *cobra.Command {
	var name, version, stashPath string
	cmd := &cobra.Command{
		Use:   "build-base",
		Short: "debootstrap, configure, and install a base image in one step (requires root)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()

			rootfsPath, err := os.MkdirTemp(current.repo.Path("images", "tmp"), "base-rootfs-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(rootfsPath)
			if err := os.Remove(rootfsPath); err != nil {
				return err
			}

			if err := builders.PrepareBaseRootfs(ctx, current.runner, rootfsPath); err != nil {
				return err
			}
			var stash *string
			if stashPath != "" {
				stash = &stashPath
			}
			if err := builders.SetupBaseRootfs(rootfsPath, stash); err != nil {
				return err
			}

			id, err := current.images.Build(ctx, name, version, rootfsPath, nil)
			if err != nil {
				return err
			}
			cmd.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "base image name")
	cmd.Flags().StringVar(&version, "version", "", "base image version")
	cmd.Flags().StringVar(&stashPath, "stash", "", "directory to move pruned content into, instead of deleting it")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("version")
	return cmd
}

func imagesBuildCmd() *cobra.Command {
	var name, version, rootfsDir, tag string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "tar+gzip a rootfs directory and install it as an image",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			var tagPtr *string
			if tag != "" {
				tagPtr = &tag
			}
			id, err := current.images.Build(ctx, name, version, rootfsDir, tagPtr)
			if err != nil {
				return err
			}
			cmd.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "image name")
	cmd.Flags().StringVar(&version, "version", "", "image version")
	cmd.Flags().StringVar(&rootfsDir, "rootfs", "", "rootfs directory to install")
	cmd.Flags().StringVar(&tag, "tag", "", "tag to apply after install")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("version")
	cmd.MarkFlagRequired("rootfs")
	return cmd
}

func imagesImportCmd() *cobra.Command {
	var archivePath, tag string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "import a metadata+rootfs tar.gz archive as an image",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			var tagPtr *string
			if tag != "" {
				tagPtr = &tag
			}
			id, err := current.images.Import(ctx, archivePath, tagPtr)
			if err != nil {
				return err
			}
			cmd.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&archivePath, "archive", "", "path to the tar.gz archive")
	cmd.Flags().StringVar(&tag, "tag", "", "tag to apply after import")
	cmd.MarkFlagRequired("archive")
	return cmd
}

func imagesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list images, ordered by name then version then id",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := current.images.List()
			if err != nil {
				return err
			}
			return columnar.Write(cmd.OutOrStdout(), toImageRows(entries))
		},
	}
}

type imageRow struct {
	ID       images.ImageID `column:"ID"`
	Name     string         `column:"NAME"`
	Version  string         `column:"VERSION"`
	Tags     []string       `column:"TAGS"`
	RefCount uint64         `column:"REFS"`
}

func toImageRows(entries []images.ListEntry) []imageRow {
	rows := make([]imageRow, len(entries))
	for i, e := range entries {
		rows[i] = imageRow{ID: e.ID, Name: e.Name, Version: e.Version, Tags: e.Tags, RefCount: e.RefCount}
	}
	return rows
}

func imagesTagCmd() *cobra.Command {
	var sel selectorFlags
	var newTag string
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "write or replace a tag pointing at a selected image",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sel.selector()
			if err != nil {
				return err
			}
			ctx, cancel := cmdContext()
			defer cancel()
			return current.images.Tag(ctx, s, newTag)
		},
	}
	sel.register(cmd)
	cmd.Flags().StringVar(&newTag, "new-tag", "", "tag to write")
	cmd.MarkFlagRequired("new-tag")
	return cmd
}

func imagesRemoveTagCmd() *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "remove-tag",
		Short: "remove a tag (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			return current.images.RemoveTag(ctx, tag)
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "tag to remove")
	cmd.MarkFlagRequired("tag")
	return cmd
}

func imagesRemoveCmd() *cobra.Command {
	var sel selectorFlags
	var skipActive bool
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "remove a selected image's tags and tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sel.selector()
			if err != nil {
				return err
			}
			ctx, cancel := cmdContext()
			defer cancel()
			return current.images.Remove(ctx, s, skipActive)
		},
	}
	sel.register(cmd)
	cmd.Flags().BoolVar(&skipActive, "skip-active", false, "refuse if the image is referenced by more than one path")
	return cmd
}

func imagesCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "remove untagged, unreferenced, grace-expired images",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			return current.images.Cleanup(ctx, current.grace)
		},
	}
}
