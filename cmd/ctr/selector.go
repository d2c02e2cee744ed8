package main

import (
	"github.com/spf13/cobra"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
	"github.com/glennswest/ctr/internal/ctr/images"
)

// selectorFlags binds the --id/--name/--version/--tag flags every
// image-selecting subcommand accepts, mirroring spec.md §4.2's
// "exactly one of id, (name,version), or tag" selector union.
type selectorFlags struct {
	id      string
	name    string
	version string
	tag     string
}

func (f *selectorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "id", "", "select image by id")
	cmd.Flags().StringVar(&f.name, "name", "", "select image by name (requires --version)")
	cmd.Flags().StringVar(&f.version, "version", "", "select image by version (requires --name)")
	cmd.Flags().StringVar(&f.tag, "tag", "", "select image by tag")
}

// selector builds an images.Selector from whichever flag was set.
func (f *selectorFlags) selector() (images.Selector, error) {
	set := 0
	for _, isSet := range []bool{f.id != "", f.name != "" || f.version != "", f.tag != ""} {
		if isSet {
			set++
		}
	}
	if set != 1 {
		return images.Selector{}, ctrerr.Newf(ctrerr.Validation, "", "exactly one of --id, --name/--version, or --tag must be set")
	}
	switch {
	case f.id != "":
		return images.ByID(images.ImageID(f.id)), nil
	case f.name != "" || f.version != "":
		return images.ByNameVersion(f.name, f.version), nil
	case f.tag != "":
		return images.ByTag(f.tag), nil
	default:
		return images.Selector{}, ctrerr.Newf(ctrerr.Validation, "", "exactly one of --id, --name/--version, or --tag must be set")
	}
}
