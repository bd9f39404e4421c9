// Command fat32 formats, checks, and mounts FAT32 volumes (spec.md §4.6
// domain stack). It replaces the teacher's urfave/cli-based stub with a
// cobra command tree, the CLI library the rest of the example pack favors.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kernelfs/fat32/blockdev"
	"github.com/kernelfs/fat32/fat32"
	"github.com/kernelfs/fat32/mkfs"
)

func main() {
	root := &cobra.Command{
		Use:   "fat32",
		Short: "Format, check, and mount FAT32 disk images",
	}
	root.AddCommand(newFormatCommand())
	root.AddCommand(newFsckCommand())
	root.AddCommand(newMountCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newFormatCommand() *cobra.Command {
	var geometrySlug string
	var volumeLabel string

	cmd := &cobra.Command{
		Use:   "format PATH",
		Short: "Create a fresh FAT32 image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			geom, err := mkfs.LookupGeometry(geometrySlug)
			if err != nil {
				return err
			}

			dev, err := blockdev.CreateFileDevice(args[0], geom.SectorCount())
			if err != nil {
				return err
			}
			defer dev.Close()

			boot, err := mkfs.Format(dev, geom, volumeLabel)
			if err != nil {
				return err
			}

			fmt.Printf("formatted %q: %d clusters, %d bytes/cluster\n",
				args[0], boot.TotalClusters, boot.BytesPerCluster)
			return nil
		},
	}

	cmd.Flags().StringVar(&geometrySlug, "geometry", "usb-64m",
		fmt.Sprintf("volume size preset (%v)", mkfs.KnownSlugs()))
	cmd.Flags().StringVar(&volumeLabel, "label", "NO NAME", "volume label")
	return cmd
}

func newFsckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fsck PATH",
		Short: "Check a FAT32 image for basic consistency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := blockdev.OpenFileDevice(args[0])
			if err != nil {
				return err
			}
			defer dev.Close()

			mgr, err := fat32.Mount(dev, fat32.DefaultMountOptions())
			if err != nil {
				return err
			}

			root, err := mgr.OpenRoot()
			if err != nil {
				return err
			}

			visited, err := walk(mgr, root, "/")
			if err != nil {
				return err
			}

			fmt.Printf("ok: %d entries reachable, %d clusters free\n", visited, mgr.FreeClusters())
			return nil
		},
	}
}

// walk recursively visits every entry under dir, returning the count of
// entries seen. It checks each directory's cluster chain before listing it,
// so a chain loop surfaces as an early, readable error rather than an
// infinite scan. A long-name checksum mismatch is not an error: the entry is
// listed under its short name.
func walk(mgr *fat32.Manager, dir *fat32.VirtualFile, path string) (int, error) {
	if _, err := mgr.Alloc.Count(dir.Stat().FirstCluster); err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	entries, err := dir.Ls()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}

	count := 0
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		count++
		if e.Attribute&fat32.AttrDirectory == 0 {
			continue
		}
		child, err := dir.OpenPath(e.Name)
		if err != nil {
			return count, fmt.Errorf("%s/%s: %w", path, e.Name, err)
		}
		sub, err := walk(mgr, child, path+"/"+e.Name)
		if err != nil {
			return count, err
		}
		count += sub
	}
	return count, nil
}
