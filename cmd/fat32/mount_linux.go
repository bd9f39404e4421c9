//go:build linux
// +build linux

package main

import (
	"fmt"

	bazilfuse "bazil.org/fuse"
	bazilfs "bazil.org/fuse/fs"
	"github.com/spf13/cobra"

	"github.com/kernelfs/fat32/blockdev"
	"github.com/kernelfs/fat32/fat32"
	"github.com/kernelfs/fat32/fuse"
)

func newMountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mount IMAGE MOUNTPOINT",
		Short: "Mount a FAT32 image as a FUSE file system",
		Args:  cobra.ExactArgs(2),
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

			conn, err := bazilfuse.Mount(args[1], bazilfuse.FSName("fat32"), bazilfuse.Subtype("fat32"))
			if err != nil {
				return err
			}
			defer conn.Close()

			fmt.Printf("mounted %q at %q\n", args[0], args[1])
			return bazilfs.Serve(conn, fuse.New(mgr))
		},
	}
}
