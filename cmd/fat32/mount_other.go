//go:build !linux
// +build !linux

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mount IMAGE MOUNTPOINT",
		Short: "Mount a FAT32 image as a FUSE file system (Linux only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("fat32 mount is only supported on Linux")
		},
	}
}
