package blockdev

import (
	"fmt"
	"os"

	"github.com/kernelfs/fat32/errors"
)

// FileDevice is a Device backed by an *os.File: a disk image or a raw block
// device node, for the mkfs/fsck/fuse command-line tools (spec.md §4.6).
// Unlike MemDevice it doesn't route through bytesextra, since *os.File
// already satisfies io.ReaderAt/io.WriterAt directly.
type FileDevice struct {
	f            *os.File
	totalSectors uint64
}

// OpenFileDevice opens an existing disk image file and reports its size in
// sectors. The file's length must be an exact multiple of SectorSize.
func OpenFileDevice(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.ErrIOFailed.Wrap(err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.ErrIOFailed.Wrap(err)
	}
	if info.Size()%SectorSize != 0 {
		f.Close()
		return nil, errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("image size %d is not a multiple of the sector size %d", info.Size(), SectorSize))
	}
	return &FileDevice{f: f, totalSectors: uint64(info.Size()) / SectorSize}, nil
}

// CreateFileDevice creates (or truncates) a disk image file of exactly
// totalSectors sectors, zero-filled.
func CreateFileDevice(path string, totalSectors uint64) (*FileDevice, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.ErrIOFailed.Wrap(err)
	}
	if err := f.Truncate(int64(totalSectors) * SectorSize); err != nil {
		f.Close()
		return nil, errors.ErrIOFailed.Wrap(err)
	}
	return &FileDevice{f: f, totalSectors: totalSectors}, nil
}

func (d *FileDevice) TotalSectors() uint64 { return d.totalSectors }

func (d *FileDevice) checkBounds(sector Sector) error {
	if uint64(sector) >= d.totalSectors {
		return errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("sector %d out of range [0, %d)", sector, d.totalSectors))
	}
	return nil
}

func (d *FileDevice) ReadBlock(sector Sector, buf []byte) error {
	if len(buf) != SectorSize {
		return errors.ErrInvalidArgument.WithMessage("buffer must be exactly one sector")
	}
	if err := d.checkBounds(sector); err != nil {
		return err
	}
	if _, err := d.f.ReadAt(buf, int64(sector)*SectorSize); err != nil {
		return errors.ErrIOFailed.Wrap(err)
	}
	return nil
}

func (d *FileDevice) WriteBlock(sector Sector, buf []byte) error {
	if len(buf) != SectorSize {
		return errors.ErrInvalidArgument.WithMessage("buffer must be exactly one sector")
	}
	if err := d.checkBounds(sector); err != nil {
		return err
	}
	if _, err := d.f.WriteAt(buf, int64(sector)*SectorSize); err != nil {
		return errors.ErrIOFailed.Wrap(err)
	}
	return nil
}

// Close flushes and closes the backing file.
func (d *FileDevice) Close() error {
	return d.f.Close()
}
