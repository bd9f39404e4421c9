// Package blockdev defines the block device port: the single external
// collaborator this driver depends on (spec.md §6, "Block device
// contract"). Everything above this package talks in 512-byte sectors
// addressed by a nonnegative integer; nothing above it knows or cares
// whether those sectors sit on a real disk, a partition, or a byte slice.
package blockdev

import (
	"fmt"
	"io"

	"github.com/xaionaro-go/bytesextra"

	"github.com/kernelfs/fat32/errors"
)

// SectorSize is the fixed size of one sector, in bytes. The driver never
// negotiates a different size with the device.
const SectorSize = 512

// Sector is a nonnegative device-relative sector number. The device adds no
// offset; that is the Cache's job (spec.md §4.1, "Start-sector offset").
type Sector uint64

// Device is the abstract block device port. Implementations are assumed
// blocking and safe for concurrent use; this driver never calls Device from
// more than one goroutine without already holding the appropriate lock
// (spec.md §5), but the contract requires thread-safety regardless since the
// device is a process-wide singleton (spec.md §9).
type Device interface {
	// ReadBlock fills buf (which is always exactly SectorSize bytes) with the
	// contents of the given sector.
	ReadBlock(sector Sector, buf []byte) error
	// WriteBlock writes buf (exactly SectorSize bytes) to the given sector.
	WriteBlock(sector Sector, buf []byte) error
	// TotalSectors reports the size of the device, in sectors.
	TotalSectors() uint64
}

// MemDevice is a reference Device backed by an in-memory buffer, accessed
// through a bytesextra.ReadWriteSeeker (seek, then read or write); the
// file-backed FileDevice uses ReadAt/WriteAt instead. It exists
// for tests and for the mkfs/fsck tooling that builds or inspects images
// without a real disk underneath; production mounts provide their own
// Device wrapping the kernel's actual storage stack.
type MemDevice struct {
	raw          []byte
	stream       io.ReadWriteSeeker
	totalSectors uint64
}

// NewMemDevice creates a MemDevice with the given number of sectors, all
// zeroed.
func NewMemDevice(totalSectors uint64) *MemDevice {
	raw := make([]byte, totalSectors*SectorSize)
	return &MemDevice{
		raw:          raw,
		stream:       bytesextra.NewReadWriteSeeker(raw),
		totalSectors: totalSectors,
	}
}

// NewMemDeviceFromBytes wraps an existing byte slice as a MemDevice. len(raw)
// must be an exact multiple of SectorSize.
func NewMemDeviceFromBytes(raw []byte) (*MemDevice, error) {
	if len(raw)%SectorSize != 0 {
		return nil, errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("image size %d is not a multiple of the sector size %d", len(raw), SectorSize))
	}
	return &MemDevice{
		raw:          raw,
		stream:       bytesextra.NewReadWriteSeeker(raw),
		totalSectors: uint64(len(raw) / SectorSize),
	}, nil
}

func (d *MemDevice) TotalSectors() uint64 {
	return d.totalSectors
}

func (d *MemDevice) checkBounds(sector Sector) error {
	if uint64(sector) >= d.totalSectors {
		return errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("sector %d out of range [0, %d)", sector, d.totalSectors))
	}
	return nil
}

func (d *MemDevice) ReadBlock(sector Sector, buf []byte) error {
	if len(buf) != SectorSize {
		return errors.ErrInvalidArgument.WithMessage("buffer must be exactly one sector")
	}
	if err := d.checkBounds(sector); err != nil {
		return err
	}
	if _, err := d.stream.Seek(int64(sector)*SectorSize, io.SeekStart); err != nil {
		return errors.ErrIOFailed.Wrap(err)
	}
	if _, err := io.ReadFull(d.stream, buf); err != nil {
		return errors.ErrIOFailed.Wrap(err)
	}
	return nil
}

func (d *MemDevice) WriteBlock(sector Sector, buf []byte) error {
	if len(buf) != SectorSize {
		return errors.ErrInvalidArgument.WithMessage("buffer must be exactly one sector")
	}
	if err := d.checkBounds(sector); err != nil {
		return err
	}
	if _, err := d.stream.Seek(int64(sector)*SectorSize, io.SeekStart); err != nil {
		return errors.ErrIOFailed.Wrap(err)
	}
	if _, err := d.stream.Write(buf); err != nil {
		return errors.ErrIOFailed.Wrap(err)
	}
	return nil
}

// Bytes returns the raw backing buffer. Callers must not retain it past the
// lifetime of the MemDevice if they intend to keep using the device.
func (d *MemDevice) Bytes() []byte { return d.raw }
