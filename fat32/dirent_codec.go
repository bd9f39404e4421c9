package fat32

import (
	"bytes"

	"github.com/kernelfs/fat32/errors"
)

// maxLongNameChars is the longest name this driver will assemble or create;
// at 13 characters per long slot it needs 20 slots (spec.md §4.4 "create").
const maxLongNameChars = 255

// slotsNeededForName returns the number of contiguous directory slots (long
// entries plus the trailing short entry) required to hold a name of the
// given length (spec.md §4.4, "create": k = ceil(len/13) + 1).
func slotsNeededForName(nameLen int) int {
	return (nameLen+12)/13 + 1
}

// SplitLongName breaks an ASCII name into 13-byte chunks, one per long
// slot, in logical (reading) order. If end0 is true and the final chunk is
// short, a terminating NUL is appended; the rest of a short chunk is padded
// with 0xFF (spec.md §4.3, "Long-name split").
func SplitLongName(name string, end0 bool) ([][13]byte, error) {
	if len(name) == 0 {
		return nil, errors.ErrInvalidName.WithMessage("empty name")
	}
	if len(name) > maxLongNameChars {
		return nil, errors.ErrNameTooLong.WithMessage(name)
	}
	for _, r := range name {
		if r == 0 || r > 0x7F {
			return nil, errors.ErrInvalidName.WithMessage(name)
		}
	}

	raw := []byte(name)
	var chunks [][13]byte
	for offset := 0; offset < len(raw); offset += 13 {
		end := offset + 13
		var wroteNull bool
		if end > len(raw) {
			end = len(raw)
			wroteNull = end0
		}

		var chunk [13]byte
		for i := range chunk {
			chunk[i] = 0xFF
		}
		n := copy(chunk[:], raw[offset:end])
		if wroteNull && n < len(chunk) {
			chunk[n] = 0x00
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// EncodeLongNameSlots builds the long-name slots for `name`, in physical
// (on-disk) order: reversed, so the slot closest to the short entry (Order
// &0x3F == 1) comes last in the returned slice, matching write order in
// spec.md §4.4 "create".
func EncodeLongNameSlots(name string, checksum uint8) ([]*RawLongDirent, error) {
	chunks, err := SplitLongName(name, true)
	if err != nil {
		return nil, err
	}

	n := len(chunks)
	slots := make([]*RawLongDirent, n)
	for i, chunk := range chunks {
		order := uint8(i + 1)
		if i == n-1 {
			order |= longEntryLastSlotBit
		}
		d := &RawLongDirent{
			Order:      order,
			Attributes: AttrLongName,
			Checksum:   checksum,
		}
		d.setChunk(chunk)
		slots[n-1-i] = d
	}
	return slots, nil
}

// DecodeLongName reassembles a logical name from long-name slots given in
// logical order (index 0 is the slot closest to the short entry, order&0x3F
// == 1). It discards the 0xFF pad bytes and any trailing 0x00 terminator
// (spec.md §4.5, "Read").
func DecodeLongName(slotsInLogicalOrder []*RawLongDirent) string {
	var all []byte
	for _, d := range slotsInLogicalOrder {
		all = append(all, d.chunk()[:]...)
	}

	if i := bytes.IndexByte(all, 0x00); i >= 0 {
		all = all[:i]
	} else if i := bytes.IndexByte(all, 0xFF); i >= 0 {
		all = all[:i]
	}
	return string(all)
}
