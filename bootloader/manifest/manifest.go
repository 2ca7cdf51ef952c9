// Package manifest implements a small block-tagged header prepended
// to a node image: total size, target MCU id, and a placeholder
// signature offset for a future signed-image scheme. It is walked the
// same iterative item-header way a picture-format block is walked —
// one tagged fixed-width item at a time until a terminating item —
// but carries only the handful of fields wakeboot actually needs
// before it starts streaming flash writes.
package manifest

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Item type tags. An unrecognized tag is simply ignored rather than
// rejected, so a newer manifest with an extra field still reads on an
// older wakeboot.
const (
	itemSize         = 0x01
	itemMCUID        = 0x02
	itemSignatureOff = 0x03
	itemLast         = 0x7f
)

const (
	headerMagic = 0xbeef0001
	itemStride  = 8 // 1 tag byte, 3 reserved, 4 value bytes
)

// Manifest is the decoded form of a node image's header.
type Manifest struct {
	// Size is the flash image's length in bytes, not counting the
	// manifest itself.
	Size uint32
	// MCUID identifies the target microcontroller, matching the nibble
	// reported in the bootloader's GetInfo reply.
	MCUID byte
	// SignatureOffset is reserved for a future signed-image format; it
	// is always 0 until one exists.
	SignatureOffset uint32
}

// Marshal encodes m as a manifest block.
func Marshal(m Manifest) []byte {
	bo := binary.LittleEndian
	buf := make([]byte, 4, 4+3*itemStride+itemStride)
	bo.PutUint32(buf[:4], headerMagic)

	writeItem := func(tag byte, value uint32) {
		var item [itemStride]byte
		item[0] = tag
		bo.PutUint32(item[4:8], value)
		buf = append(buf, item[:]...)
	}
	writeItem(itemSize, m.Size)
	writeItem(itemMCUID, uint32(m.MCUID))
	writeItem(itemSignatureOff, m.SignatureOffset)

	var last [itemStride]byte
	last[0] = itemLast
	return append(buf, last[:]...)
}

// Unmarshal walks data's items, filling in a Manifest. It returns the
// number of header bytes consumed so the caller can find where the
// flash image itself begins right after.
func Unmarshal(data []byte) (Manifest, int, error) {
	if len(data) < 4 {
		return Manifest{}, 0, errors.New("manifest: truncated header")
	}
	bo := binary.LittleEndian
	if bo.Uint32(data[:4]) != headerMagic {
		return Manifest{}, 0, errors.New("manifest: bad magic")
	}

	var m Manifest
	idx := 4
	for {
		if idx+itemStride > len(data) {
			return Manifest{}, 0, fmt.Errorf("manifest: item at %d runs past end of header", idx)
		}
		tag := data[idx]
		value := bo.Uint32(data[idx+4 : idx+8])
		idx += itemStride
		if tag == itemLast {
			return m, idx, nil
		}
		switch tag {
		case itemSize:
			m.Size = value
		case itemMCUID:
			m.MCUID = byte(value)
		case itemSignatureOff:
			m.SignatureOffset = value
		}
	}
}
