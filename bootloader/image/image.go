// Package image implements a block-structured container for node
// firmware images: a flat binary split into fixed-size blocks, each
// tagged with a target address and a family identifier so a
// programmer can reject a file built for the wrong node family before
// it ever reaches Engine.writeMemory.
package image

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FamilyID tags which node family an image targets. A programmer
// rejects every block whose family doesn't match the one it expects,
// the same way a label on a bootloader key prevents flashing the
// wrong board.
type FamilyID uint32

// FamilySTM8WakeNode is the family tag used by this toolchain's own
// image builder, distinct from any UF2 family ID in circulation so a
// node image and a UF2 file can never be mistaken for each other.
const FamilySTM8WakeNode FamilyID = 0x53544d38 // "STM8"

type blockHeader struct {
	b [headerSize]byte
}

type blockFooter struct {
	b [blockSize - headerSize]byte
}

const (
	blockSize  = 512
	headerSize = 32

	magic1   = 0x0a324655
	magic2   = 0x9e5d5157
	magicEnd = 0x0ab16f30

	flagFamilyID = 0x00002000
)

// Reader streams the payload of every block in an image file matching
// family, in address order, as a single contiguous byte stream.
type Reader struct {
	StartAddr uint32

	r      io.Reader
	addr   uint32
	family FamilyID
	header blockHeader
	footer blockFooter
	idx    uint32
}

// NewReader wraps r, which must yield complete image blocks matching
// family.
func NewReader(r io.Reader, family FamilyID) *Reader {
	return &Reader{
		r:      r,
		family: family,
		idx:    blockSize - headerSize,
	}
}

func (r *Reader) Read(buf []byte) (int, error) {
	if err := r.loadBlock(); err != nil {
		return 0, err
	}
	n := min(len(buf), int(r.header.PayloadSize()-r.idx))
	n, err := r.r.Read(buf[:n])
	r.idx += uint32(n)
	return n, err
}

func (r *Reader) loadBlock() error {
	if r.idx < r.header.PayloadSize() {
		return nil
	}
	prevPayload := r.header.PayloadSize()
	for {
		if n := len(r.footer.b) - int(r.idx); n > 0 {
			footer := r.footer.b[:n]
			if _, err := io.ReadFull(r.r, footer); err != nil {
				return err
			}
			me := binary.LittleEndian.Uint32(footer[len(footer)-4:])
			if me != magicEnd {
				return errors.New("image: invalid footer magic")
			}
		}

		r.idx = 0
		if _, err := io.ReadFull(r.r, r.header.b[:]); err != nil {
			return err
		}
		bo := binary.LittleEndian
		m0 := bo.Uint32(r.header.b[0:4])
		m1 := bo.Uint32(r.header.b[4:8])
		if m0 != magic1 || m1 != magic2 {
			return errors.New("image: invalid header magic")
		}
		flags := r.header.Flags()
		if flags&flagFamilyID == 0 {
			continue
		}
		if fam := r.header.FamilyID(); fam != uint32(r.family) {
			return fmt.Errorf("image: block tagged for family %#x, want %#x", fam, uint32(r.family))
		}
		flags &^= flagFamilyID
		if flags != 0 {
			return fmt.Errorf("image: unsupported flags: %x", flags)
		}
		addr := r.header.TargetAddr()
		if r.StartAddr == 0 {
			r.StartAddr = addr
			r.addr = addr
		}
		if addr != r.addr+prevPayload {
			return errors.New("image: non-contiguous data")
		}
		r.addr = addr
		return nil
	}
}

// Writer emits an image one block at a time, for a build step that
// packages a flat firmware binary for wakeboot to flash.
type Writer struct {
	w        io.Writer
	family   FamilyID
	addr     uint32
	blockNo  uint32
	numBlock uint32
}

// NewWriter prepares a Writer that will emit numBlocks blocks, each
// tagged with family, starting at startAddr.
func NewWriter(w io.Writer, family FamilyID, startAddr uint32, numBlocks uint32) *Writer {
	return &Writer{w: w, family: family, addr: startAddr, numBlock: numBlocks}
}

// WriteBlock emits one block whose payload is data, which must be no
// larger than the image format's per-block payload capacity.
func (w *Writer) WriteBlock(data []byte) error {
	const payloadCap = blockSize - headerSize - 4
	if len(data) > payloadCap {
		return fmt.Errorf("image: block payload exceeds %d bytes", payloadCap)
	}
	var h blockHeader
	bo := binary.LittleEndian
	bo.PutUint32(h.b[0:4], magic1)
	bo.PutUint32(h.b[4:8], magic2)
	h.SetFlags(flagFamilyID)
	h.SetTargetAddr(w.addr)
	h.SetPayloadSize(uint32(len(data)))
	h.SetBlockNo(w.blockNo)
	h.SetNumBlocks(w.numBlock)
	h.SetFamilyID(uint32(w.family))
	if _, err := w.w.Write(h.b[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(data); err != nil {
		return err
	}
	pad := payloadCap - len(data)
	if pad > 0 {
		if _, err := w.w.Write(make([]byte, pad)); err != nil {
			return err
		}
	}
	var footer [4]byte
	bo.PutUint32(footer[:], magicEnd)
	if _, err := w.w.Write(footer[:]); err != nil {
		return err
	}
	w.addr += uint32(len(data))
	w.blockNo++
	return nil
}

func (b *blockHeader) Flags() uint32       { return b.getHeader(8) }
func (b *blockHeader) SetFlags(f uint32)   { b.setHeader(8, f) }
func (b *blockHeader) TargetAddr() uint32  { return b.getHeader(12) }
func (b *blockHeader) SetTargetAddr(a uint32) { b.setHeader(12, a) }
func (b *blockHeader) PayloadSize() uint32 { return b.getHeader(16) }
func (b *blockHeader) SetPayloadSize(s uint32) { b.setHeader(16, s) }
func (b *blockHeader) SetBlockNo(n uint32) { b.setHeader(20, n) }
func (b *blockHeader) SetNumBlocks(n uint32) { b.setHeader(24, n) }
func (b *blockHeader) FamilyID() uint32    { return b.getHeader(28) }
func (b *blockHeader) SetFamilyID(f uint32) { b.setHeader(28, f) }

func (b *blockHeader) getHeader(off int) uint32 {
	return binary.LittleEndian.Uint32(b.b[off : off+4])
}

func (b *blockHeader) setHeader(off int, v uint32) {
	binary.LittleEndian.PutUint32(b.b[off:off+4], v)
}
