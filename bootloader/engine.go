package bootloader

import (
	"wakefleet.dev/crc8"
	"wakefleet.dev/frame"
	"wakefleet.dev/wake"
)

type rxState int

const (
	rxWaitFend rxState = iota
	rxAddr
	rxCmd
	rxNbt
	rxData
)

type pendingKind int

const (
	pendingNone pendingKind = iota
	pendingCmd
	pendingErr
)

// Engine drives the bootloader's side of the protocol: the out-of-band
// one-byte handshake, the framed request/reply cycle at the fixed
// address, and flash/EEPROM programming. It reuses wake.UART and
// wake.DriverEnable so a board can share one transport and GPIO
// wiring between its application firmware and its bootloader.
type Engine struct {
	uart         wake.UART
	driverEnable wake.DriverEnable
	memory       Memory
	region       Region
	mcuID        byte

	position    uint16
	inEeprom    bool

	dec frame.Decoder
	crc crc8.NoLUT

	state   rxState
	ptr     byte
	pending pendingKind
	pkt     Packet

	onGo func(Handoff)
}

// NewEngine builds a bootloader Engine for one target region. Flash
// programming begins positioned at the start of flash.
func NewEngine(uart wake.UART, driverEnable wake.DriverEnable, memory Memory, region Region, mcuID byte) *Engine {
	return &Engine{
		uart:         uart,
		driverEnable: driverEnable,
		memory:       memory,
		region:       region,
		mcuID:        mcuID,
		position:     region.FlashStart,
	}
}

// Handshake answers a single out-of-band handshake byte: if it is
// HandshakeKey, it replies HandshakeResponse and returns true. Any
// other byte is ignored, matching the original firmware's
// ProcessHandshake, which only ever inspects the byte stream for this
// one value before framed decoding begins.
func (e *Engine) Handshake(b byte) (bool, error) {
	if b != HandshakeKey {
		return false, nil
	}
	e.driverEnable.Set()
	defer e.driverEnable.Clear()
	if err := e.uart.SendByte(HandshakeResponse); err != nil {
		return false, err
	}
	return true, nil
}

// RxError forces the receive state machine back to idle, matching a
// UART framing/parity/noise/overrun error on the most recent byte.
func (e *Engine) RxError() {
	e.state = rxWaitFend
	e.pending = pendingErr
}

// RxByte feeds one raw, still-stuffed byte into the receive state
// machine.
func (e *Engine) RxByte(raw byte) {
	ev := e.dec.Decode(raw)
	switch ev.Kind {
	case frame.None:
		return
	case frame.Start:
		e.state = rxAddr
		e.crc.Reset(wake.CRCInit)
		e.crc.Update(frame.FEND)
		return
	case frame.Error:
		e.state = rxWaitFend
		e.pending = pendingErr
		return
	case frame.Data:
		e.rxStep(ev.Byte)
	}
}

func (e *Engine) rxStep(b byte) {
	switch e.state {
	case rxWaitFend:
		return
	case rxAddr:
		if b == Addr|0x80 {
			e.crc.Update(Addr)
			e.state = rxCmd
			return
		}
		e.state = rxWaitFend
	case rxCmd:
		e.rxCmdByte(b)
	case rxNbt:
		e.rxNbtByte(b)
	case rxData:
		e.rxDataByte(b)
	}
}

func (e *Engine) rxCmdByte(b byte) {
	if b&0x80 != 0 {
		e.state = rxWaitFend
		e.pending = pendingErr
		return
	}
	e.pkt.Cmd = b
	e.crc.Update(b)
	e.state = rxNbt
}

func (e *Engine) rxNbtByte(b byte) {
	if b > PayloadCap {
		e.state = rxWaitFend
		e.pending = pendingErr
		return
	}
	e.pkt.N = b
	e.crc.Update(b)
	e.ptr = 0
	e.state = rxData
}

func (e *Engine) rxDataByte(b byte) {
	if e.ptr < e.pkt.N {
		e.pkt.Buf[e.ptr] = b
		e.ptr++
		e.crc.Update(b)
		return
	}
	e.state = rxWaitFend
	if b != e.crc.Sum() {
		e.pending = pendingErr
		return
	}
	e.pending = pendingCmd
}

// ServiceOnce dispatches a decoded request, if one is pending, and
// replies to it: the bootloader, unlike the application engine, has no
// broadcast concept. Nop and Err are the exceptions and get no reply.
func (e *Engine) ServiceOnce() error {
	switch e.pending {
	case pendingNone:
		return nil
	case pendingErr:
		e.pending = pendingNone
		return nil
	}
	e.pending = pendingNone

	pkt := &e.pkt
	switch Command(pkt.Cmd) {
	case CmdNop, CmdErr:
		return nil
	case CmdEcho:
		// payload already holds the request
	case CmdGetInfo:
		e.getInfo(pkt)
	case CmdSetPosition:
		e.setPosition(pkt)
	case CmdRead:
		e.readMemory(pkt)
	case CmdWrite:
		e.writeMemory(pkt)
	case CmdGo:
		e.goApplication(pkt)
	default:
		pkt.SetPayload([]byte{byte(wake.ErrNotImpl)})
	}
	return e.send(pkt)
}

func (e *Engine) getInfo(pkt *Packet) {
	if pkt.N != 1 || pkt.Buf[0] != InfoKey {
		pkt.SetPayload([]byte{byte(wake.ErrParam)})
		return
	}
	pkt.SetPayload([]byte{byte(wake.ErrNo), e.mcuID<<4 | BootloaderVersion, e.region.InfoBlocksOffset})
}

// setPosition points the programming cursor at a flash or EEPROM
// address. The request is a big-endian 16-bit value with bit 15
// selecting EEPROM and the low 15 bits an offset from that region's
// start.
func (e *Engine) setPosition(pkt *Packet) {
	if pkt.N != 2 {
		pkt.SetPayload([]byte{byte(wake.ErrParam)})
		return
	}
	eeprom := pkt.Buf[0]&0x80 != 0
	raw := uint16(pkt.Buf[0])<<8 | uint16(pkt.Buf[1])
	offset := raw &^ 0x8000

	var addr, end uint16
	if eeprom {
		addr, end = e.region.EepromStart+offset, e.region.EepromEnd
	} else {
		addr, end = e.region.FlashStart+offset, e.region.FlashEnd
	}
	if addr >= end {
		pkt.SetPayload([]byte{byte(wake.ErrAddrFmt)})
		return
	}
	e.position = addr
	e.inEeprom = eeprom
	pkt.SetPayload([]byte{byte(wake.ErrNo), byte(addr >> 8), byte(addr)})
}

func (e *Engine) regionEnd() uint16 {
	if e.inEeprom {
		return e.region.EepromEnd
	}
	return e.region.FlashEnd
}

func (e *Engine) regionStart() uint16 {
	if e.inEeprom {
		return e.region.EepromStart
	}
	return e.region.FlashStart
}

func (e *Engine) readMemory(pkt *Packet) {
	if pkt.N != 1 || pkt.Buf[0] > 128 {
		pkt.SetPayload([]byte{byte(wake.ErrParam)})
		return
	}
	length := pkt.Buf[0]
	end := e.regionEnd()
	if uint32(e.position)+uint32(length) > uint32(end) {
		length = byte(end - e.position)
	}
	data := make([]byte, length)
	for i := byte(0); i < length; i++ {
		data[i] = e.memory.ReadByte(e.position + uint16(i))
	}
	e.position += uint16(length)
	newOffset := e.position - e.regionStart()

	reply := make([]byte, 0, 3+len(data))
	reply = append(reply, byte(wake.ErrNo), byte(newOffset>>8), byte(newOffset))
	reply = append(reply, data...)
	pkt.SetPayload(reply)
}

// writeMemory programs pkt's payload at the current position, staging
// through unaligned bytes, then words, then whole flash blocks, then
// back down through words and bytes for the remainder. This mirrors
// the original firmware's WriteFlash exactly so a short or misaligned
// write never straddles a block boundary incorrectly.
func (e *Engine) writeMemory(pkt *Packet) {
	if !e.memory.Unlock() {
		pkt.SetPayload([]byte{byte(wake.ErrEEPROMUnlock)})
		return
	}
	defer e.memory.Lock()

	data := pkt.Payload()
	pos := e.position
	blockSize := e.region.BlockSize
	idx := 0
	n := len(data)

	for pos%4 != 0 && idx < n {
		e.memory.ProgramByte(pos, data[idx])
		pos++
		idx++
	}
	for int(pos)%blockSize != 0 && idx+4 <= n {
		var w [4]byte
		copy(w[:], data[idx:idx+4])
		e.memory.ProgramWord(pos, w)
		pos += 4
		idx += 4
	}
	for idx+blockSize <= n {
		e.memory.ProgramBlock(pos, data[idx:idx+blockSize])
		pos += uint16(blockSize)
		idx += blockSize
	}
	for idx+4 <= n {
		var w [4]byte
		copy(w[:], data[idx:idx+4])
		e.memory.ProgramWord(pos, w)
		pos += 4
		idx += 4
	}
	for idx < n {
		e.memory.ProgramByte(pos, data[idx])
		pos++
		idx++
	}
	e.position = pos
	pkt.SetPayload([]byte{byte(wake.ErrNo)})
}

// goApplication hands control to the application image, if the
// caller supplied GoKey and OnGo is set. On real hardware OnGo never
// returns. The ErrNotReady reply is sent only when control comes back:
// no OnGo callback is set, or the callback returned.
func (e *Engine) goApplication(pkt *Packet) {
	if pkt.N != 4 {
		pkt.SetPayload([]byte{byte(wake.ErrParam)})
		return
	}
	key := uint32(pkt.Buf[0])<<24 | uint32(pkt.Buf[1])<<16 | uint32(pkt.Buf[2])<<8 | uint32(pkt.Buf[3])
	if key != GoKey {
		pkt.SetPayload([]byte{byte(wake.ErrParam)})
		return
	}
	e.memory.Lock()
	if e.onGo != nil {
		e.onGo(Handoff{
			Vectors: VectorTable{AppBase: e.region.FlashStart},
			Entry:   e.region.FlashStart,
		})
	}
	pkt.SetPayload([]byte{byte(wake.ErrNotReady)})
}

// OnGo registers the callback C_GO invokes after locking flash and
// EEPROM, once the request's key matches. On real hardware this
// resets the stack and jumps into the application image and never
// returns; most callers (tests, host tooling) never set one.
func (e *Engine) OnGo(f func(Handoff)) {
	e.onGo = f
}

func (e *Engine) send(pkt *Packet) error {
	e.driverEnable.Set()
	defer e.driverEnable.Clear()

	var enc frame.Encoder
	var crc crc8.NoLUT
	crc.Reset(wake.CRCInit)
	var scratch [2]byte

	writeRaw := func(raw []byte) error {
		for _, b := range raw {
			if err := e.uart.SendByte(b); err != nil {
				return err
			}
		}
		return nil
	}
	emit := func(v byte) error {
		crc.Update(v)
		return writeRaw(enc.Encode(v, scratch[:]))
	}

	if err := writeRaw(enc.Start(scratch[:])); err != nil {
		return err
	}
	crc.Update(frame.FEND)
	crc.Update(Addr)
	if err := writeRaw(enc.Encode(Addr|0x80, scratch[:])); err != nil {
		return err
	}
	if err := emit(pkt.Cmd & 0x7F); err != nil {
		return err
	}
	if err := emit(pkt.N); err != nil {
		return err
	}
	for i := byte(0); i < pkt.N; i++ {
		if err := emit(pkt.Buf[i]); err != nil {
			return err
		}
	}
	return writeRaw(enc.Encode(crc.Sum(), scratch[:]))
}

// BootloaderVersion is reported in GetInfo's reply alongside the MCU
// identifier.
const BootloaderVersion = 0x01
