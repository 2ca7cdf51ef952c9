package wake

import (
	"wakefleet.dev/crc8"
	"wakefleet.dev/eeprom"
	"wakefleet.dev/frame"
	"wakefleet.dev/optime"
)

// rxState is the receive frame state machine's current stage, walking
// a packet in from the wire one de-stuffed byte at a time.
type rxState int

const (
	rxWaitFend rxState = iota
	rxAddr
	rxCmd
	rxNbt
	rxData
)

// pendingKind marks what ServiceOnce should do with the packet
// buffered by the receive side.
type pendingKind int

const (
	pendingNone pendingKind = iota
	pendingCmd
	pendingErr
)

// eeprom layout: the two address bytes, followed by the OpTime ring.
const (
	offsetNodeAddr  = 0
	offsetGroupAddr = 1
	offsetOpTime    = 2
)

// Engine drives one node's half of the Wake protocol: it decodes
// frames off a UART, filters by address, dispatches the reserved
// built-in commands or forwards to the module list, and answers with
// exactly one reply per directly-addressed request.
type Engine struct {
	uart         UART
	driverEnable DriverEnable
	watchdog     Watchdog
	store        eeprom.Store
	opTime       *optime.Counter
	modules      *ModuleList
	onReboot     func()

	nodeAddr  byte
	groupAddr byte

	dec frame.Decoder
	crc crc8.Hash

	state   rxState
	ptr     byte
	pending pendingKind
	pkt     Packet

	tenMinPending bool
}

// NewEngine builds an Engine over the given transport and store.
// Node and group addresses are loaded from store; if either holds a
// value outside its valid range (a blank or corrupt EEPROM), it is
// reset to its default and the corrected value is written back.
func NewEngine(uart UART, driverEnable DriverEnable, watchdog Watchdog, store eeprom.Store, modules *ModuleList) *Engine {
	e := &Engine{
		uart:         uart,
		driverEnable: driverEnable,
		watchdog:     watchdog,
		store:        store,
		opTime:       optime.New(store, offsetOpTime),
		modules:      modules,
	}
	e.nodeAddr = store.ReadByte(offsetNodeAddr)
	e.groupAddr = store.ReadByte(offsetGroupAddr)
	dirty := false
	if !IsValidNodeAddr(e.nodeAddr) {
		e.nodeAddr = DefaultNodeAddr
		dirty = true
	}
	if !IsValidGroupAddr(e.groupAddr) {
		e.groupAddr = DefaultGroupAddr
		dirty = true
	}
	if dirty {
		e.persistAddresses()
	}
	return e
}

// OnReboot registers the callback C_REBOOT invokes once its key
// matches. On real hardware this resets the MCU and never returns.
func (e *Engine) OnReboot(f func()) {
	e.onReboot = f
}

// NodeAddr and GroupAddr report the node's current addresses.
func (e *Engine) NodeAddr() byte  { return e.nodeAddr }
func (e *Engine) GroupAddr() byte { return e.groupAddr }

func (e *Engine) persistAddresses() {
	if !e.store.Unlock() {
		return
	}
	e.store.WriteByte(offsetNodeAddr, e.nodeAddr)
	e.store.WriteByte(offsetGroupAddr, e.groupAddr)
	e.store.Lock()
}

// Tick marks that a ten-minute interval has elapsed. The caller is
// responsible for calling it on its own cadence; the engine itself
// has no notion of wall-clock time. The counter advance and module
// state flush it schedules happen on the next ServiceOnce call that
// finds the receiver idle, not immediately, so a tick never
// interrupts a frame in flight.
func (e *Engine) Tick() {
	e.tenMinPending = true
}

// RxError signals that the UART flagged a framing, parity, noise or
// overrun error on the most recently received byte. It forces the
// receive state machine back to idle and queues CErr for the next
// ServiceOnce, matching a dropped frame.
func (e *Engine) RxError() {
	e.state = rxWaitFend
	e.pending = pendingErr
}

// RxByte feeds one raw (still stuffed) byte off the wire into the
// receive state machine.
func (e *Engine) RxByte(raw byte) {
	ev := e.dec.Decode(raw)
	switch ev.Kind {
	case frame.None:
		return
	case frame.Start:
		e.state = rxAddr
		e.crc.Reset(CRCInit)
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
		if b&0x80 != 0 {
			a := b &^ 0x80
			if a == 0 || a == e.nodeAddr || a == e.groupAddr {
				e.crc.Update(a)
				e.pkt.Addr = a
				e.state = rxCmd
				return
			}
			e.state = rxWaitFend
			return
		}
		e.pkt.Addr = 0
		e.state = rxCmd
		e.rxCmdByte(b)
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
	// If n == 0 there's no payload byte to fall through from; the very
	// next byte is the CRC trailer, caught by rxDataByte's
	// e.ptr == e.pkt.N == 0 branch.
}

func (e *Engine) rxDataByte(b byte) {
	if e.ptr < e.pkt.N {
		e.pkt.Buf[e.ptr] = b
		e.ptr++
		e.crc.Update(b)
		return
	}
	// Extra byte after the payload is the CRC trailer.
	e.state = rxWaitFend
	if b != e.crc.Sum() {
		e.pending = pendingErr
		return
	}
	e.pending = pendingCmd
}

// ServiceOnce runs one iteration of the foreground dispatch loop: it
// refreshes the watchdog, and if a frame finished decoding since the
// last call, dispatches it (built-in command, then module list, then
// ERR_NOTIMPL) and transmits a reply if the request warrants one.
func (e *Engine) ServiceOnce() error {
	e.watchdog.Refresh()

	if e.tenMinPending && e.state == rxWaitFend {
		e.tenMinPending = false
		e.opTime.Inc()
		e.modules.SaveState(e.store)
	}

	switch e.pending {
	case pendingNone:
		return nil
	case pendingErr:
		e.pending = pendingNone
		return nil
	}
	e.pending = pendingNone

	pkt := &e.pkt
	if !e.dispatchBuiltin(pkt) {
		if !e.modules.Process(pkt) {
			pkt.SetPayload([]byte{byte(ErrNotImpl)})
		}
	}

	if e.shouldReply(pkt) {
		return e.send(pkt)
	}
	return nil
}

// shouldReply mirrors the original dispatch's reply gate: a request
// addressed directly to this node always gets one; a broadcast or
// group-addressed request normally doesn't, except C_SETNODEADDRESS
// and C_GETSETGROUPADDRESS, which reply even over a group address so
// the caller can confirm the new address landed.
func (e *Engine) shouldReply(pkt *Packet) bool {
	if pkt.Addr == e.nodeAddr {
		return true
	}
	if pkt.Addr != 0 {
		switch Command(pkt.Cmd) {
		case CmdSetNodeAddress, CmdGetSetGroupAddress:
			return true
		}
	}
	return false
}

// send transmits pkt as a complete stuffed frame: FEND, address (only
// if non-broadcast, with bit 7 set on the wire), command, length,
// payload, CRC trailer, each byte-stuffed as needed. The driver-enable
// line is asserted for exactly this window.
func (e *Engine) send(pkt *Packet) error {
	e.driverEnable.Set()
	defer e.driverEnable.Clear()

	var enc frame.Encoder
	var crc crc8.Hash
	crc.Reset(CRCInit)

	var scratch [2]byte
	writeRaw := func(raw []byte) error {
		for _, b := range raw {
			if err := e.uart.SendByte(b); err != nil {
				return err
			}
		}
		return nil
	}

	if err := writeRaw(enc.Start(scratch[:])); err != nil {
		return err
	}
	crc.Update(frame.FEND)

	emit := func(value byte) error {
		crc.Update(value)
		return writeRaw(enc.Encode(value, scratch[:]))
	}
	emitAddr := func(addr byte) error {
		crc.Update(addr)
		return writeRaw(enc.Encode(addr|0x80, scratch[:]))
	}

	if pkt.Addr != 0 {
		if err := emitAddr(pkt.Addr); err != nil {
			return err
		}
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
