// Package wake implements the Wake application-layer protocol engine:
// address filtering, the receive and transmit frame state machines,
// the static module dispatcher, and the reserved built-in commands.
// It rides on top of package frame (byte stuffing) and package crc8
// (the frame checksum).
package wake

// PayloadCap bounds a Packet's payload, matching the application's
// WAKEDATABUFSIZE. The bootloader uses a larger cap and therefore
// defines its own packet type.
const PayloadCap = 64

// CRCInit seeds every frame's checksum.
const CRCInit = 0xDE

// Reserved addresses.
const (
	BroadcastAddr   = 0
	DefaultNodeAddr = 127
	DefaultGroupAddr = 95
	// BootloaderAddr is never accepted by the application engine; it
	// is reserved for the bootloader variant (package bootloader).
	BootloaderAddr = 112
)

// IsValidNodeAddr reports whether a can be assigned as a node
// address: 1..=79 or 113..=127. 112 is excluded even though the
// original firmware's range check let it through, because 112 is
// permanently reserved for the bootloader.
func IsValidNodeAddr(a byte) bool {
	return (a > 0 && a < 80) || (a > 112 && a < 128)
}

// IsValidGroupAddr reports whether a can be assigned as a group
// address: 80..=95.
func IsValidGroupAddr(a byte) bool {
	return a > 79 && a < 96
}

// Packet is the single reusable request/reply buffer the engine
// operates on: one instance is decoded into, dispatched, and then
// re-encoded as the reply.
type Packet struct {
	Addr byte // low 7 bits only; 0 means broadcast
	Cmd  byte
	N    byte
	Buf  [PayloadCap]byte
}

// Payload returns the packet's payload slice (Buf[:N]).
func (p *Packet) Payload() []byte {
	return p.Buf[:p.N]
}

// SetPayload copies data into Buf and sets N. It panics if data is
// longer than PayloadCap, which would be a programmer error: every
// producer of a reply in this package is responsible for staying
// within PayloadCap.
func (p *Packet) SetPayload(data []byte) {
	if len(data) > PayloadCap {
		panic("wake: payload exceeds PayloadCap")
	}
	p.N = byte(copy(p.Buf[:], data))
}

// Err codes carried in buf[0] of a reply.
type ErrCode byte

const (
	ErrNo           ErrCode = 0
	ErrTx           ErrCode = 1
	ErrBusy         ErrCode = 2
	ErrNotReady     ErrCode = 3
	ErrParam        ErrCode = 4
	ErrNotImpl      ErrCode = 5
	ErrNoReply      ErrCode = 6
	ErrNoCarrier    ErrCode = 7
	ErrAddrFmt      ErrCode = 8
	ErrEEPROMUnlock ErrCode = 9
)

// Device mask bits, one per logical device class a module can claim.
// Values match the original firmware's DeviceType enum so module
// authors porting C modules keep their bit assignments.
const (
	DeviceNone        byte = 0x00
	DeviceLEDDriver    byte = 0x01
	DeviceSwitch       byte = 0x02
	DeviceRGBDriver    byte = 0x04
	DeviceGenericIO    byte = 0x08
	DeviceSensor       byte = 0x10
	DevicePowerSupply  byte = 0x20
	DeviceCustom       byte = 0x80
)

// ProtocolVersion is reported by GetInfo as (major<<4)|minor.
const (
	ProtocolVersionMajor = 2
	ProtocolVersionMinor = 1
	ProtocolVersion      = ProtocolVersionMajor<<4 | ProtocolVersionMinor
)
