// Package bootloader implements the Wake bootloader variant: a
// fixed-address, reduced command set that answers only at address 112
// and programs flash and EEPROM in place of forwarding to a module
// list. It shares its wire format (package frame) and checksum
// (package crc8) with the application engine in package wake, and
// reuses wake's status codes and UART/DriverEnable contracts.
package bootloader

// PayloadCap bounds a Packet's payload. It is larger than the
// application protocol's because flash block programming moves up to
// a full 128-byte block per request.
const PayloadCap = 140

// Addr is the bootloader's one and only listening address. Unlike
// the application engine it never answers to a group or broadcast.
const Addr = 112

// Wire handshake bytes, exchanged before any framed packet.
const (
	HandshakeKey      = 0x5A // host -> bootloader, out of band
	HandshakeResponse = 0xAB // bootloader -> host, confirms presence
	InfoKey           = 0xA5 // required as buf[0] of a GetInfo request
)

// GoKey is the 4-byte, big-endian confirmation payload C_GO requires,
// guarding against an accidental application handoff from a garbled
// or replayed frame. Distinct from InfoKey and from the application
// protocol's own reboot key.
const GoKey = 0x34B8126E

// Command identifies a bootloader request. The numbering is
// deliberately disjoint from the application protocol's reserved
// commands and leaves room below 12 for Nop/Err/Echo/GetInfo to keep
// the same framing-error semantics as the application engine.
type Command byte

const (
	CmdNop         Command = 0
	CmdErr         Command = 1
	CmdEcho        Command = 2
	CmdGetInfo     Command = 3
	CmdSetPosition Command = 12
	CmdRead        Command = 13
	CmdWrite       Command = 14
	CmdGo          Command = 15
)

// Packet is the bootloader's reusable request/reply buffer. It has no
// address field: every frame on the wire is implicitly addressed to
// Addr.
type Packet struct {
	Cmd byte
	N   byte
	Buf [PayloadCap]byte
}

// Payload returns the packet's payload slice (Buf[:N]).
func (p *Packet) Payload() []byte {
	return p.Buf[:p.N]
}

// SetPayload copies data into Buf and sets N. It panics if data is
// longer than PayloadCap.
func (p *Packet) SetPayload(data []byte) {
	if len(data) > PayloadCap {
		panic("bootloader: payload exceeds PayloadCap")
	}
	p.N = byte(copy(p.Buf[:], data))
}
