// Package switchmod implements a relay-bank device module: up to
// eight independently addressable channels with get/set/clear/toggle
// commands, plus the node-wide On/Off/ToggleOnOff hooks restoring or
// zeroing every channel at once.
package switchmod

import (
	"wakefleet.dev/eeprom"
	"wakefleet.dev/wake"
)

// Command codes, in the switch module's reserved sub-range.
const (
	CmdGetState      byte = 24
	CmdSetState      byte = 25
	CmdClearState    byte = 26
	CmdWriteState    byte = 27
	CmdSetChannel    byte = 28
	CmdClearChannel  byte = 29
	CmdToggleChannel byte = 30
)

// Relays is the channel bank this module drives, typically a bank of
// GPIO-backed relay or solid-state switch outputs. Every method takes
// or returns a bitmask, one bit per channel.
type Relays interface {
	Read() byte
	PrevState() byte
	Write(mask byte)
	Set(mask byte)
	Clear(mask byte)
	Toggle(mask byte)
	// Restore re-applies the last state Off replaced, used by On.
	Restore()
}

// Module is a switchmod device module. The zero value is not usable;
// construct with New.
type Module struct {
	relays    Relays
	channels  byte
	nvAddr    uint16
	nvState   byte
}

// New returns a Module driving relays with the given channel count,
// persisting its last-known output state at eeprom offset nvAddr.
func New(relays Relays, channels byte, nvAddr uint16) *Module {
	return &Module{relays: relays, channels: channels, nvAddr: nvAddr}
}

func (m *Module) DeviceMask() byte { return wake.DeviceSwitch }
func (m *Module) Features() byte   { return m.channels }

func (m *Module) Init(store eeprom.Store) error {
	m.nvState = store.ReadByte(m.nvAddr)
	m.relays.Write(m.nvState)
	return nil
}

func (m *Module) Process(pkt *wake.Packet) bool {
	switch pkt.Cmd {
	case CmdGetState:
		if pkt.N != 0 {
			pkt.SetPayload([]byte{byte(wake.ErrParam)})
			return true
		}
		pkt.SetPayload([]byte{byte(wake.ErrNo), m.relays.Read(), m.relays.PrevState()})
	case CmdSetState:
		m.formResponse(pkt, m.relays.Set)
	case CmdClearState:
		m.formResponse(pkt, m.relays.Clear)
	case CmdWriteState:
		m.formResponse(pkt, m.relays.Write)
	case CmdSetChannel:
		m.formResponseMask(pkt, m.relays.Set)
	case CmdClearChannel:
		m.formResponseMask(pkt, m.relays.Clear)
	case CmdToggleChannel:
		m.formResponseMask(pkt, m.relays.Toggle)
	default:
		return false
	}
	return true
}

// formResponse applies apply to the single mask byte the request
// carries, replying with the resulting output state.
func (m *Module) formResponse(pkt *wake.Packet, apply func(mask byte)) {
	if pkt.N != 1 {
		pkt.SetPayload([]byte{byte(wake.ErrParam)})
		return
	}
	apply(pkt.Buf[0])
	pkt.SetPayload([]byte{byte(wake.ErrNo), m.relays.Read()})
}

// formResponseMask treats the single request byte as a channel index
// rather than a mask, applying apply to 1<<index.
func (m *Module) formResponseMask(pkt *wake.Packet, apply func(mask byte)) {
	if pkt.N != 1 || pkt.Buf[0] >= m.channels {
		pkt.SetPayload([]byte{byte(wake.ErrParam)})
		return
	}
	apply(1 << pkt.Buf[0])
	pkt.SetPayload([]byte{byte(wake.ErrNo), m.relays.Read()})
}

func (m *Module) On()          { m.relays.Restore() }
func (m *Module) Off()         { m.relays.Clear(0xFF) }
func (m *Module) ToggleOnOff() { m.relays.Toggle(0xFF) }

func (m *Module) SaveState(store eeprom.Store) error {
	current := m.relays.Read()
	if current == m.nvState {
		return nil
	}
	if !store.Unlock() {
		return nil
	}
	defer store.Lock()
	store.WriteByte(m.nvAddr, current)
	m.nvState = current
	return nil
}
