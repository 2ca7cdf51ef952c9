// Package leddriver implements an LED-strip dimmer device module:
// one or two brightness channels plus an optional fan-speed channel,
// addressed with simple get/set/increment/decrement commands.
package leddriver

import (
	"wakefleet.dev/eeprom"
	"wakefleet.dev/wake"
)

// Command codes, in the LED driver module's reserved sub-range.
// C_GetState, C_GetBright and C_GetFan share code 16: the single
// GetState reply carries both channels and the fan speed, so there is
// nothing left for separate Get commands to distinguish.
const (
	CmdGetState       byte = 16
	CmdSetBright      byte = 17
	CmdIncBright      byte = 18
	CmdDecBright      byte = 19
	CmdSetFan         byte = 20
	CmdSetFanAuto     byte = 21
)

const brightMax = 100

// Channel is one PWM-driven brightness output.
type Channel interface {
	Set(level byte)
	Get() byte
}

// Fan is the strip's cooling fan output, 0..100 or automatic.
type Fan interface {
	SetSpeed(percent byte)
	Speed() byte
	SetAuto(auto bool)
}

// Module is an leddriver device module. Ch2 may be nil for a
// single-channel strip; Fan may be nil for a passively cooled one.
type Module struct {
	Ch1, Ch2 Channel
	Fan      Fan
	nvAddr   uint16
	nvState  [2]byte
}

// New returns a Module persisting its channel state at eeprom offset
// nvAddr (2 bytes).
func New(ch1, ch2 Channel, fan Fan, nvAddr uint16) *Module {
	return &Module{Ch1: ch1, Ch2: ch2, Fan: fan, nvAddr: nvAddr}
}

func (m *Module) DeviceMask() byte {
	if m.Ch2 != nil {
		return wake.DeviceLEDDriver | wake.DeviceRGBDriver
	}
	return wake.DeviceLEDDriver
}

func (m *Module) Features() byte {
	var f byte
	if m.Ch2 != nil {
		f |= 0x01
	}
	if m.Fan != nil {
		f |= 0x02
	}
	return f
}

func (m *Module) Init(store eeprom.Store) error {
	m.nvState[0] = store.ReadByte(m.nvAddr)
	m.nvState[1] = store.ReadByte(m.nvAddr + 1)
	m.Ch1.Set(m.nvState[0])
	if m.Ch2 != nil {
		m.Ch2.Set(m.nvState[1])
	}
	return nil
}

func (m *Module) Process(pkt *wake.Packet) bool {
	switch pkt.Cmd {
	case CmdGetState:
		m.getState(pkt)
	case CmdSetBright:
		m.setBright(pkt, func(ch Channel, level byte) { ch.Set(level) })
	case CmdIncBright:
		m.setBright(pkt, func(ch Channel, delta byte) { ch.Set(clamp(int(ch.Get()) + int(delta))) })
	case CmdDecBright:
		m.setBright(pkt, func(ch Channel, delta byte) { ch.Set(clamp(int(ch.Get()) - int(delta))) })
	case CmdSetFan:
		m.setFan(pkt)
	case CmdSetFanAuto:
		m.setFanAuto(pkt)
	default:
		return false
	}
	return true
}

func clamp(v int) byte {
	if v < 0 {
		return 0
	}
	if v > brightMax {
		return brightMax
	}
	return byte(v)
}

func (m *Module) getState(pkt *wake.Packet) {
	if pkt.N != 0 {
		pkt.SetPayload([]byte{byte(wake.ErrParam)})
		return
	}
	reply := []byte{byte(wake.ErrNo), m.Ch1.Get()}
	if m.Ch2 != nil {
		reply = append(reply, m.Ch2.Get())
	}
	if m.Fan != nil {
		reply = append(reply, m.Fan.Speed())
	}
	pkt.SetPayload(reply)
}

// setBright expects {channel, value}: channel 0 is Ch1, 1 is Ch2.
func (m *Module) setBright(pkt *wake.Packet, apply func(ch Channel, v byte)) {
	if pkt.N != 2 {
		pkt.SetPayload([]byte{byte(wake.ErrParam)})
		return
	}
	ch := m.channel(pkt.Buf[0])
	if ch == nil {
		pkt.SetPayload([]byte{byte(wake.ErrParam)})
		return
	}
	apply(ch, pkt.Buf[1])
	pkt.SetPayload([]byte{byte(wake.ErrNo), ch.Get()})
}

func (m *Module) channel(idx byte) Channel {
	switch idx {
	case 0:
		return m.Ch1
	case 1:
		return m.Ch2
	default:
		return nil
	}
}

func (m *Module) setFan(pkt *wake.Packet) {
	if m.Fan == nil || pkt.N != 1 {
		pkt.SetPayload([]byte{byte(wake.ErrNotImpl)})
		return
	}
	m.Fan.SetSpeed(pkt.Buf[0])
	pkt.SetPayload([]byte{byte(wake.ErrNo), m.Fan.Speed()})
}

func (m *Module) setFanAuto(pkt *wake.Packet) {
	if m.Fan == nil || pkt.N != 1 {
		pkt.SetPayload([]byte{byte(wake.ErrNotImpl)})
		return
	}
	m.Fan.SetAuto(pkt.Buf[0] != 0)
	pkt.SetPayload([]byte{byte(wake.ErrNo)})
}

func (m *Module) On() {
	m.Ch1.Set(m.nvState[0])
	if m.Ch2 != nil {
		m.Ch2.Set(m.nvState[1])
	}
}

func (m *Module) Off() {
	m.Ch1.Set(0)
	if m.Ch2 != nil {
		m.Ch2.Set(0)
	}
}

func (m *Module) ToggleOnOff() {
	if m.Ch1.Get() != 0 {
		m.Off()
	} else {
		m.On()
	}
}

func (m *Module) SaveState(store eeprom.Store) error {
	ch1 := m.Ch1.Get()
	var ch2 byte
	if m.Ch2 != nil {
		ch2 = m.Ch2.Get()
	}
	if ch1 == m.nvState[0] && ch2 == m.nvState[1] {
		return nil
	}
	if !store.Unlock() {
		return nil
	}
	defer store.Lock()
	store.WriteByte(m.nvAddr, ch1)
	store.WriteByte(m.nvAddr+1, ch2)
	m.nvState[0], m.nvState[1] = ch1, ch2
	return nil
}
