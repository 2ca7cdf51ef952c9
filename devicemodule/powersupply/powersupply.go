// Package powersupply implements a bench power-supply front end:
// voltage, current, instantaneous power and load-present readings,
// plus a settable current limit.
package powersupply

import (
	"wakefleet.dev/eeprom"
	"wakefleet.dev/wake"
)

// Command codes, in the power supply module's reserved sub-range.
const (
	CmdGetValue      byte = 52
	CmdSetCurrentLim byte = 53
)

// Value identifies which reading GetValue(kind) reports.
type Value byte

const (
	ValueVoltage Value = iota
	ValueCurrent
	ValuePower
	ValueLoad
)

// Sensor is the analog front end this module reports on: millivolts,
// milliamps, and whether a load is currently drawing current.
type Sensor interface {
	VoltageMV() uint16
	CurrentMA() uint16
	LoadPresent() bool
	SetCurrentLimitMA(limit uint16)
}

// Module is a powersupply device module.
type Module struct {
	sensor Sensor
}

// New returns a Module reporting on sensor.
func New(sensor Sensor) *Module {
	return &Module{sensor: sensor}
}

func (m *Module) DeviceMask() byte { return wake.DevicePowerSupply }
func (m *Module) Features() byte   { return 0 }

func (m *Module) Init(eeprom.Store) error { return nil }

func (m *Module) Process(pkt *wake.Packet) bool {
	switch pkt.Cmd {
	case CmdGetValue:
		m.getValue(pkt)
	case CmdSetCurrentLim:
		m.setCurrentLimit(pkt)
	default:
		return false
	}
	return true
}

func (m *Module) getValue(pkt *wake.Packet) {
	if pkt.N != 1 {
		pkt.SetPayload([]byte{byte(wake.ErrParam)})
		return
	}
	var v uint16
	switch Value(pkt.Buf[0]) {
	case ValueVoltage:
		v = m.sensor.VoltageMV()
	case ValueCurrent:
		v = m.sensor.CurrentMA()
	case ValuePower:
		v = m.sensor.VoltageMV() / 1000 * m.sensor.CurrentMA()
	case ValueLoad:
		if m.sensor.LoadPresent() {
			v = 1
		}
	default:
		pkt.SetPayload([]byte{byte(wake.ErrParam)})
		return
	}
	pkt.SetPayload([]byte{byte(wake.ErrNo), byte(v), byte(v >> 8)})
}

func (m *Module) setCurrentLimit(pkt *wake.Packet) {
	if pkt.N != 2 {
		pkt.SetPayload([]byte{byte(wake.ErrParam)})
		return
	}
	limit := uint16(pkt.Buf[0]) | uint16(pkt.Buf[1])<<8
	m.sensor.SetCurrentLimitMA(limit)
	pkt.SetPayload([]byte{byte(wake.ErrNo)})
}

func (m *Module) On()                             {}
func (m *Module) Off()                             {}
func (m *Module) ToggleOnOff()                     {}
func (m *Module) SaveState(eeprom.Store) error     { return nil }
