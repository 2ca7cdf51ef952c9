// Package sensor implements a read-only environmental sensor device
// module: a single GetValue command reporting whatever physical
// quantity the attached Sensor measures.
package sensor

import (
	"wakefleet.dev/eeprom"
	"wakefleet.dev/wake"
)

// CmdGetValue is the sensor module's sole reserved command.
const CmdGetValue byte = 48

// Kind identifies the physical quantity a sensor measures, one bit
// per class so a node can host several sensors and report their
// union as its feature byte.
type Kind byte

const (
	KindTemperature Kind = 0x01
	KindHumidity    Kind = 0x02
	KindPressure    Kind = 0x04
	KindLight       Kind = 0x08
	KindCO2         Kind = 0x10
	KindPresence    Kind = 0x20
	KindWaterLeak   Kind = 0x40
)

// Sensor is the physical measurement this module reports, scaled the
// way the caller wants its units reported on the wire.
type Sensor interface {
	Read() uint16
}

// Module is a sensor device module reporting one Sensor's Kind.
type Module struct {
	kind   Kind
	sensor Sensor
}

// New returns a Module reporting sensor as the given Kind.
func New(kind Kind, sensor Sensor) *Module {
	return &Module{kind: kind, sensor: sensor}
}

func (m *Module) DeviceMask() byte { return wake.DeviceSensor }
func (m *Module) Features() byte   { return byte(m.kind) }

func (m *Module) Init(eeprom.Store) error { return nil }

func (m *Module) Process(pkt *wake.Packet) bool {
	if pkt.Cmd != CmdGetValue {
		return false
	}
	if pkt.N != 0 {
		pkt.SetPayload([]byte{byte(wake.ErrParam)})
		return true
	}
	v := m.sensor.Read()
	pkt.SetPayload([]byte{byte(wake.ErrNo), byte(v), byte(v >> 8)})
	return true
}

func (m *Module) On()                         {}
func (m *Module) Off()                        {}
func (m *Module) ToggleOnOff()                {}
func (m *Module) SaveState(eeprom.Store) error { return nil }
