package powersupply

import (
	"testing"

	"wakefleet.dev/wake"
)

type fakeSensor struct {
	mv, ma byte
	load   bool
	limit  uint16
}

func (s *fakeSensor) VoltageMV() uint16          { return uint16(s.mv) * 1000 }
func (s *fakeSensor) CurrentMA() uint16          { return uint16(s.ma) }
func (s *fakeSensor) LoadPresent() bool          { return s.load }
func (s *fakeSensor) SetCurrentLimitMA(l uint16) { s.limit = l }

func TestGetValueVoltage(t *testing.T) {
	s := &fakeSensor{mv: 5}
	m := New(s)
	pkt := &wake.Packet{Cmd: CmdGetValue}
	pkt.SetPayload([]byte{byte(ValueVoltage)})
	if !m.Process(pkt) {
		t.Fatal("Process did not claim CmdGetValue")
	}
	reply := pkt.Payload()
	got := uint16(reply[1]) | uint16(reply[2])<<8
	if got != 5000 {
		t.Fatalf("voltage = %d, want 5000", got)
	}
}

func TestGetValueLoadIsBoolean(t *testing.T) {
	s := &fakeSensor{load: true}
	m := New(s)
	pkt := &wake.Packet{Cmd: CmdGetValue}
	pkt.SetPayload([]byte{byte(ValueLoad)})
	m.Process(pkt)
	reply := pkt.Payload()
	if reply[1] != 1 || reply[2] != 0 {
		t.Fatalf("load reply = %v, want [1 0]", reply[1:])
	}
}

func TestGetValueRejectsUnknownKind(t *testing.T) {
	m := New(&fakeSensor{})
	pkt := &wake.Packet{Cmd: CmdGetValue}
	pkt.SetPayload([]byte{99})
	m.Process(pkt)
	if pkt.Payload()[0] != byte(wake.ErrParam) {
		t.Fatalf("status = %v, want ErrParam", pkt.Payload())
	}
}

func TestSetCurrentLimit(t *testing.T) {
	s := &fakeSensor{}
	m := New(s)
	pkt := &wake.Packet{Cmd: CmdSetCurrentLim}
	pkt.SetPayload([]byte{0x10, 0x27}) // 10000 little-endian
	m.Process(pkt)
	if s.limit != 10000 {
		t.Fatalf("limit = %d, want 10000", s.limit)
	}
	if pkt.Payload()[0] != byte(wake.ErrNo) {
		t.Fatalf("status = %v", pkt.Payload())
	}
}
