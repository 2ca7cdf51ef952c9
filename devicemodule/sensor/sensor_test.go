package sensor

import (
	"testing"

	"wakefleet.dev/wake"
)

type fakeSensor struct{ value uint16 }

func (f fakeSensor) Read() uint16 { return f.value }

func TestGetValueReportsLittleEndian(t *testing.T) {
	m := New(KindTemperature, fakeSensor{value: 0x1234})
	pkt := &wake.Packet{Cmd: CmdGetValue}
	if !m.Process(pkt) {
		t.Fatal("Process did not claim CmdGetValue")
	}
	reply := pkt.Payload()
	if reply[0] != byte(wake.ErrNo) {
		t.Fatalf("status = %d", reply[0])
	}
	if got := uint16(reply[1]) | uint16(reply[2])<<8; got != 0x1234 {
		t.Fatalf("value = %#x, want 0x1234", got)
	}
}

func TestGetValueRejectsPayload(t *testing.T) {
	m := New(KindHumidity, fakeSensor{})
	pkt := &wake.Packet{Cmd: CmdGetValue}
	pkt.SetPayload([]byte{0})
	m.Process(pkt)
	if pkt.Payload()[0] != byte(wake.ErrParam) {
		t.Fatalf("status = %v, want ErrParam", pkt.Payload())
	}
}

func TestFeaturesReportsKindBit(t *testing.T) {
	m := New(KindCO2, fakeSensor{})
	if m.Features() != byte(KindCO2) {
		t.Fatalf("Features() = %#x, want %#x", m.Features(), byte(KindCO2))
	}
	if m.DeviceMask() != wake.DeviceSensor {
		t.Fatalf("DeviceMask() = %#x, want %#x", m.DeviceMask(), wake.DeviceSensor)
	}
}
