package leddriver

import (
	"testing"

	"wakefleet.dev/eeprom"
	"wakefleet.dev/wake"
)

type fakeChannel struct{ level byte }

func (c *fakeChannel) Set(level byte) { c.level = level }
func (c *fakeChannel) Get() byte      { return c.level }

type fakeFan struct {
	speed byte
	auto  bool
}

func (f *fakeFan) SetSpeed(p byte)  { f.speed, f.auto = p, false }
func (f *fakeFan) Speed() byte      { return f.speed }
func (f *fakeFan) SetAuto(auto bool) { f.auto = auto }

func TestSetBrightClampsIncrement(t *testing.T) {
	ch1 := &fakeChannel{level: 95}
	m := New(ch1, nil, nil, 0)

	pkt := &wake.Packet{Cmd: CmdIncBright}
	pkt.SetPayload([]byte{0, 20})
	if !m.Process(pkt) {
		t.Fatal("Process did not claim CmdIncBright")
	}
	if ch1.level != brightMax {
		t.Fatalf("level = %d, want %d", ch1.level, brightMax)
	}
}

func TestGetStateReportsFanWhenPresent(t *testing.T) {
	ch1 := &fakeChannel{level: 50}
	fan := &fakeFan{speed: 30}
	m := New(ch1, nil, fan, 0)

	pkt := &wake.Packet{Cmd: CmdGetState}
	m.Process(pkt)
	reply := pkt.Payload()
	if len(reply) != 3 {
		t.Fatalf("reply = %v, want 3 bytes", reply)
	}
	if reply[2] != 30 {
		t.Fatalf("fan speed = %d, want 30", reply[2])
	}
}

func TestSetFanWithoutFanIsNotImpl(t *testing.T) {
	m := New(&fakeChannel{}, nil, nil, 0)
	pkt := &wake.Packet{Cmd: CmdSetFan}
	pkt.SetPayload([]byte{50})
	m.Process(pkt)
	if pkt.Payload()[0] != byte(wake.ErrNotImpl) {
		t.Fatalf("status = %v, want ErrNotImpl", pkt.Payload())
	}
}

func TestSaveStateSkipsUnchangedWrite(t *testing.T) {
	ch1 := &fakeChannel{}
	m := New(ch1, nil, nil, 4)
	store := eeprom.NewMemory(8)
	m.Init(store)

	// A sentinel written behind the module's back survives a save of
	// unchanged state only if SaveState skips the write.
	store.WriteByte(4, 0xAA)
	if err := m.SaveState(store); err != nil {
		t.Fatal(err)
	}
	if store.ReadByte(4) != 0xAA {
		t.Fatalf("unchanged SaveState wrote eeprom: %d", store.ReadByte(4))
	}
	ch1.Set(77)
	if err := m.SaveState(store); err != nil {
		t.Fatal(err)
	}
	if store.ReadByte(4) != 77 {
		t.Fatalf("eeprom = %d, want 77", store.ReadByte(4))
	}
}

func TestToggleOnOffRestoresNonvolatileLevel(t *testing.T) {
	ch1 := &fakeChannel{}
	m := New(ch1, nil, nil, 0)
	store := eeprom.NewMemory(4)
	store.WriteByte(0, 60)
	m.Init(store)

	m.ToggleOnOff()
	if ch1.level != 0 {
		t.Fatalf("first toggle left level %d, want 0", ch1.level)
	}
	m.ToggleOnOff()
	if ch1.level != 60 {
		t.Fatalf("second toggle left level %d, want 60", ch1.level)
	}
}
