package switchmod

import (
	"testing"

	"wakefleet.dev/eeprom"
	"wakefleet.dev/wake"
)

type fakeRelays struct {
	state, prev byte
}

func (r *fakeRelays) Read() byte      { return r.state }
func (r *fakeRelays) PrevState() byte { return r.prev }
func (r *fakeRelays) Write(mask byte) { r.prev, r.state = r.state, mask }
func (r *fakeRelays) Set(mask byte)   { r.Write(r.state | mask) }
func (r *fakeRelays) Clear(mask byte) { r.Write(r.state &^ mask) }
func (r *fakeRelays) Toggle(mask byte) {
	r.Write(r.state ^ mask)
}
func (r *fakeRelays) Restore() { r.Write(r.prev) }

func TestSetAndGetChannel(t *testing.T) {
	relays := &fakeRelays{}
	m := New(relays, 6, 0)
	store := eeprom.NewMemory(4)
	if err := m.Init(store); err != nil {
		t.Fatal(err)
	}

	pkt := &wake.Packet{Cmd: CmdSetChannel}
	pkt.SetPayload([]byte{2})
	if !m.Process(pkt) {
		t.Fatal("Process did not claim CmdSetChannel")
	}
	if pkt.Payload()[0] != byte(wake.ErrNo) {
		t.Fatalf("status = %v", pkt.Payload())
	}
	if relays.state != 1<<2 {
		t.Fatalf("state = %#x, want %#x", relays.state, byte(1<<2))
	}

	pkt = &wake.Packet{Cmd: CmdGetState}
	pkt.N = 0
	if !m.Process(pkt) {
		t.Fatal("Process did not claim CmdGetState")
	}
	if pkt.Payload()[1] != relays.state {
		t.Fatalf("reported state = %#x, want %#x", pkt.Payload()[1], relays.state)
	}
}

func TestOffThenOnRestoresState(t *testing.T) {
	relays := &fakeRelays{}
	m := New(relays, 6, 0)
	relays.Write(0x05)

	m.Off()
	if relays.state != 0 {
		t.Fatalf("Off() left state %#x", relays.state)
	}
	m.On()
	if relays.state != 0x05 {
		t.Fatalf("On() restored %#x, want 0x05", relays.state)
	}
}

func TestSaveStateSkipsUnchangedWrite(t *testing.T) {
	relays := &fakeRelays{}
	m := New(relays, 6, 0)
	store := eeprom.NewMemory(4)
	m.Init(store)

	// A sentinel written behind the module's back survives a save of
	// unchanged state only if SaveState skips the write.
	store.WriteByte(0, 0xAA)
	if err := m.SaveState(store); err != nil {
		t.Fatal(err)
	}
	if store.ReadByte(0) != 0xAA {
		t.Fatalf("unchanged SaveState wrote eeprom: %#x", store.ReadByte(0))
	}
	relays.Write(0x03)
	if err := m.SaveState(store); err != nil {
		t.Fatal(err)
	}
	if store.ReadByte(0) != 0x03 {
		t.Fatalf("eeprom = %#x, want 0x03", store.ReadByte(0))
	}
}

func TestProcessIgnoresForeignCommand(t *testing.T) {
	m := New(&fakeRelays{}, 6, 0)
	pkt := &wake.Packet{Cmd: 99}
	if m.Process(pkt) {
		t.Fatal("Process claimed a command outside its range")
	}
}
