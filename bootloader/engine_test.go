package bootloader

import (
	"testing"

	"wakefleet.dev/crc8"
	"wakefleet.dev/frame"
)

type recordingUART struct{ out []byte }

func (u *recordingUART) SendByte(b byte) error { u.out = append(u.out, b); return nil }
func (u *recordingUART) RecvByte() (byte, bool, error) { return 0, false, nil }

type fakeDriverEnable struct{ asserted bool }

func (d *fakeDriverEnable) Set()   { d.asserted = true }
func (d *fakeDriverEnable) Clear() { d.asserted = false }

func encodeRequest(cmd byte, payload []byte) []byte {
	var enc frame.Encoder
	var crc crc8.NoLUT
	crc.Reset(0xDE)
	var scratch [2]byte
	var out []byte

	out = append(out, enc.Start(scratch[:])...)
	crc.Update(frame.FEND)

	emit := func(v byte) {
		crc.Update(v)
		out = append(out, enc.Encode(v, scratch[:])...)
	}
	crc.Update(Addr)
	out = append(out, enc.Encode(Addr|0x80, scratch[:])...)
	emit(cmd & 0x7F)
	emit(byte(len(payload)))
	for _, b := range payload {
		emit(b)
	}
	out = append(out, enc.Encode(crc.Sum(), scratch[:])...)
	return out
}

func decodeReply(t *testing.T, raw []byte) (cmd byte, payload []byte) {
	t.Helper()
	var dec frame.Decoder
	var logical []byte
	for _, b := range raw {
		ev := dec.Decode(b)
		if ev.Kind == frame.Data {
			logical = append(logical, ev.Byte)
		}
	}
	if len(logical) < 4 {
		t.Fatalf("decodeReply: frame too short: %x", logical)
	}
	if logical[0] != Addr|0x80 {
		t.Fatalf("decodeReply: addr = %#x, want %#x", logical[0], Addr|0x80)
	}
	cmd = logical[1]
	n := logical[2]
	payload = logical[3 : 3+n]
	return cmd, payload
}

func feed(e *Engine, raw []byte) {
	for _, b := range raw {
		e.RxByte(b)
	}
}

func newTestEngine() (*Engine, *recordingUART) {
	uart := &recordingUART{}
	de := &fakeDriverEnable{}
	mem := NewSimMemory(RegionSTM8S003F3.FlashStart, int(RegionSTM8S003F3.FlashEnd-RegionSTM8S003F3.FlashStart))
	return NewEngine(uart, de, mem, RegionSTM8S003F3, 0), uart
}

func TestHandshake(t *testing.T) {
	e, uart := newTestEngine()
	ok, err := e.Handshake(HandshakeKey)
	if err != nil || !ok {
		t.Fatalf("Handshake() = %v, %v", ok, err)
	}
	if len(uart.out) != 1 || uart.out[0] != HandshakeResponse {
		t.Fatalf("uart.out = %x, want [%#x]", uart.out, HandshakeResponse)
	}
}

func TestHandshakeIgnoresWrongByte(t *testing.T) {
	e, uart := newTestEngine()
	ok, err := e.Handshake(0x00)
	if err != nil || ok {
		t.Fatalf("Handshake(0x00) = %v, %v, want false, nil", ok, err)
	}
	if len(uart.out) != 0 {
		t.Fatalf("uart.out = %x, want empty", uart.out)
	}
}

func TestGetInfo(t *testing.T) {
	e, uart := newTestEngine()
	feed(e, encodeRequest(byte(CmdGetInfo), []byte{InfoKey}))
	if err := e.ServiceOnce(); err != nil {
		t.Fatal(err)
	}
	cmd, payload := decodeReply(t, uart.out)
	if cmd != byte(CmdGetInfo) {
		t.Fatalf("cmd = %d", cmd)
	}
	want := []byte{0, 0<<4 | BootloaderVersion, RegionSTM8S003F3.InfoBlocksOffset}
	if string(payload) != string(want) {
		t.Fatalf("payload = %v, want %v", payload, want)
	}
}

func TestGetInfoRejectsWrongKey(t *testing.T) {
	e, uart := newTestEngine()
	feed(e, encodeRequest(byte(CmdGetInfo), []byte{0x00}))
	if err := e.ServiceOnce(); err != nil {
		t.Fatal(err)
	}
	_, payload := decodeReply(t, uart.out)
	if len(payload) != 1 || payload[0] != 4 {
		t.Fatalf("payload = %v, want {ERR_PA}", payload)
	}
}

func TestGoRejectsWrongKey(t *testing.T) {
	e, uart := newTestEngine()
	feed(e, encodeRequest(byte(CmdGo), []byte{0, 0, 0, 0}))
	if err := e.ServiceOnce(); err != nil {
		t.Fatal(err)
	}
	_, payload := decodeReply(t, uart.out)
	if len(payload) != 1 || payload[0] != 4 {
		t.Fatalf("payload = %v, want {ERR_PA}", payload)
	}
}

func TestGoAcceptsKeyAndCallsOnGo(t *testing.T) {
	e, _ := newTestEngine()
	var got Handoff
	called := false
	e.OnGo(func(h Handoff) {
		called = true
		got = h
	})
	feed(e, encodeRequest(byte(CmdGo), []byte{GoKey >> 24, GoKey >> 16 & 0xFF, GoKey >> 8 & 0xFF, GoKey & 0xFF}))
	if err := e.ServiceOnce(); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("OnGo callback was not invoked")
	}
	if got.Entry != RegionSTM8S003F3.FlashStart {
		t.Fatalf("Handoff.Entry = %#x, want %#x", got.Entry, RegionSTM8S003F3.FlashStart)
	}
}

func TestWriteFlashStagesBytesWordsBlocksWordsBytes(t *testing.T) {
	e, uart := newTestEngine()

	// Position one byte before a word boundary so the staged write
	// exercises every phase: 1 lead byte, one aligned word, one full
	// block, one trailing word, 3 trailing bytes.
	region := RegionSTM8S003F3
	region.BlockSize = 8 // small block for a compact test payload
	e.region = region
	e.position = region.FlashStart + 3

	data := make([]byte, 1+4+8+4+3)
	for i := range data {
		data[i] = byte(i + 1)
	}
	feed(e, encodeRequest(byte(CmdWrite), data))
	if err := e.ServiceOnce(); err != nil {
		t.Fatal(err)
	}
	_, payload := decodeReply(t, uart.out)
	if len(payload) != 1 || payload[0] != 0 {
		t.Fatalf("payload = %v, want {ERR_NO}", payload)
	}

	mem := e.memory.(*SimMemory)
	for i, want := range data {
		got := mem.ReadByte(region.FlashStart + 3 + uint16(i))
		if got != want {
			t.Fatalf("byte %d = %d, want %d", i, got, want)
		}
	}
	if e.position != region.FlashStart+3+uint16(len(data)) {
		t.Fatalf("position = %#x, want %#x", e.position, region.FlashStart+3+uint16(len(data)))
	}
}

func TestSetPositionThenRead(t *testing.T) {
	e, uart := newTestEngine()
	mem := e.memory.(*SimMemory)
	mem.Unlock()
	for i := 0; i < 4; i++ {
		mem.ProgramByte(RegionSTM8S003F3.FlashStart+10+uint16(i), byte(0xA0+i))
	}
	mem.Lock()

	feed(e, encodeRequest(byte(CmdSetPosition), []byte{0x00, 0x0A}))
	if err := e.ServiceOnce(); err != nil {
		t.Fatal(err)
	}
	_, payload := decodeReply(t, uart.out)
	if payload[0] != 0 {
		t.Fatalf("SetPosition failed: %v", payload)
	}

	uart.out = nil
	feed(e, encodeRequest(byte(CmdRead), []byte{4}))
	if err := e.ServiceOnce(); err != nil {
		t.Fatal(err)
	}
	_, payload = decodeReply(t, uart.out)
	want := []byte{0, 0, 14, 0xA0, 0xA1, 0xA2, 0xA3}
	if string(payload) != string(want) {
		t.Fatalf("payload = %v, want %v", payload, want)
	}
}
