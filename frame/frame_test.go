package frame

import "testing"

// encodeFrame stuffs a logical payload into a raw frame: FEND, each
// stuffed byte, no trailer (frame.Decoder doesn't care about CRC).
func encodeFrame(payload []byte) []byte {
	var e Encoder
	var out []byte
	buf := make([]byte, 2)
	out = append(out, e.Start(buf)...)
	for _, b := range payload {
		out = append(out, e.Encode(b, buf)...)
	}
	return out
}

// decodeFrame runs raw bytes through a Decoder and collects the Data
// bytes of the last (or only) frame seen. A decode error fails the test
// when it falls inside that frame; one before its FEND belongs to
// discarded input and is ignored.
func decodeFrame(t *testing.T, raw []byte) []byte {
	t.Helper()
	var d Decoder
	var got []byte
	var errKind ErrorKind
	failed := false
	for _, b := range raw {
		ev := d.Decode(b)
		switch ev.Kind {
		case Start:
			got = got[:0]
			failed = false
		case Data:
			got = append(got, ev.Byte)
		case Error:
			errKind, failed = ev.Err, true
		}
	}
	if failed {
		t.Fatalf("unexpected decode error %v for input %x", errKind, raw)
	}
	return got
}

func TestRoundTrip(t *testing.T) {
	for n := 0; n <= 64; n++ {
		payload := make([]byte, n)
		for i := range payload {
			// Exercise every sentinel value at least once across sizes.
			payload[i] = byte((i*73 + n*197) % 256)
		}
		raw := encodeFrame(payload)
		got := decodeFrame(t, raw)
		if string(got) != string(payload) {
			t.Fatalf("n=%d: round trip mismatch:\n got  %x\n want %x", n, got, payload)
		}
	}
}

func TestRoundTripAllSentinels(t *testing.T) {
	payload := []byte{FEND, FESC, TFEND, TFESC, 0x00, 0xFF, FEND, FEND, FESC, FESC}
	raw := encodeFrame(payload)
	got := decodeFrame(t, raw)
	if string(got) != string(payload) {
		t.Fatalf("mismatch:\n got  %x\n want %x", got, payload)
	}
}

func TestResyncOnFend(t *testing.T) {
	payload := []byte{0x01, 0x02, FESC, 0x03}
	validFrame := encodeFrame(payload)
	// Prepend arbitrary garbage, including a bare FESC and stray
	// bytes, none of which should survive into the delivered frame
	// because a fresh FEND always restarts the decoder.
	garbage := []byte{0xAA, FESC, 0x55, 0x00, 0x7F}
	stream := append(append([]byte{}, garbage...), validFrame...)
	got := decodeFrame(t, stream)
	if string(got) != string(payload) {
		t.Fatalf("resync mismatch:\n got  %x\n want %x", got, payload)
	}
}

func TestInvalidEscapeErrors(t *testing.T) {
	var d Decoder
	d.Decode(FEND)
	if ev := d.Decode(FESC); ev.Kind != None {
		t.Fatalf("expected None for bare FESC, got %v", ev.Kind)
	}
	ev := d.Decode(0x42)
	if ev.Kind != Error || ev.Err != InvalidEscape {
		t.Fatalf("expected InvalidEscape, got %+v", ev)
	}
}

func TestResetClearsPendingEscape(t *testing.T) {
	var d Decoder
	d.Decode(FEND)
	d.Decode(FESC)
	d.Reset()
	// After Reset, a normal byte should decode straight through
	// rather than being treated as a TFESC/TFEND follower.
	ev := d.Decode(0x10)
	if ev.Kind != Data || ev.Byte != 0x10 {
		t.Fatalf("expected plain Data(0x10) after Reset, got %+v", ev)
	}
}
