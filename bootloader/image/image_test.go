package image

import (
	"bytes"
	"io"
	"testing"
)

func TestWriteThenRead(t *testing.T) {
	const startAddr = 0x8000
	data := make([]byte, 900)
	for i := range data {
		data[i] = byte(i)
	}

	var buf bytes.Buffer
	const payloadCap = blockSize - headerSize - 4
	numBlocks := uint32((len(data) + payloadCap - 1) / payloadCap)
	w := NewWriter(&buf, FamilySTM8WakeNode, startAddr, numBlocks)
	for off := 0; off < len(data); off += payloadCap {
		end := min(off+payloadCap, len(data))
		if err := w.WriteBlock(data[off:end]); err != nil {
			t.Fatal(err)
		}
	}

	r := NewReader(&buf, FamilySTM8WakeNode)
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read back %d bytes, want %d", len(got), len(data))
	}
	if r.StartAddr != startAddr {
		t.Errorf("start address = %#x, want %#x", r.StartAddr, startAddr)
	}
}

func TestReaderRejectsWrongFamily(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, FamilySTM8WakeNode, 0, 1)
	if err := w.WriteBlock([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	r := NewReader(&buf, FamilyID(0x12345678))
	if _, err := io.ReadAll(r); err == nil {
		t.Fatal("expected error reading a block tagged for a different family")
	}
}
