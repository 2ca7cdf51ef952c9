package manifest

import "testing"

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	m := Manifest{Size: 8192, MCUID: 0x3, SignatureOffset: 0}
	data := Marshal(m)

	got, n, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(data) {
		t.Errorf("consumed %d bytes, want %d", n, len(data))
	}
	if got != m {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	data := Marshal(Manifest{Size: 1})
	data[0] ^= 0xff
	if _, _, err := Unmarshal(data); err == nil {
		t.Fatal("expected error on corrupted magic")
	}
}

func TestUnmarshalRejectsTruncatedHeader(t *testing.T) {
	data := Marshal(Manifest{Size: 1})
	if _, _, err := Unmarshal(data[:6]); err == nil {
		t.Fatal("expected error on truncated header")
	}
}
