package bootloader

import "testing"

func TestVectorTableForwardsApplicationVectors(t *testing.T) {
	vt := VectorTable{AppBase: 0x8200}
	addr, ok := vt.Vector(1)
	if !ok || addr != 0x8204 {
		t.Fatalf("vector 1 = %#x, %v; want 0x8204, true", addr, ok)
	}
	addr, ok = vt.Vector(31)
	if !ok || addr != 0x8200+4*31 {
		t.Fatalf("vector 31 = %#x, %v", addr, ok)
	}
}

func TestVectorTableRejectsResetAndOutOfRange(t *testing.T) {
	vt := VectorTable{AppBase: 0x8200}
	if _, ok := vt.Vector(0); ok {
		t.Fatal("vector 0 (reset) should not be forwarded")
	}
	if _, ok := vt.Vector(NumVectors); ok {
		t.Fatal("vector at NumVectors should be out of range")
	}
}
