// Package eeprom defines the non-volatile byte store contract shared
// by the Wake engine, the OpTime counter, and device modules. A node
// unlocks the store before writing, writes, and re-locks; the
// foreground loop is the only caller that ever does so (see
// wake.Engine.ServiceOnce).
package eeprom

// Store is a byte-addressable non-volatile store.
type Store interface {
	// Unlock prepares the store for writes, returning false if the
	// unlock sequence failed. Reads never require unlocking.
	Unlock() bool
	// Lock re-arms write protection.
	Lock()
	// IsUnlocked reports whether the store currently accepts writes.
	IsUnlocked() bool
	// ReadByte returns the byte at addr.
	ReadByte(addr uint16) byte
	// WriteByte stores v at addr. The caller must have unlocked the
	// store first; behavior is undefined otherwise.
	WriteByte(addr uint16, v byte)
}

// Memory is an in-memory Store, useful for host tooling and tests. It
// is always unlockable; callers that need to exercise
// ERR_EEPROMUNLOCK behavior should wrap it or use a fake that returns
// false from Unlock.
type Memory struct {
	buf    []byte
	locked bool
}

// NewMemory returns a Memory store of size bytes, all initially zero.
func NewMemory(size int) *Memory {
	return &Memory{buf: make([]byte, size), locked: true}
}

func (m *Memory) Unlock() bool {
	m.locked = false
	return true
}

func (m *Memory) Lock() {
	m.locked = true
}

func (m *Memory) IsUnlocked() bool {
	return !m.locked
}

func (m *Memory) ReadByte(addr uint16) byte {
	return m.buf[addr]
}

func (m *Memory) WriteByte(addr uint16, v byte) {
	m.buf[addr] = v
}

// Len returns the size of the backing store, for bounds-checking
// callers that lay out fixed regions within it.
func (m *Memory) Len() int {
	return len(m.buf)
}
