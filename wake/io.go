package wake

// UART is the half-duplex serial transport the engine drives. It
// mirrors the register-level contract of §4.3: a non-blocking byte
// send, and edge-triggered events the caller polls or is woken by.
// Host implementations (package hostuart) wrap a real serial port and
// make SendByte block, which is harmless off the microcontroller.
type UART interface {
	// SendByte queues one byte for transmission. The caller has
	// already confirmed (or arranged to be notified) that the
	// transmit register is empty.
	SendByte(b byte) error
	// RecvByte returns the most recently received byte and whether a
	// framing/parity/noise/overrun error was flagged for it.
	RecvByte() (b byte, ioErr bool, err error)
}

// DriverEnable gates a half-duplex transceiver's direction. It is
// asserted strictly for the window from the first TX byte loaded
// until TX-complete is observed (invariant 4 of §3).
type DriverEnable interface {
	Set()
	Clear()
}

// Watchdog is refreshed once per foreground loop iteration; failing
// to refresh it for its configured period resets the node.
type Watchdog interface {
	Refresh()
}
