// Package hostuart implements wake.UART over a real serial port, for
// host tooling (cmd/wakehost, cmd/wakeboot) talking to Wake nodes
// through a USB-serial or RS-485 adapter.
package hostuart

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

const readTimeout = 500 * time.Millisecond

// Port wraps a tarm/serial connection as a wake.UART. Unlike the
// microcontroller's non-blocking register access, SendByte and
// RecvByte block; that's harmless for a host driving the bus at a
// leisurely pace.
type Port struct {
	conn *serial.Port
}

// Open opens device at baud 9600, the Wake default, with an 8N1
// frame and a generous read timeout so RecvByte can poll for a reply
// without hanging forever on a silent node.
func Open(device string) (*Port, error) {
	cfg := &serial.Config{
		Name:        device,
		Baud:        9600,
		ReadTimeout: readTimeout,
	}
	conn, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("hostuart: open %s: %w", device, err)
	}
	return &Port{conn: conn}, nil
}

// Close releases the underlying serial port.
func (p *Port) Close() error {
	return p.conn.Close()
}

// SendByte writes one byte, blocking until the driver accepts it.
func (p *Port) SendByte(b byte) error {
	_, err := p.conn.Write([]byte{b})
	if err != nil {
		return fmt.Errorf("hostuart: send: %w", err)
	}
	return nil
}

// RecvByte blocks for up to the port's read timeout for one byte. A
// timeout is reported through err (the wrapped read error, or a
// "timeout" error when the read returns no byte), not as ioErr; ioErr
// is reserved for a framing condition the transport does not surface
// on a plain host serial port, so it is always false here.
func (p *Port) RecvByte() (b byte, ioErr bool, err error) {
	var buf [1]byte
	n, err := p.conn.Read(buf[:])
	if err != nil {
		return 0, false, fmt.Errorf("hostuart: recv: %w", err)
	}
	if n == 0 {
		return 0, false, fmt.Errorf("hostuart: recv: timeout")
	}
	return buf[0], false, nil
}
