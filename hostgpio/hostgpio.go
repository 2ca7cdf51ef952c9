// Package hostgpio implements wake.DriverEnable over a periph.io GPIO
// pin, for a host (typically a Raspberry Pi) driving a half-duplex
// RS-485 or single-wire transceiver's direction line directly rather
// than relying on a USB adapter's automatic direction control.
package hostgpio

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3"
)

// Init brings up periph.io's host drivers. Call it once before
// looking up a pin (e.g. bcm283x.GPIO17) to pass to Open.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("hostgpio: %w", err)
	}
	return nil
}

// Pin wraps a periph.io output pin as a wake.DriverEnable.
type Pin struct {
	out gpio.PinOut
}

// Open configures pin as an output, initially low (receive mode), and
// wraps it as a Pin.
func Open(pin gpio.PinOut) (*Pin, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("hostgpio: %w", err)
	}
	return &Pin{out: pin}, nil
}

// Set drives the pin high, switching the transceiver to transmit.
func (p *Pin) Set() {
	p.out.Out(gpio.High)
}

// Clear drives the pin low, switching the transceiver back to
// receive.
func (p *Pin) Clear() {
	p.out.Out(gpio.Low)
}
