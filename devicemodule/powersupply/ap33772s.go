//go:build tinygo

package powersupply

import "wakefleet.dev/driver/ap33772s"

// AP33772SSensor adapts a Diodes AP33772S USB PD sink controller to
// the Sensor interface, for a node whose power-supply module is a
// negotiated USB-PD rail rather than a bench supply: VoltageMV and
// CurrentMA read the controller's live request registers, and
// LoadPresent treats any non-zero current draw as a load.
type AP33772SSensor struct {
	dev *ap33772s.Device
}

// NewAP33772SSensor wraps dev as a Sensor.
func NewAP33772SSensor(dev *ap33772s.Device) *AP33772SSensor {
	return &AP33772SSensor{dev: dev}
}

func (s *AP33772SSensor) VoltageMV() uint16 {
	mv, err := s.dev.Voltage()
	if err != nil {
		return 0
	}
	return uint16(mv)
}

func (s *AP33772SSensor) CurrentMA() uint16 {
	ma, err := s.dev.Current()
	if err != nil {
		return 0
	}
	return uint16(ma)
}

func (s *AP33772SSensor) LoadPresent() bool {
	ma, err := s.dev.Current()
	return err == nil && ma > 0
}

// SetCurrentLimitMA forwards to LimitCurrent, silently ignoring a bus
// error: a limit that fails to apply leaves the previous negotiated
// limit in effect rather than leaving the module in an error state
// over a non-critical register write.
func (s *AP33772SSensor) SetCurrentLimitMA(limit uint16) {
	s.dev.LimitCurrent(int(limit))
}
