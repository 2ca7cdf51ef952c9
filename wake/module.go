package wake

import "wakefleet.dev/eeprom"

// MaxModules bounds the static dispatch table, matching the six module
// slots the original firmware's ModuleList template exposed.
const MaxModules = 6

// Module is one device driver plugged into a node: a dimmer channel, an
// LED strip, a relay bank, a power-supply front end, a sensor block.
// Commands 12 and above are forwarded to every module in turn; a module
// that doesn't own a given command leaves the packet untouched and
// returns false.
type Module interface {
	// DeviceMask identifies this module's device class, one of the
	// Device* bits. GetInfo OR's every module's mask together to build
	// the node's reported device_mask.
	DeviceMask() byte
	// Features returns the single feature byte GetInfo(i) reports for
	// this device class.
	Features() byte
	// Init prepares the module at startup, loading any persisted state
	// from store.
	Init(store eeprom.Store) error
	// Process handles pkt.Cmd if this module recognizes it, filling in
	// the reply in place and returning true. Returning false leaves the
	// packet untouched for the next module, and ultimately for
	// ERR_NOTIMPL if no module claims it.
	Process(pkt *Packet) bool
	// SaveState flushes any dirty state to store. Called on
	// SaveSettings and before a validated reboot.
	SaveState(store eeprom.Store) error
	// On, Off and ToggleOnOff implement the node-wide power commands;
	// a module with no notion of on/off state treats them as no-ops.
	On()
	Off()
	ToggleOnOff()
}

// ModuleList is the static dispatcher: a fixed, ordered set of modules
// a node was built with. Unlike the original's template-generated
// chain, membership is a plain slice assembled at construction time by
// a board's init code.
type ModuleList struct {
	modules []Module
}

// NewModuleList builds a dispatcher over modules, in dispatch order.
// It panics if more than MaxModules are given, the same ceiling the
// original firmware's module slots imposed.
func NewModuleList(modules ...Module) *ModuleList {
	if len(modules) > MaxModules {
		panic("wake: too many modules")
	}
	return &ModuleList{modules: modules}
}

// DeviceMask is the bitwise OR of every module's DeviceMask.
func (l *ModuleList) DeviceMask() byte {
	var mask byte
	for _, m := range l.modules {
		mask |= m.DeviceMask()
	}
	return mask
}

// Feature looks up the feature byte for the module claiming
// deviceMask exactly. The second return is false if no module claims
// that exact mask.
func (l *ModuleList) Feature(deviceMask byte) (byte, bool) {
	for _, m := range l.modules {
		if m.DeviceMask() == deviceMask {
			return m.Features(), true
		}
	}
	return 0, false
}

// Init initializes every module in order, stopping at the first error.
func (l *ModuleList) Init(store eeprom.Store) error {
	for _, m := range l.modules {
		if err := m.Init(store); err != nil {
			return err
		}
	}
	return nil
}

// Process offers pkt to every module. It returns true if any module
// claimed the command.
func (l *ModuleList) Process(pkt *Packet) bool {
	handled := false
	for _, m := range l.modules {
		if m.Process(pkt) {
			handled = true
		}
	}
	return handled
}

// SaveState flushes every module's state, continuing past individual
// failures so one misbehaving module doesn't block the rest; the last
// error seen, if any, is returned.
func (l *ModuleList) SaveState(store eeprom.Store) error {
	var lastErr error
	for _, m := range l.modules {
		if err := m.SaveState(store); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (l *ModuleList) On() {
	for _, m := range l.modules {
		m.On()
	}
}

func (l *ModuleList) Off() {
	for _, m := range l.modules {
		m.Off()
	}
}

func (l *ModuleList) ToggleOnOff() {
	for _, m := range l.modules {
		m.ToggleOnOff()
	}
}
