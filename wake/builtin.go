package wake

// Command identifies one of the reserved built-in requests, codes 0
// through 11. Codes 12 and above belong to device modules.
type Command byte

const (
	CmdNop                 Command = 0
	CmdErr                 Command = 1 // internal CRC/framing-error marker; never a legitimate request
	CmdEcho                Command = 2
	CmdGetInfo             Command = 3
	CmdSetNodeAddress      Command = 4
	CmdGetSetGroupAddress  Command = 5
	CmdGetOpTime           Command = 6
	CmdOff                 Command = 7
	CmdOn                  Command = 8
	CmdToggleOnOff         Command = 9
	CmdSaveSettings        Command = 10
	CmdReboot              Command = 11
)

// FirstModuleCommand is the lowest command code forwarded to modules.
const FirstModuleCommand = 12

// rebootKey is the 4-byte confirmation payload C_REBOOT requires,
// big-endian, guarding against an accidental reset from a garbled or
// replayed frame.
const rebootKey = 0xCB47ED91

// dispatchBuiltin handles pkt.Cmd if it is one of the reserved codes,
// filling the reply into pkt in place and returning true. Returning
// false means the command belongs to the module range and should be
// forwarded to the module list.
func (e *Engine) dispatchBuiltin(pkt *Packet) bool {
	switch Command(pkt.Cmd) {
	case CmdNop:
		pkt.SetPayload([]byte{byte(ErrNo)})
	case CmdErr:
		pkt.SetPayload([]byte{byte(ErrNotImpl)})
	case CmdEcho:
		// Payload already holds the request; send it back unchanged.
	case CmdGetInfo:
		e.getInfo(pkt)
	case CmdSetNodeAddress:
		e.setAddress(pkt, true)
	case CmdGetSetGroupAddress:
		e.setAddress(pkt, false)
	case CmdGetOpTime:
		e.getOpTime(pkt)
	case CmdOff:
		e.power(pkt, e.modules.Off)
	case CmdOn:
		e.power(pkt, e.modules.On)
	case CmdToggleOnOff:
		e.power(pkt, e.modules.ToggleOnOff)
	case CmdSaveSettings:
		e.saveSettings(pkt)
	case CmdReboot:
		e.reboot(pkt)
	default:
		return false
	}
	return true
}

func (e *Engine) getInfo(pkt *Packet) {
	switch pkt.N {
	case 0:
		pkt.SetPayload([]byte{byte(ErrNo), e.modules.DeviceMask(), ProtocolVersion})
	case 1:
		idx := pkt.Buf[0]
		if idx > 7 {
			pkt.SetPayload([]byte{byte(ErrParam)})
			return
		}
		feature, ok := e.modules.Feature(1 << idx)
		if !ok {
			pkt.SetPayload([]byte{byte(ErrNotImpl)})
			return
		}
		pkt.SetPayload([]byte{byte(ErrNo), feature})
	default:
		pkt.SetPayload([]byte{byte(ErrParam)})
	}
}

func (e *Engine) getOpTime(pkt *Packet) {
	if pkt.N != 0 {
		pkt.SetPayload([]byte{byte(ErrParam)})
		return
	}
	low, high := e.opTime.Get()
	pkt.SetPayload([]byte{byte(ErrNo), low, byte(high), byte(high >> 8)})
}

func (e *Engine) power(pkt *Packet, apply func()) {
	if pkt.N != 0 {
		pkt.SetPayload([]byte{byte(ErrParam)})
		return
	}
	apply()
	pkt.SetPayload([]byte{byte(ErrNo)})
}

func (e *Engine) saveSettings(pkt *Packet) {
	if pkt.N != 0 {
		pkt.SetPayload([]byte{byte(ErrParam)})
		return
	}
	// Per-module save failures are not surfaced individually; a module
	// that can't flush its state tries again on the next SaveSettings
	// or reboot.
	e.modules.SaveState(e.store)
	pkt.SetPayload([]byte{byte(ErrNo)})
}

func (e *Engine) reboot(pkt *Packet) {
	if pkt.N != 4 {
		pkt.SetPayload([]byte{byte(ErrParam)})
		return
	}
	key := uint32(pkt.Buf[0])<<24 | uint32(pkt.Buf[1])<<16 | uint32(pkt.Buf[2])<<8 | uint32(pkt.Buf[3])
	if key != rebootKey {
		pkt.SetPayload([]byte{byte(ErrParam)})
		return
	}
	e.modules.SaveState(e.store)
	if e.onReboot != nil {
		e.onReboot()
	}
	// A reboot that actually happens never gets a reply; onReboot is
	// expected to not return on real hardware. Leave a reply queued in
	// case it does (e.g. in tests).
	pkt.SetPayload([]byte{byte(ErrNo)})
}

// setAddress implements both C_SETNODEADDRESS and
// C_GETSETGROUPADDRESS: a 2-byte {addr, ~addr} request assigns it (no
// EEPROM write if the value is unchanged), and an empty request reads
// the node's own current value back.
func (e *Engine) setAddress(pkt *Packet, isNode bool) {
	if pkt.N == 0 {
		v := e.groupAddr
		if isNode {
			v = e.nodeAddr
		}
		pkt.SetPayload([]byte{byte(ErrNo), v})
		return
	}
	if pkt.N == 2 && pkt.Addr != 0 {
		candidate := pkt.Buf[0]
		valid := pkt.Buf[0] == ^pkt.Buf[1]
		if valid {
			if isNode {
				valid = IsValidNodeAddr(candidate)
			} else {
				valid = IsValidGroupAddr(candidate)
			}
		}
		if !valid {
			pkt.SetPayload([]byte{byte(ErrAddrFmt), 0})
			return
		}
		status := ErrNo
		current := e.groupAddr
		if isNode {
			current = e.nodeAddr
		}
		if candidate != current {
			if e.store.Unlock() {
				if isNode {
					e.nodeAddr = candidate
				} else {
					e.groupAddr = candidate
				}
				e.persistAddresses()
			} else {
				status = ErrEEPROMUnlock
			}
			e.store.Lock()
		}
		reply := []byte{byte(status), candidate}
		if status != ErrNo {
			reply[1] = 0
		}
		pkt.SetPayload(reply)
		return
	}
	pkt.SetPayload([]byte{byte(ErrParam), 0})
}
