// Host-side helpers for speaking Wake as the master: encoding a
// request frame and decoding the one reply a node sends back. Engine
// implements the node's half of this exchange; SendRequest and
// ReadReply implement the host's.
package wake

import (
	"fmt"

	"wakefleet.dev/crc8"
	"wakefleet.dev/frame"
)

// SendRequest frames and transmits a request the way a host issues
// commands to a node: FEND, address (tagged with bit 7 if
// non-broadcast), command, length, payload, CRC trailer.
func SendRequest(uart UART, addr, cmd byte, payload []byte) error {
	if len(payload) > PayloadCap {
		return fmt.Errorf("wake: payload exceeds PayloadCap")
	}
	var enc frame.Encoder
	var crc crc8.Hash
	crc.Reset(CRCInit)
	var scratch [2]byte

	write := func(raw []byte) error {
		for _, b := range raw {
			if err := uart.SendByte(b); err != nil {
				return fmt.Errorf("wake: send: %w", err)
			}
		}
		return nil
	}
	emit := func(v byte) error {
		crc.Update(v)
		return write(enc.Encode(v, scratch[:]))
	}

	if err := write(enc.Start(scratch[:])); err != nil {
		return err
	}
	crc.Update(frame.FEND)
	if addr != 0 {
		crc.Update(addr)
		if err := write(enc.Encode(addr|0x80, scratch[:])); err != nil {
			return err
		}
	}
	if err := emit(cmd & 0x7F); err != nil {
		return err
	}
	if err := emit(byte(len(payload))); err != nil {
		return err
	}
	for _, b := range payload {
		if err := emit(b); err != nil {
			return err
		}
	}
	return write(enc.Encode(crc.Sum(), scratch[:]))
}

// replyState walks a reply frame in, mirroring Engine's rxState but
// producing addr/cmd/payload instead of dispatching them.
type replyState int

const (
	replyWaitFend replyState = iota
	replyAddr
	replyCmd
	replyNbt
	replyData
)

// ReadReply blocks on uart until one complete reply frame decodes, a
// framing/CRC error forces a restart from the next FEND, or the
// transport reports a hard error (typically a read timeout, meaning
// the node never answered).
func ReadReply(uart UART) (addr, cmd byte, payload []byte, err error) {
	var dec frame.Decoder
	var crc crc8.Hash
	state := replyWaitFend
	var n, ptr byte
	var buf [PayloadCap]byte

	for {
		b, ioErr, rerr := uart.RecvByte()
		if rerr != nil {
			return 0, 0, nil, fmt.Errorf("wake: recv: %w", rerr)
		}
		if ioErr {
			state = replyWaitFend
			continue
		}

		ev := dec.Decode(b)
		switch ev.Kind {
		case frame.None:
			continue
		case frame.Start:
			state = replyAddr
			crc.Reset(CRCInit)
			crc.Update(frame.FEND)
			addr, cmd = 0, 0
			continue
		case frame.Error:
			state = replyWaitFend
			continue
		}
		v := ev.Byte

		switch state {
		case replyWaitFend:
			continue
		case replyAddr:
			if v&0x80 != 0 {
				addr = v &^ 0x80
				crc.Update(addr)
				state = replyCmd
				continue
			}
			addr = 0
			cmd = v
			crc.Update(v)
			state = replyNbt
		case replyCmd:
			cmd = v
			crc.Update(v)
			state = replyNbt
		case replyNbt:
			if v > PayloadCap {
				state = replyWaitFend
				continue
			}
			n = v
			crc.Update(v)
			ptr = 0
			state = replyData
		case replyData:
			if ptr < n {
				buf[ptr] = v
				ptr++
				crc.Update(v)
				continue
			}
			state = replyWaitFend
			if v != crc.Sum() {
				continue
			}
			payload = append([]byte(nil), buf[:n]...)
			return addr, cmd, payload, nil
		}
	}
}
