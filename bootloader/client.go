package bootloader

import (
	"fmt"

	"wakefleet.dev/crc8"
	"wakefleet.dev/frame"
	"wakefleet.dev/wake"
)

// SendHandshake writes HandshakeKey and waits for HandshakeResponse,
// the out-of-band exchange a host uses to confirm a bootloader is
// listening before it starts framed requests.
func SendHandshake(uart wake.UART) (bool, error) {
	if err := uart.SendByte(HandshakeKey); err != nil {
		return false, fmt.Errorf("bootloader: handshake: %w", err)
	}
	b, ioErr, err := uart.RecvByte()
	if err != nil {
		return false, fmt.Errorf("bootloader: handshake: %w", err)
	}
	if ioErr {
		return false, nil
	}
	return b == HandshakeResponse, nil
}

// SendRequest frames and transmits a bootloader request: FEND, the
// fixed address (always tagged with bit 7), command, length, payload,
// CRC trailer.
func SendRequest(uart wake.UART, cmd Command, payload []byte) error {
	if len(payload) > PayloadCap {
		return fmt.Errorf("bootloader: payload exceeds PayloadCap")
	}
	var enc frame.Encoder
	var crc crc8.NoLUT
	crc.Reset(wake.CRCInit)
	var scratch [2]byte

	write := func(raw []byte) error {
		for _, b := range raw {
			if err := uart.SendByte(b); err != nil {
				return fmt.Errorf("bootloader: send: %w", err)
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
	crc.Update(Addr)
	if err := write(enc.Encode(Addr|0x80, scratch[:])); err != nil {
		return err
	}
	if err := emit(byte(cmd)); err != nil {
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

type replyState int

const (
	replyWaitFend replyState = iota
	replyAddr
	replyCmd
	replyNbt
	replyData
)

// ReadReply blocks until one complete bootloader reply decodes off
// uart, returning its command and payload.
func ReadReply(uart wake.UART) (cmd byte, payload []byte, err error) {
	var dec frame.Decoder
	var crc crc8.NoLUT
	state := replyWaitFend
	var n, ptr byte
	var buf [PayloadCap]byte

	for {
		b, ioErr, rerr := uart.RecvByte()
		if rerr != nil {
			return 0, nil, fmt.Errorf("bootloader: recv: %w", rerr)
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
			crc.Reset(wake.CRCInit)
			crc.Update(frame.FEND)
			cmd = 0
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
			if v != Addr|0x80 {
				state = replyWaitFend
				continue
			}
			crc.Update(Addr)
			state = replyCmd
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
			return cmd, payload, nil
		}
	}
}
