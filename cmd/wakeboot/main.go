// Command wakeboot drives the Wake bootloader from the host: the
// out-of-band handshake, reading back chip info, and flashing a built
// node image, staged through SetPosition/Write requests.
package main

import (
	"bytes"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"wakefleet.dev/bootloader"
	"wakefleet.dev/bootloader/image"
	"wakefleet.dev/bootloader/manifest"
	"wakefleet.dev/hostuart"
	"wakefleet.dev/wake"
)

var portFlag = flag.String("port", "/dev/ttyUSB0", "serial device")

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	port, err := hostuart.Open(*portFlag)
	if err != nil {
		fatal(err)
	}
	defer port.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, unix.SIGINT, unix.SIGTERM)
	go func() {
		<-sig
		os.Exit(130)
	}()

	cmd, rest := args[0], args[1:]
	if err := dispatch(port, cmd, rest); err != nil {
		fatal(err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: wakeboot [flags] <command> [args]

commands:
  handshake              send the out-of-band handshake byte, report presence
  getinfo                report MCU id, bootloader version and info-blocks offset
  position set <offset> [eeprom]   (there is no query request; SetPosition's reply reports the new position)
  read <n>               read n bytes (max 128) from the current position
  write <hex>            write raw bytes at the current position
  go                      hand off to the application image
  flash <file>            flash an image file built by a manifest+image writer

flags:
`)
	flag.PrintDefaults()
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "wakeboot:", err)
	os.Exit(1)
}

func dispatch(port *hostuart.Port, cmd string, args []string) error {
	switch cmd {
	case "handshake":
		return runHandshake(port)
	case "getinfo":
		return runGetInfo(port)
	case "position":
		return runPosition(port, args)
	case "read":
		return runRead(port, args)
	case "write":
		return runWrite(port, args)
	case "go":
		return runGo(port)
	case "flash":
		return runFlash(port, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runHandshake(port *hostuart.Port) error {
	ok, err := bootloader.SendHandshake(port)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no bootloader responded")
	}
	fmt.Println("bootloader present")
	return nil
}

func roundTrip(port *hostuart.Port, cmd bootloader.Command, payload []byte) ([]byte, error) {
	if err := bootloader.SendRequest(port, cmd, payload); err != nil {
		return nil, err
	}
	replyCmd, reply, err := bootloader.ReadReply(port)
	if err != nil {
		return nil, err
	}
	if replyCmd != byte(cmd) {
		return nil, fmt.Errorf("reply command %d, want %d", replyCmd, cmd)
	}
	if len(reply) == 0 {
		return nil, fmt.Errorf("empty reply")
	}
	if wake.ErrCode(reply[0]) != wake.ErrNo {
		return nil, fmt.Errorf("bootloader returned status %d", reply[0])
	}
	return reply[1:], nil
}

func runGetInfo(port *hostuart.Port) error {
	reply, err := roundTrip(port, bootloader.CmdGetInfo, []byte{bootloader.InfoKey})
	if err != nil {
		return err
	}
	if len(reply) < 2 {
		return fmt.Errorf("getinfo: short reply")
	}
	fmt.Printf("MCU id %#x, bootloader version %d, info-blocks offset %d\n", reply[0]>>4, reply[0]&0xF, reply[1])
	return nil
}

func runPosition(port *hostuart.Port, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("position: want set <offset> [eeprom]")
	}
	if args[0] != "set" {
		return fmt.Errorf("position: only set is supported; position has no query request")
	}
	var offset uint
	if _, err := fmt.Sscanf(args[1], "%d", &offset); err != nil {
		return fmt.Errorf("position: %w", err)
	}
	inEeprom := len(args) == 3 && args[2] == "eeprom"
	raw := uint16(offset)
	if inEeprom {
		raw |= 0x8000
	}
	reply, err := roundTrip(port, bootloader.CmdSetPosition, []byte{byte(raw >> 8), byte(raw)})
	if err != nil {
		return err
	}
	if len(reply) < 2 {
		return fmt.Errorf("position: short reply")
	}
	fmt.Printf("position now %#x\n", uint16(reply[0])<<8|uint16(reply[1]))
	return nil
}

func runRead(port *hostuart.Port, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("read: want a byte count")
	}
	var n uint
	if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	reply, err := roundTrip(port, bootloader.CmdRead, []byte{byte(n)})
	if err != nil {
		return err
	}
	if len(reply) < 2 {
		return fmt.Errorf("read: short reply")
	}
	fmt.Printf("%x\n", reply[2:])
	return nil
}

func runWrite(port *hostuart.Port, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("write: want hex data")
	}
	data, err := hex.DecodeString(args[0])
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	_, err = roundTrip(port, bootloader.CmdWrite, data)
	return err
}

func runGo(port *hostuart.Port) error {
	key := []byte{bootloader.GoKey >> 24, bootloader.GoKey >> 16 & 0xFF, bootloader.GoKey >> 8 & 0xFF, bootloader.GoKey & 0xFF}
	if err := bootloader.SendRequest(port, bootloader.CmdGo, key); err != nil {
		return err
	}
	// A successful Go never answers (the node has jumped into its
	// application); a reply only arrives when the node stayed in the
	// bootloader: the key was rejected or control came back.
	_, reply, err := bootloader.ReadReply(port)
	if err != nil {
		fmt.Println("node did not reply; assuming it resumed its application")
		return nil
	}
	if len(reply) > 0 {
		fmt.Printf("node refused to go: status %d\n", reply[0])
	}
	return nil
}

// runFlash streams file, a manifest header followed by an image
// container, into the bootloader: it sets the starting position once
// and then writes the image payload in chunks sized to the
// bootloader's write-request payload cap.
func runFlash(port *hostuart.Port, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("flash: want a path")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("flash: %w", err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("flash: %w", err)
	}
	man, headerLen, err := manifest.Unmarshal(raw)
	if err != nil {
		return fmt.Errorf("flash: %w", err)
	}
	fmt.Printf("image: %d bytes, MCU id %#x\n", man.Size, man.MCUID)

	imgReader := image.NewReader(bytes.NewReader(raw[headerLen:]), image.FamilySTM8WakeNode)
	flashData, err := io.ReadAll(imgReader)
	if err != nil {
		return fmt.Errorf("flash: %w", err)
	}
	if uint32(len(flashData)) != man.Size {
		return fmt.Errorf("flash: image holds %d bytes, manifest declares %d", len(flashData), man.Size)
	}

	if _, err := roundTrip(port, bootloader.CmdSetPosition, []byte{byte(imgReader.StartAddr >> 8), byte(imgReader.StartAddr)}); err != nil {
		return fmt.Errorf("flash: set position: %w", err)
	}

	const chunk = 128
	for off := 0; off < len(flashData); off += chunk {
		end := min(off+chunk, len(flashData))
		if _, err := roundTrip(port, bootloader.CmdWrite, flashData[off:end]); err != nil {
			return fmt.Errorf("flash: write at offset %d: %w", off, err)
		}
	}
	fmt.Println("flash complete")
	return nil
}
