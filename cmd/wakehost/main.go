// Command wakehost is a host-side Wake client: it talks to nodes over
// a serial adapter (optionally with a GPIO-driven direction line) and
// issues the reserved built-in commands from the command line.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"wakefleet.dev/hostgpio"
	"wakefleet.dev/hostuart"
	"wakefleet.dev/wake"
)

var (
	portFlag  = flag.String("port", "/dev/ttyUSB0", "serial device")
	addrFlag  = flag.Uint("addr", uint(wake.BroadcastAddr), "target node or group address")
	deFlag    = flag.String("de-pin", "", "GPIO pin name for a manual driver-enable line (e.g. GPIO17); left unset if the adapter handles direction itself")
	cacheFlag = flag.String("cache", defaultCachePath(), "node inventory cache file")
)

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "wakehost-inventory.cbor"
	}
	return filepath.Join(dir, "wakehost", "inventory.cbor")
}

// nilDriverEnable is used when no -de-pin is given: the serial adapter
// is assumed to switch direction on its own (the common case for
// USB-RS485 dongles with automatic flow control).
type nilDriverEnable struct{}

func (nilDriverEnable) Set()   {}
func (nilDriverEnable) Clear() {}

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

	de, err := openDriverEnable()
	if err != nil {
		fatal(err)
	}

	// A transceiver left driving the bus because a write was
	// interrupted mid-transaction jams every other node on it; make
	// sure Ctrl-C releases it before the process exits.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, unix.SIGINT, unix.SIGTERM)
	go func() {
		<-sig
		de.Clear()
		os.Exit(130)
	}()

	addr := byte(*addrFlag)
	cmd, rest := args[0], args[1:]
	if err := dispatch(port, de, addr, cmd, rest); err != nil {
		fatal(err)
	}
}

func openDriverEnable() (wake.DriverEnable, error) {
	if *deFlag == "" {
		return nilDriverEnable{}, nil
	}
	if err := hostgpio.Init(); err != nil {
		return nil, err
	}
	pin := gpioreg.ByName(*deFlag)
	if pin == nil {
		return nil, fmt.Errorf("wakehost: unknown GPIO pin %q", *deFlag)
	}
	return hostgpio.Open(pin)
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: wakehost [flags] <command> [args]

commands:
  scan                       probe every valid node address, refresh the inventory cache
  inventory                  list the cached node inventory
  echo <hex>                 send raw bytes, print the raw reply
  getinfo [feature-index]    device mask + protocol version, or one feature byte
  address get|set <node|group> <value>
  optime                     read the OpTime counter
  on | off | toggle          power control
  save                       SaveSettings
  reboot                     Reboot (requires confirmation key)

flags:
`)
	flag.PrintDefaults()
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "wakehost:", err)
	os.Exit(1)
}

func dispatch(port *hostuart.Port, de wake.DriverEnable, addr byte, cmd string, args []string) error {
	switch cmd {
	case "scan":
		return runScan(port, de)
	case "inventory":
		return runInventory()
	case "echo":
		return runEcho(port, de, addr, args)
	case "getinfo":
		return runGetInfo(port, de, addr, args)
	case "address":
		return runAddress(port, de, addr, args)
	case "optime":
		return runOpTime(port, de, addr)
	case "on":
		return runSimple(port, de, addr, wake.CmdOn)
	case "off":
		return runSimple(port, de, addr, wake.CmdOff)
	case "toggle":
		return runSimple(port, de, addr, wake.CmdToggleOnOff)
	case "save":
		return runSimple(port, de, addr, wake.CmdSaveSettings)
	case "reboot":
		return runReboot(port, de, addr)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func request(port *hostuart.Port, de wake.DriverEnable, addr byte, cmd wake.Command, payload []byte) (replyAddr, replyCmd byte, reply []byte, err error) {
	de.Set()
	err = wake.SendRequest(port, addr, byte(cmd), payload)
	de.Clear()
	if err != nil {
		return 0, 0, nil, err
	}
	return wake.ReadReply(port)
}

func runSimple(port *hostuart.Port, de wake.DriverEnable, addr byte, cmd wake.Command) error {
	_, _, reply, err := request(port, de, addr, cmd, nil)
	if err != nil {
		return err
	}
	return printStatus(reply)
}

func runEcho(port *hostuart.Port, de wake.DriverEnable, addr byte, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("echo: want one hex payload argument")
	}
	data, err := hex.DecodeString(args[0])
	if err != nil {
		return fmt.Errorf("echo: %w", err)
	}
	_, _, reply, err := request(port, de, addr, wake.CmdEcho, data)
	if err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(reply))
	return nil
}

func runGetInfo(port *hostuart.Port, de wake.DriverEnable, addr byte, args []string) error {
	var payload []byte
	if len(args) == 1 {
		var idx byte
		if _, err := fmt.Sscanf(args[0], "%d", &idx); err != nil {
			return fmt.Errorf("getinfo: %w", err)
		}
		payload = []byte{idx}
	}
	_, _, reply, err := request(port, de, addr, wake.CmdGetInfo, payload)
	if err != nil {
		return err
	}
	if err := printStatus(reply); err != nil {
		return err
	}
	if len(payload) == 0 && len(reply) >= 3 {
		fmt.Printf("device mask %#02x, protocol version %d.%d\n", reply[1], reply[2]>>4, reply[2]&0xF)
	} else if len(reply) >= 2 {
		fmt.Printf("feature %#02x\n", reply[1])
	}
	return nil
}

func runAddress(port *hostuart.Port, de wake.DriverEnable, addr byte, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("address: want get|set <node|group> [value]")
	}
	op, kind := args[0], args[1]
	var cmd wake.Command
	switch kind {
	case "node":
		cmd = wake.CmdSetNodeAddress
	case "group":
		cmd = wake.CmdGetSetGroupAddress
	default:
		return fmt.Errorf("address: kind must be node or group")
	}
	var payload []byte
	switch op {
	case "get":
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("address set: want a value")
		}
		var v uint
		if _, err := fmt.Sscanf(args[2], "%d", &v); err != nil {
			return fmt.Errorf("address set: %w", err)
		}
		payload = []byte{byte(v), ^byte(v)}
	default:
		return fmt.Errorf("address: op must be get or set")
	}
	_, _, reply, err := request(port, de, addr, cmd, payload)
	if err != nil {
		return err
	}
	return printStatus(reply)
}

func runOpTime(port *hostuart.Port, de wake.DriverEnable, addr byte) error {
	_, _, reply, err := request(port, de, addr, wake.CmdGetOpTime, nil)
	if err != nil {
		return err
	}
	if err := printStatus(reply); err != nil {
		return err
	}
	if len(reply) < 4 {
		return fmt.Errorf("optime: short reply")
	}
	value := uint32(reply[1]) | uint32(reply[2])<<8 | uint32(reply[3])<<16
	fmt.Printf("%d ten-minute ticks (%.1f hours)\n", value, float64(value)/6)
	return nil
}

func runReboot(port *hostuart.Port, de wake.DriverEnable, addr byte) error {
	const rebootKey = 0xCB47ED91
	payload := []byte{rebootKey >> 24, rebootKey >> 16 & 0xFF, rebootKey >> 8 & 0xFF, rebootKey & 0xFF}
	_, _, reply, err := request(port, de, addr, wake.CmdReboot, payload)
	if err != nil {
		return err
	}
	return printStatus(reply)
}

func printStatus(reply []byte) error {
	if len(reply) == 0 {
		return fmt.Errorf("empty reply")
	}
	if wake.ErrCode(reply[0]) != wake.ErrNo {
		return fmt.Errorf("node returned status %d", reply[0])
	}
	return nil
}

// inventoryEntry is one cached node discovered by scan, persisted as
// CBOR so repeated scans don't require re-probing a quiet bus.
type inventoryEntry struct {
	Addr       byte      `cbor:"addr"`
	DeviceMask byte      `cbor:"device_mask"`
	ProtoMajor byte      `cbor:"proto_major"`
	ProtoMinor byte      `cbor:"proto_minor"`
	LastSeen   time.Time `cbor:"last_seen"`
}

func runScan(port *hostuart.Port, de wake.DriverEnable) error {
	var found []inventoryEntry
	stamp := scanTimestamp()
	for a := 1; a < 128; a++ {
		if a == int(wake.BootloaderAddr) {
			continue
		}
		if !wake.IsValidNodeAddr(byte(a)) {
			continue
		}
		_, _, reply, err := request(port, de, byte(a), wake.CmdGetInfo, nil)
		if err != nil || len(reply) < 3 || wake.ErrCode(reply[0]) != wake.ErrNo {
			continue
		}
		found = append(found, inventoryEntry{
			Addr:       byte(a),
			DeviceMask: reply[1],
			ProtoMajor: reply[2] >> 4,
			ProtoMinor: reply[2] & 0xF,
			LastSeen:   stamp,
		})
		fmt.Printf("node %d: device mask %#02x, protocol %d.%d\n", a, reply[1], reply[2]>>4, reply[2]&0xF)
	}
	return saveInventory(found)
}

// scanTimestamp is a seam so tests could stub out wall-clock time;
// the CLI itself always uses the real clock.
var scanTimestamp = time.Now

func runInventory() error {
	entries, err := loadInventory()
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("node %d: device mask %#02x, protocol %d.%d, last seen %s\n",
			e.Addr, e.DeviceMask, e.ProtoMajor, e.ProtoMinor, e.LastSeen.Format(time.RFC3339))
	}
	return nil
}

func loadInventory() ([]inventoryEntry, error) {
	data, err := os.ReadFile(*cacheFlag)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wakehost: read inventory: %w", err)
	}
	var entries []inventoryEntry
	if err := cbor.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("wakehost: decode inventory: %w", err)
	}
	return entries, nil
}

func saveInventory(entries []inventoryEntry) error {
	data, err := cbor.Marshal(entries)
	if err != nil {
		return fmt.Errorf("wakehost: encode inventory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(*cacheFlag), 0o755); err != nil {
		return fmt.Errorf("wakehost: %w", err)
	}
	if err := os.WriteFile(*cacheFlag, data, 0o644); err != nil {
		return fmt.Errorf("wakehost: write inventory: %w", err)
	}
	return nil
}
