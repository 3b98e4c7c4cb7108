//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// BLE carriers talk to a GATT UART bridge (ELM327-style BLE dongle)
// through the BlueZ D-Bus API. No Bluetooth stack beyond bluetoothd is
// required.
const (
	bluezService      = "org.bluez"
	bluezAdapterIface = "org.bluez.Adapter1"
	bluezDeviceIface  = "org.bluez.Device1"
	bluezCharIface    = "org.bluez.GattCharacteristic1"
	propsIface        = "org.freedesktop.DBus.Properties"
	objManagerIface   = "org.freedesktop.DBus.ObjectManager"

	bleAdapter        = "hci0"
	bleConnectTimeout = 10 * time.Second
	bleResolveTimeout = 15 * time.Second
	bleWriteChunk     = 20 // ATT default MTU payload; safe for every dongle
)

// uartProfile is one known service/characteristic layout for serial
// emulation over GATT. Candidates are tried in order; cheap adapters
// disagree on which one they ship.
type uartProfile struct {
	name    string
	service string
	write   string
	notify  string
}

var uartProfiles = []uartProfile{
	// Nordic UART service, the most common on modern dongles.
	{
		name:    "nordic-uart",
		service: "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
		write:   "6e400002-b5a3-f393-e0a9-e50e24dcca9e",
		notify:  "6e400003-b5a3-f393-e0a9-e50e24dcca9e",
	},
	// Vgate iCar and many clones.
	{
		name:    "fff0",
		service: "0000fff0-0000-1000-8000-00805f9b34fb",
		write:   "0000fff2-0000-1000-8000-00805f9b34fb",
		notify:  "0000fff1-0000-1000-8000-00805f9b34fb",
	},
	// HM-10 style modules use a single characteristic both ways.
	{
		name:    "ffe0",
		service: "0000ffe0-0000-1000-8000-00805f9b34fb",
		write:   "0000ffe1-0000-1000-8000-00805f9b34fb",
		notify:  "0000ffe1-0000-1000-8000-00805f9b34fb",
	},
}

// Device describes a BLE peripheral seen during a scan.
type Device struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	RSSI    int16  `json:"rssi,omitempty"`
}

// BLECarrier is a Carrier over a BlueZ GATT notify/write pair.
//
// Read is single-consumer: notifications land on an internal queue and
// Read hands them out with the same quiet-timeout semantics as a serial
// port.
type BLECarrier struct {
	mu      sync.Mutex
	conn    *dbus.Conn
	address string
	closed  bool

	devicePath dbus.ObjectPath
	writePath  dbus.ObjectPath
	notifyPath dbus.ObjectPath

	rx      chan []byte
	pending []byte
	stopCh  chan struct{}
	lostCh  chan struct{}

	readTimeout time.Duration
}

// OpenBLE connects to the dongle at the given MAC address, resolves its
// GATT UART characteristics, and subscribes to notifications.
func OpenBLE(address string, readTimeout time.Duration) (*BLECarrier, error) {
	if err := validateAddress(address); err != nil {
		return nil, err
	}
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("transport: system bus: %w", err)
	}

	c := &BLECarrier{
		conn:        conn,
		address:     address,
		devicePath:  devicePath(bleAdapter, address),
		rx:          make(chan []byte, 64),
		stopCh:      make(chan struct{}),
		lostCh:      make(chan struct{}),
		readTimeout: readTimeout,
	}

	if err := c.connectDevice(); err != nil {
		return nil, err
	}
	if err := c.waitServicesResolved(); err != nil {
		c.disconnectDevice()
		return nil, err
	}
	if err := c.discoverCharacteristics(); err != nil {
		c.disconnectDevice()
		return nil, err
	}
	if err := c.subscribe(); err != nil {
		c.disconnectDevice()
		return nil, err
	}

	log.Printf("[ble] connected to %s via %s", address, bleAdapter)
	return c, nil
}

func (c *BLECarrier) connectDevice() error {
	dev := c.conn.Object(bluezService, c.devicePath)

	if connected, err := boolProperty(c.conn, c.devicePath, bluezDeviceIface, "Connected"); err == nil && connected {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), bleConnectTimeout)
	defer cancel()
	if call := dev.CallWithContext(ctx, bluezDeviceIface+".Connect", 0); call.Err != nil {
		return mapBLEError("connect "+c.address, call.Err)
	}
	return nil
}

func (c *BLECarrier) disconnectDevice() {
	dev := c.conn.Object(bluezService, c.devicePath)
	dev.Call(bluezDeviceIface+".Disconnect", 0)
}

// waitServicesResolved blocks until BlueZ finishes GATT discovery for
// the device.
func (c *BLECarrier) waitServicesResolved() error {
	deadline := time.After(bleResolveTimeout)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			return fmt.Errorf("transport: resolve services on %s: %w", c.address, ErrTimeout)
		case <-tick.C:
			resolved, err := boolProperty(c.conn, c.devicePath, bluezDeviceIface, "ServicesResolved")
			if err == nil && resolved {
				return nil
			}
		}
	}
}

// discoverCharacteristics walks the device's GATT tree and picks the
// first known UART profile it finds there.
func (c *BLECarrier) discoverCharacteristics() error {
	objs, err := managedObjects(c.conn)
	if err != nil {
		return err
	}

	prefix := string(c.devicePath) + "/"
	chars := make(map[string]dbus.ObjectPath)
	for path, ifaces := range objs {
		props, ok := ifaces[bluezCharIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		if v, ok := props["UUID"]; ok {
			if uuid, ok := v.Value().(string); ok {
				chars[strings.ToLower(uuid)] = path
			}
		}
	}

	for _, p := range uartProfiles {
		w, wok := chars[p.write]
		n, nok := chars[p.notify]
		if wok && nok {
			c.writePath = w
			c.notifyPath = n
			log.Printf("[ble] %s: using %s profile (write=%s notify=%s)", c.address, p.name, w, n)
			return nil
		}
	}
	return fmt.Errorf("transport: %s exposes no known UART service: %w", c.address, ErrUnsupported)
}

// subscribe starts notifications and spawns the signal pump that feeds
// Read and watches for the link dropping.
func (c *BLECarrier) subscribe() error {
	if err := c.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(c.notifyPath),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return fmt.Errorf("transport: match notify signals: %w", err)
	}
	if err := c.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(c.devicePath),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return fmt.Errorf("transport: match device signals: %w", err)
	}

	obj := c.conn.Object(bluezService, c.notifyPath)
	if call := obj.Call(bluezCharIface+".StartNotify", 0); call.Err != nil {
		return mapBLEError("start notify", call.Err)
	}

	sigCh := make(chan *dbus.Signal, 64)
	c.conn.Signal(sigCh)
	go c.pump(sigCh)
	return nil
}

func (c *BLECarrier) pump(sigCh chan *dbus.Signal) {
	for {
		select {
		case <-c.stopCh:
			c.conn.RemoveSignal(sigCh)
			return
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			if sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
				continue
			}
			changed, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				continue
			}
			switch sig.Path {
			case c.notifyPath:
				if v, ok := changed["Value"]; ok {
					if data, ok := v.Value().([]byte); ok && len(data) > 0 {
						select {
						case c.rx <- data:
						default:
							log.Printf("[ble] %s: rx queue full, dropping %d bytes", c.address, len(data))
						}
					}
				}
			case c.devicePath:
				if v, ok := changed["Connected"]; ok {
					if up, ok := v.Value().(bool); ok && !up {
						log.Printf("[ble] %s: link dropped", c.address)
						select {
						case <-c.lostCh:
						default:
							close(c.lostCh)
						}
					}
				}
			}
		}
	}
}

func (c *BLECarrier) Read(p []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	select {
	case <-c.stopCh:
		return 0, fmt.Errorf("transport: ble read: %w", ErrLinkLost)
	case <-c.lostCh:
		return 0, fmt.Errorf("transport: ble read: %w", ErrLinkLost)
	case chunk := <-c.rx:
		n := copy(p, chunk)
		c.pending = chunk[n:]
		return n, nil
	case <-time.After(c.readTimeout):
		return 0, nil
	}
}

func (c *BLECarrier) Write(p []byte) (int, error) {
	select {
	case <-c.stopCh:
		return 0, fmt.Errorf("transport: ble write: %w", ErrLinkLost)
	case <-c.lostCh:
		return 0, fmt.Errorf("transport: ble write: %w", ErrLinkLost)
	default:
	}

	obj := c.conn.Object(bluezService, c.writePath)
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > bleWriteChunk {
			chunk = chunk[:bleWriteChunk]
		}
		call := obj.Call(bluezCharIface+".WriteValue", 0, chunk, map[string]dbus.Variant{
			"type": dbus.MakeVariant("command"),
		})
		if call.Err != nil {
			return written, mapBLEError("write "+c.address, call.Err)
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

// Close tears down notifications and disconnects the device. The shared
// system bus connection stays open; other D-Bus users in the process
// depend on it.
func (c *BLECarrier) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stopCh)
	obj := c.conn.Object(bluezService, c.notifyPath)
	obj.Call(bluezCharIface+".StopNotify", 0)
	c.conn.RemoveMatchSignal(
		dbus.WithMatchObjectPath(c.notifyPath),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	)
	c.conn.RemoveMatchSignal(
		dbus.WithMatchObjectPath(c.devicePath),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	)
	c.disconnectDevice()
	return nil
}

// Scan discovers nearby BLE peripherals until ctx is done and returns
// them strongest-signal first.
func Scan(ctx context.Context) ([]Device, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("transport: system bus: %w", err)
	}

	adapterPath := dbus.ObjectPath("/org/bluez/" + bleAdapter)
	powered, err := boolProperty(conn, adapterPath, bluezAdapterIface, "Powered")
	if err != nil {
		return nil, fmt.Errorf("transport: adapter %s: %w", bleAdapter, ErrDeviceNotFound)
	}
	if !powered {
		return nil, fmt.Errorf("transport: adapter %s is powered off", bleAdapter)
	}

	adapter := conn.Object(bluezService, adapterPath)
	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("le"),
	}
	adapter.Call(bluezAdapterIface+".SetDiscoveryFilter", 0, filter)
	if call := adapter.Call(bluezAdapterIface+".StartDiscovery", 0); call.Err != nil {
		// Discovery may already be running; the snapshot below still works.
		log.Printf("[ble] StartDiscovery: %v", call.Err)
	} else {
		defer adapter.Call(bluezAdapterIface+".StopDiscovery", 0)
	}

	<-ctx.Done()

	objs, err := managedObjects(conn)
	if err != nil {
		return nil, err
	}
	prefix := "/org/bluez/" + bleAdapter + "/"
	var devs []Device
	for path, ifaces := range objs {
		props, ok := ifaces[bluezDeviceIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		var d Device
		if v, ok := props["Address"]; ok {
			d.Address, _ = v.Value().(string)
		}
		if d.Address == "" {
			continue
		}
		if v, ok := props["Name"]; ok {
			d.Name, _ = v.Value().(string)
		}
		if v, ok := props["RSSI"]; ok {
			d.RSSI, _ = v.Value().(int16)
		}
		devs = append(devs, d)
	}
	sort.Slice(devs, func(i, j int) bool {
		ri, rj := devs[i].RSSI, devs[j].RSSI
		if ri == 0 {
			ri = -128
		}
		if rj == 0 {
			rj = -128
		}
		return ri > rj
	})
	return devs, nil
}

// Helpers

func devicePath(adapter, address string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter + "/dev_" + strings.ReplaceAll(address, ":", "_"))
}

func validateAddress(address string) error {
	parts := strings.Split(address, ":")
	if len(parts) != 6 {
		return fmt.Errorf("transport: bad BLE address %q (want XX:XX:XX:XX:XX:XX): %w", address, ErrDeviceNotFound)
	}
	for _, part := range parts {
		if len(part) != 2 {
			return fmt.Errorf("transport: bad BLE address %q (want XX:XX:XX:XX:XX:XX): %w", address, ErrDeviceNotFound)
		}
		for _, r := range part {
			if !((r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')) {
				return fmt.Errorf("transport: bad BLE address %q (non-hex): %w", address, ErrDeviceNotFound)
			}
		}
	}
	return nil
}

func managedObjects(conn *dbus.Conn) (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := conn.Object(bluezService, "/").Call(objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("transport: GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("transport: decode GetManagedObjects: %w", err)
	}
	return objs, nil
}

func boolProperty(conn *dbus.Conn, path dbus.ObjectPath, iface, prop string) (bool, error) {
	v, err := conn.Object(bluezService, path).GetProperty(iface + "." + prop)
	if err != nil {
		return false, err
	}
	b, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("transport: property %s.%s has type %T", iface, prop, v.Value())
	}
	return b, nil
}

func mapBLEError(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "DoesNotExist"), strings.Contains(msg, "UnknownObject"):
		return fmt.Errorf("transport: %s: %w", op, ErrDeviceNotFound)
	case strings.Contains(msg, "AccessDenied"), strings.Contains(msg, "NotAuthorized"):
		return fmt.Errorf("transport: %s: %w", op, ErrPermissionDenied)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("transport: %s: %w", op, ErrTimeout)
	}
	return fmt.Errorf("transport: %s: %w", op, err)
}
