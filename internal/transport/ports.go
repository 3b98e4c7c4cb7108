package transport

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes one serial port discovered on the host.
type PortInfo struct {
	Name    string `json:"name"`
	USB     bool   `json:"usb"`
	VID     string `json:"vid,omitempty"`
	PID     string `json:"pid,omitempty"`
	Product string `json:"product,omitempty"`
}

// USB bridge chips found in common OBD-II adapters and clones.
var preferredVIDs = map[string]bool{
	"0403": true, // FTDI
	"067B": true, // Prolific PL2303
	"10C4": true, // CP210x
	"1A86": true, // CH340
}

// ListPorts enumerates the serial ports on the host.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("transport: enumerate ports: %w", err)
	}
	out := make([]PortInfo, 0, len(details))
	for _, d := range details {
		out = append(out, PortInfo{
			Name:    d.Name,
			USB:     d.IsUSB,
			VID:     strings.ToUpper(d.VID),
			PID:     strings.ToUpper(d.PID),
			Product: d.Product,
		})
	}
	return out, nil
}

// AutoSelectPort picks the port most likely to be an OBD-II adapter:
// a USB port with a known bridge chip, then any USB port, then whatever
// is left.
func AutoSelectPort() (string, error) {
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	return pickPort(ports)
}

func pickPort(ports []PortInfo) (string, error) {
	for _, p := range ports {
		if p.USB && preferredVIDs[p.VID] {
			return p.Name, nil
		}
	}
	for _, p := range ports {
		if p.USB {
			return p.Name, nil
		}
	}
	if len(ports) > 0 {
		return ports[0].Name, nil
	}
	return "", fmt.Errorf("transport: no serial ports found: %w", ErrDeviceNotFound)
}
