// Package protocol implements the OBD-II link protocols spoken over a
// transport carrier: SAE J1850 VPW framing, a frameless generic variant,
// and the ELM327 text-mode adapter session. Each variant translates
// mode/PID requests into wire bytes and scans received bytes back into
// validated responses.
package protocol

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Protocol selects the link protocol variant for a connection.
type Protocol int

const (
	Generic Protocol = iota
	J1850VPW
	ELM327
)

func (p Protocol) String() string {
	switch p {
	case Generic:
		return "generic"
	case J1850VPW:
		return "j1850vpw"
	case ELM327:
		return "elm327"
	default:
		return fmt.Sprintf("protocol(%d)", int(p))
	}
}

// ParseProtocol maps a config string to a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "generic":
		return Generic, nil
	case "j1850vpw", "j1850", "vpw":
		return J1850VPW, nil
	case "elm327", "elm":
		return ELM327, nil
	default:
		return Generic, fmt.Errorf("protocol: unknown protocol %q", s)
	}
}

// Request is a single outgoing service request: an OBD mode and, for data
// modes, the parameter ID being queried.
type Request struct {
	Mode byte
	Pid  byte
}

// ModeOnly reports whether the request's mode carries no PID on the wire
// (DTC read and clear services).
func (r Request) ModeOnly() bool {
	switch r.Mode {
	case ModeStoredDTCs, ModeClearDTCs, ModePendingDTCs, ModePermanentDTCs:
		return true
	}
	return false
}

// Response is one decoded reply from the vehicle. Mode is the original
// request mode (reply flag stripped). For data replies Pid echoes the
// queried parameter and Data holds the payload bytes; for DTC replies Data
// holds the two-byte code records; for a clear acknowledgement Data is nil.
type Response struct {
	Mode byte
	Pid  byte
	Data []byte
	At   time.Time
}

var (
	// ErrChecksumMismatch marks a discarded candidate frame. It is
	// recovered locally by resynchronization and never fatal on its own.
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")

	// ErrProtocolUnsupported means the adapter or vehicle rejected the
	// selected protocol.
	ErrProtocolUnsupported = errors.New("protocol: protocol unsupported by adapter or vehicle")

	// ErrNoData is the adapter's explicit empty answer for a request the
	// vehicle did not respond to.
	ErrNoData = errors.New("protocol: no data")
)

// Codec frames requests and parses the receive stream for one protocol
// variant. Feed consumes raw carrier bytes and returns any complete
// responses plus the number of candidate frames discarded for bad
// checksums during the scan; the error reports stream-level conditions
// (ErrNoData, ErrProtocolUnsupported) without stopping the scan.
type Codec interface {
	// Init performs any session setup the protocol needs on a freshly
	// opened carrier. Most variants need none.
	Init(rw io.ReadWriter) error

	EncodeRequest(req Request) []byte
	Feed(p []byte) ([]Response, int, error)

	// Reset drops all buffered stream state, for reuse across connections.
	Reset()
}

// NewCodec builds the codec for the selected protocol.
func NewCodec(p Protocol) (Codec, error) {
	switch p {
	case Generic:
		return NewGeneric(), nil
	case J1850VPW:
		return NewVPW(), nil
	case ELM327:
		return NewELM(), nil
	default:
		return nil, fmt.Errorf("protocol: no codec for %v", p)
	}
}
