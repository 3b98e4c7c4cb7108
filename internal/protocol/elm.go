package protocol

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dperry713/simulator/internal/transport"
)

const (
	elmPrompt = byte('>')

	elmResetTimeout = 5 * time.Second
	elmInitTimeout  = 3 * time.Second
)

// ELMCodec drives an ELM327-style adapter: commands are hex text
// terminated by carriage return, answers are hex-digit lines terminated
// by the adapter's '>' prompt. The adapter handles link framing itself.
type ELMCodec struct {
	buf []byte
}

// NewELM returns an ELM327 text-mode codec.
func NewELM() *ELMCodec {
	return &ELMCodec{}
}

// Init resets the adapter and configures the session: echo off, linefeeds
// off, headers off, automatic protocol selection.
func (c *ELMCodec) Init(rw io.ReadWriter) error {
	resp, err := elmCommand(rw, "ATZ", elmResetTimeout)
	if err != nil {
		return fmt.Errorf("protocol: elm reset: %w", err)
	}
	if !strings.Contains(resp, "ELM") {
		return fmt.Errorf("protocol: no ELM327 identifier in %q: %w", resp, ErrProtocolUnsupported)
	}
	for _, cmd := range []string{"ATE0", "ATL0", "ATH0", "ATSP0"} {
		if _, err := elmCommand(rw, cmd, elmInitTimeout); err != nil {
			return fmt.Errorf("protocol: elm init %s: %w", cmd, err)
		}
	}
	return nil
}

func (c *ELMCodec) EncodeRequest(req Request) []byte {
	if req.ModeOnly() {
		return []byte(fmt.Sprintf("%02X\r", req.Mode))
	}
	return []byte(fmt.Sprintf("%02X%02X\r", req.Mode, req.Pid))
}

func (c *ELMCodec) Feed(p []byte) ([]Response, int, error) {
	c.buf = append(c.buf, p...)

	var resps []Response
	var segErr error
	for {
		i := bytes.IndexByte(c.buf, elmPrompt)
		if i < 0 {
			return resps, 0, segErr
		}
		seg := string(c.buf[:i])
		c.buf = append([]byte(nil), c.buf[i+1:]...)

		rs, err := parseELMSegment(seg, time.Now())
		resps = append(resps, rs...)
		if err != nil && segErr == nil {
			segErr = err
		}
	}
}

func (c *ELMCodec) Reset() {
	c.buf = nil
}

// parseELMSegment interprets one adapter answer (everything up to a
// prompt) as hex-byte response lines or a status message.
func parseELMSegment(seg string, at time.Time) ([]Response, error) {
	up := strings.ToUpper(seg)
	switch {
	case strings.Contains(up, "NO DATA"):
		return nil, ErrNoData
	case strings.Contains(up, "UNABLE TO CONNECT"),
		strings.Contains(up, "BUS INIT") && strings.Contains(up, "ERROR"),
		strings.Contains(up, "CAN ERROR"):
		return nil, ErrProtocolUnsupported
	}

	var resps []Response
	lines := strings.FieldsFunc(up, func(r rune) bool { return r == '\r' || r == '\n' })
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || line == "OK" || strings.HasPrefix(line, "SEARCHING") {
			continue
		}
		raw, ok := parseHexLine(line)
		if !ok || len(raw) == 0 {
			continue
		}
		echo := raw[0]
		if echo&ModeReplyFlag == 0 {
			continue
		}
		mode := echo &^ ModeReplyFlag

		switch mode {
		case ModeClearDTCs:
			resps = append(resps, Response{Mode: mode, At: at})
		case ModeStoredDTCs, ModePendingDTCs, ModePermanentDTCs:
			if len(raw) < 2 {
				continue
			}
			pairs := raw[2:]
			if n := 2 * int(raw[1]); n <= len(pairs) {
				pairs = pairs[:n]
			}
			resps = append(resps, Response{Mode: mode, Data: pairs, At: at})
		default:
			if len(raw) < 2 {
				continue
			}
			resps = append(resps, Response{Mode: mode, Pid: raw[1], Data: raw[2:], At: at})
		}
	}
	return resps, nil
}

// parseHexLine converts a line of two-digit hex fields into bytes.
// Returns false for anything that is not purely hex data.
func parseHexLine(line string) ([]byte, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, false
	}
	out := make([]byte, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, false
		}
		out = append(out, byte(v))
	}
	return out, true
}

// elmCommand writes one command and reads the adapter's answer up to its
// prompt, within the deadline. The carrier's short read timeout paces the
// loop.
func elmCommand(rw io.ReadWriter, cmd string, timeout time.Duration) (string, error) {
	if _, err := rw.Write([]byte(cmd + "\r")); err != nil {
		return "", err
	}

	deadline := time.Now().Add(timeout)
	var resp []byte
	buf := make([]byte, 64)
	for time.Now().Before(deadline) {
		n, err := rw.Read(buf)
		if err != nil {
			return string(resp), err
		}
		if n == 0 {
			continue
		}
		resp = append(resp, buf[:n]...)
		if i := bytes.IndexByte(resp, elmPrompt); i >= 0 {
			return strings.TrimSpace(string(resp[:i])), nil
		}
	}
	return string(resp), fmt.Errorf("%s: %w", cmd, transport.ErrTimeout)
}
