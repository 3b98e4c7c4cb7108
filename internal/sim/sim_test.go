package sim

import (
	"errors"
	"testing"

	"github.com/dperry713/simulator/internal/dtc"
	"github.com/dperry713/simulator/internal/pid"
	"github.com/dperry713/simulator/internal/protocol"
	"github.com/dperry713/simulator/internal/transport"
)

func newECU(t *testing.T, p protocol.Protocol) (*ECU, protocol.Codec) {
	t.Helper()
	e, err := New(p)
	if err != nil {
		t.Fatalf("new ecu: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	c, err := protocol.NewCodec(p)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return e, c
}

// exchange writes one request and scans reads until a response arrives.
func exchange(t *testing.T, e *ECU, c protocol.Codec, req protocol.Request) []protocol.Response {
	t.Helper()
	if _, err := e.Write(c.EncodeRequest(req)); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 256)
	for i := 0; i < 50; i++ {
		n, err := e.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if n == 0 {
			continue
		}
		resps, _, err := c.Feed(buf[:n])
		if err != nil {
			t.Fatalf("feed: %v", err)
		}
		if len(resps) > 0 {
			return resps
		}
	}
	return nil
}

func TestECUAnswersRPM(t *testing.T) {
	for _, p := range []protocol.Protocol{protocol.J1850VPW, protocol.Generic} {
		t.Run(p.String(), func(t *testing.T) {
			e, c := newECU(t, p)
			resps := exchange(t, e, c, protocol.Request{Mode: 0x01, Pid: 0x0C})
			if len(resps) != 1 {
				t.Fatalf("expected 1 response, got %d", len(resps))
			}
			r := resps[0]
			if r.Mode != 0x01 || r.Pid != 0x0C {
				t.Fatalf("wrong reply identity: mode 0x%02X pid 0x%02X", r.Mode, r.Pid)
			}
			if len(r.Data) < 2 {
				t.Fatalf("expected 2 payload bytes, got % X", r.Data)
			}
			rpm := float64(uint16(r.Data[0])<<8|uint16(r.Data[1])) / 4
			if rpm < 500 || rpm > 4000 {
				t.Errorf("rpm %v outside the simulated band", rpm)
			}
		})
	}
}

func TestECUAnswersEveryRegisteredPID(t *testing.T) {
	e, c := newECU(t, protocol.J1850VPW)
	for _, param := range pid.List() {
		resps := exchange(t, e, c, protocol.Request{Mode: 0x01, Pid: param.Pid})
		if len(resps) != 1 {
			t.Fatalf("%s: expected 1 response, got %d", param.Key, len(resps))
		}
		v := pid.Decode(resps[0].Pid, resps[0].Data, resps[0].At)
		if v.Unrecognized {
			t.Errorf("%s: decode did not recognize the reply", param.Key)
		}
		if v.OutOfRange {
			t.Errorf("%s: simulated value %v out of range", param.Key, v.Value)
		}
	}
}

func TestECUStaysSilentOnUnknownPID(t *testing.T) {
	e, c := newECU(t, protocol.J1850VPW)
	if _, err := e.Write(c.EncodeRequest(protocol.Request{Mode: 0x01, Pid: 0xEE})); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 256)
	for i := 0; i < 10; i++ {
		n, err := e.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		resps, _, err := c.Feed(buf[:n])
		if err != nil {
			t.Fatalf("feed: %v", err)
		}
		if len(resps) != 0 {
			t.Fatalf("expected silence, got %+v", resps)
		}
	}
}

func TestECUReportsSeededCodes(t *testing.T) {
	e, c := newECU(t, protocol.J1850VPW)

	resps := exchange(t, e, c, protocol.Request{Mode: 0x03})
	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	codes := dtc.DecodePairs(resps[0].Data)
	if len(codes) != 2 || codes[0] != "P0301" || codes[1] != "P0420" {
		t.Errorf("stored codes: expected [P0301 P0420], got %v", codes)
	}

	resps = exchange(t, e, c, protocol.Request{Mode: 0x07})
	codes = dtc.DecodePairs(resps[0].Data)
	if len(codes) != 1 || codes[0] != "P0171" {
		t.Errorf("pending codes: expected [P0171], got %v", codes)
	}
}

func TestECUClearKeepsPermanentCodes(t *testing.T) {
	for _, p := range []protocol.Protocol{protocol.J1850VPW, protocol.Generic} {
		t.Run(p.String(), func(t *testing.T) {
			e, c := newECU(t, p)

			resps := exchange(t, e, c, protocol.Request{Mode: 0x04})
			if len(resps) != 1 || resps[0].Mode != 0x04 {
				t.Fatalf("expected clear acknowledgement, got %+v", resps)
			}

			resps = exchange(t, e, c, protocol.Request{Mode: 0x03})
			if len(resps) != 1 || len(resps[0].Data) != 0 {
				t.Errorf("stored codes should be gone, got %+v", resps)
			}
			resps = exchange(t, e, c, protocol.Request{Mode: 0x07})
			if len(resps) != 1 || len(resps[0].Data) != 0 {
				t.Errorf("pending codes should be gone, got %+v", resps)
			}

			resps = exchange(t, e, c, protocol.Request{Mode: 0x0A})
			codes := dtc.DecodePairs(resps[0].Data)
			if len(codes) != 1 || codes[0] != "P0420" {
				t.Errorf("permanent codes should survive a clear, got %v", codes)
			}
		})
	}
}

func TestECUSetCodes(t *testing.T) {
	e, c := newECU(t, protocol.J1850VPW)
	e.SetCodes([]byte{0xE1, 0x03}, nil, nil)

	resps := exchange(t, e, c, protocol.Request{Mode: 0x03})
	codes := dtc.DecodePairs(resps[0].Data)
	if len(codes) != 1 || codes[0] != "U2103" {
		t.Errorf("expected [U2103], got %v", codes)
	}
}

func TestECUClosedBehavesLikeLostLink(t *testing.T) {
	e, _ := newECU(t, protocol.J1850VPW)
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := e.Read(make([]byte, 8)); !errors.Is(err, transport.ErrLinkLost) {
		t.Errorf("read after close: expected link lost, got %v", err)
	}
	if _, err := e.Write([]byte{0x01}); !errors.Is(err, transport.ErrLinkLost) {
		t.Errorf("write after close: expected link lost, got %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestECUNoELMEmulation(t *testing.T) {
	if _, err := New(protocol.ELM327); !errors.Is(err, transport.ErrUnsupported) {
		t.Errorf("expected unsupported error, got %v", err)
	}
}
