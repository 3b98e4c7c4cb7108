package protocol

import (
	"bytes"
	"testing"
)

func TestVPWEncodeRequest(t *testing.T) {
	c := NewVPW()
	got := c.EncodeRequest(Request{Mode: ModeCurrentData, Pid: 0x0C})
	want := []byte{0x81, 0x01, 0x0C, 0x71}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeRequest: expected % X, got % X", want, got)
	}
}

func TestVPWEncodeRequest_ModeOnly(t *testing.T) {
	c := NewVPW()
	got := c.EncodeRequest(Request{Mode: ModeStoredDTCs})
	// Mode-only requests still ride a fixed-size request frame; the PID
	// byte is simply zero.
	want := NewFrame(0x81, []byte{0x03, 0x00}).Bytes()
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeRequest: expected % X, got % X", want, got)
	}
}

func TestVPWFeedReply(t *testing.T) {
	c := NewVPW()
	resps, discarded, err := c.Feed([]byte{0x91, 0x41, 0x0C, 0x1A, 0xF8, 0x0F})
	if err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if discarded != 0 {
		t.Errorf("expected 0 discarded, got %d", discarded)
	}
	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	r := resps[0]
	if r.Mode != ModeCurrentData {
		t.Errorf("mode: expected 0x01, got 0x%02X", r.Mode)
	}
	if r.Pid != 0x0C {
		t.Errorf("pid: expected 0x0C, got 0x%02X", r.Pid)
	}
	if !bytes.Equal(r.Data, []byte{0x1A, 0xF8}) {
		t.Errorf("data: expected 1A F8, got % X", r.Data)
	}
	if r.At.IsZero() {
		t.Error("response timestamp should be set")
	}
}

func TestVPWFeedSkipsOwnEcho(t *testing.T) {
	c := NewVPW()
	// Half-duplex links replay our own request frame back at us.
	resps, discarded, err := c.Feed(c.EncodeRequest(Request{Mode: ModeCurrentData, Pid: 0x0C}))
	if err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if len(resps) != 0 {
		t.Errorf("request echo must not produce responses, got %d", len(resps))
	}
	if discarded != 0 {
		t.Errorf("request echo is a valid frame, not noise; discarded %d", discarded)
	}
}

func TestVPWFeedSkipsReplyWithoutModeFlag(t *testing.T) {
	c := NewVPW()
	// Valid frame, but the echo byte lacks the reply flag.
	resps, _, err := c.Feed(wire(0x91, 0x01, 0x0C, 0x1A, 0xF8))
	if err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if len(resps) != 0 {
		t.Errorf("unflagged echo byte must be skipped, got %d responses", len(resps))
	}
}

func TestVPWFeedDiag(t *testing.T) {
	c := NewVPW()
	resps, _, err := c.Feed(wire(0xA1, 0x43, 0x02, 0xE1, 0x03, 0x03, 0x01))
	if err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	r := resps[0]
	if r.Mode != ModeStoredDTCs {
		t.Errorf("mode: expected 0x03, got 0x%02X", r.Mode)
	}
	if !bytes.Equal(r.Data, []byte{0xE1, 0x03, 0x03, 0x01}) {
		t.Errorf("data: expected the two code pairs, got % X", r.Data)
	}
}

func TestVPWFeedDiagEmpty(t *testing.T) {
	c := NewVPW()
	resps, _, err := c.Feed(wire(0xA1, 0x43, 0x00))
	if err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	if len(resps[0].Data) != 0 {
		t.Errorf("zero-count diag should carry no pairs, got % X", resps[0].Data)
	}
}

func TestVPWFeedAck(t *testing.T) {
	c := NewVPW()
	resps, _, err := c.Feed(wire(0xB1, 0x44))
	if err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	if resps[0].Mode != ModeClearDTCs {
		t.Errorf("mode: expected 0x04, got 0x%02X", resps[0].Mode)
	}
	if len(resps[0].Data) != 0 {
		t.Errorf("ack carries no data, got % X", resps[0].Data)
	}
}

func TestVPWFeedReportsNoise(t *testing.T) {
	c := NewVPW()
	stream := append([]byte{0x00, 0xFF, 0x13}, wire(0x91, 0x41, 0x0C, 0x1A, 0xF8)...)
	resps, discarded, err := c.Feed(stream)
	if err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if len(resps) != 1 {
		t.Fatalf("expected response after noise, got %d", len(resps))
	}
	if discarded == 0 {
		t.Error("noise bytes should be reported as discarded")
	}
}

func TestVPWFeedSplitAcrossReads(t *testing.T) {
	c := NewVPW()
	frame := wire(0x91, 0x41, 0x0C, 0x1A, 0xF8)

	resps, _, err := c.Feed(frame[:3])
	if err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if len(resps) != 0 {
		t.Fatalf("partial frame must not produce responses, got %d", len(resps))
	}
	resps, _, err = c.Feed(frame[3:])
	if err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if len(resps) != 1 {
		t.Fatalf("expected completed frame, got %d responses", len(resps))
	}
}

func TestVPWReset(t *testing.T) {
	c := NewVPW()
	c.Feed([]byte{0x91, 0x41}) // partial
	c.Reset()
	resps, discarded, err := c.Feed(wire(0xB1, 0x44))
	if err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if len(resps) != 1 || discarded != 0 {
		t.Errorf("after Reset: expected 1 clean response, got %d responses, %d discarded", len(resps), discarded)
	}
}
