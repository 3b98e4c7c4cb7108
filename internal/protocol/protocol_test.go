package protocol

import (
	"errors"
	"testing"
)

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		in   string
		want Protocol
	}{
		{"", Generic},
		{"generic", Generic},
		{"j1850vpw", J1850VPW},
		{"J1850", J1850VPW},
		{"vpw", J1850VPW},
		{"elm327", ELM327},
		{"ELM", ELM327},
	}

	for _, tt := range tests {
		t.Run("in="+tt.in, func(t *testing.T) {
			got, err := ParseProtocol(tt.in)
			if err != nil {
				t.Fatalf("ParseProtocol(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseProtocol(%q): expected %v, got %v", tt.in, tt.want, got)
			}
		})
	}
}

func TestParseProtocol_Unknown(t *testing.T) {
	if _, err := ParseProtocol("kwp2000"); err == nil {
		t.Error("Expected error for unknown protocol name")
	}
}

func TestNewCodec(t *testing.T) {
	for _, p := range []Protocol{Generic, J1850VPW, ELM327} {
		c, err := NewCodec(p)
		if err != nil {
			t.Fatalf("NewCodec(%v) error: %v", p, err)
		}
		if c == nil {
			t.Fatalf("NewCodec(%v) returned nil codec", p)
		}
	}
}

func TestNewCodec_Invalid(t *testing.T) {
	if _, err := NewCodec(Protocol(99)); !errors.Is(err, ErrProtocolUnsupported) {
		t.Errorf("Expected ErrProtocolUnsupported, got %v", err)
	}
}

func TestRequestModeOnly(t *testing.T) {
	tests := []struct {
		mode byte
		want bool
	}{
		{ModeCurrentData, false},
		{ModeStoredDTCs, true},
		{ModeClearDTCs, true},
		{ModePendingDTCs, true},
		{ModePermanentDTCs, true},
		{0x09, false},
	}

	for _, tt := range tests {
		req := Request{Mode: tt.mode}
		if got := req.ModeOnly(); got != tt.want {
			t.Errorf("Request{Mode: 0x%02X}.ModeOnly(): expected %v, got %v", tt.mode, tt.want, got)
		}
	}
}
