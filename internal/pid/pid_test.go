package pid

import (
	"bytes"
	"math"
	"testing"
	"time"
)

var testStamp = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// ============================================================
// Formula Tests
// ============================================================

func TestDecode_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		pid  byte
		data []byte
		want float64
		unit string
	}{
		{"rpm idle", 0x0C, []byte{0x0B, 0xB8}, 750, "rpm"},
		{"rpm cruise", 0x0C, []byte{0x1A, 0xF8}, 1726, "rpm"},
		{"rpm zero", 0x0C, []byte{0x00, 0x00}, 0, "rpm"},
		{"speed", 0x0D, []byte{0x3C}, 60, "km/h"},
		{"speed padded", 0x0D, []byte{0x3C, 0x00}, 60, "km/h"},
		{"load full", 0x04, []byte{0xFF}, 100, "%"},
		{"load half", 0x04, []byte{0x80}, 128.0 * 100 / 255, "%"},
		{"coolant", 0x05, []byte{0x5A}, 50, "°C"},
		{"coolant freezing", 0x05, []byte{0x28}, 0, "°C"},
		{"intake pressure", 0x0B, []byte{0x64}, 100, "kPa"},
		{"timing advance", 0x0E, []byte{0x80}, 0, "°"},
		{"timing retard", 0x0E, []byte{0x00}, -64, "°"},
		{"intake temp", 0x0F, []byte{0x37}, 15, "°C"},
		{"maf", 0x10, []byte{0x02, 0x8A}, 6.5, "g/s"},
		{"throttle", 0x11, []byte{0xFF}, 100, "%"},
		{"run time", 0x1F, []byte{0x01, 0x2C}, 300, "s"},
		{"fuel level", 0x2F, []byte{0x51}, 81.0 * 100 / 255, "%"},
		{"baro", 0x33, []byte{0x63}, 99, "kPa"},
		{"voltage", 0x42, []byte{0x36, 0xB0}, 14, "V"},
		{"ambient", 0x46, []byte{0x2D}, 5, "°C"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Decode(tt.pid, tt.data, testStamp)
			if v.Unrecognized {
				t.Fatalf("pid 0x%02X flagged unrecognized", tt.pid)
			}
			if math.Abs(v.Value-tt.want) > 1e-9 {
				t.Errorf("value: expected %v, got %v", tt.want, v.Value)
			}
			if v.Unit != tt.unit {
				t.Errorf("unit: expected %q, got %q", tt.unit, v.Unit)
			}
			if !v.Timestamp.Equal(testStamp) {
				t.Errorf("timestamp: expected %v, got %v", testStamp, v.Timestamp)
			}
		})
	}
}

func TestDecode_OutOfRange(t *testing.T) {
	// Max raw RPM is 16383.75, far past the declared 8000 ceiling. The
	// value must be reported as computed, never clamped.
	v := Decode(0x0C, []byte{0xFF, 0xFF}, testStamp)
	if !v.OutOfRange {
		t.Error("expected OutOfRange for raw FF FF rpm")
	}
	if v.Value != 16383.75 {
		t.Errorf("value must not be clamped: expected 16383.75, got %v", v.Value)
	}

	v = Decode(0x0D, []byte{0xFF}, testStamp)
	if !v.OutOfRange {
		t.Error("expected OutOfRange for 255 km/h")
	}
	if v.Value != 255 {
		t.Errorf("value must not be clamped: expected 255, got %v", v.Value)
	}
}

func TestDecode_InRangeBoundaries(t *testing.T) {
	if v := Decode(0x04, []byte{0xFF}, testStamp); v.OutOfRange {
		t.Errorf("100%% load is the declared maximum, not out of range (got %v)", v.Value)
	}
	if v := Decode(0x0E, []byte{0x00}, testStamp); v.OutOfRange {
		t.Errorf("-64° timing is the declared minimum, not out of range (got %v)", v.Value)
	}
}

func TestDecode_Unrecognized(t *testing.T) {
	v := Decode(0xEE, []byte{0x12, 0x34}, testStamp)
	if !v.Unrecognized {
		t.Fatal("expected Unrecognized for PID 0xEE")
	}
	if v.Value != 0 || v.Name != "" {
		t.Errorf("unrecognized sample should be empty, got %+v", v)
	}
	if !bytes.Equal(v.Raw, []byte{0x12, 0x34}) {
		t.Errorf("raw bytes should be preserved, got % X", v.Raw)
	}
	if v.Pid != 0xEE {
		t.Errorf("pid should be preserved, got 0x%02X", v.Pid)
	}
}

func TestDecode_ShortPayload(t *testing.T) {
	v := Decode(0x0C, []byte{0x1A}, testStamp)
	if !v.Unrecognized {
		t.Error("two-byte formula with one byte of data cannot decode")
	}
	v = Decode(0x0C, nil, testStamp)
	if !v.Unrecognized {
		t.Error("empty payload cannot decode")
	}
}

func TestDecode_Pure(t *testing.T) {
	data := []byte{0x1A, 0xF8}
	v1 := Decode(0x0C, data, testStamp)
	v2 := Decode(0x0C, data, testStamp)
	if v1.Value != v2.Value || v1.OutOfRange != v2.OutOfRange {
		t.Errorf("decode must be deterministic: %+v vs %+v", v1, v2)
	}
	if !bytes.Equal(data, []byte{0x1A, 0xF8}) {
		t.Errorf("decode must not mutate its input, got % X", data)
	}

	// Raw is a copy, not an alias.
	data[0] = 0x00
	if v1.Raw[0] != 0x1A {
		t.Error("Raw must be a copy of the payload, not an alias")
	}
}

// ============================================================
// Registry Tests
// ============================================================

func TestLookup(t *testing.T) {
	p, ok := Lookup(0x0C)
	if !ok {
		t.Fatal("expected PID 0x0C in the registry")
	}
	if p.Key != "rpm" || p.Bytes != 2 {
		t.Errorf("unexpected rpm parameter: %+v", p)
	}
	if _, ok := Lookup(0xEE); ok {
		t.Error("PID 0xEE should not be registered")
	}
}

func TestLookupKey(t *testing.T) {
	p, ok := LookupKey("coolant_temp")
	if !ok {
		t.Fatal("expected key coolant_temp in the registry")
	}
	if p.Pid != 0x05 {
		t.Errorf("coolant_temp: expected PID 0x05, got 0x%02X", p.Pid)
	}
	if _, ok := LookupKey("warp_factor"); ok {
		t.Error("unknown key should not resolve")
	}
}

func TestList_SortedAndComplete(t *testing.T) {
	list := List()
	if len(list) != len(Parameters) {
		t.Fatalf("expected %d parameters, got %d", len(Parameters), len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Pid >= list[i].Pid {
			t.Errorf("list not sorted at %d: 0x%02X then 0x%02X", i, list[i-1].Pid, list[i].Pid)
		}
	}
}

// Every registry entry must be internally consistent; a malformed entry
// would surface as silent decode garbage.
func TestRegistryEntriesWellFormed(t *testing.T) {
	for _, p := range Parameters {
		if p.Key == "" || p.Name == "" {
			t.Errorf("PID 0x%02X: missing key or name", p.Pid)
		}
		if p.Bytes != 1 && p.Bytes != 2 {
			t.Errorf("PID 0x%02X: byte count %d", p.Pid, p.Bytes)
		}
		if p.Min >= p.Max {
			t.Errorf("PID 0x%02X: range [%v, %v]", p.Pid, p.Min, p.Max)
		}
		if p.decode == nil {
			t.Errorf("PID 0x%02X: no decode formula", p.Pid)
		}
	}
}
