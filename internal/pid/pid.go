// Package pid holds the registry of supported OBD-II parameter IDs and
// decodes raw mode 01 payloads into engineering values. Decoding is
// pure: it never clamps, never errors, and marks anything it cannot
// interpret with flags instead.
package pid

import (
	"sort"
	"time"
)

// Parameter describes one supported PID: its identity, payload size,
// scaling formula, and plausible value range.
type Parameter struct {
	Pid   byte
	Key   string // stable snake_case identifier used in config and logs
	Name  string
	Unit  string
	Bytes int // data bytes the formula consumes (1 or 2)
	Min   float64
	Max   float64

	decode func(a, b byte) float64
}

// DecodedValue is one decoded sample.
//
// OutOfRange means the computed value fell outside the parameter's
// declared range; the value is reported as computed, not clamped.
// Unrecognized means the PID is not in the registry or the payload was
// too short for its formula; Value is zero in that case.
type DecodedValue struct {
	Pid          byte      `json:"pid"`
	Key          string    `json:"key,omitempty"`
	Name         string    `json:"name,omitempty"`
	Value        float64   `json:"value"`
	Unit         string    `json:"unit,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Raw          []byte    `json:"raw,omitempty"`
	OutOfRange   bool      `json:"outOfRange,omitempty"`
	Unrecognized bool      `json:"unrecognized,omitempty"`
}

// Scaling formulas from the SAE J1979 mode 01 tables.

func decodePercent(a, _ byte) float64 { return float64(a) * 100 / 255 }
func decodeTempC(a, _ byte) float64   { return float64(a) - 40 }
func decodeByte(a, _ byte) float64    { return float64(a) }
func decodeWord(a, b byte) float64    { return float64(a)*256 + float64(b) }
func decodeRPM(a, b byte) float64     { return (float64(a)*256 + float64(b)) / 4 }
func decodeTiming(a, _ byte) float64  { return float64(a)/2 - 64 }
func decodeCenti(a, b byte) float64   { return (float64(a)*256 + float64(b)) / 100 }
func decodeMilli(a, b byte) float64   { return (float64(a)*256 + float64(b)) / 1000 }

// Parameters is the registry of supported PIDs, ordered by PID.
var Parameters = []Parameter{
	{Pid: 0x04, Key: "engine_load", Name: "Calculated Engine Load", Unit: "%", Bytes: 1, Min: 0, Max: 100, decode: decodePercent},
	{Pid: 0x05, Key: "coolant_temp", Name: "Engine Coolant Temperature", Unit: "°C", Bytes: 1, Min: -40, Max: 215, decode: decodeTempC},
	{Pid: 0x0B, Key: "intake_pressure", Name: "Intake Manifold Pressure", Unit: "kPa", Bytes: 1, Min: 0, Max: 255, decode: decodeByte},
	{Pid: 0x0C, Key: "rpm", Name: "Engine RPM", Unit: "rpm", Bytes: 2, Min: 0, Max: 8000, decode: decodeRPM},
	{Pid: 0x0D, Key: "vehicle_speed", Name: "Vehicle Speed", Unit: "km/h", Bytes: 1, Min: 0, Max: 200, decode: decodeByte},
	{Pid: 0x0E, Key: "timing_advance", Name: "Timing Advance", Unit: "°", Bytes: 1, Min: -64, Max: 63.5, decode: decodeTiming},
	{Pid: 0x0F, Key: "intake_temp", Name: "Intake Air Temperature", Unit: "°C", Bytes: 1, Min: -40, Max: 215, decode: decodeTempC},
	{Pid: 0x10, Key: "maf_rate", Name: "MAF Air Flow Rate", Unit: "g/s", Bytes: 2, Min: 0, Max: 655.35, decode: decodeCenti},
	{Pid: 0x11, Key: "throttle_pos", Name: "Throttle Position", Unit: "%", Bytes: 1, Min: 0, Max: 100, decode: decodePercent},
	{Pid: 0x1F, Key: "run_time", Name: "Run Time Since Engine Start", Unit: "s", Bytes: 2, Min: 0, Max: 65535, decode: decodeWord},
	{Pid: 0x2F, Key: "fuel_level", Name: "Fuel Tank Level", Unit: "%", Bytes: 1, Min: 0, Max: 100, decode: decodePercent},
	{Pid: 0x33, Key: "baro_pressure", Name: "Barometric Pressure", Unit: "kPa", Bytes: 1, Min: 0, Max: 255, decode: decodeByte},
	{Pid: 0x42, Key: "control_voltage", Name: "Control Module Voltage", Unit: "V", Bytes: 2, Min: 0, Max: 65.535, decode: decodeMilli},
	{Pid: 0x46, Key: "ambient_temp", Name: "Ambient Air Temperature", Unit: "°C", Bytes: 1, Min: -40, Max: 215, decode: decodeTempC},
}

var (
	byPid = make(map[byte]Parameter, len(Parameters))
	byKey = make(map[string]Parameter, len(Parameters))
)

func init() {
	for _, p := range Parameters {
		byPid[p.Pid] = p
		byKey[p.Key] = p
	}
}

// Lookup finds a parameter by PID.
func Lookup(pid byte) (Parameter, bool) {
	p, ok := byPid[pid]
	return p, ok
}

// LookupKey finds a parameter by its snake_case key.
func LookupKey(key string) (Parameter, bool) {
	p, ok := byKey[key]
	return p, ok
}

// List returns the registry ordered by PID.
func List() []Parameter {
	out := append([]Parameter(nil), Parameters...)
	sort.Slice(out, func(i, j int) bool { return out[i].Pid < out[j].Pid })
	return out
}

// Decode converts one raw mode 01 payload into a DecodedValue. Payloads
// longer than the formula needs are fine; the engine pads replies to a
// fixed width.
func Decode(p byte, data []byte, at time.Time) DecodedValue {
	v := DecodedValue{
		Pid:       p,
		Timestamp: at,
		Raw:       append([]byte(nil), data...),
	}

	param, ok := byPid[p]
	if !ok || len(data) < param.Bytes {
		v.Unrecognized = true
		return v
	}

	var a, b byte
	a = data[0]
	if len(data) > 1 {
		b = data[1]
	}

	v.Key = param.Key
	v.Name = param.Name
	v.Unit = param.Unit
	v.Value = param.decode(a, b)
	v.OutOfRange = v.Value < param.Min || v.Value > param.Max
	return v
}
