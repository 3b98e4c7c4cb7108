// Package dtc decodes J1979 diagnostic trouble codes and keeps a
// per-code occurrence history.
package dtc

import (
	"encoding/json"
	"fmt"
)

// Status classifies which list the vehicle reported a code from.
type Status int

const (
	Active Status = iota
	Pending
	Permanent
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Pending:
		return "pending"
	case Permanent:
		return "permanent"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalJSON encodes the status as its lowercase name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Entry is one decoded trouble code as reported by the vehicle.
type Entry struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Status      Status `json:"status"`
}

// Decode expands a two-byte trouble-code record into its display form,
// e.g. 0x03,0x01 -> "P0301" and 0xE1,0x03 -> "U2103". The top two bits
// of A select the system letter, the next two the second digit, and the
// remaining three nibbles are plain hex. A zero record means "no code"
// and decodes to "".
func Decode(a, b byte) string {
	if a == 0 && b == 0 {
		return ""
	}
	const hexDigits = "0123456789ABCDEF"
	systems := [4]byte{'P', 'C', 'B', 'U'}

	code := [5]byte{
		systems[(a>>6)&0x03],
		'0' + ((a >> 4) & 0x03),
		hexDigits[a&0x0F],
		hexDigits[b>>4],
		hexDigits[b&0x0F],
	}
	return string(code[:])
}

// DecodePairs decodes a run of two-byte records, skipping zero padding.
// A trailing odd byte is ignored.
func DecodePairs(data []byte) []string {
	var codes []string
	for i := 0; i+1 < len(data); i += 2 {
		if code := Decode(data[i], data[i+1]); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

// Entries decodes a run of two-byte records into entries carrying the
// given status and a looked-up description.
func Entries(status Status, data []byte) []Entry {
	var out []Entry
	for _, code := range DecodePairs(data) {
		out = append(out, Entry{Code: code, Description: Describe(code), Status: status})
	}
	return out
}
