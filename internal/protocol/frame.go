package protocol

// Frame is one J1850 VPW message: a single header byte, the data bytes
// its type implies, and a trailing checksum.
type Frame struct {
	Header   byte
	Data     []byte
	Checksum byte
}

// Header assembles a header byte from its fields.
func Header(priority, kind, addr byte) byte {
	return priority<<prioShift | (kind&kindMask)<<kindShift | addr&addrMask
}

// Priority returns the header's priority field (0 is highest).
func (f Frame) Priority() byte { return f.Header >> prioShift }

// Kind returns the header's frame type field.
func (f Frame) Kind() byte { return f.Header >> kindShift & kindMask }

// Addr returns the header's unit address field.
func (f Frame) Addr() byte { return f.Header & addrMask }

// ChecksumOf computes the frame checksum: the one's complement of the
// 8-bit sum of the header and data bytes. A well-formed frame's full byte
// sum, checksum included, is therefore always 0xFF mod 256.
func ChecksumOf(header byte, data []byte) byte {
	sum := uint32(header)
	for _, b := range data {
		sum += uint32(b)
	}
	return ^byte(sum)
}

// Valid reports whether the stored checksum matches the frame contents.
func (f Frame) Valid() bool {
	return ChecksumOf(f.Header, f.Data) == f.Checksum
}

// NewFrame builds a frame over the given data with its checksum computed.
func NewFrame(header byte, data []byte) Frame {
	return Frame{
		Header:   header,
		Data:     append([]byte(nil), data...),
		Checksum: ChecksumOf(header, data),
	}
}

// Bytes marshals the frame for the wire.
func (f Frame) Bytes() []byte {
	out := make([]byte, 0, len(f.Data)+2)
	out = append(out, f.Header)
	out = append(out, f.Data...)
	out = append(out, f.Checksum)
	return out
}

// Engine-side builders. Replies carry the request mode with
// ModeReplyFlag set.

// ReplyFrame builds a data reply: mode echo, PID, two payload bytes.
func ReplyFrame(mode, pid, a, b byte) Frame {
	return NewFrame(Header(prioNormal, FrameReply, AddrEngine), []byte{mode | ModeReplyFlag, pid, a, b})
}

// DiagFrame builds a trouble-code report over the given two-byte
// records.
func DiagFrame(mode byte, records []byte) Frame {
	data := make([]byte, 0, len(records)+2)
	data = append(data, mode|ModeReplyFlag, byte(len(records)/2))
	data = append(data, records...)
	return NewFrame(Header(prioNormal, FrameDiag, AddrEngine), data)
}

// AckFrame builds a bare acknowledgement carrying only the mode echo.
func AckFrame(mode byte) Frame {
	return NewFrame(Header(prioNormal, FrameAck, AddrEngine), []byte{mode | ModeReplyFlag})
}
