package protocol

// Decoder scans a received byte stream for valid J1850 VPW frames. Any
// byte may begin a candidate frame; the header type implies the expected
// length, and the checksum decides. A candidate failing its checksum is
// discarded whole and the scan resumes at the candidate's second byte, so
// a corrupted frame can never shadow a valid one starting inside it.
type Decoder struct {
	buf []byte
}

// NewDecoder returns a decoder with empty stream state.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Reset drops any buffered partial stream.
func (d *Decoder) Reset() {
	d.buf = nil
}

// scan outcomes
const (
	scanNeedMore = iota
	scanBad
	scanFrame
)

// Feed appends p to the stream and returns every complete valid frame
// found, plus the number of candidates discarded for failing validation.
func (d *Decoder) Feed(p []byte) ([]Frame, int) {
	d.buf = append(d.buf, p...)

	var frames []Frame
	discarded := 0
	for {
		frame, n, outcome := scanOne(d.buf)
		switch outcome {
		case scanNeedMore:
			return frames, discarded
		case scanBad:
			d.buf = d.buf[1:]
			discarded++
		case scanFrame:
			frames = append(frames, frame)
			d.buf = d.buf[n:]
		}
	}
}

// scanOne examines the front of buf for one candidate frame.
func scanOne(buf []byte) (Frame, int, int) {
	if len(buf) == 0 {
		return Frame{}, 0, scanNeedMore
	}

	header := buf[0]
	var dataLen int
	switch header >> kindShift & kindMask {
	case FrameRequest:
		dataLen = requestDataLen
	case FrameReply:
		dataLen = replyDataLen
	case FrameAck:
		dataLen = ackDataLen
	case FrameDiag:
		// Need the count byte before the length is known.
		if len(buf) < 3 {
			return Frame{}, 0, scanNeedMore
		}
		count := int(buf[2])
		if count > maxDiagCodes {
			return Frame{}, 0, scanBad
		}
		dataLen = 2 + 2*count
	}

	total := 1 + dataLen + 1
	if len(buf) < total {
		return Frame{}, 0, scanNeedMore
	}

	data := buf[1 : 1+dataLen]
	checksum := buf[1+dataLen]
	if ChecksumOf(header, data) != checksum {
		return Frame{}, 0, scanBad
	}

	frame := Frame{
		Header:   header,
		Data:     append([]byte(nil), data...),
		Checksum: checksum,
	}
	return frame, total, scanFrame
}
