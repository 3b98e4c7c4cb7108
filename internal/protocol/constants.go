package protocol

// J1850 VPW line discipline. The codec works at the frame level; these
// describe the wire below it for analyzer compatibility.
const (
	VPWBitRate = 10400 // bits per second

	VPWShortPulseMicros = 64  // dominant short symbol
	VPWLongPulseMicros  = 128 // dominant long symbol
	VPWSOFMicros        = 200 // start-of-frame symbol
)

// Header byte layout: bits 7-6 priority, bits 5-4 frame type, bits 3-0
// unit address (destination for requests, source for replies).
const (
	prioShift  = 6
	kindShift  = 4
	kindMask   = 0x03
	addrMask   = 0x0F
	prioHi     = 0x00
	prioNormal = 0x02
)

// Frame types. The type implies the frame's data length.
const (
	FrameRequest = 0x0 // data: mode, pid
	FrameReply   = 0x1 // data: mode echo, pid, A, B
	FrameDiag    = 0x2 // data: mode echo, code count, count*2 DTC bytes
	FrameAck     = 0x3 // data: mode echo
)

// Unit addresses.
const (
	AddrEngine = 0x1
	AddrTester = 0xC
)

// OBD service modes.
const (
	ModeCurrentData   = 0x01
	ModeStoredDTCs    = 0x03
	ModeClearDTCs     = 0x04
	ModePendingDTCs   = 0x07
	ModePermanentDTCs = 0x0A

	// ModeReplyFlag is OR'd onto the request mode in every reply.
	ModeReplyFlag = 0x40
)

// Frame size rules.
const (
	requestDataLen = 2
	replyDataLen   = 4
	ackDataLen     = 1

	// replyPayloadLen is the A/B payload portion of a data reply, after
	// the mode echo and PID bytes.
	replyPayloadLen = replyDataLen - 2

	// maxDiagCodes bounds the code count a diag frame may claim; a larger
	// count marks the candidate as garbage during the scan.
	maxDiagCodes = 16
)
