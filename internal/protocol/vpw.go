package protocol

import (
	"io"
	"time"
)

// VPWCodec speaks SAE J1850 VPW at the frame level: requests go out as
// request frames addressed to the engine controller, and the receive
// stream is scanned for reply, diag, and ack frames.
type VPWCodec struct {
	dec      *Decoder
	priority byte
	addr     byte
}

// NewVPW returns a J1850 VPW codec with normal priority, addressing the
// engine controller.
func NewVPW() *VPWCodec {
	return &VPWCodec{
		dec:      NewDecoder(),
		priority: prioNormal,
		addr:     AddrEngine,
	}
}

func (c *VPWCodec) Init(rw io.ReadWriter) error { return nil }

func (c *VPWCodec) EncodeRequest(req Request) []byte {
	header := Header(c.priority, FrameRequest, c.addr)
	return NewFrame(header, []byte{req.Mode, req.Pid}).Bytes()
}

func (c *VPWCodec) Feed(p []byte) ([]Response, int, error) {
	frames, discarded := c.dec.Feed(p)
	now := time.Now()

	var resps []Response
	for _, f := range frames {
		if len(f.Data) == 0 {
			continue
		}
		echo := f.Data[0]
		if echo&ModeReplyFlag == 0 {
			// Request frames seen on the bus (including our own echo on a
			// half-duplex link) are not responses.
			continue
		}
		mode := echo &^ ModeReplyFlag

		switch f.Kind() {
		case FrameReply:
			resps = append(resps, Response{
				Mode: mode,
				Pid:  f.Data[1],
				Data: append([]byte(nil), f.Data[2:]...),
				At:   now,
			})
		case FrameDiag:
			count := int(f.Data[1])
			resps = append(resps, Response{
				Mode: mode,
				Data: append([]byte(nil), f.Data[2:2+2*count]...),
				At:   now,
			})
		case FrameAck:
			resps = append(resps, Response{Mode: mode, At: now})
		}
	}
	return resps, discarded, nil
}

func (c *VPWCodec) Reset() {
	c.dec.Reset()
}
