package protocol

import (
	"io"
	"time"
)

// GenericCodec is the frameless variant: requests are the bare mode and
// PID bytes, and responses carry the same logical layout as the VPW data
// sections without header or checksum. Useful for adapters that already
// strip link framing.
type GenericCodec struct {
	buf []byte
}

// NewGeneric returns a frameless mode/PID codec.
func NewGeneric() *GenericCodec {
	return &GenericCodec{}
}

func (c *GenericCodec) Init(rw io.ReadWriter) error { return nil }

func (c *GenericCodec) EncodeRequest(req Request) []byte {
	return []byte{req.Mode, req.Pid}
}

func (c *GenericCodec) Feed(p []byte) ([]Response, int, error) {
	c.buf = append(c.buf, p...)
	now := time.Now()

	var resps []Response
	discarded := 0
	for len(c.buf) > 0 {
		echo := c.buf[0]
		if echo&ModeReplyFlag == 0 {
			c.buf = c.buf[1:]
			discarded++
			continue
		}
		mode := echo &^ ModeReplyFlag

		switch mode {
		case ModeClearDTCs:
			resps = append(resps, Response{Mode: mode, At: now})
			c.buf = c.buf[1:]

		case ModeStoredDTCs, ModePendingDTCs, ModePermanentDTCs:
			if len(c.buf) < 2 {
				return resps, discarded, nil
			}
			count := int(c.buf[1])
			if count > maxDiagCodes {
				c.buf = c.buf[1:]
				discarded++
				continue
			}
			total := 2 + 2*count
			if len(c.buf) < total {
				return resps, discarded, nil
			}
			resps = append(resps, Response{
				Mode: mode,
				Data: append([]byte(nil), c.buf[2:total]...),
				At:   now,
			})
			c.buf = c.buf[total:]

		default:
			// Data reply: echo, pid, A, B.
			if len(c.buf) < 2+replyPayloadLen {
				return resps, discarded, nil
			}
			resps = append(resps, Response{
				Mode: mode,
				Pid:  c.buf[1],
				Data: append([]byte(nil), c.buf[2:2+replyPayloadLen]...),
				At:   now,
			})
			c.buf = c.buf[2+replyPayloadLen:]
		}
	}
	return resps, discarded, nil
}

func (c *GenericCodec) Reset() {
	c.buf = nil
}
