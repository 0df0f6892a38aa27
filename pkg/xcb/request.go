package xcb

import (
	"github.com/BurntSushi/xgb"
)

// Request is a serialized protocol request without its 4 byte header.
type Request struct {
	// Extension is the extension name, empty for core requests.
	Extension string
	// Opcode is the major opcode of a core request or the minor opcode of
	// an extension request.
	Opcode byte
	// Data is the second header byte of core requests.
	Data byte
	Body []byte
	// Reply is set when the server answers the request with a reply.
	Reply bool
}

// Cookie identifies a sent request.
type Cookie struct {
	Sequence uint64
	reply    bool
}

// HasReply reports whether the request expects a reply.
func (c Cookie) HasReply() bool {
	return c.reply
}

func (r Request) encode(major byte) []byte {
	size := 4 + xgb.Pad(len(r.Body))
	buf := make([]byte, size)

	buf[0] = major
	if r.Extension != "" {
		buf[1] = r.Opcode
	} else {
		buf[1] = r.Data
	}
	xgb.Put16(buf[2:], uint16(size/4))
	copy(buf[4:], r.Body)

	return buf
}
