package xcb

import (
	"fmt"
	"github.com/BurntSushi/xgb"
)

// EventDecoder builds an event from its wire bytes.
type EventDecoder func(buf []byte) (xgb.Event, error)

// UnknownEvent is an event without a registered decoder.
type UnknownEvent struct {
	Code     byte
	Sequence uint16
	Raw      []byte
}

var _ xgb.Event = UnknownEvent{}

func (e UnknownEvent) Bytes() []byte {
	return e.Raw
}

func (e UnknownEvent) String() string {
	return fmt.Sprintf("UnknownEvent {Code: %d, Sequence: %d, Length: %d}", e.Code, e.Sequence, len(e.Raw))
}

func (c *Conn) decodeEvent(frame []byte) (xgb.Event, error) {
	// the top bit marks events generated by SendEvent
	code := frame[0] & 0x7f

	if dec, ok := c.eventDecoders[code]; ok {
		return dec(frame)
	}
	if code < firstExtensionEvent {
		if fun, ok := xgb.NewEventFuncs[int(code)]; ok {
			return fun(frame), nil
		}
	}

	return UnknownEvent{Code: code, Sequence: xgb.Get16(frame[2:]), Raw: frame}, nil
}

func (c *Conn) decodeError(frame []byte) xgb.Error {
	code := frame[1]

	if code < firstExtensionError {
		if fun, ok := xgb.NewErrorFuncs[int(code)]; ok {
			return fun(frame)
		}
	}

	return ProtocolErrorNew(frame)
}
