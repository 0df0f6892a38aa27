package xcb

import (
	"errors"
	"fmt"
	"github.com/BurntSushi/xgb"
)

var (
	ErrExtensionMissing = errors.New("extension not present on the server")
	ErrMalformed        = errors.New("malformed frame")
	ErrUnknownCookie    = errors.New("no outstanding request for cookie")
	ErrNoReply          = errors.New("request has no reply")
	ErrRequestTooLarge  = errors.New("request exceeds maximum request length")
)

// ProtocolError is an X error for which no decoder is registered.
type ProtocolError struct {
	Code        byte
	Sequence    uint16
	BadValue    uint32
	MinorOpcode uint16
	MajorOpcode byte
}

var _ xgb.Error = (*ProtocolError)(nil)

func ProtocolErrorNew(buf []byte) xgb.Error {
	return &ProtocolError{
		Code:        buf[1],
		Sequence:    xgb.Get16(buf[2:]),
		BadValue:    xgb.Get32(buf[4:]),
		MinorOpcode: xgb.Get16(buf[8:]),
		MajorOpcode: buf[10],
	}
}

func (e *ProtocolError) SequenceId() uint16 {
	return e.Sequence
}

func (e *ProtocolError) BadId() uint32 {
	return e.BadValue
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("x error %d (sequence %d, bad value %d, opcode %d.%d)",
		e.Code, e.Sequence, e.BadValue, e.MajorOpcode, e.MinorOpcode)
}

// AsXError extracts the X error carried by err, if any.
func AsXError(err error) (xgb.Error, bool) {
	var xerr xgb.Error
	if errors.As(err, &xerr) {
		return xerr, true
	}
	return nil, false
}
