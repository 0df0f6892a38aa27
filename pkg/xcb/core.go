package xcb

import (
	"context"
	"fmt"
	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"golang.org/x/text/encoding/charmap"
	"unicode/utf8"
)

const (
	opcodeGetAtomName    = 17
	opcodeQueryExtension = 98
)

// Requester sends requests and waits for their replies. It is implemented by
// the bridge driving a Conn.
type Requester interface {
	SendRequest(req Request) (Cookie, error)
	WaitForReply(ctx context.Context, cookie Cookie) ([]byte, error)
}

type QueryExtensionCookie struct {
	Cookie
	name string
}

type QueryExtensionReply struct {
	Sequence    uint16
	Present     bool
	MajorOpcode byte
	FirstEvent  byte
	FirstError  byte
}

// QueryExtension asks whether the named extension is present.
func QueryExtension(r Requester, name string) (QueryExtensionCookie, error) {
	body := make([]byte, 4+xgb.Pad(len(name)))
	xgb.Put16(body[0:], uint16(len(name)))
	copy(body[4:], name)

	cookie, err := r.SendRequest(Request{
		Opcode: opcodeQueryExtension,
		Body:   body,
		Reply:  true,
	})
	if err != nil {
		return QueryExtensionCookie{}, err
	}
	return QueryExtensionCookie{Cookie: cookie, name: name}, nil
}

func (cook QueryExtensionCookie) Reply(ctx context.Context, r Requester) (*QueryExtensionReply, error) {
	buf, err := r.WaitForReply(ctx, cook.Cookie)
	if err != nil {
		return nil, err
	}
	return queryExtensionReply(buf)
}

func queryExtensionReply(buf []byte) (*QueryExtensionReply, error) {
	if len(buf) < 32 {
		return nil, fmt.Errorf("%w: QueryExtension reply of %d bytes", ErrMalformed, len(buf))
	}
	return &QueryExtensionReply{
		Sequence:    xgb.Get16(buf[2:]),
		Present:     buf[8] == 1,
		MajorOpcode: buf[9],
		FirstEvent:  buf[10],
		FirstError:  buf[11],
	}, nil
}

// Info converts a positive reply into the extension's opcodes.
func (r *QueryExtensionReply) Info(name string) ExtensionInfo {
	return ExtensionInfo{
		Name:        name,
		MajorOpcode: r.MajorOpcode,
		FirstEvent:  r.FirstEvent,
		FirstError:  r.FirstError,
	}
}

type GetAtomNameCookie struct {
	Cookie
}

type GetAtomNameReply struct {
	Sequence uint16
	// Name is UTF-8. Names that are not valid UTF-8 on the wire are taken
	// as Latin-1, the STRING8 encoding of the core protocol.
	Name string
}

// GetAtomName resolves an atom to its name.
func GetAtomName(r Requester, atom xproto.Atom) (GetAtomNameCookie, error) {
	body := make([]byte, 4)
	xgb.Put32(body, uint32(atom))

	cookie, err := r.SendRequest(Request{
		Opcode: opcodeGetAtomName,
		Body:   body,
		Reply:  true,
	})
	if err != nil {
		return GetAtomNameCookie{}, err
	}
	return GetAtomNameCookie{Cookie: cookie}, nil
}

func (cook GetAtomNameCookie) Reply(ctx context.Context, r Requester) (*GetAtomNameReply, error) {
	buf, err := r.WaitForReply(ctx, cook.Cookie)
	if err != nil {
		return nil, err
	}
	return getAtomNameReply(buf)
}

func getAtomNameReply(buf []byte) (*GetAtomNameReply, error) {
	if len(buf) < 32 {
		return nil, fmt.Errorf("%w: GetAtomName reply of %d bytes", ErrMalformed, len(buf))
	}

	nameLen := int(xgb.Get16(buf[8:]))
	if 32+nameLen > len(buf) {
		return nil, fmt.Errorf("%w: atom name of %d bytes in %d byte reply", ErrMalformed, nameLen, len(buf))
	}

	name, err := decodeString8(buf[32 : 32+nameLen])
	if err != nil {
		return nil, fmt.Errorf("%w: atom name: %v", ErrMalformed, err)
	}

	return &GetAtomNameReply{
		Sequence: xgb.Get16(buf[2:]),
		Name:     name,
	}, nil
}

func decodeString8(b []byte) (string, error) {
	if utf8.Valid(b) {
		return string(b), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
