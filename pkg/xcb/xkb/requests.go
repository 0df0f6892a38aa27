package xkb

import (
	"codeberg.org/miketth/xkbstatus/pkg/xcb"
	"context"
	"fmt"
	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"math/bits"
)

type UseExtensionCookie struct {
	xcb.Cookie
}

type UseExtensionReply struct {
	Sequence    uint16
	Supported   bool
	ServerMajor uint16
	ServerMinor uint16
}

// UseExtension announces the XKB version the client speaks.
func UseExtension(r xcb.Requester, wantedMajor, wantedMinor uint16) (UseExtensionCookie, error) {
	body := make([]byte, 4)
	xgb.Put16(body[0:], wantedMajor)
	xgb.Put16(body[2:], wantedMinor)

	cookie, err := r.SendRequest(xcb.Request{
		Extension: ExtName,
		Opcode:    opcodeUseExtension,
		Body:      body,
		Reply:     true,
	})
	if err != nil {
		return UseExtensionCookie{}, err
	}
	return UseExtensionCookie{cookie}, nil
}

func (cook UseExtensionCookie) Reply(ctx context.Context, r xcb.Requester) (*UseExtensionReply, error) {
	buf, err := r.WaitForReply(ctx, cook.Cookie)
	if err != nil {
		return nil, err
	}
	if len(buf) < 32 {
		return nil, fmt.Errorf("%w: UseExtension reply of %d bytes", xcb.ErrMalformed, len(buf))
	}

	return &UseExtensionReply{
		Sequence:    xgb.Get16(buf[2:]),
		Supported:   buf[1] != 0,
		ServerMajor: xgb.Get16(buf[8:]),
		ServerMinor: xgb.Get16(buf[10:]),
	}, nil
}

// AtLeast reports whether the server version is at least major.minor.
func (r *UseExtensionReply) AtLeast(major, minor uint16) bool {
	if r.ServerMajor != major {
		return r.ServerMajor > major
	}
	return r.ServerMinor >= minor
}

// SelectEventsRequest selects XKB events. Only the StateNotify details are
// supported.
type SelectEventsRequest struct {
	DeviceSpec  uint16
	AffectWhich uint16
	Clear       uint16
	SelectAll   uint16
	AffectMap   uint16
	Map         uint16
	// AffectState and StateDetails are sent when AffectWhich contains
	// StateNotify and it is not in Clear or SelectAll.
	AffectState  uint16
	StateDetails uint16
}

// SelectEvents sends a request without a reply. Errors arrive in the event
// stream.
func SelectEvents(r xcb.Requester, req SelectEventsRequest) (xcb.Cookie, error) {
	body := make([]byte, 12, 16)
	xgb.Put16(body[0:], req.DeviceSpec)
	xgb.Put16(body[2:], req.AffectWhich)
	xgb.Put16(body[4:], req.Clear)
	xgb.Put16(body[6:], req.SelectAll)
	xgb.Put16(body[8:], req.AffectMap)
	xgb.Put16(body[10:], req.Map)

	details := req.AffectWhich &^ req.Clear &^ req.SelectAll
	if details&^EventTypeStateNotify != 0 {
		return xcb.Cookie{}, fmt.Errorf("select events: details for event types %#x not supported", details&^EventTypeStateNotify)
	}
	if details&EventTypeStateNotify != 0 {
		body = body[:16]
		xgb.Put16(body[12:], req.AffectState)
		xgb.Put16(body[14:], req.StateDetails)
	}

	return r.SendRequest(xcb.Request{
		Extension: ExtName,
		Opcode:    opcodeSelectEvents,
		Body:      body,
	})
}

type GetStateCookie struct {
	xcb.Cookie
}

type GetStateReply struct {
	Sequence     uint16
	DeviceID     byte
	Mods         byte
	BaseMods     byte
	LatchedMods  byte
	LockedMods   byte
	Group        byte
	LockedGroup  byte
	BaseGroup    int16
	LatchedGroup int16
}

// GetState fetches the keyboard state of a device.
func GetState(r xcb.Requester, deviceSpec uint16) (GetStateCookie, error) {
	body := make([]byte, 4)
	xgb.Put16(body, deviceSpec)

	cookie, err := r.SendRequest(xcb.Request{
		Extension: ExtName,
		Opcode:    opcodeGetState,
		Body:      body,
		Reply:     true,
	})
	if err != nil {
		return GetStateCookie{}, err
	}
	return GetStateCookie{cookie}, nil
}

func (cook GetStateCookie) Reply(ctx context.Context, r xcb.Requester) (*GetStateReply, error) {
	buf, err := r.WaitForReply(ctx, cook.Cookie)
	if err != nil {
		return nil, err
	}
	if len(buf) < 32 {
		return nil, fmt.Errorf("%w: GetState reply of %d bytes", xcb.ErrMalformed, len(buf))
	}

	return &GetStateReply{
		Sequence:     xgb.Get16(buf[2:]),
		DeviceID:     buf[1],
		Mods:         buf[8],
		BaseMods:     buf[9],
		LatchedMods:  buf[10],
		LockedMods:   buf[11],
		Group:        buf[12],
		LockedGroup:  buf[13],
		BaseGroup:    int16(xgb.Get16(buf[14:])),
		LatchedGroup: int16(xgb.Get16(buf[16:])),
	}, nil
}

type GetNamesCookie struct {
	xcb.Cookie
}

// GetNamesReply holds the names up to and including the group names. Key
// names, key aliases and radio group names are not decoded.
type GetNamesReply struct {
	Sequence    uint16
	DeviceID    byte
	Which       uint32
	Keycodes    xproto.Atom
	Geometry    xproto.Atom
	Symbols     xproto.Atom
	PhysSymbols xproto.Atom
	Types       xproto.Atom
	Compat      xproto.Atom
	TypeNames   []xproto.Atom
	// KTLevelNames holds the level names of each key type.
	KTLevelNames   [][]xproto.Atom
	IndicatorNames []xproto.Atom
	VirtualMods    []xproto.Atom
	// Groups is indexed by group. Its length is one past the highest named
	// group and unnamed groups hold atom 0.
	Groups []xproto.Atom
}

// GetNames fetches the names selected by which.
func GetNames(r xcb.Requester, deviceSpec uint16, which uint32) (GetNamesCookie, error) {
	body := make([]byte, 8)
	xgb.Put16(body[0:], deviceSpec)
	xgb.Put32(body[4:], which)

	cookie, err := r.SendRequest(xcb.Request{
		Extension: ExtName,
		Opcode:    opcodeGetNames,
		Body:      body,
		Reply:     true,
	})
	if err != nil {
		return GetNamesCookie{}, err
	}
	return GetNamesCookie{cookie}, nil
}

func (cook GetNamesCookie) Reply(ctx context.Context, r xcb.Requester) (*GetNamesReply, error) {
	buf, err := r.WaitForReply(ctx, cook.Cookie)
	if err != nil {
		return nil, err
	}
	return getNamesReply(buf)
}

type atomReader struct {
	buf []byte
	off int
	err error
}

func (ar *atomReader) atom() xproto.Atom {
	if ar.err != nil {
		return 0
	}
	if ar.off+4 > len(ar.buf) {
		ar.err = fmt.Errorf("%w: GetNames value list truncated at %d of %d bytes", xcb.ErrMalformed, ar.off, len(ar.buf))
		return 0
	}
	a := xproto.Atom(xgb.Get32(ar.buf[ar.off:]))
	ar.off += 4
	return a
}

func (ar *atomReader) atoms(n int) []xproto.Atom {
	list := make([]xproto.Atom, n)
	for i := range list {
		list[i] = ar.atom()
	}
	return list
}

func (ar *atomReader) bytes(n int) []byte {
	if ar.err != nil {
		return nil
	}
	if ar.off+xgb.Pad(n) > len(ar.buf) {
		ar.err = fmt.Errorf("%w: GetNames value list truncated at %d of %d bytes", xcb.ErrMalformed, ar.off, len(ar.buf))
		return nil
	}
	b := ar.buf[ar.off : ar.off+n]
	ar.off += xgb.Pad(n)
	return b
}

func getNamesReply(buf []byte) (*GetNamesReply, error) {
	if len(buf) < 32 {
		return nil, fmt.Errorf("%w: GetNames reply of %d bytes", xcb.ErrMalformed, len(buf))
	}

	v := &GetNamesReply{
		Sequence: xgb.Get16(buf[2:]),
		DeviceID: buf[1],
		Which:    xgb.Get32(buf[8:]),
	}
	nTypes := int(buf[14])
	groupNames := buf[15]
	virtualMods := xgb.Get16(buf[16:])
	indicators := xgb.Get32(buf[20:])

	ar := &atomReader{buf: buf, off: 32}
	if v.Which&NameDetailKeycodes != 0 {
		v.Keycodes = ar.atom()
	}
	if v.Which&NameDetailGeometry != 0 {
		v.Geometry = ar.atom()
	}
	if v.Which&NameDetailSymbols != 0 {
		v.Symbols = ar.atom()
	}
	if v.Which&NameDetailPhysSymbols != 0 {
		v.PhysSymbols = ar.atom()
	}
	if v.Which&NameDetailTypes != 0 {
		v.Types = ar.atom()
	}
	if v.Which&NameDetailCompat != 0 {
		v.Compat = ar.atom()
	}
	if v.Which&NameDetailKeyTypeNames != 0 {
		v.TypeNames = ar.atoms(nTypes)
	}
	if v.Which&NameDetailKTLevelNames != 0 {
		levels := ar.bytes(nTypes)
		v.KTLevelNames = make([][]xproto.Atom, len(levels))
		for i, n := range levels {
			v.KTLevelNames[i] = ar.atoms(int(n))
		}
	}
	if v.Which&NameDetailIndicatorNames != 0 {
		v.IndicatorNames = ar.atoms(bits.OnesCount32(indicators))
	}
	if v.Which&NameDetailVirtualModNames != 0 {
		v.VirtualMods = ar.atoms(bits.OnesCount16(virtualMods))
	}
	if v.Which&NameDetailGroupNames != 0 {
		v.Groups = make([]xproto.Atom, bits.Len8(groupNames))
		for i := range v.Groups {
			if groupNames&(1<<i) != 0 {
				v.Groups[i] = ar.atom()
			}
		}
	}

	if ar.err != nil {
		return nil, ar.err
	}
	if len(v.Groups) > MaxGroups {
		return nil, fmt.Errorf("%w: %d groups named, at most %d allowed", xcb.ErrMalformed, len(v.Groups), MaxGroups)
	}
	return v, nil
}
