package xcbtest

import (
	"codeberg.org/miketth/xkbstatus/pkg/xcb"
	"codeberg.org/miketth/xkbstatus/pkg/xcb/xkb"
	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"sync"
)

// XkbInfo are the opcodes the fake server assigns to XKEYBOARD.
var XkbInfo = xcb.ExtensionInfo{
	Name:        xkb.ExtName,
	MajorOpcode: 135,
	FirstEvent:  85,
	FirstError:  137,
}

const firstGroupAtom = 300

// Keyboard is the XKB state of the fake server's core keyboard.
type Keyboard struct {
	mu sync.Mutex

	// Groups names the keyboard groups. Empty names are reported as
	// atom 0.
	Groups []string
	Group  byte
	// Dangling lists groups whose name atom the server cannot resolve.
	Dangling []int

	Unsupported  bool
	ServerMajor  uint16
	ServerMinor  uint16
	selected     uint16
	stateDetails uint16
}

// AddKeyboard serves XKEYBOARD requests from kb.
func (s *Server) AddKeyboard(kb *Keyboard) {
	for i, name := range kb.Groups {
		if name != "" && !kb.dangling(i) {
			s.SetAtom(xproto.Atom(firstGroupAtom+i), name)
		}
	}
	s.AddExtension(XkbInfo, kb.handle)
}

// SetGroup changes the current group as reported by GetState.
func (kb *Keyboard) SetGroup(group byte) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.Group = group
}

// Selected returns the event types and StateNotify details selected by the
// client.
func (kb *Keyboard) Selected() (eventTypes, stateDetails uint16) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return kb.selected, kb.stateDetails
}

func (kb *Keyboard) dangling(group int) bool {
	for _, g := range kb.Dangling {
		if g == group {
			return true
		}
	}
	return false
}

func (kb *Keyboard) handle(req Request) [][]byte {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	switch req.Data {
	case 0:
		body := make([]byte, 24)
		major, minor := kb.ServerMajor, kb.ServerMinor
		if major == 0 && minor == 0 {
			major, minor = 1, 0
		}
		xgb.Put16(body[0:], major)
		xgb.Put16(body[2:], minor)
		supported := byte(1)
		if kb.Unsupported {
			supported = 0
		}
		return [][]byte{Reply(req.Sequence, supported, body)}

	case 1:
		affectWhich := xgb.Get16(req.Body[2:])
		kb.selected = affectWhich
		if affectWhich&xkb.EventTypeStateNotify != 0 && len(req.Body) >= 16 {
			kb.stateDetails = xgb.Get16(req.Body[14:])
		}
		return nil

	case 4:
		body := make([]byte, 24)
		body[4] = kb.Group
		body[5] = kb.Group
		return [][]byte{Reply(req.Sequence, 3, body)}

	case 17:
		which := xgb.Get32(req.Body[4:])
		body := make([]byte, 24, 24+4*len(kb.Groups))
		xgb.Put32(body[0:], which)
		if which&xkb.NameDetailGroupNames != 0 {
			var mask byte
			for i := range kb.Groups {
				mask |= 1 << i
				var atom uint32
				if kb.Groups[i] != "" || kb.dangling(i) {
					atom = uint32(firstGroupAtom + i)
				}
				body = append(body, 0, 0, 0, 0)
				xgb.Put32(body[len(body)-4:], atom)
			}
			body[7] = mask
		}
		return [][]byte{Reply(req.Sequence, 3, body)}
	}

	return [][]byte{Error(req.Sequence, BadRequest, 0, XkbInfo.MajorOpcode, uint16(req.Data))}
}

// StateNotify builds a StateNotify event for the core keyboard.
func StateNotify(seq uint16, group byte, changed uint16) []byte {
	ev := xkb.StateNotifyEvent{
		Sequence:    seq,
		DeviceID:    3,
		Group:       group,
		LockedGroup: group,
		Changed:     changed,
	}
	buf := ev.Bytes()
	buf[0] = XkbInfo.FirstEvent
	return buf
}

// XkbEvent builds an XKB event of another subtype.
func XkbEvent(seq uint16, xkbType byte) []byte {
	buf := make([]byte, 32)
	buf[0] = XkbInfo.FirstEvent
	buf[1] = xkbType
	xgb.Put16(buf[2:], seq)
	buf[8] = 3
	return buf
}
