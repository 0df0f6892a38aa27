// Package xkb implements the part of the XKEYBOARD extension needed to follow
// the active keyboard group: version negotiation, event selection, group
// names, keyboard state and the StateNotify event.
package xkb

import (
	"codeberg.org/miketth/xkbstatus/pkg/xcb"
	"fmt"
	"github.com/BurntSushi/xgb"
)

const ExtName = "XKEYBOARD"

const (
	MajorVersion = 1
	MinorVersion = 0
)

const (
	opcodeUseExtension = 0
	opcodeSelectEvents = 1
	opcodeGetState     = 4
	opcodeGetNames     = 17
)

// ID values for deviceSpec.
const (
	IDUseCoreKbd = 0x0100
	IDUseCorePtr = 0x0200
)

// EventType bits for SelectEvents.
const (
	EventTypeNewKeyboardNotify = 1 << iota
	EventTypeMapNotify
	EventTypeStateNotify
	EventTypeControlsNotify
	EventTypeIndicatorStateNotify
	EventTypeIndicatorMapNotify
	EventTypeNamesNotify
)

// StatePart bits, used both to select StateNotify details and in the
// event's changed mask.
const (
	StatePartModifierState = 1 << iota
	StatePartModifierBase
	StatePartModifierLatch
	StatePartModifierLock
	StatePartGroupState
	StatePartGroupBase
	StatePartGroupLatch
	StatePartGroupLock
)

// NameDetail bits for GetNames.
const (
	NameDetailKeycodes        = 1 << 0
	NameDetailGeometry        = 1 << 1
	NameDetailSymbols         = 1 << 2
	NameDetailPhysSymbols     = 1 << 3
	NameDetailTypes           = 1 << 4
	NameDetailCompat          = 1 << 5
	NameDetailKeyTypeNames    = 1 << 6
	NameDetailKTLevelNames    = 1 << 7
	NameDetailIndicatorNames  = 1 << 8
	NameDetailKeyNames        = 1 << 9
	NameDetailKeyAliases      = 1 << 10
	NameDetailVirtualModNames = 1 << 11
	NameDetailGroupNames      = 1 << 12
	NameDetailRGNames         = 1 << 13
)

// Event subtypes carried in the second byte of every XKB event.
const (
	NewKeyboardNotify = iota
	MapNotify
	StateNotify
	ControlsNotify
	IndicatorStateNotify
	IndicatorMapNotify
	NamesNotify
	CompatMapNotify
	BellNotify
	ActionMessage
	AccessXNotify
	ExtensionDeviceNotify
)

// MaxGroups is the number of keyboard groups XKB supports.
const MaxGroups = 4

// Register installs the decoder for XKB events on conn. The extension must
// have been registered on conn already.
func Register(conn *xcb.Conn) error {
	info, ok := conn.Extension(ExtName)
	if !ok {
		return fmt.Errorf("%w: %s", xcb.ErrExtensionMissing, ExtName)
	}
	conn.RegisterEventDecoder(info.FirstEvent, decodeEvent)
	return nil
}

func decodeEvent(buf []byte) (xgb.Event, error) {
	if len(buf) < 32 {
		return nil, fmt.Errorf("xkb event of %d bytes", len(buf))
	}

	switch buf[1] {
	case StateNotify:
		return StateNotifyEventNew(buf), nil
	default:
		return Event{
			XkbType:  buf[1],
			Sequence: xgb.Get16(buf[2:]),
			Time:     xgb.Get32(buf[4:]),
			DeviceID: buf[8],
			Raw:      buf,
		}, nil
	}
}
