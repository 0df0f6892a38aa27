package xkb

import (
	"fmt"
	"github.com/BurntSushi/xgb"
)

// StateNotifyEvent reports a change of the keyboard state.
type StateNotifyEvent struct {
	Sequence         uint16
	Time             uint32
	DeviceID         byte
	Mods             byte
	BaseMods         byte
	LatchedMods      byte
	LockedMods       byte
	Group            byte
	BaseGroup        int16
	LatchedGroup     int16
	LockedGroup      byte
	CompatState      byte
	GrabMods         byte
	CompatGrabMods   byte
	LookupMods       byte
	CompatLookupMods byte
	PtrBtnState      uint16
	Changed          uint16
	Keycode          byte
	EventType        byte
	RequestMajor     byte
	RequestMinor     byte
}

var _ xgb.Event = StateNotifyEvent{}

func StateNotifyEventNew(buf []byte) StateNotifyEvent {
	return StateNotifyEvent{
		Sequence:         xgb.Get16(buf[2:]),
		Time:             xgb.Get32(buf[4:]),
		DeviceID:         buf[8],
		Mods:             buf[9],
		BaseMods:         buf[10],
		LatchedMods:      buf[11],
		LockedMods:       buf[12],
		Group:            buf[13],
		BaseGroup:        int16(xgb.Get16(buf[14:])),
		LatchedGroup:     int16(xgb.Get16(buf[16:])),
		LockedGroup:      buf[18],
		CompatState:      buf[19],
		GrabMods:         buf[20],
		CompatGrabMods:   buf[21],
		LookupMods:       buf[22],
		CompatLookupMods: buf[23],
		PtrBtnState:      xgb.Get16(buf[24:]),
		Changed:          xgb.Get16(buf[26:]),
		Keycode:          buf[28],
		EventType:        buf[29],
		RequestMajor:     buf[30],
		RequestMinor:     buf[31],
	}
}

// Bytes encodes the event with the extension's first event code left zero.
func (v StateNotifyEvent) Bytes() []byte {
	buf := make([]byte, 32)
	buf[1] = StateNotify
	xgb.Put16(buf[2:], v.Sequence)
	xgb.Put32(buf[4:], v.Time)
	buf[8] = v.DeviceID
	buf[9] = v.Mods
	buf[10] = v.BaseMods
	buf[11] = v.LatchedMods
	buf[12] = v.LockedMods
	buf[13] = v.Group
	xgb.Put16(buf[14:], uint16(v.BaseGroup))
	xgb.Put16(buf[16:], uint16(v.LatchedGroup))
	buf[18] = v.LockedGroup
	buf[19] = v.CompatState
	buf[20] = v.GrabMods
	buf[21] = v.CompatGrabMods
	buf[22] = v.LookupMods
	buf[23] = v.CompatLookupMods
	xgb.Put16(buf[24:], v.PtrBtnState)
	xgb.Put16(buf[26:], v.Changed)
	buf[28] = v.Keycode
	buf[29] = v.EventType
	buf[30] = v.RequestMajor
	buf[31] = v.RequestMinor
	return buf
}

// GroupChanged reports whether the effective group changed.
func (v StateNotifyEvent) GroupChanged() bool {
	return v.Changed&StatePartGroupState != 0
}

func (v StateNotifyEvent) String() string {
	return fmt.Sprintf("StateNotify {Sequence: %d, DeviceID: %d, Group: %d, LockedGroup: %d, Changed: %#x}",
		v.Sequence, v.DeviceID, v.Group, v.LockedGroup, v.Changed)
}

// Event is any other XKB event, kept undecoded.
type Event struct {
	XkbType  byte
	Sequence uint16
	Time     uint32
	DeviceID byte
	Raw      []byte
}

var _ xgb.Event = Event{}

func (v Event) Bytes() []byte {
	return v.Raw
}

func (v Event) String() string {
	return fmt.Sprintf("XkbEvent {XkbType: %d, Sequence: %d, DeviceID: %d}", v.XkbType, v.Sequence, v.DeviceID)
}
