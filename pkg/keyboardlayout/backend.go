// Package keyboardlayout follows the active keyboard layout of an X session.
package keyboardlayout

import (
	"codeberg.org/miketth/xkbstatus/pkg/xkblayouts"
	"context"
	"errors"
	"fmt"
)

var (
	ErrGroupOutOfRange    = errors.New("group index out of range")
	ErrUnsupportedVersion = errors.New("XKEYBOARD 1.0 not supported by the server")
)

// Backend reports the current layout and waits for it to change.
type Backend interface {
	// Info returns the cached layout. It does no I/O.
	Info() (xkblayouts.Info, error)
	// WaitForChange blocks until the layout changed and Info reflects it.
	WaitForChange(ctx context.Context) error
	Close() error
}

// GroupNames holds the names of the keyboard groups, indexed by group.
type GroupNames struct {
	names []string
}

func NewGroupNames(names []string) (GroupNames, error) {
	if len(names) > 4 {
		return GroupNames{}, fmt.Errorf("%d group names, at most 4 allowed", len(names))
	}
	return GroupNames{names: append([]string(nil), names...)}, nil
}

func (g GroupNames) Len() int {
	return len(g.names)
}

// Name returns the name of group. Unnamed groups have an empty name.
func (g GroupNames) Name(group int) (string, error) {
	if group < 0 || group >= len(g.names) {
		return "", fmt.Errorf("%w: group %d, %d groups known", ErrGroupOutOfRange, group, len(g.names))
	}
	return g.names[group], nil
}
