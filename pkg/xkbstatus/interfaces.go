package xkbstatus

import (
	"codeberg.org/miketth/xkbstatus/pkg/xkblayouts"
	"context"
	"time"
)

// Change is one observed layout.
type Change struct {
	Display string          `json:"display"`
	Group   int             `json:"group"`
	Name    string          `json:"name"`
	Info    xkblayouts.Info `json:"info"`
	Time    time.Time       `json:"time"`
}

// LayoutHistory persists observed layouts per display.
type LayoutHistory interface {
	Record(ctx context.Context, change Change) error
	// Last returns the latest change on display, false if there is none.
	Last(ctx context.Context, display string) (Change, bool, error)
	// History returns up to limit changes on display, newest first.
	History(ctx context.Context, display string, limit int) ([]Change, error)
}

// GroupReporter is implemented by backends that know the group index and
// its raw name.
type GroupReporter interface {
	Group() (int, string)
}
