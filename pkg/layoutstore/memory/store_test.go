package memory

import (
	"codeberg.org/miketth/xkbstatus/pkg/layoutstore/storetest"
	"codeberg.org/miketth/xkbstatus/pkg/xkbstatus"
	"testing"
)

func TestLayoutStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) xkbstatus.LayoutHistory {
		return NewLayoutStore()
	})
}
