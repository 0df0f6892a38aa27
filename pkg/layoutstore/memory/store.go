package memory

import (
	"codeberg.org/miketth/xkbstatus/pkg/xkbstatus"
	"context"
	"sync"
)

type LayoutStore struct {
	lock    sync.Mutex
	changes map[string][]xkbstatus.Change
}

var _ xkbstatus.LayoutHistory = (*LayoutStore)(nil)

func NewLayoutStore() *LayoutStore {
	return &LayoutStore{
		changes: make(map[string][]xkbstatus.Change),
	}
}

func (s *LayoutStore) Record(_ context.Context, change xkbstatus.Change) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.changes[change.Display] = append(s.changes[change.Display], change)
	return nil
}

func (s *LayoutStore) Last(_ context.Context, display string) (xkbstatus.Change, bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	changes := s.changes[display]
	if len(changes) == 0 {
		return xkbstatus.Change{}, false, nil
	}
	return changes[len(changes)-1], true, nil
}

func (s *LayoutStore) History(_ context.Context, display string, limit int) ([]xkbstatus.Change, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	changes := s.changes[display]
	if limit > len(changes) || limit < 0 {
		limit = len(changes)
	}

	ret := make([]xkbstatus.Change, 0, limit)
	for i := len(changes) - 1; i >= len(changes)-limit; i-- {
		ret = append(ret, changes[i])
	}
	return ret, nil
}
