package json

import (
	"codeberg.org/miketth/xkbstatus/pkg/xkbstatus"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// DefaultMaxChanges is how many changes per display are kept.
const DefaultMaxChanges = 500

type LayoutStore struct {
	changes    map[string][]xkbstatus.Change
	file       *os.File
	lock       sync.Mutex
	dirty      bool
	maxChanges int
	interval   time.Duration
}

var _ xkbstatus.LayoutHistory = (*LayoutStore)(nil)

func NewLayoutStore(filename string) (*LayoutStore, error) {
	fileExists := true
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		fileExists = false
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	store := &LayoutStore{
		changes:    make(map[string][]xkbstatus.Change),
		file:       file,
		dirty:      true,
		maxChanges: DefaultMaxChanges,
		interval:   time.Minute,
	}

	if fileExists && info.Size() > 0 {
		err = store.load()
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("load: %w", err)
		}

		store.dirty = false
	}

	return store, nil
}

func (s *LayoutStore) Close() error {
	if err := s.save(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("save: %w", err)
	}
	return s.file.Close()
}

func (s *LayoutStore) load() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, err := s.file.Seek(0, 0)
	if err != nil {
		return fmt.Errorf("seek to start of file: %w", err)
	}

	dec := json.NewDecoder(s.file)
	err = dec.Decode(&s.changes)
	if err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	return nil
}

func (s *LayoutStore) save() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.dirty {
		return nil
	}

	_, err := s.file.Seek(0, 0)
	if err != nil {
		return fmt.Errorf("seek to start of file: %w", err)
	}

	err = s.file.Truncate(0)
	if err != nil {
		return fmt.Errorf("truncate file: %w", err)
	}

	enc := json.NewEncoder(s.file)
	err = enc.Encode(s.changes)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	s.dirty = false

	return nil
}

// SaveLooper writes the history to disk every interval and once more when
// ctx is done.
func (s *LayoutStore) SaveLooper(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			err := s.save()
			if err != nil {
				return fmt.Errorf("save: %w", err)
			}

			return ctx.Err()
		case <-time.After(s.interval):
			err := s.save()
			if err != nil {
				return fmt.Errorf("save: %w", err)
			}
		}
	}
}

func (s *LayoutStore) Record(_ context.Context, change xkbstatus.Change) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	changes := append(s.changes[change.Display], change)
	if len(changes) > s.maxChanges {
		changes = append([]xkbstatus.Change(nil), changes[len(changes)-s.maxChanges:]...)
	}
	s.changes[change.Display] = changes
	s.dirty = true
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
