package json

import (
	"codeberg.org/miketth/xkbstatus/pkg/layoutstore/storetest"
	"codeberg.org/miketth/xkbstatus/pkg/xkblayouts"
	"codeberg.org/miketth/xkbstatus/pkg/xkbstatus"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLayoutStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) xkbstatus.LayoutHistory {
		store, err := NewLayoutStore(filepath.Join(t.TempDir(), "layouts.json"))
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layouts.json")
	ctx := context.Background()

	store, err := NewLayoutStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	change := xkbstatus.Change{
		Display: ":0",
		Group:   1,
		Name:    "German",
		Info:    xkblayouts.Info{Layout: "German", Code: "de"},
		Time:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.Record(ctx, change); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = NewLayoutStore(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()

	last, found, err := store.Last(ctx, ":0")
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if !found || last.Info != change.Info || !last.Time.Equal(change.Time) {
		t.Errorf("got %+v, %v, want %+v", last, found, change)
	}
}

func TestSaveLooper(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layouts.json")
	store, err := NewLayoutStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	store.interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- store.SaveLooper(ctx) }()

	if err := store.Record(context.Background(), xkbstatus.Change{Display: ":0", Name: "us"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		store.lock.Lock()
		dirty := store.dirty
		store.lock.Unlock()
		if !dirty {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("store not saved in time")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want %v", err, context.Canceled)
	}
}

func TestMaxChanges(t *testing.T) {
	store, err := NewLayoutStore(filepath.Join(t.TempDir(), "layouts.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	store.maxChanges = 3

	for i := 0; i < 5; i++ {
		if err := store.Record(context.Background(), xkbstatus.Change{Display: ":0", Group: i}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	history, err := store.History(context.Background(), ":0", -1)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 || history[0].Group != 4 || history[2].Group != 2 {
		t.Errorf("got %+v, want groups 4, 3, 2", history)
	}
}
