// Package storetest checks layout history implementations against the
// behaviour xkbstatus relies on.
package storetest

import (
	"codeberg.org/miketth/xkbstatus/pkg/xkblayouts"
	"codeberg.org/miketth/xkbstatus/pkg/xkbstatus"
	"context"
	"testing"
	"time"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func change(display string, group int, name string, minute int) xkbstatus.Change {
	return xkbstatus.Change{
		Display: display,
		Group:   group,
		Name:    name,
		Info:    xkblayouts.ParseLayoutVariant(name),
		Time:    base.Add(time.Duration(minute) * time.Minute),
	}
}

func equal(a, b xkbstatus.Change) bool {
	return a.Display == b.Display &&
		a.Group == b.Group &&
		a.Name == b.Name &&
		a.Info == b.Info &&
		a.Time.Equal(b.Time)
}

// Run tests the store returned by newStore, which must be empty.
func Run(t *testing.T, newStore func(t *testing.T) xkbstatus.LayoutHistory) {
	t.Run("empty", func(t *testing.T) {
		store := newStore(t)

		_, found, err := store.Last(context.Background(), ":0")
		if err != nil {
			t.Fatalf("last: %v", err)
		}
		if found {
			t.Errorf("empty store has a last change")
		}

		history, err := store.History(context.Background(), ":0", 10)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) != 0 {
			t.Errorf("empty store has %d changes", len(history))
		}
	})

	t.Run("record", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		changes := []xkbstatus.Change{
			change(":0", 0, "English (US)", 0),
			change(":1", 1, "German", 1),
			change(":0", 1, "German (no dead keys)", 2),
			change(":0", 0, "English (US)", 3),
		}
		for _, c := range changes {
			c.Info.Code = "xx"
			if err := store.Record(ctx, c); err != nil {
				t.Fatalf("record: %v", err)
			}
		}

		last, found, err := store.Last(ctx, ":0")
		if err != nil {
			t.Fatalf("last: %v", err)
		}
		want := changes[3]
		want.Info.Code = "xx"
		if !found || !equal(last, want) {
			t.Errorf("got last %+v, %v, want %+v", last, found, want)
		}

		history, err := store.History(ctx, ":0", 2)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("got %d changes, want 2", len(history))
		}
		if history[0].Name != "English (US)" || history[1].Name != "German (no dead keys)" {
			t.Errorf("history not newest first: %+v", history)
		}

		history, err = store.History(ctx, ":1", 10)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) != 1 || history[0].Group != 1 {
			t.Errorf("got %+v for :1", history)
		}

		all, err := store.History(ctx, ":0", -1)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("got %d changes without limit, want 3", len(all))
		}
	})
}
