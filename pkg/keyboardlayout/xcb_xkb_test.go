package keyboardlayout

import (
	"codeberg.org/miketth/xkbstatus/pkg/xcb"
	"codeberg.org/miketth/xkbstatus/pkg/xcb/xcbtest"
	"codeberg.org/miketth/xkbstatus/pkg/xcb/xkb"
	"codeberg.org/miketth/xkbstatus/pkg/xkblayouts"
	"context"
	"errors"
	"github.com/BurntSushi/xgb/xproto"
	"go.uber.org/zap/zaptest"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func newSession(t *testing.T, srv *xcbtest.Server) *XcbXkb {
	t.Helper()

	s, err := NewXcbXkb(context.Background(), Config{Transport: srv}, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func assertInfo(t *testing.T, s *XcbXkb, want xkblayouts.Info) {
	t.Helper()

	got, err := s.Info()
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if got != want {
		t.Errorf("got info %+v, want %+v", got, want)
	}
}

func TestGroupChangeScenario(t *testing.T) {
	parse := xkblayouts.ParseLayoutVariant

	kb := &xcbtest.Keyboard{Groups: []string{"us", "de", "", ""}}
	srv := xcbtest.NewServer()
	srv.Latency = 1
	srv.AddKeyboard(kb)

	s := newSession(t, srv)
	assertInfo(t, s, parse("us"))

	eventTypes, details := kb.Selected()
	if eventTypes != xkb.EventTypeStateNotify || details != xkb.StatePartGroupState {
		t.Errorf("selected events %#x with details %#x", eventTypes, details)
	}

	srv.Push(xcbtest.StateNotify(srv.Sequence(), 1, xkb.StatePartGroupState))
	if err := s.WaitForChange(context.Background()); err != nil {
		t.Fatalf("wait for change: %v", err)
	}
	assertInfo(t, s, parse("de"))

	// unrelated events must not end the wait
	srv.Push(
		xcbtest.Event(xproto.MapNotify, 0, srv.Sequence(), nil),
		xcbtest.XkbEvent(srv.Sequence(), xkb.NamesNotify),
		xcbtest.StateNotify(srv.Sequence(), 0, xkb.StatePartModifierState),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.WaitForChange(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v after unrelated events, want %v", err, context.DeadlineExceeded)
	}
	assertInfo(t, s, parse("de"))

	srv.Push(xcbtest.StateNotify(srv.Sequence(), 2, xkb.StatePartGroupState|xkb.StatePartGroupLock))
	if err := s.WaitForChange(context.Background()); err != nil {
		t.Fatalf("wait for change: %v", err)
	}
	assertInfo(t, s, parse(""))

	if group, name := s.Group(); group != 2 || name != "" {
		t.Errorf("got group %d %q, want 2 %q", group, name, "")
	}
	if spins := srv.Stats().Spins; spins != 0 {
		t.Errorf("%d reads without a readiness wait in between", spins)
	}
	if closes := srv.Closes(); closes != 0 {
		t.Errorf("transport closed %d times while in use", closes)
	}
}

func TestEveryGroupMapsToItsName(t *testing.T) {
	names := []string{"English (US)", "German", "Hungarian", "English (Dvorak)"}
	srv := xcbtest.NewServer()
	srv.AddKeyboard(&xcbtest.Keyboard{Groups: names, Group: 3})

	s := newSession(t, srv)
	assertInfo(t, s, xkblayouts.ParseLayoutVariant(names[3]))

	for i := range names {
		srv.Push(xcbtest.StateNotify(srv.Sequence(), byte(i), xkb.StatePartGroupState))
		if err := s.WaitForChange(context.Background()); err != nil {
			t.Fatalf("group %d: %v", i, err)
		}
		assertInfo(t, s, xkblayouts.ParseLayoutVariant(names[i]))
	}
}

func TestGroupOutOfRange(t *testing.T) {
	srv := xcbtest.NewServer()
	srv.AddKeyboard(&xcbtest.Keyboard{Groups: []string{"us", "de"}})

	s := newSession(t, srv)

	srv.Push(xcbtest.StateNotify(srv.Sequence(), 3, xkb.StatePartGroupState))
	err := s.WaitForChange(context.Background())
	if !errors.Is(err, ErrGroupOutOfRange) {
		t.Fatalf("got %v, want %v", err, ErrGroupOutOfRange)
	}
	if !strings.HasPrefix(err.Error(), "xcb_xkb: ") {
		t.Errorf("error %q lacks the xcb_xkb prefix", err)
	}

	assertInfo(t, s, xkblayouts.ParseLayoutVariant("us"))
}

func TestStartupFailures(t *testing.T) {
	tests := []struct {
		name string
		kb   *xcbtest.Keyboard
		want error
	}{
		{"extension missing", nil, xcb.ErrExtensionMissing},
		{"unsupported", &xcbtest.Keyboard{Groups: []string{"us"}, Unsupported: true}, ErrUnsupportedVersion},
		{"version too old", &xcbtest.Keyboard{Groups: []string{"us"}, ServerMajor: 0, ServerMinor: 65}, ErrUnsupportedVersion},
		{"no group names", &xcbtest.Keyboard{}, ErrGroupOutOfRange},
		{"group past names", &xcbtest.Keyboard{Groups: []string{"us"}, Group: 1}, ErrGroupOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := xcbtest.NewServer()
			if tt.kb != nil {
				srv.AddKeyboard(tt.kb)
			}

			s, err := NewXcbXkb(context.Background(), Config{Transport: srv}, zaptest.NewLogger(t).Sugar())
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if s != nil {
				t.Errorf("got a session despite the error")
			}
			if !strings.HasPrefix(err.Error(), "xcb_xkb: ") {
				t.Errorf("error %q lacks the xcb_xkb prefix", err)
			}
			if closes := srv.Closes(); closes != 1 {
				t.Errorf("transport closed %d times, want 1", closes)
			}
		})
	}
}

func TestUnresolvableGroupNameIsEmpty(t *testing.T) {
	srv := xcbtest.NewServer()
	srv.AddKeyboard(&xcbtest.Keyboard{Groups: []string{"us", "de"}, Dangling: []int{1}})

	s := newSession(t, srv)
	if s.names.Len() != 2 {
		t.Fatalf("got %d groups, want 2", s.names.Len())
	}

	srv.Push(xcbtest.StateNotify(srv.Sequence(), 1, xkb.StatePartGroupState))
	if err := s.WaitForChange(context.Background()); err != nil {
		t.Fatalf("wait for change: %v", err)
	}
	assertInfo(t, s, xkblayouts.Info{})
}

func TestLatin1GroupNameIsUTF8(t *testing.T) {
	srv := xcbtest.NewServer()
	srv.AddKeyboard(&xcbtest.Keyboard{Groups: []string{"Fran\xe7ais", "Deutsch (Schweiz)"}})

	s := newSession(t, srv)
	assertInfo(t, s, xkblayouts.ParseLayoutVariant("Français"))

	if _, name := s.Group(); !utf8.ValidString(name) {
		t.Errorf("group name %q is not UTF-8", name)
	}
}

func TestCustomParser(t *testing.T) {
	srv := xcbtest.NewServer()
	srv.AddKeyboard(&xcbtest.Keyboard{Groups: []string{"us"}})

	var parsed []string
	parse := func(name string) xkblayouts.Info {
		parsed = append(parsed, name)
		return xkblayouts.Info{Layout: strings.ToUpper(name)}
	}

	s, err := NewXcbXkb(context.Background(), Config{Transport: srv, Parser: parse}, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Close()

	assertInfo(t, s, xkblayouts.Info{Layout: "US"})
	if len(parsed) != 1 || parsed[0] != "us" {
		t.Errorf("parser called with %q", parsed)
	}
}

func TestWaitForChangeErrors(t *testing.T) {
	t.Run("cancelled", func(t *testing.T) {
		srv := xcbtest.NewServer()
		srv.AddKeyboard(&xcbtest.Keyboard{Groups: []string{"us"}})
		s := newSession(t, srv)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := s.WaitForChange(ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want %v", err, context.Canceled)
		}
		if closes := srv.Closes(); closes != 0 {
			t.Errorf("transport closed %d times after cancellation", closes)
		}

		_ = s.Close()
		_ = s.Close()
		if closes := srv.Closes(); closes != 1 {
			t.Errorf("transport closed %d times, want 1", closes)
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		srv := xcbtest.NewServer()
		srv.AddKeyboard(&xcbtest.Keyboard{Groups: []string{"us"}})
		s := newSession(t, srv)

		srv.Fail(io.ErrUnexpectedEOF)
		err := s.WaitForChange(context.Background())
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Fatalf("got %v, want %v", err, io.ErrUnexpectedEOF)
		}
		if !strings.HasPrefix(err.Error(), "xcb_xkb: ") {
			t.Errorf("error %q lacks the xcb_xkb prefix", err)
		}

		// the cached layout survives
		assertInfo(t, s, xkblayouts.ParseLayoutVariant("us"))
	})
}

func TestGroupNames(t *testing.T) {
	if _, err := NewGroupNames([]string{"a", "b", "c", "d", "e"}); err == nil {
		t.Error("five group names accepted")
	}

	names, err := NewGroupNames([]string{"us", ""})
	if err != nil {
		t.Fatalf("new group names: %v", err)
	}

	for _, group := range []int{-1, 2, 4} {
		if _, err := names.Name(group); !errors.Is(err, ErrGroupOutOfRange) {
			t.Errorf("group %d: got %v, want %v", group, err, ErrGroupOutOfRange)
		}
	}
	if name, err := names.Name(1); err != nil || name != "" {
		t.Errorf("group 1: got %q, %v", name, err)
	}
}
