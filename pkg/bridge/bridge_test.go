package bridge_test

import (
	"codeberg.org/miketth/xkbstatus/pkg/bridge"
	"codeberg.org/miketth/xkbstatus/pkg/xcb"
	"codeberg.org/miketth/xkbstatus/pkg/xcb/xcbtest"
	"context"
	"errors"
	"github.com/BurntSushi/xgb/xproto"
	"go.uber.org/zap/zaptest"
	"io"
	"strings"
	"testing"
	"time"
)

func open(t *testing.T, srv *xcbtest.Server, opts bridge.Options) *bridge.Bridge {
	t.Helper()

	b, err := bridge.Open(context.Background(), srv, opts, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestWaitForReplyAfterNotReadyPolls(t *testing.T) {
	for _, latency := range []int{0, 1, 5, 20} {
		srv := xcbtest.NewServer()
		srv.Latency = latency
		srv.SetAtom(400, "us")
		b := open(t, srv, bridge.Options{})

		before := srv.Stats()

		cookie, err := xcb.GetAtomName(b, 400)
		if err != nil {
			t.Fatalf("latency %d: send: %v", latency, err)
		}
		reply, err := cookie.Reply(context.Background(), b)
		if err != nil {
			t.Fatalf("latency %d: reply: %v", latency, err)
		}
		if reply.Name != "us" {
			t.Errorf("latency %d: got name %q, want %q", latency, reply.Name, "us")
		}

		after := srv.Stats()
		if after.Spins != 0 {
			t.Errorf("latency %d: %d reads without a readiness wait in between", latency, after.Spins)
		}
		if awaits := after.Awaits - before.Awaits; awaits < latency+1 {
			t.Errorf("latency %d: got %d readiness waits, want at least %d", latency, awaits, latency+1)
		}
	}
}

func TestWaitForReplySkipsPendingEvents(t *testing.T) {
	srv := xcbtest.NewServer()
	srv.Latency = 2
	srv.SetAtom(400, "us")
	srv.SetAtom(401, "de")
	b := open(t, srv, bridge.Options{})

	srv.Push(
		xcbtest.Event(xproto.MapNotify, 0, srv.Sequence(), nil),
		xcbtest.Event(xproto.UnmapNotify, 0, srv.Sequence(), nil),
	)

	first, err := xcb.GetAtomName(b, 400)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	second, err := xcb.GetAtomName(b, 401)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// ask for the later reply first
	reply, err := second.Reply(context.Background(), b)
	if err != nil {
		t.Fatalf("second reply: %v", err)
	}
	if reply.Name != "de" {
		t.Errorf("second reply: got %q, want %q", reply.Name, "de")
	}

	reply, err = first.Reply(context.Background(), b)
	if err != nil {
		t.Fatalf("first reply: %v", err)
	}
	if reply.Name != "us" {
		t.Errorf("first reply: got %q, want %q", reply.Name, "us")
	}

	for _, want := range []string{"MapNotify", "UnmapNotify"} {
		ev, err := b.WaitForEvent(context.Background())
		if err != nil {
			t.Fatalf("wait for event: %v", err)
		}
		if !strings.HasPrefix(ev.String(), want) {
			t.Errorf("got event %s, want %s", ev, want)
		}
	}

	if spins := srv.Stats().Spins; spins != 0 {
		t.Errorf("%d reads without a readiness wait in between", spins)
	}
}

func TestWaitForReplyXError(t *testing.T) {
	srv := xcbtest.NewServer()
	b := open(t, srv, bridge.Options{})

	cookie, err := xcb.GetAtomName(b, 999)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	_, err = cookie.Reply(context.Background(), b)
	xerr, ok := xcb.AsXError(err)
	if !ok {
		t.Fatalf("got error %v, want an X error", err)
	}
	if xerr.BadId() != 999 {
		t.Errorf("got bad id %d, want 999", xerr.BadId())
	}

	// the connection is still usable
	srv.SetAtom(400, "us")
	cookie, err = xcb.GetAtomName(b, 400)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := cookie.Reply(context.Background(), b); err != nil {
		t.Errorf("reply after X error: %v", err)
	}
}

func TestVoidRequestErrorIsAnEvent(t *testing.T) {
	srv := xcbtest.NewServer()
	b := open(t, srv, bridge.Options{})

	if _, err := b.SendRequest(xcb.Request{Opcode: 200}); err != nil {
		t.Fatalf("send: %v", err)
	}

	_, err := b.WaitForEvent(context.Background())
	if _, ok := xcb.AsXError(err); !ok {
		t.Fatalf("got %v, want an X error", err)
	}
}

func TestTransportErrorIsSticky(t *testing.T) {
	srv := xcbtest.NewServer()
	b := open(t, srv, bridge.Options{})

	srv.Fail(io.ErrUnexpectedEOF)

	for i := 0; i < 2; i++ {
		_, err := b.WaitForEvent(context.Background())
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Fatalf("attempt %d: got %v, want %v", i, err, io.ErrUnexpectedEOF)
		}
	}

	if _, err := xcb.GetAtomName(b, 1); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("send after failure: got %v, want %v", err, io.ErrUnexpectedEOF)
	}
}

func TestCancelKeepsConnection(t *testing.T) {
	srv := xcbtest.NewServer()
	b := open(t, srv, bridge.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := b.WaitForEvent(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want %v", err, context.DeadlineExceeded)
	}
	if closes := srv.Closes(); closes != 0 {
		t.Fatalf("transport closed %d times after cancellation", closes)
	}

	srv.Push(xcbtest.Event(xproto.MapNotify, 0, srv.Sequence(), nil))
	if _, err := b.WaitForEvent(context.Background()); err != nil {
		t.Fatalf("wait after cancellation: %v", err)
	}

	_ = b.Close()
	_ = b.Close()
	if closes := srv.Closes(); closes != 1 {
		t.Errorf("transport closed %d times, want 1", closes)
	}
}

func TestCancelledReplyIsDiscarded(t *testing.T) {
	srv := xcbtest.NewServer()
	srv.SetAtom(400, "us")
	b := open(t, srv, bridge.Options{})

	// the server stops reading, so the request cannot even be written
	srv.Stall(true)
	abandoned, err := xcb.GetAtomName(b, 400)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := abandoned.Reply(ctx, b); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want %v", err, context.DeadlineExceeded)
	}
	if err := b.Discard(abandoned.Cookie); err != nil {
		t.Fatalf("discard: %v", err)
	}

	srv.Stall(false)
	cookie, err := xcb.GetAtomName(b, 400)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	reply, err := cookie.Reply(context.Background(), b)
	if err != nil {
		t.Fatalf("reply after cancellation: %v", err)
	}
	if reply.Name != "us" {
		t.Errorf("got name %q, want %q", reply.Name, "us")
	}

	if _, err := abandoned.Reply(context.Background(), b); !errors.Is(err, xcb.ErrUnknownCookie) {
		t.Errorf("discarded cookie: got %v, want %v", err, xcb.ErrUnknownCookie)
	}
	if closes := srv.Closes(); closes != 0 {
		t.Errorf("transport closed %d times", closes)
	}
}

func TestConcurrentDriverRejected(t *testing.T) {
	srv := xcbtest.NewServer()
	b := open(t, srv, bridge.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		_, err := b.WaitForEvent(ctx)
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for srv.Stats().Awaits < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := b.SendRequest(xcb.Request{Opcode: 200}); !errors.Is(err, bridge.ErrConcurrentUse) {
		t.Errorf("got %v, want %v", err, bridge.ErrConcurrentUse)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("waiter: got %v, want %v", err, context.Canceled)
	}
}

func TestOpenExtensions(t *testing.T) {
	t.Run("mandatory missing", func(t *testing.T) {
		srv := xcbtest.NewServer()
		_, err := bridge.Open(context.Background(), srv, bridge.Options{
			Mandatory: []string{"XKEYBOARD"},
		}, zaptest.NewLogger(t).Sugar())
		if !errors.Is(err, xcb.ErrExtensionMissing) {
			t.Fatalf("got %v, want %v", err, xcb.ErrExtensionMissing)
		}
		if closes := srv.Closes(); closes != 1 {
			t.Errorf("transport closed %d times, want 1", closes)
		}
	})

	t.Run("optional missing", func(t *testing.T) {
		srv := xcbtest.NewServer()
		srv.AddKeyboard(&xcbtest.Keyboard{})
		b := open(t, srv, bridge.Options{
			Mandatory: []string{"XKEYBOARD"},
			Optional:  []string{"RANDR"},
		})

		info, ok := b.Conn().Extension("XKEYBOARD")
		if !ok || info != xcbtest.XkbInfo {
			t.Errorf("got %+v, %v, want %+v", info, ok, xcbtest.XkbInfo)
		}
		if _, ok := b.Conn().Extension("RANDR"); ok {
			t.Errorf("RANDR registered although the server lacks it")
		}
	})

	t.Run("setup refused", func(t *testing.T) {
		srv := xcbtest.NewServer()
		srv.Refuse = "no protocol for you"
		_, err := bridge.Open(context.Background(), srv, bridge.Options{}, zaptest.NewLogger(t).Sugar())
		if err == nil || !strings.Contains(err.Error(), "no protocol for you") {
			t.Fatalf("got %v, want the refusal reason", err)
		}
		if closes := srv.Closes(); closes != 1 {
			t.Errorf("transport closed %d times, want 1", closes)
		}
	})
}
