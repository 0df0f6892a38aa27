// Package bridge drives an xcb connection from a single task: it flushes
// requests, polls for replies and events without blocking, and suspends on
// socket readiness whenever a poll comes back empty.
package bridge

import (
	"codeberg.org/miketth/xkbstatus/pkg/xcb"
	"context"
	"errors"
	"fmt"
	"github.com/BurntSushi/xgb"
	"go.uber.org/zap"
	"sync"
	"sync/atomic"
)

var ErrConcurrentUse = errors.New("bridge: connection driven by more than one task")

type state int

const (
	stateAttempt state = iota
	stateSuspended
)

// Bridge exclusively owns one connection.
type Bridge struct {
	conn *xcb.Conn
	log  *zap.SugaredLogger

	driving atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

var _ xcb.Requester = (*Bridge)(nil)

func New(conn *xcb.Conn, log *zap.SugaredLogger) *Bridge {
	return &Bridge{conn: conn, log: log}
}

// Conn returns the underlying connection.
func (b *Bridge) Conn() *xcb.Conn {
	return b.conn
}

func (b *Bridge) enter() error {
	if !b.driving.CompareAndSwap(false, true) {
		return ErrConcurrentUse
	}
	return nil
}

func (b *Bridge) leave() {
	b.driving.Store(false)
}

// SendRequest queues a request and returns its cookie. It does not suspend
// and does not write anything; the next wait flushes.
func (b *Bridge) SendRequest(req xcb.Request) (xcb.Cookie, error) {
	if err := b.enter(); err != nil {
		return xcb.Cookie{}, err
	}
	defer b.leave()

	cookie, err := b.conn.SendRequest(req)
	if err != nil {
		return xcb.Cookie{}, fmt.Errorf("send request: %w", err)
	}
	return cookie, nil
}

// WaitForReply flushes pending requests and waits for the reply to cookie.
// It returns only that request's reply, an error, or ctx.Err().
func (b *Bridge) WaitForReply(ctx context.Context, cookie xcb.Cookie) ([]byte, error) {
	if err := b.enter(); err != nil {
		return nil, err
	}
	defer b.leave()

	if err := b.conn.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}

	var reply []byte
	err := b.drive(ctx, func() (bool, error) {
		r, err := b.conn.PollForReply(cookie)
		if err != nil {
			return false, err
		}
		reply = r
		return r != nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("wait for reply %d: %w", cookie.Sequence, err)
	}
	return reply, nil
}

// Discard drops the reply to a cookie the caller no longer waits for, such
// as after a cancelled WaitForReply.
func (b *Bridge) Discard(cookie xcb.Cookie) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.leave()

	b.conn.Discard(cookie)
	return nil
}

// WaitForEvent waits for the next event in server order. Queued requests
// are flushed first so that their errors can arrive.
func (b *Bridge) WaitForEvent(ctx context.Context) (xgb.Event, error) {
	if err := b.enter(); err != nil {
		return nil, err
	}
	defer b.leave()

	if err := b.conn.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}

	var event xgb.Event
	err := b.drive(ctx, func() (bool, error) {
		ev, err := b.conn.PollForEvent()
		if err != nil {
			return false, err
		}
		event = ev
		return ev != nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("wait for event: %w", err)
	}
	return event, nil
}

// drive alternates between polling and suspending on readiness until poll
// reports completion or fails. A wakeup does not promise data; the retry
// does the work. Every empty poll is followed by a wait, never by another
// poll.
func (b *Bridge) drive(ctx context.Context, poll func() (bool, error)) error {
	st := stateAttempt
	for {
		switch st {
		case stateAttempt:
			done, err := poll()
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			st = stateSuspended

		case stateSuspended:
			if err := b.conn.AwaitReadable(ctx); err != nil {
				return err
			}
			st = stateAttempt
		}
	}
}

// Close closes the connection. Only the first call has an effect.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.conn.Close()
		b.log.Debug("closed x connection")
	})
	return b.closeErr
}
