package bridge

import (
	"codeberg.org/miketth/xkbstatus/pkg/xcb"
	"codeberg.org/miketth/xkbstatus/pkg/xsocket"
	"context"
	"fmt"
	"go.uber.org/zap"
)

// Options configure Open.
type Options struct {
	Auth   xsocket.Auth
	Screen int
	// Mandatory extensions must be present or Open fails.
	Mandatory []string
	// Optional extensions are registered when present.
	Optional []string
}

// Connect dials the display, performs the setup and queries the extensions.
// It returns the bridge and the screen number from the display name.
func Connect(ctx context.Context, display string, mandatory, optional []string, log *zap.SugaredLogger) (*Bridge, int, error) {
	d, err := xsocket.ParseDisplay(display)
	if err != nil {
		return nil, 0, fmt.Errorf("parse display: %w", err)
	}

	auth, err := xsocket.ReadAuthority(d)
	if err != nil {
		log.Warnw("could not read X authority, connecting without it", "error", err)
		auth = xsocket.Auth{}
	}

	sock, err := xsocket.Dial(ctx, d)
	if err != nil {
		return nil, 0, err
	}

	b, err := Open(ctx, sock, Options{
		Auth:      auth,
		Screen:    d.Screen,
		Mandatory: mandatory,
		Optional:  optional,
	}, log)
	if err != nil {
		return nil, 0, err
	}

	log.Debugw("connected to X server", "display", d.Name, "screen", d.Screen)
	return b, d.Screen, nil
}

// Open sets up a connection over an established transport. The transport is
// closed when Open fails.
func Open(ctx context.Context, t xcb.Transport, opts Options, log *zap.SugaredLogger) (*Bridge, error) {
	conn, err := xcb.NewConn(ctx, t, opts.Auth, opts.Screen)
	if err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("connection setup: %w", err)
	}

	b := New(conn, log)
	if err := b.queryExtensions(ctx, opts.Mandatory, opts.Optional); err != nil {
		_ = b.Close()
		return nil, err
	}

	return b, nil
}

func (b *Bridge) queryExtensions(ctx context.Context, mandatory, optional []string) error {
	type query struct {
		name      string
		mandatory bool
		cookie    xcb.QueryExtensionCookie
	}

	queries := make([]query, 0, len(mandatory)+len(optional))
	for _, names := range []struct {
		list      []string
		mandatory bool
	}{{mandatory, true}, {optional, false}} {
		for _, name := range names.list {
			cookie, err := xcb.QueryExtension(b, name)
			if err != nil {
				return fmt.Errorf("query extension %s: %w", name, err)
			}
			queries = append(queries, query{name: name, mandatory: names.mandatory, cookie: cookie})
		}
	}

	for _, q := range queries {
		reply, err := q.cookie.Reply(ctx, b)
		if err != nil {
			return fmt.Errorf("query extension %s: %w", q.name, err)
		}

		if !reply.Present {
			if q.mandatory {
				return fmt.Errorf("%w: %s", xcb.ErrExtensionMissing, q.name)
			}
			b.log.Infow("optional extension not present", "extension", q.name)
			continue
		}

		b.conn.RegisterExtension(reply.Info(q.name))
		b.log.Debugw("extension present", "extension", q.name, "opcode", reply.MajorOpcode, "first_event", reply.FirstEvent)
	}

	return nil
}
