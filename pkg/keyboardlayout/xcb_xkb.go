package keyboardlayout

import (
	"codeberg.org/miketth/xkbstatus/pkg/bridge"
	"codeberg.org/miketth/xkbstatus/pkg/xcb"
	"codeberg.org/miketth/xkbstatus/pkg/xcb/xkb"
	"codeberg.org/miketth/xkbstatus/pkg/xkblayouts"
	"context"
	"fmt"
	"github.com/BurntSushi/xgb/xproto"
	"go.uber.org/zap"
)

// Config configures NewXcbXkb.
type Config struct {
	// Display is the X display name, $DISPLAY when empty.
	Display string
	// Parser turns group names into layouts. Defaults to
	// xkblayouts.ParseLayoutVariant.
	Parser xkblayouts.Parser
	// Transport replaces the socket to Display when set.
	Transport xcb.Transport
}

// XcbXkb follows the keyboard group through the XKEYBOARD extension. It owns
// its connection and must be driven by one goroutine at a time.
type XcbXkb struct {
	bridge *bridge.Bridge
	log    *zap.SugaredLogger
	parse  xkblayouts.Parser

	names GroupNames
	group int
	info  xkblayouts.Info
}

var _ Backend = (*XcbXkb)(nil)

func wrap(err error) error {
	return fmt.Errorf("xcb_xkb: %w", err)
}

// NewXcbXkb connects to the X server, subscribes to group changes and fetches
// the current layout. On error no session exists and the connection is
// closed.
func NewXcbXkb(ctx context.Context, cfg Config, log *zap.SugaredLogger) (*XcbXkb, error) {
	if cfg.Parser == nil {
		cfg.Parser = xkblayouts.ParseLayoutVariant
	}

	b, err := connect(ctx, cfg, log)
	if err != nil {
		return nil, wrap(fmt.Errorf("connect: %w", err))
	}

	s := &XcbXkb{
		bridge: b,
		log:    log,
		parse:  cfg.Parser,
	}

	if err := s.init(ctx); err != nil {
		_ = b.Close()
		return nil, wrap(err)
	}

	return s, nil
}

func connect(ctx context.Context, cfg Config, log *zap.SugaredLogger) (*bridge.Bridge, error) {
	mandatory := []string{xkb.ExtName}

	if cfg.Transport != nil {
		return bridge.Open(ctx, cfg.Transport, bridge.Options{Mandatory: mandatory}, log)
	}

	b, _, err := bridge.Connect(ctx, cfg.Display, mandatory, nil, log)
	return b, err
}

func (s *XcbXkb) init(ctx context.Context) error {
	if err := xkb.Register(s.bridge.Conn()); err != nil {
		return fmt.Errorf("register events: %w", err)
	}

	if err := s.negotiate(ctx); err != nil {
		return err
	}
	s.log.Debug("negotiated XKEYBOARD")

	// subscribe before fetching so no change after the fetch is missed
	_, err := xkb.SelectEvents(s.bridge, xkb.SelectEventsRequest{
		DeviceSpec:   xkb.IDUseCoreKbd,
		AffectWhich:  xkb.EventTypeStateNotify,
		AffectState:  xkb.StatePartGroupState,
		StateDetails: xkb.StatePartGroupState,
	})
	if err != nil {
		return fmt.Errorf("select events: %w", err)
	}
	s.log.Debug("subscribed to group changes")

	names, err := s.fetchNames(ctx)
	if err != nil {
		return err
	}

	stateCookie, err := xkb.GetState(s.bridge, xkb.IDUseCoreKbd)
	if err != nil {
		return fmt.Errorf("get state: %w", err)
	}
	state, err := stateCookie.Reply(ctx, s.bridge)
	if err != nil {
		return fmt.Errorf("get state: %w", err)
	}

	s.names = names
	if err := s.setGroup(int(state.Group)); err != nil {
		return fmt.Errorf("initial state: %w", err)
	}

	s.log.Debugw("keyboard layout ready", "groups", s.names.Len(), "group", s.group, "layout", s.info.String())
	return nil
}

func (s *XcbXkb) negotiate(ctx context.Context) error {
	cookie, err := xkb.UseExtension(s.bridge, xkb.MajorVersion, xkb.MinorVersion)
	if err != nil {
		return fmt.Errorf("use extension: %w", err)
	}
	reply, err := cookie.Reply(ctx, s.bridge)
	if err != nil {
		return fmt.Errorf("use extension: %w", err)
	}

	if !reply.Supported || !reply.AtLeast(xkb.MajorVersion, xkb.MinorVersion) {
		return fmt.Errorf("%w: server speaks %d.%d", ErrUnsupportedVersion, reply.ServerMajor, reply.ServerMinor)
	}
	return nil
}

func (s *XcbXkb) fetchNames(ctx context.Context) (GroupNames, error) {
	cookie, err := xkb.GetNames(s.bridge, xkb.IDUseCoreKbd, xkb.NameDetailGroupNames)
	if err != nil {
		return GroupNames{}, fmt.Errorf("get names: %w", err)
	}
	reply, err := cookie.Reply(ctx, s.bridge)
	if err != nil {
		return GroupNames{}, fmt.Errorf("get names: %w", err)
	}

	// send every lookup before waiting for the first
	cookies := make([]*xcb.GetAtomNameCookie, len(reply.Groups))
	for i, atom := range reply.Groups {
		if atom == 0 {
			continue
		}
		c, err := xcb.GetAtomName(s.bridge, atom)
		if err != nil {
			return GroupNames{}, fmt.Errorf("get atom name: %w", err)
		}
		cookies[i] = &c
	}

	names := make([]string, len(reply.Groups))
	for i, c := range cookies {
		if c == nil {
			continue
		}
		name, err := s.atomName(ctx, *c, reply.Groups[i])
		if err != nil {
			return GroupNames{}, err
		}
		names[i] = name
	}

	return NewGroupNames(names)
}

func (s *XcbXkb) atomName(ctx context.Context, cookie xcb.GetAtomNameCookie, atom xproto.Atom) (string, error) {
	reply, err := cookie.Reply(ctx, s.bridge)
	if err != nil {
		if _, ok := xcb.AsXError(err); ok {
			s.log.Warnw("could not resolve group name", "atom", atom, "error", err)
			return "", nil
		}
		return "", fmt.Errorf("get atom name %d: %w", atom, err)
	}
	return reply.Name, nil
}

func (s *XcbXkb) setGroup(group int) error {
	name, err := s.names.Name(group)
	if err != nil {
		return err
	}

	s.group = group
	s.info = s.parse(name)
	return nil
}

func (s *XcbXkb) Info() (xkblayouts.Info, error) {
	return s.info, nil
}

// Group returns the current group and its name.
func (s *XcbXkb) Group() (int, string) {
	name, _ := s.names.Name(s.group)
	return s.group, name
}

// WaitForChange waits for the next group change. Events other than group
// state notifications are dropped.
func (s *XcbXkb) WaitForChange(ctx context.Context) error {
	for {
		ev, err := s.bridge.WaitForEvent(ctx)
		if err != nil {
			return wrap(err)
		}

		notify, ok := ev.(xkb.StateNotifyEvent)
		if !ok || !notify.GroupChanged() {
			s.log.Debugw("ignoring event", "event", ev)
			continue
		}

		if err := s.setGroup(int(notify.Group)); err != nil {
			return wrap(fmt.Errorf("state notify: %w", err))
		}

		s.log.Debugw("keyboard group changed", "group", s.group, "layout", s.info.String())
		return nil
	}
}

func (s *XcbXkb) Close() error {
	return s.bridge.Close()
}
