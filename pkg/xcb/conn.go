package xcb

import (
	"codeberg.org/miketth/xkbstatus/pkg/xsocket"
	"context"
	"errors"
	"fmt"
	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
)

const (
	readChunkSize = 4096
	maxFrameSize  = 1 << 26

	replyType        = 1
	errorType        = 0
	genericEventType = 35

	firstExtensionEvent = 64
	firstExtensionError = 128
)

// ExtensionInfo is what QueryExtension reports for a present extension.
type ExtensionInfo struct {
	Name        string
	MajorOpcode byte
	FirstEvent  byte
	FirstError  byte
}

type response struct {
	reply []byte
	err   error
}

type queued struct {
	event xgb.Event
	err   error
}

// Conn is a connection to the X server. It is not safe for concurrent use.
type Conn struct {
	transport Transport
	setup     *xproto.SetupInfo
	screen    int

	out      []byte
	lastSent uint64

	in      []byte
	scratch []byte
	// drained is set once a read would block and cleared by a successful
	// AwaitReadable, so an empty poll never reads the socket twice.
	drained bool

	pending   map[uint64]struct{}
	discarded map[uint64]struct{}
	replies   map[uint64]response
	events    []queued

	extensions    map[string]ExtensionInfo
	eventDecoders map[byte]EventDecoder

	// err is sticky: once the transport failed the connection is dead
	err error
}

// NewConn performs the connection setup over transport.
func NewConn(ctx context.Context, transport Transport, auth xsocket.Auth, screen int) (*Conn, error) {
	c := &Conn{
		transport:     transport,
		screen:        screen,
		scratch:       make([]byte, readChunkSize),
		pending:       make(map[uint64]struct{}),
		discarded:     make(map[uint64]struct{}),
		replies:       make(map[uint64]response),
		extensions:    make(map[string]ExtensionInfo),
		eventDecoders: make(map[byte]EventDecoder),
	}

	if err := c.handshake(ctx, auth); err != nil {
		return nil, err
	}

	if screen < 0 || screen >= len(c.setup.Roots) {
		return nil, fmt.Errorf("screen %d does not exist, server has %d", screen, len(c.setup.Roots))
	}

	return c, nil
}

func (c *Conn) handshake(ctx context.Context, auth xsocket.Auth) error {
	nameLen, dataLen := len(auth.Name), len(auth.Data)
	buf := make([]byte, 12+xgb.Pad(nameLen)+xgb.Pad(dataLen))
	buf[0] = 'l'
	xgb.Put16(buf[2:], 11)
	xgb.Put16(buf[4:], 0)
	xgb.Put16(buf[6:], uint16(nameLen))
	xgb.Put16(buf[8:], uint16(dataLen))
	copy(buf[12:], auth.Name)
	copy(buf[12+xgb.Pad(nameLen):], auth.Data)

	c.out = append(c.out, buf...)
	if err := c.Flush(ctx); err != nil {
		return fmt.Errorf("write setup request: %w", err)
	}

	reply, err := c.readSetup(ctx)
	if err != nil {
		return fmt.Errorf("read setup reply: %w", err)
	}

	switch reply[0] {
	case 0:
		failed := &xproto.SetupFailed{}
		xproto.SetupFailedRead(reply, failed)
		return fmt.Errorf("x server refused connection: %s", failed.Reason)
	case 2:
		return fmt.Errorf("x server requires further authentication: %s", trimReason(reply[8:]))
	case 1:
	default:
		return fmt.Errorf("%w: unknown setup status %d", ErrMalformed, reply[0])
	}

	setup := &xproto.SetupInfo{}
	xproto.SetupInfoRead(reply, setup)
	if setup.ProtocolMajorVersion != 11 {
		return fmt.Errorf("x protocol version mismatch: %d.%d", setup.ProtocolMajorVersion, setup.ProtocolMinorVersion)
	}

	c.setup = setup
	return nil
}

// readSetup reads the variable length setup reply with the same
// read-or-suspend discipline the rest of the connection uses.
func (c *Conn) readSetup(ctx context.Context) ([]byte, error) {
	for {
		if len(c.in) >= 8 {
			total := 8 + 4*int(xgb.Get16(c.in[6:]))
			if len(c.in) >= total {
				reply := make([]byte, total)
				copy(reply, c.in)
				c.in = append(c.in[:0], c.in[total:]...)
				return reply, nil
			}
		}

		n, err := c.transport.Read(c.scratch)
		switch {
		case errors.Is(err, xsocket.ErrWouldBlock):
			if err := c.transport.AwaitReadable(ctx); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, err
		default:
			c.in = append(c.in, c.scratch[:n]...)
		}
	}
}

func trimReason(b []byte) string {
	for i, ch := range b {
		if ch == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Setup returns the parsed connection setup.
func (c *Conn) Setup() *xproto.SetupInfo {
	return c.setup
}

// Screen returns the default screen chosen by the display name.
func (c *Conn) Screen() *xproto.ScreenInfo {
	return &c.setup.Roots[c.screen]
}

// Err returns the error that killed the connection, if any.
func (c *Conn) Err() error {
	return c.err
}

// RegisterExtension records the opcodes of an extension so requests for it
// can be encoded.
func (c *Conn) RegisterExtension(info ExtensionInfo) {
	c.extensions[info.Name] = info
}

// Extension returns the opcodes of a registered extension.
func (c *Conn) Extension(name string) (ExtensionInfo, bool) {
	info, ok := c.extensions[name]
	return info, ok
}

// RegisterEventDecoder installs the decoder for an event code, usually an
// extension's first event.
func (c *Conn) RegisterEventDecoder(code byte, dec EventDecoder) {
	c.eventDecoders[code] = dec
}

// SendRequest queues req in the outbound buffer. Nothing is written until
// Flush.
func (c *Conn) SendRequest(req Request) (Cookie, error) {
	if c.err != nil {
		return Cookie{}, c.err
	}

	major := req.Opcode
	if req.Extension != "" {
		info, ok := c.extensions[req.Extension]
		if !ok {
			return Cookie{}, fmt.Errorf("%w: %s", ErrExtensionMissing, req.Extension)
		}
		major = info.MajorOpcode
	}

	buf := req.encode(major)
	if c.setup != nil && len(buf)/4 > int(c.setup.MaximumRequestLength) {
		return Cookie{}, fmt.Errorf("%w: %d > %d", ErrRequestTooLarge, len(buf)/4, c.setup.MaximumRequestLength)
	}

	c.lastSent++
	cookie := Cookie{Sequence: c.lastSent, reply: req.Reply}
	if req.Reply {
		c.pending[cookie.Sequence] = struct{}{}
	}
	c.out = append(c.out, buf...)

	return cookie, nil
}

// Flush writes all queued requests, suspending while the server is not
// reading. When ctx ends first, the unwritten tail stays queued for the next
// Flush and the connection remains usable.
func (c *Conn) Flush(ctx context.Context) error {
	if c.err != nil {
		return c.err
	}

	for len(c.out) > 0 {
		n, err := c.transport.Write(c.out)
		c.out = c.out[n:]
		switch {
		case errors.Is(err, xsocket.ErrWouldBlock):
			if err := c.transport.AwaitWritable(ctx); err != nil {
				if ctx.Err() != nil {
					return err
				}
				c.err = fmt.Errorf("wait for x server: %w", err)
				return c.err
			}
		case err != nil:
			c.err = fmt.Errorf("write to x server: %w", err)
			return c.err
		}
	}
	c.out = c.out[:0]

	return nil
}

// PollForReply returns the reply to cookie if it has arrived. It returns
// (nil, nil) when the reply is not available yet. An X error addressed to
// the request is returned as the error. A reply is kept until it is polled,
// so a caller that gives up on a cookie must Discard it.
func (c *Conn) PollForReply(cookie Cookie) ([]byte, error) {
	if !cookie.reply {
		return nil, ErrNoReply
	}

	if resp, ok := c.takeReply(cookie.Sequence); ok {
		return resp.reply, resp.err
	}
	if _, ok := c.pending[cookie.Sequence]; !ok {
		return nil, fmt.Errorf("%w: sequence %d", ErrUnknownCookie, cookie.Sequence)
	}

	if err := c.fill(); err != nil {
		return nil, err
	}

	if resp, ok := c.takeReply(cookie.Sequence); ok {
		return resp.reply, resp.err
	}
	return nil, nil
}

// Discard drops the reply to cookie. A reply that already arrived is freed;
// one still in flight is thrown away when it arrives. Polling a discarded
// cookie returns ErrUnknownCookie.
func (c *Conn) Discard(cookie Cookie) {
	if !cookie.reply {
		return
	}
	delete(c.replies, cookie.Sequence)
	if _, ok := c.pending[cookie.Sequence]; ok {
		delete(c.pending, cookie.Sequence)
		c.discarded[cookie.Sequence] = struct{}{}
	}
}

func (c *Conn) takeReply(seq uint64) (response, bool) {
	resp, ok := c.replies[seq]
	if ok {
		delete(c.replies, seq)
	}
	return resp, ok
}

// PollForEvent returns the next queued event, or (nil, nil) when there is
// none. X errors caused by requests without replies come through here too.
func (c *Conn) PollForEvent() (xgb.Event, error) {
	if len(c.events) == 0 {
		if err := c.fill(); err != nil {
			return nil, err
		}
	}
	if len(c.events) == 0 {
		return nil, nil
	}

	next := c.events[0]
	c.events[0] = queued{}
	c.events = c.events[1:]

	return next.event, next.err
}

// AwaitReadable suspends until the server may have sent something.
func (c *Conn) AwaitReadable(ctx context.Context) error {
	if c.err != nil {
		return c.err
	}
	if err := c.transport.AwaitReadable(ctx); err != nil {
		return err
	}
	c.drained = false
	return nil
}

// Close closes the transport.
func (c *Conn) Close() error {
	return c.transport.Close()
}

// fill reads everything the transport has buffered and dispatches complete
// frames. It stops at the first ErrWouldBlock.
func (c *Conn) fill() error {
	if c.err != nil {
		return c.err
	}
	if c.drained {
		return nil
	}

	for {
		n, err := c.transport.Read(c.scratch)
		if errors.Is(err, xsocket.ErrWouldBlock) {
			c.drained = true
			break
		}
		if err != nil {
			c.err = fmt.Errorf("read from x server: %w", err)
			return c.err
		}
		c.in = append(c.in, c.scratch[:n]...)
	}

	if err := c.parseFrames(); err != nil {
		c.err = err
		return err
	}
	return nil
}

func (c *Conn) parseFrames() error {
	off := 0
	defer func() {
		c.in = append(c.in[:0], c.in[off:]...)
	}()

	for len(c.in)-off >= 32 {
		head := c.in[off:]

		size := 32
		if head[0] == replyType || head[0]&0x7f == genericEventType {
			size += 4 * int(xgb.Get32(head[4:]))
		}
		if size < 32 || size > maxFrameSize {
			return fmt.Errorf("%w: frame of %d bytes", ErrMalformed, size)
		}
		if len(head) < size {
			return nil
		}

		frame := make([]byte, size)
		copy(frame, head[:size])
		off += size

		if err := c.dispatch(frame); err != nil {
			return err
		}
	}

	return nil
}

func (c *Conn) dispatch(frame []byte) error {
	switch frame[0] {
	case errorType:
		seq := c.widen(xgb.Get16(frame[2:]))
		xerr := c.decodeError(frame)
		if _, ok := c.pending[seq]; ok {
			delete(c.pending, seq)
			c.replies[seq] = response{err: xerr}
			return nil
		}
		if _, ok := c.discarded[seq]; ok {
			delete(c.discarded, seq)
			return nil
		}
		c.events = append(c.events, queued{err: xerr})

	case replyType:
		seq := c.widen(xgb.Get16(frame[2:]))
		if _, ok := c.discarded[seq]; ok {
			delete(c.discarded, seq)
			return nil
		}
		if _, ok := c.pending[seq]; !ok {
			return fmt.Errorf("%w: unexpected reply for sequence %d", ErrMalformed, seq)
		}
		delete(c.pending, seq)
		c.replies[seq] = response{reply: frame}

	default:
		ev, err := c.decodeEvent(frame)
		if err != nil {
			return fmt.Errorf("%w: decode event %d: %v", ErrMalformed, frame[0], err)
		}
		c.events = append(c.events, queued{event: ev})
	}

	return nil
}

// widen turns a 16 bit wire sequence number into the full sequence of the
// request it refers to. Responses never refer to requests not yet sent.
func (c *Conn) widen(seq uint16) uint64 {
	full := c.lastSent&^0xffff | uint64(seq)
	if full > c.lastSent && full >= 0x10000 {
		full -= 0x10000
	}
	return full
}
