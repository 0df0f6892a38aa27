// Package xcbtest provides an in-memory X server speaking just enough of the
// protocol to drive xcb connections in tests. It implements xcb.Transport and
// accounts for every read and readiness wait so tests can assert that callers
// never spin on an empty socket.
package xcbtest

import (
	"codeberg.org/miketth/xkbstatus/pkg/xcb"
	"codeberg.org/miketth/xkbstatus/pkg/xsocket"
	"context"
	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"sync"
)

const (
	opcodeGetAtomName    = 17
	opcodeQueryExtension = 98

	BadRequest = 1
	BadAtom    = 5
)

// Request is a request as received by the server.
type Request struct {
	Sequence uint16
	Major    byte
	// Data is the second header byte, the minor opcode for extension requests.
	Data byte
	Body []byte
}

// Handler answers a request with zero or more frames. Handlers run with the
// server locked and must not call its methods.
type Handler func(req Request) [][]byte

// Stats counts how the client drove the transport.
type Stats struct {
	Reads       int
	WouldBlocks int
	Awaits      int
	// Spins counts ErrWouldBlock reads that directly followed another
	// ErrWouldBlock read without a readiness wait in between.
	Spins int
}

type inflight struct {
	data []byte
	wait int
}

// Server is a fake X server. Frames it sends become readable on the
// client's next AwaitReadable, after Latency further waits.
type Server struct {
	// Latency is the number of extra readiness waits before a response
	// becomes readable. Waits that release nothing are spurious wakeups.
	Latency int
	// Refuse makes the setup fail with the given reason.
	Refuse string

	mu       sync.Mutex
	notify   chan struct{}
	core     map[byte]Handler
	ext      map[byte]Handler
	exts     map[string]xcb.ExtensionInfo
	atoms    map[xproto.Atom]string
	inbound  []byte
	gotSetup bool
	seq      uint16
	requests []Request

	readable []byte
	inflight []inflight
	readErr  error
	stalled  bool

	stats          Stats
	lastWouldBlock bool
	closes         int
}

var _ xcb.Transport = (*Server)(nil)

func NewServer() *Server {
	s := &Server{
		notify: make(chan struct{}, 1),
		core:   make(map[byte]Handler),
		ext:    make(map[byte]Handler),
		exts:   make(map[string]xcb.ExtensionInfo),
		atoms:  make(map[xproto.Atom]string),
	}
	s.core[opcodeQueryExtension] = s.queryExtension
	s.core[opcodeGetAtomName] = s.getAtomName
	return s
}

// HandleCore installs a handler for a core request opcode.
func (s *Server) HandleCore(opcode byte, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.core[opcode] = h
}

// AddExtension makes the extension visible to QueryExtension and routes its
// requests to h.
func (s *Server) AddExtension(info xcb.ExtensionInfo, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exts[info.Name] = info
	s.ext[info.MajorOpcode] = h
}

// SetAtom names an atom for GetAtomName.
func (s *Server) SetAtom(atom xproto.Atom, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.atoms[atom] = name
}

// Push sends frames to the client, e.g. events.
func (s *Server) Push(frames ...[]byte) {
	s.mu.Lock()
	for _, f := range frames {
		s.inflight = append(s.inflight, inflight{data: f, wait: s.Latency})
	}
	s.mu.Unlock()
	s.wake()
}

// Fail makes every following read return err.
func (s *Server) Fail(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
	s.wake()
}

// Stall makes the server stop reading requests, so writes would block, until
// it is called again with false.
func (s *Server) Stall(stalled bool) {
	s.mu.Lock()
	s.stalled = stalled
	s.mu.Unlock()
	s.wake()
}

// Sequence returns the sequence number of the last request received.
func (s *Server) Sequence() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Closes returns how often Close was called.
func (s *Server) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *Server) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Server) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Reads++
	if s.closes > 0 {
		return 0, xsocket.ErrClosed
	}
	if s.readErr != nil {
		return 0, s.readErr
	}

	if len(s.readable) == 0 {
		s.stats.WouldBlocks++
		if s.lastWouldBlock {
			s.stats.Spins++
		}
		s.lastWouldBlock = true
		return 0, xsocket.ErrWouldBlock
	}

	s.lastWouldBlock = false
	n := copy(p, s.readable)
	s.readable = s.readable[n:]
	return n, nil
}

func (s *Server) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closes > 0 {
		return 0, xsocket.ErrClosed
	}
	if s.stalled {
		return 0, xsocket.ErrWouldBlock
	}

	s.inbound = append(s.inbound, p...)
	s.process()
	return len(p), nil
}

// AwaitReadable releases in-flight frames and returns, or blocks until
// something is pushed or ctx is done.
func (s *Server) AwaitReadable(ctx context.Context) error {
	s.mu.Lock()
	s.stats.Awaits++
	s.lastWouldBlock = false
	s.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		if s.closes > 0 {
			s.mu.Unlock()
			return xsocket.ErrClosed
		}
		woken := s.release() || len(s.readable) > 0 || s.readErr != nil
		s.mu.Unlock()

		if woken {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.notify:
		}
	}
}

// AwaitWritable returns once the server reads requests again.
func (s *Server) AwaitWritable(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		closed, stalled := s.closes > 0, s.stalled
		s.mu.Unlock()

		if closed {
			return xsocket.ErrClosed
		}
		if !stalled {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.notify:
		}
	}
}

// release hands in-flight frames whose latency ran out to the client, in
// order, and ages the rest. It reports whether anything was in flight.
func (s *Server) release() bool {
	if len(s.inflight) == 0 {
		return false
	}

	i := 0
	for ; i < len(s.inflight) && s.inflight[i].wait == 0; i++ {
		s.readable = append(s.readable, s.inflight[i].data...)
	}
	s.inflight = s.inflight[i:]

	for j := range s.inflight {
		if s.inflight[j].wait > 0 {
			s.inflight[j].wait--
		}
	}
	return true
}

func (s *Server) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.wake()
	return nil
}

func (s *Server) process() {
	if !s.gotSetup {
		if len(s.inbound) < 12 {
			return
		}
		nameLen := int(xgb.Get16(s.inbound[6:]))
		dataLen := int(xgb.Get16(s.inbound[8:]))
		total := 12 + xgb.Pad(nameLen) + xgb.Pad(dataLen)
		if len(s.inbound) < total {
			return
		}
		s.inbound = s.inbound[total:]
		s.gotSetup = true
		s.send(s.setupReply())
	}

	for len(s.inbound) >= 4 {
		size := 4 * int(xgb.Get16(s.inbound[2:]))
		if size < 4 || len(s.inbound) < size {
			return
		}

		s.seq++
		req := Request{
			Sequence: s.seq,
			Major:    s.inbound[0],
			Data:     s.inbound[1],
			Body:     append([]byte(nil), s.inbound[4:size]...),
		}
		s.inbound = s.inbound[size:]
		s.requests = append(s.requests, req)

		h, ok := s.core[req.Major]
		if !ok {
			h, ok = s.ext[req.Major]
		}
		if !ok {
			s.send(Error(req.Sequence, BadRequest, 0, req.Major, uint16(req.Data)))
			continue
		}
		s.send(h(req)...)
	}
}

func (s *Server) send(frames ...[]byte) {
	for _, f := range frames {
		s.inflight = append(s.inflight, inflight{data: f, wait: s.Latency})
	}
}

func (s *Server) setupReply() []byte {
	if s.Refuse != "" {
		reason := s.Refuse
		buf := make([]byte, 8+xgb.Pad(len(reason)))
		buf[0] = 0
		buf[1] = byte(len(reason))
		xgb.Put16(buf[2:], 11)
		xgb.Put16(buf[6:], uint16((len(buf)-8)/4))
		copy(buf[8:], reason)
		return buf
	}

	vendor := "xcbtest"
	info := xproto.SetupInfo{
		Status:               1,
		ProtocolMajorVersion: 11,
		ResourceIdBase:       0x00400000,
		ResourceIdMask:       0x001fffff,
		VendorLen:            uint16(len(vendor)),
		Vendor:               vendor,
		MaximumRequestLength: 0xffff,
		RootsLen:             1,
		MinKeycode:           8,
		MaxKeycode:           255,
		Roots: []xproto.ScreenInfo{{
			Root:           0x1e3,
			WidthInPixels:  1920,
			HeightInPixels: 1080,
			RootDepth:      24,
		}},
	}
	buf := info.Bytes()
	xgb.Put16(buf[6:], uint16((len(buf)-8)/4))
	return buf
}

func (s *Server) queryExtension(req Request) [][]byte {
	nameLen := int(xgb.Get16(req.Body))
	name := string(req.Body[4 : 4+nameLen])

	body := make([]byte, 24)
	if info, ok := s.exts[name]; ok {
		body[0] = 1
		body[1] = info.MajorOpcode
		body[2] = info.FirstEvent
		body[3] = info.FirstError
	}
	return [][]byte{Reply(req.Sequence, 0, body)}
}

func (s *Server) getAtomName(req Request) [][]byte {
	atom := xproto.Atom(xgb.Get32(req.Body))
	name, ok := s.atoms[atom]
	if !ok {
		return [][]byte{Error(req.Sequence, BadAtom, uint32(atom), opcodeGetAtomName, 0)}
	}

	body := make([]byte, 24+len(name))
	xgb.Put16(body, uint16(len(name)))
	copy(body[24:], name)
	return [][]byte{Reply(req.Sequence, 0, body)}
}

// Reply builds a reply frame. body holds everything after the 8 byte reply
// header and is padded to at least 24 bytes.
func Reply(seq uint16, data byte, body []byte) []byte {
	size := 8 + len(body)
	if size < 32 {
		size = 32
	}
	size = xgb.Pad(size)

	buf := make([]byte, size)
	buf[0] = 1
	buf[1] = data
	xgb.Put16(buf[2:], seq)
	xgb.Put32(buf[4:], uint32((size-32)/4))
	copy(buf[8:], body)
	return buf
}

// Error builds an error frame.
func Error(seq uint16, code byte, badValue uint32, major byte, minor uint16) []byte {
	buf := make([]byte, 32)
	buf[1] = code
	xgb.Put16(buf[2:], seq)
	xgb.Put32(buf[4:], badValue)
	xgb.Put16(buf[8:], minor)
	buf[10] = major
	return buf
}

// Event builds a 32 byte event frame. body is copied after the sequence
// number.
func Event(code, detail byte, seq uint16, body []byte) []byte {
	buf := make([]byte, 32)
	buf[0] = code
	buf[1] = detail
	xgb.Put16(buf[2:], seq)
	copy(buf[4:], body)
	return buf
}
