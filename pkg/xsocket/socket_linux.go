//go:build linux

package xsocket

import (
	"context"
	"errors"
	"fmt"
	"golang.org/x/sys/unix"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
)

var (
	ErrWouldBlock = errors.New("xsocket: operation would block")
	ErrClosed     = errors.New("xsocket: socket closed")
)

// Socket is a non-blocking connection to the X server whose readability is
// observed through epoll. It is owned by exactly one connection and must not
// be driven from more than one goroutine at a time.
type Socket struct {
	fd     int
	epfd   int
	wakefd int
	events []unix.EpollEvent

	closeOnce sync.Once
	closed    atomic.Bool
}

// Dial connects to the display and returns the socket in non-blocking mode.
func Dial(ctx context.Context, d Display) (*Socket, error) {
	conn, err := dial(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.Name, err)
	}
	defer conn.Close()

	fd, err := dupFD(conn)
	if err != nil {
		return nil, fmt.Errorf("get socket fd: %w", err)
	}

	s, err := newSocket(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return s, nil
}

func dial(ctx context.Context, d Display) (net.Conn, error) {
	var dialer net.Dialer
	if d.Protocol != "unix" {
		return dialer.DialContext(ctx, "tcp", d.Address)
	}

	// Linux servers listen on the abstract namespace too, which works
	// inside sandboxes without access to /tmp/.X11-unix.
	conn, err := dialer.DialContext(ctx, "unix", "@"+d.Address)
	if err == nil {
		return conn, nil
	}
	return dialer.DialContext(ctx, "unix", d.Address)
}

func dupFD(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1, errors.New("conn does not expose SyscallConn")
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}

	fd := -1
	var dupErr error
	err = rc.Control(func(rawfd uintptr) {
		fd, dupErr = unix.FcntlInt(rawfd, unix.F_DUPFD_CLOEXEC, 0)
	})
	if err != nil {
		return -1, err
	}
	return fd, dupErr
}

func newSocket(fd int) (*Socket, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set nonblock: %w", err)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	s := &Socket{
		fd:     fd,
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, 2),
	}

	for _, reg := range []int{fd, wakefd} {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(reg)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, reg, &ev); err != nil {
			_ = unix.Close(wakefd)
			_ = unix.Close(epfd)
			return nil, fmt.Errorf("epoll add: %w", err)
		}
	}

	return s, nil
}

// Read reads whatever the kernel has buffered without blocking. It returns
// ErrWouldBlock when nothing is available.
func (s *Socket) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		case err != nil:
			return 0, fmt.Errorf("read: %w", err)
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write writes as much of p as the kernel accepts without blocking. It
// returns ErrWouldBlock with the count written so far when the send buffer
// is full; AwaitWritable then waits for room.
func (s *Socket) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	written := 0
	for written < len(p) {
		n, err := unix.Write(s.fd, p[written:])
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return written, ErrWouldBlock
		case err != nil:
			return written, fmt.Errorf("write: %w", err)
		}
		written += n
	}
	return written, nil
}

// AwaitWritable blocks until the socket has room in its send buffer, the
// peer hung up, or ctx is done.
func (s *Socket) AwaitWritable(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, s.wake)
	defer stop()

	for {
		fds := []unix.PollFd{
			{Fd: int32(s.fd), Events: unix.POLLOUT},
			{Fd: int32(s.wakefd), Events: unix.POLLIN},
		}
		_, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll writable: %w", err)
		}

		if fds[1].Revents != 0 {
			s.drainWake()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if fds[0].Revents != 0 {
			return nil
		}
	}
}

// AwaitReadable blocks until the socket is readable, hung up, or ctx is
// done. epoll is level-triggered and nothing is cached between calls, so the
// readiness observed here is consumed on return: once the caller has read
// the socket dry, the next call blocks again.
func (s *Socket) AwaitReadable(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, s.wake)
	defer stop()

	for {
		n, err := unix.EpollWait(s.epfd, s.events, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("epoll wait: %w", err)
		}

		readable := false
		for _, ev := range s.events[:n] {
			if int(ev.Fd) == s.wakefd {
				s.drainWake()
				continue
			}
			readable = true
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if readable {
			return nil
		}
	}
}

func (s *Socket) wake() {
	var buf [8]byte
	buf[0] = 1
	_, _ = unix.Write(s.wakefd, buf[:])
}

func (s *Socket) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(s.wakefd, buf[:])
}

// Close releases the socket, the epoll instance and the wake eventfd. It is
// safe to call more than once.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = errors.Join(
			unix.Close(s.fd),
			unix.Close(s.wakefd),
			unix.Close(s.epfd),
		)
	})
	return err
}
