// Package xcb is a small non-blocking X11 protocol layer. It owns the
// outbound request buffer and the inbound byte stream of one connection and
// demultiplexes what the server sends into replies (matched by sequence
// number) and a FIFO of events.
//
// Nothing in this package blocks except AwaitReadable, Flush and the
// connection setup, all of which take a context. Callers drive it by
// polling and, when a poll comes back empty, suspending on
// Conn.AwaitReadable before polling again.
package xcb

import "context"

// Transport is a byte stream to the X server.
//
// Read and Write must not block: they return xsocket.ErrWouldBlock when no
// data is available or the send buffer is full, Write along with the count
// it managed. AwaitReadable and AwaitWritable suspend until the next call is
// likely to make progress or ctx is done. *xsocket.Socket is the production
// implementation.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	AwaitReadable(ctx context.Context) error
	AwaitWritable(ctx context.Context) error
	Close() error
}
