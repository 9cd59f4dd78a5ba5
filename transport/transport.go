package transport

import (
	"context"
	"io"
)

// Stream is a single bidirectional byte stream within a Conn. Frame
// boundaries are the caller's responsibility (wire.WriteFramed /
// wire.ReadFramed operate directly against a Stream, since it satisfies
// io.ReadWriteCloser).
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Conn is one established connection between a client and a relay. A
// single Conn may carry many concurrent Streams — the property spec.md
// §6 requires so that, for example, a Push and an unrelated Pull can be
// in flight on the same connection without head-of-line blocking each
// other.
type Conn interface {
	// OpenStream opens a new outbound stream. The peer observes it via
	// the matching Conn's AcceptStream.
	OpenStream(ctx context.Context) (Stream, error)
	// AcceptStream blocks until the peer opens a new stream.
	AcceptStream(ctx context.Context) (Stream, error)
	// RemoteIdentity reports a string identifying the remote endpoint.
	// The QUIC reference implementation in quic.go returns the remote
	// network address, not a TLS-verified server name or certificate
	// subject. Sync-group membership itself is proven separately, by
	// possession of the group secret, not by this identity.
	RemoteIdentity() string
	// Close tears down the connection and all of its streams.
	Close() error
}

// Listener accepts inbound Conns on a bound address.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() string
	Close() error
}

// Dialer establishes outbound Conns to a remote address.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}
