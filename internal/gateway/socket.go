// Package gateway supervises the long-lived duplex connection to the
// external messaging gateway. The wire protocol lives in a separate
// library; everything here only sees the Socket and Dialer contracts.
package gateway

import "context"

// Socket is one live gateway connection.
type Socket interface {
	// Ping proves liveness with a lightweight presence call.
	Ping(ctx context.Context) error

	// Session returns the current session blob to persist, nil if the
	// library has nothing new to save.
	Session() []byte

	// Done yields the terminal error once the connection dies. The
	// channel is closed after at most one send.
	Done() <-chan error

	// Close tears the connection down. Idempotent.
	Close() error
}

// Dialer produces a connection from a stored session blob. A nil session
// starts a fresh pairing flow inside the library.
type Dialer interface {
	Dial(ctx context.Context, session []byte) (Socket, error)
}
