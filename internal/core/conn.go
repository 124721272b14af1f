// Package core holds the contracts shared between the connection registry
// and the transport adapters.
package core

// Frame is one outbound wire frame, already encoded.
type Frame = []byte

// Conn is a live transport handle. TrySend never blocks; a full send
// buffer is reported as an error instead.
type Conn interface {
	TrySend(Frame) error
	Close()
}
