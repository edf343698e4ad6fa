package chat

import (
	"net"

	"github.com/andy6609/prattle/internal/protocol"
)

// Logger is the log sink the relay writes to. *slog.Logger satisfies it.
// Implementations must not panic or block; logging is fire-and-forget.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Info(string, ...any)  {}

// Conn is the message-level connection a Session drives.
// *netconn.Channel implements it.
type Conn interface {
	Poll() (bool, error)
	Next() (protocol.Message, error)
	Send(protocol.Message) error
	Close() error
	RemoteAddr() net.Addr
}

type State int32

const (
	StateConnected State = iota
	StateInitialized
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateInitialized:
		return "initialized"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Termination reasons, used as log values and metric labels.
const (
	reasonQuit     = "quit"
	reasonSend     = "send_failure"
	reasonFault    = "connection_fault"
	reasonPanic    = "panic"
	reasonShutdown = "shutdown"
)
