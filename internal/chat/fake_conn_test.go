package chat

import (
	"net"
	"sync"

	"github.com/andy6609/prattle/internal/netconn"
	"github.com/andy6609/prattle/internal/protocol"
)

// fakeConn is a scripted Conn: inbound messages are handed out by Poll/Next,
// sends are recorded.
type fakeConn struct {
	mu       sync.Mutex
	inbound  []protocol.Message
	fault    error
	sent     []protocol.Message
	sendErr  error
	closed   int
	pollHook func()
}

func (f *fakeConn) push(ms ...protocol.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, ms...)
}

func (f *fakeConn) Poll() (bool, error) {
	if f.pollHook != nil {
		f.pollHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) > 0 {
		return true, nil
	}
	return false, f.fault
}

func (f *fakeConn) Next() (protocol.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 {
		return protocol.Message{}, netconn.ErrExhausted
	}
	m := f.inbound[0]
	f.inbound = f.inbound[1:]
	return m, nil
}

func (f *fakeConn) Send(m protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000}
}

func (f *fakeConn) sentMessages() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.sent...)
}

func (f *fakeConn) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inbound)
}
