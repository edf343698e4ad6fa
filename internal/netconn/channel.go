// Package netconn wraps a byte-stream connection as a non-blocking, restartable
// sequence of protocol messages.
package netconn

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andy6609/prattle/internal/protocol"
)

var (
	// ErrExhausted is returned by Next when no decoded message is queued.
	ErrExhausted = errors.New("netconn: no message available")
	// ErrSendBudgetExhausted means the write attempts ran out with bytes unsent.
	ErrSendBudgetExhausted = errors.New("netconn: send budget exhausted")
	// ErrFrameTooLarge means a single frame cannot fit the receive buffer.
	ErrFrameTooLarge = errors.New("netconn: frame exceeds receive buffer")
	// ErrStalled means a partial frame sat unfinished past the stall timeout.
	ErrStalled = errors.New("netconn: partial frame stalled")
	ErrClosed  = errors.New("netconn: channel closed")
)

const (
	DefaultBufferSize          = 64 * 1024
	DefaultMaxSendAttempts     = 100
	DefaultWriteAttemptTimeout = 10 * time.Millisecond
	DefaultStallTimeout        = 30 * time.Second

	readChunkSize = 4096
	chunkBacklog  = 16
)

// Options tunes a Channel. Zero values take the package defaults; a negative
// StallTimeout disables the stall watchdog.
type Options struct {
	BufferSize          int
	MaxSendAttempts     int
	WriteAttemptTimeout time.Duration
	StallTimeout        time.Duration
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.MaxSendAttempts <= 0 {
		o.MaxSendAttempts = DefaultMaxSendAttempts
	}
	if o.WriteAttemptTimeout <= 0 {
		o.WriteAttemptTimeout = DefaultWriteAttemptTimeout
	}
	if o.StallTimeout == 0 {
		o.StallTimeout = DefaultStallTimeout
	}
	return o
}

// Channel owns one connection's receive buffer and decoded-message queue.
// Poll, Next and Send belong to a single consumer; Close may be called from
// anywhere.
type Channel struct {
	conn net.Conn
	opts Options

	// buf[:n] holds undecoded bytes; anything before offset 0 has been
	// consumed and compacted away.
	buf      []byte
	n        int
	leftover []byte
	queue    []protocol.Message
	fault    error

	pendingSince time.Time
	now          func() time.Time

	chunks  chan []byte
	readErr error

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// New wraps conn and starts its reader goroutine.
func New(conn net.Conn, opts Options) *Channel {
	opts = opts.withDefaults()
	c := &Channel{
		conn:   conn,
		opts:   opts,
		buf:    make([]byte, opts.BufferSize),
		now:    time.Now,
		chunks: make(chan []byte, chunkBacklog),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Channel) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// readLoop blocks in Read so Poll never has to.
func (c *Channel) readLoop() {
	defer close(c.chunks)
	for {
		b := make([]byte, readChunkSize)
		n, err := c.conn.Read(b)
		if n > 0 {
			select {
			case c.chunks <- b[:n]:
			case <-c.done:
				return
			}
		}
		if err != nil {
			// Published by the close of chunks.
			c.readErr = err
			return
		}
	}
}

// Poll reports whether a decoded message is ready. It never blocks: queued
// messages are reported first, and only an empty queue triggers a read of
// whatever bytes have already arrived. Once the connection faults, Poll
// drains the messages decoded before the fault and then returns the fault.
func (c *Channel) Poll() (bool, error) {
	if len(c.queue) > 0 {
		return true, nil
	}
	if c.fault != nil {
		return false, c.fault
	}
	c.fill()
	c.checkStall()
	if len(c.queue) > 0 {
		return true, nil
	}
	return false, c.fault
}

// fill moves ready chunks into the buffer and decodes them, compacting as it
// goes so a frame split across reads is reassembled at offset 0. It stops as
// soon as something is queued; the rest waits for the next Poll.
func (c *Channel) fill() {
	for c.fault == nil && len(c.queue) == 0 {
		if c.leftover == nil {
			select {
			case chunk, ok := <-c.chunks:
				if !ok {
					c.setFault(c.eofError())
					return
				}
				c.leftover = chunk
			default:
				return
			}
		}
		copied := copy(c.buf[c.n:], c.leftover)
		c.n += copied
		c.leftover = c.leftover[copied:]
		if len(c.leftover) == 0 {
			c.leftover = nil
		}
		c.decode()
		if c.leftover != nil && c.n == len(c.buf) {
			c.setFault(fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(c.buf)))
		}
	}
}

func (c *Channel) decode() {
	cursor := 0
	for {
		m, consumed, err := protocol.Decode(c.buf[cursor:c.n])
		cursor += consumed
		if errors.Is(err, protocol.ErrIncomplete) {
			break
		}
		if err != nil {
			c.setFault(err)
			break
		}
		c.queue = append(c.queue, m)
	}
	c.n = copy(c.buf, c.buf[cursor:c.n])
	if c.n == 0 {
		c.pendingSince = time.Time{}
	} else if cursor > 0 || c.pendingSince.IsZero() {
		c.pendingSince = c.now()
	}
}

func (c *Channel) checkStall() {
	if c.fault != nil || c.opts.StallTimeout < 0 || c.pendingSince.IsZero() {
		return
	}
	if c.now().Sub(c.pendingSince) > c.opts.StallTimeout {
		c.setFault(fmt.Errorf("%w: %d bytes pending for over %s", ErrStalled, c.n, c.opts.StallTimeout))
	}
}

func (c *Channel) eofError() error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	return fmt.Errorf("netconn: read: %w", c.readErr)
}

func (c *Channel) setFault(err error) {
	if c.fault == nil {
		c.fault = err
	}
}

// Next removes and returns the oldest decoded message.
func (c *Channel) Next() (protocol.Message, error) {
	if len(c.queue) == 0 {
		return protocol.Message{}, ErrExhausted
	}
	m := c.queue[0]
	c.queue[0] = protocol.Message{}
	c.queue = c.queue[1:]
	return m, nil
}

// Send writes m using at most MaxSendAttempts bounded write attempts. A
// failed Send leaves the stream in an unknown state; callers drop the
// connection.
func (c *Channel) Send(m protocol.Message) error {
	data := protocol.Encode(m)
	total := len(data)
	for attempt := 0; len(data) > 0; attempt++ {
		if attempt == c.opts.MaxSendAttempts {
			return fmt.Errorf("%w: sent %d of %d bytes", ErrSendBudgetExhausted, total-len(data), total)
		}
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteAttemptTimeout)); err != nil {
			return fmt.Errorf("netconn: set write deadline: %w", err)
		}
		n, err := c.conn.Write(data)
		data = data[n:]
		if err != nil && !isTimeout(err) {
			return fmt.Errorf("netconn: write: %w", err)
		}
	}
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Close releases the connection and stops the reader. It is idempotent.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
