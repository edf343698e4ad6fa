package chat

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/andy6609/prattle/internal/protocol"
)

const defaultMaxMessagesPerTick = 256

// Session is the server-side state of one connected client. Its Tick is
// driven by a Scheduler; Enqueue may be called from any goroutine.
type Session struct {
	id       uuid.UUID
	conn     Conn
	registry *Registry
	logger   Logger
	metrics  *Metrics
	maxBatch int

	state atomic.Int32
	out   outbox

	mu     sync.Mutex
	name   string
	cancel func()
}

// SessionOptions carries a Session's collaborators.
type SessionOptions struct {
	Logger             Logger
	Metrics            *Metrics
	MaxMessagesPerTick int
}

// NewSession wraps conn. The session is not registered or scheduled; the
// server does both on admission.
func NewSession(conn Conn, registry *Registry, opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.MaxMessagesPerTick <= 0 {
		opts.MaxMessagesPerTick = defaultMaxMessagesPerTick
	}
	return &Session{
		id:       uuid.New(),
		conn:     conn,
		registry: registry,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		maxBatch: opts.MaxMessagesPerTick,
	}
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// IsInitialized reports whether the session has completed login and is
// eligible for broadcast delivery.
func (s *Session) IsInitialized() bool { return s.State() == StateInitialized }

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Pending returns the number of queued outbound messages.
func (s *Session) Pending() int { return s.out.len() }

// Enqueue queues m for delivery on a later tick. It is always legal; a
// session that has not logged in keeps the message until it does.
func (s *Session) Enqueue(m protocol.Message) {
	s.out.push(m)
}

// SetCancel installs the function that stops the session's scheduled task.
func (s *Session) SetCancel(cancel func()) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	if s.State() == StateTerminated && cancel != nil {
		cancel()
	}
}

// Tick drains inbound messages, applies them, then flushes the outbound
// queue. Faults end the session; they never escape the tick.
func (s *Session) Tick() {
	if s.State() == StateTerminated {
		return
	}
	start := time.Now()
	defer s.metrics.observe("tick", start)
	defer func() {
		if r := recover(); r != nil {
			s.Terminate(reasonPanic, fmt.Errorf("panic: %v", r))
		}
	}()

	for i := 0; i < s.maxBatch; i++ {
		ok, err := s.conn.Poll()
		if err != nil {
			s.Terminate(reasonFault, err)
			return
		}
		if !ok {
			break
		}
		m, err := s.conn.Next()
		if err != nil {
			s.Terminate(reasonFault, err)
			return
		}
		s.handle(m)
		if s.State() == StateTerminated {
			return
		}
	}

	if s.State() != StateInitialized {
		return
	}
	if err := s.flush(); err != nil {
		s.metrics.sendFailed()
		s.Terminate(reasonSend, err)
	}
}

func (s *Session) handle(m protocol.Message) {
	s.metrics.message(kindLabel(m.Kind()))

	switch m.Kind() {
	case protocol.KindHello:
		if s.State() != StateConnected {
			s.logger.Warn("repeated login ignored", "session", s.id, "name", s.Name())
			return
		}
		if m.Name() == "" {
			s.logger.Warn("login without a name ignored", "session", s.id)
			return
		}
		s.mu.Lock()
		s.name = m.Name()
		s.mu.Unlock()
		// Loses only to a concurrent Terminate.
		if !s.state.CompareAndSwap(int32(StateConnected), int32(StateInitialized)) {
			return
		}
		s.logger.Info("user logged in", "session", s.id, "name", m.Name())
	case protocol.KindBroadcast:
		if s.State() != StateInitialized {
			s.logger.Warn("broadcast before login dropped", "session", s.id)
			return
		}
		n := s.registry.Broadcast(m)
		s.logger.Info("broadcast", "session", s.id, "name", s.Name(), "recipients", n)
	case protocol.KindQuit:
		s.Terminate(reasonQuit, nil)
	default:
		s.logger.Warn("unsupported message kind ignored", "session", s.id, "kind", string(m.Kind()))
	}
}

// kindLabel collapses client-chosen codes so the label set stays bounded.
func kindLabel(k protocol.Kind) string {
	if !k.Known() {
		return "unknown"
	}
	return string(k)
}

// Terminate ends the session: it leaves the registry, its connection is
// closed and its scheduled task cancelled. Only the first call has effect.
func (s *Session) Terminate(reason string, cause error) {
	for {
		cur := s.state.Load()
		if State(cur) == StateTerminated {
			return
		}
		if s.state.CompareAndSwap(cur, int32(StateTerminated)) {
			break
		}
	}

	if s.registry != nil {
		s.registry.Remove(s)
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Warn("close connection", "session", s.id, "error", err)
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.metrics.terminated(reason)

	if cause != nil && reason != reasonShutdown {
		s.logger.Warn("session terminated", "session", s.id, "name", s.Name(), "reason", reason, "error", cause)
		return
	}
	s.logger.Info("session terminated", "session", s.id, "name", s.Name(), "reason", reason)
}
