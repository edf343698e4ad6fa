package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andy6609/prattle/internal/config"
	"github.com/andy6609/prattle/internal/netconn"
	"github.com/andy6609/prattle/internal/protocol"
)

// Server accepts TCP clients, registers a Session for each and ticks them on
// a shared worker pool.
type Server struct {
	cfg       *config.Config
	logger    Logger
	metrics   *Metrics
	reg       *Registry
	scheduler *Scheduler

	mu       sync.Mutex
	listener net.Listener
	stopCh   chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewServer(cfg *config.Config, logger Logger, metrics *Metrics) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Server{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		reg:       NewRegistry(logger, metrics),
		scheduler: NewScheduler(cfg.PoolSize, cfg.TickInterval, logger),
		stopCh:    make(chan struct{}),
	}
}

func (s *Server) Registry() *Registry { return s.reg }

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.scheduler.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()

	s.logger.Info("server started", "addr", ln.Addr().String())
	return nil
}

// Stop closes the listener, stops the scheduler and terminates every
// session. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("shutting down")
		close(s.stopCh)
		s.mu.Lock()
		ln, cancel := s.listener, s.cancel
		s.mu.Unlock()
		if ln != nil {
			_ = ln.Close()
		}
		if cancel != nil {
			cancel()
		}
		s.wg.Wait()

		for _, sess := range s.reg.Snapshot() {
			sess.Terminate(reasonShutdown, nil)
		}
		s.logger.Info("shutdown complete")
	})
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// acceptLoop waits at most AcceptWait per Accept so a Stop is noticed even
// when no client is connecting.
func (s *Server) acceptLoop(ln net.Listener) {
	dl, _ := ln.(deadliner)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		if dl != nil {
			_ = dl.SetDeadline(time.Now().Add(s.cfg.AcceptWait))
		}

		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.Admit(conn)
	}
}

// Admit wraps conn in a session, registers it and schedules its ticks. The
// WebSocket gateway admits through here as well.
func (s *Server) Admit(conn net.Conn) *Session {
	ch := netconn.New(conn, netconn.Options{
		BufferSize:          s.cfg.BufferSize,
		MaxSendAttempts:     s.cfg.MaxSendAttempts,
		WriteAttemptTimeout: s.cfg.WriteAttemptTimeout,
		StallTimeout:        s.cfg.StallTimeout,
	})
	sess := NewSession(ch, s.reg, SessionOptions{
		Logger:             s.logger,
		Metrics:            s.metrics,
		MaxMessagesPerTick: s.cfg.MaxMessagesPerTick,
	})
	s.reg.Add(sess)
	sess.SetCancel(s.scheduler.Schedule(sess))

	select {
	case <-s.stopCh:
		// Raced with Stop after its final sweep.
		sess.Terminate(reasonShutdown, nil)
	default:
	}

	s.logger.Info("client connected", "session", sess.ID(), "remote", conn.RemoteAddr().String())
	return sess
}

// Broadcast delivers m to every initialized session.
func (s *Server) Broadcast(m protocol.Message) int {
	return s.reg.Broadcast(m)
}

// Run serves on port until ctx is cancelled.
func Run(ctx context.Context, port int, logger Logger) error {
	cfg := config.Default()
	cfg.Port = port
	if err := cfg.Validate(); err != nil {
		return err
	}
	return NewServer(cfg, logger, nil).Serve(ctx)
}

// Serve starts s and blocks until ctx is cancelled, then stops it.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}
