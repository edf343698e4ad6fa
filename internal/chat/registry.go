package chat

import (
	"sync"
	"time"

	"github.com/andy6609/prattle/internal/protocol"
)

// Registry is the set of live sessions. Broadcast iterates a snapshot, so
// readers never hold the lock while delivering.
type Registry struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	logger   Logger
	metrics  *Metrics
}

func NewRegistry(logger Logger, metrics *Metrics) *Registry {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Registry{
		sessions: make(map[*Session]struct{}),
		logger:   logger,
		metrics:  metrics,
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s] = struct{}{}
	n := len(r.sessions)
	r.mu.Unlock()

	r.metrics.setConnected(n)
}

// Remove deletes s and reports whether it was present. Removing an unknown
// session is not an error.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	_, ok := r.sessions[s]
	delete(r.sessions, s)
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		r.logger.Info("remove of unregistered session", "session", s.ID())
		return false
	}
	r.metrics.setConnected(n)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the registered sessions in unspecified order.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Broadcast enqueues m on every initialized session, the sender's own
// included, and returns how many received it.
func (r *Registry) Broadcast(m protocol.Message) int {
	start := time.Now()
	defer r.metrics.observe("fanout", start)

	n := 0
	for _, s := range r.Snapshot() {
		if !s.IsInitialized() {
			continue
		}
		s.Enqueue(m)
		n++
	}
	return n
}
