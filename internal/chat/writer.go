package chat

import (
	"sync"

	"github.com/andy6609/prattle/internal/protocol"
)

// outbox is a session's outbound queue: any goroutine may push, only the
// owning session's tick drains.
type outbox struct {
	mu    sync.Mutex
	queue []protocol.Message
}

func (o *outbox) push(m protocol.Message) {
	o.mu.Lock()
	o.queue = append(o.queue, m)
	o.mu.Unlock()
}

// drain takes everything queued so far.
func (o *outbox) drain() []protocol.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.queue
	o.queue = nil
	return q
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// flush sends the queued messages in order and stops at the first failure.
// The caller drops the session on error, so the unsent remainder goes with it.
func (s *Session) flush() error {
	for _, m := range s.out.drain() {
		if err := s.conn.Send(m); err != nil {
			return err
		}
	}
	return nil
}
