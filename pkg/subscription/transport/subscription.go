package transport

import (
	"sync"
	"time"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
)

// sub is the consumer side of one subscription. Sending and closing are safe to race.
type sub struct {
	ch   chan *common.Message
	done chan struct{}

	mu       sync.Mutex
	closed   bool
	stopOnce sync.Once
}

func newSub() *sub {
	return &sub{
		ch:   make(chan *common.Message, 8),
		done: make(chan struct{}),
	}
}

// send delivers msg unless the subscription is closed first. A nil timeout waits forever.
func (s *sub) send(msg *common.Message, timeout <-chan time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	case <-s.done:
		return false
	case <-timeout:
		return false
	}
}

func (s *sub) close() {
	s.stopOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}
