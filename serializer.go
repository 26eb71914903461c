package conference

import (
	"context"
	"sync"

	"github.com/bt-bridge/conference/shared"
	"github.com/frostbyte73/core"
	"github.com/gammazero/deque"
)

type serialTask struct {
	op       func() error
	err      error
	finished chan struct{}
}

// serializer executes operations strictly one at a time in FIFO order. An
// operation starts only after the previous one settled; a failure delays
// but never aborts its successors. Implemented as an explicit task queue
// drained by a single worker goroutine.
type serializer struct {
	mu     sync.Mutex
	queue  deque.Deque[*serialTask]
	closed bool
	wake   chan struct{}
	done   core.Fuse
}

func newSerializer() *serializer {
	s := &serializer{
		wake: make(chan struct{}, 1),
		done: core.NewFuse(),
	}
	go s.worker()
	return s
}

// Run enqueues op and blocks until it settles. A cancelled ctx abandons
// the wait but not the operation: op still runs in its queue position so
// ordering is preserved for later operations.
func (s *serializer) Run(ctx context.Context, op func() error) error {
	t := &serialTask{op: op, finished: make(chan struct{})}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return shared.ErrEngineDestroyed
	}
	s.queue.PushBack(t)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}

	select {
	case <-t.finished:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *serializer) worker() {
	for {
		select {
		case <-s.wake:
		case <-s.done.Watch():
			return
		}
		for {
			s.mu.Lock()
			if s.closed || s.queue.Len() == 0 {
				s.mu.Unlock()
				break
			}
			t := s.queue.PopFront()
			s.mu.Unlock()
			t.err = t.op()
			close(t.finished)
		}
	}
}

// Close stops the worker and fails every queued-but-unstarted task. The
// currently running operation, if any, completes normally.
func (s *serializer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for s.queue.Len() > 0 {
		t := s.queue.PopFront()
		t.err = shared.ErrEngineDestroyed
		close(t.finished)
	}
	s.mu.Unlock()
	s.done.Break()
}
