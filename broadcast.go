package conference

import (
	"sync"

	"github.com/bt-bridge/conference/shared"
	"github.com/frostbyte73/core"
	"github.com/gammazero/deque"
	"go.uber.org/zap"
)

// SnapshotListener receives every published snapshot, in order.
type SnapshotListener func(Snapshot)

type broadcastItem struct {
	snap      Snapshot
	listeners []SnapshotListener
}

// broadcaster fans snapshots out to listeners from a single delivery
// goroutine, preserving publish order. A panicking listener is logged and
// skipped; it never blocks delivery to the remaining listeners or
// propagates to the publisher.
type broadcaster struct {
	logger shared.LoggerAdapter

	mu     sync.Mutex
	queue  deque.Deque[broadcastItem]
	closed bool
	wake   chan struct{}
	done   core.Fuse
}

func newBroadcaster(logger shared.LoggerAdapter) *broadcaster {
	b := &broadcaster{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   core.NewFuse(),
	}
	go b.worker()
	return b
}

// Publish enqueues one snapshot for delivery to the given listeners. Safe
// to call while holding the engine lock: delivery happens on the
// broadcaster's own goroutine.
func (b *broadcaster) Publish(snap Snapshot, listeners []SnapshotListener) {
	if len(listeners) == 0 {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue.PushBack(broadcastItem{snap: snap, listeners: listeners})
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *broadcaster) worker() {
	for {
		select {
		case <-b.wake:
		case <-b.done.Watch():
			return
		}
		for {
			b.mu.Lock()
			if b.closed || b.queue.Len() == 0 {
				b.mu.Unlock()
				break
			}
			item := b.queue.PopFront()
			b.mu.Unlock()
			for _, listener := range item.listeners {
				b.deliver(listener, item.snap)
			}
		}
	}
}

func (b *broadcaster) deliver(listener SnapshotListener, snap Snapshot) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Warn("snapshot listener panicked", zap.Any("panic", rec))
		}
	}()
	listener(snap)
}

// Close drops undelivered snapshots and stops the delivery goroutine.
func (b *broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.queue.Clear()
	b.mu.Unlock()
	b.done.Break()
}
