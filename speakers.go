package conference

import (
	"sync"
	"time"

	"github.com/bt-bridge/conference/shared"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
)

// speakerTimer is one pending promotion or demotion. Handlers compare the
// map entry against their own handle before acting, so a timer that fires
// while being replaced is discarded.
type speakerTimer struct {
	timer *time.Timer
}

// speakerReconciler smooths the bursty raw speaker set reported by the
// room into a stable active set. Promotion waits promoteDelay of continuous
// presence, demotion waits demoteDelay of continuous absence; either delay
// at zero applies immediately. The reconciler shares the engine's lock:
// every method expects the lock to be held by the caller, and timer
// handlers take it themselves before re-checking current facts.
type speakerReconciler struct {
	mu     *sync.Mutex
	logger shared.LoggerAdapter

	promoteDelay time.Duration
	demoteDelay  time.Duration

	raw            map[string]struct{}
	active         map[string]struct{}
	pendingPromote map[string]*speakerTimer
	pendingDemote  map[string]*speakerTimer

	// isKnown and publish are supplied by the engine and called with the
	// lock held.
	isKnown func(identity string) bool
	publish func()
}

func newSpeakerReconciler(
	mu *sync.Mutex,
	logger shared.LoggerAdapter,
	promoteDelay, demoteDelay time.Duration,
	isKnown func(identity string) bool,
	publish func(),
) *speakerReconciler {
	return &speakerReconciler{
		mu:             mu,
		logger:         logger,
		promoteDelay:   promoteDelay,
		demoteDelay:    demoteDelay,
		raw:            make(map[string]struct{}),
		active:         make(map[string]struct{}),
		pendingPromote: make(map[string]*speakerTimer),
		pendingDemote:  make(map[string]*speakerTimer),
		isKnown:        isKnown,
		publish:        publish,
	}
}

// UpdateRaw applies a fresh raw speaker set. Returns true if the active
// set changed immediately; deferred transitions publish from their timer
// handlers instead.
func (r *speakerReconciler) UpdateRaw(identities []string) bool {
	fresh := make(map[string]struct{}, len(identities))
	for _, identity := range identities {
		if identity != "" {
			fresh[identity] = struct{}{}
		}
	}
	r.raw = fresh

	changed := false
	for identity := range fresh {
		if _, isActive := r.active[identity]; isActive {
			// Reappeared before demotion: stay active, no flicker.
			r.cancelTimer(r.pendingDemote, identity)
			continue
		}
		if _, pending := r.pendingPromote[identity]; pending {
			continue
		}
		if r.promoteDelay == 0 {
			if r.isKnown(identity) {
				r.active[identity] = struct{}{}
				changed = true
			}
			continue
		}
		// Known-ness is checked when the timer fires, not here: an
		// identity may become known mid-window while staying in the raw
		// set, and still deserves promotion on schedule.
		r.schedulePromote(identity)
	}

	for identity := range r.active {
		if _, speaking := fresh[identity]; speaking {
			continue
		}
		if _, pending := r.pendingDemote[identity]; pending {
			continue
		}
		if r.demoteDelay == 0 {
			delete(r.active, identity)
			changed = true
			continue
		}
		r.scheduleDemote(identity)
	}

	// A pending promotion whose identity left the raw set is dropped
	// immediately.
	for identity := range r.pendingPromote {
		if _, speaking := fresh[identity]; !speaking {
			r.cancelTimer(r.pendingPromote, identity)
		}
	}
	return changed
}

func (r *speakerReconciler) schedulePromote(identity string) {
	handle := &speakerTimer{}
	handle.timer = time.AfterFunc(r.promoteDelay, func() {
		r.mu.Lock()
		if r.pendingPromote[identity] != handle {
			r.mu.Unlock()
			return
		}
		delete(r.pendingPromote, identity)
		_, stillRaw := r.raw[identity]
		if stillRaw && r.isKnown(identity) {
			r.active[identity] = struct{}{}
			r.logger.Trace("speaker promoted", zap.String("identity", identity))
			r.publish()
		}
		r.mu.Unlock()
	})
	r.pendingPromote[identity] = handle
}

func (r *speakerReconciler) scheduleDemote(identity string) {
	handle := &speakerTimer{}
	handle.timer = time.AfterFunc(r.demoteDelay, func() {
		r.mu.Lock()
		if r.pendingDemote[identity] != handle {
			r.mu.Unlock()
			return
		}
		delete(r.pendingDemote, identity)
		if _, speaking := r.raw[identity]; !speaking {
			delete(r.active, identity)
			r.logger.Trace("speaker demoted", zap.String("identity", identity))
			r.publish()
		}
		r.mu.Unlock()
	})
	r.pendingDemote[identity] = handle
}

func (r *speakerReconciler) cancelTimer(pending map[string]*speakerTimer, identity string) {
	if handle, ok := pending[identity]; ok {
		handle.timer.Stop()
		delete(pending, identity)
	}
}

// RemoveIdentity drops an identity unconditionally: pending timers are
// cancelled and the identity leaves the active set without waiting on
// hysteresis. Returns true if the active set changed.
func (r *speakerReconciler) RemoveIdentity(identity string) bool {
	r.cancelTimer(r.pendingPromote, identity)
	r.cancelTimer(r.pendingDemote, identity)
	delete(r.raw, identity)
	if _, wasActive := r.active[identity]; wasActive {
		delete(r.active, identity)
		return true
	}
	return false
}

// Reset cancels every pending timer and clears all speaker state.
func (r *speakerReconciler) Reset() {
	for identity := range r.pendingPromote {
		r.cancelTimer(r.pendingPromote, identity)
	}
	for identity := range r.pendingDemote {
		r.cancelTimer(r.pendingDemote, identity)
	}
	r.raw = make(map[string]struct{})
	r.active = make(map[string]struct{})
}

func (r *speakerReconciler) Active() []string {
	return maps.Keys(r.active)
}

func (r *speakerReconciler) IsActive(identity string) bool {
	_, ok := r.active[identity]
	return ok
}
