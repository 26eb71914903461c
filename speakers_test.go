package conference

import (
	"sync"
	"testing"
	"time"

	"github.com/bt-bridge/conference/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// speakerHarness drives a reconciler directly, holding the lock around each
// call the way the engine does.
type speakerHarness struct {
	mu        sync.Mutex
	rec       *speakerReconciler
	published int
	known     map[string]bool
}

func newSpeakerHarness(t *testing.T, promote, demote time.Duration) *speakerHarness {
	t.Helper()
	h := &speakerHarness{known: make(map[string]bool)}
	h.rec = newSpeakerReconciler(
		&h.mu,
		shared.NewNopLogger(),
		promote, demote,
		func(identity string) bool {
			if allowed, ok := h.known[identity]; ok {
				return allowed
			}
			return true
		},
		func() { h.published++ },
	)
	return h
}

func (h *speakerHarness) update(identities ...string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec.UpdateRaw(identities)
}

func (h *speakerHarness) active() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec.Active()
}

func (h *speakerHarness) isActive(identity string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec.IsActive(identity)
}

func (h *speakerHarness) publishes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.published
}

func (h *speakerHarness) pendingOverlap() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for identity := range h.rec.pendingPromote {
		if _, ok := h.rec.pendingDemote[identity]; ok {
			return true
		}
	}
	return false
}

func TestSpeakerImmediateTransitions(t *testing.T) {
	h := newSpeakerHarness(t, 0, 0)

	assert.True(t, h.update("alice", "bob"))
	assert.ElementsMatch(t, []string{"alice", "bob"}, h.active())

	assert.True(t, h.update("bob"))
	assert.ElementsMatch(t, []string{"bob"}, h.active())

	assert.True(t, h.update())
	assert.Empty(t, h.active())
}

func TestSpeakerPromotionDebounce(t *testing.T) {
	h := newSpeakerHarness(t, 60*time.Millisecond, 0)

	assert.False(t, h.update("alice"))
	assert.False(t, h.isActive("alice"))

	require.Eventually(t, func() bool { return h.isActive("alice") },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.publishes())
}

func TestSpeakerPromotionCancelledByAbsence(t *testing.T) {
	h := newSpeakerHarness(t, 60*time.Millisecond, 0)

	h.update("alice")
	time.Sleep(20 * time.Millisecond)
	h.update()

	time.Sleep(100 * time.Millisecond)
	assert.False(t, h.isActive("alice"))
	assert.Equal(t, 0, h.publishes())
}

func TestSpeakerDemotionHysteresis(t *testing.T) {
	h := newSpeakerHarness(t, 0, 80*time.Millisecond)

	h.update("alice")
	require.True(t, h.isActive("alice"))

	h.update()
	assert.True(t, h.isActive("alice"), "demotion must wait out the hysteresis window")

	require.Eventually(t, func() bool { return !h.isActive("alice") },
		time.Second, 5*time.Millisecond)
}

func TestSpeakerFlickerSuppressed(t *testing.T) {
	h := newSpeakerHarness(t, 0, 80*time.Millisecond)

	h.update("alice")
	require.True(t, h.isActive("alice"))
	before := h.publishes()

	// Absent for less than the hysteresis window, then back.
	h.update()
	time.Sleep(30 * time.Millisecond)
	h.update("alice")

	time.Sleep(150 * time.Millisecond)
	assert.True(t, h.isActive("alice"))
	assert.Equal(t, before, h.publishes(), "a suppressed flicker must not publish")
}

func TestSpeakerRepeatedRawUpdatesScheduleOnce(t *testing.T) {
	h := newSpeakerHarness(t, 60*time.Millisecond, 0)

	h.update("alice")
	time.Sleep(20 * time.Millisecond)
	h.update("alice")
	time.Sleep(20 * time.Millisecond)
	h.update("alice")

	// The first timer stands; repeats must not restart the debounce clock.
	require.Eventuallyf(t, func() bool { return h.isActive("alice") },
		40*time.Millisecond, 2*time.Millisecond,
		"promotion should complete one debounce window after first sighting")
	assert.Equal(t, 1, h.publishes())
}

func TestSpeakerUnknownIdentityNotPromoted(t *testing.T) {
	h := newSpeakerHarness(t, 0, 0)
	h.known["ghost"] = false

	assert.False(t, h.update("ghost"))
	assert.Empty(t, h.active())
}

func TestSpeakerKnownMidWindowPromoted(t *testing.T) {
	h := newSpeakerHarness(t, 60*time.Millisecond, 0)
	h.known["bob"] = false

	// Unknown when first sighted, but continuously in the raw set and
	// known by the time the debounce window elapses.
	h.update("bob")
	time.Sleep(20 * time.Millisecond)
	h.mu.Lock()
	h.known["bob"] = true
	h.mu.Unlock()

	require.Eventually(t, func() bool { return h.isActive("bob") },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.publishes())
}

func TestSpeakerStillUnknownAtFireNotPromoted(t *testing.T) {
	h := newSpeakerHarness(t, 40*time.Millisecond, 0)
	h.known["ghost"] = false

	h.update("ghost")
	time.Sleep(100 * time.Millisecond)
	assert.False(t, h.isActive("ghost"))
	assert.Equal(t, 0, h.publishes())
}

func TestSpeakerRemoveIdentity(t *testing.T) {
	h := newSpeakerHarness(t, 0, 500*time.Millisecond)

	h.update("alice", "bob")
	require.ElementsMatch(t, []string{"alice", "bob"}, h.active())

	// Departure skips hysteresis entirely.
	h.mu.Lock()
	changed := h.rec.RemoveIdentity("alice")
	h.mu.Unlock()

	assert.True(t, changed)
	assert.ElementsMatch(t, []string{"bob"}, h.active())

	h.mu.Lock()
	changed = h.rec.RemoveIdentity("alice")
	h.mu.Unlock()
	assert.False(t, changed)
}

func TestSpeakerReset(t *testing.T) {
	h := newSpeakerHarness(t, 60*time.Millisecond, 60*time.Millisecond)

	h.update("alice")
	h.mu.Lock()
	h.rec.active["bob"] = struct{}{}
	h.rec.UpdateRaw(nil)
	h.rec.Reset()
	h.mu.Unlock()

	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, h.active())
	assert.Equal(t, 0, h.publishes(), "cancelled timers must not publish after reset")
}

func TestSpeakerPendingSetsDisjoint(t *testing.T) {
	h := newSpeakerHarness(t, 40*time.Millisecond, 40*time.Millisecond)

	for i := 0; i < 10; i++ {
		h.update("alice")
		h.update()
		assert.False(t, h.pendingOverlap())
	}
	time.Sleep(120 * time.Millisecond)
	assert.False(t, h.isActive("alice"))
}
