package conference

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryParticipantBound(t *testing.T) {
	r := newRegistry(2, 8)

	r.UpsertParticipant("alice", nil)
	r.UpsertParticipant("bob", nil)
	r.UpsertParticipant("carol", nil)

	assert.Equal(t, 2, r.ParticipantCount())
	assert.True(t, r.HasParticipant("alice"))
	assert.True(t, r.HasParticipant("bob"))
	assert.False(t, r.HasParticipant("carol"))

	// An already-tracked identity is never rejected by the bound.
	r.UpsertParticipant("alice", []string{"t1"})
	assert.Equal(t, 1, r.SubscribedTrackCount("alice"))

	r.RemoveParticipant("bob")
	r.UpsertParticipant("carol", nil)
	assert.True(t, r.HasParticipant("carol"))
}

func TestRegistryTrackBound(t *testing.T) {
	r := newRegistry(4, 3)

	for i := 0; i < 5; i++ {
		r.AddTrackSubscription("alice", fmt.Sprintf("track-%d", i))
	}
	assert.Equal(t, 3, r.SubscribedTrackCount("alice"))

	// Re-adding a tracked id is a no-op, not a second slot.
	r.AddTrackSubscription("alice", "track-0")
	assert.Equal(t, 3, r.SubscribedTrackCount("alice"))

	r.RemoveTrackSubscription("alice", "track-0")
	r.AddTrackSubscription("alice", "track-9")
	assert.Equal(t, 3, r.SubscribedTrackCount("alice"))
}

func TestRegistryRejectsInvalidInput(t *testing.T) {
	r := newRegistry(4, 4)

	r.UpsertParticipant("", []string{"t1"})
	r.UpsertParticipant(strings.Repeat("x", 513), nil)
	r.AddTrackSubscription("alice", "")

	assert.False(t, r.HasParticipant(""))
	assert.Equal(t, 0, r.SubscribedTrackCount("alice"))
}

func TestRegistryVideoTrackSupersession(t *testing.T) {
	r := newRegistry(4, 4)
	r.UpsertParticipant("alice", nil)

	r.UpsertVideoTrack("alice", false, TrackSourceCamera, "cam-1")
	r.UpsertVideoTrack("alice", false, TrackSourceCamera, "cam-2")

	assert.True(t, r.HasVideoTrack("alice", false, TrackSourceCamera))
	assert.Len(t, r.VideoTracks(), 1)
	assert.Equal(t, "cam-2", r.VideoTracks()[videoTrackKey{identity: "alice", local: false, source: TrackSourceCamera}])

	// The superseded id no longer resolves.
	r.RemoveVideoTrackByTrackID("cam-1")
	assert.True(t, r.HasVideoTrack("alice", false, TrackSourceCamera))

	r.RemoveVideoTrackByTrackID("cam-2")
	assert.False(t, r.HasVideoTrack("alice", false, TrackSourceCamera))
	assert.Empty(t, r.VideoTracks())
}

func TestRegistryVideoTrackKeying(t *testing.T) {
	r := newRegistry(4, 4)
	r.UpsertParticipant("alice", nil)

	r.UpsertVideoTrack("alice", false, TrackSourceCamera, "cam-1")
	r.UpsertVideoTrack("alice", false, TrackSourceScreenShare, "scr-1")
	r.UpsertVideoTrack("alice", true, TrackSourceCamera, "local-cam")

	// Distinct keys coexist.
	assert.Len(t, r.VideoTracks(), 3)

	// Microphone and unknown sources are never recorded.
	r.UpsertVideoTrack("alice", false, TrackSourceMicrophone, "mic-1")
	r.UpsertVideoTrack("alice", false, TrackSourceUnknown, "x-1")
	assert.Len(t, r.VideoTracks(), 3)

	// Remote video for an untracked identity is dropped; local is not.
	r.UpsertVideoTrack("ghost", false, TrackSourceCamera, "cam-9")
	assert.False(t, r.HasVideoTrack("ghost", false, TrackSourceCamera))
	r.UpsertVideoTrack("me", true, TrackSourceScreenShare, "scr-9")
	assert.True(t, r.HasVideoTrack("me", true, TrackSourceScreenShare))
}

func TestRegistryTrackIDMovesBetweenKeys(t *testing.T) {
	r := newRegistry(4, 4)
	r.UpsertParticipant("alice", nil)
	r.UpsertParticipant("bob", nil)

	r.UpsertVideoTrack("alice", false, TrackSourceCamera, "cam-1")
	r.UpsertVideoTrack("bob", false, TrackSourceCamera, "cam-1")

	// The id identifies one live track; alice's slot is vacated.
	assert.False(t, r.HasVideoTrack("alice", false, TrackSourceCamera))
	assert.True(t, r.HasVideoTrack("bob", false, TrackSourceCamera))
	assert.Len(t, r.VideoTracks(), 1)
}

func TestRegistryRemoveParticipantClearsVideo(t *testing.T) {
	r := newRegistry(4, 4)
	r.UpsertParticipant("alice", []string{"t1"})
	r.UpsertVideoTrack("alice", false, TrackSourceCamera, "cam-1")
	r.UpsertVideoTrack("alice", false, TrackSourceScreenShare, "scr-1")

	r.RemoveParticipant("alice")

	assert.False(t, r.HasParticipant("alice"))
	assert.Empty(t, r.VideoTracks())

	// A stale removal by id after the participant left is harmless.
	r.RemoveVideoTrackByTrackID("cam-1")
}

func TestRegistryClear(t *testing.T) {
	r := newRegistry(4, 4)
	r.UpsertParticipant("alice", []string{"t1", "t2"})
	r.UpsertVideoTrack("alice", false, TrackSourceCamera, "cam-1")

	r.Clear()

	assert.Equal(t, 0, r.ParticipantCount())
	assert.Empty(t, r.Identities())
	assert.Empty(t, r.VideoTracks())
}
