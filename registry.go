package conference

import "golang.org/x/exp/maps"

// videoTrackKey identifies at most one live video track per participant,
// locality, and source.
type videoTrackKey struct {
	identity string
	local    bool
	source   TrackSource
}

// registry tracks remote participants, their subscribed track ids, and the
// current video track per (identity, locality, source). Every mutation is
// bounded: inserts beyond capacity are dropped silently so a faulty event
// stream cannot grow memory without limit. The registry is owned by the
// engine and guarded by the engine's lock; it performs no I/O.
type registry struct {
	maxParticipants         int
	maxTracksPerParticipant int

	participants map[string]map[string]struct{}
	videoTracks  map[videoTrackKey]string
	trackIndex   map[string]videoTrackKey
}

func newRegistry(maxParticipants, maxTracksPerParticipant int) *registry {
	return &registry{
		maxParticipants:         maxParticipants,
		maxTracksPerParticipant: maxTracksPerParticipant,
		participants:            make(map[string]map[string]struct{}),
		videoTracks:             make(map[videoTrackKey]string),
		trackIndex:              make(map[string]videoTrackKey),
	}
}

func validIdentity(identity string) bool {
	return len(identity) >= 1 && len(identity) <= 512
}

// ensureParticipant creates the identity on first sighting, respecting the
// participant bound. Returns the track set, or nil if the identity was
// dropped.
func (r *registry) ensureParticipant(identity string) map[string]struct{} {
	if !validIdentity(identity) {
		return nil
	}
	if tracks, ok := r.participants[identity]; ok {
		return tracks
	}
	if len(r.participants) >= r.maxParticipants {
		return nil
	}
	tracks := make(map[string]struct{})
	r.participants[identity] = tracks
	return tracks
}

func (r *registry) UpsertParticipant(identity string, trackIDs []string) {
	tracks := r.ensureParticipant(identity)
	if tracks == nil {
		return
	}
	for _, id := range trackIDs {
		if id == "" {
			continue
		}
		if len(tracks) >= r.maxTracksPerParticipant {
			break
		}
		tracks[id] = struct{}{}
	}
}

func (r *registry) AddTrackSubscription(identity, trackID string) {
	if trackID == "" {
		return
	}
	tracks := r.ensureParticipant(identity)
	if tracks == nil {
		return
	}
	if _, ok := tracks[trackID]; ok {
		return
	}
	if len(tracks) >= r.maxTracksPerParticipant {
		return
	}
	tracks[trackID] = struct{}{}
}

func (r *registry) RemoveTrackSubscription(identity, trackID string) {
	if tracks, ok := r.participants[identity]; ok {
		delete(tracks, trackID)
	}
}

func (r *registry) RemoveParticipant(identity string) {
	delete(r.participants, identity)
	r.RemoveVideoTracksFor(identity, false)
}

func (r *registry) HasParticipant(identity string) bool {
	_, ok := r.participants[identity]
	return ok
}

func (r *registry) ParticipantCount() int {
	return len(r.participants)
}

func (r *registry) SubscribedTrackCount(identity string) int {
	return len(r.participants[identity])
}

func (r *registry) Identities() []string {
	return maps.Keys(r.participants)
}

// UpsertVideoTrack records the current video track for a key. A new track
// supersedes the previous one for the same key; the stale reverse-index
// entry is removed so removal by track id stays O(1). Remote tracks are
// only accepted for identities already tracked, keeping the map bounded.
func (r *registry) UpsertVideoTrack(identity string, local bool, source TrackSource, trackID string) {
	if trackID == "" || !validIdentity(identity) {
		return
	}
	if source != TrackSourceCamera && source != TrackSourceScreenShare {
		return
	}
	if !local && !r.HasParticipant(identity) {
		return
	}
	key := videoTrackKey{identity: identity, local: local, source: source}
	if prev, ok := r.videoTracks[key]; ok && prev != trackID {
		delete(r.trackIndex, prev)
	}
	if prevKey, ok := r.trackIndex[trackID]; ok && prevKey != key {
		delete(r.videoTracks, prevKey)
	}
	r.videoTracks[key] = trackID
	r.trackIndex[trackID] = key
}

func (r *registry) RemoveVideoTrackByTrackID(trackID string) {
	key, ok := r.trackIndex[trackID]
	if !ok {
		return
	}
	delete(r.trackIndex, trackID)
	delete(r.videoTracks, key)
}

func (r *registry) RemoveVideoTracksFor(identity string, local bool) {
	for _, source := range []TrackSource{TrackSourceCamera, TrackSourceScreenShare} {
		key := videoTrackKey{identity: identity, local: local, source: source}
		if trackID, ok := r.videoTracks[key]; ok {
			delete(r.trackIndex, trackID)
			delete(r.videoTracks, key)
		}
	}
}

func (r *registry) HasVideoTrack(identity string, local bool, source TrackSource) bool {
	_, ok := r.videoTracks[videoTrackKey{identity: identity, local: local, source: source}]
	return ok
}

func (r *registry) VideoTracks() map[videoTrackKey]string {
	return r.videoTracks
}

// Clear drops all tracked state. Used on leave, teardown, and unexpected
// disconnects.
func (r *registry) Clear() {
	r.participants = make(map[string]map[string]struct{})
	r.videoTracks = make(map[videoTrackKey]string)
	r.trackIndex = make(map[string]videoTrackKey)
}
