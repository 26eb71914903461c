package conference

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/bt-bridge/conference/shared"
	"github.com/frostbyte73/core"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JoinRequest carries the pre-validated inputs for joining a session.
type JoinRequest struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// Engine owns the lifecycle of a single conference session. All mutating
// operations run through an internal serializer in strict FIFO order;
// room events and speaker timers apply synchronously under the engine
// lock. Every observable change rebuilds the snapshot and broadcasts it.
type Engine struct {
	logger  shared.LoggerAdapter
	factory RoomFactory
	opts    engineOpts

	serial    *serializer
	bcast     *broadcaster
	destroyed core.Fuse

	mu                 sync.Mutex
	room               Room
	status             ConnectionStatus
	localIdentity      string
	micEnabled         bool
	cameraEnabled      bool
	screenShareEnabled bool
	audioInput         DeviceID
	audioInputSet      bool
	audioOutput        DeviceID
	audioOutputSet     bool
	registry           *registry
	speakers           *speakerReconciler
	subs               map[string]SnapshotListener
	lastError          *ErrorInfo
	current            Snapshot
}

func NewEngine(logger shared.LoggerAdapter, factory RoomFactory, options ...EngineOption) (*Engine, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if factory == nil {
		return nil, shared.ErrNoRoomFactory
	}
	opts := defaultEngineOpts()
	for _, opt := range options {
		if err := opt(&opts); err != nil {
			return nil, err
		}
	}
	e := &Engine{
		logger:    logger,
		factory:   factory,
		opts:      opts,
		status:    StatusDisconnected,
		subs:      make(map[string]SnapshotListener),
		destroyed: core.NewFuse(),
	}
	e.registry = newRegistry(opts.maxParticipants, opts.maxTracksPerParticipant)
	e.speakers = newSpeakerReconciler(
		&e.mu, logger, opts.promoteDelay, opts.demoteDelay,
		e.identityKnownLocked, e.publishLocked,
	)
	e.serial = newSerializer()
	e.bcast = newBroadcaster(logger)
	e.current = e.buildSnapshotLocked()
	return e, nil
}

// Snapshot returns the current immutable snapshot. Pure read.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Subscribe registers a listener, immediately delivers the current
// snapshot to it, and returns a removal function. Fails once the
// subscriber bound is reached.
func (e *Engine) Subscribe(listener SnapshotListener) (func(), error) {
	if listener == nil {
		return nil, errors.New("nil listener")
	}
	if e.destroyed.IsBroken() {
		return nil, shared.ErrEngineDestroyed
	}
	e.mu.Lock()
	if len(e.subs) >= e.opts.maxSubscribers {
		e.mu.Unlock()
		return nil, shared.NewError(shared.KindListenerLimitExceeded, "subscriber limit reached")
	}
	id := uuid.NewString()
	e.subs[id] = listener
	// Enqueued before the lock is released: a concurrent publishLocked
	// already sees the listener, so queueing the initial snapshot later
	// would deliver it after newer state.
	e.bcast.Publish(e.current, []SnapshotListener{listener})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}, nil
}

// Join validates the request, tears down any existing room, and connects
// a fresh one. Runs serialized: a Join issued while a Leave is mid-flight
// starts only after the Leave settled.
func (e *Engine) Join(ctx context.Context, req JoinRequest) error {
	url, err := ParseSessionURL(req.URL)
	if err != nil {
		return err
	}
	token, err := ParseSessionToken(req.Token)
	if err != nil {
		return err
	}
	return e.serial.Run(ctx, func() error {
		return e.join(ctx, url, token)
	})
}

func (e *Engine) join(ctx context.Context, url SessionURL, token SessionToken) error {
	e.mu.Lock()
	old := e.detachRoomLocked()
	e.status = StatusConnecting
	e.lastError = nil
	e.publishLocked()
	e.mu.Unlock()
	e.discardRoom(ctx, old)

	rm := e.factory(e.logger)
	if rm == nil {
		e.mu.Lock()
		e.status = StatusError
		e.recordErrorLocked(shared.KindJoinFailed, "room factory returned nil")
		e.publishLocked()
		e.mu.Unlock()
		return shared.NewError(shared.KindJoinFailed, "room factory returned nil")
	}

	// The room becomes current before connecting so that events arriving
	// during the handshake are not dropped as stale.
	e.mu.Lock()
	e.room = rm
	e.mu.Unlock()
	e.bindRoom(rm)

	if err := rm.Connect(ctx, url, token); err != nil {
		e.mu.Lock()
		if e.room == rm {
			e.detachRoomLocked()
		}
		e.status = StatusError
		e.recordErrorLocked(shared.KindJoinFailed, err.Error())
		e.publishLocked()
		e.mu.Unlock()
		e.discardRoom(context.Background(), rm)
		return shared.WrapError(shared.KindJoinFailed, "connecting to room", err)
	}

	e.mu.Lock()
	if e.room != rm {
		// Torn down while connecting (room reported an immediate
		// disconnect). Surface as a failed join.
		e.status = StatusError
		e.recordErrorLocked(shared.KindJoinFailed, "room torn down during join")
		e.publishLocked()
		e.mu.Unlock()
		e.discardRoom(context.Background(), rm)
		return shared.NewError(shared.KindJoinFailed, "room torn down during join")
	}
	e.localIdentity = rm.LocalIdentity()
	e.seedFromRoomLocked(rm)
	e.reconcileLocalMediaLocked(rm)
	e.speakers.UpdateRaw(rm.ActiveSpeakers())
	e.status = statusFromRoomState(rm.ConnectionState())
	type devicePref struct {
		kind DeviceKind
		id   DeviceID
	}
	var staged []devicePref
	if e.audioInputSet {
		staged = append(staged, devicePref{DeviceAudioInput, e.audioInput})
	}
	if e.audioOutputSet {
		staged = append(staged, devicePref{DeviceAudioOutput, e.audioOutput})
	}
	e.mu.Unlock()

	// Staged device preferences are applied best-effort: a failure is
	// surfaced through the snapshot but never fails the join.
	for _, pref := range staged {
		ok, err := rm.SwitchActiveDevice(ctx, pref.kind, pref.id, false)
		if err != nil || !ok {
			e.logger.Warn(
				"applying staged device preference failed",
				zap.String("kind", string(pref.kind)),
				zap.String("device", string(pref.id)),
				zap.Error(err),
			)
			e.mu.Lock()
			e.recordErrorLocked(shared.KindAudioDeviceSwitchFailed,
				"switching "+string(pref.kind)+" to staged device failed")
			e.mu.Unlock()
		}
	}

	e.mu.Lock()
	if e.room == rm {
		e.publishLocked()
	}
	e.mu.Unlock()
	e.logger.Info("joined session", zap.String("identity", e.LocalIdentity()))
	return nil
}

// Leave tears down the active room and resets tracked state. Idempotent.
func (e *Engine) Leave(ctx context.Context) error {
	return e.serial.Run(ctx, func() error {
		e.mu.Lock()
		old := e.detachRoomLocked()
		e.status = StatusDisconnected
		e.publishLocked()
		e.mu.Unlock()
		e.discardRoom(ctx, old)
		return nil
	})
}

// Destroy tears down the room, cancels every pending speaker timer, drops
// all subscribers, and permanently closes the engine. Terminal: later
// operations fail with ErrEngineDestroyed; repeated calls are no-ops.
func (e *Engine) Destroy(ctx context.Context) error {
	err := e.serial.Run(ctx, func() error {
		e.mu.Lock()
		old := e.detachRoomLocked()
		e.status = StatusDisconnected
		e.lastError = nil
		e.subs = make(map[string]SnapshotListener)
		e.current = e.buildSnapshotLocked()
		e.mu.Unlock()
		e.discardRoom(ctx, old)
		return nil
	})
	if errors.Is(err, shared.ErrEngineDestroyed) {
		return nil
	}
	e.destroyed.Break()
	e.serial.Close()
	e.bcast.Close()
	return err
}

func (e *Engine) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	return e.serial.Run(ctx, func() error {
		_, err := e.setMediaLockedOut(ctx, TrackSourceMicrophone, enabled)
		return err
	})
}

func (e *Engine) ToggleMicrophone(ctx context.Context) (bool, error) {
	var result bool
	err := e.serial.Run(ctx, func() error {
		e.mu.Lock()
		desired := !e.micEnabled
		e.mu.Unlock()
		v, err := e.setMediaLockedOut(ctx, TrackSourceMicrophone, desired)
		result = v
		return err
	})
	return result, err
}

func (e *Engine) SetCameraEnabled(ctx context.Context, enabled bool) error {
	return e.serial.Run(ctx, func() error {
		_, err := e.setMediaLockedOut(ctx, TrackSourceCamera, enabled)
		return err
	})
}

func (e *Engine) ToggleCamera(ctx context.Context) (bool, error) {
	var result bool
	err := e.serial.Run(ctx, func() error {
		e.mu.Lock()
		desired := !e.cameraEnabled
		e.mu.Unlock()
		v, err := e.setMediaLockedOut(ctx, TrackSourceCamera, desired)
		result = v
		return err
	})
	return result, err
}

func (e *Engine) SetScreenShareEnabled(ctx context.Context, enabled bool) error {
	return e.serial.Run(ctx, func() error {
		_, err := e.setMediaLockedOut(ctx, TrackSourceScreenShare, enabled)
		return err
	})
}

func (e *Engine) ToggleScreenShare(ctx context.Context) (bool, error) {
	var result bool
	err := e.serial.Run(ctx, func() error {
		e.mu.Lock()
		desired := !e.screenShareEnabled
		e.mu.Unlock()
		v, err := e.setMediaLockedOut(ctx, TrackSourceScreenShare, desired)
		result = v
		return err
	})
	return result, err
}

// setMediaLockedOut delegates one local media flag to the room and adopts
// the room's post-call state rather than echoing the requested value. The
// local flag is left untouched on failure so the snapshot never claims a
// state the room did not confirm.
func (e *Engine) setMediaLockedOut(ctx context.Context, source TrackSource, desired bool) (bool, error) {
	e.mu.Lock()
	rm := e.room
	e.mu.Unlock()
	if rm == nil {
		return false, shared.NewError(shared.KindNotConnected, "no active room")
	}

	var callErr error
	var kind shared.ErrorKind
	switch source {
	case TrackSourceMicrophone:
		kind = shared.KindMicrophoneToggleFailed
		callErr = rm.SetMicrophoneEnabled(ctx, desired)
	case TrackSourceCamera:
		kind = shared.KindCameraToggleFailed
		callErr = rm.SetCameraEnabled(ctx, desired)
	case TrackSourceScreenShare:
		kind = shared.KindScreenShareToggleFailed
		callErr = rm.SetScreenShareEnabled(ctx, desired)
	default:
		return false, errors.New("unsupported media source")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if callErr != nil {
		e.recordErrorLocked(kind, callErr.Error())
		if e.room == rm {
			e.publishLocked()
		}
		return false, shared.WrapError(kind, "toggling "+string(source), callErr)
	}
	if e.room != rm {
		// Torn down mid-call; the flag reset already happened.
		return false, shared.NewError(shared.KindNotConnected, "room torn down during toggle")
	}
	e.reconcileLocalMediaLocked(rm)
	var now bool
	switch source {
	case TrackSourceMicrophone:
		ms := rm.LocalMedia()
		if ms.Microphone != nil {
			e.micEnabled = *ms.Microphone
		} else {
			e.micEnabled = desired
		}
		now = e.micEnabled
	case TrackSourceCamera:
		now = e.cameraEnabled
	case TrackSourceScreenShare:
		now = e.screenShareEnabled
	}
	e.publishLocked()
	return now, nil
}

// SetAudioInputDevice stages the capture device preference and, when a
// room is active, switches it live. An explicit switch failure is both
// recorded and returned.
func (e *Engine) SetAudioInputDevice(ctx context.Context, deviceID string) error {
	device, err := ParseDeviceID(deviceID)
	if err != nil {
		return err
	}
	return e.serial.Run(ctx, func() error {
		return e.setAudioDevice(ctx, DeviceAudioInput, device)
	})
}

// SetAudioOutputDevice stages the playback device preference and, when a
// room is active, switches it live.
func (e *Engine) SetAudioOutputDevice(ctx context.Context, deviceID string) error {
	device, err := ParseDeviceID(deviceID)
	if err != nil {
		return err
	}
	return e.serial.Run(ctx, func() error {
		return e.setAudioDevice(ctx, DeviceAudioOutput, device)
	})
}

func (e *Engine) setAudioDevice(ctx context.Context, kind DeviceKind, device DeviceID) error {
	e.mu.Lock()
	if kind == DeviceAudioInput {
		e.audioInput = device
		e.audioInputSet = true
	} else {
		e.audioOutput = device
		e.audioOutputSet = true
	}
	rm := e.room
	e.mu.Unlock()
	if rm == nil {
		// Staged only; applied on the next join.
		return nil
	}

	ok, err := rm.SwitchActiveDevice(ctx, kind, device, true)
	if err == nil && ok {
		return nil
	}
	msg := "switching " + string(kind) + " device failed"
	if err == nil {
		msg = "device unavailable: " + string(device)
	}
	e.mu.Lock()
	e.recordErrorLocked(shared.KindAudioDeviceSwitchFailed, msg)
	if e.room == rm {
		e.publishLocked()
	}
	e.mu.Unlock()
	if err != nil {
		return shared.WrapError(shared.KindAudioDeviceSwitchFailed, msg, err)
	}
	return shared.NewError(shared.KindAudioDeviceSwitchFailed, msg)
}

// LocalIdentity returns the local participant identity once known.
func (e *Engine) LocalIdentity() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.localIdentity
}

// ---------------------------------------------
// Room event binding

func (e *Engine) bindRoom(rm Room) {
	rm.SetCallbacks(&RoomCallbacks{
		OnConnectionStateChanged: func(state ConnectionState) {
			e.applyRoomEvent(rm, func() {
				e.status = statusFromRoomState(state)
			})
		},
		OnParticipantConnected: func(info RemoteParticipantInfo) {
			e.applyRoomEvent(rm, func() {
				e.upsertRemoteLocked(info)
			})
		},
		OnParticipantDisconnected: func(identity string) {
			e.applyRoomEvent(rm, func() {
				e.registry.RemoveParticipant(identity)
				e.speakers.RemoveIdentity(identity)
			})
		},
		OnTrackSubscribed: func(identity string, track TrackInfo) {
			e.applyRoomEvent(rm, func() {
				e.registry.AddTrackSubscription(identity, track.TrackID)
				if track.Kind == TrackKindVideo {
					e.registry.UpsertVideoTrack(identity, false, track.Source, track.TrackID)
				}
			})
		},
		OnTrackUnsubscribed: func(identity, trackID string) {
			e.applyRoomEvent(rm, func() {
				e.registry.RemoveTrackSubscription(identity, trackID)
				e.registry.RemoveVideoTrackByTrackID(trackID)
			})
		},
		OnTrackUnpublished: func(identity, trackID string) {
			e.applyRoomEvent(rm, func() {
				e.registry.RemoveTrackSubscription(identity, trackID)
				e.registry.RemoveVideoTrackByTrackID(trackID)
			})
		},
		OnLocalTrackPublished: func(track TrackInfo) {
			e.applyRoomEvent(rm, func() {
				if track.Kind == TrackKindVideo {
					e.registry.UpsertVideoTrack(e.localIdentity, true, track.Source, track.TrackID)
				}
				e.reconcileLocalMediaLocked(rm)
			})
		},
		OnLocalTrackUnpublished: func(trackID string) {
			e.applyRoomEvent(rm, func() {
				e.registry.RemoveVideoTrackByTrackID(trackID)
				e.reconcileLocalMediaLocked(rm)
			})
		},
		OnActiveSpeakersChanged: func(identities []string) {
			e.applyRoomEvent(rm, func() {
				e.speakers.UpdateRaw(identities)
			})
		},
		OnDisconnected: func(reason string) {
			e.mu.Lock()
			if e.room != rm {
				e.mu.Unlock()
				return
			}
			e.detachRoomLocked()
			e.status = StatusDisconnected
			e.publishLocked()
			e.mu.Unlock()
			e.logger.Warn("room disconnected unexpectedly", zap.String("reason", reason))
		},
	})
}

// applyRoomEvent runs apply under the engine lock if and only if rm is
// still the active room, then rebuilds and broadcasts. Events from a
// torn-down room are ignored.
func (e *Engine) applyRoomEvent(rm Room, apply func()) {
	e.mu.Lock()
	if e.room != rm {
		e.mu.Unlock()
		return
	}
	apply()
	e.publishLocked()
	e.mu.Unlock()
}

// ---------------------------------------------
// Locked helpers

func (e *Engine) detachRoomLocked() Room {
	rm := e.room
	e.room = nil
	e.registry.Clear()
	e.speakers.Reset()
	e.localIdentity = ""
	e.micEnabled = false
	e.cameraEnabled = false
	e.screenShareEnabled = false
	return rm
}

// discardRoom detaches callbacks and disconnects a room outside the
// engine lock. Disconnect is safe on an already-disconnected room.
func (e *Engine) discardRoom(ctx context.Context, rm Room) {
	if rm == nil {
		return
	}
	rm.SetCallbacks(nil)
	if err := rm.Disconnect(ctx, true); err != nil {
		e.logger.Warn("disconnecting room", zap.Error(err))
	}
}

func (e *Engine) seedFromRoomLocked(rm Room) {
	for _, info := range rm.RemoteParticipants() {
		e.upsertRemoteLocked(info)
	}
}

func (e *Engine) upsertRemoteLocked(info RemoteParticipantInfo) {
	ids := make([]string, 0, len(info.Tracks))
	for _, track := range info.Tracks {
		ids = append(ids, track.TrackID)
	}
	e.registry.UpsertParticipant(info.Identity, ids)
	for _, track := range info.Tracks {
		if track.Kind == TrackKindVideo {
			e.registry.UpsertVideoTrack(info.Identity, false, track.Source, track.TrackID)
		}
	}
}

// reconcileLocalMediaLocked adopts the room-reported publish flags when
// present and falls back to the existence of a matching local video track
// when absent.
func (e *Engine) reconcileLocalMediaLocked(rm Room) {
	ms := rm.LocalMedia()
	if ms.Microphone != nil {
		e.micEnabled = *ms.Microphone
	}
	if ms.Camera != nil {
		e.cameraEnabled = *ms.Camera
	} else {
		e.cameraEnabled = e.registry.HasVideoTrack(e.localIdentity, true, TrackSourceCamera)
	}
	if ms.ScreenShare != nil {
		e.screenShareEnabled = *ms.ScreenShare
	} else {
		e.screenShareEnabled = e.registry.HasVideoTrack(e.localIdentity, true, TrackSourceScreenShare)
	}
}

func (e *Engine) identityKnownLocked(identity string) bool {
	if identity == "" {
		return false
	}
	return identity == e.localIdentity || e.registry.HasParticipant(identity)
}

func (e *Engine) recordErrorLocked(kind shared.ErrorKind, message string) {
	e.lastError = &ErrorInfo{Kind: string(kind), Message: message}
}

// publishLocked rebuilds the snapshot and queues it for delivery to the
// current subscribers. Must be called with the engine lock held; actual
// delivery happens on the broadcaster goroutine.
func (e *Engine) publishLocked() {
	e.current = e.buildSnapshotLocked()
	if len(e.subs) == 0 {
		return
	}
	listeners := make([]SnapshotListener, 0, len(e.subs))
	for _, listener := range e.subs {
		listeners = append(listeners, listener)
	}
	e.bcast.Publish(e.current, listeners)
}

func (e *Engine) buildSnapshotLocked() Snapshot {
	identities := e.registry.Identities()
	sort.Strings(identities)
	participants := make([]ParticipantSnapshot, 0, len(identities))
	for _, identity := range identities {
		participants = append(participants, ParticipantSnapshot{
			Identity:             identity,
			SubscribedTrackCount: e.registry.SubscribedTrackCount(identity),
		})
	}

	videoTracks := make([]VideoTrackSnapshot, 0, len(e.registry.VideoTracks()))
	for key, trackID := range e.registry.VideoTracks() {
		videoTracks = append(videoTracks, VideoTrackSnapshot{
			TrackID:             trackID,
			ParticipantIdentity: key.identity,
			Source:              key.source,
			Local:               key.local,
		})
	}
	sortVideoTracks(videoTracks)

	speakers := e.speakers.Active()
	sort.Strings(speakers)

	var lastErr *ErrorInfo
	if e.lastError != nil {
		cp := *e.lastError
		lastErr = &cp
	}

	return Snapshot{
		ConnectionStatus:   e.status,
		LocalIdentity:      e.localIdentity,
		MicrophoneEnabled:  e.micEnabled,
		CameraEnabled:      e.cameraEnabled,
		ScreenShareEnabled: e.screenShareEnabled,
		Participants:       participants,
		VideoTracks:        videoTracks,
		ActiveSpeakers:     speakers,
		LastError:          lastErr,
	}
}

func statusFromRoomState(state ConnectionState) ConnectionStatus {
	switch state {
	case ConnectionStateConnected:
		return StatusConnected
	case ConnectionStateReconnecting:
		return StatusReconnecting
	default:
		return StatusDisconnected
	}
}
