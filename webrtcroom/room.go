package webrtcroom

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bt-bridge/conference"
	"github.com/bt-bridge/conference/shared"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var _ conference.Room = (*Room)(nil)

type Option func(*Room)

// WithDeviceManager overrides the audio device inventory.
func WithDeviceManager(dm DeviceManager) Option {
	return func(r *Room) {
		r.devices = dm
	}
}

// WithRemoteTrackHandler registers a handler for incoming media. Attaching
// the media to an output surface is the caller's responsibility; the room
// only delivers the track.
func WithRemoteTrackHandler(h func(track *webrtc.TrackRemote)) Option {
	return func(r *Room) {
		r.remoteTrackHandler = h
	}
}

// WithWebRTCConfiguration overrides the peer connection configuration,
// e.g. to supply ICE servers.
func WithWebRTCConfiguration(cfg webrtc.Configuration) Option {
	return func(r *Room) {
		r.rtcConfig = cfg
	}
}

type localTrack struct {
	id     string
	source conference.TrackSource
	sender *webrtc.RTPSender
}

// Room is a conference.Room over a single WebRTC peer connection with
// JSON-over-WebSocket signaling.
type Room struct {
	logger             shared.LoggerAdapter
	devices            DeviceManager
	rtcConfig          webrtc.Configuration
	remoteTrackHandler func(track *webrtc.TrackRemote)

	state atomic.String

	mu                 sync.Mutex
	cb                 *conference.RoomCallbacks
	conn               signalConn
	pc                 *webrtc.PeerConnection
	running            bool
	localIdentity      string
	remote             map[string]map[string]conference.TrackInfo
	speakers           []string
	micEnabled         bool
	cameraEnabled      bool
	screenShareEnabled bool
	locals             map[conference.TrackSource]*localTrack
	cancel             context.CancelCauseFunc
}

func New(logger shared.LoggerAdapter, opts ...Option) *Room {
	r := &Room{
		logger:  logger,
		devices: NewStaticDeviceManager(nil),
		remote:  make(map[string]map[string]conference.TrackInfo),
		locals:  make(map[conference.TrackSource]*localTrack),
	}
	r.state.Store(string(conference.ConnectionStateDisconnected))
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Factory adapts New to the engine's RoomFactory hook.
func Factory(opts ...Option) conference.RoomFactory {
	return func(logger shared.LoggerAdapter) conference.Room {
		return New(logger, opts...)
	}
}

func (r *Room) SetCallbacks(cb *conference.RoomCallbacks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cb = cb
}

func (r *Room) callbacks() conference.RoomCallbacks {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cb == nil {
		return conference.RoomCallbacks{}
	}
	return *r.cb
}

func (r *Room) ConnectionState() conference.ConnectionState {
	return conference.ConnectionState(r.state.Load())
}

func (r *Room) LocalIdentity() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.localIdentity
}

func (r *Room) LocalMedia() conference.MediaState {
	r.mu.Lock()
	defer r.mu.Unlock()
	mic, cam, screen := r.micEnabled, r.cameraEnabled, r.screenShareEnabled
	return conference.MediaState{Microphone: &mic, Camera: &cam, ScreenShare: &screen}
}

func (r *Room) RemoteParticipants() []conference.RemoteParticipantInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]conference.RemoteParticipantInfo, 0, len(r.remote))
	for identity, tracks := range r.remote {
		info := conference.RemoteParticipantInfo{Identity: identity}
		for _, track := range tracks {
			info.Tracks = append(info.Tracks, track)
		}
		out = append(out, info)
	}
	return out
}

func (r *Room) ActiveSpeakers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.speakers))
	copy(out, r.speakers)
	return out
}

func (r *Room) Connect(ctx context.Context, url conference.SessionURL, token conference.SessionToken) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("room already connected")
	}
	r.mu.Unlock()

	conn, err := dialSignal(ctx, url, token)
	if err != nil {
		return err
	}
	pc, err := webrtc.NewPeerConnection(r.rtcConfig)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("creating peer connection: %w", err)
	}

	roomCtx, cancel := context.WithCancelCause(context.Background())
	ackC := make(chan *signalMessage, 1)
	answerC := make(chan *signalMessage, 1)
	connected := make(chan struct{})
	var connectedOnce sync.Once

	r.mu.Lock()
	r.conn = conn
	r.pc = pc
	r.cancel = cancel
	r.mu.Unlock()
	r.state.Store(string(conference.ConnectionStateDisconnected))

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.logger.Trace("peer connection state changed", zap.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateConnected:
			connectedOnce.Do(func() { close(connected) })
			r.state.Store(string(conference.ConnectionStateConnected))
			if cb := r.callbacks(); cb.OnConnectionStateChanged != nil {
				cb.OnConnectionStateChanged(conference.ConnectionStateConnected)
			}
		case webrtc.PeerConnectionStateDisconnected:
			r.state.Store(string(conference.ConnectionStateReconnecting))
			if cb := r.callbacks(); cb.OnConnectionStateChanged != nil {
				cb.OnConnectionStateChanged(conference.ConnectionStateReconnecting)
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			connectedOnce.Do(func() { close(connected) })
			r.teardown("peer connection "+state.String(), true)
		}
	})
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()
		if conn == nil {
			return
		}
		msg := &signalMessage{ID: uuid.NewString(), Type: messageIce, Candidate: candidate.ToJSON().Candidate}
		if err := writeSignal(conn, msg); err != nil {
			r.logger.Warn("sending ice candidate", zap.Error(err))
		}
	})
	if handler := r.remoteTrackHandler; handler != nil {
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			go handler(track)
		})
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		r.abortConnect()
		return fmt.Errorf("creating offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		r.abortConnect()
		return fmt.Errorf("setting local description: %w", err)
	}

	go r.readLoop(conn, pc, ackC, answerC)

	if err := writeSignal(conn, &signalMessage{ID: uuid.NewString(), Type: messageJoin, SDP: offer.SDP}); err != nil {
		r.abortConnect()
		return err
	}

	var ack, answer *signalMessage
	for ack == nil || answer == nil {
		select {
		case <-ctx.Done():
			r.abortConnect()
			return ctx.Err()
		case <-roomCtx.Done():
			r.abortConnect()
			return context.Cause(roomCtx)
		case m := <-ackC:
			ack = m
		case m := <-answerC:
			answer = m
		}
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	}); err != nil {
		r.abortConnect()
		return fmt.Errorf("setting remote description: %w", err)
	}

	select {
	case <-connected:
	case <-ctx.Done():
		r.abortConnect()
		return ctx.Err()
	case <-roomCtx.Done():
		r.abortConnect()
		return context.Cause(roomCtx)
	}

	r.mu.Lock()
	r.localIdentity = ack.Identity
	r.remote = make(map[string]map[string]conference.TrackInfo, len(ack.Participants))
	for _, p := range ack.Participants {
		tracks := make(map[string]conference.TrackInfo, len(p.Tracks))
		for _, t := range p.Tracks {
			tracks[t.TrackID] = t.toInfo()
		}
		r.remote[p.Identity] = tracks
	}
	r.speakers = ack.Speakers
	r.running = true
	r.mu.Unlock()
	r.state.Store(string(conference.ConnectionStateConnected))
	r.logger.Info("room connected", zap.String("identity", ack.Identity))
	return nil
}

// abortConnect tears the half-built connection down without notifying
// callbacks: the connect caller receives the error directly.
func (r *Room) abortConnect() {
	r.teardown("connect aborted", false)
}

func (r *Room) readLoop(conn signalConn, pc *webrtc.PeerConnection, ackC, answerC chan *signalMessage) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			running := r.running && r.conn == conn
			r.mu.Unlock()
			if running {
				r.teardown(fmt.Sprintf("signal connection closed: %v", err), true)
			}
			return
		}
		m, err := decodeSignalMessage(data)
		if err != nil {
			r.logger.Warn("dropping malformed signal message", zap.Error(err))
			continue
		}
		r.dispatch(m, pc, ackC, answerC)
	}
}

func (r *Room) dispatch(m *signalMessage, pc *webrtc.PeerConnection, ackC, answerC chan *signalMessage) {
	switch m.Type {
	case messageJoinAck:
		select {
		case ackC <- m:
		default:
		}
	case messageAnswer:
		select {
		case answerC <- m:
		default:
		}
	case messageIce:
		if err := pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: m.Candidate}); err != nil {
			r.logger.Warn("adding remote ice candidate", zap.Error(err))
		}
	case messageParticipantJoined:
		if m.Participant == nil {
			return
		}
		info := conference.RemoteParticipantInfo{Identity: m.Participant.Identity}
		tracks := make(map[string]conference.TrackInfo, len(m.Participant.Tracks))
		for _, t := range m.Participant.Tracks {
			ti := t.toInfo()
			tracks[t.TrackID] = ti
			info.Tracks = append(info.Tracks, ti)
		}
		r.mu.Lock()
		r.remote[info.Identity] = tracks
		r.mu.Unlock()
		if cb := r.callbacks(); cb.OnParticipantConnected != nil {
			cb.OnParticipantConnected(info)
		}
	case messageParticipantLeft:
		r.mu.Lock()
		delete(r.remote, m.Identity)
		r.mu.Unlock()
		if cb := r.callbacks(); cb.OnParticipantDisconnected != nil {
			cb.OnParticipantDisconnected(m.Identity)
		}
	case messageTrackPublished:
		if m.Track == nil {
			return
		}
		info := m.Track.toInfo()
		r.mu.Lock()
		if tracks, ok := r.remote[m.Identity]; ok {
			tracks[info.TrackID] = info
		}
		r.mu.Unlock()
		if cb := r.callbacks(); cb.OnTrackSubscribed != nil {
			cb.OnTrackSubscribed(m.Identity, info)
		}
	case messageTrackUnpublished:
		r.mu.Lock()
		if tracks, ok := r.remote[m.Identity]; ok {
			delete(tracks, m.TrackID)
		}
		r.mu.Unlock()
		if cb := r.callbacks(); cb.OnTrackUnpublished != nil {
			cb.OnTrackUnpublished(m.Identity, m.TrackID)
		}
	case messageSpeakers:
		r.mu.Lock()
		r.speakers = m.Speakers
		r.mu.Unlock()
		if cb := r.callbacks(); cb.OnActiveSpeakersChanged != nil {
			cb.OnActiveSpeakersChanged(m.Speakers)
		}
	case messageLeave, messageError:
		reason := m.Reason
		if reason == "" {
			reason = "server closed the session"
		}
		r.teardown(reason, true)
	default:
		r.logger.Debug("ignoring signal message", zap.String("type", string(m.Type)))
	}
}

// teardown closes the connection and peer connection and resets state.
// Safe to call repeatedly; notify controls whether OnDisconnected fires.
func (r *Room) teardown(reason string, notify bool) {
	r.mu.Lock()
	if r.conn == nil && r.pc == nil && !r.running {
		r.mu.Unlock()
		return
	}
	conn, pc, cancel := r.conn, r.pc, r.cancel
	r.conn, r.pc, r.cancel = nil, nil, nil
	r.running = false
	r.remote = make(map[string]map[string]conference.TrackInfo)
	r.speakers = nil
	r.locals = make(map[conference.TrackSource]*localTrack)
	r.micEnabled, r.cameraEnabled, r.screenShareEnabled = false, false, false
	var cb conference.RoomCallbacks
	if r.cb != nil {
		cb = *r.cb
	}
	r.mu.Unlock()

	r.state.Store(string(conference.ConnectionStateDisconnected))
	if conn != nil {
		_ = conn.Close()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			r.logger.Error("closing peer connection failed", err)
		}
	}
	if cancel != nil {
		cancel(errors.New(reason))
	}
	if notify && cb.OnDisconnected != nil {
		cb.OnDisconnected(reason)
	}
}

func (r *Room) Disconnect(_ context.Context, stopTracks bool) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn != nil {
		_ = writeSignal(conn, &signalMessage{ID: uuid.NewString(), Type: messageLeave})
	}
	_ = stopTracks // local senders are released with the peer connection
	r.teardown("client requested disconnect", false)
	return nil
}

func (r *Room) SwitchActiveDevice(ctx context.Context, kind conference.DeviceKind, deviceID conference.DeviceID, exact bool) (bool, error) {
	return r.devices.Switch(ctx, kind, deviceID, exact)
}

func (r *Room) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	return r.setLocalTrack(ctx, conference.TrackSourceMicrophone, enabled)
}

func (r *Room) SetCameraEnabled(ctx context.Context, enabled bool) error {
	return r.setLocalTrack(ctx, conference.TrackSourceCamera, enabled)
}

func (r *Room) SetScreenShareEnabled(ctx context.Context, enabled bool) error {
	return r.setLocalTrack(ctx, conference.TrackSourceScreenShare, enabled)
}

func trackCapability(source conference.TrackSource) (webrtc.RTPCodecCapability, string, conference.TrackKind) {
	switch source {
	case conference.TrackSourceMicrophone:
		return webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		}, "microphone", conference.TrackKindAudio
	case conference.TrackSourceScreenShare:
		return webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, "screen", conference.TrackKindVideo
	default:
		return webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, "camera", conference.TrackKindVideo
	}
}

func (r *Room) setLocalTrack(_ context.Context, source conference.TrackSource, enabled bool) error {
	r.mu.Lock()
	if !r.running || r.pc == nil {
		r.mu.Unlock()
		return errors.New("room is not connected")
	}

	var published *conference.TrackInfo
	var unpublishedID string

	if enabled {
		if _, ok := r.locals[source]; ok {
			r.mu.Unlock()
			return nil
		}
		capability, stream, kind := trackCapability(source)
		track, err := webrtc.NewTrackLocalStaticSample(capability, uuid.NewString(), stream)
		if err != nil {
			r.mu.Unlock()
			return fmt.Errorf("creating local %s track: %w", source, err)
		}
		sender, err := r.pc.AddTrack(track)
		if err != nil {
			r.mu.Unlock()
			return fmt.Errorf("publishing local %s track: %w", source, err)
		}
		r.locals[source] = &localTrack{id: track.ID(), source: source, sender: sender}
		r.setFlagLocked(source, true)
		published = &conference.TrackInfo{TrackID: track.ID(), Kind: kind, Source: source}
	} else {
		lt, ok := r.locals[source]
		if !ok {
			r.setFlagLocked(source, false)
			r.mu.Unlock()
			return nil
		}
		if err := r.pc.RemoveTrack(lt.sender); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("unpublishing local %s track: %w", source, err)
		}
		delete(r.locals, source)
		r.setFlagLocked(source, false)
		unpublishedID = lt.id
	}
	conn := r.conn
	r.mu.Unlock()

	if conn != nil {
		msg := &signalMessage{
			ID:      uuid.NewString(),
			Type:    messageMedia,
			Source:  string(source),
			Enabled: &enabled,
		}
		if published != nil {
			msg.TrackID = published.TrackID
		} else {
			msg.TrackID = unpublishedID
		}
		if err := writeSignal(conn, msg); err != nil {
			r.logger.Warn("announcing media change", zap.Error(err))
		}
	}

	cb := r.callbacks()
	if published != nil && cb.OnLocalTrackPublished != nil {
		cb.OnLocalTrackPublished(*published)
	}
	if unpublishedID != "" && cb.OnLocalTrackUnpublished != nil {
		cb.OnLocalTrackUnpublished(unpublishedID)
	}
	return nil
}

func (r *Room) setFlagLocked(source conference.TrackSource, enabled bool) {
	switch source {
	case conference.TrackSourceMicrophone:
		r.micEnabled = enabled
	case conference.TrackSourceCamera:
		r.cameraEnabled = enabled
	case conference.TrackSourceScreenShare:
		r.screenShareEnabled = enabled
	}
}
