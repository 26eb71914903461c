package conference

import (
	"context"

	"github.com/bt-bridge/conference/shared"
)

// ConnectionState is the state an underlying room transport reports for
// itself. It is narrower than ConnectionStatus: the engine derives the
// latter from room state plus its own lifecycle.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

type TrackSource string

const (
	TrackSourceMicrophone  TrackSource = "microphone"
	TrackSourceCamera      TrackSource = "camera"
	TrackSourceScreenShare TrackSource = "screen_share"
	TrackSourceUnknown     TrackSource = "unknown"
)

type DeviceKind string

const (
	DeviceAudioInput  DeviceKind = "audioinput"
	DeviceAudioOutput DeviceKind = "audiooutput"
)

// TrackInfo describes a single published track.
type TrackInfo struct {
	TrackID string
	Kind    TrackKind
	Source  TrackSource
}

// RemoteParticipantInfo is a room's view of one remote participant and the
// tracks currently subscribed from them.
type RemoteParticipantInfo struct {
	Identity string
	Tracks   []TrackInfo
}

// MediaState carries the room-reported local publish flags. A nil field
// means the room does not know; the engine then falls back to checking for
// a matching local video track.
type MediaState struct {
	Microphone  *bool
	Camera      *bool
	ScreenShare *bool
}

// RoomCallbacks is the listener set the engine installs on a room. All
// callbacks are invoked synchronously by the room as events arrive; the
// engine guards each one against stale room instances.
type RoomCallbacks struct {
	OnConnectionStateChanged  func(state ConnectionState)
	OnParticipantConnected    func(info RemoteParticipantInfo)
	OnParticipantDisconnected func(identity string)
	OnTrackSubscribed         func(identity string, track TrackInfo)
	OnTrackUnsubscribed       func(identity string, trackID string)
	OnTrackUnpublished        func(identity string, trackID string)
	OnLocalTrackPublished     func(track TrackInfo)
	OnLocalTrackUnpublished   func(trackID string)
	OnActiveSpeakersChanged   func(identities []string)
	OnDisconnected            func(reason string)
}

// Room is the external conferencing transport. Implementations must make
// Disconnect safe to call when already disconnected, and must signal an
// unavailable device from SwitchActiveDevice by returning false rather
// than an error.
type Room interface {
	Connect(ctx context.Context, url SessionURL, token SessionToken) error
	Disconnect(ctx context.Context, stopTracks bool) error
	SwitchActiveDevice(ctx context.Context, kind DeviceKind, deviceID DeviceID, exact bool) (bool, error)

	ConnectionState() ConnectionState
	LocalIdentity() string
	LocalMedia() MediaState
	RemoteParticipants() []RemoteParticipantInfo
	ActiveSpeakers() []string

	SetCallbacks(cb *RoomCallbacks)

	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	SetCameraEnabled(ctx context.Context, enabled bool) error
	SetScreenShareEnabled(ctx context.Context, enabled bool) error
}

// RoomFactory creates a fresh Room for each join attempt. The engine never
// reuses a room across joins.
type RoomFactory func(logger shared.LoggerAdapter) Room
