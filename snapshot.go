package conference

import (
	"sort"

	"github.com/bytedance/sonic"
)

// ConnectionStatus is the engine's view of the session lifecycle.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusError        ConnectionStatus = "error"
)

// ParticipantSnapshot is one remote participant within a snapshot.
type ParticipantSnapshot struct {
	Identity             string `json:"identity"`
	SubscribedTrackCount int    `json:"subscribed_track_count"`
}

// VideoTrackSnapshot is one live video track within a snapshot.
type VideoTrackSnapshot struct {
	TrackID             string      `json:"track_id"`
	ParticipantIdentity string      `json:"participant_identity"`
	Source              TrackSource `json:"source"`
	Local               bool        `json:"local"`
}

// ErrorInfo is the last non-fatal failure surfaced through the snapshot.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Snapshot is an immutable point-in-time view of the session. The engine
// rebuilds it on every observable change and never mutates a value already
// handed to a subscriber; subscribers must treat the slices as read-only.
type Snapshot struct {
	ConnectionStatus   ConnectionStatus      `json:"connection_status"`
	LocalIdentity      string                `json:"local_identity,omitempty"`
	MicrophoneEnabled  bool                  `json:"microphone_enabled"`
	CameraEnabled      bool                  `json:"camera_enabled"`
	ScreenShareEnabled bool                  `json:"screen_share_enabled"`
	Participants       []ParticipantSnapshot `json:"participants"`
	VideoTracks        []VideoTrackSnapshot  `json:"video_tracks"`
	ActiveSpeakers     []string              `json:"active_speakers"`
	LastError          *ErrorInfo            `json:"last_error,omitempty"`
}

// JSON renders the snapshot for logging or transport.
func (s Snapshot) JSON() ([]byte, error) {
	return sonic.Marshal(s)
}

// trackSourceOrder keeps video track ordering stable: camera before
// screen share.
func trackSourceOrder(source TrackSource) int {
	switch source {
	case TrackSourceCamera:
		return 0
	case TrackSourceScreenShare:
		return 1
	default:
		return 2
	}
}

func sortVideoTracks(tracks []VideoTrackSnapshot) {
	sort.Slice(tracks, func(i, j int) bool {
		a, b := tracks[i], tracks[j]
		if a.Local != b.Local {
			return a.Local
		}
		if a.ParticipantIdentity != b.ParticipantIdentity {
			return a.ParticipantIdentity < b.ParticipantIdentity
		}
		if a.Source != b.Source {
			return trackSourceOrder(a.Source) < trackSourceOrder(b.Source)
		}
		return a.TrackID < b.TrackID
	})
}
