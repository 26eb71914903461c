// Package webrtcroom provides a reference conference.Room implementation
// over a WebRTC peer connection with JSON-over-WebSocket signaling.
package webrtcroom

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bt-bridge/conference"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

type messageType string

const (
	messageJoin              messageType = "join"
	messageJoinAck           messageType = "join_ack"
	messageAnswer            messageType = "answer"
	messageIce               messageType = "ice"
	messageParticipantJoined messageType = "participant_joined"
	messageParticipantLeft   messageType = "participant_left"
	messageTrackPublished    messageType = "track_published"
	messageTrackUnpublished  messageType = "track_unpublished"
	messageSpeakers          messageType = "speakers"
	messageMedia             messageType = "media"
	messageLeave             messageType = "leave"
	messageError             messageType = "error"
)

type trackPayload struct {
	TrackID string `json:"track_id"`
	Kind    string `json:"kind"`
	Source  string `json:"source"`
}

type participantPayload struct {
	Identity string         `json:"identity"`
	Tracks   []trackPayload `json:"tracks,omitempty"`
}

type signalMessage struct {
	ID           string               `json:"id,omitempty"`
	Type         messageType          `json:"type"`
	SDP          string               `json:"sdp,omitempty"`
	Candidate    string               `json:"candidate,omitempty"`
	Identity     string               `json:"identity,omitempty"`
	Participant  *participantPayload  `json:"participant,omitempty"`
	Participants []participantPayload `json:"participants,omitempty"`
	Track        *trackPayload        `json:"track,omitempty"`
	TrackID      string               `json:"track_id,omitempty"`
	Speakers     []string             `json:"speakers,omitempty"`
	Source       string               `json:"source,omitempty"`
	Enabled      *bool                `json:"enabled,omitempty"`
	Reason       string               `json:"reason,omitempty"`
}

func (m *signalMessage) encode() ([]byte, error) {
	return sonic.Marshal(m)
}

func decodeSignalMessage(data []byte) (*signalMessage, error) {
	m := new(signalMessage)
	if err := sonic.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decoding signal message: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("signal message without type")
	}
	return m, nil
}

func (t trackPayload) toInfo() conference.TrackInfo {
	kind := conference.TrackKind(t.Kind)
	source := conference.TrackSource(t.Source)
	switch source {
	case conference.TrackSourceMicrophone, conference.TrackSourceCamera, conference.TrackSourceScreenShare:
	default:
		source = conference.TrackSourceUnknown
	}
	return conference.TrackInfo{TrackID: t.TrackID, Kind: kind, Source: source}
}

// signalConn abstracts the websocket so the event mapping is testable
// without a network.
type signalConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

func dialSignal(ctx context.Context, url conference.SessionURL, token conference.SessionToken) (signalConn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+string(token))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, string(url), header)
	if err != nil {
		return nil, fmt.Errorf("dialing signal endpoint: %w", err)
	}
	return conn, nil
}

func writeSignal(conn signalConn, m *signalMessage) error {
	data, err := m.encode()
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing signal message: %w", err)
	}
	return nil
}
