package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNoLogger        = errors.New("no logger provided")
	ErrNoRoomFactory   = errors.New("no room factory provided")
	ErrEngineDestroyed = errors.New("engine destroyed")
)

// ErrorKind classifies every failure the engine can report, either thrown
// back to the caller or surfaced through the snapshot's LastError field.
type ErrorKind string

const (
	KindInvalidURL              ErrorKind = "invalid_url"
	KindInvalidToken            ErrorKind = "invalid_token"
	KindInvalidDeviceID         ErrorKind = "invalid_device_id"
	KindJoinFailed              ErrorKind = "join_failed"
	KindNotConnected            ErrorKind = "not_connected"
	KindMicrophoneToggleFailed  ErrorKind = "microphone_toggle_failed"
	KindCameraToggleFailed      ErrorKind = "camera_toggle_failed"
	KindScreenShareToggleFailed ErrorKind = "screen_share_toggle_failed"
	KindAudioDeviceSwitchFailed ErrorKind = "audio_device_switch_failed"
	KindListenerLimitExceeded   ErrorKind = "listener_limit_exceeded"
)

// Error is the engine's error value: a kind from the taxonomy above, a
// human-readable message, and an optional wrapped cause.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches engine errors by kind, so callers can test with
// errors.Is(err, &shared.Error{Kind: shared.KindNotConnected}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the taxonomy kind from any error, or "" if the error did
// not originate in this engine.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
