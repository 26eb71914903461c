package conference

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bt-bridge/conference/shared"
)

type (
	// SessionURL is a validated ws:// or wss:// room endpoint.
	SessionURL string
	// SessionToken is a validated opaque join token.
	SessionToken string
	// DeviceID names a capture or playback device. The empty value selects
	// the platform default.
	DeviceID string
)

const (
	maxSessionURLLength   = 2048
	maxSessionTokenLength = 8192
	maxDeviceIDLength     = 512
)

// DefaultDevice selects the platform default device.
const DefaultDevice DeviceID = ""

// IsDefault reports whether the id selects the platform default device.
func (d DeviceID) IsDefault() bool {
	return d == ""
}

// ParseSessionURL validates a room endpoint: an absolute ws or wss URL with
// no embedded credentials and no fragment, at most 2048 characters.
func ParseSessionURL(input string) (SessionURL, error) {
	if input == "" {
		return "", shared.NewError(shared.KindInvalidURL, "session URL is empty")
	}
	if len(input) > maxSessionURLLength {
		return "", shared.NewError(shared.KindInvalidURL,
			fmt.Sprintf("session URL exceeds %d characters", maxSessionURLLength))
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", shared.WrapError(shared.KindInvalidURL, "parsing session URL", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", shared.NewError(shared.KindInvalidURL,
			fmt.Sprintf("session URL scheme %q is not ws or wss", u.Scheme))
	}
	if u.Host == "" {
		return "", shared.NewError(shared.KindInvalidURL, "session URL has no host")
	}
	if u.User != nil {
		return "", shared.NewError(shared.KindInvalidURL, "session URL must not embed credentials")
	}
	if u.Fragment != "" || u.RawFragment != "" {
		return "", shared.NewError(shared.KindInvalidURL, "session URL must not carry a fragment")
	}
	return SessionURL(input), nil
}

// ParseSessionToken validates a join token: 1 to 8192 characters, every one
// printable ASCII with no whitespace.
func ParseSessionToken(input string) (SessionToken, error) {
	if input == "" {
		return "", shared.NewError(shared.KindInvalidToken, "session token is empty")
	}
	if len(input) > maxSessionTokenLength {
		return "", shared.NewError(shared.KindInvalidToken,
			fmt.Sprintf("session token exceeds %d characters", maxSessionTokenLength))
	}
	for i := 0; i < len(input); i++ {
		if input[i] < 0x21 || input[i] > 0x7e {
			return "", shared.NewError(shared.KindInvalidToken,
				fmt.Sprintf("session token contains non-printable byte at position %d", i))
		}
	}
	return SessionToken(input), nil
}

// ParseDeviceID validates a device identifier. The empty string selects the
// platform default and is always valid; anything else must be at most 512
// characters with no control characters.
func ParseDeviceID(input string) (DeviceID, error) {
	if input == "" {
		return DefaultDevice, nil
	}
	if len(input) > maxDeviceIDLength {
		return "", shared.NewError(shared.KindInvalidDeviceID,
			fmt.Sprintf("device id exceeds %d characters", maxDeviceIDLength))
	}
	if strings.ContainsFunc(input, func(r rune) bool { return r < 0x20 || r == 0x7f }) {
		return "", shared.NewError(shared.KindInvalidDeviceID, "device id contains control characters")
	}
	return DeviceID(input), nil
}
