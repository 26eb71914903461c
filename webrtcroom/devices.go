package webrtcroom

import (
	"context"
	"sync"

	"github.com/bt-bridge/conference"
)

// DeviceManager resolves audio device switches. A device that cannot be
// selected is reported as unavailable (false), never as an error, matching
// the Room contract.
type DeviceManager interface {
	Devices(kind conference.DeviceKind) []string
	Switch(ctx context.Context, kind conference.DeviceKind, deviceID conference.DeviceID, exact bool) (bool, error)
	Active(kind conference.DeviceKind) conference.DeviceID
}

type staticDeviceManager struct {
	mu     sync.Mutex
	known  map[conference.DeviceKind][]string
	active map[conference.DeviceKind]conference.DeviceID
}

// NewStaticDeviceManager builds a manager over a fixed device inventory.
// The default device is always available.
func NewStaticDeviceManager(known map[conference.DeviceKind][]string) DeviceManager {
	return &staticDeviceManager{
		known:  known,
		active: make(map[conference.DeviceKind]conference.DeviceID),
	}
}

func (m *staticDeviceManager) Devices(kind conference.DeviceKind) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.known[kind]))
	copy(out, m.known[kind])
	return out
}

func (m *staticDeviceManager) Active(kind conference.DeviceKind) conference.DeviceID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[kind]
}

func (m *staticDeviceManager) Switch(_ context.Context, kind conference.DeviceKind, deviceID conference.DeviceID, exact bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if deviceID.IsDefault() {
		m.active[kind] = conference.DefaultDevice
		return true, nil
	}
	for _, id := range m.known[kind] {
		if id == string(deviceID) {
			m.active[kind] = deviceID
			return true, nil
		}
	}
	if !exact {
		// Fall back to the default device rather than failing.
		m.active[kind] = conference.DefaultDevice
		return true, nil
	}
	return false, nil
}
