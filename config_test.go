package conference

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bt-bridge/conference/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineOptions(t *testing.T) {
	tests := []struct {
		name    string
		option  EngineOption
		want    func(t *testing.T, o engineOpts)
		wantErr bool
	}{
		{
			name:   "Max participants",
			option: WithMaxParticipants(16),
			want: func(t *testing.T, o engineOpts) {
				assert.Equal(t, 16, o.maxParticipants)
			},
		},
		{
			name:   "Max tracks per participant",
			option: WithMaxTracksPerParticipant(4),
			want: func(t *testing.T, o engineOpts) {
				assert.Equal(t, 4, o.maxTracksPerParticipant)
			},
		},
		{
			name:   "Max subscribers",
			option: WithMaxSubscribers(2),
			want: func(t *testing.T, o engineOpts) {
				assert.Equal(t, 2, o.maxSubscribers)
			},
		},
		{
			name:   "Zero debounce promotes immediately",
			option: WithSpeakerDebounce(0),
			want: func(t *testing.T, o engineOpts) {
				assert.Zero(t, o.promoteDelay)
			},
		},
		{
			name:   "Hysteresis",
			option: WithSpeakerHysteresis(2 * time.Second),
			want: func(t *testing.T, o engineOpts) {
				assert.Equal(t, 2*time.Second, o.demoteDelay)
			},
		},
		{
			name:    "Negative count",
			option:  WithMaxParticipants(-1),
			wantErr: true,
		},
		{
			name:    "Count above bound",
			option:  WithMaxSubscribers(5000),
			wantErr: true,
		},
		{
			name:    "Negative delay",
			option:  WithSpeakerDebounce(-time.Millisecond),
			wantErr: true,
		},
		{
			name:    "Delay above bound",
			option:  WithSpeakerHysteresis(2 * time.Minute),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultEngineOpts()
			err := tt.option(&opts)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, shared.KindJoinFailed, shared.KindOf(err))
				return
			}
			require.NoError(t, err)
			tt.want(t, opts)
		})
	}
}

func TestConfigOptions(t *testing.T) {
	t.Run("Zero config keeps defaults", func(t *testing.T) {
		assert.Empty(t, Config{}.Options())
	})

	t.Run("Set fields translate", func(t *testing.T) {
		cfg := Config{
			MaxParticipants:     64,
			SpeakerDebounceMs:   250,
			SpeakerHysteresisMs: 1200,
		}
		opts := defaultEngineOpts()
		for _, opt := range cfg.Options() {
			require.NoError(t, opt(&opts))
		}
		assert.Equal(t, 64, opts.maxParticipants)
		assert.Equal(t, DefaultMaxTracksPerParticipant, opts.maxTracksPerParticipant)
		assert.Equal(t, 250*time.Millisecond, opts.promoteDelay)
		assert.Equal(t, 1200*time.Millisecond, opts.demoteDelay)
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("Valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "engine.yaml")
		require.NoError(t, os.WriteFile(path, []byte(
			"max_participants: 128\nmax_subscribers: 8\nspeaker_debounce_ms: 300\n",
		), 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, Config{
			MaxParticipants:   128,
			MaxSubscribers:    8,
			SpeakerDebounceMs: 300,
		}, cfg)
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("Malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "engine.yaml")
		require.NoError(t, os.WriteFile(path, []byte("max_participants: [oops\n"), 0o600))
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})
}
