package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pkg "github.com/bt-bridge/conference"
	"github.com/bt-bridge/conference/shared"
	"github.com/bt-bridge/conference/webrtcroom"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

// ObserverConfig describes one observed session. Either Join or
// TokenEndpoint must be set; when both are, Join wins.
type ObserverConfig struct {
	Join          *pkg.JoinRequest `yaml:"join,omitempty"`
	TokenEndpoint string           `yaml:"token_endpoint,omitempty"`
	Engine        pkg.Config       `yaml:"engine,omitempty"`
}

// SessionObserver joins a conference session and renders every snapshot
// transition through a printer. It is the SDK's reference consumer.
type SessionObserver struct {
	logger      shared.LoggerAdapter
	printer     *shared.Printer
	engine      *pkg.Engine
	unsubscribe func()
	done        chan struct{}

	mu     sync.Mutex
	closed bool
}

func (a *SessionObserver) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	cfg ObserverConfig,
	printer *shared.Printer,
	roomOpts ...webrtcroom.Option,
) error {
	if logger == nil {
		return shared.ErrNoLogger
	}
	if printer == nil {
		return errors.New("no printer provided")
	}
	a.logger = logger
	a.printer = printer
	a.done = make(chan struct{})
	a.logger.Info("spawning session observer")
	if err := a.printer.Writeln("📡 Spawning session observer...\n", 0); err != nil {
		a.logger.Error("printing spawning message", err)
	}

	join, err := a.resolveJoin(ctx, cfg)
	if err != nil {
		return err
	}

	if err := a.printer.Writeln("📋 Engine Config\n", 0); err != nil {
		a.logger.Error("printing engine config message", err)
	}
	yamlBytes, err := yaml.Marshal(cfg.Engine)
	if err != nil {
		a.logger.Error("marshaling engine config to yaml", err)
		return err
	}
	if err := a.printer.Write(string(yamlBytes), 1); err != nil {
		a.logger.Error("printing engine config", err)
		return err
	}

	a.engine, err = pkg.NewEngine(a.logger, webrtcroom.Factory(roomOpts...), cfg.Engine.Options()...)
	if err != nil {
		a.logger.Error("creating engine", err)
		return err
	}

	a.unsubscribe, err = a.engine.Subscribe(func(snap pkg.Snapshot) {
		if err := a.printer.Writeln(renderSnapshot(snap), 1); err != nil {
			a.logger.Error("printing snapshot", err)
		}
		if snap.ConnectionStatus == pkg.StatusDisconnected {
			a.finish()
		}
	})
	if err != nil {
		a.logger.Error("subscribing to engine", err)
		return err
	}

	if err := a.engine.Join(ctx, join); err != nil {
		a.logger.Error("joining session", err)
		a.unsubscribe()
		_ = a.engine.Destroy(context.Background())
		return err
	}
	a.logger.Info("session observer joined", zap.String("url", join.URL))
	return nil
}

func (a *SessionObserver) resolveJoin(ctx context.Context, cfg ObserverConfig) (pkg.JoinRequest, error) {
	if cfg.Join != nil {
		return *cfg.Join, nil
	}
	if cfg.TokenEndpoint == "" {
		return pkg.JoinRequest{}, errors.New("neither join credentials nor token endpoint provided")
	}
	join, err := pkg.FetchJoinRequest(ctx, cfg.TokenEndpoint)
	if err != nil {
		a.logger.Error("fetching join request", err)
		return pkg.JoinRequest{}, err
	}
	return join, nil
}

// Done closes when the observed session reaches the disconnected state.
func (a *SessionObserver) Done() <-chan struct{} {
	return a.done
}

func (a *SessionObserver) finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		close(a.done)
	}
}

// Close leaves the session and destroys the engine.
func (a *SessionObserver) Close() error {
	if a.engine == nil {
		return nil
	}
	if err := a.engine.Leave(context.Background()); err != nil {
		a.logger.Error("leaving session", err)
	}
	if err := a.engine.Destroy(context.Background()); err != nil {
		a.logger.Error("destroying engine", err)
		return err
	}
	a.finish()
	return nil
}

func renderSnapshot(snap pkg.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "status: %s", snap.ConnectionStatus)
	if snap.LocalIdentity != "" {
		fmt.Fprintf(&b, " (as %s)", snap.LocalIdentity)
	}
	fmt.Fprintf(&b, "\nmic=%t camera=%t screen=%t",
		snap.MicrophoneEnabled, snap.CameraEnabled, snap.ScreenShareEnabled)
	fmt.Fprintf(&b, "\nparticipants: %d", len(snap.Participants))
	for _, p := range snap.Participants {
		fmt.Fprintf(&b, "\n  - %s (%d tracks)", p.Identity, p.SubscribedTrackCount)
	}
	if len(snap.VideoTracks) > 0 {
		fmt.Fprintf(&b, "\nvideo tracks:")
		for _, t := range snap.VideoTracks {
			origin := "remote"
			if t.Local {
				origin = "local"
			}
			fmt.Fprintf(&b, "\n  - %s %s/%s (%s)", t.TrackID, t.ParticipantIdentity, t.Source, origin)
		}
	}
	if len(snap.ActiveSpeakers) > 0 {
		fmt.Fprintf(&b, "\nspeaking: %s", strings.Join(snap.ActiveSpeakers, ", "))
	}
	if snap.LastError != nil {
		fmt.Fprintf(&b, "\nlast error: %s (%s)", snap.LastError.Message, snap.LastError.Kind)
	}
	return b.String()
}
