package peer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// DefaultSTUN is used when no STUN servers are configured
var DefaultSTUN = []string{"stun:stun.l.google.com:19302"}

// ICEConfig holds ICE server configuration
type ICEConfig struct {
	STUNURLs   []string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool // Force TURN relay (no direct P2P)
}

// Configuration builds the pion configuration for cfg
func (cfg ICEConfig) Configuration() webrtc.Configuration {
	iceServers := make([]webrtc.ICEServer, 0)

	if !cfg.ForceRelay {
		stun := cfg.STUNURLs
		if len(stun) == 0 {
			stun = DefaultSTUN
		}
		iceServers = append(iceServers, webrtc.ICEServer{URLs: stun})
	}

	if cfg.TURNServer != "" {
		turnServer := webrtc.ICEServer{
			URLs: []string{cfg.TURNServer},
		}
		if cfg.TURNUser != "" {
			turnServer.Username = cfg.TURNUser
			turnServer.Credential = cfg.TURNPass
			turnServer.CredentialType = webrtc.ICECredentialTypePassword
		}
		iceServers = append(iceServers, turnServer)
	}

	policy := webrtc.ICETransportPolicyAll
	if cfg.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

// PionFactory creates pion peer connections sharing one API instance.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
	log    *slog.Logger
}

// NewPionFactory registers the default codecs and interceptors and returns
// a factory using cfg for every connection.
func NewPionFactory(cfg ICEConfig, log *slog.Logger) (*PionFactory, error) {
	if log == nil {
		log = slog.Default()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	return &PionFactory{
		api:    api,
		config: cfg.Configuration(),
		log:    log.With("component", "pion"),
	}, nil
}

// NewConn creates a peer connection for viewer
func (f *PionFactory) NewConn(viewer string) (Conn, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	c := &pionConn{pc: pc, state: webrtc.PeerConnectionStateNew.String()}
	log := f.log.With("viewer", viewer)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Info("peer connection state", "state", state.String())
		c.mu.Lock()
		c.state = state.String()
		onDown := c.onDown
		c.mu.Unlock()

		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if onDown != nil {
				onDown()
			}
		}
	})
	return c, nil
}

type pionConn struct {
	pc *webrtc.PeerConnection

	mu     sync.Mutex
	state  string
	onDown func()
}

func (c *pionConn) OnDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDown = fn
}

func (c *pionConn) AddTrack(t webrtc.TrackLocal) error {
	transceiver, err := c.pc.AddTransceiverFromTrack(t, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return fmt.Errorf("failed to add video track: %w", err)
	}

	// RTCP must be drained for interceptors such as NACK to work
	sender := transceiver.Sender()
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *pionConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConn) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *pionConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *pionConn) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		fn(candidate.ToJSON())
	})
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}

func (c *pionConn) LinkState() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionType checks if the selected candidate pair is direct or relayed
func (c *pionConn) ConnectionType() string {
	stats := c.pc.GetStats()

	for _, stat := range stats {
		candidatePair, ok := stat.(webrtc.ICECandidatePairStats)
		if !ok || candidatePair.State != webrtc.StatsICECandidatePairStateSucceeded {
			continue
		}
		for _, s := range stats {
			localCandidate, ok := s.(webrtc.ICECandidateStats)
			if !ok || localCandidate.ID != candidatePair.LocalCandidateID {
				continue
			}
			switch localCandidate.CandidateType {
			case webrtc.ICECandidateTypeRelay:
				return "relay"
			case webrtc.ICECandidateTypeHost, webrtc.ICECandidateTypeSrflx, webrtc.ICECandidateTypePrflx:
				return "direct"
			}
		}
	}
	return "unknown"
}
