// Package broadcast ties the signaling channel to the per-viewer sessions:
// it dispatches inbound envelopes, drives negotiation and owns teardown.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"

	"github.com/tomaslejdung/rigcast/pkg/capture"
	"github.com/tomaslejdung/rigcast/pkg/peer"
	"github.com/tomaslejdung/rigcast/pkg/signal"
	"github.com/tomaslejdung/rigcast/pkg/track"
)

// Sender writes one outbound envelope. *signal.Channel satisfies it.
type Sender interface {
	Send(msgType, receiverID, payload string) error
}

// Transport is a Sender with an ordered receive loop.
type Transport interface {
	Sender
	Run(ctx context.Context, dispatch func(signal.Envelope)) error
}

// Config configures an Orchestrator
type Config struct {
	// PrimarySource is preferred when a viewer has not picked a source
	PrimarySource string
	Room          string
	Tracks        track.Options
	Log           *slog.Logger
}

// Orchestrator maps viewers to sessions on shared tracks.
type Orchestrator struct {
	cfg      Config
	log      *slog.Logger
	provider capture.Provider
	factory  peer.Factory

	sessions *peer.Registry
	tracks   *track.Registrar
	ice      *peer.IceBuffer
	targets  sync.Map // viewer id -> source name
	lanes    *lanes
	handlers map[string]func(signal.Envelope)

	senderMu sync.RWMutex
	sender   Sender

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown atomic.Bool
}

// New creates an orchestrator. It has no sender until SetSender or Run.
func New(provider capture.Provider, factory peer.Factory, cfg Config) *Orchestrator {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	cfg.Room = signal.NormalizeRoomID(cfg.Room)
	if cfg.Room == "" {
		cfg.Room = signal.DefaultRoom
	}
	if cfg.Tracks.Log == nil {
		cfg.Tracks.Log = log
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:      cfg,
		log:      log.With("component", "orchestrator", "room", cfg.Room),
		provider: provider,
		factory:  factory,
		sessions: peer.NewRegistry(),
		ice:      peer.NewIceBuffer(),
		lanes:    newLanes(),
		ctx:      ctx,
		cancel:   cancel,
	}
	o.tracks = track.NewRegistrar(provider, o.sessions, cfg.Tracks)
	o.handlers = map[string]func(signal.Envelope){
		signal.TypeICE:          o.handleICE,
		signal.TypeCameraChange: o.handleCameraChange,
	}
	return o
}

// SetSender sets where outbound envelopes go. nil drops them.
func (o *Orchestrator) SetSender(s Sender) {
	o.senderMu.Lock()
	defer o.senderMu.Unlock()
	o.sender = s
}

func (o *Orchestrator) currentSender() Sender {
	o.senderMu.RLock()
	defer o.senderMu.RUnlock()
	return o.sender
}

// Run uses t as sender and consumes its frames until it closes, ctx is
// cancelled or Shutdown is called.
func (o *Orchestrator) Run(ctx context.Context, t Transport) error {
	o.SetSender(t)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-o.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return t.Run(ctx, o.Dispatch)
}

// Dispatch classifies env and queues its handler on the sender's lane.
// It never blocks on negotiation.
func (o *Orchestrator) Dispatch(env signal.Envelope) {
	if o.shutdown.Load() {
		return
	}

	if env.Type == signal.TypeSystem {
		o.log.Info("system message", "from", env.SenderID, "text", env.Payload)
		return
	}

	handler, ok := o.handlers[env.Type]
	if !ok && env.Type != signal.TypeOffer {
		o.log.Debug("ignoring message", "type", env.Type, "from", env.SenderID)
		return
	}
	if env.SenderID == "" {
		o.log.Warn("dropping message without sender", "type", env.Type)
		return
	}

	if env.Type == signal.TypeOffer {
		o.dispatchOffer(env)
		return
	}
	o.lanes.submit(env.SenderID, func() { handler(env) })
}

// dispatchOffer decodes the offer before touching the viewer's session; a
// payload that does not decode leaves any negotiation in flight alone.
func (o *Orchestrator) dispatchOffer(env signal.Envelope) {
	viewer := env.SenderID
	offer, err := signal.DecodeSDP(env.Payload)
	if err != nil {
		o.log.Warn("dropping offer", "viewer", viewer, "error", err)
		return
	}

	// A new offer preempts a negotiation still in flight for the viewer so
	// a stalled step cannot hold the lane. Closing the peer connection can
	// block, so it runs off the receive loop.
	if s := o.sessions.Get(viewer); s != nil && s.State() < peer.StateReady {
		go s.Close()
	}

	o.lanes.submit(viewer, func() { o.handleOffer(viewer, offer) })
}

func (o *Orchestrator) handleOffer(viewer string, offer signal.SDP) {
	log := o.log.With("viewer", viewer)

	o.teardown(viewer, "renegotiation")

	s, err := o.openSession(viewer)
	if err != nil {
		log.Warn("offer not served", "error", err)
		return
	}

	if err := s.ApplyOffer(offer.SDP); err != nil {
		o.abandon(s, err)
		return
	}
	if n, err := o.ice.DrainInto(viewer, s); err != nil {
		log.Warn("buffered candidates failed", "applied", n, "error", err)
	} else if n > 0 {
		log.Debug("applied buffered candidates", "count", n)
	}
	if err := s.CreateAnswer(); err != nil {
		o.abandon(s, err)
		return
	}
	if err := s.Commit(); err != nil {
		o.abandon(s, err)
		return
	}

	log.Info("session ready", "source", s.Source)
	o.send(signal.TypeAnswer, viewer, signal.EncodeSDP(signal.TypeAnswer, s.LocalDescription()))
}

// openSession resolves the viewer's source and registers a new session on
// its shared track. A track disposed between resolve and registration is
// resolved again.
func (o *Orchestrator) openSession(viewer string) (*peer.Session, error) {
	source, err := o.targetSource(viewer)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		st, err := o.tracks.Resolve(source)
		if err != nil {
			return nil, err
		}

		conn, err := o.factory.NewConn(viewer)
		if err != nil {
			o.tracks.Release(source)
			return nil, &peer.NegotiationError{Viewer: viewer, Step: peer.StepNewConn, Err: err}
		}
		s, err := peer.NewSession(viewer, conn, st, o.localCandidate(viewer))
		if err != nil {
			o.tracks.Release(source)
			return nil, err
		}

		var prev *peer.Session
		if !o.tracks.Attach(st, func() { prev = o.sessions.Put(viewer, s) }) {
			s.Close()
			continue
		}
		if prev != nil {
			o.tracks.Release(prev.Source)
		}

		if o.ctx.Err() != nil {
			o.close(viewer, s)
			return nil, peer.ErrClosed
		}

		go o.watch(viewer, s)
		return s, nil
	}
	return nil, fmt.Errorf("%w: track for %s kept disappearing", track.ErrMissingResource, source)
}

// watch queues a teardown when the transport reports the viewer gone
func (o *Orchestrator) watch(viewer string, s *peer.Session) {
	select {
	case <-s.Lost():
		o.lanes.submit(viewer, func() {
			if o.sessions.RemoveIf(viewer, s) {
				s.Close()
				o.tracks.Release(s.Source)
				o.log.Info("viewer connection lost", "viewer", viewer, "source", s.Source)
			}
		})
	case <-s.Done():
	}
}

// abandon closes a session whose negotiation failed or was preempted
func (o *Orchestrator) abandon(s *peer.Session, err error) {
	log := o.log.With("viewer", s.Viewer, "source", s.Source)
	if errors.Is(err, peer.ErrClosed) {
		log.Debug("negotiation abandoned")
	} else {
		log.Warn("negotiation failed", "error", err)
	}
	o.close(s.Viewer, s)
}

// close removes s if it is still the viewer's session, closes it and
// releases its source
func (o *Orchestrator) close(viewer string, s *peer.Session) {
	o.sessions.RemoveIf(viewer, s)
	s.Close()
	o.tracks.Release(s.Source)
}

// teardown closes and removes the viewer's current session, if any
func (o *Orchestrator) teardown(viewer, reason string) {
	s := o.sessions.Remove(viewer)
	if s == nil {
		return
	}
	s.Close()
	released := o.tracks.Release(s.Source)
	o.log.Info("session closed", "viewer", viewer, "source", s.Source,
		"reason", reason, "track_released", released)
}

func (o *Orchestrator) handleICE(env signal.Envelope) {
	viewer := env.SenderID
	c, err := signal.DecodeCandidate(env.Payload)
	if err != nil {
		o.log.Warn("dropping candidate", "viewer", viewer, "error", err)
		return
	}

	if s := o.sessions.Get(viewer); s != nil && s.AcceptsCandidates() {
		if err := s.AddRemoteCandidate(c.Init()); err != nil {
			o.log.Warn("remote candidate rejected", "viewer", viewer, "error", err)
		}
		return
	}
	o.ice.Enqueue(viewer, c.Init())
}

func (o *Orchestrator) handleCameraChange(env signal.Envelope) {
	viewer := env.SenderID
	source := strings.TrimSpace(env.Payload)

	if err := o.tracks.Lookup(source); err != nil {
		o.log.Warn("ignoring camera change", "viewer", viewer, "source", source, "error", err)
		return
	}

	o.targets.Store(viewer, source)
	o.ice.Discard(viewer)
	o.teardown(viewer, "camera change")
	o.log.Info("camera changed", "viewer", viewer, "source", source)
}

// targetSource is the viewer's cameraChange choice, else the default
func (o *Orchestrator) targetSource(viewer string) (string, error) {
	if v, ok := o.targets.Load(viewer); ok {
		return v.(string), nil
	}
	return o.DefaultSource()
}

// DefaultSource picks the primary source if available, else the
// provider's active source, else the first available one.
func (o *Orchestrator) DefaultSource() (string, error) {
	if o.cfg.PrimarySource != "" && o.tracks.Lookup(o.cfg.PrimarySource) == nil {
		return o.cfg.PrimarySource, nil
	}
	if active := o.provider.Active(); active != nil {
		return active.Name(), nil
	}
	if sources := o.provider.Sources(); len(sources) > 0 {
		return sources[0].Name(), nil
	}
	return "", fmt.Errorf("%w: no capture source available", track.ErrMissingResource)
}

func (o *Orchestrator) localCandidate(viewer string) func(webrtc.ICECandidateInit) {
	return func(c webrtc.ICECandidateInit) {
		o.send(signal.TypeICE, viewer, signal.EncodeCandidate(signal.CandidateFromInit(c)))
	}
}

// send drops the envelope if shutting down or not connected
func (o *Orchestrator) send(msgType, viewer, payload string) {
	if o.ctx.Err() != nil {
		return
	}
	s := o.currentSender()
	if s == nil {
		o.log.Debug("no signaling channel, dropping", "type", msgType, "viewer", viewer)
		return
	}
	if err := s.Send(msgType, viewer, payload); err != nil {
		o.log.Warn("send failed", "type", msgType, "viewer", viewer, "error", err)
	}
}

// Shutdown stops intake, closes the channel and every session, and
// disposes every track. Safe to call more than once.
func (o *Orchestrator) Shutdown() {
	if !o.shutdown.CompareAndSwap(false, true) {
		return
	}
	o.cancel()

	if c, ok := o.currentSender().(io.Closer); ok {
		if err := c.Close(); err != nil {
			o.log.Debug("closing signaling channel", "error", err)
		}
	}

	// closing sessions first unblocks steps stalled in a lane
	o.closeAll()
	o.lanes.close()
	o.closeAll()

	o.ice.Clear()
	o.targets.Range(func(k, _ any) bool {
		o.targets.Delete(k)
		return true
	})
	o.tracks.Close()

	if o.cfg.PrimarySource != "" {
		if src, err := capture.Find(o.provider, o.cfg.PrimarySource); err == nil {
			src.SetTarget(nil)
		}
	}
	o.log.Info("shutdown complete")
}

func (o *Orchestrator) closeAll() {
	for _, id := range o.sessions.IDs() {
		o.teardown(id, "shutdown")
	}
}

// Sessions returns the session registry
func (o *Orchestrator) Sessions() *peer.Registry {
	return o.sessions
}

// Tracks returns the track registrar
func (o *Orchestrator) Tracks() *track.Registrar {
	return o.tracks
}

// PendingCandidates returns the number of buffered candidates for viewer
func (o *Orchestrator) PendingCandidates(viewer string) int {
	return o.ice.Len(viewer)
}

// Target returns the viewer's recorded camera choice
func (o *Orchestrator) Target(viewer string) (string, bool) {
	v, ok := o.targets.Load(viewer)
	if !ok {
		return "", false
	}
	return v.(string), true
}
