// Package peertest provides in-memory negotiation primitives for tests.
package peertest

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/tomaslejdung/rigcast/pkg/peer"
)

// ErrInjected is a ready-made failure for Conn hooks
var ErrInjected = errors.New("injected failure")

// Conn records every call made on it. Failure fields make the matching
// call fail; RemoteGate, when set, blocks SetRemoteDescription until it is
// closed or the conn is closed.
type Conn struct {
	Viewer string

	FailAddTrack error
	FailRemote   error
	FailAnswer   error
	FailLocal    error
	FailICE      error
	RemoteGate   chan struct{}

	// RemoteEntered, when set, is closed as SetRemoteDescription starts
	RemoteEntered chan struct{}

	// CloseGate, when set, blocks Close until it is closed
	CloseGate chan struct{}

	mu         sync.Mutex
	tracks     []webrtc.TrackLocal
	remote     *webrtc.SessionDescription
	local      *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	onLocal    func(webrtc.ICECandidateInit)
	onDown     func()
	closed     bool
	closedCh   chan struct{}
}

var _ peer.Conn = (*Conn)(nil)

// NewConn creates a conn for viewer
func NewConn(viewer string) *Conn {
	return &Conn{Viewer: viewer, closedCh: make(chan struct{})}
}

func (c *Conn) AddTrack(t webrtc.TrackLocal) error {
	if c.FailAddTrack != nil {
		return c.FailAddTrack
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, t)
	return nil
}

func (c *Conn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if c.RemoteEntered != nil {
		close(c.RemoteEntered)
	}
	if c.RemoteGate != nil {
		select {
		case <-c.RemoteGate:
		case <-c.closedCh:
			return errors.New("peer connection closed")
		}
	}
	if c.FailRemote != nil {
		return c.FailRemote
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = &desc
	return nil
}

func (c *Conn) CreateAnswer() (webrtc.SessionDescription, error) {
	if c.FailAnswer != nil {
		return webrtc.SessionDescription{}, c.FailAnswer
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-for-" + c.Viewer}, nil
}

func (c *Conn) SetLocalDescription(desc webrtc.SessionDescription) error {
	if c.FailLocal != nil {
		return c.FailLocal
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = &desc
	return nil
}

func (c *Conn) LocalDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Conn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if c.FailICE != nil {
		return c.FailICE
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *Conn) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLocal = fn
}

func (c *Conn) Close() error {
	if c.CloseGate != nil {
		<-c.CloseGate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}

func (c *Conn) OnDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDown = fn
}

// Drop simulates the viewer going away
func (c *Conn) Drop() {
	c.mu.Lock()
	fn := c.onDown
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// EmitLocal fires the registered local-candidate callback
func (c *Conn) EmitLocal(candidate string) {
	c.mu.Lock()
	fn := c.onLocal
	c.mu.Unlock()
	if fn == nil {
		return
	}
	mid := "0"
	var index uint16
	fn(webrtc.ICECandidateInit{Candidate: candidate, SDPMid: &mid, SDPMLineIndex: &index})
}

// Tracks returns the attached tracks
func (c *Conn) Tracks() []webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), c.tracks...)
}

// Remote returns the applied remote description, or nil
func (c *Conn) Remote() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// Candidates returns the remote candidates applied so far, in order
func (c *Conn) Candidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.candidates))
	for i, cand := range c.candidates {
		out[i] = cand.Candidate
	}
	return out
}

// Closed reports whether Close was called
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Factory hands out Conns and keeps every one it created.
type Factory struct {
	// Configure, when set, runs on each new conn before it is returned
	Configure func(*Conn)
	NewErr    error

	mu    sync.Mutex
	conns []*Conn
}

var _ peer.Factory = (*Factory)(nil)

func (f *Factory) NewConn(viewer string) (peer.Conn, error) {
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	c := NewConn(viewer)
	if f.Configure != nil {
		f.Configure(c)
	}
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c, nil
}

// Conns returns every conn created for viewer, oldest first
func (f *Factory) Conns(viewer string) []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Conn
	for _, c := range f.conns {
		if c.Viewer == viewer {
			out = append(out, c)
		}
	}
	return out
}

// Last returns the newest conn for viewer, or nil
func (f *Factory) Last(viewer string) *Conn {
	conns := f.Conns(viewer)
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

// Count returns the number of conns created
func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}
