package peer

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/tomaslejdung/rigcast/pkg/track"
)

// State is the negotiation state of a Session
type State int

const (
	StateCreated State = iota
	StateRemoteSet
	StateAnswerCreated
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRemoteSet:
		return "remote-set"
	case StateAnswerCreated:
		return "answer-created"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Negotiation steps, as reported in NegotiationError.Step
const (
	StepAddTrack     = "add-track"
	StepRemoteOffer  = "set-remote-description"
	StepCreateAnswer = "create-answer"
	StepLocalAnswer  = "set-local-description"
	StepRemoteICE    = "add-ice-candidate"
	StepNewConn      = "new-peer-connection"
)

// Session is one negotiated media session for a viewer. It is bound to its
// viewer and source for life and cannot be reused once closed.
type Session struct {
	Viewer    string
	Source    string
	Track     *track.SharedTrack
	CreatedAt time.Time

	conn Conn

	mu     sync.Mutex
	state  State
	answer webrtc.SessionDescription
	done   chan struct{}

	lostOnce sync.Once
	lost     chan struct{}
}

// NewSession attaches t to conn send-only and registers onLocal for every
// locally gathered candidate until the session closes. On error conn is
// closed.
func NewSession(viewer string, conn Conn, t *track.SharedTrack, onLocal func(webrtc.ICECandidateInit)) (*Session, error) {
	s := &Session{
		Viewer:    viewer,
		Source:    t.Source,
		Track:     t,
		CreatedAt: time.Now(),
		conn:      conn,
		state:     StateCreated,
		done:      make(chan struct{}),
		lost:      make(chan struct{}),
	}

	if err := conn.AddTrack(t.Track); err != nil {
		conn.Close()
		return nil, &NegotiationError{Viewer: viewer, Step: StepAddTrack, Err: err}
	}

	conn.OnLocalCandidate(func(c webrtc.ICECandidateInit) {
		if s.State() == StateClosed || onLocal == nil {
			return
		}
		onLocal(c)
	})
	if dr, ok := conn.(disconnectReporter); ok {
		dr.OnDisconnect(func() {
			s.lostOnce.Do(func() { close(s.lost) })
		})
	}
	return s, nil
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session closes
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Lost is closed when the transport reports the viewer gone
func (s *Session) Lost() <-chan struct{} {
	return s.lost
}

// advance runs fn for the transition from -> to. The conn call runs without
// the session lock held so Close can interrupt a stalled step; a step that
// completes after Close reports ErrClosed. A failed step closes the session.
func (s *Session) advance(from, to State, step string, fn func() error) error {
	s.mu.Lock()
	cur := s.state
	s.mu.Unlock()
	if cur == StateClosed {
		return ErrClosed
	}
	if cur != from {
		return fmt.Errorf("%w: %s -> %s while %s", ErrInvalidTransition, from, to, cur)
	}

	err := fn()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		s.mu.Unlock()
		s.Close()
		return &NegotiationError{Viewer: s.Viewer, Step: step, Err: err}
	}
	s.state = to
	s.mu.Unlock()
	return nil
}

// ApplyOffer sets the viewer's offer as remote description:
// Created -> RemoteSet.
func (s *Session) ApplyOffer(sdp string) error {
	return s.advance(StateCreated, StateRemoteSet, StepRemoteOffer, func() error {
		return s.conn.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  sdp,
		})
	})
}

// CreateAnswer creates the answer: RemoteSet -> AnswerCreated.
func (s *Session) CreateAnswer() error {
	return s.advance(StateRemoteSet, StateAnswerCreated, StepCreateAnswer, func() error {
		answer, err := s.conn.CreateAnswer()
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.answer = answer
		s.mu.Unlock()
		return nil
	})
}

// Commit applies the answer as local description: AnswerCreated -> Ready.
func (s *Session) Commit() error {
	return s.advance(StateAnswerCreated, StateReady, StepLocalAnswer, func() error {
		s.mu.Lock()
		answer := s.answer
		s.mu.Unlock()
		return s.conn.SetLocalDescription(answer)
	})
}

// LocalDescription returns the final local SDP
func (s *Session) LocalDescription() string {
	if desc := s.conn.LocalDescription(); desc != nil {
		return desc.SDP
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answer.SDP
}

// AcceptsCandidates reports whether remote candidates can be applied now
func (s *Session) AcceptsCandidates() bool {
	st := s.State()
	return st >= StateRemoteSet && st != StateClosed
}

// AddRemoteCandidate applies a remote ICE candidate. The remote
// description must already be set.
func (s *Session) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	switch st := s.State(); {
	case st == StateClosed:
		return ErrClosed
	case st < StateRemoteSet:
		return ErrNotReady
	}
	if err := s.conn.AddICECandidate(c); err != nil {
		return &NegotiationError{Viewer: s.Viewer, Step: StepRemoteICE, Err: err}
	}
	return nil
}

// Link describes the transport once connected
func (s *Session) Link() (state, kind string) {
	if lr, ok := s.conn.(linkReporter); ok {
		return lr.LinkState(), lr.ConnectionType()
	}
	return "unknown", "unknown"
}

// Close moves the session to Closed and releases the peer connection.
// Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	close(s.done)
	s.mu.Unlock()

	return s.conn.Close()
}
