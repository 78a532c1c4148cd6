// Package peer holds the per-viewer WebRTC sessions of a broadcaster: the
// negotiation state machine, the viewer registry and the buffer for remote
// ICE candidates that arrive before their offer.
package peer

import (
	"github.com/pion/webrtc/v3"
)

// Conn is the set of negotiation primitives a Session drives.
type Conn interface {
	// AddTrack attaches an outgoing track in send-only direction
	AddTrack(t webrtc.TrackLocal) error

	SetRemoteDescription(desc webrtc.SessionDescription) error
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error

	// LocalDescription returns the current local description, or nil
	LocalDescription() *webrtc.SessionDescription

	AddICECandidate(c webrtc.ICECandidateInit) error

	// OnLocalCandidate registers the callback fired for every locally
	// gathered candidate. It may fire from any goroutine.
	OnLocalCandidate(fn func(webrtc.ICECandidateInit))

	Close() error
}

// Factory creates a Conn per viewer.
type Factory interface {
	NewConn(viewer string) (Conn, error)
}

// disconnectReporter is implemented by conns that notice when the remote
// side goes away.
type disconnectReporter interface {
	OnDisconnect(fn func())
}

// linkReporter is implemented by conns that can describe the established
// transport.
type linkReporter interface {
	LinkState() string
	ConnectionType() string
}
