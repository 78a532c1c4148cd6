package peer

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"
)

// IceBuffer queues remote candidates per viewer until the viewer's session
// has its remote description.
type IceBuffer struct {
	mu     sync.Mutex
	queues map[string][]webrtc.ICECandidateInit
}

// NewIceBuffer creates an empty buffer
func NewIceBuffer() *IceBuffer {
	return &IceBuffer{queues: make(map[string][]webrtc.ICECandidateInit)}
}

// Enqueue appends c to the viewer's queue
func (b *IceBuffer) Enqueue(viewer string, c webrtc.ICECandidateInit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[viewer] = append(b.queues[viewer], c)
}

// take removes and returns the viewer's queue
func (b *IceBuffer) take(viewer string) []webrtc.ICECandidateInit {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[viewer]
	delete(b.queues, viewer)
	return q
}

// DrainInto applies the viewer's queued candidates to s in arrival order
// and clears the queue. Failed candidates are skipped; their errors are
// joined into the returned error.
func (b *IceBuffer) DrainInto(viewer string, s *Session) (int, error) {
	var errs []error
	applied := 0
	for _, c := range b.take(viewer) {
		if err := s.AddRemoteCandidate(c); err != nil {
			errs = append(errs, err)
			continue
		}
		applied++
	}
	return applied, errors.Join(errs...)
}

// Len returns the number of candidates queued for viewer
func (b *IceBuffer) Len(viewer string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[viewer])
}

// Viewers returns the number of viewers with queued candidates
func (b *IceBuffer) Viewers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues)
}

// Discard drops the viewer's queue
func (b *IceBuffer) Discard(viewer string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, viewer)
}

// Clear drops every queue
func (b *IceBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues = make(map[string][]webrtc.ICECandidateInit)
}
