package broadcast_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomaslejdung/rigcast/pkg/broadcast"
	"github.com/tomaslejdung/rigcast/pkg/capture"
	"github.com/tomaslejdung/rigcast/pkg/peer"
	"github.com/tomaslejdung/rigcast/pkg/peer/peertest"
	"github.com/tomaslejdung/rigcast/pkg/signal"
	"github.com/tomaslejdung/rigcast/pkg/track"
)

const room = "UNITY-1"

type sent struct {
	Type    string
	To      string
	Payload string
}

// recorder is an in-memory Sender
type recorder struct {
	mu     sync.Mutex
	msgs   []sent
	closed bool
}

func (r *recorder) Send(msgType, receiverID, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return signal.ErrNotConnected
	}
	r.msgs = append(r.msgs, sent{Type: msgType, To: receiverID, Payload: payload})
	return nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorder) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

func (r *recorder) byType(msgType string) []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sent
	for _, m := range r.msgs {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

type allocCounter struct {
	n atomic.Int32
}

func (a *allocCounter) alloc(w, h int) (*capture.Surface, error) {
	a.n.Add(1)
	return capture.NewSurface(w, h)
}

type fixture struct {
	o        *broadcast.Orchestrator
	factory  *peertest.Factory
	provider *capture.Static
	rec      *recorder
	allocs   *allocCounter
}

func newFixture(t *testing.T, primary string, sources ...string) *fixture {
	t.Helper()
	f := &fixture{
		factory:  &peertest.Factory{},
		provider: capture.NewStatic(sources, ""),
		rec:      &recorder{},
		allocs:   &allocCounter{},
	}
	f.o = broadcast.New(f.provider, f.factory, broadcast.Config{
		PrimarySource: primary,
		Room:          room,
		Tracks:        track.Options{Width: 32, Height: 18, Allocator: f.allocs.alloc},
	})
	f.o.SetSender(f.rec)
	t.Cleanup(f.o.Shutdown)
	return f
}

func offer(viewer string) signal.Envelope {
	return signal.Envelope{
		Type:       signal.TypeOffer,
		SenderID:   viewer,
		SenderType: signal.RoleViewer,
		ReceiverID: room,
		Payload:    signal.EncodeSDP(signal.TypeOffer, "offer-from-"+viewer),
	}
}

func ice(viewer, candidate string) signal.Envelope {
	mid := "0"
	var index uint16
	return signal.Envelope{
		Type:       signal.TypeICE,
		SenderID:   viewer,
		SenderType: signal.RoleViewer,
		ReceiverID: room,
		Payload:    signal.EncodeCandidate(signal.Candidate{Candidate: candidate, SDPMid: &mid, SDPMLineIndex: &index}),
	}
}

func cameraChange(viewer, source string) signal.Envelope {
	return signal.Envelope{
		Type:       signal.TypeCameraChange,
		SenderID:   viewer,
		SenderType: signal.RoleViewer,
		ReceiverID: room,
		Payload:    source,
	}
}

// idle waits until no viewer has queued work
func (f *fixture) idle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return f.o.Status().Busy == 0 }, 2*time.Second, 5*time.Millisecond)
}

func (f *fixture) ready(t *testing.T, viewer string) *peer.Session {
	t.Helper()
	var s *peer.Session
	require.Eventually(t, func() bool {
		s = f.o.Sessions().Get(viewer)
		return s != nil && s.State() == peer.StateReady
	}, 2*time.Second, 5*time.Millisecond)
	return s
}

func (f *fixture) answers(viewer string) []sent {
	var out []sent
	for _, m := range f.rec.byType(signal.TypeAnswer) {
		if m.To == viewer {
			out = append(out, m)
		}
	}
	return out
}
