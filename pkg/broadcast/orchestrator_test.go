package broadcast_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaslejdung/rigcast/pkg/broadcast"
	"github.com/tomaslejdung/rigcast/pkg/capture"
	"github.com/tomaslejdung/rigcast/pkg/peer"
	"github.com/tomaslejdung/rigcast/pkg/peer/peertest"
	"github.com/tomaslejdung/rigcast/pkg/signal"
	"github.com/tomaslejdung/rigcast/pkg/track"
)

func TestOfferCreatesDefaultTrackAndAnswers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "front", "front", "rear")

	f.o.Dispatch(offer("A"))
	s := f.ready(t, "A")
	f.idle(t)

	assert.Equal(t, "front", s.Source)
	require.Equal(t, 1, f.o.Tracks().Len())
	assert.Equal(t, int32(1), f.allocs.n.Load())

	conn := f.factory.Last("A")
	require.NotNil(t, conn)
	require.NotNil(t, conn.Remote())
	assert.Equal(t, "offer-from-A", conn.Remote().SDP)
	assert.Len(t, conn.Tracks(), 1)

	answers := f.answers("A")
	require.Len(t, answers, 1)
	sdp, err := signal.DecodeSDP(answers[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "answer", sdp.Type)
	assert.Equal(t, "answer-for-A", sdp.SDP)

	src := f.provider.Add("front")
	assert.Same(t, f.o.Tracks().Tracks()[0].Surface, src.Target())
}

func TestEarlyCandidatesAppliedOnceInOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "front", "front")

	f.o.Dispatch(ice("A", "c1"))
	f.o.Dispatch(ice("A", "c2"))
	f.idle(t)
	assert.Equal(t, 2, f.o.PendingCandidates("A"))
	assert.Nil(t, f.o.Sessions().Get("A"))

	f.o.Dispatch(offer("A"))
	f.ready(t, "A")
	f.idle(t)

	conn := f.factory.Last("A")
	assert.Equal(t, []string{"c1", "c2"}, conn.Candidates())
	assert.Equal(t, 0, f.o.PendingCandidates("A"))

	// later candidates go straight to the session
	f.o.Dispatch(ice("A", "c3"))
	f.idle(t)
	assert.Equal(t, []string{"c1", "c2", "c3"}, conn.Candidates())
	assert.Equal(t, 0, f.o.PendingCandidates("A"))
}

func TestViewersShareOneTrack(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "front", "front")

	f.o.Dispatch(offer("A"))
	a := f.ready(t, "A")
	f.o.Dispatch(offer("B"))
	b := f.ready(t, "B")
	f.idle(t)

	assert.NotSame(t, a, b)
	assert.Same(t, a.Track, b.Track)
	assert.Equal(t, 1, f.o.Tracks().Len())
	assert.Equal(t, int32(1), f.allocs.n.Load())
	assert.Len(t, f.answers("A"), 1)
	assert.Len(t, f.answers("B"), 1)
}

func TestCameraChangeClosesSessionAndDefersTrack(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "front", "front", "rear")

	f.o.Dispatch(offer("A"))
	a := f.ready(t, "A")
	f.o.Dispatch(offer("B"))
	f.ready(t, "B")
	frontTrack := a.Track

	f.o.Dispatch(cameraChange("A", "rear"))
	f.idle(t)

	assert.Equal(t, peer.StateClosed, a.State())
	assert.Nil(t, f.o.Sessions().Get("A"))
	target, ok := f.o.Target("A")
	require.True(t, ok)
	assert.Equal(t, "rear", target)

	// B still holds the front track and rear is not built yet
	assert.False(t, frontTrack.Disposed())
	require.Equal(t, 1, f.o.Tracks().Len())
	assert.Equal(t, "front", f.o.Tracks().Tracks()[0].Source)

	f.o.Dispatch(offer("A"))
	again := f.ready(t, "A")
	f.idle(t)
	assert.NotSame(t, a, again)
	assert.Equal(t, "rear", again.Source)
	assert.Equal(t, 2, f.o.Tracks().Len())
}

func TestCameraChangeReleasesUnreferencedTrack(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "front", "front", "rear")

	f.o.Dispatch(offer("A"))
	a := f.ready(t, "A")
	f.o.Dispatch(cameraChange("A", "rear"))
	f.idle(t)

	assert.True(t, a.Track.Disposed())
	assert.Equal(t, 0, f.o.Tracks().Len())
}

func TestCameraChangeToUnknownSourceIsIgnored(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "front", "front")

	f.o.Dispatch(offer("A"))
	a := f.ready(t, "A")
	f.o.Dispatch(cameraChange("A", "ceiling"))
	f.idle(t)

	assert.Same(t, a, f.o.Sessions().Get("A"))
	assert.Equal(t, peer.StateReady, a.State())
	_, ok := f.o.Target("A")
	assert.False(t, ok)
}

func TestDisconnectedViewersReleaseTrack(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "front", "front")

	f.o.Dispatch(offer("A"))
	a := f.ready(t, "A")
	f.o.Dispatch(offer("B"))
	f.ready(t, "B")
	surface := a.Track.Surface
	src := f.provider.Add("front")
	require.Same(t, surface, src.Target())

	f.factory.Last("A").Drop()
	require.Eventually(t, func() bool { return f.o.Sessions().Get("A") == nil }, time.Second, 5*time.Millisecond)
	f.idle(t)
	assert.False(t, a.Track.Disposed())

	f.factory.Last("B").Drop()
	require.Eventually(t, func() bool { return f.o.Sessions().Len() == 0 }, time.Second, 5*time.Millisecond)
	f.idle(t)

	assert.True(t, a.Track.Disposed())
	assert.True(t, surface.Released())
	assert.Nil(t, src.Target())
	assert.Equal(t, 0, f.o.Tracks().Len())

	// a fresh offer builds a fresh track
	f.o.Dispatch(offer("A"))
	next := f.ready(t, "A")
	assert.NotSame(t, a.Track, next.Track)
	assert.Equal(t, int32(2), f.allocs.n.Load())
}

func TestShutdownAbandonsInFlightNegotiation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "front", "front")
	entered := make(chan struct{})
	f.factory.Configure = func(c *peertest.Conn) {
		c.RemoteGate = make(chan struct{})
		c.RemoteEntered = entered
	}

	f.o.Dispatch(offer("A"))
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("negotiation never started")
	}
	s := f.o.Sessions().Get("A")
	require.NotNil(t, s)

	f.o.Shutdown()

	assert.Equal(t, peer.StateClosed, s.State())
	assert.True(t, f.factory.Last("A").Closed())
	assert.Equal(t, 0, f.o.Sessions().Len())
	assert.Equal(t, 0, f.o.Tracks().Len())
	assert.False(t, f.rec.Connected())
	assert.Empty(t, f.answers("A"))
	assert.Equal(t, 0, f.o.PendingCandidates("A"))

	// no intake after shutdown
	f.o.Dispatch(offer("B"))
	assert.Nil(t, f.o.Sessions().Get("B"))
	assert.False(t, f.o.Status().Connected)
}

func TestShutdownClosesEverySession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "front", "front", "rear")

	var sessions []*peer.Session
	for i, v := range []string{"A", "B", "C"} {
		if i == 2 {
			f.o.Dispatch(cameraChange(v, "rear"))
		}
		f.o.Dispatch(offer(v))
		sessions = append(sessions, f.ready(t, v))
	}
	require.Equal(t, 2, f.o.Tracks().Len())

	src := f.provider.Add("front")
	f.o.Shutdown()
	f.o.Shutdown()

	for _, s := range sessions {
		assert.Equal(t, peer.StateClosed, s.State())
	}
	assert.Equal(t, 0, f.o.Sessions().Len())
	assert.Equal(t, 0, f.o.Tracks().Len())
	assert.Nil(t, src.Target())
	_, ok := f.o.Target("C")
	assert.False(t, ok)
}

func TestConcurrentOffersLeaveOneLiveSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "front", "front")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.o.Dispatch(offer("A"))
		}()
	}
	wg.Wait()
	f.idle(t)

	live := 0
	for _, c := range f.factory.Conns("A") {
		if !c.Closed() {
			live++
		}
	}
	assert.Equal(t, 1, live)
	assert.Equal(t, 1, f.o.Sessions().Len())
	assert.Equal(t, peer.StateReady, f.o.Sessions().Get("A").State())
	assert.Equal(t, 1, f.o.Tracks().Len())
}

func TestOfferPreemptsStalledNegotiation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "front", "front")
	entered := make(chan struct{})
	var first atomic.Bool
	f.factory.Configure = func(c *peertest.Conn) {
		if first.CompareAndSwap(false, true) {
			c.RemoteGate = make(chan struct{})
			c.RemoteEntered = entered
		}
	}

	f.o.Dispatch(offer("A"))
	<-entered
	stalled := f.o.Sessions().Get("A")
	require.NotNil(t, stalled)

	f.o.Dispatch(offer("A"))
	s := f.ready(t, "A")
	f.idle(t)

	assert.NotSame(t, stalled, s)
	assert.Equal(t, peer.StateClosed, stalled.State())
	assert.Len(t, f.answers("A"), 1)
	assert.Equal(t, 1, f.o.Tracks().Len())
}

func TestMalformedOfferKeepsInFlightNegotiation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "front", "front")
	entered := make(chan struct{})
	gate := make(chan struct{})
	var first atomic.Bool
	f.factory.Configure = func(c *peertest.Conn) {
		if first.CompareAndSwap(false, true) {
			c.RemoteGate = gate
			c.RemoteEntered = entered
		}
	}

	f.o.Dispatch(offer("A"))
	<-entered
	inFlight := f.o.Sessions().Get("A")
	require.NotNil(t, inFlight)

	f.o.Dispatch(signal.Envelope{Type: signal.TypeOffer, SenderID: "A", Payload: "not json"})
	close(gate)

	s := f.ready(t, "A")
	f.idle(t)
	assert.Same(t, inFlight, s)
	assert.Len(t, f.answers("A"), 1)
	assert.Equal(t, 1, f.factory.Count())
}

func TestPreemptDoesNotBlockDispatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "front", "front")
	entered := make(chan struct{})
	closeGate := make(chan struct{})
	var first atomic.Bool
	f.factory.Configure = func(c *peertest.Conn) {
		if first.CompareAndSwap(false, true) {
			c.RemoteGate = make(chan struct{})
			c.RemoteEntered = entered
			c.CloseGate = closeGate
		}
	}

	f.o.Dispatch(offer("A"))
	<-entered
	stalled := f.o.Sessions().Get("A")
	require.NotNil(t, stalled)

	dispatched := make(chan struct{})
	go func() {
		f.o.Dispatch(offer("A"))
		close(dispatched)
	}()
	select {
	case <-dispatched:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on closing the preempted connection")
	}

	close(closeGate)
	s := f.ready(t, "A")
	f.idle(t)
	assert.NotSame(t, stalled, s)
	assert.Equal(t, peer.StateClosed, stalled.State())
	assert.Len(t, f.answers("A"), 1)
}

func TestNegotiationFailureReleasesTrack(t *testing.T) {
	t.Parallel()
	cases := map[string]func(*peertest.Conn){
		"remote": func(c *peertest.Conn) { c.FailRemote = peertest.ErrInjected },
		"answer": func(c *peertest.Conn) { c.FailAnswer = peertest.ErrInjected },
		"local":  func(c *peertest.Conn) { c.FailLocal = peertest.ErrInjected },
		"track":  func(c *peertest.Conn) { c.FailAddTrack = peertest.ErrInjected },
	}
	for name, configure := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, "front", "front")
			f.factory.Configure = configure

			f.o.Dispatch(offer("A"))
			f.idle(t)

			assert.Nil(t, f.o.Sessions().Get("A"))
			assert.Equal(t, 0, f.o.Tracks().Len())
			assert.Empty(t, f.answers("A"))
			assert.True(t, f.factory.Last("A").Closed())
		})
	}
}

func TestOfferWithoutSourceCreatesNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	f.o.Dispatch(offer("A"))
	f.idle(t)

	assert.Nil(t, f.o.Sessions().Get("A"))
	assert.Equal(t, 0, f.factory.Count())
	assert.Empty(t, f.rec.byType(signal.TypeAnswer))
}

func TestNewConnFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "front", "front")
	f.factory.NewErr = peertest.ErrInjected

	f.o.Dispatch(offer("A"))
	f.idle(t)

	assert.Nil(t, f.o.Sessions().Get("A"))
	assert.Equal(t, 0, f.o.Tracks().Len())
}

func TestMalformedPayloadsDropped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "front", "front")

	f.o.Dispatch(offer("A"))
	a := f.ready(t, "A")

	f.o.Dispatch(signal.Envelope{Type: signal.TypeOffer, SenderID: "A", Payload: "not json"})
	f.o.Dispatch(signal.Envelope{Type: signal.TypeICE, SenderID: "A", Payload: "{"})
	f.o.Dispatch(signal.Envelope{Type: "bogus", SenderID: "A"})
	f.o.Dispatch(signal.Envelope{Type: signal.TypeSystem, SenderID: "Server", Payload: "hello"})
	f.o.Dispatch(signal.Envelope{Type: signal.TypeOffer, Payload: signal.EncodeSDP("offer", "x")})
	f.idle(t)

	assert.Same(t, a, f.o.Sessions().Get("A"))
	assert.Equal(t, peer.StateReady, a.State())
	assert.Equal(t, 1, f.o.Sessions().Len())
}

func TestLocalCandidatesSentToViewer(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "front", "front")

	f.o.Dispatch(offer("A"))
	a := f.ready(t, "A")
	conn := f.factory.Last("A")

	conn.EmitLocal("candidate:1 1 udp 1 10.0.0.2 9 typ host")
	msgs := f.rec.byType(signal.TypeICE)
	require.Len(t, msgs, 1)
	assert.Equal(t, "A", msgs[0].To)
	c, err := signal.DecodeCandidate(msgs[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "candidate:1 1 udp 1 10.0.0.2 9 typ host", c.Candidate)
	require.NotNil(t, c.SDPMid)
	assert.Equal(t, "0", *c.SDPMid)

	a.Close()
	conn.EmitLocal("late")
	assert.Len(t, f.rec.byType(signal.TypeICE), 1)
}

func TestSendWithoutChannelDrops(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "front", "front")
	f.o.SetSender(nil)

	f.o.Dispatch(offer("A"))
	f.ready(t, "A")
	f.idle(t)
	assert.False(t, f.o.Status().Connected)

	f.rec.Close()
	f.o.SetSender(f.rec)
	f.o.Dispatch(offer("B"))
	f.ready(t, "B")
	f.idle(t)
	assert.Empty(t, f.rec.byType(signal.TypeAnswer))
}

func TestDefaultSourcePolicy(t *testing.T) {
	t.Parallel()
	newOrch := func(primary, active string, names ...string) *broadcast.Orchestrator {
		o := broadcast.New(capture.NewStatic(names, active), &peertest.Factory{}, broadcast.Config{PrimarySource: primary})
		t.Cleanup(o.Shutdown)
		return o
	}

	cases := []struct {
		name    string
		primary string
		active  string
		sources []string
		want    string
	}{
		{"primary", "rear", "front", []string{"front", "rear"}, "rear"},
		{"primary missing uses active", "ceiling", "rear", []string{"front", "rear"}, "rear"},
		{"first available", "", "", []string{"front", "rear"}, "front"},
	}
	for _, tc := range cases {
		got, err := newOrch(tc.primary, tc.active, tc.sources...).DefaultSource()
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}

	_, err := newOrch("front", "").DefaultSource()
	assert.ErrorIs(t, err, track.ErrMissingResource)
}

func TestStatusSnapshot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "front", "front")

	for i := 0; i < 3; i++ {
		f.o.Dispatch(offer(fmt.Sprintf("v%d", i)))
	}
	for i := 0; i < 3; i++ {
		f.ready(t, fmt.Sprintf("v%d", i))
	}
	f.idle(t)

	st := f.o.Status()
	assert.Equal(t, room, st.Room)
	assert.True(t, st.Connected)
	require.Len(t, st.Sessions, 3)
	assert.Equal(t, "v0", st.Sessions[0].Viewer)
	assert.Equal(t, "ready", st.Sessions[0].State)
	assert.Equal(t, "unknown", st.Sessions[0].Connection)
	require.Len(t, st.Tracks, 1)
	assert.Equal(t, 32, st.Tracks[0].Width)
	assert.Equal(t, "vp8", st.Tracks[0].Codec)
	assert.Zero(t, st.Pending)

	f.o.Dispatch(ice("late", "candidate:1"))
	f.idle(t)
	assert.Equal(t, 1, f.o.Status().Pending)
}
