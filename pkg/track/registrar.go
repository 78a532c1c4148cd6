// Package track shares one outgoing video track per capture source across
// every viewer watching that source.
package track

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"golang.org/x/sync/singleflight"

	"github.com/tomaslejdung/rigcast/pkg/capture"
)

// ErrMissingResource is returned when a requested source or track is not
// available.
var ErrMissingResource = errors.New("missing resource")

// Defaults match the capture resolution viewers expect.
const (
	DefaultWidth  = 1280
	DefaultHeight = 720
	DefaultFPS    = 30
)

// Referencer reports whether any active session still uses a source.
type Referencer interface {
	References(source string) bool
}

// SharedTrack is an outgoing track bound to exactly one capture source.
// It is owned collectively by the sessions that reference its source.
type SharedTrack struct {
	Source    string
	Codec     CodecType
	Track     *webrtc.TrackLocalStaticSample
	Surface   *capture.Surface
	FPS       int
	CreatedAt time.Time

	src      capture.Source
	disposed atomic.Bool
}

// WriteFrame sends one encoded frame to every viewer bound to the track
func (t *SharedTrack) WriteFrame(data []byte) error {
	if t.Disposed() {
		return fmt.Errorf("%w: track %s released", ErrMissingResource, t.Source)
	}
	return t.Track.WriteSample(media.Sample{
		Data:     data,
		Duration: time.Second / time.Duration(t.FPS),
	})
}

// Disposed reports whether the track has been released
func (t *SharedTrack) Disposed() bool {
	return t.disposed.Load()
}

func (t *SharedTrack) dispose() {
	if t.disposed.Swap(true) {
		return
	}
	if t.src.Target() == t.Surface {
		t.src.SetTarget(nil)
	}
	t.Surface.Release()
}

// Options configures a Registrar
type Options struct {
	Width     int
	Height    int
	FPS       int
	Codec     CodecType
	Allocator capture.Allocator
	Log       *slog.Logger
}

// Registrar maps source names to shared tracks. Creation is single-flight
// per source; release recomputes liveness by scanning the sessions.
type Registrar struct {
	provider capture.Provider
	refs     Referencer
	opts     Options
	log      *slog.Logger

	tracks sync.Map // source name -> *SharedTrack
	locks  sync.Map // source name -> *sync.Mutex
	group  singleflight.Group
}

// NewRegistrar creates a registrar over provider. refs is consulted on
// every Release.
func NewRegistrar(provider capture.Provider, refs Referencer, opts Options) *Registrar {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	if opts.Codec == "" {
		opts.Codec = CodecVP8
	}
	if opts.Allocator == nil {
		opts.Allocator = capture.NewSurface
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Registrar{
		provider: provider,
		refs:     refs,
		opts:     opts,
		log:      log.With("component", "track-registrar"),
	}
}

func (r *Registrar) lock(name string) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(name, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (r *Registrar) cached(name string) (*SharedTrack, bool) {
	v, ok := r.tracks.Load(name)
	if !ok {
		return nil, false
	}
	t := v.(*SharedTrack)
	if t.Disposed() {
		return nil, false
	}
	return t, true
}

// Lookup checks that a source is available without creating anything.
func (r *Registrar) Lookup(name string) error {
	if _, err := capture.Find(r.provider, name); err != nil {
		return fmt.Errorf("%w: %w", ErrMissingResource, err)
	}
	return nil
}

// Resolve returns the shared track for name, creating it on first use.
// Concurrent first resolutions of the same name share one creation.
func (r *Registrar) Resolve(name string) (*SharedTrack, error) {
	if t, ok := r.cached(name); ok {
		return t, nil
	}

	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		mu := r.lock(name)
		mu.Lock()
		defer mu.Unlock()

		if t, ok := r.cached(name); ok {
			return t, nil
		}
		return r.create(name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SharedTrack), nil
}

// create must be called with the source lock held
func (r *Registrar) create(name string) (*SharedTrack, error) {
	src, err := capture.Find(r.provider, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingResource, err)
	}

	surface, err := r.opts.Allocator(r.opts.Width, r.opts.Height)
	if err != nil {
		return nil, fmt.Errorf("allocate surface for %s: %w", name, err)
	}

	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: r.opts.Codec.MimeType()},
		"video",
		"rigcast-"+name,
	)
	if err != nil {
		surface.Release()
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}

	src.SetTarget(surface)

	t := &SharedTrack{
		Source:    name,
		Codec:     r.opts.Codec,
		Track:     local,
		Surface:   surface,
		FPS:       r.opts.FPS,
		CreatedAt: time.Now(),
		src:       src,
	}
	r.tracks.Store(name, t)
	r.log.Info("shared track created", "source", name,
		"width", r.opts.Width, "height", r.opts.Height, "codec", string(r.opts.Codec))
	return t, nil
}

// Attach runs register while holding t's source lock, provided t is still
// the live cached track for its source. Release takes the same lock, so a
// reference added by register is seen by any later Release. It reports
// false, without calling register, once t has been disposed.
func (r *Registrar) Attach(t *SharedTrack, register func()) bool {
	mu := r.lock(t.Source)
	mu.Lock()
	defer mu.Unlock()

	if cur, ok := r.cached(t.Source); !ok || cur != t {
		return false
	}
	register()
	return true
}

// Release disposes the track for name if no active session references
// the source any more. It reports whether a track was disposed.
func (r *Registrar) Release(name string) bool {
	mu := r.lock(name)
	mu.Lock()
	defer mu.Unlock()

	if r.refs != nil && r.refs.References(name) {
		return false
	}

	v, ok := r.tracks.LoadAndDelete(name)
	if !ok {
		return false
	}
	v.(*SharedTrack).dispose()
	r.log.Info("shared track released", "source", name)
	return true
}

// Tracks returns the live tracks sorted by source name
func (r *Registrar) Tracks() []*SharedTrack {
	var out []*SharedTrack
	r.tracks.Range(func(_, v any) bool {
		out = append(out, v.(*SharedTrack))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Len returns the number of cached tracks
func (r *Registrar) Len() int {
	n := 0
	r.tracks.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close disposes every cached track regardless of references.
func (r *Registrar) Close() {
	r.tracks.Range(func(k, _ any) bool {
		name := k.(string)
		mu := r.lock(name)
		mu.Lock()
		if v, ok := r.tracks.LoadAndDelete(name); ok {
			v.(*SharedTrack).dispose()
		}
		mu.Unlock()
		return true
	})
}
