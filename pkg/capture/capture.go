// Package capture describes the capture sources a broadcaster can stream
// and the render surfaces they draw into.
package capture

import (
	"errors"
	"fmt"
	"image"
	"sync"
)

// ErrSourceNotFound is returned when a named source is not available.
var ErrSourceNotFound = errors.New("capture source not found")

// Source is a named producer of video frames. A source renders into at
// most one output surface at a time.
type Source interface {
	Name() string

	// SetTarget binds the surface frames are rendered into. nil detaches.
	SetTarget(s *Surface)

	// Target returns the currently bound surface, or nil.
	Target() *Surface
}

// Provider enumerates the capture sources currently available.
type Provider interface {
	// Sources returns the available sources in a stable order
	Sources() []Source

	// Active returns the platform's default active source, or nil
	Active() Source
}

// Allocator allocates render surfaces.
type Allocator func(width, height int) (*Surface, error)

// Surface is an RGBA render target of fixed size.
type Surface struct {
	Width  int
	Height int

	mu       sync.Mutex
	img      *image.RGBA
	released bool
}

// NewSurface allocates a surface of the given size
func NewSurface(width, height int) (*Surface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid surface size %dx%d", width, height)
	}
	return &Surface{
		Width:  width,
		Height: height,
		img:    image.NewRGBA(image.Rect(0, 0, width, height)),
	}, nil
}

// Image returns the backing image, or nil once released
func (s *Surface) Image() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img
}

// Release frees the backing image. Safe to call more than once.
func (s *Surface) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = nil
	s.released = true
}

// Released reports whether Release has been called
func (s *Surface) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Find returns the source called name from p.
func Find(p Provider, name string) (Source, error) {
	for _, src := range p.Sources() {
		if src.Name() == name {
			return src, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
}
