package capture

import "sync"

// StaticSource is a source whose only state is its output binding.
type StaticSource struct {
	name   string
	mu     sync.Mutex
	target *Surface
}

// NewStaticSource creates a named source with no output bound
func NewStaticSource(name string) *StaticSource {
	return &StaticSource{name: name}
}

func (s *StaticSource) Name() string { return s.name }

func (s *StaticSource) SetTarget(surface *Surface) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = surface
}

func (s *StaticSource) Target() *Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Static is a Provider over a fixed set of sources. Sources can be added
// and removed at runtime to model cameras appearing and disappearing.
type Static struct {
	mu      sync.RWMutex
	sources []*StaticSource
	active  string
}

// NewStatic creates a provider exposing the named sources. active names the
// platform default source and may be empty.
func NewStatic(names []string, active string) *Static {
	p := &Static{active: active}
	for _, name := range names {
		p.Add(name)
	}
	return p
}

// Add makes a source available. Adding an existing name is a no-op.
func (p *Static) Add(name string) *StaticSource {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sources {
		if s.name == name {
			return s
		}
	}
	s := NewStaticSource(name)
	p.sources = append(p.sources, s)
	return s
}

// Remove makes a source unavailable
func (p *Static) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.sources {
		if s.name == name {
			p.sources = append(p.sources[:i], p.sources[i+1:]...)
			return
		}
	}
}

func (p *Static) Sources() []Source {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Source, len(p.sources))
	for i, s := range p.sources {
		out[i] = s
	}
	return out
}

func (p *Static) Active() Source {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.active == "" {
		return nil
	}
	for _, s := range p.sources {
		if s.name == p.active {
			return s
		}
	}
	return nil
}
