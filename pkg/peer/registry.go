package peer

import (
	"sort"
	"sync"
)

// slot holds the session for one viewer. A dead slot has been unlinked
// from the registry and must not be reused.
type slot struct {
	mu      sync.Mutex
	session *Session
	dead    bool
}

// Registry maps viewer ids to their live session. Every operation is
// atomic for its key; there is no registry-wide lock.
type Registry struct {
	slots sync.Map // viewer id -> *slot
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Put closes and removes any prior session for id, then inserts s. The
// prior session is returned so the caller can release what it referenced.
func (r *Registry) Put(id string, s *Session) *Session {
	for {
		v, _ := r.slots.LoadOrStore(id, &slot{})
		sl := v.(*slot)

		sl.mu.Lock()
		if sl.dead {
			sl.mu.Unlock()
			continue
		}
		prev := sl.session
		if prev != nil {
			prev.Close()
		}
		sl.session = s
		sl.mu.Unlock()
		return prev
	}
}

func (r *Registry) take(id string, match func(*Session) bool) *Session {
	v, ok := r.slots.Load(id)
	if !ok {
		return nil
	}
	sl := v.(*slot)

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.dead || sl.session == nil || !match(sl.session) {
		return nil
	}
	prev := sl.session
	sl.session = nil
	sl.dead = true
	r.slots.CompareAndDelete(id, sl)
	return prev
}

// Remove deletes and returns the session for id, or nil.
func (r *Registry) Remove(id string) *Session {
	return r.take(id, func(*Session) bool { return true })
}

// RemoveIf deletes the session for id only if it is s.
func (r *Registry) RemoveIf(id string, s *Session) bool {
	return r.take(id, func(cur *Session) bool { return cur == s }) != nil
}

// Get returns the session for id, or nil
func (r *Registry) Get(id string) *Session {
	v, ok := r.slots.Load(id)
	if !ok {
		return nil
	}
	sl := v.(*slot)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.dead {
		return nil
	}
	return sl.session
}

// Range calls fn for every registered session until fn returns false
func (r *Registry) Range(fn func(id string, s *Session) bool) {
	r.slots.Range(func(k, v any) bool {
		sl := v.(*slot)
		sl.mu.Lock()
		s := sl.session
		sl.mu.Unlock()
		if s == nil {
			return true
		}
		return fn(k.(string), s)
	})
}

// IDs returns a sorted snapshot of the registered viewer ids
func (r *Registry) IDs() []string {
	var ids []string
	r.Range(func(id string, _ *Session) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	n := 0
	r.Range(func(string, *Session) bool {
		n++
		return true
	})
	return n
}

// References reports whether any non-closed session uses source.
func (r *Registry) References(source string) bool {
	found := false
	r.Range(func(_ string, s *Session) bool {
		if s.Source == source && s.State() != StateClosed {
			found = true
			return false
		}
		return true
	})
	return found
}
