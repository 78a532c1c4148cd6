package broadcast

import (
	"time"
)

// SessionStatus describes one viewer's session
type SessionStatus struct {
	Viewer     string
	Source     string
	State      string
	Link       string
	Connection string // "direct", "relay" or "unknown"
	Since      time.Time
}

// TrackStatus describes one shared track
type TrackStatus struct {
	Source string
	Codec  string
	Width  int
	Height int
	Since  time.Time
}

// Status is a point-in-time snapshot for display
type Status struct {
	Room      string
	Connected bool
	Sessions  []SessionStatus
	Tracks    []TrackStatus
	Busy      int // viewers with queued work
	Pending   int // viewers with buffered remote candidates
}

type connectedReporter interface {
	Connected() bool
}

// Status returns a snapshot of sessions and tracks
func (o *Orchestrator) Status() Status {
	st := Status{Room: o.cfg.Room, Busy: o.lanes.active(), Pending: o.ice.Viewers()}
	if c, ok := o.currentSender().(connectedReporter); ok {
		st.Connected = c.Connected()
	} else {
		st.Connected = o.currentSender() != nil
	}
	if o.shutdown.Load() {
		st.Connected = false
	}

	for _, id := range o.sessions.IDs() {
		s := o.sessions.Get(id)
		if s == nil {
			continue
		}
		link, kind := s.Link()
		st.Sessions = append(st.Sessions, SessionStatus{
			Viewer:     id,
			Source:     s.Source,
			State:      s.State().String(),
			Link:       link,
			Connection: kind,
			Since:      s.CreatedAt,
		})
	}

	for _, t := range o.tracks.Tracks() {
		ts := TrackStatus{Source: t.Source, Codec: string(t.Codec), Since: t.CreatedAt}
		if t.Surface != nil {
			ts.Width, ts.Height = t.Surface.Width, t.Surface.Height
		}
		st.Tracks = append(st.Tracks, ts)
	}
	return st
}
