package playout

import (
	"sync"
	"time"
)

// Stats are running counters of a playout session.
type Stats struct {
	ClipsStarted   int64 `json:"clips_started"`
	ClipBuffers    int64 `json:"clip_buffers"`
	LiveBuffers    int64 `json:"live_buffers"`
	DroppedBuffers int64 `json:"dropped_buffers"`
	LiveSwitches   int64 `json:"live_switches"`
	ResumeChecks   int64 `json:"resume_checks"`
	ResumeRestarts int64 `json:"resume_restarts"`
}

// ItemView is the API form of an Item, with times in seconds.
type ItemView struct {
	Index  int       `json:"index"`
	Source string    `json:"source"`
	Seek   float64   `json:"seek"`
	Out    float64   `json:"out"`
	Length float64   `json:"length"`
	Begin  time.Time `json:"begin,omitzero"`
	Filler bool      `json:"filler,omitempty"`
}

func viewOf(it *Item) *ItemView {
	return &ItemView{
		Index:  it.Index,
		Source: it.Source,
		Seek:   it.Seek.Seconds(),
		Out:    it.Out.Seconds(),
		Length: it.Length().Seconds(),
		Begin:  it.Begin,
		Filler: it.Filler,
	}
}

// Snapshot is a point-in-time copy of the playout state for the control API.
type Snapshot struct {
	Mode           string    `json:"mode"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	Current        *ItemView `json:"current,omitempty"`
	LiveActive     bool      `json:"live_active"`
	EncoderRunning bool      `json:"encoder_running"`
	IngestEnabled  bool      `json:"ingest_enabled"`
	IngestRunning  bool      `json:"ingest_running"`
	IngestRestarts int64     `json:"ingest_restarts"`
	QueueDepth     int       `json:"queue_depth"`
	Stats          Stats     `json:"stats"`
}

// Status is the concurrency-safe store the player writes and the control
// API reads. Writers are the player loop only.
type Status struct {
	mu         sync.RWMutex
	mode       Mode
	startedAt  time.Time
	current    *Item
	liveActive bool
	stats      Stats
}

// NewStatus returns an empty status store for mode.
func NewStatus(mode Mode) *Status {
	return &Status{mode: mode}
}

func (s *Status) setStarted(t time.Time) {
	s.mu.Lock()
	s.startedAt = t
	s.mu.Unlock()
}

func (s *Status) setCurrent(item *Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item == nil {
		s.current = nil
		return
	}
	cp := *item
	s.current = &cp
}

func (s *Status) setLive(active bool) {
	s.mu.Lock()
	s.liveActive = active
	s.mu.Unlock()
}

func (s *Status) update(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}

// Stats returns a copy of the counters.
func (s *Status) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Snapshot returns the store's part of a Snapshot. Process liveness is
// filled in by the Player.
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Mode:       s.mode.String(),
		StartedAt:  s.startedAt,
		LiveActive: s.liveActive,
		Stats:      s.stats,
	}
	if s.current != nil {
		snap.Current = viewOf(s.current)
	}
	return snap
}
