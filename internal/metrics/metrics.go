package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Pipeline metric names
const (
	RunsTotal         = "ingest_runs_total"
	RunsSkippedLocked = "ingest_runs_skipped_locked"
	MessagesSearched  = "messages_searched_total"
	EventsAppended    = "events_appended_total"
	DuplicatesSkipped = "duplicates_skipped_total"
	NoEventMessages   = "no_event_messages_total"
	ExtractionFailed  = "extraction_failures_total"
	MarkReadFailed    = "mark_read_failures_total"
	RunDuration       = "ingest_run_duration"
)

// TimerSnapshot captures timing information for one timer
type TimerSnapshot struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	MinTimeMs     int64   `json:"min_time_ms"`
	MaxTimeMs     int64   `json:"max_time_ms"`
}

type timer struct {
	count       int64
	totalTimeMs int64
	minTimeMs   int64
	maxTimeMs   int64
}

// Metrics is the main metrics collector
type Metrics struct {
	mu        sync.RWMutex
	counters  map[string]*int64
	timers    map[string]*timer
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters:  make(map[string]*int64),
		timers:    make(map[string]*timer),
		startTime: time.Now(),
	}
}

// IncCounter increments a counter by one
func (m *Metrics) IncCounter(name string) {
	m.AddCounter(name, 1)
}

// AddCounter adds a delta to a counter
func (m *Metrics) AddCounter(name string, delta int64) {
	if m == nil {
		return
	}
	atomic.AddInt64(m.counter(name), delta)
}

// RecordTimer records one duration observation
func (m *Metrics) RecordTimer(name string, d time.Duration) {
	if m == nil {
		return
	}
	ms := d.Milliseconds()

	m.mu.Lock()
	t, ok := m.timers[name]
	if !ok {
		t = &timer{minTimeMs: ms, maxTimeMs: ms}
		m.timers[name] = t
	}
	t.count++
	t.totalTimeMs += ms
	if ms < t.minTimeMs {
		t.minTimeMs = ms
	}
	if ms > t.maxTimeMs {
		t.maxTimeMs = ms
	}
	m.mu.Unlock()
}

// Snapshot returns all metrics as a JSON-ready map
func (m *Metrics) Snapshot() map[string]interface{} {
	if m == nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		counters[name] = atomic.LoadInt64(v)
	}

	timers := make(map[string]TimerSnapshot, len(m.timers))
	for name, t := range m.timers {
		snap := TimerSnapshot{
			Count:       t.count,
			TotalTimeMs: t.totalTimeMs,
			MinTimeMs:   t.minTimeMs,
			MaxTimeMs:   t.maxTimeMs,
		}
		if t.count > 0 {
			snap.AverageTimeMs = float64(t.totalTimeMs) / float64(t.count)
		}
		timers[name] = snap
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"counters":       counters,
		"timers":         timers,
	}
}

func (m *Metrics) counter(name string) *int64 {
	m.mu.RLock()
	v, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok = m.counters[name]; ok {
		return v
	}
	v = new(int64)
	m.counters[name] = v
	return v
}
