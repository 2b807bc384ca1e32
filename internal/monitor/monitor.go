package monitor

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const historySize = 100

// Resetter is invalidated when the periodic deep reset fires; the storage
// gateway implements it.
type Resetter interface {
	Reset()
}

// Sample is one memory observation.
type Sample struct {
	At         time.Time `json:"at"`
	HeapAlloc  uint64    `json:"heap_alloc"`
	HeapInuse  uint64    `json:"heap_inuse"`
	Sys        uint64    `json:"sys"`
	Goroutines int       `json:"goroutines"`
	NumGC      uint32    `json:"num_gc"`
}

// SummaryInfo is the monitor's state for the ops surface.
type SummaryInfo struct {
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Current       Sample    `json:"current"`
	PeakHeapAlloc uint64    `json:"peak_heap_alloc"`
	Checks        int       `json:"checks"`
	Resets        int       `json:"resets"`
	LastReset     time.Time `json:"last_reset,omitempty"`
}

// Monitor samples process memory on an interval and periodically forces a
// deep reset: GC, memory release, and cached-connection invalidation.
type Monitor struct {
	interval      time.Duration
	resetInterval time.Duration
	resetter      Resetter
	log           *logrus.Entry

	Now func() time.Time

	mu        sync.Mutex
	startedAt time.Time
	lastReset time.Time
	history   []Sample
	peak      uint64
	checks    int
	resets    int
}

func New(interval, resetInterval time.Duration, resetter Resetter, log *logrus.Entry) *Monitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if resetInterval <= 0 {
		resetInterval = 4 * time.Hour
	}
	return &Monitor{
		interval:      interval,
		resetInterval: resetInterval,
		resetter:      resetter,
		log:           log,
		Now:           time.Now,
	}
}

// Run blocks until ctx is canceled, checking on every tick.
func (m *Monitor) Run(ctx context.Context) {
	now := m.Now()
	m.mu.Lock()
	m.startedAt = now
	m.lastReset = now
	m.mu.Unlock()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check takes one sample and fires the deep reset when it is due.
func (m *Monitor) Check() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	now := m.Now()

	s := Sample{
		At:         now,
		HeapAlloc:  ms.HeapAlloc,
		HeapInuse:  ms.HeapInuse,
		Sys:        ms.Sys,
		Goroutines: runtime.NumGoroutine(),
		NumGC:      ms.NumGC,
	}

	m.mu.Lock()
	m.checks++
	m.history = append(m.history, s)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
	if s.HeapAlloc > m.peak {
		m.peak = s.HeapAlloc
	}
	due := now.Sub(m.lastReset) >= m.resetInterval
	uptime := now.Sub(m.startedAt)
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"heap_alloc": s.HeapAlloc,
		"heap_inuse": s.HeapInuse,
		"sys":        s.Sys,
		"goroutines": s.Goroutines,
		"num_gc":     s.NumGC,
		"uptime":     uptime.Round(time.Second).String(),
	}).Info("memory check")

	if due {
		m.reset(now)
	}
}

func (m *Monitor) reset(now time.Time) {
	runtime.GC()
	debug.FreeOSMemory()
	if m.resetter != nil {
		m.resetter.Reset()
	}

	m.mu.Lock()
	m.resets++
	m.lastReset = now
	m.mu.Unlock()

	m.log.Info("deep reset: forced GC, released memory, invalidated cached connections")
}

func (m *Monitor) Summary() SummaryInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	info := SummaryInfo{
		StartedAt:     m.startedAt,
		UptimeSeconds: int64(now.Sub(m.startedAt).Seconds()),
		PeakHeapAlloc: m.peak,
		Checks:        m.checks,
		Resets:        m.resets,
		LastReset:     m.lastReset,
	}
	if len(m.history) > 0 {
		info.Current = m.history[len(m.history)-1]
	}
	return info
}

func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.history))
	copy(out, m.history)
	return out
}
