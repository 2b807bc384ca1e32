package monitor

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fakeResetter struct{ resets int }

func (f *fakeResetter) Reset() { f.resets++ }

func TestCheckRecordsSamples(t *testing.T) {
	m := New(time.Hour, 4*time.Hour, nil, testLog())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return now }
	m.startedAt = now
	m.lastReset = now

	m.Check()
	now = now.Add(time.Hour)
	m.Check()

	hist := m.History()
	require.Len(t, hist, 2)
	assert.NotZero(t, hist[0].HeapAlloc)
	assert.NotZero(t, hist[0].Goroutines)

	info := m.Summary()
	assert.Equal(t, 2, info.Checks)
	assert.Equal(t, 0, info.Resets)
	assert.Equal(t, int64(3600), info.UptimeSeconds)
	assert.GreaterOrEqual(t, info.PeakHeapAlloc, hist[0].HeapAlloc)
}

func TestDeepResetFiresAfterInterval(t *testing.T) {
	r := &fakeResetter{}
	m := New(time.Hour, 4*time.Hour, r, testLog())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return now }
	m.startedAt = now
	m.lastReset = now

	for i := 0; i < 3; i++ {
		now = now.Add(time.Hour)
		m.Check()
	}
	assert.Equal(t, 0, r.resets, "reset must not fire before the interval")

	now = now.Add(time.Hour) // 4h elapsed
	m.Check()
	assert.Equal(t, 1, r.resets)
	assert.Equal(t, 1, m.Summary().Resets)

	// The interval restarts from the reset.
	now = now.Add(time.Hour)
	m.Check()
	assert.Equal(t, 1, r.resets)
}

func TestHistoryIsBounded(t *testing.T) {
	m := New(time.Hour, 1000*time.Hour, nil, testLog())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return now }
	m.startedAt = now
	m.lastReset = now

	for i := 0; i < historySize+20; i++ {
		now = now.Add(time.Minute)
		m.Check()
	}
	assert.Len(t, m.History(), historySize)
	assert.Equal(t, historySize+20, m.Summary().Checks)
}
