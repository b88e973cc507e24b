package client

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Quality is the three-level connection quality signal.
type Quality string

const (
	QualityUnknown Quality = "unknown"
	QualityGood    Quality = "good"
	QualityFair    Quality = "fair"
	QualityPoor    Quality = "poor"
)

// Classification thresholds. Variability dominates: an acceptable average
// with wild swings classifies poor, not fair.
const (
	goodMeanRTT = 150 * time.Millisecond
	goodStddev  = 75 * time.Millisecond
	poorMeanRTT = 400 * time.Millisecond
	poorStddev  = 200 * time.Millisecond
)

// LatencyMonitor samples round-trip time with ping ids and derives a
// qualitative signal over a sliding window. It also counts consecutive
// heartbeats with no matching pong so a silently dead socket can be
// force-closed instead of waiting out the transport timeout.
type LatencyMonitor struct {
	clock      clockwork.Clock
	windowSize int
	missLimit  int

	mu        sync.Mutex
	nextID    uint64
	pending   map[uint64]time.Time
	samples   []time.Duration
	misses    int
}

// NewLatencyMonitor creates a monitor keeping windowSize samples and
// declaring the connection stale after missLimit unanswered heartbeats.
func NewLatencyMonitor(clock clockwork.Clock, windowSize, missLimit int) *LatencyMonitor {
	return &LatencyMonitor{
		clock:      clock,
		windowSize: windowSize,
		missLimit:  missLimit,
		pending:    make(map[uint64]time.Time),
	}
}

// NextPing allocates a monotonically increasing ping id and records its send
// time. A still-outstanding previous ping counts as a missed heartbeat.
func (m *LatencyMonitor) NextPing() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) > 0 {
		m.misses++
	}
	m.nextID++
	m.pending[m.nextID] = m.clock.Now()
	return m.nextID
}

// Pong records a matching pong. Unmatched ids are ignored.
func (m *LatencyMonitor) Pong(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sent, ok := m.pending[id]
	if !ok {
		return
	}
	delete(m.pending, id)
	m.misses = 0

	m.samples = append(m.samples, m.clock.Now().Sub(sent))
	if len(m.samples) > m.windowSize {
		m.samples = m.samples[len(m.samples)-m.windowSize:]
	}
}

// Stale reports whether enough consecutive heartbeats went unanswered that
// the socket should be force-closed to trigger reconnection.
func (m *LatencyMonitor) Stale() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.misses >= m.missLimit
}

// Quality classifies the current sample window.
func (m *LatencyMonitor) Quality() Quality {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.samples) == 0 {
		return QualityUnknown
	}

	mean, stddev := meanStddev(m.samples)
	switch {
	case mean > poorMeanRTT || stddev > poorStddev:
		return QualityPoor
	case mean < goodMeanRTT && stddev < goodStddev:
		return QualityGood
	default:
		return QualityFair
	}
}

// Reset clears pending pings and miss tracking for a fresh connection.
// Samples are kept: quality carries across a quick reconnect.
func (m *LatencyMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = make(map[uint64]time.Time)
	m.misses = 0
}

func meanStddev(samples []time.Duration) (time.Duration, time.Duration) {
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := sum / float64(len(samples))

	var sq float64
	for _, s := range samples {
		d := float64(s) - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(samples)))

	return time.Duration(mean), time.Duration(stddev)
}
