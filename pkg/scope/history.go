package scope

import (
	"sync"
	"time"

	"github.com/itohio/goapwm/pkg/control"
)

// Point is one trend sample.
type Point struct {
	At         time.Time
	DutyCycle  float32
	Efficiency float32
	Faulted    bool
}

// History keeps the points of the last window, oldest first.
// Removal is by timestamp, not by count.
type History struct {
	mu     sync.RWMutex
	window time.Duration
	points []Point
}

// NewHistory creates a History covering window.
func NewHistory(window time.Duration) *History {
	return &History{
		window: window,
		points: make([]Point, 0, 256),
	}
}

// Add appends a snapshot. Snapshots without a timestamp or older than the
// newest point are ignored.
func (h *History) Add(s control.Snapshot) {
	if s.At.IsZero() {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.points); n > 0 && s.At.Before(h.points[n-1].At) {
		return
	}

	h.points = append(h.points, Point{
		At:         s.At,
		DutyCycle:  s.DutyCycle,
		Efficiency: s.Efficiency,
		Faulted:    s.Phase == control.PhaseFaulted,
	})

	cutoff := s.At.Add(-h.window)
	drop := 0
	for drop < len(h.points) && h.points[drop].At.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		h.points = append(h.points[:0], h.points[drop:]...)
	}
}

// Points returns a copy of the retained points.
func (h *History) Points() []Point {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Point, len(h.points))
	copy(out, h.points)
	return out
}

// Len returns the number of retained points.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.points)
}

// Window returns the time span covered by the history.
func (h *History) Window() time.Duration {
	return h.window
}
