package indicator

import (
	"errors"
	"math"
	"sort"
)

// RollingWindow holds the most recent capacity values in arrival order.
type RollingWindow struct {
	capacity int
	values   []float64
	head     int
	full     bool
}

func NewRollingWindow(capacity int) (*RollingWindow, error) {
	if capacity <= 0 {
		return nil, errors.New("window capacity must be > 0")
	}
	return &RollingWindow{
		capacity: capacity,
		values:   make([]float64, 0, capacity),
	}, nil
}

// Push appends a value, evicting the oldest once the window is full.
func (w *RollingWindow) Push(value float64) {
	if !w.full {
		w.values = append(w.values, value)
		if len(w.values) == w.capacity {
			w.full = true
		}
		return
	}
	w.values[w.head] = value
	w.head = (w.head + 1) % w.capacity
}

func (w *RollingWindow) Len() int {
	return len(w.values)
}

func (w *RollingWindow) Full() bool {
	return w.full
}

// Values returns a copy of the window contents, oldest first.
func (w *RollingWindow) Values() []float64 {
	out := make([]float64, 0, len(w.values))
	out = append(out, w.values[w.head:]...)
	out = append(out, w.values[:w.head]...)
	return out
}

func (w *RollingWindow) Mean() (float64, bool) {
	if len(w.values) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range w.values {
		sum += v
	}
	return sum / float64(len(w.values)), true
}

// Std is the sample standard deviation (N-1 divisor).
func (w *RollingWindow) Std() (float64, bool) {
	if len(w.values) < 2 {
		return 0, false
	}
	mean, _ := w.Mean()
	sum := 0.0
	for _, v := range w.values {
		diff := v - mean
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(w.values)-1)), true
}

// Quantile returns the sorted value at index floor((len-1)*p).
func (w *RollingWindow) Quantile(p float64) (float64, bool) {
	if len(w.values) == 0 {
		return 0, false
	}
	sorted := w.Values()
	sort.Float64s(sorted)
	idx := int(math.Floor(float64(len(sorted)-1) * p))
	if idx < 0 {
		idx = 0
	}
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx], true
}
