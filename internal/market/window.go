package market

import "math"

// Window is a fixed-capacity circular buffer of float64 observations.
// Rolling statistics are computed over at most the last Cap() pushes, which
// keeps memory bounded and makes point-in-time behavior auditable.
type Window struct {
	buf   []float64
	head  int
	count int
}

// NewWindow creates a window holding up to capacity observations.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]float64, capacity)}
}

// Push appends an observation, evicting the oldest when full.
func (w *Window) Push(v float64) {
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

// Len returns the number of observations currently held.
func (w *Window) Len() int { return w.count }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Full reports whether the window has seen at least Cap() observations.
func (w *Window) Full() bool { return w.count == len(w.buf) }

// Values returns the held observations in chronological order.
func (w *Window) Values() []float64 {
	out := make([]float64, 0, w.count)
	start := w.head - w.count
	for i := 0; i < w.count; i++ {
		out = append(out, w.buf[((start+i)%len(w.buf)+len(w.buf))%len(w.buf)])
	}
	return out
}

// Last returns the most recent observation, or NaN when empty.
func (w *Window) Last() float64 {
	if w.count == 0 {
		return math.NaN()
	}
	return w.buf[((w.head-1)%len(w.buf)+len(w.buf))%len(w.buf)]
}

// Mean returns the arithmetic mean of held observations, or NaN when empty.
func (w *Window) Mean() float64 {
	if w.count == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range w.Values() {
		sum += v
	}
	return sum / float64(w.count)
}

// Std returns the sample standard deviation, or NaN with fewer than two
// observations.
func (w *Window) Std() float64 {
	if w.count < 2 {
		return math.NaN()
	}
	mean := w.Mean()
	ss := 0.0
	for _, v := range w.Values() {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(w.count-1))
}

// Arena is a set of same-capacity windows indexed by key (asset or feature
// name). Windows are created lazily on first access.
type Arena struct {
	capacity int
	windows  map[string]*Window
}

// NewArena creates an arena whose windows hold up to capacity observations.
func NewArena(capacity int) *Arena {
	return &Arena{capacity: capacity, windows: make(map[string]*Window)}
}

// Window returns the window for key, creating it if needed.
func (a *Arena) Window(key string) *Window {
	w, ok := a.windows[key]
	if !ok {
		w = NewWindow(a.capacity)
		a.windows[key] = w
	}
	return w
}
