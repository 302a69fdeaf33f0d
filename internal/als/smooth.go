package als

// Smoother is a moving average over the last N readings. It is owned by a
// single device loop and is not safe for concurrent use.
type Smoother struct {
	buf  []float64
	next int
	n    int
	sum  float64
}

// NewSmoother returns a window of size n; n < 1 behaves like 1 (no smoothing).
func NewSmoother(n int) *Smoother {
	if n < 1 {
		n = 1
	}
	return &Smoother{buf: make([]float64, n)}
}

// Add pushes v and returns the current average.
func (s *Smoother) Add(v float64) float64 {
	if s.n == len(s.buf) {
		s.sum -= s.buf[s.next]
	} else {
		s.n++
	}
	s.buf[s.next] = v
	s.sum += v
	s.next = (s.next + 1) % len(s.buf)
	return s.Value()
}

// Value is the average of what has been pushed so far (0 when empty).
func (s *Smoother) Value() float64 {
	if s.n == 0 {
		return 0
	}
	return s.sum / float64(s.n)
}

// Full reports whether the window has filled up.
func (s *Smoother) Full() bool { return s.n == len(s.buf) }

// Reset empties the window.
func (s *Smoother) Reset() {
	s.next, s.n, s.sum = 0, 0, 0
}
