// Package quantize maps continuous sensor readings onto discrete bucket indices.
// The resulting StateKey is what the learned profiles are keyed by.
package quantize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Scale selects how an axis is divided into buckets.
type Scale string

const (
	// Log buckets are evenly spaced on log(1+x); used for lux, which spans decades.
	Log Scale = "log"
	// Linear buckets have equal width; used for normalized content luminance.
	Linear Scale = "linear"
)

// ErrAxisCount is returned when the number of readings does not match the axes.
var ErrAxisCount = errors.New("reading count does not match axis count")

// Axis describes how one signal is bucketed.
type Axis struct {
	Scale   Scale
	Max     float64
	Buckets int
}

// Bucket returns the bucket index for a single reading, clamped to [0, Buckets-1].
func (a Axis) Bucket(reading float64) int {
	if a.Buckets <= 1 || a.Max <= 0 || math.IsNaN(reading) || reading <= 0 {
		return 0
	}

	var pos float64
	switch a.Scale {
	case Log:
		pos = math.Log1p(reading) / math.Log1p(a.Max)
	default:
		pos = reading / a.Max
	}
	if pos >= 1 || math.IsInf(pos, 0) {
		return a.Buckets - 1
	}

	idx := int(math.Floor(pos * float64(a.Buckets)))
	if idx < 0 {
		return 0
	}
	if idx > a.Buckets-1 {
		return a.Buckets - 1
	}
	return idx
}

func (a Axis) String() string {
	return fmt.Sprintf("%s:%s:%d", a.Scale, strconv.FormatFloat(a.Max, 'g', -1, 64), a.Buckets)
}

// StateKey is an ordered tuple of bucket indices, ambient light first.
type StateKey []int

// String renders the key as dot-joined indices, e.g. "3.7".
func (k StateKey) String() string {
	parts := make([]string, len(k))
	for i, v := range k {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ".")
}

// Equal reports whether two keys have the same indices.
func (k StateKey) Equal(other StateKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// Distance is the Manhattan distance between two keys of equal length.
func (k StateKey) Distance(other StateKey) int {
	d := 0
	for i := range k {
		if i >= len(other) {
			break
		}
		diff := k[i] - other[i]
		if diff < 0 {
			diff = -diff
		}
		d += diff
	}
	return d
}

// Less orders keys lexicographically by index.
func (k StateKey) Less(other StateKey) bool {
	for i := range k {
		if i >= len(other) {
			return false
		}
		if k[i] != other[i] {
			return k[i] < other[i]
		}
	}
	return len(k) < len(other)
}

// ParseStateKey parses the String form of a key.
func ParseStateKey(s string) (StateKey, error) {
	if s == "" {
		return StateKey{}, nil
	}
	parts := strings.Split(s, ".")
	key := make(StateKey, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid state key %q", s)
		}
		key[i] = v
	}
	return key, nil
}

// Quantizer buckets a fixed set of signals.
type Quantizer struct {
	Axes []Axis
}

// New creates a quantizer for the given axes.
func New(axes ...Axis) Quantizer {
	return Quantizer{Axes: axes}
}

// Key computes the StateKey for one reading per axis.
func (q Quantizer) Key(readings ...float64) (StateKey, error) {
	return Quantize(readings, q.Axes)
}

// Signature identifies the bucket layout. Profiles learned under a different
// signature are not comparable and must be discarded.
func (q Quantizer) Signature() string {
	parts := make([]string, len(q.Axes))
	for i, a := range q.Axes {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}

// Quantize buckets each reading independently with its axis.
func Quantize(readings []float64, axes []Axis) (StateKey, error) {
	if len(readings) != len(axes) {
		return nil, fmt.Errorf("%w: %d readings, %d axes", ErrAxisCount, len(readings), len(axes))
	}
	key := make(StateKey, len(axes))
	for i, a := range axes {
		key[i] = a.Bucket(readings[i])
	}
	return key, nil
}
