package quantize

import (
	"errors"
	"math"
	"testing"
)

func luxAxis() Axis {
	return Axis{Scale: Log, Max: 1000, Buckets: 10}
}

func TestAxisBucket(t *testing.T) {
	tests := []struct {
		name     string
		axis     Axis
		reading  float64
		expected int
	}{
		{name: "lux/zero", axis: luxAxis(), reading: 0, expected: 0},
		{name: "lux/max_is_top_bucket", axis: luxAxis(), reading: 1000, expected: 9},
		{name: "lux/above_max_clamped", axis: luxAxis(), reading: 100000, expected: 9},
		{name: "lux/negative_clamped", axis: luxAxis(), reading: -5, expected: 0},
		{name: "lux/nan", axis: luxAxis(), reading: math.NaN(), expected: 0},
		{name: "lux/inf", axis: luxAxis(), reading: math.Inf(1), expected: 9},
		{name: "lux/max_float", axis: luxAxis(), reading: math.MaxFloat64, expected: 9},
		// log(6)/log(1001) * 10 = 2.59
		{name: "lux/five", axis: luxAxis(), reading: 5, expected: 2},
		{name: "lux/hundred", axis: luxAxis(), reading: 100, expected: 6},
		{name: "luma/zero", axis: Axis{Scale: Linear, Max: 1, Buckets: 10}, reading: 0, expected: 0},
		{name: "luma/half", axis: Axis{Scale: Linear, Max: 1, Buckets: 10}, reading: 0.5, expected: 5},
		{name: "luma/one", axis: Axis{Scale: Linear, Max: 1, Buckets: 10}, reading: 1, expected: 9},
		{name: "luma/inf", axis: Axis{Scale: Linear, Max: 1, Buckets: 10}, reading: math.Inf(1), expected: 9},
		{name: "linear/overflow", axis: Axis{Scale: Linear, Max: 1, Buckets: 10}, reading: 1e308, expected: 9},
		{name: "single_bucket", axis: Axis{Scale: Log, Max: 1000, Buckets: 1}, reading: 500, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.axis.Bucket(tt.reading)
			if got != tt.expected {
				t.Errorf("Bucket(%v) = %d, want %d", tt.reading, got, tt.expected)
			}
		})
	}
}

func TestLuxBucketMonotonic(t *testing.T) {
	a := luxAxis()
	prev := a.Bucket(0)
	for lux := 0.0; lux <= 2000; lux += 0.5 {
		b := a.Bucket(lux)
		if b < prev {
			t.Fatalf("Bucket(%v) = %d decreased from %d", lux, b, prev)
		}
		prev = b
	}
	for _, huge := range []float64{1e12, 1e308, math.MaxFloat64, math.Inf(1)} {
		if b := a.Bucket(huge); b < prev {
			t.Fatalf("Bucket(%v) = %d decreased from %d", huge, b, prev)
		}
	}

	lin := Axis{Scale: Linear, Max: 1, Buckets: 10}
	top := lin.Bucket(1)
	for _, huge := range []float64{1e308, math.Inf(1)} {
		if b := lin.Bucket(huge); b != top {
			t.Errorf("linear Bucket(%v) = %d, want %d", huge, b, top)
		}
	}
}

func TestQuantizeDeterministic(t *testing.T) {
	q := New(luxAxis(), Axis{Scale: Linear, Max: 1, Buckets: 10})
	readings := []float64{123.4, 0.37}

	first, err := q.Key(readings...)
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	for i := 0; i < 100; i++ {
		again, err := q.Key(readings...)
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		if !first.Equal(again) {
			t.Fatalf("Key() = %v, want %v", again, first)
		}
	}
}

func TestQuantizeAxisCountMismatch(t *testing.T) {
	_, err := Quantize([]float64{1, 2}, []Axis{luxAxis()})
	if !errors.Is(err, ErrAxisCount) {
		t.Errorf("Quantize() error = %v, want ErrAxisCount", err)
	}
}

func TestStateKeyStringRoundTrip(t *testing.T) {
	for _, k := range []StateKey{{0}, {3, 7}, {9, 0}} {
		parsed, err := ParseStateKey(k.String())
		if err != nil {
			t.Fatalf("ParseStateKey(%q): %v", k.String(), err)
		}
		if !parsed.Equal(k) {
			t.Errorf("ParseStateKey(%q) = %v, want %v", k.String(), parsed, k)
		}
	}

	for _, bad := range []string{"a", "1.x", "-1"} {
		if _, err := ParseStateKey(bad); err == nil {
			t.Errorf("ParseStateKey(%q) expected error", bad)
		}
	}
}

func TestStateKeyDistanceAndOrder(t *testing.T) {
	a := StateKey{2, 5}
	b := StateKey{4, 4}
	if d := a.Distance(b); d != 3 {
		t.Errorf("Distance() = %d, want 3", d)
	}
	if !a.Less(b) || b.Less(a) {
		t.Errorf("Less() ordering wrong for %v and %v", a, b)
	}
}

func TestSignature(t *testing.T) {
	q := New(luxAxis(), Axis{Scale: Linear, Max: 1, Buckets: 8})
	want := "log:1000:10,linear:1:8"
	if got := q.Signature(); got != want {
		t.Errorf("Signature() = %q, want %q", got, want)
	}
}
