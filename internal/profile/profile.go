// Package profile holds the per-device learned brightness table.
//
// A Profile maps quantized environment states to the brightness the user
// settled on in that state. Corrections are folded in with an exponential
// moving average; states never seen before fall back to the nearest known one.
package profile

import (
	"math"
	"sort"
	"time"

	"github.com/dokzlo13/lumad/internal/quantize"
)

// Default learning parameters.
const (
	DefaultAlpha   = 0.2
	DefaultEpsilon = 0.002
)

// Params tunes the update rule.
type Params struct {
	// Alpha is the EMA weight given to a new observation for a known state.
	Alpha float64
	// Epsilon is the smallest change worth recording, as a fraction of the
	// device range. Once alpha*error drops below it the entry stops moving.
	Epsilon float64
}

// DefaultParams returns the default learning parameters.
func DefaultParams() Params {
	return Params{Alpha: DefaultAlpha, Epsilon: DefaultEpsilon}
}

func (p Params) normalized() Params {
	if p.Alpha <= 0 || p.Alpha > 1 {
		p.Alpha = DefaultAlpha
	}
	if p.Epsilon < 0 {
		p.Epsilon = DefaultEpsilon
	}
	return p
}

// Entry is the learned brightness for one state.
type Entry struct {
	Key        quantize.StateKey `json:"-"`
	Brightness float64           `json:"brightness"`
	Updates    int               `json:"updates"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Profile is the learned table for a single device.
// It is not safe for concurrent use; each device loop owns its profile.
type Profile struct {
	Device  string
	Axes    string
	Min     float64
	Max     float64
	Default float64

	params  Params
	entries map[string]*Entry
	now     func() time.Time
}

// New creates an empty profile for a device whose raw range is [min, max].
func New(device, axes string, min, max float64, params Params) *Profile {
	return &Profile{
		Device:  device,
		Axes:    axes,
		Min:     min,
		Max:     max,
		Default: max,
		params:  params.normalized(),
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Params returns the active learning parameters.
func (p *Profile) Params() Params {
	return p.params
}

// SetDefault sets the fallback prediction used while the profile is empty.
func (p *Profile) SetDefault(v float64) {
	p.Default = p.clamp(v)
}

// Len returns the number of learned states.
func (p *Profile) Len() int {
	return len(p.entries)
}

// Get returns the entry for an exact key.
func (p *Profile) Get(key quantize.StateKey) (Entry, bool) {
	e, ok := p.entries[key.String()]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns a copy of all entries ordered by key.
func (p *Profile) Entries() []Entry {
	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// Reset drops every learned entry. The default is kept.
func (p *Profile) Reset() {
	p.entries = make(map[string]*Entry)
}

// Predict returns the brightness for a state.
//
// An exact entry wins. Otherwise the nearest entry by Manhattan distance over
// bucket indices is used; ties go to the lowest ambient-light bucket so an
// unseen state never predicts brighter than a dimmer known neighbour would.
// An empty profile predicts Default.
func (p *Profile) Predict(key quantize.StateKey) float64 {
	if e, ok := p.entries[key.String()]; ok {
		return e.Brightness
	}

	var best *Entry
	bestDist := math.MaxInt
	for _, e := range p.entries {
		d := key.Distance(e.Key)
		if best == nil || d < bestDist || (d == bestDist && preferDimmer(e.Key, best.Key)) {
			best = e
			bestDist = d
		}
	}
	if best == nil {
		return p.Default
	}
	return best.Brightness
}

// preferDimmer reports whether a should win a distance tie against b.
func preferDimmer(a, b quantize.StateKey) bool {
	if len(a) > 0 && len(b) > 0 && a[0] != b[0] {
		return a[0] < b[0]
	}
	return a.Less(b)
}

// Update folds an observed brightness into the entry for key.
// A new key is seeded with the observation; a known key moves alpha of the way
// toward it. Changes smaller than epsilon are ignored and report false.
func (p *Profile) Update(key quantize.StateKey, observed float64) bool {
	observed = p.clamp(observed)
	k := key.String()

	e, ok := p.entries[k]
	if !ok {
		p.entries[k] = &Entry{
			Key:        append(quantize.StateKey(nil), key...),
			Brightness: observed,
			Updates:    1,
			UpdatedAt:  p.now(),
		}
		return true
	}

	next := p.clamp(e.Brightness + p.params.Alpha*(observed-e.Brightness))
	if math.Abs(next-e.Brightness) <= p.params.Epsilon*p.span() {
		return false
	}
	e.Brightness = next
	e.Updates++
	e.UpdatedAt = p.now()
	return true
}

func (p *Profile) put(e Entry) {
	e.Brightness = p.clamp(e.Brightness)
	p.entries[e.Key.String()] = &e
}

func (p *Profile) span() float64 {
	if p.Max > p.Min {
		return p.Max - p.Min
	}
	return 1
}

func (p *Profile) clamp(v float64) float64 {
	if math.IsNaN(v) {
		return p.Min
	}
	if v < p.Min {
		return p.Min
	}
	if p.Max > p.Min && v > p.Max {
		return p.Max
	}
	return v
}
