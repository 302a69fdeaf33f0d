package controller

import (
	"math"

	"github.com/dokzlo13/lumad/internal/quantize"
)

// State is the phase of a controller cycle.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateDetectingOverride
	StatePredicting
	StateApplying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateDetectingOverride:
		return "detecting_override"
	case StatePredicting:
		return "predicting"
	case StateApplying:
		return "applying"
	default:
		return "unknown"
	}
}

// Override is the outcome of comparing the device value with what the
// controller last wrote.
type Override int

const (
	OverrideNone Override = iota
	// OverrideBaseline: first cycle, adopt the device value without learning.
	OverrideBaseline
	// OverrideCorrection: the user changed the value; learn it for the
	// previous cycle's key.
	OverrideCorrection
	// OverrideRebase: the value changed but there is no previous key to
	// attribute it to; adopt it without learning.
	OverrideRebase
)

func (o Override) String() string {
	switch o {
	case OverrideNone:
		return "none"
	case OverrideBaseline:
		return "baseline"
	case OverrideCorrection:
		return "correction"
	case OverrideRebase:
		return "rebase"
	default:
		return "unknown"
	}
}

// Action is what the controller does with its prediction.
type Action int

const (
	// ActionNone: prediction within hysteresis of the last applied value.
	ActionNone Action = iota
	ActionApply
	// ActionHold: the user corrected this state and it has not changed since.
	ActionHold
	// ActionWarmup: the lux window is not full yet.
	ActionWarmup
	// ActionSkip: signals could not be read this cycle.
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionApply:
		return "apply"
	case ActionHold:
		return "hold"
	case ActionWarmup:
		return "warmup"
	case ActionSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Observation is everything one cycle knows when deciding. Tolerance and
// Hysteresis are in raw device units.
type Observation struct {
	Started     bool
	Current     int
	LastApplied int
	LastKey     quantize.StateKey
	Tolerance   float64

	SignalsOK  bool
	Warm       bool
	Key        quantize.StateKey
	HeldKey    quantize.StateKey
	Predicted  int
	Hysteresis float64
}

// DetectOverride decides whether the device value moved under us.
func DetectOverride(o Observation) Override {
	if !o.Started {
		return OverrideBaseline
	}
	if math.Abs(float64(o.Current-o.LastApplied)) <= o.Tolerance {
		return OverrideNone
	}
	if o.LastKey == nil {
		return OverrideRebase
	}
	return OverrideCorrection
}

// Decide picks the action for the current prediction. LastApplied must
// already reflect any override handled this cycle.
func Decide(o Observation) Action {
	if !o.SignalsOK {
		return ActionSkip
	}
	if !o.Warm {
		return ActionWarmup
	}
	if o.HeldKey != nil && o.Key.Equal(o.HeldKey) {
		return ActionHold
	}
	if math.Abs(float64(o.Predicted-o.LastApplied)) <= o.Hysteresis {
		return ActionNone
	}
	return ActionApply
}

// rampSteps returns the intermediate values from from to to, ending at to,
// using at most steps writes and never more than one per raw unit.
func rampSteps(from, to, steps int) []int {
	if from == to {
		return nil
	}
	dist := to - from
	if dist < 0 {
		dist = -dist
	}
	if steps < 1 {
		steps = 1
	}
	if steps > dist {
		steps = dist
	}

	out := make([]int, steps)
	for i := 1; i <= steps; i++ {
		out[i-1] = from + int(math.Round(float64(to-from)*float64(i)/float64(steps)))
	}
	return out
}
