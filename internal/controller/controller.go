// Package controller runs the per-device loop: read the device and the
// signals, learn from user corrections, predict and apply brightness.
package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lumad/internal/als"
	"github.com/dokzlo13/lumad/internal/contents"
	"github.com/dokzlo13/lumad/internal/eventbus"
	"github.com/dokzlo13/lumad/internal/output"
	"github.com/dokzlo13/lumad/internal/profile"
	"github.com/dokzlo13/lumad/internal/quantize"
)

// ErrInvalidReading is returned for a non-finite sensor value. Such a
// reading is dropped before it reaches the smoothing window.
var ErrInvalidReading = errors.New("invalid reading")

// Defaults for Config fields left at zero.
const (
	DefaultPollInterval      = 2 * time.Second
	DefaultIOTimeout         = time.Second
	DefaultHysteresis        = 0.02
	DefaultOverrideTolerance = 0.01
	DefaultRamp              = 300 * time.Millisecond
	DefaultRampSteps         = 10
	DefaultSmoothingWindow   = 10
)

// Config tunes one controller. Hysteresis and OverrideTolerance are
// fractions of the device's raw range.
type Config struct {
	PollInterval      time.Duration
	IOTimeout         time.Duration
	Hysteresis        float64
	OverrideTolerance float64
	Ramp              time.Duration
	RampSteps         int
	SmoothingWindow   int

	// UseContents adds screen luminance as a second key dimension.
	UseContents bool
	// Default is the prediction for an empty profile; 0 means the device
	// value read on the first cycle.
	Default float64
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = DefaultIOTimeout
	}
	if c.Hysteresis < 0 {
		c.Hysteresis = DefaultHysteresis
	}
	if c.OverrideTolerance < 0 {
		c.OverrideTolerance = DefaultOverrideTolerance
	}
	if c.RampSteps < 1 {
		c.RampSteps = 1
	}
	if c.SmoothingWindow < 1 {
		c.SmoothingWindow = 1
	}
	return c
}

// Publisher receives controller events. *eventbus.Bus satisfies it.
type Publisher interface {
	Publish(eventbus.Event)
}

// Store persists profiles. *profile.FileStore satisfies it.
type Store interface {
	Save(p *profile.Profile) error
}

// Deps are the collaborators a controller is built from.
type Deps struct {
	Sink      output.Sink
	Lux       als.Source
	Contents  contents.Source
	Quantizer quantize.Quantizer
	Profile   *profile.Profile
	Store     Store
	Events    Publisher
	// Reset delivers a value when the profile should be dropped.
	Reset <-chan struct{}
}

// Controller owns one device for the lifetime of Run.
type Controller struct {
	cfg   Config
	deps  Deps
	log   zerolog.Logger
	sleep func(time.Duration)

	smoother    *als.Smoother
	started     bool
	lastApplied int
	lastKey     quantize.StateKey
	heldKey     quantize.StateKey
	dirty       bool

	statusMu sync.RWMutex
	status   Status
}

// New creates a controller. The quantizer must have two axes when
// cfg.UseContents is set and one otherwise.
func New(cfg Config, deps Deps) *Controller {
	cfg = cfg.withDefaults()
	name := deps.Sink.Name()

	return &Controller{
		cfg:      cfg,
		deps:     deps,
		log:      log.With().Str("device", name).Logger(),
		sleep:    time.Sleep,
		smoother: als.NewSmoother(cfg.SmoothingWindow),
		status: Status{
			Device: name,
			Kind:   string(deps.Sink.Kind()),
			Min:    deps.Sink.Min(),
			Max:    deps.Sink.Max(),
			State:  StateIdle.String(),
		},
	}
}

// Run cycles every poll interval until ctx is cancelled, then flushes the
// profile. Cancellation is only observed between cycles.
func (c *Controller) Run(ctx context.Context) error {
	c.log.Info().
		Dur("poll_interval", c.cfg.PollInterval).
		Bool("use_contents", c.cfg.UseContents).
		Int("entries", c.deps.Profile.Len()).
		Msg("Controller started")

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		c.Cycle(ctx)

		select {
		case <-ctx.Done():
			err := c.Flush()
			c.log.Info().Msg("Controller stopped")
			return err
		case <-ticker.C:
		}
	}
}

// Cycle runs one Polling → DetectingOverride → Predicting → Applying pass.
func (c *Controller) Cycle(ctx context.Context) {
	defer c.setState(StateIdle)
	c.drainReset()

	c.setState(StatePolling)
	cur, err := c.readDevice(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to read device brightness, skipping cycle")
		c.recordError(err)
		// The next change can't be tied to a state this cycle didn't see.
		c.lastKey = nil
		c.drainReset()
		c.persist()
		return
	}

	readings, sigErr := c.readSignals(ctx)

	c.setState(StateDetectingOverride)
	obs := Observation{
		Started:     c.started,
		Current:     cur,
		LastApplied: c.lastApplied,
		LastKey:     c.lastKey,
		Tolerance:   c.cfg.OverrideTolerance * c.span(),
		Hysteresis:  c.cfg.Hysteresis * c.span(),
	}
	override := DetectOverride(obs)
	c.handleOverride(override, cur)
	obs.LastApplied = c.lastApplied

	c.setState(StatePredicting)
	var key quantize.StateKey
	if sigErr == nil && c.smoother.Full() {
		key, sigErr = c.deps.Quantizer.Key(readings...)
	}
	if override == OverrideRebase && key != nil {
		// Nothing to learn from, but the user's value still stands.
		c.heldKey = key
	}
	obs.SignalsOK = sigErr == nil
	obs.Warm = c.smoother.Full()
	obs.Key = key
	obs.HeldKey = c.heldKey
	if key != nil {
		obs.Predicted = c.clamp(c.deps.Profile.Predict(key))
	}

	action := Decide(obs)
	c.updateStatus(func(s *Status) {
		s.Action = action.String()
		if key != nil {
			s.Key = key.String()
			s.Predicted = obs.Predicted
		}
		if sigErr != nil {
			s.Errors++
			s.LastError = sigErr.Error()
		}
	})

	switch action {
	case ActionSkip:
		c.log.Warn().Err(sigErr).Msg("Failed to read signals, skipping prediction")
	case ActionWarmup:
		c.log.Debug().Msg("Waiting for ambient light readings to settle")
	case ActionHold:
		c.log.Debug().Str("key", key.String()).Msg("Holding user brightness")
	case ActionNone:
		c.log.Debug().
			Str("key", key.String()).
			Int("predicted", obs.Predicted).
			Int("raw", c.lastApplied).
			Msg("Prediction within hysteresis")
	case ActionApply:
		c.setState(StateApplying)
		c.apply(ctx, key, obs.Predicted)
	}

	// The key the user reacts to next cycle. Unknown when signals failed.
	c.lastKey = key
	if key != nil && c.heldKey != nil && !key.Equal(c.heldKey) {
		c.heldKey = nil
	}

	// A reset that arrived mid-cycle wins over unsaved learning.
	c.drainReset()
	c.persist()
}

func (c *Controller) handleOverride(ov Override, cur int) {
	switch ov {
	case OverrideBaseline:
		c.started = true
		c.lastApplied = cur
		if c.cfg.Default > 0 {
			c.deps.Profile.SetDefault(c.cfg.Default)
		} else {
			c.deps.Profile.SetDefault(float64(cur))
		}
		c.log.Debug().Int("raw", cur).Msg("Baseline brightness")

	case OverrideRebase:
		c.log.Info().
			Int("raw", cur).
			Int("last_applied", c.lastApplied).
			Msg("Brightness changed without a known state, adopting it")
		c.lastApplied = cur

	case OverrideCorrection:
		prevKey := c.lastKey
		before := c.deps.Profile.Predict(prevKey)
		changed := c.deps.Profile.Update(prevKey, float64(cur))
		if changed {
			c.dirty = true
		}
		learned, _ := c.deps.Profile.Get(prevKey)

		c.log.Info().
			Str("key", prevKey.String()).
			Int("raw", cur).
			Int("last_applied", c.lastApplied).
			Float64("learned", learned.Brightness).
			Msg("User correction")

		c.publish(eventbus.EventTypeCorrection, map[string]interface{}{
			"key":          prevKey.String(),
			"observed":     cur,
			"last_applied": c.lastApplied,
			"previous":     before,
			"learned":      learned.Brightness,
		})

		c.lastApplied = cur
		c.heldKey = prevKey
		c.updateStatus(func(s *Status) { s.Corrections++ })
	}

	c.updateStatus(func(s *Status) {
		s.Raw = cur
		s.LastApplied = c.lastApplied
		s.Entries = c.deps.Profile.Len()
	})
}

// apply ramps from the last applied value to target. A failed write leaves
// lastApplied at the last value that reached the device.
func (c *Controller) apply(ctx context.Context, key quantize.StateKey, target int) {
	from := c.lastApplied
	steps := rampSteps(from, target, c.cfg.RampSteps)
	var pause time.Duration
	if len(steps) > 1 && c.cfg.Ramp > 0 {
		pause = c.cfg.Ramp / time.Duration(len(steps))
	}

	for i, v := range steps {
		v = c.clamp(float64(v))
		ioCtx, cancel := c.ioContext(ctx)
		err := c.deps.Sink.Set(ioCtx, v)
		cancel()
		if err != nil {
			c.log.Warn().Err(err).Int("raw", v).Msg("Failed to write device brightness")
			c.recordError(err)
			break
		}
		c.lastApplied = v
		if i < len(steps)-1 && pause > 0 {
			c.sleep(pause)
		}
	}

	if c.lastApplied == from {
		return
	}

	c.log.Debug().
		Str("key", key.String()).
		Int("from", from).
		Int("raw", c.lastApplied).
		Msg("Applied brightness")

	c.publish(eventbus.EventTypeApplied, map[string]interface{}{
		"key":       key.String(),
		"from":      from,
		"to":        c.lastApplied,
		"predicted": target,
	})
	c.updateStatus(func(s *Status) {
		s.Applies++
		s.LastApplied = c.lastApplied
		s.Raw = c.lastApplied
	})
}

func (c *Controller) readDevice(ctx context.Context) (int, error) {
	ioCtx, cancel := c.ioContext(ctx)
	defer cancel()
	return c.deps.Sink.Get(ioCtx)
}

// readSignals returns lux (smoothed) and, if enabled, screen luminance.
func (c *Controller) readSignals(ctx context.Context) ([]float64, error) {
	ioCtx, cancel := c.ioContext(ctx)
	lux, err := c.deps.Lux.Lux(ioCtx)
	cancel()
	if err != nil {
		return nil, err
	}
	if math.IsNaN(lux) || math.IsInf(lux, 0) {
		return nil, fmt.Errorf("%w: lux %v", ErrInvalidReading, lux)
	}
	if lux < 0 {
		lux = 0
	}
	smoothed := c.smoother.Add(lux)
	readings := []float64{smoothed}
	c.updateStatus(func(s *Status) { s.Lux = smoothed })

	if !c.cfg.UseContents {
		return readings, nil
	}
	if c.deps.Contents == nil {
		return nil, contents.ErrDisabled
	}

	ioCtx, cancel = c.ioContext(ctx)
	luma, err := c.deps.Contents.Luminance(ioCtx)
	cancel()
	if err != nil {
		return nil, err
	}
	c.updateStatus(func(s *Status) { s.Luma = luma })
	return append(readings, luma), nil
}

// ioContext bounds a single device or signal call. It is detached from
// ctx so shutdown never interrupts a call in flight.
func (c *Controller) ioContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.cfg.IOTimeout)
}

func (c *Controller) drainReset() {
	if c.deps.Reset == nil {
		return
	}
	select {
	case <-c.deps.Reset:
	default:
		return
	}

	c.deps.Profile.Reset()
	c.heldKey = nil
	c.dirty = false
	c.log.Info().Msg("Profile reset, learning from scratch")
	c.publish(eventbus.EventTypeReset, nil)
	c.updateStatus(func(s *Status) { s.Entries = 0 })
}

// persist retries saving until it succeeds; the in-memory profile is kept
// either way.
func (c *Controller) persist() {
	if !c.dirty || c.deps.Store == nil {
		return
	}
	if err := c.deps.Store.Save(c.deps.Profile); err != nil {
		c.log.Error().Err(err).Msg("Failed to save profile, will retry")
		c.recordError(err)
		c.publish(eventbus.EventTypeSaveFailed, map[string]interface{}{"error": err.Error()})
		return
	}
	c.dirty = false
	c.updateStatus(func(s *Status) { s.Entries = c.deps.Profile.Len() })
}

// Flush saves unsaved learning. It is called when Run stops.
func (c *Controller) Flush() error {
	if !c.dirty || c.deps.Store == nil {
		return nil
	}
	if err := c.deps.Store.Save(c.deps.Profile); err != nil {
		return errors.Join(errors.New("final profile save failed"), err)
	}
	c.dirty = false
	c.log.Debug().Msg("Profile flushed")
	return nil
}

func (c *Controller) publish(t eventbus.EventType, data map[string]interface{}) {
	if c.deps.Events == nil {
		return
	}
	c.deps.Events.Publish(eventbus.Event{
		Type:   t,
		Device: c.deps.Sink.Name(),
		Time:   time.Now(),
		Data:   data,
	})
}

func (c *Controller) span() float64 {
	if span := float64(c.deps.Sink.Max() - c.deps.Sink.Min()); span > 0 {
		return span
	}
	return 1
}

func (c *Controller) clamp(v float64) int {
	n := int(math.Round(v))
	if n < c.deps.Sink.Min() {
		n = c.deps.Sink.Min()
	}
	if n > c.deps.Sink.Max() {
		n = c.deps.Sink.Max()
	}
	return n
}
