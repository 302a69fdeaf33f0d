package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lumad/internal/config"
	"github.com/dokzlo13/lumad/internal/controller"
	"github.com/dokzlo13/lumad/internal/eventbus"
	"github.com/dokzlo13/lumad/internal/output"
	"github.com/dokzlo13/lumad/internal/profile"
	"github.com/dokzlo13/lumad/internal/quantize"
)

// ErrNoDevices is returned when every configured output failed to open.
var ErrNoDevices = errors.New("no usable output devices")

// Device is one running output: its sink, learned profile and loop.
type Device struct {
	Config     config.Device
	Sink       output.Sink
	Profile    *profile.Profile
	Controller *controller.Controller

	// done is closed when the device loop returns.
	done chan struct{}
}

// SinkOpener opens the sink for a configured device.
type SinkOpener func(ctx context.Context, d config.Device) (output.Sink, error)

// OpenSink opens the real device for d.
func OpenSink(ctx context.Context, d config.Device) (output.Sink, error) {
	switch d.Kind {
	case config.KindBacklight:
		return output.OpenBacklight(d.Name, d.Path)
	case config.KindKeyboard:
		return output.OpenKeyboard(d.Name, d.Path)
	case config.KindDDCUtil:
		return output.OpenDDCUtil(ctx, d.Name, d.Display, output.ExecRunner{}, d.WriteInterval)
	default:
		return nil, fmt.Errorf("unknown device kind %q", d.Kind)
	}
}

// axesFor returns the quantizer for a device. Screen contents become the
// second key dimension only for devices that ask for it.
func axesFor(cfg *config.Config, d config.Device) quantize.Quantizer {
	axes := []quantize.Axis{{Scale: quantize.Log, Max: cfg.Quantizer.LuxMax, Buckets: cfg.Quantizer.LuxBuckets}}
	if d.UseContents {
		axes = append(axes, quantize.Axis{Scale: quantize.Linear, Max: 1, Buckets: cfg.Quantizer.ContentsBuckets})
	}
	return quantize.New(axes...)
}

func controllerConfig(cfg *config.Config, d config.Device) controller.Config {
	c := cfg.Controller
	return controller.Config{
		PollInterval:      c.PollInterval.Duration(),
		IOTimeout:         c.IOTimeout.Duration(),
		Hysteresis:        c.Hysteresis,
		OverrideTolerance: c.OverrideTolerance,
		Ramp:              c.Ramp.Duration(),
		RampSteps:         c.RampSteps,
		SmoothingWindow:   cfg.ALS.SmoothingWindow,
		UseContents:       d.UseContents,
		Default:           d.Default,
	}
}

// DeviceDeps are the shared collaborators every device loop is built from.
type DeviceDeps struct {
	Open    SinkOpener
	Signals *SignalService
	Store   *profile.FileStore
	Watcher *profile.Watcher
	Bus     *eventbus.Bus
}

// OpenDevices brings up every configured output. A device that fails to open
// is logged, reported on the bus and skipped; only when none remain is it an
// error.
func OpenDevices(ctx context.Context, cfg *config.Config, deps DeviceDeps) ([]*Device, error) {
	if deps.Open == nil {
		deps.Open = OpenSink
	}
	params := profile.Params{Alpha: cfg.Profile.Alpha, Epsilon: cfg.Profile.Epsilon}

	var devices []*Device
	for _, d := range cfg.Devices() {
		logger := log.With().Str("device", d.Name).Str("kind", d.Kind).Logger()

		sink, err := deps.Open(ctx, d)
		if err != nil {
			logger.Error().Err(err).Msg("Device unavailable, disabling")
			deps.Bus.Publish(eventbus.Event{
				Type:   eventbus.EventTypeDevice,
				Device: d.Name,
				Time:   time.Now(),
				Data:   map[string]interface{}{"enabled": false, "kind": d.Kind, "error": err.Error()},
			})
			continue
		}

		q := axesFor(cfg, d)
		prof, err := deps.Store.Load(d.Name, q.Signature(), float64(sink.Min()), float64(sink.Max()), params)
		var warn *profile.LoadWarning
		if errors.As(err, &warn) {
			logger.Warn().Err(warn).Msg("Starting with an empty profile")
		} else if err != nil {
			logger.Warn().Err(err).Msg("Starting with an empty profile")
		}

		var reset <-chan struct{}
		if deps.Watcher != nil {
			reset = deps.Watcher.Subscribe(d.Name)
		}

		ctrl := controller.New(controllerConfig(cfg, d), controller.Deps{
			Sink:      sink,
			Lux:       deps.Signals.Lux,
			Contents:  deps.Signals.Contents,
			Quantizer: q,
			Profile:   prof,
			Store:     deps.Store,
			Events:    deps.Bus,
			Reset:     reset,
		})

		logger.Info().
			Int("min", sink.Min()).
			Int("max", sink.Max()).
			Str("axes", q.Signature()).
			Int("entries", prof.Len()).
			Msg("Device enabled")
		deps.Bus.Publish(eventbus.Event{
			Type:   eventbus.EventTypeDevice,
			Device: d.Name,
			Time:   time.Now(),
			Data:   map[string]interface{}{"enabled": true, "kind": d.Kind, "max": sink.Max()},
		})

		devices = append(devices, &Device{Config: d, Sink: sink, Profile: prof, Controller: ctrl})
	}

	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	return devices, nil
}
