package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lumad/internal/als"
	"github.com/dokzlo13/lumad/internal/config"
	"github.com/dokzlo13/lumad/internal/contents"
)

// mqttConnectTimeout bounds how long startup waits for the broker.
const mqttConnectTimeout = 5 * time.Second

// SignalService owns the shared ambient light and screen contents sources.
// Both are safe for concurrent use by every device loop.
type SignalService struct {
	cfg *config.Config

	Lux      als.Source
	Contents contents.Source

	mqtt   *als.MQTT
	script *als.Script
}

// NewSignalService builds the configured sources without touching the network.
func NewSignalService(cfg *config.Config) (*SignalService, error) {
	s := &SignalService{cfg: cfg}

	lux, err := s.openLux()
	if err != nil {
		return nil, fmt.Errorf("als backend %s: %w", cfg.ALS.Backend, err)
	}
	s.Lux = lux

	src, err := openContents(cfg.ScreenContents)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("screen contents capturer %s: %w", cfg.ScreenContents.Capturer, err)
	}
	s.Contents = src

	log.Info().
		Str("als", cfg.ALS.Backend).
		Str("capturer", cfg.ScreenContents.Capturer).
		Msg("Signal sources ready")
	return s, nil
}

func (s *SignalService) openLux() (als.Source, error) {
	c := s.cfg.ALS
	switch c.Backend {
	case als.BackendIIO:
		return als.OpenIIO(c.IIO.Path)
	case als.BackendTime:
		return als.NewHourly(c.Time.HourToLux)
	case als.BackendNone:
		return als.Constant(c.None.Lux), nil
	case als.BackendMQTT:
		s.mqtt = als.NewMQTT(als.MQTTConfig{
			Broker:   c.MQTT.Broker,
			Topic:    c.MQTT.Topic,
			ClientID: c.MQTT.ClientID,
			Username: c.MQTT.Username,
			Password: c.MQTT.Password,
			MaxAge:   c.MQTT.MaxAge.Duration(),
		})
		return s.mqtt, nil
	case als.BackendLua:
		script, err := als.LoadScript(c.Lua.Script)
		if err != nil {
			return nil, err
		}
		s.script = script
		return script, nil
	case als.BackendSun:
		return als.NewSun(c.Sun.Lat, c.Sun.Lon, c.Sun.MaxLux, c.Sun.NightLux), nil
	default:
		return nil, als.UnknownBackendError(c.Backend)
	}
}

func openContents(c config.ScreenContentsConfig) (contents.Source, error) {
	var src contents.Source
	switch c.Capturer {
	case contents.CapturerNone:
		return contents.Disabled{}, nil
	case contents.CapturerCommand:
		cmd, err := contents.NewCommand(c.Command)
		if err != nil {
			return nil, err
		}
		src = cmd
	case contents.CapturerFile:
		f, err := contents.NewFile(c.Path)
		if err != nil {
			return nil, err
		}
		src = f
	default:
		return nil, fmt.Errorf("unknown capturer %q", c.Capturer)
	}
	return contents.NewCached(src, c.Cache.Duration()), nil
}

// Start connects network-backed sources. A broker that is not reachable yet
// is not fatal: readings fail until the client connects.
func (s *SignalService) Start(ctx context.Context) {
	if s.mqtt == nil {
		return
	}
	connectCtx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
	defer cancel()
	if err := s.mqtt.Connect(connectCtx); err != nil {
		log.Warn().Err(err).Str("broker", s.cfg.ALS.MQTT.Broker).Msg("MQTT broker not reachable yet, retrying in background")
	}
}

// Close releases the sources.
func (s *SignalService) Close() {
	if s.mqtt != nil {
		s.mqtt.Close()
	}
	if s.script != nil {
		s.script.Close()
	}
}
