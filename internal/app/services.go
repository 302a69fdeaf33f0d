package app

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dokzlo13/lumad/internal/config"
	"github.com/dokzlo13/lumad/internal/controller"
	"github.com/dokzlo13/lumad/internal/db"
	"github.com/dokzlo13/lumad/internal/eventbus"
	"github.com/dokzlo13/lumad/internal/ledger"
	"github.com/dokzlo13/lumad/internal/profile"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg   *config.Config
	runID string

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus

	// Profiles
	Profiles *profile.FileStore
	Watcher  *profile.Watcher

	// Signals and outputs
	Signals *SignalService
	Devices []*Device

	Health *HealthService

	open    SinkOpener
	group   *errgroup.Group
	running atomic.Int32
}

// NewServices creates the services that do not need a context. Devices are
// opened in Start.
func NewServices(cfg *config.Config, runID string) (*Services, error) {
	s := &Services{cfg: cfg, runID: runID, open: OpenSink}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize ledger
	s.Ledger = ledger.New(database.DB, runID)
	if n, err := s.Ledger.DeleteOlderThan(cfg.Database.Retention.Duration()); err != nil {
		log.Warn().Err(err).Msg("Failed to prune history")
	} else if n > 0 {
		log.Info().Int64("rows", n).Msg("Pruned old history")
	}

	// Every bus event lands in the ledger
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	s.Bus.SubscribeAll(s.Ledger.Record)

	s.Profiles = profile.NewFileStore(cfg.Profile.Dir)
	s.Watcher, err = profile.NewWatcher(s.Profiles)
	if err != nil {
		// Learning still works; deleting a snapshot just takes effect on restart.
		log.Warn().Err(err).Str("dir", cfg.Profile.Dir).Msg("Cannot watch profile directory")
		s.Watcher = nil
	}

	s.Signals, err = NewSignalService(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Health = NewHealthService(cfg, s)
	return s, nil
}

// Start opens the devices and launches one loop per device. The loops stop
// when ctx is cancelled.
func (s *Services) Start(ctx context.Context) error {
	s.Signals.Start(ctx)

	devices, err := OpenDevices(ctx, s.cfg, DeviceDeps{
		Open:    s.open,
		Signals: s.Signals,
		Store:   s.Profiles,
		Watcher: s.Watcher,
		Bus:     s.Bus,
	})
	if err != nil {
		return err
	}
	s.Devices = devices

	if s.Watcher != nil {
		go s.Watcher.Run(ctx)
	}

	s.group = new(errgroup.Group)
	for _, d := range s.Devices {
		d := d
		d.done = make(chan struct{})
		s.group.Go(func() error {
			s.running.Add(1)
			defer s.running.Add(-1)
			defer close(d.done)
			return d.Controller.Run(ctx)
		})
	}

	s.Health.Start(ctx)
	return nil
}

// Running reports how many device loops are active.
func (s *Services) Running() int {
	return int(s.running.Load())
}

// Statuses returns a snapshot of every device loop.
func (s *Services) Statuses() []controller.Status {
	out := make([]controller.Status, 0, len(s.Devices))
	for _, d := range s.Devices {
		out = append(out, d.Controller.Status())
	}
	return out
}

// Wait blocks until every device loop has returned and reports the first
// loop error.
func (s *Services) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// Stop gracefully stops all services. The context passed to Start must
// already be cancelled.
func (s *Services) Stop(ctx context.Context) error {
	loops := make(chan error, 1)
	go func() { loops <- s.Wait() }()

	var err error
	select {
	case err = <-loops:
	case <-ctx.Done():
		err = errors.New("device loops did not stop in time")
	}

	if s.Bus != nil {
		s.Bus.Close(ctx)
	}
	s.Close()
	return err
}

// Close releases all resources. A sink whose loop has not returned is left
// open, since the loop may still be using it.
func (s *Services) Close() {
	if s.Watcher != nil {
		s.Watcher.Close()
	}
	if s.Signals != nil {
		s.Signals.Close()
	}
	for _, d := range s.Devices {
		if !d.stopped() {
			log.Warn().Str("device", d.Config.Name).Msg("Device loop still running, leaving device open")
			continue
		}
		if err := d.Sink.Close(); err != nil {
			log.Debug().Err(err).Str("device", d.Config.Name).Msg("Failed to close device")
		}
	}
	if s.Bus != nil {
		s.Bus.Close(context.Background())
	}
	if s.DB != nil {
		s.DB.Close()
	}
}

func (d *Device) stopped() bool {
	if d.done == nil {
		return true
	}
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}
