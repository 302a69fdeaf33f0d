package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lumad/internal/config"
	"github.com/dokzlo13/lumad/internal/controller"
	"github.com/dokzlo13/lumad/internal/db"
	"github.com/dokzlo13/lumad/internal/eventbus"
	"github.com/dokzlo13/lumad/internal/ledger"
	"github.com/dokzlo13/lumad/internal/output"
	"github.com/dokzlo13/lumad/internal/profile"
)

type memSink struct {
	name string
	kind output.Kind

	// Get waits on block when set; entered is signalled first.
	block   chan struct{}
	entered chan struct{}

	mu            sync.Mutex
	value         int
	closed        bool
	usedAfterDone bool
}

func (s *memSink) Name() string      { return s.name }
func (s *memSink) Kind() output.Kind { return s.kind }
func (s *memSink) Min() int          { return output.MinRaw }
func (s *memSink) Max() int          { return 100 }

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memSink) Get(context.Context) (int, error) {
	if s.block != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usedAfterDone = s.usedAfterDone || s.closed
	return s.value, nil
}

func (s *memSink) Set(_ context.Context, v int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usedAfterDone = s.usedAfterDone || s.closed
	s.value = output.Clamp(v, 100)
	return nil
}

func (s *memSink) state() (closed, usedAfterClose bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.usedAfterDone
}

// opener opens memSinks, failing for the names in broken.
func opener(broken ...string) SinkOpener {
	return func(_ context.Context, d config.Device) (output.Sink, error) {
		for _, b := range broken {
			if b == d.Name {
				return nil, fmt.Errorf("%s: no such device", d.Name)
			}
		}
		return &memSink{name: d.Name, kind: output.Kind(d.Kind), value: 40}, nil
	}
}

func testConfig(t *testing.T, devices string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
database: {path: %s}
profile: {dir: %s}
controller: {poll_interval: 10ms, ramp: 1ms, ramp_steps: 1}
als: {backend: none, smoothing_window: 1, none: {lux: 50}}
screen_contents: {capturer: file, path: /nonexistent.png}
%s
`, filepath.Join(dir, "history.sqlite"), filepath.Join(dir, "profiles"), devices)))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func deviceDeps(t *testing.T, cfg *config.Config, open SinkOpener) (DeviceDeps, *eventbus.Bus) {
	t.Helper()
	signals, err := NewSignalService(cfg)
	require.NoError(t, err)
	t.Cleanup(signals.Close)

	bus := eventbus.New()
	t.Cleanup(func() { bus.Close(context.Background()) })

	return DeviceDeps{
		Open:    open,
		Signals: signals,
		Store:   profile.NewFileStore(cfg.Profile.Dir),
		Bus:     bus,
	}, bus
}

func TestOpenDevicesSkipsBrokenDevice(t *testing.T) {
	cfg := testConfig(t, `output: {backlight: {panel: {use_contents: true}}, ddcutil: {dell: {display: 1}}}`)
	deps, bus := deviceDeps(t, cfg, opener("dell"))

	var mu sync.Mutex
	enabled := map[string]bool{}
	bus.Subscribe(eventbus.EventTypeDevice, func(e eventbus.Event) {
		mu.Lock()
		enabled[e.Device] = e.Data["enabled"].(bool)
		mu.Unlock()
	})

	devices, err := OpenDevices(context.Background(), cfg, deps)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "panel", devices[0].Config.Name)
	assert.Equal(t, "log:1000:10,linear:1:10", devices[0].Profile.Axes)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(enabled) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, map[string]bool{"panel": true, "dell": false}, enabled)
}

func TestOpenDevicesFailsWhenNoneRemain(t *testing.T) {
	cfg := testConfig(t, `output: {backlight: {panel: {}}}`)
	deps, _ := deviceDeps(t, cfg, opener("panel"))

	_, err := OpenDevices(context.Background(), cfg, deps)
	assert.True(t, errors.Is(err, ErrNoDevices))
}

func TestOpenDevicesWarnsOnStaleProfile(t *testing.T) {
	cfg := testConfig(t, `output: {backlight: {panel: {}}}`)
	deps, _ := deviceDeps(t, cfg, opener())

	// A snapshot learned with a different bucket layout is discarded.
	stale := profile.New("panel", "log:500:4", 1, 100, profile.DefaultParams())
	stale.SetDefault(50)
	require.NoError(t, deps.Store.Save(stale))

	devices, err := OpenDevices(context.Background(), cfg, deps)
	require.NoError(t, err)
	assert.Equal(t, 0, devices[0].Profile.Len())
	assert.Equal(t, "log:1000:10", devices[0].Profile.Axes)
}

func TestServicesLifecycle(t *testing.T) {
	cfg := testConfig(t, `
output: {backlight: {panel: {default: 70}}}
keyboard: {backlight: {kbd: {default: 20}}}
`)
	s, err := NewServices(cfg, "run-1")
	require.NoError(t, err)
	s.open = opener()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	require.Eventually(t, func() bool { return s.Running() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, st := range s.Statuses() {
			if st.Applies == 0 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(s.Health.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/devices")
	require.NoError(t, err)
	var statuses []controller.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&statuses))
	resp.Body.Close()
	require.Len(t, statuses, 2)
	assert.Equal(t, "panel", statuses[0].Device)
	assert.Equal(t, 70, statuses[0].LastApplied)
	assert.Equal(t, "kbd", statuses[1].Device)
	assert.Equal(t, 20, statuses[1].LastApplied)

	resp, err = http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.Equal(t, 0, s.Running())
	for _, d := range s.Devices {
		closed, used := d.Sink.(*memSink).state()
		assert.True(t, closed, "%s not closed", d.Config.Name)
		assert.False(t, used, "%s used after close", d.Config.Name)
	}

	// The loops published applies and device events into the history.
	history, err := db.Open(cfg.Database.Path)
	require.NoError(t, err)
	defer history.Close()
	n, err := ledger.New(history.DB, "").CountByType("panel", eventbus.EventTypeApplied, time.Time{})
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestStopTimeoutLeavesBusySinkOpen(t *testing.T) {
	cfg := testConfig(t, `output: {backlight: {panel: {}}}`)
	s, err := NewServices(cfg, "run-1")
	require.NoError(t, err)

	sink := &memSink{
		name:    "panel",
		kind:    output.KindBacklight,
		value:   40,
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	s.open = func(context.Context, config.Device) (output.Sink, error) { return sink, nil }

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("device loop never read the sink")
	}

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stopCancel()
	assert.Error(t, s.Stop(stopCtx))

	closed, _ := sink.state()
	assert.False(t, closed, "sink closed under a running loop")

	close(sink.block)
	require.NoError(t, s.Wait())
	_, used := sink.state()
	assert.False(t, used, "sink used after close")
}

func TestReadyBeforeStart(t *testing.T) {
	cfg := testConfig(t, `output: {backlight: {panel: {}}}`)
	h := NewHealthService(cfg, &Services{})

	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}
