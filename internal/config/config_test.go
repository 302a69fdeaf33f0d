package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	if cfg.ALS.Backend != "time" {
		t.Errorf("ALS.Backend = %q, want time", cfg.ALS.Backend)
	}
	if got := cfg.ALS.Time.HourToLux["12"]; got != 300 {
		t.Errorf("hour_to_lux[12] = %v, want 300", got)
	}
	devices := cfg.Devices()
	if len(devices) != 1 || devices[0].Name != "eDP-1" || devices[0].Kind != KindBacklight {
		t.Errorf("Devices() = %+v, want the eDP-1 backlight", devices)
	}
	if cfg.Controller.PollInterval.Duration() != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.Controller.PollInterval.Duration())
	}
	if cfg.Source != "" {
		t.Errorf("Source = %q, want empty for built-in config", cfg.Source)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg")
	cfg, err := Parse([]byte(`
output:
  backlight:
    panel: {}
`))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"log.level", cfg.Log.Level, "info"},
		{"profile.dir", cfg.Profile.Dir, "/tmp/xdg/lumad/profiles"},
		{"database.path", cfg.Database.Path, "/tmp/xdg/lumad/history.sqlite"},
		{"profile.alpha", cfg.Profile.Alpha, 0.2},
		{"quantizer.lux_buckets", cfg.Quantizer.LuxBuckets, 10},
		{"controller.ramp_steps", cfg.Controller.RampSteps, 10},
		{"als.smoothing_window", cfg.ALS.SmoothingWindow, 10},
		{"screen_contents.capturer", cfg.ScreenContents.Capturer, "none"},
		{"healthcheck.port", cfg.Healthcheck.Port, 9095},
		{"shutdown_timeout", cfg.ShutdownTimeout.Duration(), 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("LUMAD_TEST_BROKER", "tcp://broker:1883")

	tests := []struct {
		input    string
		expected string
	}{
		{"${LUMAD_TEST_BROKER}", "tcp://broker:1883"},
		{"${LUMAD_TEST_BROKER:tcp://localhost:1883}", "tcp://broker:1883"},
		{"${LUMAD_TEST_UNSET:fallback}", "fallback"},
		{"${LUMAD_TEST_UNSET}", ""},
		{"plain text", "plain text"},
		{"a ${LUMAD_TEST_UNSET:x} b", "a x b"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.expected {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, ".env"), []byte("LUMAD_TEST_TOPIC=home/office/lux\n"), 0o600)
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
als:
  backend: mqtt
  mqtt:
    broker: tcp://localhost:1883
    topic: ${LUMAD_TEST_TOPIC}
    max_age: 5m
output:
  ddcutil:
    dell: {display: 1}
`), 0o600)
	t.Cleanup(func() { os.Unsetenv("LUMAD_TEST_TOPIC") })

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ALS.MQTT.Topic != "home/office/lux" {
		t.Errorf("topic = %q, want value from .env", cfg.ALS.MQTT.Topic)
	}
	if cfg.ALS.MQTT.MaxAge.Duration() != 5*time.Minute {
		t.Errorf("max_age = %v, want 5m", cfg.ALS.MQTT.MaxAge.Duration())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("controller:\n  poll_interval: soon\n"), 0o600)
	if _, err := Load(bad); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no_devices",
			yaml:    `als: {backend: none}`,
			wantErr: "no output devices",
		},
		{
			name:    "unknown_backend",
			yaml:    "als: {backend: camera}\noutput: {backlight: {p: {}}}",
			wantErr: "als.backend",
		},
		{
			name:    "time_without_table",
			yaml:    "als: {backend: time}\noutput: {backlight: {p: {}}}",
			wantErr: "hour_to_lux",
		},
		{
			name:    "contents_without_capturer",
			yaml:    "als: {backend: none}\noutput: {backlight: {p: {use_contents: true}}}",
			wantErr: "uses screen contents",
		},
		{
			name:    "duplicate_names",
			yaml:    "als: {backend: none}\noutput: {backlight: {x: {}}, ddcutil: {x: {display: 1}}}",
			wantErr: "used by both",
		},
		{
			name:    "profile_file_collision",
			yaml:    "als: {backend: none}\noutput: {backlight: {\"ext 1\": {}, ext_1: {}}}",
			wantErr: "share profile file ext_1.json",
		},
		{
			name:    "ddc_display_zero",
			yaml:    "als: {backend: none}\noutput: {ddcutil: {dell: {}}}",
			wantErr: "display must be at least 1",
		},
		{
			name:    "bad_alpha",
			yaml:    "als: {backend: none}\nprofile: {alpha: 1.5}\noutput: {backlight: {p: {}}}",
			wantErr: "profile.alpha",
		},
		{
			name:    "ramp_too_long",
			yaml:    "als: {backend: none}\ncontroller: {poll_interval: 1s, ramp: 2s}\noutput: {backlight: {p: {}}}",
			wantErr: "controller.ramp",
		},
		{
			name:    "bad_log_level",
			yaml:    "log: {level: loud}\nals: {backend: none}\noutput: {backlight: {p: {}}}",
			wantErr: "log.level",
		},
		{
			name:    "sun_out_of_range",
			yaml:    "als: {backend: sun, sun: {lat: 100}}\noutput: {backlight: {p: {}}}",
			wantErr: "coordinates",
		},
		{
			name: "valid_full",
			yaml: `
als: {backend: lua, lua: {script: /etc/lumad/lux.lua}}
screen_contents: {capturer: command, command: [grim, "-"]}
output:
  backlight: {eDP-1: {use_contents: true}}
  ddcutil: {dell: {display: 2}}
keyboard:
  backlight: {kbd: {path: /sys/class/leds/tpacpi::kbd_backlight}}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			err = cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDevicesOrder(t *testing.T) {
	cfg, err := Parse([]byte(`
output:
  backlight: {b: {}, a: {}}
  ddcutil: {dell: {display: 1, write_interval: 500ms}}
keyboard:
  backlight: {kbd: {}}
`))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, d := range cfg.Devices() {
		names = append(names, d.Kind+"/"+d.Name)
	}
	want := "backlight/a,backlight/b,ddcutil/dell,keyboard/kbd"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("Devices() = %s, want %s", got, want)
	}
	if cfg.Devices()[2].WriteInterval != 500*time.Millisecond {
		t.Errorf("WriteInterval = %v, want 500ms", cfg.Devices()[2].WriteInterval)
	}
}
