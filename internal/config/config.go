package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/lumad/internal/profile"
)

//go:embed default.yaml
var defaultConfig []byte

// Default returns the built-in configuration used when no file exists.
func Default() []byte {
	return append([]byte(nil), defaultConfig...)
}

// Config represents the application configuration
type Config struct {
	Log             LogConfig            `yaml:"log"`
	Database        DatabaseConfig       `yaml:"database"`
	Profile         ProfileConfig        `yaml:"profile"`
	Quantizer       QuantizerConfig      `yaml:"quantizer"`
	Controller      ControllerConfig     `yaml:"controller"`
	ALS             ALSConfig            `yaml:"als"`
	ScreenContents  ScreenContentsConfig `yaml:"screen_contents"`
	Output          OutputConfig         `yaml:"output"`
	Keyboard        KeyboardConfig       `yaml:"keyboard"`
	Healthcheck     HealthcheckConfig    `yaml:"healthcheck"`
	EventBus        EventBusConfig       `yaml:"eventbus"`
	ShutdownTimeout Duration             `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops

	// Source is the file the config was read from, empty for the built-in one.
	Source string `yaml:"-"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// DatabaseConfig contains history database settings
type DatabaseConfig struct {
	Path      string   `yaml:"path"`
	Retention Duration `yaml:"retention"` // Ledger rows older than this are pruned at startup
}

// ProfileConfig contains learned-profile settings
type ProfileConfig struct {
	Dir     string  `yaml:"dir"`
	Alpha   float64 `yaml:"alpha"`   // EMA weight of a new correction (default: 0.2)
	Epsilon float64 `yaml:"epsilon"` // Changes below this fraction of the range are ignored (default: 0.002)
}

// QuantizerConfig contains the bucket layout of state keys
type QuantizerConfig struct {
	LuxMax          float64 `yaml:"lux_max"`
	LuxBuckets      int     `yaml:"lux_buckets"`
	ContentsBuckets int     `yaml:"contents_buckets"`
}

// ControllerConfig contains per-device loop settings
type ControllerConfig struct {
	PollInterval      Duration `yaml:"poll_interval"`
	IOTimeout         Duration `yaml:"io_timeout"`
	Hysteresis        float64  `yaml:"hysteresis"`         // Fraction of range (default: 0.02)
	OverrideTolerance float64  `yaml:"override_tolerance"` // Fraction of range (default: 0.01)
	Ramp              Duration `yaml:"ramp"`
	RampSteps         int      `yaml:"ramp_steps"`
}

// ALSConfig selects and configures the ambient light source
type ALSConfig struct {
	Backend         string     `yaml:"backend"`
	SmoothingWindow int        `yaml:"smoothing_window"`
	IIO             IIOConfig  `yaml:"iio"`
	Time            TimeConfig `yaml:"time"`
	None            NoneConfig `yaml:"none"`
	MQTT            MQTTConfig `yaml:"mqtt"`
	Lua             LuaConfig  `yaml:"lua"`
	Sun             SunConfig  `yaml:"sun"`
}

// IIOConfig points at a sensor directory or the IIO devices directory
type IIOConfig struct {
	Path string `yaml:"path"`
}

// TimeConfig maps hours "0".."23" to lux
type TimeConfig struct {
	HourToLux map[string]float64 `yaml:"hour_to_lux"`
}

// NoneConfig is the constant reported when there is no sensor
type NoneConfig struct {
	Lux float64 `yaml:"lux"`
}

// MQTTConfig contains broker settings for a networked lux sensor
type MQTTConfig struct {
	Broker   string   `yaml:"broker"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	MaxAge   Duration `yaml:"max_age"`
}

// LuaConfig points at a script defining lux(hour, minute, weekday)
type LuaConfig struct {
	Script string `yaml:"script"`
}

// SunConfig contains the location for sun-position estimates
type SunConfig struct {
	Lat      float64 `yaml:"lat"`
	Lon      float64 `yaml:"lon"`
	MaxLux   float64 `yaml:"max_lux"`
	NightLux float64 `yaml:"night_lux"`
}

// ScreenContentsConfig selects how screen luminance is captured
type ScreenContentsConfig struct {
	Capturer  string   `yaml:"capturer"`
	Processor string   `yaml:"processor"`
	Command   []string `yaml:"command"`
	Path      string   `yaml:"path"`
	Cache     Duration `yaml:"cache"` // Share one capture between devices for this long
}

// OutputConfig lists displays by kind
type OutputConfig struct {
	Backlight map[string]BacklightConfig `yaml:"backlight"`
	DDCUtil   map[string]DDCUtilConfig   `yaml:"ddcutil"`
}

// BacklightConfig is a panel backlight
type BacklightConfig struct {
	Path        string  `yaml:"path"`
	UseContents bool    `yaml:"use_contents"`
	Default     float64 `yaml:"default"`
}

// DDCUtilConfig is an external monitor driven over DDC/CI
type DDCUtilConfig struct {
	Display       int      `yaml:"display"`
	UseContents   bool     `yaml:"use_contents"`
	Default       float64  `yaml:"default"`
	WriteInterval Duration `yaml:"write_interval"`
}

// KeyboardConfig lists keyboard backlights
type KeyboardConfig struct {
	Backlight map[string]KeyboardBacklightConfig `yaml:"backlight"`
}

// KeyboardBacklightConfig is a keyboard LED under /sys/class/leds
type KeyboardBacklightConfig struct {
	Path    string  `yaml:"path"`
	Default float64 `yaml:"default"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 2)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 256)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 2
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 256
	}
	return c.QueueSize
}

// Device kinds as they appear in Devices.
const (
	KindBacklight = "backlight"
	KindDDCUtil   = "ddcutil"
	KindKeyboard  = "keyboard"
)

// Device is one configured output, flattened from the per-kind maps.
type Device struct {
	Name          string
	Kind          string
	Path          string
	Display       int
	UseContents   bool
	Default       float64
	WriteInterval time.Duration
}

// Devices returns every configured output ordered by kind, then name.
func (cfg *Config) Devices() []Device {
	var out []Device
	for _, name := range sortedKeys(cfg.Output.Backlight) {
		b := cfg.Output.Backlight[name]
		out = append(out, Device{Name: name, Kind: KindBacklight, Path: b.Path, UseContents: b.UseContents, Default: b.Default})
	}
	for _, name := range sortedKeys(cfg.Output.DDCUtil) {
		d := cfg.Output.DDCUtil[name]
		out = append(out, Device{Name: name, Kind: KindDDCUtil, Display: d.Display, UseContents: d.UseContents, Default: d.Default, WriteInterval: d.WriteInterval.Duration()})
	}
	for _, name := range sortedKeys(cfg.Keyboard.Backlight) {
		k := cfg.Keyboard.Backlight[name]
		out = append(out, Device{Name: name, Kind: KindKeyboard, Path: k.Path, Default: k.Default})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Resolve picks the config file: the explicit path if given, else
// $XDG_CONFIG_HOME/lumad/config.yaml if it exists, else "" for the
// built-in default.
func Resolve(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, "lumad", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load reads and parses the configuration file. An empty path loads the
// built-in default. A .env file next to the config is loaded first so
// ${VAR} references can use it.
func Load(path string) (*Config, error) {
	data := Default()
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		envFile := filepath.Join(filepath.Dir(path), ".env")
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		}
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Source = path
	return cfg, nil
}

// Parse decodes YAML, expands environment variables and applies defaults.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(dataDir(), "history.sqlite")
	}
	if cfg.Database.Retention == 0 {
		cfg.Database.Retention = Duration(90 * 24 * time.Hour)
	}

	// Profile defaults
	if cfg.Profile.Dir == "" {
		cfg.Profile.Dir = filepath.Join(dataDir(), "profiles")
	}
	if cfg.Profile.Alpha == 0 {
		cfg.Profile.Alpha = 0.2
	}
	if cfg.Profile.Epsilon == 0 {
		cfg.Profile.Epsilon = 0.002
	}

	// Quantizer defaults
	if cfg.Quantizer.LuxMax == 0 {
		cfg.Quantizer.LuxMax = 1000
	}
	if cfg.Quantizer.LuxBuckets == 0 {
		cfg.Quantizer.LuxBuckets = 10
	}
	if cfg.Quantizer.ContentsBuckets == 0 {
		cfg.Quantizer.ContentsBuckets = 10
	}

	// Controller defaults
	if cfg.Controller.PollInterval == 0 {
		cfg.Controller.PollInterval = Duration(2 * time.Second)
	}
	if cfg.Controller.IOTimeout == 0 {
		cfg.Controller.IOTimeout = Duration(time.Second)
	}
	if cfg.Controller.Hysteresis == 0 {
		cfg.Controller.Hysteresis = 0.02
	}
	if cfg.Controller.OverrideTolerance == 0 {
		cfg.Controller.OverrideTolerance = 0.01
	}
	if cfg.Controller.Ramp == 0 {
		cfg.Controller.Ramp = Duration(300 * time.Millisecond)
	}
	if cfg.Controller.RampSteps == 0 {
		cfg.Controller.RampSteps = 10
	}

	// ALS defaults
	if cfg.ALS.Backend == "" {
		cfg.ALS.Backend = "time"
	}
	if cfg.ALS.SmoothingWindow == 0 {
		cfg.ALS.SmoothingWindow = 10
	}
	if cfg.ALS.IIO.Path == "" {
		cfg.ALS.IIO.Path = "/sys/bus/iio/devices"
	}
	if cfg.ALS.Sun.MaxLux == 0 {
		cfg.ALS.Sun.MaxLux = 500
	}

	// Screen contents defaults
	if cfg.ScreenContents.Capturer == "" {
		cfg.ScreenContents.Capturer = "none"
	}
	if cfg.ScreenContents.Processor == "" {
		cfg.ScreenContents.Processor = "cpu"
	}
	if cfg.ScreenContents.Cache == 0 {
		cfg.ScreenContents.Cache = Duration(500 * time.Millisecond)
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9095
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "127.0.0.1"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate reports every semantic problem at once.
func (cfg *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		add("log.level: %v", err)
	}

	if cfg.Profile.Alpha <= 0 || cfg.Profile.Alpha > 1 {
		add("profile.alpha must be in (0, 1], got %v", cfg.Profile.Alpha)
	}
	if cfg.Profile.Epsilon < 0 || cfg.Profile.Epsilon >= 1 {
		add("profile.epsilon must be in [0, 1), got %v", cfg.Profile.Epsilon)
	}

	if cfg.Quantizer.LuxMax <= 0 {
		add("quantizer.lux_max must be positive")
	}
	if cfg.Quantizer.LuxBuckets < 1 || cfg.Quantizer.ContentsBuckets < 1 {
		add("quantizer bucket counts must be at least 1")
	}

	if cfg.Controller.Hysteresis < 0 || cfg.Controller.Hysteresis >= 1 {
		add("controller.hysteresis must be in [0, 1), got %v", cfg.Controller.Hysteresis)
	}
	if cfg.Controller.OverrideTolerance < 0 || cfg.Controller.OverrideTolerance >= 1 {
		add("controller.override_tolerance must be in [0, 1), got %v", cfg.Controller.OverrideTolerance)
	}
	if cfg.Controller.RampSteps < 1 {
		add("controller.ramp_steps must be at least 1")
	}
	if cfg.Controller.Ramp.Duration() >= cfg.Controller.PollInterval.Duration() {
		add("controller.ramp (%s) must be shorter than poll_interval (%s)", cfg.Controller.Ramp.Duration(), cfg.Controller.PollInterval.Duration())
	}

	switch cfg.ALS.Backend {
	case "iio", "none":
	case "time":
		if len(cfg.ALS.Time.HourToLux) == 0 {
			add("als.time.hour_to_lux must not be empty")
		}
	case "mqtt":
		if cfg.ALS.MQTT.Broker == "" || cfg.ALS.MQTT.Topic == "" {
			add("als.mqtt needs broker and topic")
		}
	case "lua":
		if cfg.ALS.Lua.Script == "" {
			add("als.lua.script is required")
		}
	case "sun":
		if math.Abs(cfg.ALS.Sun.Lat) > 90 || math.Abs(cfg.ALS.Sun.Lon) > 180 {
			add("als.sun coordinates out of range")
		}
		if cfg.ALS.Sun.NightLux < 0 || cfg.ALS.Sun.NightLux >= cfg.ALS.Sun.MaxLux {
			add("als.sun.night_lux must be in [0, max_lux)")
		}
	default:
		add("als.backend %q is not one of iio, time, none, mqtt, lua, sun", cfg.ALS.Backend)
	}

	switch cfg.ScreenContents.Capturer {
	case "none":
	case "command":
		if len(cfg.ScreenContents.Command) == 0 {
			add("screen_contents.command is required for the command capturer")
		}
	case "file":
		if cfg.ScreenContents.Path == "" {
			add("screen_contents.path is required for the file capturer")
		}
	default:
		add("screen_contents.capturer %q is not one of none, command, file", cfg.ScreenContents.Capturer)
	}
	if cfg.ScreenContents.Processor != "cpu" {
		add("screen_contents.processor %q is not supported (cpu)", cfg.ScreenContents.Processor)
	}

	devices := cfg.Devices()
	if len(devices) == 0 {
		add("no output devices configured")
	}
	seen := make(map[string]string)
	files := make(map[string]string)
	for _, d := range devices {
		if prev, ok := seen[d.Name]; ok {
			add("device name %q used by both %s and %s", d.Name, prev, d.Kind)
		}
		seen[d.Name] = d.Kind
		if prev, ok := files[profile.FileName(d.Name)]; ok && prev != d.Name {
			add("device names %q and %q share profile file %s", prev, d.Name, profile.FileName(d.Name))
		}
		files[profile.FileName(d.Name)] = d.Name
		if d.Kind == KindDDCUtil && d.Display < 1 {
			add("output.ddcutil.%s.display must be at least 1", d.Name)
		}
		if d.UseContents && cfg.ScreenContents.Capturer == "none" {
			add("%s %q uses screen contents but screen_contents.capturer is none", d.Kind, d.Name)
		}
		if d.Default < 0 {
			add("%s %q default must not be negative", d.Kind, d.Name)
		}
	}

	return errors.Join(errs...)
}

// dataDir is $XDG_DATA_HOME/lumad, falling back to ~/.local/share/lumad.
func dataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "lumad")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "lumad")
	}
	return "lumad"
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := strings.TrimSpace(parts[1])
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
