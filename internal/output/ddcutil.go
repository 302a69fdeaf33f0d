package output

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// VCP feature code for luminance.
const vcpBrightness = "10"

// DefaultDDCWriteInterval spaces out setvcp calls; monitors drop commands
// that arrive too quickly on the I2C bus.
const DefaultDDCWriteInterval = 200 * time.Millisecond

// Runner executes ddcutil and returns its stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// ExecRunner runs the ddcutil binary.
type ExecRunner struct {
	Binary string
}

func (r ExecRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	bin := r.Binary
	if bin == "" {
		bin = "ddcutil"
	}
	out, err := exec.CommandContext(ctx, bin, args...).Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("%s %s: %w: %s", bin, strings.Join(args, " "), err, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("%s %s: %w", bin, strings.Join(args, " "), err)
	}
	return out, nil
}

// DDCUtil controls an external monitor over DDC/CI, addressed by ddcutil's
// display number.
type DDCUtil struct {
	name    string
	display int
	runner  Runner
	limiter *rate.Limiter
	max     int
	closed  bool
}

// OpenDDCUtil queries the display once to learn its maximum brightness.
func OpenDDCUtil(ctx context.Context, name string, display int, runner Runner, writeInterval time.Duration) (*DDCUtil, error) {
	if runner == nil {
		runner = ExecRunner{}
	}
	if writeInterval <= 0 {
		writeInterval = DefaultDDCWriteInterval
	}

	d := &DDCUtil{
		name:    name,
		display: display,
		runner:  runner,
		limiter: rate.NewLimiter(rate.Every(writeInterval), 1),
	}

	_, max, err := d.read(ctx)
	if err != nil {
		return nil, err
	}
	if max < MinRaw {
		return nil, fmt.Errorf("display %d reports invalid max brightness %d", display, max)
	}
	d.max = max

	log.Info().
		Str("device", name).
		Int("display", display).
		Int("max", max).
		Msg("Opened DDC/CI display")

	return d, nil
}

func (d *DDCUtil) Name() string { return d.name }
func (d *DDCUtil) Kind() Kind   { return KindDDCUtil }
func (d *DDCUtil) Min() int     { return MinRaw }
func (d *DDCUtil) Max() int     { return d.max }

func (d *DDCUtil) Get(ctx context.Context) (int, error) {
	if d.closed {
		return 0, ErrClosed
	}
	cur, _, err := d.read(ctx)
	return cur, err
}

func (d *DDCUtil) Set(ctx context.Context, value int) error {
	if d.closed {
		return ErrClosed
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	value = Clamp(value, d.max)
	_, err := d.runner.Run(ctx, "--display", strconv.Itoa(d.display), "setvcp", vcpBrightness, strconv.Itoa(value))
	return err
}

func (d *DDCUtil) Close() error {
	d.closed = true
	return nil
}

func (d *DDCUtil) read(ctx context.Context) (cur, max int, err error) {
	out, err := d.runner.Run(ctx, "--display", strconv.Itoa(d.display), "--brief", "getvcp", vcpBrightness)
	if err != nil {
		return 0, 0, err
	}
	return ParseGetVCP(string(out))
}

// ParseGetVCP parses `ddcutil --brief getvcp 10` output, e.g. "VCP 10 C 50 100".
func ParseGetVCP(out string) (cur, max int, err error) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "VCP" || !strings.EqualFold(fields[1], vcpBrightness) {
			continue
		}
		if fields[2] != "C" {
			return 0, 0, fmt.Errorf("unexpected VCP type %q", fields[2])
		}
		cur, err = strconv.Atoi(fields[3])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid current value %q", fields[3])
		}
		max, err = strconv.Atoi(fields[4])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid max value %q", fields[4])
		}
		return cur, max, nil
	}
	return 0, 0, fmt.Errorf("no brightness VCP line in ddcutil output %q", strings.TrimSpace(out))
}
