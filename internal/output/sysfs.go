package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// sysfsDevice drives a kernel brightness class directory containing
// `brightness` and `max_brightness` (backlight and leds classes share it).
type sysfsDevice struct {
	name string
	kind Kind
	dir  string
	file *os.File
	max  int
}

func openSysfs(name string, kind Kind, dir string) (*sysfsDevice, error) {
	max, err := readInt(filepath.Join(dir, "max_brightness"))
	if err != nil {
		return nil, fmt.Errorf("failed to read max_brightness: %w", err)
	}
	if max < MinRaw {
		return nil, fmt.Errorf("invalid max_brightness %d in %s", max, dir)
	}

	f, err := os.OpenFile(filepath.Join(dir, "brightness"), os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open brightness: %w", err)
	}

	log.Info().
		Str("device", name).
		Str("kind", string(kind)).
		Str("path", dir).
		Int("max", max).
		Msg("Opened sysfs brightness device")

	return &sysfsDevice{name: name, kind: kind, dir: dir, file: f, max: max}, nil
}

func (d *sysfsDevice) Name() string { return d.name }
func (d *sysfsDevice) Kind() Kind   { return d.kind }
func (d *sysfsDevice) Min() int     { return MinRaw }
func (d *sysfsDevice) Max() int     { return d.max }

// Get re-reads the brightness file from offset zero.
func (d *sysfsDevice) Get(ctx context.Context) (int, error) {
	if d.file == nil {
		return 0, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	buf := make([]byte, 32)
	n, err := d.file.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return 0, fmt.Errorf("failed to read brightness: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0, fmt.Errorf("failed to parse brightness: %w", err)
	}
	return v, nil
}

// Set writes a clamped value at offset zero.
func (d *sysfsDevice) Set(ctx context.Context, value int) error {
	if d.file == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	value = Clamp(value, d.max)
	if err := d.file.Truncate(0); err != nil && !isSysfs(d.dir) {
		return fmt.Errorf("failed to truncate brightness: %w", err)
	}
	if _, err := d.file.WriteAt([]byte(strconv.Itoa(value)), 0); err != nil {
		return fmt.Errorf("failed to write brightness: %w", err)
	}
	return nil
}

func (d *sysfsDevice) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

// isSysfs reports whether dir lives under /sys, where truncate is meaningless
// and may fail; regular files (tests, fakes) need it.
func isSysfs(dir string) bool {
	return strings.HasPrefix(filepath.Clean(dir), "/sys/")
}

func readInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
