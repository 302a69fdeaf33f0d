package als

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultIIOBase is where the kernel lists industrial I/O devices.
const DefaultIIOBase = "/sys/bus/iio/devices"

// IIO reads an ambient light sensor exposed through the kernel IIO subsystem.
// lux = (raw + offset) * scale, with scale and offset optional.
type IIO struct {
	dir     string
	rawFile string
	scale   float64
	offset  float64
}

// OpenIIO opens the sensor at path. path may be a sensor directory or an IIO
// base directory, in which case the first device named "als" is used, falling
// back to the first device with an illuminance channel.
func OpenIIO(path string) (*IIO, error) {
	if path == "" {
		path = DefaultIIOBase
	}

	dir := path
	if illuminanceFile(dir) == "" {
		found, err := discoverIIO(path)
		if err != nil {
			return nil, err
		}
		dir = found
	}

	s := &IIO{
		dir:     dir,
		rawFile: illuminanceFile(dir),
		scale:   1,
	}
	if v, err := readFloat(filepath.Join(dir, "in_illuminance_scale")); err == nil {
		s.scale = v
	}
	if v, err := readFloat(filepath.Join(dir, "in_illuminance_offset")); err == nil {
		s.offset = v
	}

	log.Info().
		Str("path", dir).
		Str("channel", filepath.Base(s.rawFile)).
		Float64("scale", s.scale).
		Float64("offset", s.offset).
		Msg("Opened IIO light sensor")

	return s, nil
}

func (s *IIO) Lux(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	raw, err := readFloat(s.rawFile)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", s.rawFile, err)
	}
	lux := (raw + s.offset) * s.scale
	if lux < 0 {
		lux = 0
	}
	return lux, nil
}

func illuminanceFile(dir string) string {
	for _, name := range []string{"in_illuminance_raw", "in_illuminance_input"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func discoverIIO(base string) (string, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", fmt.Errorf("failed to open IIO base dir %s: %w", base, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var fallback string
	for _, n := range names {
		dir := filepath.Join(base, n)
		if illuminanceFile(dir) == "" {
			continue
		}
		name, _ := os.ReadFile(filepath.Join(dir, "name"))
		if strings.TrimSpace(string(name)) == "als" {
			return dir, nil
		}
		if fallback == "" {
			fallback = dir
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("no ambient light sensor found in %s", base)
}

func readFloat(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
}
