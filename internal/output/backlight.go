package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"
)

// DefaultBacklightBase is where the kernel exposes panel backlights.
const DefaultBacklightBase = "/sys/class/backlight"

// Backlight is a panel backlight under /sys/class/backlight.
type Backlight struct {
	*sysfsDevice
}

// OpenBacklight opens the backlight at path. An empty path picks the first
// device under DefaultBacklightBase.
func OpenBacklight(name, path string) (*Backlight, error) {
	if path == "" {
		found, err := discoverBacklight(DefaultBacklightBase)
		if err != nil {
			return nil, err
		}
		log.Info().Str("device", name).Str("path", found).Msg("Discovered backlight device")
		path = found
	}

	dev, err := openSysfs(name, KindBacklight, path)
	if err != nil {
		return nil, err
	}
	return &Backlight{dev}, nil
}

// discoverBacklight returns the first subdirectory of base that has both
// brightness files.
func discoverBacklight(base string) (string, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", fmt.Errorf("failed to open backlight base dir %s: %w", base, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name()[0] == '.' {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, n := range names {
		dir := filepath.Join(base, n)
		if _, err := os.Stat(filepath.Join(dir, "max_brightness")); err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, "brightness")); err != nil {
			continue
		}
		return dir, nil
	}
	return "", fmt.Errorf("no backlight device found in %s", base)
}
