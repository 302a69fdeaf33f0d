// Package als provides ambient light sources. Every Source is safe for
// concurrent use; several device loops may share one.
package als

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoReading means the source has not produced a value yet.
	ErrNoReading = errors.New("no ambient light reading yet")
	// ErrStale means the last value is older than the configured max age.
	ErrStale = errors.New("ambient light reading is stale")
)

// Source yields the current ambient illuminance in lux.
type Source interface {
	Lux(ctx context.Context) (float64, error)
}

// Backend names accepted by config.
const (
	BackendIIO  = "iio"
	BackendTime = "time"
	BackendNone = "none"
	BackendMQTT = "mqtt"
	BackendLua  = "lua"
	BackendSun  = "sun"
)

// Backends lists every supported backend name.
var Backends = []string{BackendIIO, BackendTime, BackendNone, BackendMQTT, BackendLua, BackendSun}

// ValidBackend reports whether name is a known backend.
func ValidBackend(name string) bool {
	for _, b := range Backends {
		if b == name {
			return true
		}
	}
	return false
}

// Constant always reports the same value. It backs the "none" backend, for
// machines without a light sensor where only screen contents vary.
type Constant float64

func (c Constant) Lux(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return float64(c), nil
}

// UnknownBackendError is returned when config names a backend that does not exist.
func UnknownBackendError(name string) error {
	return fmt.Errorf("unknown als backend %q (want one of %s)", name, strings.Join(Backends, ", "))
}
