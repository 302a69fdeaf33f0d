// Package output provides the brightness-capable devices the daemon drives.
//
// Every device kind implements Sink. Values are raw device units; there is no
// shared scale between kinds. A Sink is owned by exactly one device loop and
// is not safe for concurrent use unless an implementation says otherwise.
package output

import (
	"context"
	"errors"
)

// Kind identifies a device implementation.
type Kind string

// Device kinds
const (
	KindBacklight Kind = "backlight"
	KindDDCUtil   Kind = "ddcutil"
	KindKeyboard  Kind = "keyboard"
)

// MinRaw is the lowest value ever written. Zero would switch some panels off.
const MinRaw = 1

// ErrClosed is returned by operations on a closed sink.
var ErrClosed = errors.New("output closed")

// Sink reads and writes the raw brightness of one device.
type Sink interface {
	Name() string
	Kind() Kind

	// Get returns the current raw brightness.
	Get(ctx context.Context) (int, error)

	// Set writes a raw brightness. Implementations clamp to [Min, Max].
	Set(ctx context.Context, value int) error

	// Min and Max bound the values Set will write.
	Min() int
	Max() int

	Close() error
}

// Clamp limits v to [MinRaw, max]. A non-positive max leaves only MinRaw.
func Clamp(v, max int) int {
	if v < MinRaw {
		return MinRaw
	}
	if max < MinRaw {
		return MinRaw
	}
	if v > max {
		return max
	}
	return v
}
