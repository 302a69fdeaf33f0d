package output

// Keyboard is a keyboard backlight LED, e.g. /sys/class/leds/tpacpi::kbd_backlight.
// It usually has only a handful of levels.
type Keyboard struct {
	*sysfsDevice
}

// OpenKeyboard opens the keyboard backlight at path.
func OpenKeyboard(name, path string) (*Keyboard, error) {
	dev, err := openSysfs(name, KindKeyboard, path)
	if err != nil {
		return nil, err
	}
	return &Keyboard{dev}, nil
}
