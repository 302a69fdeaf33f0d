package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func fakeSysfs(t *testing.T, cur, max string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "brightness"), []byte(cur+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "max_brightness"), []byte(max+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name     string
		value    int
		max      int
		expected int
	}{
		{name: "zero", value: 0, max: 100, expected: 1},
		{name: "negative", value: -10, max: 100, expected: 1},
		{name: "in_range", value: 42, max: 100, expected: 42},
		{name: "max", value: 100, max: 100, expected: 100},
		{name: "over_max", value: 150, max: 100, expected: 100},
		{name: "bad_max", value: 5, max: 0, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clamp(tt.value, tt.max); got != tt.expected {
				t.Errorf("Clamp(%d, %d) = %d, want %d", tt.value, tt.max, got, tt.expected)
			}
		})
	}
}

func TestBacklightGetSet(t *testing.T) {
	dir := fakeSysfs(t, "120", "255")
	bl, err := OpenBacklight("eDP-1", dir)
	if err != nil {
		t.Fatalf("OpenBacklight: %v", err)
	}
	defer bl.Close()

	ctx := context.Background()
	if bl.Max() != 255 || bl.Min() != 1 {
		t.Fatalf("range = [%d, %d], want [1, 255]", bl.Min(), bl.Max())
	}

	v, err := bl.Get(ctx)
	if err != nil || v != 120 {
		t.Fatalf("Get() = %d, %v, want 120", v, err)
	}

	for _, tc := range []struct{ in, want int }{{7, 7}, {0, 1}, {999, 255}} {
		if err := bl.Set(ctx, tc.in); err != nil {
			t.Fatalf("Set(%d): %v", tc.in, err)
		}
		got, err := bl.Get(ctx)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != tc.want {
			t.Errorf("after Set(%d) Get() = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestBacklightClosed(t *testing.T) {
	bl, err := OpenBacklight("eDP-1", fakeSysfs(t, "1", "10"))
	if err != nil {
		t.Fatalf("OpenBacklight: %v", err)
	}
	bl.Close()
	if _, err := bl.Get(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() after Close error = %v, want ErrClosed", err)
	}
}

func TestOpenBacklightErrors(t *testing.T) {
	if _, err := OpenBacklight("x", t.TempDir()); err == nil {
		t.Error("expected error for dir without brightness files")
	}
	if _, err := OpenBacklight("x", fakeSysfs(t, "1", "0")); err == nil {
		t.Error("expected error for zero max_brightness")
	}
}

func TestDiscoverBacklight(t *testing.T) {
	base := t.TempDir()
	os.Mkdir(filepath.Join(base, "empty"), 0o755)
	good := filepath.Join(base, "intel_backlight")
	os.Mkdir(good, 0o755)
	os.WriteFile(filepath.Join(good, "brightness"), []byte("5"), 0o644)
	os.WriteFile(filepath.Join(good, "max_brightness"), []byte("10"), 0o644)

	got, err := discoverBacklight(base)
	if err != nil {
		t.Fatalf("discoverBacklight: %v", err)
	}
	if got != good {
		t.Errorf("discoverBacklight() = %q, want %q", got, good)
	}
}

func TestKeyboard(t *testing.T) {
	kbd, err := OpenKeyboard("kbd", fakeSysfs(t, "0", "3"))
	if err != nil {
		t.Fatalf("OpenKeyboard: %v", err)
	}
	defer kbd.Close()
	if kbd.Kind() != KindKeyboard {
		t.Errorf("Kind() = %v, want keyboard", kbd.Kind())
	}
	if err := kbd.Set(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	if v, _ := kbd.Get(context.Background()); v != 3 {
		t.Errorf("Get() = %d, want 3", v)
	}
}

func TestParseGetVCP(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		cur     int
		max     int
		wantErr bool
	}{
		{name: "brief", out: "VCP 10 C 50 100\n", cur: 50, max: 100},
		{name: "with_noise", out: "Display 1\nVCP 10 C 7 80\n", cur: 7, max: 80},
		{name: "non_continuous", out: "VCP 10 SNC x01\n", wantErr: true},
		{name: "empty", out: "", wantErr: true},
		{name: "garbage_value", out: "VCP 10 C abc 100", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur, max, err := ParseGetVCP(tt.out)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseGetVCP(%q) expected error", tt.out)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseGetVCP(%q): %v", tt.out, err)
			}
			if cur != tt.cur || max != tt.max {
				t.Errorf("ParseGetVCP() = %d, %d, want %d, %d", cur, max, tt.cur, tt.max)
			}
		})
	}
}

type fakeDDC struct {
	value int
	max   int
	calls [][]string
}

func (f *fakeDDC) Run(ctx context.Context, args ...string) ([]byte, error) {
	f.calls = append(f.calls, args)
	joined := strings.Join(args, " ")
	switch {
	case strings.Contains(joined, "getvcp"):
		return []byte(fmt.Sprintf("VCP 10 C %d %d\n", f.value, f.max)), nil
	case strings.Contains(joined, "setvcp"):
		n, err := strconv.Atoi(args[len(args)-1])
		if err != nil {
			return nil, err
		}
		f.value = n
		return nil, nil
	}
	return nil, errors.New("unexpected command")
}

func TestDDCUtil(t *testing.T) {
	fake := &fakeDDC{value: 30, max: 100}
	ctx := context.Background()

	d, err := OpenDDCUtil(ctx, "dell", 2, fake, time.Millisecond)
	if err != nil {
		t.Fatalf("OpenDDCUtil: %v", err)
	}
	if d.Max() != 100 {
		t.Errorf("Max() = %d, want 100", d.Max())
	}

	if err := d.Set(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if v, _ := d.Get(ctx); v != 1 {
		t.Errorf("Get() after Set(0) = %d, want 1", v)
	}

	last := fake.calls[len(fake.calls)-2]
	want := []string{"--display", "2", "setvcp", "10", "1"}
	if strings.Join(last, " ") != strings.Join(want, " ") {
		t.Errorf("setvcp args = %v, want %v", last, want)
	}

	d.Close()
	if err := d.Set(ctx, 5); !errors.Is(err, ErrClosed) {
		t.Errorf("Set() after Close error = %v, want ErrClosed", err)
	}
}
