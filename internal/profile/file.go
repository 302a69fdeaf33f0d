package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lumad/internal/quantize"
)

// SchemaVersion is bumped whenever the snapshot layout changes.
const SchemaVersion = 1

const fileExt = ".json"

// LoadWarning explains why a snapshot was discarded. Load returns it alongside
// a usable empty profile; it is never fatal.
type LoadWarning struct {
	Path   string
	Reason string
	Err    error
}

func (w *LoadWarning) Error() string {
	if w.Err != nil {
		return fmt.Sprintf("profile %s: %s: %v", w.Path, w.Reason, w.Err)
	}
	return fmt.Sprintf("profile %s: %s", w.Path, w.Reason)
}

func (w *LoadWarning) Unwrap() error {
	return w.Err
}

// snapshot is the on-disk form of a Profile.
type snapshot struct {
	Version int              `json:"version"`
	Device  string           `json:"device"`
	Axes    string           `json:"axes"`
	Min     float64          `json:"min"`
	Max     float64          `json:"max"`
	Entries map[string]Entry `json:"entries"`
}

// FileStore persists one snapshot file per device in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir. The directory is created on first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the directory snapshots live in.
func (s *FileStore) Dir() string {
	return s.dir
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName returns the snapshot file name for a device.
func FileName(device string) string {
	name := unsafeChars.ReplaceAllString(device, "_")
	name = strings.Trim(name, ".")
	if name == "" {
		name = "_"
	}
	return name + fileExt
}

// Path returns the snapshot path for a device.
func (s *FileStore) Path(device string) string {
	return filepath.Join(s.dir, FileName(device))
}

// Load reads the snapshot for a device into a fresh profile built from the
// given layout. Any problem yields an empty profile and a *LoadWarning; a
// missing file is not a warning.
func (s *FileStore) Load(device, axes string, min, max float64, params Params) (*Profile, error) {
	p := New(device, axes, min, max, params)
	path := s.Path(device)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, &LoadWarning{Path: path, Reason: "unreadable", Err: err}
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return p, &LoadWarning{Path: path, Reason: "corrupt", Err: err}
	}
	if snap.Version != SchemaVersion {
		return p, &LoadWarning{Path: path, Reason: fmt.Sprintf("schema version %d, want %d", snap.Version, SchemaVersion)}
	}
	if snap.Axes != axes {
		return p, &LoadWarning{Path: path, Reason: fmt.Sprintf("bucket layout %q, want %q", snap.Axes, axes)}
	}

	for k, e := range snap.Entries {
		key, err := quantize.ParseStateKey(k)
		if err != nil {
			return New(device, axes, min, max, params), &LoadWarning{Path: path, Reason: "corrupt", Err: err}
		}
		e.Key = key
		p.put(e)
	}

	log.Debug().
		Str("device", device).
		Str("path", path).
		Int("entries", p.Len()).
		Msg("Profile loaded")

	return p, nil
}

// Save writes a complete snapshot of the profile. The file is written to a
// temporary sibling, synced, then renamed over the previous snapshot, so a
// reader sees either the old or the new table, never a mix.
func (s *FileStore) Save(p *Profile) error {
	snap := snapshot{
		Version: SchemaVersion,
		Device:  p.Device,
		Axes:    p.Axes,
		Min:     p.Min,
		Max:     p.Max,
		Entries: make(map[string]Entry, len(p.entries)),
	}
	for k, e := range p.entries {
		snap.Entries[k] = *e
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create profile dir: %w", err)
	}

	path := s.Path(p.Device)
	tmp, err := os.CreateTemp(s.dir, "."+FileName(p.Device)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close profile: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace profile: %w", err)
	}

	return nil
}

// Remove deletes the snapshot for a device. It reports whether a file existed.
func (s *FileStore) Remove(device string) (bool, error) {
	err := os.Remove(s.Path(device))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Summary describes a snapshot file without loading it into a profile.
type Summary struct {
	Device  string
	Path    string
	Axes    string
	Entries int
	Err     error
}

// List summarizes every snapshot in the store directory.
func (s *FileStore) List() ([]Summary, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+fileExt))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	out := make([]Summary, 0, len(matches))
	for _, path := range matches {
		sum := Summary{Path: path, Device: strings.TrimSuffix(filepath.Base(path), fileExt)}
		snap, err := readSnapshot(path)
		if err != nil {
			sum.Err = err
		} else {
			if snap.Device != "" {
				sum.Device = snap.Device
			}
			sum.Axes = snap.Axes
			sum.Entries = len(snap.Entries)
		}
		out = append(out, sum)
	}
	return out, nil
}

// Inspect loads the raw snapshot for a device regardless of bucket layout.
// Used by tooling that only displays a profile.
func (s *FileStore) Inspect(device string) (*Profile, error) {
	snap, err := readSnapshot(s.Path(device))
	if err != nil {
		return nil, err
	}
	p := New(snap.Device, snap.Axes, snap.Min, snap.Max, DefaultParams())
	for k, e := range snap.Entries {
		key, err := quantize.ParseStateKey(k)
		if err != nil {
			return nil, err
		}
		e.Key = key
		p.put(e)
	}
	return p, nil
}

func readSnapshot(path string) (*snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
