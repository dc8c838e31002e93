package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	appName   = "dialdeck"
	storeFile = "dials.yaml"

	currentVersion = 1
)

// Store is the loaded metadata file plus the path it round-trips through.
// All methods are safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
	data *File
}

// DefaultPath returns the OS-appropriate location of the store file:
//   - Linux: $XDG_CONFIG_HOME/dialdeck or $HOME/.config/dialdeck
//   - macOS: $HOME/.config/dialdeck
//   - Windows: %LOCALAPPDATA%\dialdeck
func DefaultPath() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
			}
			baseDir = filepath.Join(userProfile, "AppData", "Local", appName)
		} else {
			baseDir = filepath.Join(localAppData, appName)
		}

	default:
		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome != "" {
			baseDir = filepath.Join(xdgConfigHome, appName)
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			baseDir = filepath.Join(homeDir, ".config", appName)
		}
	}

	return filepath.Join(baseDir, storeFile), nil
}

// Load reads the store at path, or returns an empty store if the file does
// not exist yet. Pass the result of DefaultPath for the standard location.
func Load(path string) (*Store, error) {
	s := &Store{
		path: path,
		data: &File{Version: currentVersion, Dials: make(map[string]*DialMeta)},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dial store: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse dial store: %w", err)
	}
	if file.Version != currentVersion {
		return nil, fmt.Errorf("unsupported dial store version: %d (expected %d)", file.Version, currentVersion)
	}
	if file.Dials == nil {
		file.Dials = make(map[string]*DialMeta)
	}

	s.data = &file
	return s, nil
}

// Save writes the store atomically: temp file then rename.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	raw, err := yaml.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("failed to marshal dial store: %w", err)
	}

	header := []byte("# Dialdeck dial metadata.\n# Entries are keyed by each dial's factory UID; runtime indices are\n# volatile and never stored here.\n\n")
	raw = append(header, raw...)

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0600); err != nil {
		return fmt.Errorf("failed to write temporary dial store: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save dial store: %w", err)
	}

	return nil
}

// Ensure returns the metadata for a UID, creating a default entry (and
// persisting it) the first time the dial is ever seen. LastSeen is bumped
// on every call. The returned value is a copy.
func (s *Store) Ensure(uid string) (DialMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	meta, ok := s.data.Dials[uid]
	if !ok {
		meta = defaultDialMeta(now)
		s.data.Dials[uid] = meta
	}
	meta.LastSeen = now

	if err := s.saveLocked(); err != nil {
		return DialMeta{}, err
	}
	return copyMeta(meta), nil
}

// Get returns the metadata for a UID, if present
func (s *Store) Get(uid string) (DialMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.data.Dials[uid]
	if !ok {
		return DialMeta{}, false
	}
	return copyMeta(meta), true
}

// SetName updates and persists a dial's display name
func (s *Store) SetName(uid, name string) error {
	return s.update(uid, func(m *DialMeta) { m.Name = name })
}

// SetDialEasing updates and persists a dial's needle easing
func (s *Store) SetDialEasing(uid string, easing EasingMeta) error {
	return s.update(uid, func(m *DialMeta) { m.DialEasing = &easing })
}

// SetBacklightEasing updates and persists a dial's backlight easing
func (s *Store) SetBacklightEasing(uid string, easing EasingMeta) error {
	return s.update(uid, func(m *DialMeta) { m.BacklightEasing = &easing })
}

// SetCalibration updates and persists a dial's needle calibration
func (s *Store) SetCalibration(uid string, cal CalibrationMeta) error {
	return s.update(uid, func(m *DialMeta) { m.Calibration = &cal })
}

func (s *Store) update(uid string, apply func(*DialMeta)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.data.Dials[uid]
	if !ok {
		meta = defaultDialMeta(time.Now())
		s.data.Dials[uid] = meta
	}
	apply(meta)

	return s.saveLocked()
}

func copyMeta(m *DialMeta) DialMeta {
	out := *m
	if m.DialEasing != nil {
		e := *m.DialEasing
		out.DialEasing = &e
	}
	if m.BacklightEasing != nil {
		e := *m.BacklightEasing
		out.BacklightEasing = &e
	}
	if m.Calibration != nil {
		c := *m.Calibration
		out.Calibration = &c
	}
	return out
}
