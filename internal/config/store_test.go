package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Load(filepath.Join(t.TempDir(), "dials.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return s
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("DefaultPath() error = %v", err)
	}

	if !strings.Contains(path, appName) {
		t.Errorf("DefaultPath() = %v, should contain %q", path, appName)
	}
	if filepath.Base(path) != storeFile {
		t.Errorf("DefaultPath() should end with %q, got %v", storeFile, path)
	}
}

func TestLoadMissingFileReturnsEmptyStore(t *testing.T) {
	s := tempStore(t)

	if _, ok := s.Get("AABBCCDDEEFF001122334455"); ok {
		t.Error("empty store returned metadata for unseen UID")
	}
}

func TestEnsureCreatesDefaults(t *testing.T) {
	s := tempStore(t)
	const uid = "AABBCCDDEEFF001122334455"

	meta, err := s.Ensure(uid)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	if meta.DialEasing == nil || meta.DialEasing.Step != DefaultDialEasingStep {
		t.Errorf("dial easing = %+v, want default step %d", meta.DialEasing, DefaultDialEasingStep)
	}
	if meta.BacklightEasing == nil || meta.BacklightEasing.PeriodMs != DefaultLightEasingPeriodMs {
		t.Errorf("backlight easing = %+v, want default period %d", meta.BacklightEasing, DefaultLightEasingPeriodMs)
	}
	if meta.Calibration == nil || meta.Calibration.FullScale != DefaultCalibrationFullScale {
		t.Errorf("calibration = %+v, want factory full scale %d", meta.Calibration, DefaultCalibrationFullScale)
	}
	if meta.FirstSeen.IsZero() || meta.LastSeen.IsZero() {
		t.Error("Ensure() left seen timestamps zero")
	}

	// Mutating the returned copy must not touch the store
	meta.Name = "scratch"
	if got, _ := s.Get(uid); got.Name == "scratch" {
		t.Error("Ensure() returned a live reference, want a copy")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dials.yaml")
	const uid = "00112233445566778899AABB"

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := s.Ensure(uid); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if err := s.SetName(uid, "CPU Load"); err != nil {
		t.Fatalf("SetName() error = %v", err)
	}
	if err := s.SetDialEasing(uid, EasingMeta{Step: 2, PeriodMs: 100}); err != nil {
		t.Fatalf("SetDialEasing() error = %v", err)
	}

	// A fresh load must see everything, keyed by UID
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}

	meta, ok := reloaded.Get(uid)
	if !ok {
		t.Fatal("reloaded store lost the dial entry")
	}
	if meta.Name != "CPU Load" {
		t.Errorf("name = %q, want %q", meta.Name, "CPU Load")
	}
	if meta.DialEasing == nil || meta.DialEasing.Step != 2 || meta.DialEasing.PeriodMs != 100 {
		t.Errorf("dial easing = %+v, want step 2 period 100", meta.DialEasing)
	}
}

func TestLoadRejectsUnsupportedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dials.yaml")
	if err := os.WriteFile(path, []byte("version: 99\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() accepted unsupported version")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dials.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() accepted malformed YAML")
	}
}
