// Package config persists per-dial metadata across power cycles.
//
// Runtime indices are volatile: every rescan or power cycle may hand a dial
// a different index. The only durable identity is the factory-programmed
// UID, so everything a user configures about a dial - its display name,
// easing behaviour, needle calibration - is stored here keyed by UID and
// re-attached during identification, whatever index the dial comes back on.
//
// The store is a single versioned YAML file in the OS-appropriate config
// directory (XDG on Linux, ~/.config on macOS, %LOCALAPPDATA% on Windows).
// Writes are atomic: a temp file is written and renamed over the old one.
package config
